package reader

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IRCAD/sight-sub074/data"
	"github.com/IRCAD/sight-sub074/errors"
	"github.com/IRCAD/sight-sub074/metric"
	"github.com/IRCAD/sight-sub074/service"
)

type published struct {
	key string
	obj data.Object
}

func newReader(t *testing.T, reg *metric.MetricsRegistry, out *[]published) *Reader {
	t.Helper()
	srv, err := New(&service.Dependencies{
		UID:             "reader",
		Type:            TypeName,
		MetricsRegistry: reg,
		Publish: func(key string, obj data.Object) error {
			*out = append(*out, published{key, obj})
			return nil
		},
	})
	require.NoError(t, err)
	return srv.(*Reader)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "Image", cfg.ObjectType)
	assert.True(t, cfg.ReadOnUpdate)
	assert.Empty(t, cfg.Source)
}

func TestReader_CreateRequiresSource(t *testing.T) {
	var out []published
	r := newReader(t, metric.NewMetricsRegistry(), &out)

	err := r.Create(json.RawMessage(`{"object_type": "Mesh"}`))
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
	assert.Equal(t, service.StatusIdle, r.Status())
}

func TestReader_Lifecycle(t *testing.T) {
	source := filepath.Join(t.TempDir(), "scan.raw")
	require.NoError(t, os.WriteFile(source, []byte("0123456789"), 0o644))

	reg := metric.NewMetricsRegistry()
	var out []published
	r := newReader(t, reg, &out)

	cfg, err := json.Marshal(map[string]any{"source": source})
	require.NoError(t, err)
	require.NoError(t, r.Create(cfg))
	assert.Equal(t, []string{"reads"}, reg.Metrics("reader"))

	ctx := context.Background()
	require.NoError(t, r.Start(ctx))
	require.NoError(t, r.Update(ctx))
	require.NoError(t, r.Update(ctx))

	// the object is published once and modified in place afterwards
	require.Len(t, out, 1)
	assert.Equal(t, KeyImage, out[0].key)
	image, ok := r.Image()
	require.True(t, ok)
	assert.Same(t, image, out[0].obj)
	assert.Equal(t, "Image", image.TypeName())
	size, _ := image.Get("size")
	assert.EqualValues(t, 10, size)
	assert.Equal(t, 2.0, promtestutil.ToFloat64(r.reads))

	require.NoError(t, r.Stop(0))
	require.NoError(t, r.Destroy())
	assert.Empty(t, reg.Metrics("reader"))
}

func TestReader_ReadMissingSource(t *testing.T) {
	reg := metric.NewMetricsRegistry()
	var out []published
	r := newReader(t, reg, &out)

	cfg, err := json.Marshal(map[string]any{"source": filepath.Join(t.TempDir(), "absent"), "read_on_update": false})
	require.NoError(t, err)
	require.NoError(t, r.Create(cfg))
	require.NoError(t, r.Start(context.Background()))

	// read_on_update disabled leaves Update idle
	require.NoError(t, r.Update(context.Background()))
	assert.Empty(t, out)

	err = r.Read(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
	assert.Empty(t, out)
}
