package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IRCAD/sight-sub074/errors"
	"github.com/IRCAD/sight-sub074/metric"
	"github.com/IRCAD/sight-sub074/service"
)

func newLogger(t *testing.T, reg *metric.MetricsRegistry, buf *bytes.Buffer) *Logger {
	t.Helper()
	handler := slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	srv, err := New(&service.Dependencies{
		UID:             "logger",
		Type:            TypeName,
		Logger:          slog.New(handler),
		MetricsRegistry: reg,
	})
	require.NoError(t, err)
	return srv.(*Logger)
}

func TestLogger_DefaultConfig(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger(t, metric.NewMetricsRegistry(), &buf)
	require.NoError(t, l.Create(nil))
	assert.Equal(t, slog.LevelInfo, l.level)
	assert.Equal(t, "Received", l.message)
}

func TestLogger_UnknownLevel(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger(t, metric.NewMetricsRegistry(), &buf)

	err := l.Create(json.RawMessage(`{"level": "loud"}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrConfig)
	assert.Equal(t, service.StatusIdle, l.Status())
}

func TestLogger_Lifecycle(t *testing.T) {
	var buf bytes.Buffer
	reg := metric.NewMetricsRegistry()
	l := newLogger(t, reg, &buf)

	require.NoError(t, l.Create(json.RawMessage(`{"level": "warn", "message": "Frame saved"}`)))
	assert.Equal(t, slog.LevelWarn, l.level)
	assert.Equal(t, []string{"entries"}, reg.Metrics("logger"))

	ctx := context.Background()
	slot, ok := l.Slot(SlotLog)
	require.True(t, ok)

	// payloads before Start are dropped
	require.NoError(t, slot.Invoke(ctx, "early"))
	assert.Zero(t, l.Entries())

	require.NoError(t, l.Start(ctx))
	require.NoError(t, slot.Invoke(ctx, 7))
	assert.Equal(t, int64(1), l.Entries())
	assert.Equal(t, 1.0, promtestutil.ToFloat64(l.entries))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, "Frame saved", entry["msg"])
	assert.Equal(t, "logger", entry["service"])
	assert.EqualValues(t, 7, entry["payload"])

	require.NoError(t, l.Stop(0))
	require.NoError(t, l.Destroy())
	assert.Empty(t, reg.Metrics("logger"))
}
