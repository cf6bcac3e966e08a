package service

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IRCAD/sight-sub074/data"
	"github.com/IRCAD/sight-sub074/errors"
)

type echo struct {
	*Base
	started int
}

func newEcho(deps *Dependencies) (Service, error) {
	e := &echo{Base: NewBase(deps)}
	e.AddSignal("done")
	e.AddSlot("update", func(ctx context.Context, _ any) error { return e.Update(ctx) })
	return e, nil
}

func (e *echo) Start(ctx context.Context) error {
	if err := e.Base.Start(ctx); err != nil {
		return err
	}
	e.started++
	return nil
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("Echo", newEcho))

	err := r.Register("Echo", newEcho)
	assert.True(t, errors.IsInvalid(err))
	assert.True(t, errors.IsInvalid(r.Register("", newEcho)))
	assert.True(t, errors.IsInvalid(r.Register("Nil", nil)))

	srv, err := r.New(&Dependencies{UID: "e1", Type: "Echo"})
	require.NoError(t, err)
	assert.Equal(t, "e1", srv.ID())
	assert.Equal(t, "Echo", srv.Type())

	_, err = r.New(&Dependencies{UID: "x", Type: "Missing"})
	assert.ErrorIs(t, err, errors.ErrUnknownImplementation)
	assert.True(t, errors.IsFatal(err))

	require.NoError(t, r.Register("Broken", func(*Dependencies) (Service, error) { return nil, fmt.Errorf("boom") }))
	_, err = r.New(&Dependencies{UID: "b", Type: "Broken"})
	assert.True(t, errors.IsFatal(err))

	assert.Equal(t, []string{"Broken", "Echo"}, r.Types())
}

func TestBase_Lifecycle(t *testing.T) {
	srv, err := newEcho(&Dependencies{UID: "e1", Type: "Echo"})
	require.NoError(t, err)
	e := srv.(*echo)
	ctx := context.Background()

	assert.Equal(t, StatusIdle, e.Status())
	assert.ErrorIs(t, e.Start(ctx), errors.ErrInvalidState)

	require.NoError(t, e.Create(json.RawMessage(`{"a":1}`)))
	assert.JSONEq(t, `{"a":1}`, string(e.Config()))
	assert.ErrorIs(t, e.Create(nil), errors.ErrInvalidState)
	assert.True(t, e.Health().IsDegraded())

	require.NoError(t, e.Start(ctx))
	assert.ErrorIs(t, e.Start(ctx), errors.ErrAlreadyStarted)
	require.NoError(t, e.Update(ctx))
	assert.True(t, e.Health().IsHealthy())
	assert.ErrorIs(t, e.Destroy(), errors.ErrInvalidState)

	require.NoError(t, e.Stop(time.Second))
	assert.ErrorIs(t, e.Update(ctx), errors.ErrNotStarted)
	assert.ErrorIs(t, e.Stop(time.Second), errors.ErrNotStarted)

	require.NoError(t, e.Start(ctx), "a stopped service may restart")
	require.NoError(t, e.Stop(time.Second))
	require.NoError(t, e.Destroy())
	require.NoError(t, e.Destroy())
	assert.Equal(t, StatusDestroyed, e.Status())
	assert.Equal(t, 2, e.started)
}

func TestBase_Bindings(t *testing.T) {
	b := NewBase(&Dependencies{UID: "s", Type: "T"})
	img := data.NewGeneric("Image")

	b.SetInput("image", img)
	got, ok := b.Input("image")
	require.True(t, ok)
	assert.Same(t, img, got)

	b.SetInOut("mask", img)
	_, ok = b.Object(data.AccessInOut, "mask")
	assert.True(t, ok)

	b.SetInput("image", nil)
	_, ok = b.Input("image")
	assert.False(t, ok)
}

func TestBase_Publish(t *testing.T) {
	published := map[string]data.Object{}
	b := NewBase(&Dependencies{UID: "reader", Type: "T", Publish: func(key string, obj data.Object) error {
		published[key] = obj
		return nil
	}})
	img := data.NewGeneric("Image")
	require.NoError(t, b.Publish("image", img))
	assert.Same(t, img, published["image"])
	got, ok := b.Object(data.AccessOut, "image")
	require.True(t, ok)
	assert.Same(t, img, got)

	orphan := NewBase(&Dependencies{UID: "orphan"})
	assert.Error(t, orphan.Publish("image", img))
}

func TestBase_HealthReportsLastError(t *testing.T) {
	b := NewBase(&Dependencies{UID: "s"})
	require.NoError(t, b.Create(nil))
	require.NoError(t, b.Start(context.Background()))
	b.RecordError(fmt.Errorf("read /data/img.nii failed"))
	h := b.Health()
	assert.True(t, h.IsUnhealthy())
	assert.Contains(t, h.Message, "[PATH]")
	b.RecordError(nil)
	assert.True(t, b.Health().IsHealthy())
}
