package appmanager

import (
	"context"
	stderrors "errors"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IRCAD/sight-sub074/appconfig"
	"github.com/IRCAD/sight-sub074/data"
	"github.com/IRCAD/sight-sub074/errors"
	"github.com/IRCAD/sight-sub074/metric"
	"github.com/IRCAD/sight-sub074/service"
	"github.com/IRCAD/sight-sub074/testutil"
)

const scenarioApp = `
id: scenario
objects:
  - {uid: img, type: Image}
  - {uid: exportedImg, type: Image, mode: deferred}
services:
  - uid: viewer
    type: Viewer
    in:
      - {key: image, uid: img}
    out:
      - {key: exported, uid: exportedImg}
  - uid: writer
    type: Writer
    in:
      - {key: image, uid: exportedImg}
connections:
  - channel: image-modified
    signal: {uid: img, name: modified}
    slots:
      - {uid: viewer, name: update}
      - {uid: writer, name: update}
`

const lifecycleApp = `
id: lifecycle
services:
  - {uid: a, type: Probe}
  - {uid: b, type: Probe}
  - {uid: c, type: Probe}
`

var errBoom = stderrors.New("boom")

type harness struct {
	rec      *testutil.Recorder
	services *service.Registry
	mesh     *testutil.RecordingMesh
	registry *data.Registry
	configs  *appconfig.Registry
	metrics  *metric.MetricsRegistry
	m        *Manager
}

func newHarness(opts ...Option) *harness {
	rec := testutil.NewRecorder()
	services := service.NewRegistry()
	if err := rec.Register(services, "Reader", "Viewer", "Writer", "Logger", "Probe"); err != nil {
		panic(err)
	}
	h := &harness{
		rec:      rec,
		services: services,
		mesh:     testutil.NewRecordingMesh(),
		registry: data.NewRegistry(),
		configs:  appconfig.NewRegistry(nil),
		metrics:  metric.NewMetricsRegistry(),
	}
	h.m = New(Dependencies{
		Services: services,
		Objects:  data.NewFactory(true),
		Registry: h.registry,
		Mesh:     h.mesh,
		Configs:  h.configs,
		Metrics:  h.metrics,
	}, opts...)
	return h
}

func newConfigured(t *testing.T, raw string, opts ...Option) *harness {
	t.Helper()
	h := newHarness(opts...)
	model, err := appconfig.Build([]byte(raw))
	require.NoError(t, err)
	require.NoError(t, h.m.SetModel(model))
	t.Cleanup(func() { _ = h.m.StopAndDestroy(time.Second) })
	return h
}

func (h *harness) recording(t *testing.T, uid string) *testutil.RecordingService {
	t.Helper()
	s, ok := h.rec.Service(uid)
	require.True(t, ok, "service %s was never built", uid)
	return s
}

func TestManager_Scenario(t *testing.T) {
	ctx := context.Background()
	h := newConfigured(t, scenarioApp)
	m := h.m

	require.NoError(t, m.Create())
	assert.Equal(t, StateCreated, m.State())
	assert.Equal(t, []string{"viewer"}, m.CreatedServices())
	assert.Equal(t, []string{"writer"}, m.DeferredServices())
	assert.Equal(t, 1, m.Proxies().Len())

	require.NoError(t, m.Start(ctx))
	require.NoError(t, m.Update(ctx))

	exported := data.NewGeneric("Image")
	require.NoError(t, m.AddObject(exported, "exportedImg"))

	assert.Equal(t, []string{"viewer", "writer"}, m.CreatedServices())
	assert.Equal(t, []string{"viewer", "writer"}, m.StartedServices())
	assert.Empty(t, m.DeferredServices())
	assert.Equal(t, 2, m.Proxies().Len())
	assert.Equal(t, []string{
		"create:viewer", "start:viewer", "update:viewer",
		"create:writer", "start:writer", "update:writer", "swap:viewer.exported=set",
	}, h.rec.Journal.Entries())

	viewer := h.recording(t, "viewer")
	out, ok := viewer.Object(data.AccessOut, "exported")
	require.True(t, ok)
	assert.Same(t, exported, out)

	img, ok := h.registry.Get("img")
	require.True(t, ok)
	require.NoError(t, img.(*data.Generic).Set(ctx, "level", 3))
	assert.Equal(t, int32(1), viewer.Received.Load())
	assert.Equal(t, int32(1), h.recording(t, "writer").Received.Load())

	h.rec.Journal.Reset()
	require.NoError(t, m.Stop(time.Second))
	assert.Equal(t, []string{"writer", "viewer"}, h.rec.Journal.Phase("stop"))

	require.NoError(t, m.Destroy())
	assert.Equal(t, []string{"writer", "viewer"}, h.rec.Journal.Phase("destroy"))
	assert.Equal(t, StateDestroyed, m.State())
	assert.True(t, h.mesh.Balanced())
	assert.Equal(t, 0, m.Proxies().Len())
	_, ok = h.registry.Get("img")
	assert.False(t, ok, "owned objects are unregistered on destroy")
}

func TestManager_CreateStartOrder(t *testing.T) {
	h := newConfigured(t, lifecycleApp)

	require.NoError(t, h.m.Launch(context.Background()))
	assert.Equal(t, []string{"a", "b", "c"}, h.rec.Journal.Phase("create"))
	assert.Equal(t, []string{"a", "b", "c"}, h.rec.Journal.Phase("start"))
	assert.Equal(t, []string{"a", "b", "c"}, h.rec.Journal.Phase("update"))

	require.NoError(t, h.m.StopAndDestroy(time.Second))
	assert.Equal(t, []string{"c", "b", "a"}, h.rec.Journal.Phase("stop"))
	assert.Equal(t, []string{"c", "b", "a"}, h.rec.Journal.Phase("destroy"))
}

func TestManager_RestartFromStopped(t *testing.T) {
	ctx := context.Background()
	h := newConfigured(t, lifecycleApp)

	require.NoError(t, h.m.Create())
	require.NoError(t, h.m.Start(ctx))
	require.NoError(t, h.m.Stop(time.Second))
	assert.Equal(t, StateStopped, h.m.State())

	h.rec.Journal.Reset()
	require.NoError(t, h.m.Start(ctx))
	assert.Equal(t, []string{"a", "b", "c"}, h.rec.Journal.Phase("start"))
}

func TestManager_StartFailureStopsSequence(t *testing.T) {
	h := newConfigured(t, lifecycleApp)
	h.rec.Fail("start", "b", errBoom)

	require.NoError(t, h.m.Create())
	err := h.m.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errBoom)

	assert.Equal(t, StateStarted, h.m.State())
	assert.Equal(t, []string{"a"}, h.m.StartedServices())
	assert.Equal(t, []string{"a", "b"}, h.rec.Journal.Phase("start"))

	require.NoError(t, h.m.Stop(time.Second))
	assert.Equal(t, []string{"a"}, h.rec.Journal.Phase("stop"))
}

func TestManager_UpdateFailureAborts(t *testing.T) {
	h := newConfigured(t, lifecycleApp)
	h.rec.Fail("update", "b", errBoom)

	require.NoError(t, h.m.Create())
	require.NoError(t, h.m.Start(context.Background()))
	err := h.m.Update(context.Background())
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, []string{"a", "b"}, h.rec.Journal.Phase("update"))
}

func TestManager_TeardownFailuresDoNotAbort(t *testing.T) {
	h := newConfigured(t, lifecycleApp)
	h.rec.Fail("stop", "b", errBoom)
	h.rec.Fail("destroy", "b", errBoom)

	require.NoError(t, h.m.Create())
	require.NoError(t, h.m.Start(context.Background()))

	err := h.m.Stop(time.Second)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrTeardown)
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, []string{"c", "b", "a"}, h.rec.Journal.Phase("stop"))
	assert.Equal(t, StateStopped, h.m.State())

	err = h.m.Destroy()
	assert.ErrorIs(t, err, errors.ErrTeardown)
	assert.Equal(t, []string{"c", "b", "a"}, h.rec.Journal.Phase("destroy"))
	assert.Equal(t, StateDestroyed, h.m.State())

	failures := h.metrics.CoreMetrics().TeardownFailures
	assert.Equal(t, 1.0, promtestutil.ToFloat64(failures.WithLabelValues("lifecycle", "stop")))
	assert.Equal(t, 1.0, promtestutil.ToFloat64(failures.WithLabelValues("lifecycle", "destroy")))
}

func TestManager_InvalidTransitions(t *testing.T) {
	ctx := context.Background()
	h := newConfigured(t, lifecycleApp)
	m := h.m

	assertInvalid := func(err error) {
		t.Helper()
		require.Error(t, err)
		assert.ErrorIs(t, err, errors.ErrInvalidState)
		assert.True(t, errors.IsInvalid(err))
	}

	assertInvalid(m.Start(ctx))
	assertInvalid(m.Update(ctx))
	assertInvalid(m.Stop(time.Second))
	assertInvalid(m.Destroy())

	require.NoError(t, m.Create())
	assertInvalid(m.Create())
	assertInvalid(m.Update(ctx))
	assertInvalid(m.Stop(time.Second))
	assertInvalid(m.SetModel(&appconfig.Model{ID: "other"}))
	assertInvalid(m.AddExistingDeferredObject(data.NewGeneric("Image"), "late"))

	require.NoError(t, m.Start(ctx))
	assertInvalid(m.Start(ctx))
	assertInvalid(m.Destroy())
}

func TestManager_CreateWithoutConfiguration(t *testing.T) {
	h := newHarness()
	err := h.m.Create()
	assert.ErrorIs(t, err, errors.ErrConfig)
	assert.Equal(t, StateDestroyed, h.m.State())
}

func TestManager_MissingExistingObjectRollsBack(t *testing.T) {
	h := newConfigured(t, `
id: missing
objects:
  - {uid: img, type: Image}
  - {uid: series, type: Series, mode: existing}
services:
  - uid: viewer
    type: Viewer
    in:
      - {key: image, uid: img}
`)

	err := h.m.Create()
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrConfig)
	assert.ErrorIs(t, err, errors.ErrMissingObject)
	assert.True(t, errors.IsInvalid(err))

	assert.Equal(t, StateDestroyed, h.m.State())
	assert.Empty(t, h.registry.UIDs())
	assert.Empty(t, h.rec.Journal.Entries(), "no service is created before objects resolve")
}

func TestManager_UnknownImplementationRollsBack(t *testing.T) {
	h := newConfigured(t, `
id: unknown
services:
  - {uid: a, type: Probe}
  - {uid: b, type: Nope}
`)

	err := h.m.Create()
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrUnknownImplementation)
	assert.True(t, errors.IsFatal(err))
	assert.Equal(t, []string{"a"}, h.rec.Journal.Phase("destroy"))
	assert.Empty(t, h.m.CreatedServices())
}

func TestManager_AddExistingDeferredObject(t *testing.T) {
	h := newConfigured(t, `
id: existing
objects:
  - {uid: series, type: Series, mode: existing}
services:
  - uid: reader
    type: Reader
    inout:
      - {key: target, uid: series}
`)

	series := data.NewGeneric("Series")
	require.NoError(t, h.m.AddExistingDeferredObject(series, "series"))
	require.NoError(t, h.m.Create())

	bound, ok := h.recording(t, "reader").Object(data.AccessInOut, "target")
	require.True(t, ok)
	assert.Same(t, series, bound)

	obj, ok := h.m.Object("series")
	require.True(t, ok)
	assert.Same(t, series, obj)

	// destroy forgets pre-registered objects; they must be handed over again
	require.NoError(t, h.m.Destroy())
	_, ok = h.m.Object("series")
	assert.False(t, ok)
	err := h.m.Create()
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrMissingObject)
	assert.Empty(t, h.m.CreatedServices())

	again := data.NewGeneric("Series")
	require.NoError(t, h.m.AddExistingDeferredObject(again, "series"))
	require.NoError(t, h.m.Create())
	bound, ok = h.recording(t, "reader").Object(data.AccessInOut, "target")
	require.True(t, ok)
	assert.Same(t, again, bound)
}

func TestManager_OptionalBindingsNeverBlock(t *testing.T) {
	ctx := context.Background()
	h := newConfigured(t, `
id: optional
objects:
  - {uid: img, type: Image}
services:
  - uid: viewer
    type: Viewer
    in:
      - {key: image, uid: img}
      - {key: overlay, uid: mask, optional: true}
`)
	m := h.m

	require.NoError(t, m.Create())
	assert.Equal(t, []string{"viewer"}, m.CreatedServices())
	viewer := h.recording(t, "viewer")
	_, ok := viewer.Input("overlay")
	assert.False(t, ok)

	require.NoError(t, m.Start(ctx))

	mask := data.NewGeneric("Mask")
	require.NoError(t, m.AddObject(mask, "mask"))
	overlay, ok := viewer.Input("overlay")
	require.True(t, ok)
	assert.Same(t, mask, overlay)

	m.RemoveObject(mask, "mask")
	_, ok = viewer.Input("overlay")
	assert.False(t, ok)

	assert.Equal(t, []string{"viewer.overlay=set", "viewer.overlay=nil"}, h.rec.Journal.Phase("swap"))
	assert.Equal(t, 0, h.rec.Journal.Count("stop", "viewer"))
	assert.Equal(t, []string{"viewer"}, m.StartedServices())
}

// quietStore never notifies, so objects only reach the manager through
// explicit AddObject calls.
type quietStore struct {
	*data.Registry
}

func (quietStore) Subscribe(func(data.Event)) func() { return func() {} }

const overlayApp = `
id: overlay
objects:
  - {uid: img, type: Image}
services:
  - uid: viewer
    type: Viewer
    in:
      - {key: image, uid: img}
      - {key: overlay, uid: mask, optional: true}
  - uid: writer
    type: Writer
    in:
      - {key: image, uid: mask}
`

func TestManager_OptionalRebindSurvivesEarlyLookups(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	h.m = New(Dependencies{
		Services: h.services,
		Objects:  data.NewFactory(true),
		Registry: quietStore{h.registry},
		Mesh:     h.mesh,
		Configs:  h.configs,
		Metrics:  h.metrics,
	})
	model, err := appconfig.Build([]byte(overlayApp))
	require.NoError(t, err)
	require.NoError(t, h.m.SetModel(model))
	t.Cleanup(func() { _ = h.m.StopAndDestroy(time.Second) })

	require.NoError(t, h.m.Launch(ctx))
	require.Equal(t, []string{"writer"}, h.m.DeferredServices())

	mask := data.NewGeneric("Mask")
	require.NoError(t, h.registry.Register("mask", mask))

	// reading health sees the object in the store but must not record it
	assert.True(t, h.m.Health().IsDegraded())
	_, known := h.m.Object("mask")
	assert.False(t, known)

	require.NoError(t, h.m.AddObject(mask, "mask"))
	overlay, ok := h.recording(t, "viewer").Input("overlay")
	require.True(t, ok, "running viewer must receive the optional object")
	assert.Same(t, mask, overlay)
	assert.Equal(t, []string{"viewer", "writer"}, h.m.StartedServices())

	// a second notification for the same object swaps nothing
	require.NoError(t, h.m.AddObject(mask, "mask"))
	assert.Equal(t, []string{"viewer.overlay=set"}, h.rec.Journal.Phase("swap"))
}

func TestManager_RemoveObjectIsSelective(t *testing.T) {
	ctx := context.Background()
	h := newConfigured(t, scenarioApp)
	m := h.m

	require.NoError(t, m.Launch(ctx))
	exported := data.NewGeneric("Image")
	require.NoError(t, m.AddObject(exported, "exportedImg"))
	require.Equal(t, []string{"viewer", "writer"}, m.StartedServices())
	firstWriter := h.recording(t, "writer")

	m.RemoveObject(exported, "exportedImg")

	assert.Equal(t, []string{"viewer"}, m.CreatedServices())
	assert.Equal(t, []string{"viewer"}, m.StartedServices())
	assert.Equal(t, []string{"writer"}, m.DeferredServices())
	assert.Equal(t, 1, h.rec.Journal.Count("stop", "writer"))
	assert.Equal(t, 1, h.rec.Journal.Count("destroy", "writer"))
	assert.Equal(t, 0, h.rec.Journal.Count("stop", "viewer"))
	assert.Equal(t, 1, h.mesh.Disconnects())
	assert.Equal(t, 1, m.Proxies().Len())

	img, _ := h.registry.Get("img")
	require.NoError(t, img.(*data.Generic).Set(ctx, "level", 1))
	assert.Equal(t, int32(1), h.recording(t, "viewer").Received.Load())
	assert.Equal(t, int32(0), firstWriter.Received.Load())

	require.NoError(t, m.AddObject(data.NewGeneric("Image"), "exportedImg"))
	assert.Equal(t, 2, h.rec.Journal.Count("create", "writer"))
	assert.Equal(t, 2, h.rec.Journal.Count("start", "writer"))
	assert.Equal(t, 2, h.rec.Journal.Count("update", "writer"))
	assert.Equal(t, []string{"viewer", "writer"}, m.StartedServices())
	assert.Equal(t, 2, m.Proxies().Len())
}

func TestManager_NotificationsAreIdempotent(t *testing.T) {
	h := newConfigured(t, scenarioApp)
	m := h.m
	require.NoError(t, m.Create())

	exported := data.NewGeneric("Image")
	require.NoError(t, m.AddObject(exported, "exportedImg"))
	require.NoError(t, m.AddObject(exported, "exportedImg"))
	assert.Equal(t, 1, h.rec.Journal.Count("create", "writer"))

	require.NoError(t, m.AddObject(data.NewGeneric("Image"), "stranger"))
	_, ok := m.Object("stranger")
	assert.False(t, ok, "uids outside the configuration are ignored")

	m.RemoveObject(nil, "never-seen")
	m.RemoveObject(exported, "exportedImg")
	m.RemoveObject(exported, "exportedImg")
	assert.Equal(t, 1, h.rec.Journal.Count("destroy", "writer"))
	assert.Equal(t, []string{"writer"}, m.DeferredServices())
}

func TestManager_LazyServiceInCreatedStateWaitsForStart(t *testing.T) {
	ctx := context.Background()
	h := newConfigured(t, scenarioApp)
	m := h.m

	require.NoError(t, m.Create())
	require.NoError(t, m.AddObject(data.NewGeneric("Image"), "exportedImg"))
	assert.Equal(t, 0, h.rec.Journal.Count("start", "writer"))

	require.NoError(t, m.Start(ctx))
	assert.Equal(t, []string{"viewer", "writer"}, h.rec.Journal.Phase("start"))
}

func TestManager_LazyServiceNotUpdatedBeforeUpdate(t *testing.T) {
	h := newConfigured(t, scenarioApp)
	m := h.m

	require.NoError(t, m.Create())
	require.NoError(t, m.Start(context.Background()))
	require.NoError(t, m.AddObject(data.NewGeneric("Image"), "exportedImg"))
	assert.Equal(t, 1, h.rec.Journal.Count("start", "writer"))
	assert.Equal(t, 0, h.rec.Journal.Count("update", "writer"))
}

func TestManager_RegistryNotificationsDriveActivation(t *testing.T) {
	ctx := context.Background()
	h := newConfigured(t, scenarioApp)
	m := h.m
	require.NoError(t, m.Launch(ctx))

	require.NoError(t, h.recording(t, "viewer").Publish("exported", data.NewGeneric("Image")))
	require.Eventually(t, func() bool {
		return slices.Contains(m.StartedServices(), "writer")
	}, 2*time.Second, 10*time.Millisecond)

	_, ok := h.registry.Unregister("exportedImg")
	require.True(t, ok)
	require.Eventually(t, func() bool {
		return slices.Equal(m.DeferredServices(), []string{"writer"})
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"viewer"}, m.StartedServices())
}

func TestManager_SetConfigWithAutoPrefix(t *testing.T) {
	h := newHarness(WithAutoPrefix())
	require.NoError(t, h.configs.Register("scenario", []byte(scenarioApp)))
	require.NoError(t, h.m.SetConfig("scenario", nil))
	t.Cleanup(func() { _ = h.m.StopAndDestroy(time.Second) })

	root := h.m.ConfigRoot()
	require.NotNil(t, root)
	prefix := root.GenericUID + "_"

	require.NoError(t, h.m.Create())
	created := h.m.CreatedServices()
	require.Len(t, created, 1)
	assert.Equal(t, prefix+"viewer", created[0])

	_, ok := h.registry.Get(prefix + "img")
	assert.True(t, ok)
	for _, uid := range h.m.DeferredServices() {
		assert.True(t, strings.HasPrefix(uid, prefix))
	}
}

func TestManager_SetConfigUnknownID(t *testing.T) {
	h := newHarness()
	err := h.m.SetConfig("nope", nil)
	assert.ErrorIs(t, err, errors.ErrConfigNotFound)
}

func TestManager_NamedWorkerRunsSlots(t *testing.T) {
	ctx := context.Background()
	h := newConfigured(t, `
id: worker
objects:
  - {uid: img, type: Image}
services:
  - uid: viewer
    type: Viewer
    worker: render
    in:
      - {key: image, uid: img}
connections:
  - channel: ch
    signal: {uid: img, name: modified}
    slot: {uid: viewer, name: update}
`)
	require.NoError(t, h.m.Launch(ctx))

	img, _ := h.registry.Get("img")
	require.NoError(t, img.(*data.Generic).Set(ctx, "level", 1))
	viewer := h.recording(t, "viewer")
	require.Eventually(t, func() bool { return viewer.Received.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "level", viewer.LastPayload())
	assert.NotEmpty(t, h.metrics.Metrics(workerMetrics("render")))

	require.NoError(t, h.m.StopAndDestroy(time.Second))
	assert.Empty(t, h.metrics.Metrics(workerMetrics("render")))
}

func TestManager_DestroyReleasesLeftoverServiceMetrics(t *testing.T) {
	h := newConfigured(t, lifecycleApp)
	require.NoError(t, h.m.Create())
	require.NoError(t, h.metrics.RegisterCounter("b", "leaked",
		prometheus.NewCounter(prometheus.CounterOpts{Name: "b_leaked_total", Help: "leaked"})))

	require.NoError(t, h.m.Destroy())
	assert.Empty(t, h.metrics.Metrics("b"))
}

func TestManager_Health(t *testing.T) {
	ctx := context.Background()
	h := newConfigured(t, scenarioApp)
	m := h.m

	assert.True(t, m.Health().IsUnhealthy())

	require.NoError(t, m.Create())
	st := m.Health()
	assert.True(t, st.IsDegraded())
	assert.Equal(t, "scenario", st.Component)
	require.Len(t, st.SubStatuses, 2)
	assert.Contains(t, st.SubStatuses[1].Message, "exportedImg")

	require.NoError(t, m.Start(ctx))
	require.NoError(t, m.AddObject(data.NewGeneric("Image"), "exportedImg"))
	assert.True(t, m.Health().IsHealthy())
}

func TestManager_Metrics(t *testing.T) {
	h := newConfigured(t, scenarioApp)
	core := h.metrics.CoreMetrics()

	require.NoError(t, h.m.Create())
	assert.Equal(t, 1.0, promtestutil.ToFloat64(core.ServicesCreated.WithLabelValues("scenario")))
	assert.Equal(t, 1.0, promtestutil.ToFloat64(core.ServicesDeferred.WithLabelValues("scenario")))
	assert.Equal(t, 1.0, promtestutil.ToFloat64(core.ProxyConnections.WithLabelValues("scenario")))

	require.NoError(t, h.m.AddObject(data.NewGeneric("Image"), "exportedImg"))
	assert.Equal(t, 1.0, promtestutil.ToFloat64(core.LazyActivations.WithLabelValues("scenario")))
	assert.Equal(t, 0.0, promtestutil.ToFloat64(core.ServicesDeferred.WithLabelValues("scenario")))
	assert.Equal(t, 2.0, promtestutil.ToFloat64(core.ProxyConnections.WithLabelValues("scenario")))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "destroyed", StateDestroyed.String())
	assert.Equal(t, "created", StateCreated.String())
	assert.Equal(t, "started", StateStarted.String())
	assert.Equal(t, "stopped", StateStopped.String())
	assert.Equal(t, "state(9)", State(9).String())
}
