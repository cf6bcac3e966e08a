package appmanager

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IRCAD/sight-sub074/appconfig"
	"github.com/IRCAD/sight-sub074/com"
	"github.com/IRCAD/sight-sub074/testutil"
)

type endpoint struct {
	com.Signals
	com.Slots
}

func newEndpoint(hits *int) *endpoint {
	e := &endpoint{}
	e.AddSignal("modified")
	e.AddSlot("update", func(context.Context, any) error {
		*hits++
		return nil
	})
	return e
}

func decl(emitter, receiver string) appconfig.ProxyConnectionDecl {
	return appconfig.ProxyConnectionDecl{
		Channel: "ch", EmitterUID: emitter, SignalName: "modified", ReceiverUID: receiver, SlotName: "update",
	}
}

func emit(t *testing.T, e *endpoint) {
	t.Helper()
	sig, ok := e.Signal("modified")
	require.True(t, ok)
	require.NoError(t, sig.Emit(context.Background(), "x"))
}

func TestProxyTracker_ConnectIsIdempotent(t *testing.T) {
	mesh := testutil.NewRecordingMesh()
	tracker := NewProxyTracker(mesh, nil)
	var hits int
	src, dst := newEndpoint(nil), newEndpoint(&hits)

	made, err := tracker.ConnectProxy("ch", decl("src", "dst"), src, dst)
	require.NoError(t, err)
	assert.True(t, made)

	made, err = tracker.ConnectProxy("ch", decl("src", "dst"), src, dst)
	require.NoError(t, err)
	assert.False(t, made)

	assert.Equal(t, 1, mesh.Connects())
	assert.Equal(t, 1, tracker.Len())

	emit(t, src)
	assert.Equal(t, 1, hits)
}

func TestProxyTracker_DestroyInvolvingLeavesSiblings(t *testing.T) {
	mesh := testutil.NewRecordingMesh()
	tracker := NewProxyTracker(mesh, nil)
	var viewerHits, writerHits int
	img, viewer, writer := newEndpoint(nil), newEndpoint(&viewerHits), newEndpoint(&writerHits)

	_, err := tracker.ConnectProxy("ch", decl("img", "viewer"), img, viewer)
	require.NoError(t, err)
	_, err = tracker.ConnectProxy("ch", decl("img", "writer"), img, writer)
	require.NoError(t, err)

	removed := tracker.DestroyInvolving("writer")
	require.Len(t, removed, 1)
	assert.Equal(t, "writer", removed[0].ReceiverUID)
	assert.True(t, tracker.Has(decl("img", "viewer")))
	assert.False(t, tracker.Has(decl("img", "writer")))

	emit(t, img)
	assert.Equal(t, 1, viewerHits)
	assert.Equal(t, 0, writerHits)

	assert.Empty(t, tracker.DestroyInvolving("writer"), "second teardown finds nothing")
	connects, disconnects := tracker.Counts()
	assert.Equal(t, 2, connects)
	assert.Equal(t, 1, disconnects)
}

func TestProxyTracker_DestroyAllIsSymmetric(t *testing.T) {
	mesh := testutil.NewRecordingMesh()
	tracker := NewProxyTracker(mesh, nil)
	img := newEndpoint(nil)
	for _, uid := range []string{"a", "b", "c"} {
		_, err := tracker.ConnectProxy("ch", decl("img", uid), img, newEndpoint(new(int)))
		require.NoError(t, err)
	}

	removed := tracker.DestroyAll()
	require.Len(t, removed, 3)
	assert.Equal(t, "c", removed[0].ReceiverUID, "most recent first")
	assert.Equal(t, 0, tracker.Len())
	assert.Empty(t, tracker.DestroyAll())
	assert.True(t, mesh.Balanced())
}

func TestProxyTracker_MeshFailureIsNotRecorded(t *testing.T) {
	mesh := testutil.NewRecordingMesh()
	mesh.FailChannel("ch", assert.AnError)
	tracker := NewProxyTracker(mesh, nil)

	made, err := tracker.ConnectProxy("ch", decl("src", "dst"), newEndpoint(nil), newEndpoint(new(int)))
	assert.ErrorIs(t, err, assert.AnError)
	assert.False(t, made)
	assert.Equal(t, 0, tracker.Len())
	assert.False(t, tracker.DestroyProxy("ch", decl("src", "dst")))
}

func TestProxyTracker_HintOverridesHandle(t *testing.T) {
	mesh := testutil.NewRecordingMesh()
	tracker := NewProxyTracker(mesh, nil)
	src, dst := newEndpoint(nil), newEndpoint(new(int))

	_, err := tracker.ConnectProxy("ch", decl("src", "dst"), src, dst)
	require.NoError(t, err)

	// A stranger handle under the receiver uid: the proxy refuses the
	// disconnect but the tracker still forgets the tuple exactly once.
	stranger := newEndpoint(new(int))
	assert.True(t, tracker.DestroyProxy("ch", decl("src", "dst"), Hint{UID: "dst", Handle: stranger}))
	assert.False(t, tracker.DestroyProxy("ch", decl("src", "dst")))
	assert.Equal(t, 1, mesh.Disconnects())
}
