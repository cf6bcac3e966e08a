package appmanager

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IRCAD/sight-sub074/data"
)

// snapshot reads the service partition under one lock acquisition.
func (m *Manager) snapshot() (state State, created, deferred []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, serviceUIDs(m.services), slices.Clone(m.deferredUIDs)
}

func assertPartition(t *testing.T, m *Manager, declared []string) {
	t.Helper()
	state, created, deferred := m.snapshot()
	if state == StateDestroyed {
		assert.Empty(t, created)
		assert.Empty(t, deferred)
		return
	}
	for _, uid := range declared {
		inCreated := slices.Contains(created, uid)
		inDeferred := slices.Contains(deferred, uid)
		assert.True(t, inCreated != inDeferred, "service %s in %s: created=%v deferred=%v", uid, state, inCreated, inDeferred)
	}
}

func TestManager_ConcurrentNotificationsAndLifecycle(t *testing.T) {
	ctx := context.Background()
	h := newConfigured(t, scenarioApp)
	m := h.m
	declared := []string{"viewer", "writer"}
	require.NoError(t, m.Create())

	done := make(chan struct{})
	running := func() bool {
		select {
		case <-done:
			return false
		default:
			return true
		}
	}
	var wg sync.WaitGroup

	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for running() {
				obj := data.NewGeneric("Image")
				_ = m.AddObject(obj, "exportedImg")
				_ = m.Health()
				m.RemoveObject(obj, "exportedImg")
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for running() {
			if err := h.registry.Register("exportedImg", data.NewGeneric("Image")); err == nil {
				h.registry.Unregister("exportedImg")
			}
		}
	}()

	for i := range 40 {
		_ = m.Start(ctx)
		_ = m.Update(ctx)
		assertPartition(t, m, declared)
		_ = m.Stop(time.Second)
		assertPartition(t, m, declared)
		if i%5 == 4 {
			_ = m.Destroy()
			assertPartition(t, m, declared)
			require.NoError(t, m.Create())
		}
	}
	close(done)
	wg.Wait()
	assertPartition(t, m, declared)

	require.NoError(t, m.StopAndDestroy(time.Second))
	assert.Equal(t, StateDestroyed, m.State())
	assert.Empty(t, m.CreatedServices())
	assert.Empty(t, m.StartedServices())
	assert.Empty(t, m.DeferredServices())
	assert.Equal(t, 0, m.Proxies().Len())
	assert.True(t, h.mesh.Balanced(), "every proxy connection must be disconnected exactly once")
}
