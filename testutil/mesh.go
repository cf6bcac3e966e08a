package testutil

import (
	"sync"

	"github.com/IRCAD/sight-sub074/com"
)

// RecordingMesh wraps an in-process com.Proxy and counts every connect and
// disconnect per "channel|signal|slot" key.
type RecordingMesh struct {
	*com.Proxy

	mu          sync.Mutex
	connects    map[string]int
	disconnects map[string]int
	failOn      map[string]error
}

// NewRecordingMesh creates a mesh over a fresh proxy.
func NewRecordingMesh() *RecordingMesh {
	return &RecordingMesh{
		Proxy:       com.NewProxy(),
		connects:    make(map[string]int),
		disconnects: make(map[string]int),
		failOn:      make(map[string]error),
	}
}

// FailChannel makes every Connect on channel return err.
func (m *RecordingMesh) FailChannel(channel string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failOn[channel] = err
}

// Connect implements com.Mesh.
func (m *RecordingMesh) Connect(channel string, emitter com.HasSignals, signal string, receiver com.HasSlots, slot string) error {
	m.mu.Lock()
	if err, ok := m.failOn[channel]; ok {
		m.mu.Unlock()
		return err
	}
	m.connects[channel+"|"+signal+"|"+slot]++
	m.mu.Unlock()
	return m.Proxy.Connect(channel, emitter, signal, receiver, slot)
}

// Disconnect implements com.Mesh.
func (m *RecordingMesh) Disconnect(channel string, emitter com.HasSignals, signal string, receiver com.HasSlots, slot string) error {
	m.mu.Lock()
	m.disconnects[channel+"|"+signal+"|"+slot]++
	m.mu.Unlock()
	return m.Proxy.Disconnect(channel, emitter, signal, receiver, slot)
}

// Connects returns the total number of Connect calls that reached the proxy.
func (m *RecordingMesh) Connects() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return sum(m.connects)
}

// Disconnects returns the total number of Disconnect calls.
func (m *RecordingMesh) Disconnects() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return sum(m.disconnects)
}

// Balanced reports whether every key was disconnected as often as connected.
func (m *RecordingMesh) Balanced() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.connects) != len(m.disconnects) {
		return false
	}
	for k, n := range m.connects {
		if m.disconnects[k] != n {
			return false
		}
	}
	return true
}

func sum(counts map[string]int) int {
	n := 0
	for _, c := range counts {
		n += c
	}
	return n
}
