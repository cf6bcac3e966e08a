package health

import (
	"slices"
	"sync"
	"time"
)

// Monitor builds one report out of several health sources. A source either
// pushes its status with Report or is polled through a probe on every read.
type Monitor struct {
	mu     sync.RWMutex
	pushed map[string]Status
	probes map[string]func() Status
}

// NewMonitor creates an empty monitor.
func NewMonitor() *Monitor {
	return &Monitor{
		pushed: make(map[string]Status),
		probes: make(map[string]func() Status),
	}
}

// Report records the latest status of source. It replaces any probe
// registered under the same name.
func (m *Monitor) Report(source string, status Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.probes, source)
	m.pushed[source] = stamp(source, status)
}

// Probe registers fn to be polled whenever source is read.
func (m *Monitor) Probe(source string, fn func() Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pushed, source)
	m.probes[source] = fn
}

// Forget drops source.
func (m *Monitor) Forget(source string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pushed, source)
	delete(m.probes, source)
}

// Sources returns the known source names in sorted order.
func (m *Monitor) Sources() []string {
	m.mu.RLock()
	names := make([]string, 0, len(m.pushed)+len(m.probes))
	for name := range m.pushed {
		names = append(names, name)
	}
	for name := range m.probes {
		names = append(names, name)
	}
	m.mu.RUnlock()
	slices.Sort(names)
	return names
}

// Status returns the current status of source, polling it if it is a probe.
func (m *Monitor) Status(source string) (Status, bool) {
	m.mu.RLock()
	status, pushed := m.pushed[source]
	probe, polled := m.probes[source]
	m.mu.RUnlock()

	switch {
	case pushed:
		return status, true
	case polled:
		// probes run unlocked, they may call back into the monitor
		return stamp(source, probe()), true
	}
	return Status{}, false
}

// Snapshot aggregates every source under system, sub-statuses sorted by name.
func (m *Monitor) Snapshot(system string) Status {
	names := m.Sources()
	subs := make([]Status, 0, len(names))
	for _, name := range names {
		if st, ok := m.Status(name); ok {
			subs = append(subs, st)
		}
	}
	return Aggregate(system, subs)
}

func stamp(source string, status Status) Status {
	status.Component = source
	if status.Timestamp.IsZero() {
		status.Timestamp = time.Now()
	}
	return status
}
