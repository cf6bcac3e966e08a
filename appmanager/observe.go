package appmanager

import (
	"slices"
	"strings"
	"time"

	"github.com/IRCAD/sight-sub074/data"
	"github.com/IRCAD/sight-sub074/health"
	"github.com/IRCAD/sight-sub074/service"
)

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.state
}

// Service returns the created service with the given uid.
func (m *Manager) Service(uid string) (service.Service, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cs, ok := m.serviceByUID[uid]
	if !ok {
		return nil, false
	}
	return cs.srv, true
}

// Object returns the object known to the manager under uid.
func (m *Manager) Object(uid string) (data.Object, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if co, ok := m.objects[uid]; ok {
		return co.object, true
	}
	obj, ok := m.preExisting[uid]
	return obj, ok
}

// DeferredServices returns the uids of services waiting on objects, in the
// order they were deferred.
func (m *Manager) DeferredServices() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return slices.Clone(m.deferredUIDs)
}

// CreatedServices returns the uids of the created services in creation order.
func (m *Manager) CreatedServices() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return serviceUIDs(m.services)
}

// StartedServices returns the uids of the running services in start order.
func (m *Manager) StartedServices() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return serviceUIDs(m.started)
}

// Proxies exposes the connection tracker.
func (m *Manager) Proxies() *ProxyTracker {
	return m.proxies
}

func serviceUIDs(services []*createdService) []string {
	uids := make([]string, 0, len(services))
	for _, cs := range services {
		uids = append(uids, cs.decl.UID)
	}
	return uids
}

// Health aggregates the health of every created service. Deferred services
// report as degraded.
func (m *Manager) Health() health.Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := "appmanager"
	if m.configID != "" {
		name = m.configID
	}
	if m.state == StateDestroyed {
		return health.NewUnhealthy(name, "configuration not created")
	}

	subs := make([]health.Status, 0, len(m.services)+len(m.deferredUIDs))
	for _, cs := range m.services {
		st := cs.srv.Health()
		st.Component = cs.decl.UID
		subs = append(subs, st)
	}
	for _, uid := range m.deferredUIDs {
		decl, _ := m.model.Service(uid)
		subs = append(subs, health.NewDegraded(uid,
			"waiting for "+strings.Join(m.missingMandatory(decl), ", ")))
	}

	st := health.Aggregate(name, subs)
	if len(subs) > 0 {
		st.Message = m.state.String() + ": " + st.Message
	}
	return st
}

func (m *Manager) recordCounts() {
	if m.metrics == nil {
		return
	}
	m.metrics.RecordServiceCounts(m.configID, len(m.services), len(m.started), len(m.deferredUIDs))
	m.metrics.RecordProxyConnections(m.configID, m.proxies.Len())
}

func (m *Manager) recordTransition(transition string, start time.Time) {
	if m.metrics == nil {
		return
	}
	m.metrics.RecordTransition(m.configID, transition, time.Since(start))
}

// releaseMetrics drops collectors a destroyed service left registered.
func (m *Manager) releaseMetrics(uid string) {
	if m.deps.Metrics == nil {
		return
	}
	if n := m.deps.Metrics.UnregisterService(uid); n > 0 {
		m.logger.Debug("Released leftover service metrics", "service", uid, "collectors", n)
	}
}
