package appmanager

import (
	"slices"

	"github.com/IRCAD/sight-sub074/appconfig"
	"github.com/IRCAD/sight-sub074/com"
	"github.com/IRCAD/sight-sub074/data"
)

// deferredEntry holds what waits on one missing uid, in filing order.
type deferredEntry struct {
	services    []string
	connections []appconfig.ProxyConnectionDecl
}

func (e *deferredEntry) empty() bool {
	return len(e.services) == 0 && len(e.connections) == 0
}

// findObject resolves uid to a live object without touching the
// bookkeeping. Callers hold m.mu.
func (m *Manager) findObject(uid string) (data.Object, bool) {
	if uid == m.removing {
		return nil, false
	}
	if co, ok := m.objects[uid]; ok {
		return co.object, true
	}
	if obj, ok := m.preExisting[uid]; ok {
		return obj, true
	}
	if m.deps.Registry != nil {
		return m.deps.Registry.Get(uid)
	}
	return nil, false
}

// lookupObject is findObject for callers about to hold on to the object:
// objects found outside this manager's own bookkeeping are recorded as not
// owned so that their later removal is noticed. Callers hold m.mu.
func (m *Manager) lookupObject(uid string) (data.Object, bool) {
	obj, ok := m.findObject(uid)
	if ok {
		m.recordObject(uid, obj, false)
	}
	return obj, ok
}

func (m *Manager) recordObject(uid string, obj data.Object, owned bool) {
	if _, ok := m.objects[uid]; ok {
		return
	}
	m.objects[uid] = &createdObject{object: obj, owned: owned}
	m.objectOrder = append(m.objectOrder, uid)
}

func (m *Manager) forgetObject(uid string) {
	delete(m.objects, uid)
	delete(m.preExisting, uid)
	m.objectOrder = slices.DeleteFunc(m.objectOrder, func(u string) bool { return u == uid })
}

// missingMandatory re-checks every mandatory binding of decl. It has no
// side effects, so read accessors may call it.
func (m *Manager) missingMandatory(decl appconfig.ServiceDecl) []string {
	var missing []string
	for _, uid := range decl.MandatoryUIDs() {
		if _, ok := m.findObject(uid); !ok {
			missing = append(missing, uid)
		}
	}
	return missing
}

func (m *Manager) bucket(uid string) *deferredEntry {
	e, ok := m.deferred[uid]
	if !ok {
		e = &deferredEntry{}
		m.deferred[uid] = e
	}
	return e
}

// fileService defers decl under each missing uid, once per bucket.
func (m *Manager) fileService(decl appconfig.ServiceDecl, missing []string) {
	for _, uid := range missing {
		e := m.bucket(uid)
		if !slices.Contains(e.services, decl.UID) {
			e.services = append(e.services, decl.UID)
		}
	}
	if !slices.Contains(m.deferredUIDs, decl.UID) {
		m.deferredUIDs = append(m.deferredUIDs, decl.UID)
	}
}

// unfileService removes uid from every bucket and from the deferred set.
func (m *Manager) unfileService(uid string) {
	for key, e := range m.deferred {
		e.services = slices.DeleteFunc(e.services, func(u string) bool { return u == uid })
		if e.empty() {
			delete(m.deferred, key)
		}
	}
	m.deferredUIDs = slices.DeleteFunc(m.deferredUIDs, func(u string) bool { return u == uid })
}

// endpoint resolves uid to a live service or object.
func (m *Manager) endpoint(uid string) (any, bool) {
	if cs, ok := m.serviceByUID[uid]; ok {
		return cs.srv, true
	}
	if _, declared := m.model.Service(uid); declared {
		return nil, false
	}
	return m.lookupObject(uid)
}

// tryConnect wires c when both endpoints are live, otherwise files it under
// each missing endpoint uid.
func (m *Manager) tryConnect(c appconfig.ProxyConnectionDecl) {
	emitter, okE := m.endpoint(c.EmitterUID)
	receiver, okR := m.endpoint(c.ReceiverUID)

	if !okE || !okR {
		for _, pair := range []struct {
			uid string
			ok  bool
		}{{c.EmitterUID, okE}, {c.ReceiverUID, okR}} {
			if pair.ok {
				continue
			}
			e := m.bucket(pair.uid)
			if !slices.ContainsFunc(e.connections, func(x appconfig.ProxyConnectionDecl) bool { return x.Key() == c.Key() }) {
				e.connections = append(e.connections, c)
			}
		}
		return
	}

	m.unfileConnection(c)

	sig, okS := emitter.(com.HasSignals)
	slot, okL := receiver.(com.HasSlots)
	if !okS || !okL {
		m.logger.Error("Proxy endpoint exposes no signals or slots", "connection", c.String())
		return
	}
	_, _ = m.proxies.ConnectProxy(c.Channel, c, sig, slot)
}

func (m *Manager) unfileConnection(c appconfig.ProxyConnectionDecl) {
	for key, e := range m.deferred {
		e.connections = slices.DeleteFunc(e.connections, func(x appconfig.ProxyConnectionDecl) bool {
			return x.Key() == c.Key()
		})
		if e.empty() {
			delete(m.deferred, key)
		}
	}
}

// takeConnections pops the connections waiting on uid.
func (m *Manager) takeConnections(uid string) []appconfig.ProxyConnectionDecl {
	e, ok := m.deferred[uid]
	if !ok {
		return nil
	}
	conns := e.connections
	e.connections = nil
	if e.empty() {
		delete(m.deferred, uid)
	}
	return conns
}
