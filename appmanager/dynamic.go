package appmanager

import (
	stderrors "errors"
	"slices"
	"sort"

	"github.com/IRCAD/sight-sub074/appconfig"
	"github.com/IRCAD/sight-sub074/data"
	"github.com/IRCAD/sight-sub074/service"
)

// AddObject notifies the manager that obj is now available under uid.
// Services waiting on it are created, and started and updated when the
// manager already was. Repeated notifications are harmless and uids the
// configuration does not mention are ignored.
func (m *Manager) AddObject(obj data.Object, uid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.addObjectLocked(obj, uid)
}

func (m *Manager) addObjectLocked(obj data.Object, uid string) error {
	if m.state == StateDestroyed || obj == nil || m.model == nil {
		return nil
	}
	if !m.model.References(uid) {
		return nil
	}
	if _, isService := m.model.Service(uid); isService {
		return nil
	}

	m.recordObject(uid, obj, false)

	activated, err := m.activate(uid)
	m.rebindOptional(uid, obj, activated)
	m.recordCounts()
	return err
}

// activate creates the services of uid's bucket that are now ready, wires
// the connections waiting on uid or on those services, and brings the new
// services up to the manager's state.
func (m *Manager) activate(uid string) ([]*createdService, error) {
	var candidates []appconfig.ServiceDecl
	if e, ok := m.deferred[uid]; ok {
		for _, su := range e.services {
			if decl, ok := m.model.Service(su); ok {
				candidates = append(candidates, decl)
			}
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].Index < candidates[j].Index })

	var (
		activated []*createdService
		errs      []error
	)
	for _, decl := range candidates {
		if missing := m.missingMandatory(decl); len(missing) > 0 {
			m.fileService(decl, missing)
			continue
		}
		m.unfileService(decl.UID)
		cs, err := m.createService(decl)
		if err != nil {
			m.logger.Error("Deferred service could not be created", "service", decl.UID, "error", err)
			m.fileService(decl, []string{uid})
			errs = append(errs, err)
			continue
		}
		m.logger.Info("Deferred service activated", "service", decl.UID, "object", uid)
		if m.metrics != nil {
			m.metrics.RecordLazyActivation(m.configID)
		}
		activated = append(activated, cs)
	}

	for _, c := range m.takeConnections(uid) {
		m.tryConnect(c)
	}
	for _, cs := range activated {
		for _, c := range m.takeConnections(cs.decl.UID) {
			m.tryConnect(c)
		}
	}

	if m.state == StateStarted && len(activated) > 0 {
		errs = append(errs, m.startActivated(activated))
	}
	return activated, stderrors.Join(errs...)
}

// startActivated starts lazily created services in the position they hold
// in the deferred start order, and updates those the last Update pass
// would have updated.
func (m *Manager) startActivated(activated []*createdService) error {
	rank := func(cs *createdService) int {
		if i := slices.Index(m.deferredStartOrder, cs.decl.UID); i >= 0 {
			return i
		}
		return len(m.deferredStartOrder) + cs.decl.Index
	}
	ordered := slices.Clone(activated)
	sort.SliceStable(ordered, func(i, j int) bool { return rank(ordered[i]) < rank(ordered[j]) })

	var errs []error
	for _, cs := range ordered {
		uid := cs.decl.UID
		if err := cs.srv.Start(m.runCtx); err != nil {
			m.logger.Error("Deferred service failed to start", "service", uid, "error", err)
			errs = append(errs, err)
			continue
		}
		cs.running = true
		m.started = append(m.started, cs)
		m.deferredStartOrder = slices.DeleteFunc(m.deferredStartOrder, func(u string) bool { return u == uid })

		if m.updated && slices.Contains(m.deferredUpdateOrder, uid) {
			if err := cs.srv.Update(m.runCtx); err != nil {
				m.logger.Error("Deferred service failed to update", "service", uid, "error", err)
				errs = append(errs, err)
			}
			m.deferredUpdateOrder = slices.DeleteFunc(m.deferredUpdateOrder, func(u string) bool { return u == uid })
		}
	}
	return stderrors.Join(errs...)
}

// rebindOptional hands obj to the optional and output bindings on uid of
// services that were already alive, skipping the ones just created.
// Bindings already holding obj are left alone, so repeated notifications
// do not swap twice.
func (m *Manager) rebindOptional(uid string, obj data.Object, skip []*createdService) {
	for _, cs := range m.services {
		if slices.Contains(skip, cs) {
			continue
		}
		for _, b := range cs.decl.BindingsOn(uid) {
			if b.Mandatory() {
				continue
			}
			m.rebind(cs, b, obj)
		}
	}
}

func (m *Manager) rebind(cs *createdService, b appconfig.Binding, obj data.Object) {
	if sameObject(cs.bound[b.Key], obj) {
		return
	}
	if obj == nil {
		delete(cs.bound, b.Key)
	} else {
		cs.bound[b.Key] = obj
	}
	bind(cs.srv, b, obj)
	if !cs.running {
		return
	}
	if sw, ok := cs.srv.(service.Swapper); ok {
		if err := sw.Swap(m.runCtx, b.Key, obj); err != nil {
			m.logger.Warn("Service swap failed", "service", cs.decl.UID, "key", b.Key, "error", err)
		}
	}
}

// RemoveObject notifies the manager that the object under uid went away.
// Exactly the services holding a mandatory binding on it are stopped,
// destroyed and deferred again; optional bindings on it are cleared.
// Unknown uids are ignored.
func (m *Manager) RemoveObject(_ data.Object, uid string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.removeObjectLocked(uid)
}

func (m *Manager) removeObjectLocked(uid string) {
	if m.state == StateDestroyed {
		delete(m.preExisting, uid)
		return
	}
	co, ok := m.objects[uid]
	if !ok {
		return
	}

	m.removing = uid
	defer func() { m.removing = "" }()

	m.forgetObject(uid)
	m.selfRegistered.Delete(uid)
	gone := Hint{UID: uid, Handle: co.object}
	conns := m.proxies.DestroyInvolving(uid, gone)

	for i := len(m.services) - 1; i >= 0; i-- {
		cs := m.services[i]
		if !slices.Contains(cs.decl.MandatoryUIDs(), uid) {
			continue
		}
		conns = append(conns, m.demote(cs, gone)...)
	}

	for _, c := range conns {
		m.tryConnect(c)
	}

	for _, cs := range m.services {
		for _, b := range cs.decl.BindingsOn(uid) {
			m.rebind(cs, b, nil)
		}
	}

	m.logger.Info("Object removed", "object", uid, "deferred", len(m.deferredUIDs))
	m.recordCounts()
}

// demote tears one service down and files it as deferred again. It returns
// the connections it held so that they can be re-filed.
func (m *Manager) demote(cs *createdService, gone Hint) []appconfig.ProxyConnectionDecl {
	uid := cs.decl.UID
	if cs.running {
		if err := cs.srv.Stop(m.stopTimeout); err != nil {
			m.teardownFailure("stop", uid, err)
		}
		cs.running = false
		m.started = slices.DeleteFunc(m.started, func(s *createdService) bool { return s == cs })
	}
	conns := m.proxies.DestroyInvolving(uid, gone)
	if err := cs.srv.Destroy(); err != nil {
		m.teardownFailure("destroy", uid, err)
	}
	m.releaseMetrics(uid)

	m.services = slices.DeleteFunc(m.services, func(s *createdService) bool { return s == cs })
	delete(m.serviceByUID, uid)

	m.fileService(cs.decl, m.missingMandatory(cs.decl))
	if m.state == StateStarted {
		if !slices.Contains(m.deferredStartOrder, uid) {
			m.deferredStartOrder = append(m.deferredStartOrder, uid)
		}
		if m.updated && !slices.Contains(m.deferredUpdateOrder, uid) {
			m.deferredUpdateOrder = append(m.deferredUpdateOrder, uid)
		}
	}
	m.logger.Info("Service deferred after object removal", "service", uid)
	return conns
}
