package appmanager

import (
	"context"
	stderrors "errors"
	"fmt"
	"slices"
	"time"

	"github.com/IRCAD/sight-sub074/data"
	"github.com/IRCAD/sight-sub074/errors"
)

// Start starts the created services in creation order, then the owned
// objects that need starting. The first failure is returned and later
// services are left unstarted; the manager is still considered started so
// that Stop unwinds what did start.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateCreated && m.state != StateStopped {
		return m.stateError("Start")
	}
	defer m.recordTransition("start", time.Now())

	m.runCtx = context.WithoutCancel(ctx)
	m.started = nil
	m.updated = false
	m.deferredStartOrder = slices.Clone(m.deferredUIDs)
	m.deferredUpdateOrder = nil
	m.state = StateStarted
	defer m.recordCounts()

	for _, cs := range m.services {
		if err := cs.srv.Start(ctx); err != nil {
			m.logger.Error("Service failed to start", "service", cs.decl.UID, "error", err)
			return errors.Wrap(err, "Manager", "Start", "start service "+cs.decl.UID)
		}
		cs.running = true
		m.started = append(m.started, cs)
	}

	for _, uid := range m.objectOrder {
		co := m.objects[uid]
		if !co.owned {
			continue
		}
		if s, ok := co.object.(data.Starter); ok {
			if err := s.Start(ctx); err != nil {
				return errors.Wrap(err, "Manager", "Start", "start object "+uid)
			}
		}
	}

	m.logger.Info("Configuration started", "services", len(m.started), "deferred", len(m.deferredStartOrder))
	return nil
}

// Update updates the started services in start order. The first failure
// aborts the pass.
func (m *Manager) Update(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateStarted {
		return m.stateError("Update")
	}
	defer m.recordTransition("update", time.Now())

	m.updated = true
	m.deferredUpdateOrder = slices.Clone(m.deferredUIDs)

	for _, cs := range m.started {
		if err := cs.srv.Update(ctx); err != nil {
			m.logger.Error("Service failed to update", "service", cs.decl.UID, "error", err)
			return errors.Wrap(err, "Manager", "Update", "update service "+cs.decl.UID)
		}
	}
	return nil
}

// Stop stops the started services in the exact reverse of the order they
// were started in, lazily activated services included. Failures are logged
// and counted and never interrupt the sequence.
func (m *Manager) Stop(timeout time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateStarted {
		return m.stateError("Stop")
	}
	return m.stopLocked(timeout)
}

func (m *Manager) stopLocked(timeout time.Duration) error {
	defer m.recordTransition("stop", time.Now())
	if timeout <= 0 {
		timeout = m.stopTimeout
	}

	var errs []error
	for i := len(m.started) - 1; i >= 0; i-- {
		cs := m.started[i]
		if err := cs.srv.Stop(timeout); err != nil {
			errs = append(errs, m.teardownFailure("stop", cs.decl.UID, err))
		}
		cs.running = false
	}

	m.started = nil
	m.deferredStartOrder = nil
	m.deferredUpdateOrder = nil
	m.updated = false
	m.state = StateStopped
	m.recordCounts()

	if len(errs) > 0 {
		return errors.Wrap(fmt.Errorf("%w: %w", errors.ErrTeardown, stderrors.Join(errs...)),
			"Manager", "Stop", "teardown")
	}
	m.logger.Info("Configuration stopped")
	return nil
}

// Launch creates, starts and updates the configuration.
func (m *Manager) Launch(ctx context.Context) error {
	if err := m.Create(); err != nil {
		return err
	}
	if err := m.Start(ctx); err != nil {
		return err
	}
	return m.Update(ctx)
}
