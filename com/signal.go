// Package com implements named signals and slots and the event mesh that
// connects them through named channels.
package com

import (
	"context"
	stderrors "errors"
	"sync"

	"github.com/IRCAD/sight-sub074/pkg/worker"
)

// Handler processes a payload delivered to a slot.
type Handler func(ctx context.Context, payload any) error

// Slot is a named incoming handler. A slot bound to an executor runs its
// handler there instead of on the emitting goroutine.
type Slot struct {
	name    string
	handler Handler

	mu   sync.RWMutex
	exec worker.Executor
}

// NewSlot creates a slot that runs handler inline.
func NewSlot(name string, handler Handler) *Slot {
	return &Slot{name: name, handler: handler}
}

// Name returns the slot name.
func (s *Slot) Name() string {
	return s.name
}

// SetExecutor binds the slot to an executor; nil restores inline dispatch.
func (s *Slot) SetExecutor(exec worker.Executor) {
	s.mu.Lock()
	s.exec = exec
	s.mu.Unlock()
}

// Invoke delivers payload to the handler.
func (s *Slot) Invoke(ctx context.Context, payload any) error {
	s.mu.RLock()
	exec := s.exec
	s.mu.RUnlock()

	if exec == nil {
		return s.handler(ctx, payload)
	}
	return exec.Execute(ctx, func(ctx context.Context) error {
		return s.handler(ctx, payload)
	})
}

// Signal is a named outgoing event. Emitting it invokes every connected slot
// in connection order.
type Signal struct {
	name string

	mu    sync.RWMutex
	slots []*Slot
}

// NewSignal creates a signal with no connections.
func NewSignal(name string) *Signal {
	return &Signal{name: name}
}

// Name returns the signal name.
func (s *Signal) Name() string {
	return s.name
}

// Connect attaches slot. It returns false if slot was already connected.
func (s *Signal) Connect(slot *Slot) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.slots {
		if existing == slot {
			return false
		}
	}
	s.slots = append(s.slots, slot)
	return true
}

// Disconnect detaches slot. It returns false if slot was not connected.
func (s *Signal) Disconnect(slot *Slot) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, existing := range s.slots {
		if existing == slot {
			s.slots = append(s.slots[:i:i], s.slots[i+1:]...)
			return true
		}
	}
	return false
}

// NumConnections returns how many slots are connected.
func (s *Signal) NumConnections() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.slots)
}

// Emit invokes every connected slot and joins their errors.
func (s *Signal) Emit(ctx context.Context, payload any) error {
	s.mu.RLock()
	slots := make([]*Slot, len(s.slots))
	copy(slots, s.slots)
	s.mu.RUnlock()

	var errs []error
	for _, slot := range slots {
		if err := slot.Invoke(ctx, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}
