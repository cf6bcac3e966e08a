package com

import (
	"sort"
	"sync"
)

// HasSignals is implemented by anything exposing named signals.
type HasSignals interface {
	Signal(name string) (*Signal, bool)
}

// HasSlots is implemented by anything exposing named slots.
type HasSlots interface {
	Slot(name string) (*Slot, bool)
}

// Signals is an embeddable signal set. The zero value is ready to use.
type Signals struct {
	mu      sync.RWMutex
	signals map[string]*Signal
}

// AddSignal creates the named signal, or returns the existing one.
func (s *Signals) AddSignal(name string) *Signal {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.signals == nil {
		s.signals = make(map[string]*Signal)
	}
	if sig, ok := s.signals[name]; ok {
		return sig
	}
	sig := NewSignal(name)
	s.signals[name] = sig
	return sig
}

// Signal looks up a signal by name.
func (s *Signals) Signal(name string) (*Signal, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sig, ok := s.signals[name]
	return sig, ok
}

// SignalNames returns the declared signal names sorted.
func (s *Signals) SignalNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.signals))
	for name := range s.signals {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Slots is an embeddable slot set. The zero value is ready to use.
type Slots struct {
	mu    sync.RWMutex
	slots map[string]*Slot
}

// AddSlot registers a handler under name, replacing any previous one.
func (s *Slots) AddSlot(name string, handler Handler) *Slot {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.slots == nil {
		s.slots = make(map[string]*Slot)
	}
	slot := NewSlot(name, handler)
	s.slots[name] = slot
	return slot
}

// Slot looks up a slot by name.
func (s *Slots) Slot(name string) (*Slot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	slot, ok := s.slots[name]
	return slot, ok
}

// SlotNames returns the declared slot names sorted.
func (s *Slots) SlotNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.slots))
	for name := range s.slots {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
