// Package testutil provides recording services, a recording mesh and an
// in-memory NATS client shared by package tests.
package testutil

import (
	"strings"
	"sync"
)

// Journal records lifecycle calls as "phase:uid" entries in call order.
// Thread-safe for concurrent use from multiple goroutines.
type Journal struct {
	mu      sync.Mutex
	entries []string
}

// Record appends one entry.
func (j *Journal) Record(phase, uid string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, phase+":"+uid)
}

// Entries returns a copy of every entry.
func (j *Journal) Entries() []string {
	j.mu.Lock()
	defer j.mu.Unlock()

	result := make([]string, len(j.entries))
	copy(result, j.entries)
	return result
}

// Phase returns the uids recorded for phase, in order.
func (j *Journal) Phase(phase string) []string {
	j.mu.Lock()
	defer j.mu.Unlock()

	var uids []string
	prefix := phase + ":"
	for _, e := range j.entries {
		if uid, ok := strings.CutPrefix(e, prefix); ok {
			uids = append(uids, uid)
		}
	}
	return uids
}

// Count returns how many times phase was recorded for uid.
func (j *Journal) Count(phase, uid string) int {
	j.mu.Lock()
	defer j.mu.Unlock()

	n := 0
	for _, e := range j.entries {
		if e == phase+":"+uid {
			n++
		}
	}
	return n
}

// Reset drops every entry.
func (j *Journal) Reset() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = nil
}
