package data

import (
	"fmt"
	"sort"
	"sync"

	"github.com/IRCAD/sight-sub074/errors"
)

// EventKind tells whether an object appeared or disappeared.
type EventKind int

// Registry event kinds.
const (
	ObjectAdded EventKind = iota
	ObjectRemoved
)

func (k EventKind) String() string {
	if k == ObjectAdded {
		return "added"
	}
	return "removed"
}

// Event is delivered to registry subscribers.
type Event struct {
	Kind   EventKind
	UID    string
	Object Object
}

// Store is the object registry contract consumed by the application manager.
type Store interface {
	Get(uid string) (Object, bool)
	Register(uid string, obj Object) error
	Unregister(uid string) (Object, bool)
	// Subscribe registers fn for added/removed events and returns a function
	// cancelling the subscription. fn runs on the goroutine that mutated the
	// registry, after the registry lock has been released.
	Subscribe(fn func(Event)) (cancel func())
}

// Registry is the in-memory Store.
type Registry struct {
	mu      sync.RWMutex
	objects map[string]Object

	subMu  sync.RWMutex
	nextID int
	subs   map[int]func(Event)
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		objects: make(map[string]Object),
		subs:    make(map[int]func(Event)),
	}
}

// Get returns the object registered under uid.
func (r *Registry) Get(uid string) (Object, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	obj, ok := r.objects[uid]
	return obj, ok
}

// Register adds obj under uid and notifies subscribers. Registering the same
// object twice is a no-op; registering a different object under a taken uid
// fails.
func (r *Registry) Register(uid string, obj Object) error {
	if uid == "" || obj == nil {
		return errors.WrapInvalid(fmt.Errorf("empty uid or nil object"), "Registry", "Register", "validate")
	}

	r.mu.Lock()
	if existing, ok := r.objects[uid]; ok {
		r.mu.Unlock()
		if existing == obj {
			return nil
		}
		return errors.WrapInvalid(fmt.Errorf("uid %q already registered", uid), "Registry", "Register", "check duplicate")
	}
	r.objects[uid] = obj
	r.mu.Unlock()

	r.notify(Event{Kind: ObjectAdded, UID: uid, Object: obj})
	return nil
}

// Unregister removes uid and notifies subscribers.
func (r *Registry) Unregister(uid string) (Object, bool) {
	r.mu.Lock()
	obj, ok := r.objects[uid]
	if ok {
		delete(r.objects, uid)
	}
	r.mu.Unlock()

	if ok {
		r.notify(Event{Kind: ObjectRemoved, UID: uid, Object: obj})
	}
	return obj, ok
}

// UIDs returns the registered uids sorted.
func (r *Registry) UIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	uids := make([]string, 0, len(r.objects))
	for uid := range r.objects {
		uids = append(uids, uid)
	}
	sort.Strings(uids)
	return uids
}

// Subscribe registers fn for registry events.
func (r *Registry) Subscribe(fn func(Event)) func() {
	r.subMu.Lock()
	id := r.nextID
	r.nextID++
	r.subs[id] = fn
	r.subMu.Unlock()

	return func() {
		r.subMu.Lock()
		delete(r.subs, id)
		r.subMu.Unlock()
	}
}

func (r *Registry) notify(ev Event) {
	r.subMu.RLock()
	ids := make([]int, 0, len(r.subs))
	for id := range r.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, r.subs[id])
	}
	r.subMu.RUnlock()

	for _, fn := range fns {
		fn(ev)
	}
}
