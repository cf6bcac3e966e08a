// Package data defines the data objects shared between services, the factory
// that instantiates them by type name, and the in-memory object registry whose
// added/removed notifications drive deferred service resolution.
package data

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/IRCAD/sight-sub074/com"
	"github.com/IRCAD/sight-sub074/errors"
)

// SignalModified is emitted by Generic objects whenever a field changes.
const SignalModified = "modified"

// Object is a named, typed data value shared between services.
type Object interface {
	TypeName() string
}

// Initializer is implemented by objects that need a one-time setup right
// after instantiation.
type Initializer interface {
	Initialize(ctx context.Context) error
}

// Starter is implemented by objects that must be started once every service
// of the configuration has been started.
type Starter interface {
	Start(ctx context.Context) error
}

// Generic is a field bag object. It is the default representation for every
// object type registered without a dedicated constructor.
type Generic struct {
	com.Signals

	typeName string

	mu     sync.RWMutex
	fields map[string]any
}

// NewGeneric creates an empty object of the given type.
func NewGeneric(typeName string) *Generic {
	g := &Generic{typeName: typeName, fields: make(map[string]any)}
	g.AddSignal(SignalModified)
	return g
}

// TypeName returns the object type.
func (g *Generic) TypeName() string {
	return g.typeName
}

// Get returns a field value.
func (g *Generic) Get(key string) (any, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	v, ok := g.fields[key]
	return v, ok
}

// Set stores a field value and emits the modified signal.
func (g *Generic) Set(ctx context.Context, key string, value any) error {
	g.mu.Lock()
	g.fields[key] = value
	g.mu.Unlock()

	sig, _ := g.Signal(SignalModified)
	return sig.Emit(ctx, key)
}

// Keys returns field names sorted.
func (g *Generic) Keys() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	keys := make([]string, 0, len(g.fields))
	for k := range g.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MarshalJSON encodes the object fields.
func (g *Generic) MarshalJSON() ([]byte, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return json.Marshal(struct {
		Type   string         `json:"type"`
		Fields map[string]any `json:"fields"`
	}{g.typeName, g.fields})
}

// Constructor builds an object from its raw configuration, which may be nil.
type Constructor func(cfg json.RawMessage) (Object, error)

// Factory instantiates objects by type name.
type Factory struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
	generic      bool
}

// NewFactory creates a factory. When allowGeneric is set, unknown types are
// instantiated as Generic objects instead of failing.
func NewFactory(allowGeneric bool) *Factory {
	return &Factory{constructors: make(map[string]Constructor), generic: allowGeneric}
}

// Register binds a type name to a constructor.
func (f *Factory) Register(typeName string, ctor Constructor) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if typeName == "" || ctor == nil {
		return errors.WrapInvalid(fmt.Errorf("empty type name or nil constructor"),
			"Factory", "Register", "validate registration")
	}
	if _, exists := f.constructors[typeName]; exists {
		return errors.WrapInvalid(fmt.Errorf("object type %q already registered", typeName),
			"Factory", "Register", "check duplicate")
	}
	f.constructors[typeName] = ctor
	return nil
}

// New instantiates an object of the given type.
func (f *Factory) New(typeName string, cfg json.RawMessage) (Object, error) {
	f.mu.RLock()
	ctor, ok := f.constructors[typeName]
	f.mu.RUnlock()

	if !ok {
		if f.generic {
			return genericFromConfig(typeName, cfg)
		}
		return nil, errors.WrapFatal(fmt.Errorf("%w: object type %q", errors.ErrUnknownImplementation, typeName),
			"Factory", "New", "lookup constructor")
	}

	obj, err := ctor(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "Factory", "New", fmt.Sprintf("construct %s", typeName))
	}
	return obj, nil
}

func genericFromConfig(typeName string, cfg json.RawMessage) (Object, error) {
	g := NewGeneric(typeName)
	if len(cfg) == 0 || string(cfg) == "null" {
		return g, nil
	}
	if err := json.Unmarshal(cfg, &g.fields); err != nil {
		return nil, errors.Configf("Factory", "New", "object config for %s: %v", typeName, err)
	}
	return g, nil
}
