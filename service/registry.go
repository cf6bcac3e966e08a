package service

import (
	"fmt"
	"sort"
	"sync"

	"github.com/IRCAD/sight-sub074/errors"
)

// Registry manages service constructor registration
type Registry struct {
	constructors map[string]Constructor
	mu           sync.RWMutex
}

// NewRegistry creates a new service registry
func NewRegistry() *Registry {
	return &Registry{
		constructors: make(map[string]Constructor),
	}
}

// Register registers a service constructor under an implementation type name
func (r *Registry) Register(typeName string, constructor Constructor) error {
	if typeName == "" {
		return errors.WrapInvalid(fmt.Errorf("service type cannot be empty"), "Registry", "Register", "validate")
	}
	if constructor == nil {
		return errors.WrapInvalid(fmt.Errorf("constructor cannot be nil"), "Registry", "Register", "validate")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.constructors[typeName]; exists {
		return errors.WrapInvalid(fmt.Errorf("service %s already registered", typeName), "Registry", "Register", "check duplicate")
	}

	r.constructors[typeName] = constructor
	return nil
}

// Constructor returns a constructor for the given type name
func (r *Registry) Constructor(typeName string) (Constructor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	constructor, exists := r.constructors[typeName]
	return constructor, exists
}

// New instantiates a service. Unknown types fail with ErrUnknownImplementation.
func (r *Registry) New(deps *Dependencies) (Service, error) {
	constructor, ok := r.Constructor(deps.Type)
	if !ok {
		return nil, errors.WrapFatal(fmt.Errorf("%w: service type %q", errors.ErrUnknownImplementation, deps.Type),
			"Registry", "New", fmt.Sprintf("instantiate %s", deps.UID))
	}

	srv, err := constructor(deps)
	if err != nil {
		return nil, errors.WrapFatal(err, "Registry", "New", fmt.Sprintf("construct %s (%s)", deps.UID, deps.Type))
	}
	if srv == nil {
		return nil, errors.WrapFatal(fmt.Errorf("%w: constructor for %q returned nil", errors.ErrUnknownImplementation, deps.Type),
			"Registry", "New", fmt.Sprintf("construct %s", deps.UID))
	}
	return srv, nil
}

// Types returns all registered type names, sorted
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.constructors))
	for name := range r.constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
