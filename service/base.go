package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IRCAD/sight-sub074/com"
	"github.com/IRCAD/sight-sub074/data"
	"github.com/IRCAD/sight-sub074/errors"
	"github.com/IRCAD/sight-sub074/health"
	"github.com/IRCAD/sight-sub074/pkg/worker"
)

// Status represents the lifecycle position of a service
type Status int32

// Possible service statuses
const (
	StatusIdle Status = iota
	StatusCreated
	StatusStarted
	StatusStopped
	StatusDestroyed
)

// String returns the string representation of Status
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusCreated:
		return "created"
	case StatusStarted:
		return "started"
	case StatusStopped:
		return "stopped"
	case StatusDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// Base provides common functionality for all services. Concrete services
// embed *Base and override the lifecycle methods they care about, calling
// the Base method first so that state checks stay consistent.
type Base struct {
	com.Signals
	com.Slots

	id      string
	typ     string
	logger  *slog.Logger
	worker  worker.Executor
	publish Publisher

	status    atomic.Int32
	startTime atomic.Value // time.Time
	lastError atomic.Value // string

	mu       sync.RWMutex
	config   json.RawMessage
	bindings map[data.Access]map[string]data.Object
}

// NewBase creates the embeddable base from the injected dependencies.
func NewBase(deps *Dependencies) *Base {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	b := &Base{
		id:      deps.UID,
		typ:     deps.Type,
		logger:  logger.With("service", deps.UID, "type", deps.Type),
		worker:  deps.Worker,
		publish: deps.Publish,
		bindings: map[data.Access]map[string]data.Object{
			data.AccessIn:    {},
			data.AccessInOut: {},
			data.AccessOut:   {},
		},
	}
	b.startTime.Store(time.Time{})
	b.lastError.Store("")
	return b
}

// ID returns the service uid
func (b *Base) ID() string { return b.id }

// Type returns the implementation type name
func (b *Base) Type() string { return b.typ }

// Logger returns the service logger
func (b *Base) Logger() *slog.Logger { return b.logger }

// Status returns the current lifecycle status
func (b *Base) Status() Status { return Status(b.status.Load()) }

// Config returns the raw configuration passed to Create
func (b *Base) Config() json.RawMessage {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.config
}

// AddSlot registers a slot running on the service worker, if any.
func (b *Base) AddSlot(name string, handler com.Handler) *com.Slot {
	slot := b.Slots.AddSlot(name, handler)
	if b.worker != nil {
		slot.SetExecutor(b.worker)
	}
	return slot
}

// Create stores the configuration. It may only be called once.
func (b *Base) Create(cfg json.RawMessage) error {
	if !b.status.CompareAndSwap(int32(StatusIdle), int32(StatusCreated)) {
		return b.stateError("Create")
	}
	b.mu.Lock()
	b.config = cfg
	b.mu.Unlock()
	return nil
}

// Start marks the service started
func (b *Base) Start(_ context.Context) error {
	switch b.Status() {
	case StatusStarted:
		return errors.WrapInvalid(errors.ErrAlreadyStarted, b.id, "Start", "check status")
	case StatusCreated, StatusStopped:
	default:
		return b.stateError("Start")
	}
	b.status.Store(int32(StatusStarted))
	b.startTime.Store(time.Now())
	return nil
}

// Update checks the service is started
func (b *Base) Update(_ context.Context) error {
	if b.Status() != StatusStarted {
		return errors.WrapInvalid(errors.ErrNotStarted, b.id, "Update", "check status")
	}
	return nil
}

// Stop marks the service stopped
func (b *Base) Stop(_ time.Duration) error {
	if b.Status() != StatusStarted {
		return errors.WrapInvalid(errors.ErrNotStarted, b.id, "Stop", "check status")
	}
	b.status.Store(int32(StatusStopped))
	return nil
}

// Destroy marks the service destroyed and drops its bindings
func (b *Base) Destroy() error {
	switch b.Status() {
	case StatusStarted:
		return b.stateError("Destroy")
	case StatusDestroyed:
		return nil
	}
	b.status.Store(int32(StatusDestroyed))

	b.mu.Lock()
	for _, m := range b.bindings {
		clear(m)
	}
	b.mu.Unlock()
	return nil
}

func (b *Base) stateError(method string) error {
	return errors.WrapInvalid(fmt.Errorf("%w: %s while %s", errors.ErrInvalidState, method, b.Status()),
		b.id, method, "check status")
}

// SetInput binds an input object
func (b *Base) SetInput(key string, obj data.Object) { b.bind(data.AccessIn, key, obj) }

// SetInOut binds an input/output object
func (b *Base) SetInOut(key string, obj data.Object) { b.bind(data.AccessInOut, key, obj) }

// SetOutput binds an output object
func (b *Base) SetOutput(key string, obj data.Object) { b.bind(data.AccessOut, key, obj) }

func (b *Base) bind(access data.Access, key string, obj data.Object) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if obj == nil {
		delete(b.bindings[access], key)
		return
	}
	b.bindings[access][key] = obj
}

// Object returns the object bound under key for the given access
func (b *Base) Object(access data.Access, key string) (data.Object, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	obj, ok := b.bindings[access][key]
	return obj, ok
}

// Input returns the input object bound under key
func (b *Base) Input(key string) (data.Object, bool) { return b.Object(data.AccessIn, key) }

// Publish produces an output object through the manager
func (b *Base) Publish(key string, obj data.Object) error {
	if b.publish == nil {
		return errors.WrapInvalid(fmt.Errorf("no publisher for output %q", key), b.id, "Publish", "publish output")
	}
	if err := b.publish(key, obj); err != nil {
		return errors.Wrap(err, b.id, "Publish", fmt.Sprintf("publish output %s", key))
	}
	b.bind(data.AccessOut, key, obj)
	return nil
}

// RecordError remembers the last failure for health reporting
func (b *Base) RecordError(err error) {
	if err == nil {
		b.lastError.Store("")
		return
	}
	b.lastError.Store(err.Error())
}

// Health reports the service health from its status and last error
func (b *Base) Health() health.Status {
	if msg := b.lastError.Load().(string); msg != "" {
		return health.FromError(b.id, fmt.Errorf("%s", msg))
	}
	switch b.Status() {
	case StatusStarted:
		return health.NewHealthy(b.id, fmt.Sprintf("started %s ago", time.Since(b.startTime.Load().(time.Time)).Round(time.Millisecond)))
	case StatusCreated, StatusStopped:
		return health.NewDegraded(b.id, fmt.Sprintf("service is %s", b.Status()))
	default:
		return health.NewUnhealthy(b.id, fmt.Sprintf("service is %s", b.Status()))
	}
}
