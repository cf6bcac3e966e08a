// Package service defines the lifecycle contract every managed service
// implements, an embeddable Base carrying the common bookkeeping, and the
// type-keyed Registry the application manager instantiates services from.
package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/IRCAD/sight-sub074/com"
	"github.com/IRCAD/sight-sub074/data"
	"github.com/IRCAD/sight-sub074/health"
	"github.com/IRCAD/sight-sub074/metric"
	"github.com/IRCAD/sight-sub074/pkg/worker"
)

// Service is the uniform lifecycle contract.
//
// The manager calls Create once, then any number of Start/Update/Stop
// rounds, then Destroy. Bindings are set between construction and Create.
type Service interface {
	com.HasSignals
	com.HasSlots

	ID() string
	Type() string

	Create(cfg json.RawMessage) error
	Start(ctx context.Context) error
	Update(ctx context.Context) error
	Stop(timeout time.Duration) error
	Destroy() error

	SetInput(key string, obj data.Object)
	SetInOut(key string, obj data.Object)
	SetOutput(key string, obj data.Object)

	Health() health.Status
}

// Swapper is implemented by services that want to be told when an optional
// binding changes while they are alive. obj is nil when the object went away.
type Swapper interface {
	Swap(ctx context.Context, key string, obj data.Object) error
}

// Publisher makes an output object available under the uid bound to key.
// A nil obj withdraws it.
type Publisher func(key string, obj data.Object) error

// Dependencies are injected into every service constructor.
type Dependencies struct {
	UID             string
	Type            string
	Logger          *slog.Logger
	MetricsRegistry metric.MetricsRegistrar
	// Worker runs the service slots; nil means slots run on the emitter's goroutine.
	Worker  worker.Executor
	Publish Publisher
}

// Constructor defines the constructor signature for all services.
type Constructor func(deps *Dependencies) (Service, error)
