// Package reader provides the ImageReader sample service. It describes a file
// as an Image object and publishes that object on its "image" output, which
// makes every service waiting on the output uid eligible for creation.
package reader

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/IRCAD/sight-sub074/data"
	"github.com/IRCAD/sight-sub074/errors"
	"github.com/IRCAD/sight-sub074/metric"
	"github.com/IRCAD/sight-sub074/service"
)

// TypeName is the implementation name used in configurations.
const TypeName = "ImageReader"

// Output key, slot and signal names.
const (
	KeyImage   = "image"
	SlotRead   = "read"
	SignalRead = "read"
)

// Config holds the reader configuration
type Config struct {
	Source     string `json:"source"`
	ObjectType string `json:"object_type,omitempty"`
	// ReadOnUpdate reads the source at every Update instead of only on the read slot
	ReadOnUpdate bool `json:"read_on_update"`
}

// DefaultConfig returns the default reader configuration
func DefaultConfig() Config {
	return Config{ObjectType: "Image", ReadOnUpdate: true}
}

// Reader publishes a description of its source file
type Reader struct {
	*service.Base

	registrar metric.MetricsRegistrar
	reads     prometheus.Counter

	mu     sync.Mutex
	config Config
	image  *data.Generic
}

// New creates a reader.
func New(deps *service.Dependencies) (service.Service, error) {
	r := &Reader{Base: service.NewBase(deps), registrar: deps.MetricsRegistry}
	r.AddSignal(SignalRead)
	r.AddSlot(SlotRead, func(ctx context.Context, _ any) error {
		return r.Read(ctx)
	})
	return r, nil
}

// Register registers the reader with a service registry
func Register(reg *service.Registry) error {
	return reg.Register(TypeName, New)
}

// Create parses the configuration and registers the read counter.
func (r *Reader) Create(cfg json.RawMessage) error {
	config := DefaultConfig()
	if len(cfg) > 0 && string(cfg) != "null" {
		if err := json.Unmarshal(cfg, &config); err != nil {
			return errors.Configf(r.ID(), "Create", "reader config: %v", err)
		}
	}
	if config.Source == "" {
		return errors.Configf(r.ID(), "Create", "reader requires a source")
	}
	if err := r.Base.Create(cfg); err != nil {
		return err
	}

	r.mu.Lock()
	r.config = config
	r.mu.Unlock()

	if r.registrar != nil {
		r.reads = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "sight",
			Subsystem:   "reader",
			Name:        "reads_total",
			Help:        "Total number of source reads",
			ConstLabels: prometheus.Labels{"service": r.ID()},
		})
		if err := r.registrar.RegisterCounter(r.ID(), "reads", r.reads); err != nil {
			r.Logger().Warn("Reader metrics disabled", "error", err)
			r.reads = nil
		}
	}
	return nil
}

// Update reads the source when configured to.
func (r *Reader) Update(ctx context.Context) error {
	if err := r.Base.Update(ctx); err != nil {
		return err
	}
	r.mu.Lock()
	onUpdate := r.config.ReadOnUpdate
	r.mu.Unlock()
	if !onUpdate {
		return nil
	}
	return r.Read(ctx)
}

// Read describes the source and publishes the result. The first read
// publishes a new object; later reads modify the same object in place.
func (r *Reader) Read(ctx context.Context) error {
	r.mu.Lock()
	source := r.config.Source
	image := r.image
	first := image == nil
	if first {
		image = data.NewGeneric(r.config.ObjectType)
		r.image = image
	}
	r.mu.Unlock()

	info, err := os.Stat(source)
	if err != nil {
		err = errors.WrapTransient(err, r.ID(), "Read", "stat "+source)
		r.RecordError(err)
		return err
	}

	fields := map[string]any{
		"source":  source,
		"size":    info.Size(),
		"read_at": time.Now().UTC().Format(time.RFC3339Nano),
	}
	for _, k := range []string{"source", "size", "read_at"} {
		if err := image.Set(ctx, k, fields[k]); err != nil {
			r.Logger().Warn("Modified signal failed", "field", k, "error", err)
		}
	}

	if first {
		if err := r.Publish(KeyImage, image); err != nil {
			r.RecordError(err)
			return err
		}
	}
	if r.reads != nil {
		r.reads.Inc()
	}
	r.RecordError(nil)

	sig, _ := r.Signal(SignalRead)
	if err := sig.Emit(ctx, fields); err != nil {
		return errors.Wrap(err, r.ID(), "Read", fmt.Sprintf("emit %s", SignalRead))
	}
	return nil
}

// Image returns the published object, if any.
func (r *Reader) Image() (*data.Generic, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.image, r.image != nil
}

// Destroy releases the read counter.
func (r *Reader) Destroy() error {
	if err := r.Base.Destroy(); err != nil {
		return err
	}
	if r.reads != nil && r.registrar != nil {
		r.registrar.Unregister(r.ID(), "reads")
		r.reads = nil
	}
	return nil
}
