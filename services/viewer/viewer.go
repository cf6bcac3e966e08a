// Package viewer provides the Viewer sample service. It renders its "image"
// input whenever the update slot fires and can export a snapshot of it on
// the optional "exported" output.
package viewer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/IRCAD/sight-sub074/data"
	"github.com/IRCAD/sight-sub074/errors"
	"github.com/IRCAD/sight-sub074/metric"
	"github.com/IRCAD/sight-sub074/service"
)

// TypeName is the implementation name used in configurations.
const TypeName = "Viewer"

// Binding keys, slot and signal names.
const (
	KeyImage       = "image"
	KeyExported    = "exported"
	SlotUpdate     = "update"
	SignalRendered = "rendered"
)

// Config holds the viewer configuration
type Config struct {
	// Export publishes a snapshot of the input on the exported output at every Update
	Export bool `json:"export"`
}

// Frame is the payload of the rendered signal
type Frame struct {
	Viewer string   `json:"viewer"`
	Frame  int64    `json:"frame"`
	Fields []string `json:"fields"`
}

// Viewer renders the bound image
type Viewer struct {
	*service.Base

	registrar metric.MetricsRegistrar
	renders   prometheus.Counter
	frames    atomic.Int64

	mu       sync.Mutex
	config   Config
	exported *data.Generic
}

// New creates a viewer.
func New(deps *service.Dependencies) (service.Service, error) {
	v := &Viewer{Base: service.NewBase(deps), registrar: deps.MetricsRegistry}
	v.AddSignal(SignalRendered)
	v.AddSlot(SlotUpdate, func(ctx context.Context, _ any) error {
		return v.render(ctx)
	})
	return v, nil
}

// Register registers the viewer with a service registry
func Register(reg *service.Registry) error {
	return reg.Register(TypeName, New)
}

// Create parses the configuration and registers the render counter.
func (v *Viewer) Create(cfg json.RawMessage) error {
	var config Config
	if len(cfg) > 0 && string(cfg) != "null" {
		if err := json.Unmarshal(cfg, &config); err != nil {
			return errors.Configf(v.ID(), "Create", "viewer config: %v", err)
		}
	}
	if err := v.Base.Create(cfg); err != nil {
		return err
	}
	v.mu.Lock()
	v.config = config
	v.mu.Unlock()

	if v.registrar != nil {
		v.renders = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "sight",
			Subsystem:   "viewer",
			Name:        "renders_total",
			Help:        "Total number of rendered frames",
			ConstLabels: prometheus.Labels{"service": v.ID()},
		})
		if err := v.registrar.RegisterCounter(v.ID(), "renders", v.renders); err != nil {
			v.Logger().Warn("Viewer metrics disabled", "error", err)
			v.renders = nil
		}
	}
	return nil
}

// Start renders a first frame.
func (v *Viewer) Start(ctx context.Context) error {
	if err := v.Base.Start(ctx); err != nil {
		return err
	}
	return v.render(ctx)
}

// Update exports a snapshot when configured to.
func (v *Viewer) Update(ctx context.Context) error {
	if err := v.Base.Update(ctx); err != nil {
		return err
	}
	v.mu.Lock()
	export := v.config.Export
	v.mu.Unlock()
	if !export {
		return nil
	}
	return v.export(ctx)
}

// Swap follows changes of the exported output.
func (v *Viewer) Swap(_ context.Context, key string, obj data.Object) error {
	v.Logger().Debug("Binding swapped", "key", key, "present", obj != nil)
	return nil
}

// Frames returns the number of rendered frames.
func (v *Viewer) Frames() int64 {
	return v.frames.Load()
}

func (v *Viewer) render(ctx context.Context) error {
	if v.Status() != service.StatusStarted {
		return nil
	}
	obj, ok := v.Input(KeyImage)
	if !ok {
		return errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrMissingObject, KeyImage), v.ID(), "render", "read input")
	}

	frame := Frame{Viewer: v.ID(), Frame: v.frames.Add(1)}
	if g, ok := obj.(*data.Generic); ok {
		frame.Fields = g.Keys()
	}
	if v.renders != nil {
		v.renders.Inc()
	}

	sig, _ := v.Signal(SignalRendered)
	return sig.Emit(ctx, frame)
}

func (v *Viewer) export(ctx context.Context) error {
	obj, ok := v.Input(KeyImage)
	if !ok {
		return nil
	}

	v.mu.Lock()
	snapshot := v.exported
	first := snapshot == nil
	if first {
		snapshot = data.NewGeneric(obj.TypeName())
		v.exported = snapshot
	}
	v.mu.Unlock()

	if src, ok := obj.(*data.Generic); ok {
		for _, k := range src.Keys() {
			val, _ := src.Get(k)
			if err := snapshot.Set(ctx, k, val); err != nil {
				v.Logger().Warn("Modified signal failed", "field", k, "error", err)
			}
		}
	}
	if first {
		return v.Publish(KeyExported, snapshot)
	}
	return nil
}

// Destroy releases the render counter.
func (v *Viewer) Destroy() error {
	if err := v.Base.Destroy(); err != nil {
		return err
	}
	if v.renders != nil && v.registrar != nil {
		v.registrar.Unregister(v.ID(), "renders")
		v.renders = nil
	}
	return nil
}
