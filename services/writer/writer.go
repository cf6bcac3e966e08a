// Package writer provides the Writer sample service. Each time its update
// slot fires it appends the JSON form of its "image" input as one line of a
// JSON lines file.
package writer

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/IRCAD/sight-sub074/errors"
	"github.com/IRCAD/sight-sub074/metric"
	"github.com/IRCAD/sight-sub074/service"
)

// TypeName is the implementation name used in configurations.
const TypeName = "Writer"

// Binding key and slot names.
const (
	KeyImage    = "image"
	SlotUpdate  = "update"
	SignalSaved = "saved"
)

// Config holds the writer configuration
type Config struct {
	Path   string `json:"path"`
	Append bool   `json:"append"`
}

// DefaultConfig returns the default writer configuration
func DefaultConfig() Config {
	return Config{Append: true}
}

// Record is one line of the output file
type Record struct {
	Writer  string          `json:"writer"`
	Written time.Time       `json:"written"`
	Object  json.RawMessage `json:"object"`
}

// Writer appends its input to a file
type Writer struct {
	*service.Base

	registrar metric.MetricsRegistrar
	writes    prometheus.Counter

	mu     sync.Mutex
	config Config
	file   *os.File
	buf    *bufio.Writer
	lines  int
}

// New creates a writer.
func New(deps *service.Dependencies) (service.Service, error) {
	w := &Writer{Base: service.NewBase(deps), registrar: deps.MetricsRegistry}
	w.AddSignal(SignalSaved)
	w.AddSlot(SlotUpdate, func(ctx context.Context, _ any) error {
		return w.write(ctx)
	})
	return w, nil
}

// Register registers the writer with a service registry
func Register(reg *service.Registry) error {
	return reg.Register(TypeName, New)
}

// Create parses the configuration and registers the write counter.
func (w *Writer) Create(cfg json.RawMessage) error {
	config := DefaultConfig()
	if len(cfg) > 0 && string(cfg) != "null" {
		if err := json.Unmarshal(cfg, &config); err != nil {
			return errors.Configf(w.ID(), "Create", "writer config: %v", err)
		}
	}
	if config.Path == "" {
		return errors.Configf(w.ID(), "Create", "writer requires a path")
	}
	if err := w.Base.Create(cfg); err != nil {
		return err
	}
	w.mu.Lock()
	w.config = config
	w.mu.Unlock()

	if w.registrar != nil {
		w.writes = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "sight",
			Subsystem:   "writer",
			Name:        "writes_total",
			Help:        "Total number of records written",
			ConstLabels: prometheus.Labels{"service": w.ID()},
		})
		if err := w.registrar.RegisterCounter(w.ID(), "writes", w.writes); err != nil {
			w.Logger().Warn("Writer metrics disabled", "error", err)
			w.writes = nil
		}
	}
	return nil
}

// Start opens the output file.
func (w *Writer) Start(ctx context.Context) error {
	if err := w.Base.Start(ctx); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if dir := filepath.Dir(w.config.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.WrapTransient(err, w.ID(), "Start", "create directory")
		}
	}
	flags := os.O_CREATE | os.O_WRONLY
	if w.config.Append {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(w.config.Path, flags, 0o644)
	if err != nil {
		return errors.WrapTransient(err, w.ID(), "Start", "open "+w.config.Path)
	}
	w.file = f
	w.buf = bufio.NewWriter(f)
	// later restarts append to what this round wrote
	w.config.Append = true
	return nil
}

// Update writes the current input.
func (w *Writer) Update(ctx context.Context) error {
	if err := w.Base.Update(ctx); err != nil {
		return err
	}
	return w.write(ctx)
}

// Stop flushes and closes the output file.
func (w *Writer) Stop(timeout time.Duration) error {
	if err := w.Base.Stop(timeout); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *Writer) closeLocked() error {
	if w.file == nil {
		return nil
	}
	flushErr := w.buf.Flush()
	closeErr := w.file.Close()
	w.file, w.buf = nil, nil
	if flushErr != nil {
		return errors.Wrap(flushErr, w.ID(), "Stop", "flush")
	}
	if closeErr != nil {
		return errors.Wrap(closeErr, w.ID(), "Stop", "close")
	}
	return nil
}

// Lines returns the number of records written since creation.
func (w *Writer) Lines() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lines
}

func (w *Writer) write(ctx context.Context) error {
	obj, ok := w.Input(KeyImage)
	if !ok {
		return nil
	}
	raw, err := json.Marshal(obj)
	if err != nil {
		return errors.WrapInvalid(err, w.ID(), "write", "encode "+obj.TypeName())
	}
	line, err := json.Marshal(Record{Writer: w.ID(), Written: time.Now().UTC(), Object: raw})
	if err != nil {
		return errors.WrapInvalid(err, w.ID(), "write", "encode record")
	}

	w.mu.Lock()
	if w.buf == nil {
		w.mu.Unlock()
		return nil
	}
	if _, err := w.buf.Write(append(line, '\n')); err != nil {
		w.mu.Unlock()
		err = errors.WrapTransient(err, w.ID(), "write", "write record")
		w.RecordError(err)
		return err
	}
	if err := w.buf.Flush(); err != nil {
		w.mu.Unlock()
		err = errors.WrapTransient(err, w.ID(), "write", "flush record")
		w.RecordError(err)
		return err
	}
	w.lines++
	n := w.lines
	w.mu.Unlock()

	if w.writes != nil {
		w.writes.Inc()
	}
	w.RecordError(nil)
	sig, _ := w.Signal(SignalSaved)
	if err := sig.Emit(ctx, n); err != nil {
		return errors.Wrap(err, w.ID(), "write", fmt.Sprintf("emit %s", SignalSaved))
	}
	return nil
}

// Destroy closes any file left open and releases the write counter.
func (w *Writer) Destroy() error {
	if err := w.Base.Destroy(); err != nil {
		return err
	}
	w.mu.Lock()
	err := w.closeLocked()
	w.mu.Unlock()

	if w.writes != nil && w.registrar != nil {
		w.registrar.Unregister(w.ID(), "writes")
		w.writes = nil
	}
	return err
}
