// Package logger provides the Logger sample service, which writes every
// payload reaching its log slot to the structured log.
package logger

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/IRCAD/sight-sub074/errors"
	"github.com/IRCAD/sight-sub074/metric"
	"github.com/IRCAD/sight-sub074/service"
)

// TypeName is the implementation name used in configurations.
const TypeName = "Logger"

// SlotLog receives the payloads to log
const SlotLog = "log"

// Config holds the logger configuration
type Config struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// Logger logs slot payloads
type Logger struct {
	*service.Base

	registrar metric.MetricsRegistrar
	entries   prometheus.Counter
	count     atomic.Int64

	level   slog.Level
	message string
}

// New creates a logger service.
func New(deps *service.Dependencies) (service.Service, error) {
	l := &Logger{Base: service.NewBase(deps), registrar: deps.MetricsRegistry, level: slog.LevelInfo, message: "Received"}
	l.AddSlot(SlotLog, l.log)
	return l, nil
}

// Register registers the logger with a service registry
func Register(reg *service.Registry) error {
	return reg.Register(TypeName, New)
}

// Create parses the level and registers the entry counter.
func (l *Logger) Create(cfg json.RawMessage) error {
	var config Config
	if len(cfg) > 0 && string(cfg) != "null" {
		if err := json.Unmarshal(cfg, &config); err != nil {
			return errors.Configf(l.ID(), "Create", "logger config: %v", err)
		}
	}
	if config.Level != "" {
		if err := l.level.UnmarshalText([]byte(strings.ToUpper(config.Level))); err != nil {
			return errors.Configf(l.ID(), "Create", "unknown level %q", config.Level)
		}
	}
	if config.Message != "" {
		l.message = config.Message
	}
	if err := l.Base.Create(cfg); err != nil {
		return err
	}

	if l.registrar != nil {
		l.entries = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "sight",
			Subsystem:   "logger",
			Name:        "entries_total",
			Help:        "Total number of logged payloads",
			ConstLabels: prometheus.Labels{"service": l.ID()},
		})
		if err := l.registrar.RegisterCounter(l.ID(), "entries", l.entries); err != nil {
			l.Logger().Warn("Logger metrics disabled", "error", err)
			l.entries = nil
		}
	}
	return nil
}

// Entries returns how many payloads were logged.
func (l *Logger) Entries() int64 {
	return l.count.Load()
}

func (l *Logger) log(ctx context.Context, payload any) error {
	if l.Status() != service.StatusStarted {
		return nil
	}
	l.count.Add(1)
	if l.entries != nil {
		l.entries.Inc()
	}
	l.Logger().Log(ctx, l.level, l.message, "payload", payload)
	return nil
}

// Destroy releases the entry counter.
func (l *Logger) Destroy() error {
	if err := l.Base.Destroy(); err != nil {
		return err
	}
	if l.entries != nil && l.registrar != nil {
		l.registrar.Unregister(l.ID(), "entries")
		l.entries = nil
	}
	return nil
}
