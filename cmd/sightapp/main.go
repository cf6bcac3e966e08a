// Package main implements sightapp, which launches one application
// configuration from a directory of templates and runs it until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"slices"
	"syscall"
	"time"

	"github.com/IRCAD/sight-sub074/appconfig"
	"github.com/IRCAD/sight-sub074/appmanager"
	"github.com/IRCAD/sight-sub074/com"
	"github.com/IRCAD/sight-sub074/com/natsproxy"
	"github.com/IRCAD/sight-sub074/data"
	"github.com/IRCAD/sight-sub074/health"
	"github.com/IRCAD/sight-sub074/metric"
	"github.com/IRCAD/sight-sub074/natsclient"
	"github.com/IRCAD/sight-sub074/service"
	"github.com/IRCAD/sight-sub074/servicesregistry"
)

// Build information constants
const (
	Version = "0.1.0"
	appName = "sightapp"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		cancel()
		os.Exit(1)
	}
}

// app holds everything one run wires together
type app struct {
	cfg     *CLIConfig
	logger  *slog.Logger
	metrics *metric.MetricsRegistry
	configs *appconfig.Registry
	nats    *natsclient.Client
	mesh    com.Mesh
	manager *appmanager.Manager
	monitor *health.Monitor
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	cfg, err := parseFlags(fs, args)
	if err != nil {
		return fmt.Errorf("parse flags: %w", err)
	}
	if cfg.ShowVersion {
		_, _ = fmt.Fprintf(stdout, "%s version %s\n", appName, Version)
		return nil
	}
	if cfg.ShowHelp {
		fs.SetOutput(stdout)
		printDetailedHelp(fs)
		return nil
	}
	if err := validateFlags(cfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	logger := setupLogger(stdout, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	a := &app{cfg: cfg, logger: logger, metrics: metric.NewMetricsRegistry(), monitor: health.NewMonitor()}
	if err := a.loadConfigs(); err != nil {
		return err
	}

	if cfg.Validate {
		if _, err := a.configs.Adapted(cfg.App, cfg.Params, a.buildOptions()...); err != nil {
			return fmt.Errorf("invalid configuration %s: %w", cfg.App, err)
		}
		logger.Info("Configuration is valid", "app", cfg.App)
		return nil
	}

	if err := a.setupMesh(ctx); err != nil {
		return err
	}
	defer a.closeMesh()

	if err := a.setupManager(); err != nil {
		return err
	}

	logger.Info("Starting sightapp", "app", cfg.App, "config_dir", cfg.ConfigDir, "nats", cfg.NATSURL != "")
	return a.serve(ctx)
}

func (a *app) buildOptions() []appconfig.Option {
	if a.cfg.AutoPrefix {
		return []appconfig.Option{appconfig.WithAutoPrefix()}
	}
	return nil
}

func (a *app) loadConfigs() error {
	a.configs = appconfig.NewRegistry(a.logger)
	ids, err := a.configs.LoadDir(a.cfg.ConfigDir)
	if err != nil {
		return fmt.Errorf("load configurations: %w", err)
	}
	a.logger.Info("Configurations loaded", "count", len(ids), "ids", ids)
	if !slices.Contains(ids, a.cfg.App) {
		return fmt.Errorf("configuration %q not found in %s", a.cfg.App, a.cfg.ConfigDir)
	}
	return nil
}

// setupMesh connects to NATS when a URL is configured and falls back to the
// in-process proxy otherwise.
func (a *app) setupMesh(ctx context.Context) error {
	if a.cfg.NATSURL == "" {
		a.mesh = com.NewProxy()
		return nil
	}

	var client *natsclient.Client
	client, err := natsclient.NewClient(a.cfg.NATSURL,
		natsclient.WithLogger(a.logger),
		natsclient.WithMetrics(a.metrics.CoreMetrics()),
		natsclient.WithName(appName+"-"+a.cfg.App),
		natsclient.WithHealthChangeCallback(func(healthy bool) {
			a.logger.Info("NATS health changed", "healthy", healthy, "status", client.Status().String())
		}),
	)
	if err != nil {
		return fmt.Errorf("create NATS client: %w", err)
	}

	a.logger.Info("Connecting to NATS", "url", a.cfg.NATSURL)
	connCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := client.Connect(connCtx); err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}

	a.nats = client
	a.monitor.Probe("nats", client.Health)
	a.mesh = natsproxy.New(client, natsproxy.WithPrefix(a.cfg.NATSPrefix), natsproxy.WithLogger(a.logger))
	return nil
}

func (a *app) closeMesh() {
	if m, ok := a.mesh.(*natsproxy.Mesh); ok {
		if err := m.Close(); err != nil {
			a.logger.Warn("Mesh close failed", "error", err)
		}
	}
	if a.nats != nil {
		ctx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
		defer cancel()
		if err := a.nats.Close(ctx); err != nil {
			a.logger.Warn("NATS close failed", "error", err)
		}
	}
}

func (a *app) setupManager() error {
	services := service.NewRegistry()
	if err := servicesregistry.Register(services); err != nil {
		return fmt.Errorf("register services: %w", err)
	}
	objects := data.NewFactory(true)
	if err := servicesregistry.RegisterObjects(objects); err != nil {
		return fmt.Errorf("register object types: %w", err)
	}
	a.logger.Debug("Service types registered", "types", services.Types())

	opts := []appmanager.Option{appmanager.WithStopTimeout(a.cfg.StopTimeout)}
	if a.cfg.AutoPrefix {
		opts = append(opts, appmanager.WithAutoPrefix())
	}
	a.manager = appmanager.New(appmanager.Dependencies{
		Services: services,
		Objects:  objects,
		Mesh:     a.mesh,
		Configs:  a.configs,
		Logger:   a.logger,
		Metrics:  a.metrics,
	}, opts...)
	a.monitor.Probe("appmanager", a.manager.Health)
	return nil
}

func (a *app) health() health.Status {
	return a.monitor.Snapshot(appName)
}

func (a *app) launch(ctx context.Context) error {
	if err := a.manager.SetConfig(a.cfg.App, a.cfg.Params); err != nil {
		return fmt.Errorf("set configuration: %w", err)
	}
	if err := a.manager.Launch(ctx); err != nil {
		return fmt.Errorf("launch %s: %w", a.cfg.App, err)
	}
	a.logger.Info("Configuration launched",
		"created", len(a.manager.CreatedServices()),
		"deferred", len(a.manager.DeferredServices()))
	return nil
}

// serve launches the configuration and blocks until ctx is done, relaunching
// it whenever its template changes on disk.
func (a *app) serve(ctx context.Context) error {
	var server *metric.Server
	if a.cfg.MetricsAddr != "" {
		server = metric.NewServer(a.cfg.MetricsAddr, "/metrics", a.metrics, a.health)
		go func() {
			if err := server.Start(); err != nil {
				a.logger.Error("Metrics server failed", "error", err)
			}
		}()
	}

	reload := make(chan struct{}, 1)
	if a.cfg.Watch {
		err := a.configs.Watch(ctx, a.cfg.ConfigDir, 0, func(ids []string) {
			if !slices.Contains(ids, a.cfg.App) {
				return
			}
			select {
			case reload <- struct{}{}:
			default:
			}
		})
		if err != nil {
			return fmt.Errorf("watch configurations: %w", err)
		}
	}

	if err := a.launch(ctx); err != nil {
		if serr := a.shutdown(server); serr != nil {
			a.logger.Warn("Teardown after failed launch", "error", serr)
		}
		return err
	}

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("Received shutdown signal")
			return a.shutdown(server)
		case <-reload:
			a.logger.Info("Configuration changed, relaunching", "app", a.cfg.App)
			if err := a.manager.StopAndDestroy(a.cfg.StopTimeout); err != nil {
				a.logger.Error("Teardown before relaunch failed", "error", err)
			}
			if err := a.launch(ctx); err != nil {
				a.logger.Error("Relaunch failed, waiting for the next change", "error", err)
			}
		}
	}
}

func (a *app) shutdown(server *metric.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()

	err := a.manager.StopAndDestroy(a.cfg.StopTimeout)
	if server != nil {
		if serr := server.Stop(ctx); serr != nil {
			a.logger.Warn("Metrics server shutdown failed", "error", serr)
		}
	}
	if err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	a.logger.Info("Shutdown complete")
	return nil
}
