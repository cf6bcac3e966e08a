package main

import (
	"flag"
	"fmt"
	"os"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigDir       string
	App             string
	Params          paramFlag
	AutoPrefix      bool
	Watch           bool
	NATSURL         string
	NATSPrefix      string
	MetricsAddr     string
	LogLevel        string
	LogFormat       string
	StopTimeout     time.Duration
	ShutdownTimeout time.Duration
	ShowVersion     bool
	ShowHelp        bool
	Validate        bool
}

// paramFlag collects repeated KEY=VALUE template parameters
type paramFlag map[string]string

func (p paramFlag) String() string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+p[k])
	}
	return strings.Join(parts, ",")
}

func (p paramFlag) Set(value string) error {
	key, val, ok := strings.Cut(value, "=")
	if !ok || key == "" {
		return fmt.Errorf("parameter %q is not KEY=VALUE", value)
	}
	p[key] = val
	return nil
}

func parseFlags(fs *flag.FlagSet, args []string) (*CLIConfig, error) {
	cfg := &CLIConfig{Params: paramFlag{}}

	fs.StringVar(&cfg.ConfigDir, "config-dir",
		getEnv("SIGHTAPP_CONFIG_DIR", "configs"),
		"Directory of configuration templates (env: SIGHTAPP_CONFIG_DIR)")

	fs.StringVar(&cfg.App, "app",
		getEnv("SIGHTAPP_APP", ""),
		"Id of the configuration to launch (env: SIGHTAPP_APP)")

	fs.Var(cfg.Params, "param", "Template parameter KEY=VALUE, repeatable")

	fs.BoolVar(&cfg.AutoPrefix, "auto-prefix",
		getEnvBool("SIGHTAPP_AUTO_PREFIX", false),
		"Prefix declared uids with the generated instance uid (env: SIGHTAPP_AUTO_PREFIX)")

	fs.BoolVar(&cfg.Watch, "watch",
		getEnvBool("SIGHTAPP_WATCH", false),
		"Relaunch the configuration when its template changes (env: SIGHTAPP_WATCH)")

	fs.StringVar(&cfg.NATSURL, "nats-url",
		getEnv("SIGHTAPP_NATS_URL", ""),
		"NATS server for the event mesh, empty for in-process (env: SIGHTAPP_NATS_URL)")

	fs.StringVar(&cfg.NATSPrefix, "nats-prefix",
		getEnv("SIGHTAPP_NATS_PREFIX", "sight.proxy"),
		"Subject prefix of mesh channels (env: SIGHTAPP_NATS_PREFIX)")

	fs.StringVar(&cfg.MetricsAddr, "metrics-addr",
		getEnv("SIGHTAPP_METRICS_ADDR", ":9090"),
		"Metrics and health listen address, empty to disable (env: SIGHTAPP_METRICS_ADDR)")

	fs.StringVar(&cfg.LogLevel, "log-level",
		getEnv("SIGHTAPP_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: SIGHTAPP_LOG_LEVEL)")

	fs.StringVar(&cfg.LogFormat, "log-format",
		getEnv("SIGHTAPP_LOG_FORMAT", "json"),
		"Log format: json, text (env: SIGHTAPP_LOG_FORMAT)")

	fs.DurationVar(&cfg.StopTimeout, "stop-timeout",
		getEnvDuration("SIGHTAPP_STOP_TIMEOUT", 5*time.Second),
		"Timeout given to each service Stop (env: SIGHTAPP_STOP_TIMEOUT)")

	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("SIGHTAPP_SHUTDOWN_TIMEOUT", 30*time.Second),
		"Graceful shutdown timeout (env: SIGHTAPP_SHUTDOWN_TIMEOUT)")

	fs.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	fs.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	fs.BoolVar(&cfg.Validate, "validate", false, "Build the configuration and exit")

	fs.Usage = func() {
		printDetailedHelp(fs)
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.ShowVersion || cfg.ShowHelp {
		return nil
	}
	if cfg.App == "" {
		return fmt.Errorf("no configuration id given (--app)")
	}
	if info, err := os.Stat(cfg.ConfigDir); err != nil || !info.IsDir() {
		return fmt.Errorf("config directory not found: %s", cfg.ConfigDir)
	}
	if !slices.Contains([]string{"debug", "info", "warn", "error"}, cfg.LogLevel) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}
	if !slices.Contains([]string{"json", "text"}, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}
	if cfg.StopTimeout <= 0 || cfg.ShutdownTimeout <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	return nil
}

func printDetailedHelp(fs *flag.FlagSet) {
	_, _ = fmt.Fprintf(fs.Output(), `%s - declarative service graph runtime

Usage: %s [options]

Options:
`, appName, appName)
	fs.PrintDefaults()
	_, _ = fmt.Fprintf(fs.Output(), `
Examples:
  # Launch the "viewer" configuration found in ./configs
  %s --app=viewer --param SOURCE=/data/image.raw

  # Share the event mesh with other processes through NATS
  %s --app=viewer --nats-url=nats://localhost:4222

  # Check that a configuration builds
  %s --app=viewer --validate

Version: %s
`, appName, appName, appName, Version)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
