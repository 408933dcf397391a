// Package main implements the entry point for the entitystream server:
// a real-time event distribution and correlation engine with guaranteed
// delivery, WebSocket/SSE fan-out, and an optional NATS bus for
// inter-process distribution.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/c360/entitystream/config"
	"github.com/c360/entitystream/engine"
	"github.com/c360/entitystream/gateway"
	"github.com/c360/entitystream/metric"
	"github.com/c360/entitystream/natsclient"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "entitystream"
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

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}
	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil
	}

	cfg, err := config.Load(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	applyCLIOverrides(cfg, cliCfg)

	if cliCfg.Validate {
		slog.Info("Configuration is valid")
		return nil
	}

	logger := setupLogger(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	slog.Info("Starting entitystream",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath)

	signalCtx, signalCancel := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	metricsRegistry := metric.NewRegistry()

	bus, err := setupBus(signalCtx, cfg, logger, metricsRegistry)
	if err != nil {
		return err
	}
	if bus != nil {
		defer bus.Close()
	}

	eng, err := setupEngine(cfg, logger, metricsRegistry, bus)
	if err != nil {
		return err
	}
	eng.Start(signalCtx)
	defer eng.Stop()

	srv, err := setupGateway(cfg, eng, logger, metricsRegistry, bus)
	if err != nil {
		return err
	}
	if err := srv.Start(signalCtx); err != nil {
		return fmt.Errorf("start gateway: %w", err)
	}

	if cliCfg.Watch {
		go watchConfig(signalCtx, cliCfg.ConfigPath, logger)
	}

	slog.Info("entitystream started",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"bus_enabled", bus != nil)

	<-signalCtx.Done()
	slog.Info("Received shutdown signal")

	if err := srv.Stop(cliCfg.ShutdownTimeout); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	slog.Info("entitystream shutdown complete")
	return nil
}

// applyCLIOverrides lets flags win over file and environment settings.
func applyCLIOverrides(cfg *config.Config, cliCfg *CLIConfig) {
	if cliCfg.LogLevel != "" {
		cfg.Logging.Level = cliCfg.LogLevel
	}
	if cliCfg.LogFormat != "" {
		cfg.Logging.Format = cliCfg.LogFormat
	}
}

// setupBus connects the optional NATS bus. Connection failure is fatal at
// startup: a configured bus that cannot be reached is a deployment error,
// while reconnects after startup are handled by the client itself.
func setupBus(
	ctx context.Context,
	cfg *config.Config,
	logger *slog.Logger,
	metricsRegistry *metric.Registry,
) (*natsclient.Client, error) {
	if !cfg.NATS.Enabled {
		return nil, nil
	}

	opts := []natsclient.ClientOption{
		natsclient.WithMaxReconnects(cfg.NATS.MaxReconnects),
		natsclient.WithCredentials(cfg.NATS.Username, cfg.NATS.Password),
		natsclient.WithToken(cfg.NATS.Token),
		natsclient.WithLogger(logger),
		natsclient.WithMetrics(metricsRegistry),
	}
	if cfg.NATS.ReconnectWait > 0 {
		opts = append(opts, natsclient.WithReconnectWait(cfg.NATS.ReconnectWait))
	}

	bus, err := natsclient.NewClient(cfg.NATS.URLs, opts...)
	if err != nil {
		return nil, fmt.Errorf("create NATS client: %w", err)
	}

	slog.Info("Connecting to NATS bus")
	connCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := bus.Connect(connCtx); err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return bus, nil
}

func setupEngine(
	cfg *config.Config,
	logger *slog.Logger,
	metricsRegistry *metric.Registry,
	bus *natsclient.Client,
) (*engine.Engine, error) {
	opts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithMetrics(metricsRegistry),
	}
	if bus != nil {
		opts = append(opts, engine.WithBus(bus))
	}

	eng, err := engine.New(cfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("create engine: %w", err)
	}
	return eng, nil
}

func setupGateway(
	cfg *config.Config,
	eng *engine.Engine,
	logger *slog.Logger,
	metricsRegistry *metric.Registry,
	bus *natsclient.Client,
) (*gateway.Server, error) {
	opts := []gateway.Option{
		gateway.WithLogger(logger),
		gateway.WithMetrics(metricsRegistry),
	}
	if bus != nil {
		opts = append(opts, gateway.WithBus(bus))
	}

	srv, err := gateway.NewServer(cfg, eng, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gateway: %w", err)
	}
	return srv, nil
}

// watchConfig hot-reloads logging settings on config rewrites. Structural
// settings (ports, queue sizing) need a restart; only what can change
// safely at runtime is applied.
func watchConfig(ctx context.Context, path string, logger *slog.Logger) {
	err := config.Watch(ctx, path, logger, func(cfg *config.Config) {
		slog.SetDefault(setupLogger(cfg.Logging.Level, cfg.Logging.Format))
		slog.Info("logging settings reloaded",
			"level", cfg.Logging.Level,
			"format", cfg.Logging.Format)
	})
	if err != nil {
		logger.Warn("config watcher stopped", "error", err)
	}
}
