package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/accrt/internal/backend"
	"github.com/samcharles93/accrt/internal/backend/sim"
	"github.com/samcharles93/accrt/internal/config"
	"github.com/samcharles93/accrt/internal/logger"
	"github.com/samcharles93/accrt/pkg/accrt"
)

type settingsKey struct{}

// setup loads the config file, applies explicitly set global flags on top
// and stores the result and a logger in the context.
func setup(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	path := configFile
	if path == "" {
		path = config.Path()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return ctx, err
	}
	applyFlags(cmd, &cfg)
	if err := cfg.Validate(); err != nil {
		return ctx, fmt.Errorf("invalid configuration: %w", err)
	}

	level := logger.ParseLevel(cfg.LogLevel)
	log, err := logger.ForFormat(cmd.Root().ErrWriter, cfg.LogFormat, level)
	if err != nil {
		return ctx, err
	}
	if level <= slog.LevelDebug {
		log.Debug("configuration loaded", "path", path, "backend", cfg.Backend, "streams", cfg.Streams)
	}

	ctx = logger.WithContext(ctx, log)
	ctx = context.WithValue(ctx, settingsKey{}, cfg)
	return ctx, nil
}

// applyFlags overrides cfg with the global flags the user set explicitly.
func applyFlags(cmd *cli.Command, cfg *config.Config) {
	if cmd.IsSet("backend") {
		cfg.Backend = backendName
	}
	if cmd.IsSet("streams") {
		cfg.Streams = int(streams)
	}
	if cmd.IsSet("log-level") {
		cfg.LogLevel = logLevel
	}
	if cmd.IsSet("log-format") {
		cfg.LogFormat = logFormat
	}
	if debug {
		cfg.LogLevel = "debug"
	}
}

func settingsFrom(ctx context.Context) config.Config {
	if cfg, ok := ctx.Value(settingsKey{}).(config.Config); ok {
		return cfg
	}
	return config.Default()
}

// openRuntime opens the configured backend and wraps it in a runtime.
func openRuntime(cfg config.Config, log logger.Logger) (*accrt.Runtime, error) {
	drv, err := backend.Open(backend.Options{
		Name:   cfg.Backend,
		Logger: log,
		Sim: sim.Options{
			CopyLatency: cfg.CopyLatency,
			MemoryLimit: cfg.MemoryLimit,
			LockPages:   cfg.LockHostPages,
		},
	})
	if err != nil {
		return nil, err
	}
	opts := accrt.Options{
		Driver:  drv,
		Streams: cfg.Streams,
		Logger:  log,
	}
	if cfg.FatalExit {
		opts.OnFatal = accrt.ExitOnFatal(log)
	}
	return accrt.New(opts)
}
