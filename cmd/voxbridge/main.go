// Command voxbridge is the main entry point for the VoxBridge AI agent
// gateway.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/voxbridge/voxbridge/internal/app"
	"github.com/voxbridge/voxbridge/internal/config"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxbridge: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxbridge: %v\n", err)
		}
		return 1
	}

	// The level lives in a LevelVar so a config reload can flip it without
	// a restart.
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	logger.Info("voxbridge starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialise application", "error", err)
		return 1
	}

	// Watch the config file. Only the log level is applied live; anything
	// else logged as needing a restart.
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.LogLevelChanged {
			level.Set(slogLevel(d.NewLogLevel))
			logger.Info("log level changed", "level", d.NewLogLevel)
		}
		if d.OrchestratorChanged || d.JobsChanged {
			logger.Warn("config change requires a restart to take effect")
		}
	})
	if err != nil {
		logger.Warn("config watcher disabled", "error", err)
	} else {
		defer watcher.Stop()
	}

	logger.Info("server ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("run error", "error", err)
		return 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	logger.Info("shutdown signal received, stopping…")
	if err := application.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		return 1
	}
	logger.Info("goodbye")
	return 0
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
