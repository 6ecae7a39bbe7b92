package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/tidefall/reflex/internal/api"
	"github.com/tidefall/reflex/internal/config"
	"github.com/tidefall/reflex/internal/engine"
	"github.com/tidefall/reflex/internal/metrics"
	"github.com/tidefall/reflex/internal/reload"
	"github.com/tidefall/reflex/internal/storage"
)

// NewServeCommand creates the serve command.
func NewServeCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the engine with the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")
	return cmd
}

func runServe(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	eng := engine.New(
		engine.WithMaxConcurrency(cfg.Engine.MaxConcurrency),
		engine.WithMaxChainDepth(cfg.Engine.MaxChainDepth),
		engine.WithMaxEvents(cfg.Engine.MaxEvents),
		engine.WithMaxTraceEntries(cfg.Engine.MaxTraceEntries),
		engine.WithShutdownTimeout(cfg.Engine.ShutdownTimeout),
		engine.WithLogger(logger),
	)

	adapter, err := openStorage(cfg.Storage)
	if err != nil {
		return err
	}
	if adapter != nil {
		defer adapter.Close()
		if cfg.Storage.LoadOnStart {
			found, err := eng.LoadSnapshot(context.Background(), adapter, engine.SnapshotKey)
			if err != nil {
				return err
			}
			if !found {
				logger.Info("no snapshot to restore")
			}
		}
	}

	registry := prometheus.NewRegistry()
	m := metrics.New(registry, eng)
	unbind := m.Bind(eng.Trace())
	defer unbind()

	watcher, stopWatch, err := startReload(eng, cfg.Rules, logger)
	if err != nil {
		return err
	}
	if watcher != nil {
		defer watcher.Stop()
	}
	if stopWatch != nil {
		defer stopWatch()
	}

	srv := api.New(eng, api.Options{
		Storage:  adapter,
		Gatherer: registry,
		ServerID: cfg.Server.ServerID,
		Logger:   logger,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(cfg.Server.Addr) }()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Engine.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	if err := eng.Stop(shutdownCtx); err != nil {
		logger.Warn("engine stop", "error", err)
	}
	if adapter != nil && cfg.Storage.SaveOnStop {
		if err := eng.SaveSnapshot(context.Background(), adapter, engine.SnapshotKey, cfg.Server.ServerID); err != nil {
			logger.Error("final snapshot failed", "error", err)
		}
	}
	return nil
}

func newLogger(cfg config.Logging) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func openStorage(cfg config.Storage) (storage.Adapter, error) {
	switch cfg.Driver {
	case "":
		return nil, nil
	case "memory":
		return storage.NewMemory(), nil
	case "sqlite":
		return storage.OpenSQLite(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// startReload wires the rule source and optional file watching. Returns
// nils when no source is configured.
func startReload(eng *engine.Engine, cfg config.Rules, logger *slog.Logger) (*reload.Watcher, func(), error) {
	var src reload.Source
	var watchPaths []string
	switch {
	case cfg.Dir != "":
		src = &reload.DirSource{Dir: cfg.Dir}
		watchPaths = []string{cfg.Dir}
	case len(cfg.Paths) > 0:
		src = &reload.FileSource{Paths: cfg.Paths}
		watchPaths = cfg.Paths
	default:
		return nil, nil, nil
	}

	watcher := reload.NewWatcher(eng, src, eng.Trace(), reload.Options{
		PollInterval:        cfg.PollInterval,
		ValidateBeforeApply: cfg.ValidateBeforeApply,
		Logger:              logger,
	})
	if err := watcher.Start(context.Background()); err != nil {
		return nil, nil, fmt.Errorf("load rules: %w", err)
	}

	var stopWatch func()
	if cfg.Watch {
		var err error
		stopWatch, err = reload.WatchFiles(watcher, watchPaths...)
		if err != nil {
			logger.Warn("file watching unavailable, polling only", "error", err)
		}
	}
	return watcher, stopWatch, nil
}
