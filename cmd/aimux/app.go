package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/jeffersonwarrior/aimux-sub000/pkg/config"
	"github.com/jeffersonwarrior/aimux-sub000/pkg/gateway"
	"github.com/jeffersonwarrior/aimux-sub000/pkg/providers"
	"github.com/jeffersonwarrior/aimux-sub000/pkg/providers/bridge"
	"github.com/jeffersonwarrior/aimux-sub000/pkg/server"
	"github.com/jeffersonwarrior/aimux-sub000/pkg/storage"
	"github.com/jeffersonwarrior/aimux-sub000/pkg/telemetry/metrics"
	"github.com/jeffersonwarrior/aimux-sub000/pkg/telemetry/tracing"
)

// app holds every long-lived component of a running gateway.
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	tracer    *tracing.Tracer
	manager   *gateway.Manager
	exporter  *metrics.Exporter
	store     storage.Store
	scheduler *storage.Scheduler
	server    *server.Server
}

// newApp wires the components described by cfg. Nothing is started.
func newApp(cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	tracer, err := tracing.New(cfg.Telemetry.Tracing, tracing.WithVersion(Version))
	if err != nil {
		return nil, fmt.Errorf("failed to create tracer: %w", err)
	}
	a.tracer = tracer

	httpBridge := bridge.New(
		bridge.WithLogger(logger),
		bridge.WithMaxBodyBytes(cfg.Server.MaxBodyBytes),
	)
	manager, err := gateway.NewFromConfig(cfg,
		gateway.WithBridge(httpBridge),
		gateway.WithTracer(tracer),
		gateway.WithLogger(logger),
	)
	if err != nil {
		a.close()
		return nil, err
	}
	a.manager = manager

	opts := []server.Option{
		server.WithLogger(logger),
		server.WithTracer(tracer),
		server.WithVersion(versionInfo()),
	}

	if cfg.Telemetry.Metrics.IsEnabled() {
		a.exporter = metrics.NewExporter(cfg.Telemetry.Metrics.Namespace, nil, manager.Collector())
		for name, h := range manager.Metrics().ProviderHealth {
			a.exporter.SetProviderHealth(name, h.Enabled && h.State == providers.HealthHealthy)
		}
		manager.OnHealthTransition(func(t providers.Transition) {
			a.exporter.SetProviderHealth(t.Name, t.To == providers.HealthHealthy)
		})
		manager.OnProviderChange(func(name string, added bool) {
			if added {
				a.exporter.SetProviderHealth(name, true)
				return
			}
			a.exporter.RemoveProvider(name)
		})
		opts = append(opts, server.WithExporter(a.exporter, cfg.Telemetry.Metrics.Path))
	}

	if cfg.Storage.Enabled {
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.Path), 0o755); err != nil {
			a.close()
			return nil, fmt.Errorf("failed to create storage directory: %w", err)
		}
		store, err := storage.NewSQLiteStoreWithConfig(storage.SQLiteConfig{
			Path:        cfg.Storage.Path,
			BusyTimeout: cfg.Storage.BusyTimeout,
		})
		if err != nil {
			a.close()
			return nil, fmt.Errorf("failed to open snapshot store: %w", err)
		}
		a.store = store
		a.scheduler = storage.NewScheduler(store, manager, storage.SchedulerConfig{
			SnapshotSchedule: cfg.Storage.SnapshotSchedule,
			Retention:        time.Duration(cfg.Storage.RetentionDays) * 24 * time.Hour,
		}, logger)
		opts = append(opts, server.WithSnapshots(store, a.scheduler))
	}

	a.server = server.New(cfg.Server, manager, opts...)
	return a, nil
}

// start initializes the gateway and the snapshot scheduler.
func (a *app) start(ctx context.Context) error {
	if err := a.manager.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize gateway: %w", err)
	}
	for _, problem := range a.manager.ConfigurationErrors() {
		a.logger.Warn("configuration problem", zap.String("problem", problem))
	}

	if a.scheduler != nil {
		if err := a.scheduler.Start(ctx); err != nil {
			return fmt.Errorf("failed to start snapshot scheduler: %w", err)
		}
		a.snapshot(ctx, "startup")
	}
	return nil
}

// reload applies a new configuration to the running gateway.
func (a *app) reload(ctx context.Context, cfg *config.Config) error {
	if err := a.manager.LoadConfiguration(cfg); err != nil {
		return err
	}
	a.snapshot(ctx, "reload")
	return nil
}

func (a *app) snapshot(ctx context.Context, reason string) {
	if a.scheduler == nil {
		return
	}
	if _, err := a.scheduler.SnapshotNow(ctx, reason); err != nil {
		a.logger.Warn("snapshot failed", zap.String("reason", reason), zap.Error(err))
	}
}

// shutdown stops components in reverse dependency order.
func (a *app) shutdown(ctx context.Context) error {
	var errs []error
	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.scheduler != nil {
		a.snapshot(ctx, "shutdown")
		a.scheduler.Stop()
	}
	if a.manager != nil {
		if err := a.manager.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("gateway shutdown: %w", err))
		}
	}
	a.close()
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer shutdown: %w", err))
		}
	}
	return errors.Join(errs...)
}

// close releases resources that do not need a context.
func (a *app) close() {
	if a.exporter != nil {
		a.exporter.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("failed to close snapshot store", zap.Error(err))
		}
	}
}
