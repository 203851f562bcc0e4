package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"inventorycore/internal/adapters/archive"
	"inventorycore/internal/config"
	"inventorycore/internal/core"
	"inventorycore/internal/editlock"
	"inventorycore/internal/infra/blob"
	"inventorycore/internal/observability"
	"inventorycore/pkg/domain"
)

// app holds the resources shared by every subcommand of one invocation.
type app struct {
	configPath  string
	envFile     string
	actor       string
	metricsFile string

	cfg      *config.Config
	logger   *observability.Logger
	store    domain.PersistentStore
	svc      *core.Service
	registry *prometheus.Registry
	tp       *sdktrace.TracerProvider
	closers  []func() error
}

func (a *app) init(ctx context.Context, stderr io.Writer) error {
	if err := godotenv.Load(a.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", a.envFile, err)
	}
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg

	logger, err := observability.NewLogger(cfg.Log)
	if err != nil {
		return err
	}
	a.logger = logger
	a.closers = append(a.closers, func() error {
		_ = logger.Sync()
		return nil
	})

	store, err := core.OpenPersistentStore(core.StorageOptions{
		Driver:      core.StorageDriver(cfg.Storage.Driver),
		SQLitePath:  cfg.Storage.SQLitePath,
		PostgresDSN: cfg.Storage.PostgresDSN,
	}, core.NewDefaultRulesEngine())
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	a.store = store
	if c, ok := store.(io.Closer); ok {
		a.closers = append(a.closers, c.Close)
	}

	var lockStore editlock.Store
	if cfg.Locks.Backend == "redis" {
		rdb, err := editlock.DialRedis(ctx, cfg.Locks.RedisAddr, cfg.Locks.RedisPassword, cfg.Locks.RedisDB)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, rdb.Close)
		lockStore = editlock.NewRedisStore(rdb, cfg.Locks.RedisPrefix)
	}

	a.registry = prometheus.NewRegistry()
	metrics, err := observability.NewPrometheusRecorder(a.registry)
	if err != nil {
		return err
	}

	var perms domain.Permissions = domain.AllowAll{}
	if cfg.Permissions.Mode == "owner" {
		perms = domain.NewOwnerPermissions(cfg.Permissions.Admins...)
	}
	opts := []core.Option{
		core.WithPermissions(perms),
		core.WithEditLocks(editlock.NewTracker(lockStore, editlock.WithTTL(cfg.Locks.TTL))),
		core.WithLogger(logger),
		core.WithAuditRecorder(observability.NewLogAuditRecorder(logger)),
		core.WithMetricsRecorder(metrics),
		core.WithMaxBatchSize(cfg.Bulk.MaxBatchSize),
	}
	if cfg.Tracing.Enabled {
		tp, err := observability.NewTracerProvider(ctx, cfg.Tracing, stderr)
		if err != nil {
			return err
		}
		a.tp = tp
		opts = append(opts, core.WithTracer(observability.NewOTelTracer(tp)))
	}
	a.svc = core.NewService(store, opts...)
	return nil
}

func (a *app) archiver(ctx context.Context) (*archive.Archiver, error) {
	source, ok := a.store.(archive.StateSource)
	if !ok {
		return nil, fmt.Errorf("storage driver %s cannot export snapshots", a.cfg.Storage.Driver)
	}
	store, err := blob.Open(ctx, a.cfg.Blob)
	if err != nil {
		return nil, fmt.Errorf("open blob store: %w", err)
	}
	return archive.New(store, source), nil
}

func (a *app) close(ctx context.Context) error {
	var errs []error
	if a.tp != nil {
		errs = append(errs, a.tp.Shutdown(ctx))
	}
	if a.metricsFile != "" && a.registry != nil {
		if err := prometheus.WriteToTextfile(a.metricsFile, a.registry); err != nil {
			errs = append(errs, fmt.Errorf("write metrics: %w", err))
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *app) requireActor() (string, error) {
	if a.actor == "" {
		return "", errors.New("--actor is required")
	}
	return a.actor, nil
}
