package cli

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jdziat/simple-batch-runtime/internal/config"
	"github.com/jdziat/simple-batch-runtime/internal/telemetry"
	"github.com/jdziat/simple-batch-runtime/pkg/storage"
)

// env holds the resources shared by commands touching the database.
type env struct {
	cfg    config.Config
	logger *slog.Logger
	db     *gorm.DB
	store  *storage.GormStore
	otel   *telemetry.Providers

	closers []func(context.Context) error
}

// loadConfig resolves configuration for opts.
func loadConfig(opts *RootOptions) (config.Config, error) {
	resolve := opts.Resolve
	if resolve == nil {
		resolve = config.EnvResolver()
	}
	cfg, err := config.Load(resolve)
	if err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "load config", err)
	}
	return cfg, nil
}

// newLogger builds the command logger writing to w.
func newLogger(opts *RootOptions, cfg config.Config, w io.Writer) *slog.Logger {
	if opts.Logger != nil {
		return opts.Logger
	}
	level := slog.LevelInfo
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if opts.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// openEnv loads configuration, starts telemetry and connects to the
// database. The trace tables are migrated before returning.
func openEnv(ctx context.Context, opts *RootOptions, stderr io.Writer) (*env, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	e := &env{cfg: cfg, logger: newLogger(opts, cfg, stderr)}

	version := opts.Version
	if version == "" {
		version = "dev"
	}
	providers, err := telemetry.Init(ctx, telemetry.Options{
		Endpoint:    cfg.OTELEndpoint,
		Insecure:    cfg.OTELInsecure,
		ServiceName: cfg.ServiceName,
		Version:     version,
		BatchName:   cfg.BatchName,
		Driver:      cfg.DatabaseDriver,
	})
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "init telemetry", err)
	}
	e.otel = providers
	e.closers = append(e.closers, providers.Shutdown)

	logLevel := logger.Warn
	if opts.Verbose {
		logLevel = logger.Info
	}
	db, err := storage.Open(cfg.DatabaseDriver, cfg.DatabaseURL, storage.LogLevel(logLevel))
	if err != nil {
		_ = e.close()
		return nil, WrapExitError(ExitCommandError, "open database", err)
	}
	e.db = db
	e.closers = append(e.closers, func(context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	})

	store, err := storage.NewGormStore(db,
		storage.WithJobTable(cfg.JobTable),
		storage.WithStepTable(cfg.StepTable),
	)
	if err != nil {
		_ = e.close()
		return nil, WrapExitError(ExitCommandError, "create store", err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = e.close()
		return nil, WrapExitError(ExitCommandError, "migrate trace tables", err)
	}
	e.store = store
	return e, nil
}

// close releases resources in reverse order of acquisition.
func (e *env) close() error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		errs = append(errs, e.closers[i](context.Background()))
	}
	e.closers = nil
	return errors.Join(errs...)
}
