// Package config loads and validates batch configuration from a key/value resolver.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/jdziat/simple-batch-runtime/pkg/security"
	"github.com/jdziat/simple-batch-runtime/pkg/storage"
)

// Resolver looks up a configuration value by key.
type Resolver func(key string) (string, bool)

// EnvResolver resolves keys from the process environment.
func EnvResolver() Resolver {
	return os.LookupEnv
}

// MapResolver resolves keys from a fixed map.
func MapResolver(values map[string]string) Resolver {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

// LoadDotEnv loads a .env file into the environment without overriding
// variables already set. A missing file is not an error.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

// Config holds all batch configuration.
type Config struct {
	// Batch settings.
	BatchName                string
	CommitInterval           int
	DryRun                   bool
	MaxAwait                 time.Duration // Negative waits forever, zero does not wait.
	FailOnTimeout            bool
	FailOnPromiseError       bool
	ForceAwaitOnPromiseError bool
	AcceptedLoss             float64 // Fraction of the reference allowed to disappear.

	// Database settings.
	DatabaseDriver string // "sqlite" or "postgres"
	DatabaseURL    string
	JobTable       string
	StepTable      string

	// OTEL settings.
	OTELEndpoint string
	ServiceName  string
	OTELInsecure bool

	// Operational settings.
	LogLevel string
}

// Load reads configuration through resolve with sensible defaults.
func Load(resolve Resolver) (Config, error) {
	r := reader{resolve: resolve}
	cfg := Config{
		BatchName:                r.str("BATCH_NAME", "reconcile"),
		CommitInterval:           r.int("BATCH_COMMIT_INTERVAL", 50),
		DryRun:                   r.bool("BATCH_DRY_RUN", false),
		MaxAwait:                 r.duration("BATCH_MAX_AWAIT", -1*time.Second),
		FailOnTimeout:            r.bool("BATCH_FAIL_ON_TIMEOUT", false),
		FailOnPromiseError:       r.bool("BATCH_FAIL_ON_PROMISE_ERROR", false),
		ForceAwaitOnPromiseError: r.bool("BATCH_FORCE_AWAIT_ON_PROMISE_ERROR", false),
		AcceptedLoss:             r.float("BATCH_ACCEPTED_LOSS", 1),
		DatabaseDriver:           r.str("DATABASE_DRIVER", storage.DriverSQLite),
		DatabaseURL:              r.str("DATABASE_URL", "batch.db"),
		JobTable:                 r.str("BATCH_JOB_TABLE", storage.DefaultJobTable),
		StepTable:                r.str("BATCH_STEP_TABLE", storage.DefaultStepTable),
		OTELEndpoint:             r.str("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		ServiceName:              r.str("OTEL_SERVICE_NAME", "simple-batch-runtime"),
		OTELInsecure:             r.bool("OTEL_INSECURE", false),
		LogLevel:                 r.str("BATCH_LOG_LEVEL", "info"),
	}
	if err := errors.Join(r.errs...); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if err := security.ValidateBatchName(c.BatchName); err != nil {
		return fmt.Errorf("config: BATCH_NAME: %w", err)
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("config: DATABASE_URL is required")
	}
	if c.DatabaseDriver != storage.DriverSQLite && c.DatabaseDriver != storage.DriverPostgres {
		return fmt.Errorf("config: DATABASE_DRIVER must be %q or %q, got %q", storage.DriverSQLite, storage.DriverPostgres, c.DatabaseDriver)
	}
	if c.CommitInterval <= 0 {
		return fmt.Errorf("config: BATCH_COMMIT_INTERVAL must be positive")
	}
	if c.AcceptedLoss < 0 || c.AcceptedLoss > 1 {
		return fmt.Errorf("config: BATCH_ACCEPTED_LOSS must be within [0, 1]")
	}
	if err := security.ValidateTableName(c.JobTable); err != nil {
		return fmt.Errorf("config: BATCH_JOB_TABLE: %w", err)
	}
	if err := security.ValidateTableName(c.StepTable); err != nil {
		return fmt.Errorf("config: BATCH_STEP_TABLE: %w", err)
	}
	return nil
}

// reader parses resolved values, collecting errors instead of stopping at the first.
type reader struct {
	resolve Resolver
	errs    []error
}

func (r *reader) lookup(key string) (string, bool) {
	v, ok := r.resolve(key)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func (r *reader) str(key, defaultVal string) string {
	if v, ok := r.lookup(key); ok {
		return v
	}
	return defaultVal
}

func (r *reader) int(key string, defaultVal int) int {
	v, ok := r.lookup(key)
	if !ok {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s=%q is not a valid integer", key, v))
		return defaultVal
	}
	return n
}

func (r *reader) bool(key string, defaultVal bool) bool {
	v, ok := r.lookup(key)
	if !ok {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s=%q is not a valid boolean", key, v))
		return defaultVal
	}
	return b
}

func (r *reader) float(key string, defaultVal float64) float64 {
	v, ok := r.lookup(key)
	if !ok {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s=%q is not a valid number", key, v))
		return defaultVal
	}
	return f
}

func (r *reader) duration(key string, defaultVal time.Duration) time.Duration {
	v, ok := r.lookup(key)
	if !ok {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s=%q is not a valid duration", key, v))
		return defaultVal
	}
	return d
}
