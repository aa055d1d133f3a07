package apply

import (
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/jdziat/simple-batch-runtime/pkg/security"
)

// DefaultCommitInterval is the number of rows per transaction when not configured.
const DefaultCommitInterval = 50

// Option configures an Applier.
type Option interface {
	applyApplier(*Config)
}

type optionFunc func(*Config)

func (f optionFunc) applyApplier(c *Config) { f(c) }

// Config holds applier configuration.
type Config struct {
	CommitInterval int
	DryRun         bool
	// Marker names the target in log lines, usually the table name.
	Marker string
	Logger *slog.Logger
	Meter  metric.Meter
}

// DefaultConfig returns the default applier configuration.
func DefaultConfig() Config {
	return Config{
		CommitInterval: DefaultCommitInterval,
		Logger:         slog.Default(),
		Meter:          otel.GetMeterProvider().Meter("github.com/jdziat/simple-batch-runtime/pkg/apply"),
	}
}

// CommitInterval sets the number of rows per transaction.
// Values are clamped to [1, security.MaxCommitInterval].
func CommitInterval(n int) Option {
	return optionFunc(func(c *Config) {
		c.CommitInterval = security.ClampCommitInterval(n)
	})
}

// DryRun logs and counts rows without opening connections or invoking handlers.
func DryRun(enabled bool) Option {
	return optionFunc(func(c *Config) {
		c.DryRun = enabled
	})
}

// LogMarker sets the target name shown in log lines.
func LogMarker(marker string) Option {
	return optionFunc(func(c *Config) {
		c.Marker = marker
	})
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(c *Config) {
		if l != nil {
			c.Logger = l
		}
	})
}

// WithMeter sets the meter used for row, commit and rollback counters.
func WithMeter(m metric.Meter) Option {
	return optionFunc(func(c *Config) {
		if m != nil {
			c.Meter = m
		}
	})
}
