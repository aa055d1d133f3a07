package tracing

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Option configures a Tracer.
type Option interface {
	applyTracer(*Config)
}

type optionFunc func(*Config)

func (f optionFunc) applyTracer(c *Config) { f(c) }

// Config holds tracer configuration.
type Config struct {
	Clock          func() time.Time
	Logger         *slog.Logger
	TracerProvider trace.TracerProvider
}

// DefaultConfig returns the default tracer configuration.
func DefaultConfig() Config {
	return Config{
		Clock:          func() time.Time { return time.Now().UTC() },
		Logger:         slog.Default(),
		TracerProvider: otel.GetTracerProvider(),
	}
}

// WithClock sets the time source used for start and finish instants.
func WithClock(clock func() time.Time) Option {
	return optionFunc(func(c *Config) {
		if clock != nil {
			c.Clock = clock
		}
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

// WithTracerProvider sets the OpenTelemetry tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return optionFunc(func(c *Config) {
		if tp != nil {
			c.TracerProvider = tp
		}
	})
}
