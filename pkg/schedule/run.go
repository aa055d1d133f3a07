package schedule

import (
	"context"
	"log/slog"
	"time"
)

// RunOption configures Run.
type RunOption interface {
	applyRun(*RunConfig)
}

type runOptionFunc func(*RunConfig)

func (f runOptionFunc) applyRun(c *RunConfig) { f(c) }

// RunConfig holds Run configuration.
type RunConfig struct {
	// Immediately runs fn once before waiting for the first scheduled instant.
	Immediately bool
	// MaxRuns stops after that many runs, 0 means unlimited.
	MaxRuns int
	Logger  *slog.Logger
}

// Immediately runs the function once at start.
func Immediately(enabled bool) RunOption {
	return runOptionFunc(func(c *RunConfig) {
		c.Immediately = enabled
	})
}

// MaxRuns bounds the number of runs.
func MaxRuns(n int) RunOption {
	return runOptionFunc(func(c *RunConfig) {
		c.MaxRuns = n
	})
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) RunOption {
	return runOptionFunc(func(c *RunConfig) {
		if l != nil {
			c.Logger = l
		}
	})
}

// Run calls fn at every instant of s until ctx is done or MaxRuns is
// reached. Runs never overlap: the next instant is computed once fn
// returns. Errors from fn are logged and do not stop the loop.
func Run(ctx context.Context, s Schedule, fn func(ctx context.Context) error, opts ...RunOption) error {
	cfg := RunConfig{Logger: slog.Default()}
	for _, opt := range opts {
		opt.applyRun(&cfg)
	}

	runs := 0
	run := func() {
		runs++
		if err := fn(ctx); err != nil {
			cfg.Logger.Error("scheduled run failed", "run", runs, "error", err)
		}
	}
	done := func() bool {
		return cfg.MaxRuns > 0 && runs >= cfg.MaxRuns
	}

	if cfg.Immediately {
		run()
	}

	for !done() {
		now := time.Now()
		next := s.Next(now)
		cfg.Logger.Debug("next scheduled run", "at", next)

		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
			run()
		}
	}
	return nil
}
