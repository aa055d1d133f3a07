package chain

import (
	"context"
	"log/slog"
	"time"
)

// StepWrapper decorates the execution of a single step.
type StepWrapper func(n Node, next Executor) Executor

// ExecutionWrapper decorates a whole run, promise awaiting included.
type ExecutionWrapper func(next func(ctx context.Context) error) func(ctx context.Context) error

// RunOption configures a run.
type RunOption interface {
	applyRun(*RunConfig)
}

type runOptionFunc func(*RunConfig)

func (f runOptionFunc) applyRun(c *RunConfig) { f(c) }

// RunConfig holds run configuration.
type RunConfig struct {
	// MaxAwait bounds the wait for pending promises once all steps ran.
	// Negative waits forever, zero does not wait.
	MaxAwait time.Duration
	// FailOnTimeout turns an await timeout into a run failure and cancels
	// the outstanding promises.
	FailOnTimeout bool
	// FailOnPromiseError turns asynchronous promise failures into a run failure.
	FailOnPromiseError bool
	// ForceAwaitOnPromiseError keeps awaiting remaining promises after one failed.
	ForceAwaitOnPromiseError bool

	StepWrappers      []StepWrapper
	ExecutionWrappers []ExecutionWrapper
	Logger            *slog.Logger
}

// DefaultRunConfig returns the defaults: unbounded await, failures logged only.
func DefaultRunConfig() RunConfig {
	return RunConfig{
		MaxAwait: -1,
		Logger:   slog.Default(),
	}
}

// MaxAwait sets the promise await bound.
func MaxAwait(d time.Duration) RunOption {
	return runOptionFunc(func(c *RunConfig) {
		c.MaxAwait = d
	})
}

// FailOnTimeout escalates await timeouts into run failures.
func FailOnTimeout(enabled bool) RunOption {
	return runOptionFunc(func(c *RunConfig) {
		c.FailOnTimeout = enabled
	})
}

// FailOnPromiseError escalates asynchronous promise failures into run failures.
func FailOnPromiseError(enabled bool) RunOption {
	return runOptionFunc(func(c *RunConfig) {
		c.FailOnPromiseError = enabled
	})
}

// ForceAwaitOnPromiseError keeps awaiting promises after one of them failed.
func ForceAwaitOnPromiseError(enabled bool) RunOption {
	return runOptionFunc(func(c *RunConfig) {
		c.ForceAwaitOnPromiseError = enabled
	})
}

// WithStepWrapper adds a step decorator. The first added is the outermost.
func WithStepWrapper(w StepWrapper) RunOption {
	return runOptionFunc(func(c *RunConfig) {
		c.StepWrappers = append(c.StepWrappers, w)
	})
}

// WithExecutionWrapper adds a run decorator. The first added is the outermost.
func WithExecutionWrapper(w ExecutionWrapper) RunOption {
	return runOptionFunc(func(c *RunConfig) {
		c.ExecutionWrappers = append(c.ExecutionWrappers, w)
	})
}

// WithLogger sets the logger used for promise diagnostics.
func WithLogger(l *slog.Logger) RunOption {
	return runOptionFunc(func(c *RunConfig) {
		if l != nil {
			c.Logger = l
		}
	})
}
