package chain

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/jdziat/simple-batch-runtime/pkg/core"
	"github.com/jdziat/simple-batch-runtime/pkg/promise"
)

// Run executes the chain ending at s.
func (s *Step[T]) Run(ctx context.Context, opts ...RunOption) error {
	return Run(ctx, s.node, opts...)
}

// Run executes the chain ending at tail, root first. Any step error aborts
// the remaining steps; pending promises are awaited in every case.
func Run(ctx context.Context, tail Node, opts ...RunOption) error {
	cfg := DefaultRunConfig()
	for _, opt := range opts {
		opt.applyRun(&cfg)
	}

	nodes := Nodes(tail)
	if len(nodes) == 0 || !nodes[0].Root() {
		return fmt.Errorf("%w: %s", core.ErrNotRoot, describeChain(nodes))
	}

	execution := func(ctx context.Context) (err error) {
		tracker := &tracker{cfg: cfg}
		defer func() {
			if awaitErr := tracker.await(ctx); awaitErr != nil {
				err = errors.Join(err, awaitErr)
			}
		}()

		var res Result[any]
		for _, n := range nodes {
			exec := n.Execute
			for i := len(cfg.StepWrappers) - 1; i >= 0; i-- {
				exec = cfg.StepWrappers[i](n, exec)
			}

			res, err = exec(ctx, res)
			if err != nil {
				return err
			}
			if n.Async() {
				if aw, ok := res.Value.(promise.Awaitable); ok {
					tracker.add(n.Name(), aw)
					res.Value = aw.Payload()
				}
			}
		}
		return nil
	}

	for i := len(cfg.ExecutionWrappers) - 1; i >= 0; i-- {
		execution = cfg.ExecutionWrappers[i](execution)
	}
	return execution(ctx)
}

// Nodes materializes the chain ending at tail in execution order.
func Nodes(tail Node) []Node {
	var nodes []Node
	for n := tail; n != nil; n = n.Previous() {
		nodes = append(nodes, n)
	}
	slices.Reverse(nodes)
	return nodes
}

func describeChain(nodes []Node) string {
	names := make([]string, len(nodes))
	for i, n := range nodes {
		names[i] = n.Name()
	}
	return "[" + strings.Join(names, " -> ") + "]"
}

type tracked struct {
	step string
	p    promise.Awaitable
}

// tracker holds the promises produced during a run.
type tracker struct {
	cfg      RunConfig
	promises []tracked
}

func (t *tracker) add(step string, p promise.Awaitable) {
	t.promises = append(t.promises, tracked{step: step, p: p})
}

func (t *tracker) await(ctx context.Context) error {
	if len(t.promises) == 0 {
		return nil
	}
	logger := t.cfg.Logger

	var timeout <-chan time.Time
	switch {
	case t.cfg.MaxAwait == 0:
		logger.Info("not awaiting pending promises", "count", t.pendingCount())
		return t.failures()
	case t.cfg.MaxAwait > 0:
		timer := time.NewTimer(t.cfg.MaxAwait)
		defer timer.Stop()
		timeout = timer.C
	}

	// failed closes on the first promise failure, whichever promise is
	// currently awaited.
	failed := make(chan struct{})
	if !t.cfg.ForceAwaitOnPromiseError {
		var once sync.Once
		for _, tp := range t.promises {
			tp.p.OnComplete(func(err error) {
				if err != nil {
					once.Do(func() { close(failed) })
				}
			})
		}
	}

	for _, tp := range t.promises {
		select {
		case <-tp.p.Done():
		case <-failed:
			// Err is set before callbacks run; Done closes right after them.
			for _, other := range t.promises {
				if other.p.Err() != nil {
					<-other.p.Done()
				}
			}
			logger.Warn("a promise failed, not awaiting the remaining ones", "pending", t.pendingCount())
			return t.failures()
		case <-timeout:
			return t.timedOut()
		case <-ctx.Done():
			t.cancelPending()
			return ctx.Err()
		}
	}
	return t.failures()
}

func (t *tracker) timedOut() error {
	pending := t.pendingCount()
	if t.cfg.FailOnTimeout {
		t.cancelPending()
		return errors.Join(&core.PromiseTimeoutError{Pending: pending, MaxAwait: t.cfg.MaxAwait}, t.failures())
	}
	t.cfg.Logger.Warn("promises still pending after max await", "pending", pending, "max_await", t.cfg.MaxAwait)
	return t.failures()
}

// failures reports already failed promises, escalated only when configured.
func (t *tracker) failures() error {
	var errs []error
	for _, tp := range t.promises {
		if !isDone(tp.p) {
			continue
		}
		if err := tp.p.Err(); err != nil && !errors.Is(err, promise.ErrCancelled) {
			errs = append(errs, &core.PromiseError{Step: tp.step, Err: err})
		}
	}
	if len(errs) == 0 {
		return nil
	}
	if t.cfg.FailOnPromiseError {
		return errors.Join(errs...)
	}
	for _, err := range errs {
		t.cfg.Logger.Error("promise failed", "error", err)
	}
	return nil
}

func (t *tracker) pendingCount() int {
	n := 0
	for _, tp := range t.promises {
		if !isDone(tp.p) {
			n++
		}
	}
	return n
}

func (t *tracker) cancelPending() {
	for _, tp := range t.promises {
		if !isDone(tp.p) {
			cancelQuietly(tp.p)
		}
	}
}

// cancelQuietly cancels p, discarding any panic raised by the cancellation.
func cancelQuietly(p promise.Awaitable) {
	defer func() { _ = recover() }()
	p.Cancel()
}

func isDone(p promise.Awaitable) bool {
	select {
	case <-p.Done():
		return true
	default:
		return false
	}
}
