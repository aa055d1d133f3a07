// Package promise provides deferred-completion values for chain steps.
//
// A step returning a Promise hands its payload to the next step immediately
// while its effect keeps running elsewhere. The chain driver and the
// execution tracer both observe the completion signal; either may cancel.
package promise

import (
	"context"
	"errors"
	"sync"
)

// ErrCancelled is the completion error of a promise cancelled before it resolved.
var ErrCancelled = errors.New("promise: cancelled")

// Awaitable is the type-erased view of a Promise used by the chain driver and tracer.
type Awaitable interface {
	// Payload returns the value forwarded to the next step.
	Payload() any
	// Done is closed once the promise resolves.
	Done() <-chan struct{}
	// Err returns the completion error, nil while pending or on success.
	Err() error
	// OnComplete registers fn to run once the promise resolves.
	OnComplete(fn func(error))
	// Cancel requests best-effort cancellation.
	Cancel()
}

// Promise carries an eagerly available payload and a completion signal
// that resolves later.
type Promise[T any] struct {
	payload T
	cancel  func()

	done      chan struct{}
	mu        sync.Mutex
	err       error
	resolved  bool
	callbacks []func(error)
}

// New creates a pending promise. cancel, when not nil, is invoked by Cancel.
func New[T any](payload T, cancel func()) *Promise[T] {
	return &Promise[T]{
		payload: payload,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

// Resolved returns a promise already completed with err.
func Resolved[T any](payload T, err error) *Promise[T] {
	p := New(payload, nil)
	p.Resolve(err)
	return p
}

// Go runs fn on a new goroutine and resolves the returned promise with its
// error. Cancelling the promise cancels the context given to fn.
func Go[T any](ctx context.Context, payload T, fn func(ctx context.Context) error) *Promise[T] {
	ctx, cancel := context.WithCancel(ctx)
	p := New(payload, cancel)
	go func() {
		defer cancel()
		p.Resolve(fn(ctx))
	}()
	return p
}

// Resolve completes the promise. Only the first call has an effect, so a
// callback calling Resolve or Cancel returns immediately.
// Callbacks run on the calling goroutine before Done is closed.
func (p *Promise[T]) Resolve(err error) {
	p.mu.Lock()
	if p.resolved {
		p.mu.Unlock()
		return
	}
	p.err = err
	p.resolved = true
	callbacks := p.callbacks
	p.callbacks = nil
	p.mu.Unlock()

	for _, fn := range callbacks {
		fn(err)
	}
	close(p.done)
}

// Value returns the typed payload.
func (p *Promise[T]) Value() T {
	return p.payload
}

// Payload returns the payload as any.
func (p *Promise[T]) Payload() any {
	return p.payload
}

// Done is closed once the promise resolves.
func (p *Promise[T]) Done() <-chan struct{} {
	return p.done
}

// Err returns the completion error.
func (p *Promise[T]) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// OnComplete registers fn. If the promise already resolved, fn runs immediately
// on the caller's goroutine. Registered callbacks run before Done is closed,
// so fn must not call Wait or block on Done.
func (p *Promise[T]) OnComplete(fn func(error)) {
	p.mu.Lock()
	if p.resolved {
		err := p.err
		p.mu.Unlock()
		fn(err)
		return
	}
	p.callbacks = append(p.callbacks, fn)
	p.mu.Unlock()
}

// Cancel invokes the cancel function, if any, then resolves the promise with
// ErrCancelled unless it already resolved.
func (p *Promise[T]) Cancel() {
	if p.cancel != nil {
		p.cancel()
	}
	p.Resolve(ErrCancelled)
}

// Wait blocks until the promise resolves or ctx is done.
func (p *Promise[T]) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return p.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}
