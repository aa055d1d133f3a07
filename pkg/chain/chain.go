package chain

import (
	"context"
	"fmt"

	"github.com/jdziat/simple-batch-runtime/pkg/core"
	"github.com/jdziat/simple-batch-runtime/pkg/promise"
)

// Signal tells the chain whether downstream steps should act on a Result.
type Signal int

const (
	// Continue lets the next step process the value.
	Continue Signal = iota
	// Skip stops processing; downstream steps forward it untouched.
	Skip
)

func (s Signal) String() string {
	switch s {
	case Continue:
		return "CONTINUE"
	case Skip:
		return "SKIP"
	default:
		return fmt.Sprintf("Signal(%d)", int(s))
	}
}

// Result is a value tagged with a control signal.
type Result[T any] struct {
	Value  T
	Signal Signal
}

// Executor runs one step against the result of its predecessor.
type Executor func(ctx context.Context, in Result[any]) (Result[any], error)

// Node is the type-erased view of a chain step used by the driver and by
// step wrappers such as the execution tracer.
type Node interface {
	// Name returns the step name.
	Name() string
	// Previous returns the preceding step, nil for a root.
	Previous() Node
	// Root reports whether the step may start a chain.
	Root() bool
	// SkipTracing reports whether tracers should ignore the step.
	SkipTracing() bool
	// Async reports whether the step output is a promise to await.
	Async() bool
	// Describer returns the step callable when it can describe its outcome.
	Describer() core.DescribesOutcome
	// Execute runs the step. Panics are recovered into *core.StepError.
	Execute(ctx context.Context, in Result[any]) (Result[any], error)
}

type node struct {
	name        string
	prev        Node
	root        bool
	skipTracing bool
	async       bool
	describer   core.DescribesOutcome
	exec        Executor
}

func (n *node) Name() string                     { return n.name }
func (n *node) Previous() Node                   { return n.prev }
func (n *node) Root() bool                       { return n.root }
func (n *node) SkipTracing() bool                { return n.skipTracing }
func (n *node) Async() bool                      { return n.async }
func (n *node) Describer() core.DescribesOutcome { return n.describer }

func (n *node) String() string { return n.name }

func (n *node) Execute(ctx context.Context, in Result[any]) (out Result[any], err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &core.StepError{Step: n.name, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	out, err = n.exec(ctx, in)
	if err != nil {
		if _, ok := err.(*core.StepError); !ok {
			err = &core.StepError{Step: n.name, Err: err}
		}
	}
	return out, err
}

// Step is a typed handle on the tail of a chain producing values of type T.
type Step[T any] struct {
	node *node
}

// Node returns the type-erased step.
func (s *Step[T]) Node() Node {
	return s.node
}

// Name returns the step name.
func (s *Step[T]) Name() string {
	return s.node.name
}

// From returns the designated no-op root. It is not traced.
func From() *Step[struct{}] {
	return &Step[struct{}]{node: &node{
		name:        "root",
		root:        true,
		skipTracing: true,
		exec: func(context.Context, Result[any]) (Result[any], error) {
			return Result[any]{Value: struct{}{}, Signal: Continue}, nil
		},
	}}
}

// Root returns a traced root step producing its value with fn.
func Root[T any](name string, fn func(ctx context.Context) (T, error)) *Step[T] {
	return &Step[T]{node: &node{
		name: name,
		root: true,
		exec: func(ctx context.Context, _ Result[any]) (Result[any], error) {
			v, err := fn(ctx)
			if err != nil {
				return Result[any]{}, err
			}
			return Result[any]{Value: v, Signal: Continue}, nil
		},
	}}
}

// Map appends a step transforming the value. A Skip result is forwarded as
// a Skip with no value, fn is not invoked.
func Map[T, R any](s *Step[T], name string, fn func(ctx context.Context, v T) (R, error)) *Step[R] {
	return &Step[R]{node: &node{
		name: name,
		prev: s.node,
		exec: func(ctx context.Context, in Result[any]) (Result[any], error) {
			if in.Signal == Skip {
				return Result[any]{Signal: Skip}, nil
			}
			v, err := fn(ctx, valueOf[T](in.Value))
			if err != nil {
				return Result[any]{}, err
			}
			return Result[any]{Value: v, Signal: Continue}, nil
		},
	}}
}

// MapAsync appends a step whose effect completes after it returns. The
// promise payload is forwarded to the next step right away; the chain
// awaits the promise when the run ends.
func MapAsync[T, R any](s *Step[T], name string, fn func(ctx context.Context, v T) (*promise.Promise[R], error)) *Step[R] {
	return &Step[R]{node: &node{
		name:  name,
		prev:  s.node,
		async: true,
		exec: func(ctx context.Context, in Result[any]) (Result[any], error) {
			if in.Signal == Skip {
				return Result[any]{Signal: Skip}, nil
			}
			p, err := fn(ctx, valueOf[T](in.Value))
			if err != nil {
				return Result[any]{}, err
			}
			if p == nil {
				return Result[any]{}, fmt.Errorf("step %q returned a nil promise", name)
			}
			return Result[any]{Value: promise.Awaitable(p), Signal: Continue}, nil
		},
	}}
}

// Filter appends a step turning Continue into Skip when pred rejects the
// value. The value itself is never changed.
func (s *Step[T]) Filter(name string, pred func(v T) bool) *Step[T] {
	return &Step[T]{node: &node{
		name: name,
		prev: s.node,
		exec: func(_ context.Context, in Result[any]) (Result[any], error) {
			if in.Signal == Skip {
				return in, nil
			}
			if pred(valueOf[T](in.Value)) {
				return in, nil
			}
			return Result[any]{Value: in.Value, Signal: Skip}, nil
		},
	}}
}

// Then appends a side-effecting step invoked on Continue. The input result
// is passed through unchanged.
func (s *Step[T]) Then(name string, fn func(ctx context.Context, v T) error) *Step[T] {
	return s.then(name, fn, nil)
}

// Consumer is a reusable side-effecting step body.
type Consumer[T any] interface {
	Accept(ctx context.Context, v T) error
}

// ThenConsumer is Then for a Consumer. When c implements
// core.DescribesOutcome, tracers use it to comment the step.
func (s *Step[T]) ThenConsumer(name string, c Consumer[T]) *Step[T] {
	d, _ := c.(core.DescribesOutcome)
	return s.then(name, c.Accept, d)
}

func (s *Step[T]) then(name string, fn func(ctx context.Context, v T) error, d core.DescribesOutcome) *Step[T] {
	return &Step[T]{node: &node{
		name:      name,
		prev:      s.node,
		describer: d,
		exec: func(ctx context.Context, in Result[any]) (Result[any], error) {
			if in.Signal == Skip {
				return in, nil
			}
			if err := fn(ctx, valueOf[T](in.Value)); err != nil {
				return Result[any]{}, err
			}
			return in, nil
		},
	}}
}

// valueOf converts a forwarded value back to T, nil becoming the zero value.
func valueOf[T any](v any) T {
	if v == nil {
		var zero T
		return zero
	}
	return v.(T)
}
