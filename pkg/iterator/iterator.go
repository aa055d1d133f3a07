package iterator

import (
	"errors"
	"io"
	"iter"
)

// ErrExhausted is returned by Next when the sequence has no more elements.
var ErrExhausted = errors.New("iterator: no next element")

// Iterator is a lazy, finite, non-restartable sequence.
type Iterator[T any] interface {
	// HasNext reports whether Next will produce an element.
	HasNext() (bool, error)
	// Next returns the next element.
	Next() (T, error)
}

// Close closes it when the underlying source holds resources.
func Close[T any](it Iterator[T]) error {
	if c, ok := it.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// sliceIterator iterates over an in-memory slice.
type sliceIterator[T any] struct {
	items []T
	pos   int
}

// FromSlice returns an iterator over items.
func FromSlice[T any](items []T) Iterator[T] {
	return &sliceIterator[T]{items: items}
}

func (s *sliceIterator[T]) HasNext() (bool, error) {
	return s.pos < len(s.items), nil
}

func (s *sliceIterator[T]) Next() (T, error) {
	if s.pos >= len(s.items) {
		var zero T
		return zero, ErrExhausted
	}
	v := s.items[s.pos]
	s.pos++
	return v, nil
}

// seqIterator pulls from an iter.Seq2. It only supports the strict
// HasNext-then-Next call pattern; wrap it with RespectingContract.
type seqIterator[T any] struct {
	next    func() (T, error, bool)
	stop    func()
	pending T
	err     error
	ok      bool
}

// FromSeq adapts a range-over-func sequence yielding (value, error) pairs.
// The returned iterator implements io.Closer to release the pull goroutine.
func FromSeq[T any](seq iter.Seq2[T, error]) Iterator[T] {
	next, stop := iter.Pull2(seq)
	return RespectingContract[T](&seqIterator[T]{next: next, stop: stop})
}

func (s *seqIterator[T]) HasNext() (bool, error) {
	s.pending, s.err, s.ok = s.next()
	if !s.ok {
		return false, nil
	}
	if s.err != nil {
		return false, s.err
	}
	return true, nil
}

func (s *seqIterator[T]) Next() (T, error) {
	if !s.ok {
		var zero T
		return zero, ErrExhausted
	}
	return s.pending, nil
}

func (s *seqIterator[T]) Close() error {
	s.stop()
	return nil
}

// Collect drains it into a slice.
func Collect[T any](it Iterator[T]) ([]T, error) {
	var out []T
	for {
		ok, err := it.HasNext()
		if err != nil {
			return out, err
		}
		if !ok {
			return out, nil
		}
		v, err := it.Next()
		if err != nil {
			return out, err
		}
		out = append(out, v)
	}
}
