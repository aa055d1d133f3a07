package iterator

import (
	"fmt"
)

// contractIterator caches HasNext so it can be called any number of times.
type contractIterator[T any] struct {
	delegate Iterator[T]
	hasNext  *bool
	err      error
}

// RespectingContract wraps a source that only supports one HasNext per Next
// into one tolerating repeated HasNext calls and Next without HasNext.
//
// Once the source fails, the iterator is terminal and every later call
// returns the same error.
func RespectingContract[T any](delegate Iterator[T]) Iterator[T] {
	if c, ok := delegate.(*contractIterator[T]); ok {
		return c
	}
	return &contractIterator[T]{delegate: delegate}
}

func (c *contractIterator[T]) HasNext() (bool, error) {
	if c.err != nil {
		return false, c.err
	}
	if c.hasNext == nil {
		ok, err := c.delegate.HasNext()
		if err != nil {
			c.err = fmt.Errorf("iterator: source failed: %w", err)
			return false, c.err
		}
		c.hasNext = &ok
	}
	return *c.hasNext, nil
}

func (c *contractIterator[T]) Next() (T, error) {
	var zero T
	ok, err := c.HasNext()
	if err != nil {
		return zero, err
	}
	if !ok {
		return zero, ErrExhausted
	}
	c.hasNext = nil
	v, err := c.delegate.Next()
	if err != nil {
		c.err = fmt.Errorf("iterator: source failed: %w", err)
		return zero, c.err
	}
	return v, nil
}

func (c *contractIterator[T]) Close() error {
	return Close(c.delegate)
}

// CountingIterator counts the elements actually produced.
type CountingIterator[T any] struct {
	delegate Iterator[T]
	total    int64
}

// Counting wraps it and counts successful Next calls.
func Counting[T any](it Iterator[T]) *CountingIterator[T] {
	return &CountingIterator[T]{delegate: RespectingContract(it)}
}

func (c *CountingIterator[T]) HasNext() (bool, error) {
	return c.delegate.HasNext()
}

func (c *CountingIterator[T]) Next() (T, error) {
	v, err := c.delegate.Next()
	if err == nil {
		c.total++
	}
	return v, err
}

// Total returns the number of elements produced so far.
func (c *CountingIterator[T]) Total() int64 {
	return c.total
}

func (c *CountingIterator[T]) Close() error {
	return Close(c.delegate)
}
