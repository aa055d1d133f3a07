package diff

import (
	"fmt"

	"github.com/jdziat/simple-batch-runtime/pkg/iterator"
)

// Computer merge-compares two ordered sequences.
type Computer[T any] struct {
	keyCompare func(a, b T) int
	equal      func(a, b T) bool
}

// NewComputer creates a Computer. keyCompare must be a total order on the
// key both inputs are sorted by; equal tests business equality of two
// elements sharing a key.
func NewComputer[T any](keyCompare func(a, b T) int, equal func(a, b T) bool) *Computer[T] {
	return &Computer[T]{keyCompare: keyCompare, equal: equal}
}

// Compute reconciles incoming against reference in one forward pass.
// Source failures abort the computation and are returned as is.
func (c *Computer[T]) Compute(incoming, reference iterator.Iterator[T]) (*Delta[T], error) {
	in := iterator.Counting(incoming)
	ref := iterator.Counting(reference)

	delta := &Delta[T]{}
	fail := func(side string, err error) (*Delta[T], error) {
		return nil, fmt.Errorf("diff: read %s: %w", side, err)
	}

	more, err := both(ref, in)
	if err != nil {
		return fail("inputs", err)
	}

	var existing, current T
	if more {
		if existing, err = ref.Next(); err != nil {
			return fail("reference", err)
		}
		if current, err = in.Next(); err != nil {
			return fail("incoming", err)
		}
	}

	for more {
		more = false

		cmp := c.keyCompare(existing, current)
		switch {
		case cmp > 0:
			delta.Added = append(delta.Added, current)
			if more, err = in.HasNext(); err != nil {
				return fail("incoming", err)
			}
			if more {
				if current, err = in.Next(); err != nil {
					return fail("incoming", err)
				}
			} else {
				delta.Removed = append(delta.Removed, existing)
			}
		case cmp < 0:
			delta.Removed = append(delta.Removed, existing)
			if more, err = ref.HasNext(); err != nil {
				return fail("reference", err)
			}
			if more {
				if existing, err = ref.Next(); err != nil {
					return fail("reference", err)
				}
			} else {
				delta.Added = append(delta.Added, current)
			}
		default:
			if !c.equal(existing, current) {
				delta.Updated = append(delta.Updated, current)
			}
			if more, err = both(ref, in); err != nil {
				return fail("inputs", err)
			}
			if more {
				if existing, err = ref.Next(); err != nil {
					return fail("reference", err)
				}
				if current, err = in.Next(); err != nil {
					return fail("incoming", err)
				}
			}
		}
	}

	for {
		ok, err := in.HasNext()
		if err != nil {
			return fail("incoming", err)
		}
		if !ok {
			break
		}
		v, err := in.Next()
		if err != nil {
			return fail("incoming", err)
		}
		delta.Added = append(delta.Added, v)
	}
	for {
		ok, err := ref.HasNext()
		if err != nil {
			return fail("reference", err)
		}
		if !ok {
			break
		}
		v, err := ref.Next()
		if err != nil {
			return fail("reference", err)
		}
		delta.Removed = append(delta.Removed, v)
	}

	delta.ReferenceTotal = ref.Total()
	delta.IncomingTotal = in.Total()
	return delta, nil
}

func both[T any](a, b iterator.Iterator[T]) (bool, error) {
	ok, err := a.HasNext()
	if err != nil || !ok {
		return false, err
	}
	return b.HasNext()
}
