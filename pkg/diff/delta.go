package diff

import (
	"fmt"
	"log/slog"
)

// Delta is the three-way classification produced by a reconciliation run.
type Delta[T any] struct {
	// Removed holds reference elements whose key is absent from incoming.
	Removed []T
	// Added holds incoming elements whose key is absent from reference.
	Added []T
	// Updated holds the incoming value of keys present on both sides
	// whose elements are not equal.
	Updated []T

	// ReferenceTotal is the number of reference elements consumed, -1 when unknown.
	ReferenceTotal int64
	// IncomingTotal is the number of incoming elements consumed, -1 when unknown.
	IncomingTotal int64
}

// Empty reports whether the delta carries no change.
func (d *Delta[T]) Empty() bool {
	return len(d.Removed) == 0 && len(d.Added) == 0 && len(d.Updated) == 0
}

// DescribeOutcome summarizes the delta for execution traces.
func (d *Delta[T]) DescribeOutcome() string {
	return fmt.Sprintf("deleted: %d, added: %d, updated: %d, initial-size=%d",
		len(d.Removed), len(d.Added), len(d.Updated), d.ReferenceTotal)
}

// AcceptedLoss returns a predicate rejecting deltas that would shrink the
// reference dataset by more than loss (a fraction in [0, 1]). It guards
// against wiping a table when the incoming data is truncated or stale.
func AcceptedLoss[T any](loss float64, logger *slog.Logger) func(*Delta[T]) bool {
	if logger == nil {
		logger = slog.Default()
	}
	return func(d *Delta[T]) bool {
		if d.ReferenceTotal <= 0 {
			logger.Info("[F] No initial data, applying diff")
			return true
		}
		newSize := d.ReferenceTotal - int64(len(d.Removed)) + int64(len(d.Added))
		if newSize > d.ReferenceTotal {
			logger.Info("[F] No loss, applying diff")
			return true
		}
		change := float64(d.ReferenceTotal-newSize) / float64(d.ReferenceTotal)
		if change > loss {
			logger.Info("[F] Too much change",
				"accepted_pct", loss*100,
				"change_pct", change*100,
				"from", d.ReferenceTotal,
				"to", newSize)
			return false
		}
		return true
	}
}
