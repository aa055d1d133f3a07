package iterator

import (
	"log/slog"
	"slices"
)

// Distinct drains it and keeps one element per key, preserving the order in
// which keys were first seen. When a key repeats, the element sorting first
// according to prefer is kept and the others are logged as discarded.
//
// The source is fully buffered, so use it only on bounded inputs.
func Distinct[T any, K comparable](it Iterator[T], key func(T) K, prefer func(a, b T) int, logger *slog.Logger) (Iterator[T], error) {
	if logger == nil {
		logger = slog.Default()
	}
	items, err := Collect(RespectingContract(it))
	if err != nil {
		return nil, err
	}

	groups := make(map[K][]T)
	var order []K
	for _, item := range items {
		k := key(item)
		if _, seen := groups[k]; !seen {
			order = append(order, k)
		}
		groups[k] = append(groups[k], item)
	}

	out := make([]T, 0, len(order))
	for _, k := range order {
		group := groups[k]
		if len(group) > 1 {
			slices.SortStableFunc(group, prefer)
			logger.Info("discarding duplicates", "kept", group[0], "discarded", group[1:])
		}
		out = append(out, group[0])
	}
	return FromSlice(out), nil
}
