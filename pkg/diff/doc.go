// Package diff reconciles two key-ordered datasets.
//
// A Computer merges an incoming and a reference sequence, both sorted
// ascending by the key its comparator uses, in a single forward pass and
// classifies every element as added, removed, updated or unchanged. The
// result is a Delta that an apply.Applier (or any other consumer) can apply.
//
// Inputs that are not sorted, or that repeat a key, produce an undefined
// Delta; deduplicate upstream with iterator.Distinct when needed.
package diff
