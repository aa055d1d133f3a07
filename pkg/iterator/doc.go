// Package iterator provides single-pass sequence adapters for the batch runtime.
//
// This package includes:
//   - Iterator, the HasNext/Next contract consumed by the reconciliation engine
//   - RespectingContract, which tolerates repeated HasNext calls on any source
//   - Counting, which reports how many elements were produced
//   - FromSlice and FromSeq sources, Distinct for upstream key deduplication
//
// Most users should import the root package github.com/jdziat/simple-batch-runtime
// which re-exports the common constructors.
package iterator
