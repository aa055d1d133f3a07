// Package core provides the fundamental types and interfaces for the batch runtime.
//
// This package contains:
//   - JobExecution and StepExecution audit models with GORM annotations
//   - The DescribesOutcome capability used to derive execution comments
//   - Error types shared by the reconciliation, apply and chain layers
//
// Most users should import the root package github.com/jdziat/simple-batch-runtime
// instead of this package directly.
package core
