// Package security provides validation, sanitization, and limits for the batch runtime.
//
// This package includes:
//   - Input validation for batch names and table names
//   - Comment sanitization before trace records are persisted
//   - Clamping of the applier commit interval
//
// Most users should import the root package github.com/jdziat/simple-batch-runtime
// which re-exports these functions.
package security
