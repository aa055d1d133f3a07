package core

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Configuration errors
var (
	ErrNotRoot          = errors.New("batch: chain does not start with a root step, use From() or Root()")
	ErrInvalidBatchName = errors.New("batch: invalid batch name (must be alphanumeric, start with letter)")
	ErrBatchNameTooLong = errors.New("batch: batch name too long")
	ErrInvalidTableName = errors.New("batch: invalid table name")
	ErrAlreadySaved     = errors.New("batch: execution already saved")
)

// Category names a delta category processed by the applier.
type Category string

const (
	CategoryInsert Category = "insert"
	CategoryUpdate Category = "update"
	CategoryDelete Category = "delete"
)

// ApplyError is raised when a chunk of a delta category cannot be applied.
// The chunk has been rolled back; previous chunks of the category stay committed.
type ApplyError struct {
	Category Category
	Chunk    int
	Err      error
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("apply %s chunk %d: %v", e.Category, e.Chunk, e.Err)
}

func (e *ApplyError) Unwrap() error {
	return e.Err
}

// StepError is raised when a chain step fails or panics.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %q: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// PromiseTimeoutError is raised when pending promises outlive the configured await.
type PromiseTimeoutError struct {
	Pending  int
	MaxAwait time.Duration
}

func (e *PromiseTimeoutError) Error() string {
	return fmt.Sprintf("%d promise(s) still pending after %v", e.Pending, e.MaxAwait)
}

func (e *PromiseTimeoutError) Unwrap() error {
	return context.DeadlineExceeded
}

// PromiseError wraps the asynchronous failure of a step promise.
type PromiseError struct {
	Step string
	Err  error
}

func (e *PromiseError) Error() string {
	return fmt.Sprintf("promise of step %q failed: %v", e.Step, e.Err)
}

func (e *PromiseError) Unwrap() error {
	return e.Err
}
