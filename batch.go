// Package batch reconciles datasets and applies the resulting changes in
// chunked transactions, as traced chains of steps.
//
// This is the main package users should import. It re-exports the public
// types of the pkg/ packages for a clean API surface.
//
// Basic usage:
//
//	db, _ := batch.Open(batch.DriverSQLite, "batch.db")
//	store, _ := batch.NewGormStore(db)
//	store.Migrate(ctx)
//
//	tracer, _ := batch.NewTracer("customers", store)
//	applier := batch.NewApplier(batch.ConnProvider(db), batch.Handlers[Customer]{
//	    Insert: batch.CreateBatch[Customer]("customers", 100),
//	    Update: batch.SaveBatch[Customer]("customers"),
//	    Delete: batch.DeleteBatch[Customer]("customers"),
//	})
//
//	loaded := batch.Map(batch.From(), "load", loadCustomers)
//	delta := batch.Map(loaded, "diff", diffCustomers)
//	err := delta.
//	    Filter("accepted-loss", batch.AcceptedLoss[Customer](0.1, nil)).
//	    ThenConsumer("apply", applier).
//	    Run(ctx, tracer.RunOptions()...)
package batch

import (
	"context"
	"iter"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"github.com/jdziat/simple-batch-runtime/pkg/apply"
	"github.com/jdziat/simple-batch-runtime/pkg/chain"
	"github.com/jdziat/simple-batch-runtime/pkg/core"
	"github.com/jdziat/simple-batch-runtime/pkg/diff"
	"github.com/jdziat/simple-batch-runtime/pkg/iterator"
	"github.com/jdziat/simple-batch-runtime/pkg/promise"
	"github.com/jdziat/simple-batch-runtime/pkg/schedule"
	"github.com/jdziat/simple-batch-runtime/pkg/security"
	"github.com/jdziat/simple-batch-runtime/pkg/storage"
	"github.com/jdziat/simple-batch-runtime/pkg/tracing"
)

// Type aliases
type (
	// JobExecution is the persisted record of one chain run.
	JobExecution = core.JobExecution

	// StepExecution is the persisted record of one traced step.
	StepExecution = core.StepExecution

	// Status is the outcome of a job or step.
	Status = core.Status

	// DescribesOutcome is implemented by values summarizing what they did.
	DescribesOutcome = core.DescribesOutcome

	// Category names a delta category.
	Category = core.Category

	// ApplyError reports the chunk of a category that could not be applied.
	ApplyError = core.ApplyError

	// StepError reports a failed or panicking step.
	StepError = core.StepError

	// PromiseTimeoutError reports promises still pending after the await budget.
	PromiseTimeoutError = core.PromiseTimeoutError

	// PromiseError wraps the asynchronous failure of a step.
	PromiseError = core.PromiseError

	// Iterator is a single-pass sequence.
	Iterator[T any] = iterator.Iterator[T]

	// Delta is the outcome of a reconciliation.
	Delta[T any] = diff.Delta[T]

	// Computer reconciles two ordered sequences.
	Computer[T any] = diff.Computer[T]

	// Applier applies deltas in chunked transactions.
	Applier[T any] = apply.Applier[T]

	// Handler writes one row inside a chunk transaction.
	Handler[T any] = apply.Handler[T]

	// HandlerFactory creates the handler of a category.
	HandlerFactory[T any] = apply.HandlerFactory[T]

	// Handlers groups the insert, update and delete handler factories.
	Handlers[T any] = apply.Handlers[T]

	// ApplyOption configures an Applier.
	ApplyOption = apply.Option

	// Report counts what an Apply call did.
	Report = apply.Report

	// Conn is a connection able to open transactions.
	Conn = apply.Conn

	// Promise is the pending outcome of an asynchronous step.
	Promise[T any] = promise.Promise[T]

	// Step is a typed chain step.
	Step[T any] = chain.Step[T]

	// Node is a type-erased chain step.
	Node = chain.Node

	// RunOption configures a chain run.
	RunOption = chain.RunOption

	// Tracer records chain executions.
	Tracer = tracing.Tracer

	// TracerOption configures a Tracer.
	TracerOption = tracing.Option

	// Store persists execution traces.
	Store = tracing.Store

	// GormStore is the GORM implementation of Store.
	GormStore = storage.GormStore

	// Schedule defines when a batch runs next.
	Schedule = schedule.Schedule
)

// Status constants
const (
	StatusSuccess = core.StatusSuccess
	StatusFailure = core.StatusFailure
)

// Category constants
const (
	CategoryInsert = core.CategoryInsert
	CategoryUpdate = core.CategoryUpdate
	CategoryDelete = core.CategoryDelete
)

// Driver names accepted by Open.
const (
	DriverSQLite   = storage.DriverSQLite
	DriverPostgres = storage.DriverPostgres
)

// Security limits
const (
	MaxBatchNameLength = security.MaxBatchNameLength
	MaxStepNameLength  = security.MaxStepNameLength
	MaxCommitInterval  = security.MaxCommitInterval
	MaxCommentLength   = security.MaxCommentLength
	MaxTableNameLength = security.MaxTableNameLength
)

// DefaultCommitInterval is the number of rows per transaction by default.
const DefaultCommitInterval = apply.DefaultCommitInterval

// Error variables
var (
	ErrNotRoot          = core.ErrNotRoot
	ErrInvalidBatchName = core.ErrInvalidBatchName
	ErrBatchNameTooLong = core.ErrBatchNameTooLong
	ErrInvalidTableName = core.ErrInvalidTableName
	ErrAlreadySaved     = core.ErrAlreadySaved
	ErrExhausted        = iterator.ErrExhausted
	ErrCancelled        = promise.ErrCancelled
)

// Sequence functions

// FromSlice iterates over items.
func FromSlice[T any](items []T) Iterator[T] {
	return iterator.FromSlice(items)
}

// FromSeq adapts a Go range-over-func sequence.
func FromSeq[T any](seq iter.Seq2[T, error]) Iterator[T] {
	return iterator.FromSeq(seq)
}

// RespectingContract guards it against Next without HasNext.
func RespectingContract[T any](it Iterator[T]) Iterator[T] {
	return iterator.RespectingContract(it)
}

// Collect drains it into a slice.
func Collect[T any](it Iterator[T]) ([]T, error) {
	return iterator.Collect(it)
}

// Reconciliation functions

// NewComputer creates a reconciliation Computer.
func NewComputer[T any](keyCompare func(a, b T) int, equal func(a, b T) bool) *Computer[T] {
	return diff.NewComputer(keyCompare, equal)
}

// AcceptedLoss rejects deltas shrinking the reference by more than loss.
func AcceptedLoss[T any](loss float64, logger *slog.Logger) func(*Delta[T]) bool {
	return diff.AcceptedLoss[T](loss, logger)
}

// Apply functions

// NewApplier creates an Applier.
func NewApplier[T any](conns apply.ConnProvider, handlers Handlers[T], opts ...ApplyOption) *Applier[T] {
	return apply.New(conns, handlers, opts...)
}

// CreateBatch inserts the rows of each chunk with batched INSERTs.
func CreateBatch[T any](table string, batchSize int) HandlerFactory[T] {
	return apply.CreateBatch[T](table, batchSize)
}

// SaveBatch updates the rows of each chunk by primary key.
func SaveBatch[T any](table string) HandlerFactory[T] {
	return apply.SaveBatch[T](table)
}

// DeleteBatch deletes the rows of each chunk by primary key.
func DeleteBatch[T any](table string) HandlerFactory[T] {
	return apply.DeleteBatch[T](table)
}

// CommitInterval sets the number of rows per transaction.
func CommitInterval(n int) ApplyOption {
	return apply.CommitInterval(n)
}

// DryRun logs the delta instead of writing it.
func DryRun(enabled bool) ApplyOption {
	return apply.DryRun(enabled)
}

// Chain functions

// From returns the untraced root of a chain.
func From() *Step[struct{}] {
	return chain.From()
}

// Root returns a traced root step.
func Root[T any](name string, fn func(ctx context.Context) (T, error)) *Step[T] {
	return chain.Root(name, fn)
}

// Map appends a transforming step.
func Map[T, R any](s *Step[T], name string, fn func(ctx context.Context, v T) (R, error)) *Step[R] {
	return chain.Map(s, name, fn)
}

// MapAsync appends a step completing through a promise.
func MapAsync[T, R any](s *Step[T], name string, fn func(ctx context.Context, v T) (*Promise[R], error)) *Step[R] {
	return chain.MapAsync(s, name, fn)
}

// Async runs fn on its own goroutine and returns a promise carrying payload.
func Async[T any](ctx context.Context, payload T, fn func(ctx context.Context) error) *Promise[T] {
	return promise.Go(ctx, payload, fn)
}

// MaxAwait bounds how long a run waits for pending promises; negative waits forever.
func MaxAwait(d time.Duration) RunOption {
	return chain.MaxAwait(d)
}

// FailOnTimeout fails the run when promises are still pending after MaxAwait.
func FailOnTimeout(enabled bool) RunOption {
	return chain.FailOnTimeout(enabled)
}

// ForceAwaitOnPromiseError keeps awaiting the other promises after one fails.
func ForceAwaitOnPromiseError(enabled bool) RunOption {
	return chain.ForceAwaitOnPromiseError(enabled)
}

// Tracing and storage functions

// NewTracer creates a Tracer recording a job named name into store.
func NewTracer(name string, store Store, opts ...TracerOption) (*Tracer, error) {
	return tracing.New(name, store, opts...)
}

// Open connects to a database with the given driver.
func Open(driver, dsn string, opts ...storage.PoolOption) (*gorm.DB, error) {
	return storage.Open(driver, dsn, opts...)
}

// NewGormStore creates a GORM-backed trace store.
func NewGormStore(db *gorm.DB, opts ...storage.StoreOption) (*GormStore, error) {
	return storage.NewGormStore(db, opts...)
}

// ConnProvider pins a fresh connection of db for every category applied.
func ConnProvider(db *gorm.DB) apply.ConnProvider {
	return storage.ConnProvider(db)
}

// Query iterates over the rows of a query scanned into T.
func Query[T any](ctx context.Context, db *gorm.DB, query string, args ...any) (Iterator[T], error) {
	return storage.Query[T](ctx, db, query, args...)
}

// Schedule functions

// Every creates a schedule that runs at fixed intervals.
func Every(d time.Duration) Schedule {
	return schedule.Every(d)
}

// Cron creates a schedule from a cron expression. It panics on invalid input.
func Cron(expr string) Schedule {
	return schedule.Cron(expr)
}

// ValidateBatchName validates a batch name.
func ValidateBatchName(name string) error {
	return security.ValidateBatchName(name)
}
