package apply

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"gorm.io/gorm"

	"github.com/jdziat/simple-batch-runtime/pkg/core"
	"github.com/jdziat/simple-batch-runtime/pkg/diff"
)

// Report counts what an Apply call did.
type Report struct {
	Inserted  int
	Updated   int
	Deleted   int
	Commits   int
	Rollbacks int
}

// Applier applies deltas of T through the configured handlers.
type Applier[T any] struct {
	conns    ConnProvider
	handlers Handlers[T]
	cfg      Config
	logger   *slog.Logger

	rows      metric.Int64Counter
	commits   metric.Int64Counter
	rollbacks metric.Int64Counter

	mu       sync.Mutex
	comments []string
}

// New creates an Applier. conns is only used outside dry-run.
func New[T any](conns ConnProvider, handlers Handlers[T], opts ...Option) *Applier[T] {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt.applyApplier(&cfg)
	}

	logger := cfg.Logger
	if cfg.Marker != "" {
		logger = logger.With("table", cfg.Marker)
	}

	rows, _ := cfg.Meter.Int64Counter("batch.apply.rows",
		metric.WithDescription("Rows processed by the applier"),
		metric.WithUnit("{row}"),
	)
	commits, _ := cfg.Meter.Int64Counter("batch.apply.commits",
		metric.WithDescription("Chunk transactions committed"),
	)
	rollbacks, _ := cfg.Meter.Int64Counter("batch.apply.rollbacks",
		metric.WithDescription("Chunk transactions rolled back"),
	)

	return &Applier[T]{
		conns:     conns,
		handlers:  handlers,
		cfg:       cfg,
		logger:    logger,
		rows:      rows,
		commits:   commits,
		rollbacks: rollbacks,
	}
}

// Config returns the effective configuration.
func (a *Applier[T]) Config() Config {
	return a.cfg
}

// category is one unit of work of an Apply call.
type category[T any] struct {
	name    core.Category
	verb    string
	marker  string
	rows    []T
	factory HandlerFactory[T]
	count   *int
}

// Apply writes delta: inserts, then updates, then deletes. The first failing
// chunk stops everything and is returned as a *core.ApplyError.
func (a *Applier[T]) Apply(ctx context.Context, delta *diff.Delta[T]) (Report, error) {
	var report Report
	if delta == nil {
		return report, nil
	}

	a.logger.Info("Diff summary",
		"to_add", len(delta.Added),
		"to_remove", len(delta.Removed),
		"to_update", len(delta.Updated),
		"dry_run", a.cfg.DryRun,
	)

	categories := []category[T]{
		{name: core.CategoryInsert, verb: "Adding", marker: "[A]", rows: delta.Added, factory: a.handlers.Insert, count: &report.Inserted},
		{name: core.CategoryUpdate, verb: "Updating", marker: "[U]", rows: delta.Updated, factory: a.handlers.Update, count: &report.Updated},
		{name: core.CategoryDelete, verb: "Deleting", marker: "[D]", rows: delta.Removed, factory: a.handlers.Delete, count: &report.Deleted},
	}

	for _, c := range categories {
		if err := a.applyCategory(ctx, c, &report); err != nil {
			a.addComment(fmt.Sprintf("%s, failed: %v", delta.DescribeOutcome(), err))
			return report, err
		}
	}

	comment := delta.DescribeOutcome()
	if a.cfg.DryRun {
		comment = "(dry-run) " + comment
	}
	a.addComment(comment)
	return report, nil
}

// Accept applies delta, making the Applier usable as a chain consumer.
func (a *Applier[T]) Accept(ctx context.Context, delta *diff.Delta[T]) error {
	_, err := a.Apply(ctx, delta)
	return err
}

// DescribeOutcome returns the summaries of the Apply calls made so far.
func (a *Applier[T]) DescribeOutcome() string {
	a.mu.Lock()
	defer a.mu.Unlock()

	return strings.Join(a.comments, "\n")
}

func (a *Applier[T]) addComment(c string) {
	a.mu.Lock()
	a.comments = append(a.comments, c)
	a.mu.Unlock()
}

func (a *Applier[T]) applyCategory(ctx context.Context, c category[T], report *Report) error {
	if len(c.rows) == 0 {
		switch c.name {
		case core.CategoryInsert:
			a.logger.Info("No insert")
		case core.CategoryUpdate:
			a.logger.Info("No update")
		case core.CategoryDelete:
			a.logger.Info("No deletion")
		}
		return nil
	}

	attrs := metric.WithAttributes(
		attribute.String("category", string(c.name)),
		attribute.Bool("dry_run", a.cfg.DryRun),
	)

	if a.cfg.DryRun {
		for _, row := range c.rows {
			a.logger.Info("[d]"+c.marker+" "+c.verb, "row", row)
		}
		*c.count += len(c.rows)
		a.rows.Add(ctx, int64(len(c.rows)), attrs)
		return nil
	}

	if c.factory == nil {
		return &core.ApplyError{Category: c.name, Err: fmt.Errorf("no %s handler configured", c.name)}
	}

	// Acquisition is not retried.
	conn, err := a.conns(ctx)
	if err != nil {
		return &core.ApplyError{Category: c.name, Err: fmt.Errorf("acquire connection: %w", err)}
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			a.logger.Warn("failed to close connection", "category", c.name, "error", cerr)
		}
	}()

	handler := c.factory()
	interval := a.cfg.CommitInterval
	categoryAttr := metric.WithAttributes(attribute.String("category", string(c.name)))

	for chunk, start := 1, 0; start < len(c.rows); chunk, start = chunk+1, start+interval {
		end := min(start+interval, len(c.rows))
		rows := c.rows[start:end]

		if err := a.applyChunk(ctx, conn, handler, c, rows); err != nil {
			report.Rollbacks++
			a.rollbacks.Add(ctx, 1, categoryAttr)
			a.logger.Error("chunk rolled back", "category", c.name, "chunk", chunk, "error", err)
			return &core.ApplyError{Category: c.name, Chunk: chunk, Err: err}
		}

		report.Commits++
		*c.count += len(rows)
		a.commits.Add(ctx, 1, categoryAttr)
		a.rows.Add(ctx, int64(len(rows)), attrs)
	}
	return nil
}

func (a *Applier[T]) applyChunk(ctx context.Context, conn Conn, handler Handler[T], c category[T], rows []T) error {
	a.logger.Debug("[C][S] Starting transaction", "category", c.name, "rows", len(rows))

	tx, err := conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := a.handleRows(ctx, tx, handler, c, rows); err != nil {
		if rbErr := tx.Rollback().Error; rbErr != nil {
			err = errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}

	if err := tx.Commit().Error; err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	a.logger.Debug("[C][E] Finished transaction", "category", c.name, "rows", len(rows))
	return nil
}

// handleRows feeds rows to handler and flushes it. Handler panics are
// returned as errors so the chunk is rolled back.
func (a *Applier[T]) handleRows(ctx context.Context, tx *gorm.DB, handler Handler[T], c category[T], rows []T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	for _, row := range rows {
		a.logger.Info(c.marker+" "+c.verb, "row", row)
		if err := handler.Handle(ctx, tx, row); err != nil {
			return err
		}
	}
	if f, ok := handler.(Flusher); ok {
		if err := f.Flush(ctx, tx); err != nil {
			return fmt.Errorf("flush: %w", err)
		}
	}
	return nil
}
