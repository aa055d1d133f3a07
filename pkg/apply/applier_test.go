package apply_test

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jdziat/simple-batch-runtime/pkg/apply"
	"github.com/jdziat/simple-batch-runtime/pkg/core"
	"github.com/jdziat/simple-batch-runtime/pkg/diff"
	"github.com/jdziat/simple-batch-runtime/pkg/storage"
)

type item struct {
	ID    int `gorm:"primaryKey;autoIncrement:false"`
	Value string
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "apply.db")+"?_busy_timeout=5000"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&item{}))
	return db
}

func items(ids ...int) []item {
	out := make([]item, len(ids))
	for i, id := range ids {
		out[i] = item{ID: id, Value: "v"}
	}
	return out
}

func tableRows(t *testing.T, db *gorm.DB) []item {
	t.Helper()
	var rows []item
	require.NoError(t, db.Order("id").Find(&rows).Error)
	return rows
}

// countingProvider counts connection acquisitions.
type countingProvider struct {
	mu    sync.Mutex
	calls int
	next  apply.ConnProvider
}

func (c *countingProvider) provide(ctx context.Context) (apply.Conn, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return c.next(ctx)
}

// recordHandler captures slog records.
type recordHandler struct {
	mu      sync.Mutex
	records []slog.Record
}

func (h *recordHandler) Enabled(context.Context, slog.Level) bool { return true }
func (h *recordHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	h.records = append(h.records, r)
	h.mu.Unlock()
	return nil
}
func (h *recordHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *recordHandler) WithGroup(string) slog.Handler      { return h }

func (h *recordHandler) count(msg string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, r := range h.records {
		if r.Message == msg {
			n++
		}
	}
	return n
}

func gormHandlers() apply.Handlers[item] {
	return apply.Handlers[item]{
		Insert: apply.CreateBatch[item]("items", 100),
		Update: apply.SaveBatch[item]("items"),
		Delete: apply.DeleteBatch[item]("items"),
	}
}

func TestApply_CommitsEveryInterval(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	provider := &countingProvider{next: storage.ConnProvider(db)}

	a := apply.New(provider.provide, gormHandlers(), apply.CommitInterval(2), apply.WithLogger(slog.New(&recordHandler{})))
	report, err := a.Apply(ctx, &diff.Delta[item]{Added: items(1, 2, 3, 4, 5)})

	require.NoError(t, err)
	assert.Equal(t, apply.Report{Inserted: 5, Commits: 3}, report)
	assert.Equal(t, 1, provider.calls, "one connection for the whole category")
	assert.Len(t, tableRows(t, db), 5)
}

func TestApply_RollbackKeepsCommittedPrefix(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	require.NoError(t, db.Create(&item{ID: 100, Value: "keep"}).Error)
	boom := errors.New("constraint violated")

	handlers := apply.Handlers[item]{
		Insert: apply.Func(func(ctx context.Context, tx *gorm.DB, row item) error {
			if row.ID == 4 {
				return boom
			}
			return tx.Create(&row).Error
		}),
		Delete: apply.DeleteBatch[item](""),
	}
	a := apply.New(storage.ConnProvider(db), handlers, apply.CommitInterval(2), apply.WithLogger(slog.New(&recordHandler{})))

	report, err := a.Apply(ctx, &diff.Delta[item]{
		Added:   items(1, 2, 3, 4, 5),
		Removed: []item{{ID: 100, Value: "keep"}},
	})

	var applyErr *core.ApplyError
	require.ErrorAs(t, err, &applyErr)
	assert.Equal(t, core.CategoryInsert, applyErr.Category)
	assert.Equal(t, 2, applyErr.Chunk)
	assert.ErrorIs(t, err, boom)

	assert.Equal(t, apply.Report{Inserted: 2, Commits: 1, Rollbacks: 1}, report)
	assert.Equal(t, []item{{1, "v"}, {2, "v"}, {100, "keep"}}, tableRows(t, db),
		"chunk 1 committed, chunk 2 rolled back, deletes never ran")
}

func TestApply_CategoriesInOrder(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	var seen []string
	record := func(tag string) apply.HandlerFactory[item] {
		return apply.Func(func(_ context.Context, _ *gorm.DB, row item) error {
			seen = append(seen, tag)
			return nil
		})
	}
	a := apply.New(storage.ConnProvider(db), apply.Handlers[item]{
		Insert: record("insert"),
		Update: record("update"),
		Delete: record("delete"),
	}, apply.WithLogger(slog.New(&recordHandler{})))

	report, err := a.Apply(ctx, &diff.Delta[item]{
		Removed: items(1),
		Added:   items(2),
		Updated: items(3),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"insert", "update", "delete"}, seen)
	assert.Equal(t, 3, report.Commits)
}

func TestApply_GormHandlersApplyDelta(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	require.NoError(t, db.Create(&[]item{{1, "a"}, {2, "b"}, {3, "c"}}).Error)

	a := apply.New(storage.ConnProvider(db), gormHandlers(), apply.CommitInterval(1), apply.WithLogger(slog.New(&recordHandler{})))
	report, err := a.Apply(ctx, &diff.Delta[item]{
		Removed: []item{{1, "a"}},
		Added:   []item{{4, "d"}},
		Updated: []item{{3, "cc"}},
	})

	require.NoError(t, err)
	assert.Equal(t, apply.Report{Inserted: 1, Updated: 1, Deleted: 1, Commits: 3}, report)
	assert.Equal(t, []item{{2, "b"}, {3, "cc"}, {4, "d"}}, tableRows(t, db))
}

func TestApply_DryRun(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	require.NoError(t, db.Create(&[]item{{1, "a"}, {2, "b"}}).Error)
	before := tableRows(t, db)

	var invoked int
	count := apply.Func(func(context.Context, *gorm.DB, item) error {
		invoked++
		return nil
	})
	provider := &countingProvider{next: storage.ConnProvider(db)}
	logs := &recordHandler{}

	a := apply.New(provider.provide, apply.Handlers[item]{Insert: count, Update: count, Delete: count},
		apply.DryRun(true), apply.LogMarker("items"), apply.WithLogger(slog.New(logs)))
	report, err := a.Apply(ctx, &diff.Delta[item]{
		Removed: []item{{1, "a"}},
		Added:   items(3, 4, 5),
		Updated: []item{{2, "bb"}},
	})

	require.NoError(t, err)
	assert.Zero(t, invoked)
	assert.Zero(t, provider.calls, "dry-run never opens a connection")
	assert.Equal(t, before, tableRows(t, db))
	assert.Equal(t, apply.Report{Inserted: 3, Updated: 1, Deleted: 1}, report)

	assert.Equal(t, 3, logs.count("[d][A] Adding"))
	assert.Equal(t, 1, logs.count("[d][U] Updating"))
	assert.Equal(t, 1, logs.count("[d][D] Deleting"))
	assert.Zero(t, logs.count("[A] Adding"))
	assert.Contains(t, a.DescribeOutcome(), "(dry-run)")
}

func TestApply_LogsEveryRow(t *testing.T) {
	db := openTestDB(t)
	logs := &recordHandler{}

	a := apply.New(storage.ConnProvider(db), gormHandlers(), apply.WithLogger(slog.New(logs)))
	_, err := a.Apply(context.Background(), &diff.Delta[item]{Added: items(1, 2)})
	require.NoError(t, err)

	assert.Equal(t, 2, logs.count("[A] Adding"))
	assert.Equal(t, 1, logs.count("Diff summary"))
	assert.Equal(t, 1, logs.count("No update"))
	assert.Equal(t, 1, logs.count("No deletion"))
	assert.Equal(t, 1, logs.count("[C][S] Starting transaction"))
	assert.Equal(t, 1, logs.count("[C][E] Finished transaction"))
}

type flushCounter struct {
	handled, flushed int
}

func (f *flushCounter) Handle(context.Context, *gorm.DB, item) error {
	f.handled++
	return nil
}

func (f *flushCounter) Flush(context.Context, *gorm.DB) error {
	f.flushed++
	return nil
}

func TestApply_FlushesEveryChunk(t *testing.T) {
	db := openTestDB(t)
	h := &flushCounter{}

	a := apply.New(storage.ConnProvider(db), apply.Handlers[item]{
		Insert: func() apply.Handler[item] { return h },
	}, apply.CommitInterval(2), apply.WithLogger(slog.New(&recordHandler{})))
	_, err := a.Apply(context.Background(), &diff.Delta[item]{Added: items(1, 2, 3)})

	require.NoError(t, err)
	assert.Equal(t, 3, h.handled)
	assert.Equal(t, 2, h.flushed)
}

func TestApply_MissingHandler(t *testing.T) {
	db := openTestDB(t)
	a := apply.New(storage.ConnProvider(db), apply.Handlers[item]{}, apply.WithLogger(slog.New(&recordHandler{})))

	_, err := a.Apply(context.Background(), &diff.Delta[item]{Updated: items(1)})

	var applyErr *core.ApplyError
	require.ErrorAs(t, err, &applyErr)
	assert.Equal(t, core.CategoryUpdate, applyErr.Category)
}

func TestApply_AcquireFailureNotRetried(t *testing.T) {
	boom := errors.New("pool exhausted")
	calls := 0
	a := apply.New(func(context.Context) (apply.Conn, error) {
		calls++
		return nil, boom
	}, gormHandlers(), apply.WithLogger(slog.New(&recordHandler{})))

	_, err := a.Apply(context.Background(), &diff.Delta[item]{Added: items(1)})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestApply_HandlerPanicRollsBack(t *testing.T) {
	db := openTestDB(t)
	a := apply.New(storage.ConnProvider(db), apply.Handlers[item]{
		Insert: apply.Func(func(_ context.Context, tx *gorm.DB, row item) error {
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
			panic("bad row")
		}),
	}, apply.WithLogger(slog.New(&recordHandler{})))

	report, err := a.Apply(context.Background(), &diff.Delta[item]{Added: items(1)})

	var applyErr *core.ApplyError
	require.ErrorAs(t, err, &applyErr)
	assert.Contains(t, err.Error(), "handler panic: bad row")
	assert.Equal(t, 1, report.Rollbacks)
	assert.Empty(t, tableRows(t, db))
}

func TestApply_DescribeOutcome(t *testing.T) {
	db := openTestDB(t)
	a := apply.New(storage.ConnProvider(db), gormHandlers(), apply.WithLogger(slog.New(&recordHandler{})))

	delta := &diff.Delta[item]{Added: items(1, 2), ReferenceTotal: 0}
	require.NoError(t, a.Accept(context.Background(), delta))

	assert.Equal(t, "deleted: 0, added: 2, updated: 0, initial-size=0", a.DescribeOutcome())
}

func TestApply_NilAndEmptyDelta(t *testing.T) {
	a := apply.New(nil, gormHandlers(), apply.WithLogger(slog.New(&recordHandler{})))

	report, err := a.Apply(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, report)

	report, err = a.Apply(context.Background(), &diff.Delta[item]{})
	require.NoError(t, err)
	assert.Zero(t, report)
}

func TestApply_Metrics(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(ctx) })

	a := apply.New(storage.ConnProvider(db), gormHandlers(),
		apply.CommitInterval(2), apply.WithMeter(mp.Meter("test")), apply.WithLogger(slog.New(&recordHandler{})))
	_, err := a.Apply(ctx, &diff.Delta[item]{Added: items(1, 2, 3)})
	require.NoError(t, err)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	assert.EqualValues(t, 3, sumOf(t, rm, "batch.apply.rows"))
	assert.EqualValues(t, 2, sumOf(t, rm, "batch.apply.commits"))
	assert.EqualValues(t, 0, sumOf(t, rm, "batch.apply.rollbacks"))
}

func sumOf(t *testing.T, rm metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "%s should be an int64 sum", name)
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	return total
}

func TestCommitIntervalClamped(t *testing.T) {
	a := apply.New[item](nil, apply.Handlers[item]{}, apply.CommitInterval(0))
	assert.Equal(t, 1, a.Config().CommitInterval)

	assert.Equal(t, apply.DefaultCommitInterval, apply.New[item](nil, apply.Handlers[item]{}).Config().CommitInterval)
}
