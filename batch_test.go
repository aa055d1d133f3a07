package batch_test

import (
	"cmp"
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	batch "github.com/jdziat/simple-batch-runtime"
	"github.com/jdziat/simple-batch-runtime/pkg/storage"
)

type product struct {
	SKU   string `gorm:"column:sku;primaryKey"`
	Price int    `gorm:"column:price"`
}

func (product) TableName() string { return "products" }

func compareSKU(a, b product) int { return cmp.Compare(a.SKU, b.SKU) }
func samePrice(a, b product) bool { return a.Price == b.Price }

// setupTestDB opens a file-backed SQLite database with the trace tables
// and a seeded products table.
func setupTestDB(t *testing.T) (*gorm.DB, *batch.GormStore) {
	t.Helper()
	db, err := batch.Open(batch.DriverSQLite, filepath.Join(t.TempDir(), "batch.db")+"?_busy_timeout=5000",
		storage.LogLevel(logger.Silent))
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	store, err := batch.NewGormStore(db)
	require.NoError(t, err)
	require.NoError(t, store.Migrate(context.Background()))

	require.NoError(t, db.AutoMigrate(&product{}))
	require.NoError(t, db.Create([]product{
		{SKU: "p1", Price: 10},
		{SKU: "p2", Price: 20},
		{SKU: "p3", Price: 30},
	}).Error)
	return db, store
}

func reconcileChain(db *gorm.DB, incoming []product, applier *batch.Applier[product]) *batch.Step[*batch.Delta[product]] {
	loaded := batch.Map(batch.From(), "load", func(_ context.Context, _ struct{}) ([]product, error) {
		return incoming, nil
	})
	delta := batch.Map(loaded, "diff", func(ctx context.Context, rows []product) (*batch.Delta[product], error) {
		ref, err := batch.Query[product](ctx, db, "SELECT sku, price FROM products ORDER BY sku")
		if err != nil {
			return nil, err
		}
		return batch.NewComputer(compareSKU, samePrice).Compute(batch.FromSlice(rows), ref)
	})
	return delta.
		Filter("accepted-loss", batch.AcceptedLoss[product](0.5, nil)).
		ThenConsumer("apply", applier)
}

func TestFacade_ReconcileAndTrace(t *testing.T) {
	db, store := setupTestDB(t)
	ctx := context.Background()

	tracer, err := batch.NewTracer("products", store)
	require.NoError(t, err)
	applier := batch.NewApplier(batch.ConnProvider(db), batch.Handlers[product]{
		Insert: batch.CreateBatch[product]("", 10),
		Update: batch.SaveBatch[product](""),
		Delete: batch.DeleteBatch[product](""),
	}, batch.CommitInterval(2))

	incoming := []product{{SKU: "p2", Price: 25}, {SKU: "p3", Price: 30}, {SKU: "p4", Price: 40}}
	err = reconcileChain(db, incoming, applier).Run(ctx, tracer.RunOptions()...)
	require.NoError(t, err)

	var rows []product
	require.NoError(t, db.Order("sku").Find(&rows).Error)
	assert.Equal(t, []product{{SKU: "p2", Price: 25}, {SKU: "p3", Price: 30}, {SKU: "p4", Price: 40}}, rows)

	job, err := store.GetJob(ctx, tracer.JobID())
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, batch.StatusSuccess, job.Status)

	steps, err := store.GetSteps(ctx, tracer.JobID())
	require.NoError(t, err)
	require.Len(t, steps, 4)
	assert.Equal(t, "apply", steps[3].Name)
	require.NotNil(t, steps[3].Comment)
	assert.Equal(t, "deleted: 1, added: 1, updated: 1, initial-size=3", *steps[3].Comment)

	assert.ErrorIs(t, tracer.Save(ctx), batch.ErrAlreadySaved)
}

func TestFacade_DryRun(t *testing.T) {
	db, store := setupTestDB(t)
	ctx := context.Background()

	tracer, err := batch.NewTracer("products", store)
	require.NoError(t, err)
	applier := batch.NewApplier[product](nil, batch.Handlers[product]{}, batch.DryRun(true))

	err = reconcileChain(db, []product{{SKU: "p1", Price: 11}, {SKU: "p2", Price: 20}, {SKU: "p3", Price: 30}}, applier).
		Run(ctx, tracer.RunOptions()...)
	require.NoError(t, err)

	var p1 product
	require.NoError(t, db.First(&p1, "sku = ?", "p1").Error)
	assert.Equal(t, 10, p1.Price)
	assert.Contains(t, applier.DescribeOutcome(), "(dry-run)")
}

func TestFacade_AsyncStep(t *testing.T) {
	_, store := setupTestDB(t)
	ctx := context.Background()

	tracer, err := batch.NewTracer("notify", store)
	require.NoError(t, err)

	var notified atomic.Bool
	values := batch.Root("values", func(context.Context) ([]int, error) { return []int{1, 2, 3}, nil })
	sent := batch.MapAsync(values, "notify", func(ctx context.Context, v []int) (*batch.Promise[int], error) {
		return batch.Async(ctx, len(v), func(context.Context) error {
			time.Sleep(10 * time.Millisecond)
			notified.Store(true)
			return nil
		}), nil
	})

	var forwarded int
	err = sent.Then("record", func(_ context.Context, n int) error {
		forwarded = n
		return nil
	}).Run(ctx, append(tracer.RunOptions(), batch.MaxAwait(time.Second), batch.FailOnTimeout(true))...)
	require.NoError(t, err)

	assert.Equal(t, 3, forwarded, "payload is forwarded before the promise resolves")
	assert.True(t, notified.Load(), "promise awaited before the run returns")

	steps, err := store.GetSteps(ctx, tracer.JobID())
	require.NoError(t, err)
	require.Len(t, steps, 3)
	assert.Equal(t, []string{"values", "notify", "record"}, []string{steps[0].Name, steps[1].Name, steps[2].Name})
	for _, s := range steps {
		assert.Equal(t, batch.StatusSuccess, s.Status)
	}
}

func TestFacade_Errors(t *testing.T) {
	_, err := batch.NewTracer("", nil)
	assert.ErrorIs(t, err, batch.ErrInvalidBatchName)
	assert.ErrorIs(t, batch.ValidateBatchName("9lives"), batch.ErrInvalidBatchName)

	_, err = batch.NewGormStore(nil, storage.WithJobTable("bad table"))
	assert.ErrorIs(t, err, batch.ErrInvalidTableName)

	failing := batch.Map(batch.From(), "fail", func(context.Context, struct{}) (int, error) {
		return 0, errors.New("boom")
	})
	err = failing.Run(context.Background())
	var stepErr *batch.StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, "fail", stepErr.Step)
}

func TestFacade_Sequences(t *testing.T) {
	items, err := batch.Collect(batch.RespectingContract(batch.FromSlice([]string{"a", "b"})))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, items)

	seq := func(yield func(int, error) bool) {
		for i := range 3 {
			if !yield(i, nil) {
				return
			}
		}
	}
	nums, err := batch.Collect(batch.FromSeq(seq))
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, nums)
}

func TestFacade_Schedules(t *testing.T) {
	from := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, from.Add(time.Minute), batch.Every(time.Minute).Next(from))
	assert.Equal(t, time.Date(2024, 1, 1, 11, 0, 0, 0, time.UTC), batch.Cron("0 * * * *").Next(from))
	assert.Panics(t, func() { batch.Cron("nope") })
}
