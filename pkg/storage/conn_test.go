package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/jdziat/simple-batch-runtime/pkg/apply"
)

type item struct {
	ID    int `gorm:"primaryKey;autoIncrement:false"`
	Value string
}

func newItemsDB(t *testing.T) *gorm.DB {
	t.Helper()
	db := openTestDB(t)
	require.NoError(t, db.AutoMigrate(&item{}))
	return db
}

func countItems(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&item{}).Count(&n).Error)
	return n
}

func TestPin_CommitAndRollback(t *testing.T) {
	ctx := context.Background()
	db := newItemsDB(t)

	conn, err := Pin(ctx, db)
	require.NoError(t, err)
	defer conn.Close()

	tx, err := conn.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Create(&item{ID: 1, Value: "a"}).Error)
	require.NoError(t, tx.Commit().Error)

	tx, err = conn.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Create(&item{ID: 2, Value: "b"}).Error)
	require.NoError(t, tx.Rollback().Error)

	assert.EqualValues(t, 1, countItems(t, db))

	// the connection is usable outside transactions after commit/rollback
	require.NoError(t, conn.DB().Create(&item{ID: 3, Value: "c"}).Error)
	assert.EqualValues(t, 2, countItems(t, db))
}

func TestPin_DoesNotLeakIntoParent(t *testing.T) {
	ctx := context.Background()
	db := newItemsDB(t)

	conn, err := Pin(ctx, db)
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	// db must still use its pool, not the closed connection
	require.NoError(t, db.Create(&item{ID: 1, Value: "a"}).Error)
	assert.EqualValues(t, 1, countItems(t, db))
}

func TestConnProvider_ReturnsConnToPool(t *testing.T) {
	ctx := context.Background()
	db := newItemsDB(t)
	sqlDB, err := db.DB()
	require.NoError(t, err)

	provider := ConnProvider(db)
	conn, err := provider(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sqlDB.Stats().InUse)

	require.NoError(t, conn.Close())
	assert.Equal(t, 0, sqlDB.Stats().InUse)
}

type fakeConn struct {
	closed int
}

func (f *fakeConn) Begin(context.Context) (*gorm.DB, error) { return nil, errors.New("not used") }
func (f *fakeConn) Close() error {
	f.closed++
	return nil
}

func TestReused_BorrowRelease(t *testing.T) {
	ctx := context.Background()
	underlying := &fakeConn{}
	acquired := 0
	r := NewReused(func(context.Context) (apply.Conn, error) {
		acquired++
		return underlying, nil
	})

	c1, err := r.Borrow(ctx)
	require.NoError(t, err)
	c2, err := r.Provider()(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, acquired, "connection acquired once")
	assert.Equal(t, 2, r.Borrowed())

	require.NoError(t, c1.Close())
	require.NoError(t, c1.Close(), "double close releases once")
	assert.Equal(t, 1, r.Borrowed())
	r.Release()
	assert.Equal(t, 0, r.Borrowed())
	assert.Equal(t, 0, underlying.closed, "borrowers never close the shared connection")
	_ = c2

	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
	assert.Equal(t, 1, underlying.closed)

	_, err = r.Borrow(ctx)
	assert.ErrorIs(t, err, ErrReusedClosed)
}

func TestReused_AcquireFailure(t *testing.T) {
	boom := errors.New("no connection")
	r := NewReused(func(context.Context) (apply.Conn, error) { return nil, boom })

	_, err := r.Borrow(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, r.Borrowed())
	assert.NoError(t, r.Close())
}

func TestReused_SharesPinnedConnection(t *testing.T) {
	ctx := context.Background()
	db := newItemsDB(t)
	sqlDB, err := db.DB()
	require.NoError(t, err)

	r := NewReused(ConnProvider(db))
	for i := 1; i <= 3; i++ {
		conn, err := r.Borrow(ctx)
		require.NoError(t, err)
		tx, err := conn.Begin(ctx)
		require.NoError(t, err)
		require.NoError(t, tx.Create(&item{ID: i, Value: "v"}).Error)
		require.NoError(t, tx.Commit().Error)
		require.NoError(t, conn.Close())
		assert.Equal(t, 1, sqlDB.Stats().InUse, "shared connection stays checked out")
	}

	require.NoError(t, r.Close())
	assert.Equal(t, 0, sqlDB.Stats().InUse)
	assert.EqualValues(t, 3, countItems(t, db))
}
