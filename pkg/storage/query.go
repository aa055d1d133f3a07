package storage

import (
	"context"
	"database/sql"

	"gorm.io/gorm"

	"github.com/jdziat/simple-batch-runtime/pkg/iterator"
)

// rowsIterator streams the rows of a query, one HasNext per Next.
type rowsIterator[T any] struct {
	db     *gorm.DB
	rows   *sql.Rows
	closed bool
}

// Query runs query and returns an iterator scanning each row into T with GORM.
// The iterator holds a connection until it is exhausted or closed with
// iterator.Close.
func Query[T any](ctx context.Context, db *gorm.DB, query string, args ...any) (iterator.Iterator[T], error) {
	tx := db.WithContext(ctx)
	rows, err := tx.Raw(query, args...).Rows()
	if err != nil {
		return nil, err
	}
	return iterator.RespectingContract[T](&rowsIterator[T]{db: tx, rows: rows}), nil
}

func (r *rowsIterator[T]) HasNext() (bool, error) {
	if r.closed {
		return false, nil
	}
	if r.rows.Next() {
		return true, nil
	}
	err := r.rows.Err()
	_ = r.Close()
	return false, err
}

func (r *rowsIterator[T]) Next() (T, error) {
	var v T
	if r.closed {
		return v, iterator.ErrExhausted
	}
	if err := r.db.ScanRows(r.rows, &v); err != nil {
		return v, err
	}
	return v, nil
}

func (r *rowsIterator[T]) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	return r.rows.Close()
}
