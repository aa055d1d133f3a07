package apply

import (
	"context"

	"gorm.io/gorm"
)

// batchHandler buffers the rows of a chunk and writes them in one go on Flush.
type batchHandler[T any] struct {
	table string
	rows  []T
	write func(tx *gorm.DB, rows []T) error
}

func (b *batchHandler[T]) Handle(_ context.Context, _ *gorm.DB, row T) error {
	b.rows = append(b.rows, row)
	return nil
}

func (b *batchHandler[T]) Flush(ctx context.Context, tx *gorm.DB) error {
	if len(b.rows) == 0 {
		return nil
	}
	rows := b.rows
	b.rows = nil

	db := tx.WithContext(ctx)
	if b.table != "" {
		db = db.Table(b.table)
	}
	return b.write(db, rows)
}

// CreateBatch inserts the rows of each chunk with CreateInBatches.
// An empty table uses the table of T's GORM model; batchSize <= 0 sends the
// whole chunk in one statement.
func CreateBatch[T any](table string, batchSize int) HandlerFactory[T] {
	return func() Handler[T] {
		return &batchHandler[T]{
			table: table,
			write: func(tx *gorm.DB, rows []T) error {
				size := batchSize
				if size <= 0 {
					size = len(rows)
				}
				return tx.CreateInBatches(&rows, size).Error
			},
		}
	}
}

// SaveBatch writes the rows of each chunk with Save, matching on the
// primary key of T.
func SaveBatch[T any](table string) HandlerFactory[T] {
	return func() Handler[T] {
		return &batchHandler[T]{
			table: table,
			write: func(tx *gorm.DB, rows []T) error {
				for i := range rows {
					if err := tx.Save(&rows[i]).Error; err != nil {
						return err
					}
				}
				return nil
			},
		}
	}
}

// DeleteBatch deletes the rows of each chunk by primary key in one statement.
func DeleteBatch[T any](table string) HandlerFactory[T] {
	return func() Handler[T] {
		return &batchHandler[T]{
			table: table,
			write: func(tx *gorm.DB, rows []T) error {
				return tx.Delete(&rows).Error
			},
		}
	}
}
