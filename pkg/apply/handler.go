package apply

import (
	"context"

	"gorm.io/gorm"
)

// Handler writes one row as part of the current chunk transaction.
type Handler[T any] interface {
	Handle(ctx context.Context, tx *gorm.DB, row T) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc[T any] func(ctx context.Context, tx *gorm.DB, row T) error

// Handle calls f.
func (f HandlerFunc[T]) Handle(ctx context.Context, tx *gorm.DB, row T) error {
	return f(ctx, tx, row)
}

// Flusher is implemented by handlers buffering rows into a batched
// statement. Flush runs at the end of every chunk, before commit.
type Flusher interface {
	Flush(ctx context.Context, tx *gorm.DB) error
}

// HandlerFactory creates the handler used for a whole category.
type HandlerFactory[T any] func() Handler[T]

// Handlers groups the per-category handler factories. A nil factory makes
// the category fail when it has rows to apply.
type Handlers[T any] struct {
	Insert HandlerFactory[T]
	Update HandlerFactory[T]
	Delete HandlerFactory[T]
}

// Func returns a factory producing f for every category run.
func Func[T any](f func(ctx context.Context, tx *gorm.DB, row T) error) HandlerFactory[T] {
	return func() Handler[T] { return HandlerFunc[T](f) }
}
