package apply

import (
	"context"

	"gorm.io/gorm"
)

// Conn is a database connection held by the applier for a whole category.
type Conn interface {
	// Begin starts a transaction on the connection. The returned handle is
	// committed or rolled back by the applier; the connection returns to its
	// previous autocommit mode afterwards.
	Begin(ctx context.Context) (*gorm.DB, error)
	// Close releases the connection.
	Close() error
}

// ConnProvider returns a fresh connection. The caller owns it and must close it.
type ConnProvider func(ctx context.Context) (Conn, error)
