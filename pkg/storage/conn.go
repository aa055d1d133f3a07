package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"gorm.io/gorm"

	"github.com/jdziat/simple-batch-runtime/pkg/apply"
)

// PinnedConn is a single pooled connection wrapped in a GORM session.
// Every statement issued through it runs on that connection.
type PinnedConn struct {
	db   *gorm.DB
	conn *sql.Conn
}

// Pin takes one connection out of db's pool.
func Pin(ctx context.Context, db *gorm.DB) (*PinnedConn, error) {
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying *sql.DB: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return nil, err
	}

	// A non-nil Context gives the session its own statement, so the
	// connection does not leak into db.
	session := db.Session(&gorm.Session{NewDB: true, Context: ctx})
	session.Statement.ConnPool = conn
	return &PinnedConn{db: session, conn: conn}, nil
}

// DB returns a GORM handle bound to the pinned connection.
func (c *PinnedConn) DB() *gorm.DB {
	return c.db
}

// Begin starts a transaction on the pinned connection.
func (c *PinnedConn) Begin(ctx context.Context) (*gorm.DB, error) {
	tx := c.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}
	return tx, nil
}

// Close returns the connection to the pool.
func (c *PinnedConn) Close() error {
	return c.conn.Close()
}

// ConnProvider returns an apply.ConnProvider pinning a fresh connection of
// db on every call.
func ConnProvider(db *gorm.DB) apply.ConnProvider {
	return func(ctx context.Context) (apply.Conn, error) {
		return Pin(ctx, db)
	}
}

// ErrReusedClosed is returned by Borrow after Close.
var ErrReusedClosed = errors.New("storage: reused connection closed")

// Reused shares one connection between several borrowers. The connection
// is acquired on the first Borrow and only closed by Close; borrowers give
// it back with Release or by closing what Borrow returned.
type Reused struct {
	provider apply.ConnProvider

	mu       sync.Mutex
	conn     apply.Conn
	borrowed int
	closed   bool
}

// NewReused creates a Reused connection acquiring from provider.
func NewReused(provider apply.ConnProvider) *Reused {
	return &Reused{provider: provider}
}

// Borrow returns the shared connection, acquiring it if needed.
func (r *Reused) Borrow(ctx context.Context) (apply.Conn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrReusedClosed
	}
	if r.conn == nil {
		conn, err := r.provider(ctx)
		if err != nil {
			return nil, err
		}
		r.conn = conn
	}
	r.borrowed++
	return &borrowedConn{Conn: r.conn, owner: r}, nil
}

// Release gives a borrowed connection back. The connection stays open.
func (r *Reused) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.borrowed > 0 {
		r.borrowed--
	}
}

// Borrowed returns the number of outstanding borrows.
func (r *Reused) Borrowed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.borrowed
}

// Provider exposes Borrow as an apply.ConnProvider.
func (r *Reused) Provider() apply.ConnProvider {
	return r.Borrow
}

// Close closes the shared connection.
func (r *Reused) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	if r.conn == nil {
		return nil
	}
	return r.conn.Close()
}

// borrowedConn turns Close into a release of the shared connection.
type borrowedConn struct {
	apply.Conn
	owner *Reused
	once  sync.Once
}

func (b *borrowedConn) Close() error {
	b.once.Do(b.owner.Release)
	return nil
}
