// Package storage provides the database plumbing of the batch runtime.
//
// This package includes:
//   - Open: a GORM opener for SQLite and PostgreSQL with pool configuration
//   - GormStore: persistence of job and step execution traces
//   - ConnProvider and Pin: pinned connections implementing apply.Conn
//   - Reused: a connection shared across applier categories, closed once
//   - Query: an iterator over the rows of a SQL query
//
// SQLite in-memory databases are private to each connection; use a file
// database when pinning or reusing connections.
package storage
