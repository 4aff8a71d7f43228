// Package drivers adapts the two database/sql-compatible stacks this module
// supports (pgx's native pool for Postgres, and database/sql for Postgres
// via lib/pq or MySQL via go-sql-driver/mysql) behind one narrow interface.
package drivers

import (
	"context"

	"github.com/kirezdev/jobqueue/dialect"
)

// Driver is the set of database operations the reservation engine and
// dispatcher need. Every reservation-and-retry transition runs inside a
// single WithTx call so a SELECT ... FOR UPDATE SKIP LOCKED lock stays held
// until the terminating write commits.
type Driver interface {
	Dialect() dialect.Dialect

	Exec(ctx context.Context, sql string, args ...interface{}) error
	Query(ctx context.Context, sql string, args ...interface{}) (Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) Row

	// WithTx runs fn inside a transaction, committing on a nil return and
	// rolling back otherwise (or if fn panics).
	WithTx(ctx context.Context, fn func(tx Transaction) error) error

	// Notify is a best-effort observability hook; drivers that can't
	// support it (MySQL, any non-Postgres backend) treat it as a no-op.
	Notify(ctx context.Context, channel, payload string)

	Close() error
}

// Transaction is the subset of Driver usable inside WithTx.
type Transaction interface {
	Exec(ctx context.Context, sql string, args ...interface{}) error
	Query(ctx context.Context, sql string, args ...interface{}) (Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) Row
}

// Row is a single-row scan result, satisfied by both pgx.Row and *sql.Row.
type Row interface {
	Scan(dest ...interface{}) error
}

// Rows is a multi-row cursor, implemented by thin adapters over pgx.Rows
// and *sql.Rows.
type Rows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Close() error
	Err() error
}

// PoolOptions configures connection pool sizing shared by both driver
// implementations.
type PoolOptions struct {
	MaxConnections int
	MinConnections int

	// ForceDatabaseSQL routes a postgres:// URL through database/sql+lib/pq
	// (SQLDriver) instead of the default pgxpool-backed PgxDriver. Most
	// callers want pgx's native pool; this exists for callers that need a
	// single database/sql-shaped Driver across both supported engines, or
	// that are standardizing on database/sql for its connection-pool
	// metrics and driver-agnostic tooling.
	ForceDatabaseSQL bool
}
