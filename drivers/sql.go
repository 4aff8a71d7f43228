package drivers

import (
	"context"
	"database/sql"
	"errors"

	"github.com/kirezdev/jobqueue/dialect"
)

// SQLDriver is a Driver backed by database/sql, usable with either the
// lib/pq (Postgres) or go-sql-driver/mysql (MySQL) client under the hood.
// Callers are responsible for blank-importing the matching sql.Driver and
// opening db with the matching driver name; SQLDriver only needs the
// resulting *sql.DB plus the Dialect to render SQL correctly.
type SQLDriver struct {
	db      *sql.DB
	dialect dialect.Dialect
}

type sqlTxAdapter struct {
	tx *sql.Tx
}

type sqlRowsAdapter struct {
	rows *sql.Rows
}

func (r *sqlRowsAdapter) Next() bool                     { return r.rows.Next() }
func (r *sqlRowsAdapter) Scan(dest ...interface{}) error { return r.rows.Scan(dest...) }
func (r *sqlRowsAdapter) Err() error                      { return r.rows.Err() }
func (r *sqlRowsAdapter) Close() error                    { return r.rows.Close() }

func (tx *sqlTxAdapter) Exec(ctx context.Context, sql string, args ...interface{}) error {
	_, err := tx.tx.ExecContext(ctx, sql, args...)
	return err
}

func (tx *sqlTxAdapter) Query(ctx context.Context, sql string, args ...interface{}) (Rows, error) {
	rows, err := tx.tx.QueryContext(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return &sqlRowsAdapter{rows: rows}, nil
}

func (tx *sqlTxAdapter) QueryRow(ctx context.Context, sql string, args ...interface{}) Row {
	return tx.tx.QueryRowContext(ctx, sql, args...)
}

// NewSQLDriver wraps an already-opened *sql.DB as a Driver for the given
// dialect.
func NewSQLDriver(db *sql.DB, d dialect.Dialect) (*SQLDriver, error) {
	if db == nil {
		return nil, errors.New("jobqueue: nil database connection")
	}
	return &SQLDriver{db: db, dialect: d}, nil
}

func (d *SQLDriver) Dialect() dialect.Dialect { return d.dialect }

func (d *SQLDriver) WithTx(ctx context.Context, fn func(tx Transaction) error) error {
	sqlTx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer sqlTx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	if err := fn(&sqlTxAdapter{tx: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

func (d *SQLDriver) Exec(ctx context.Context, sql string, args ...interface{}) error {
	_, err := d.db.ExecContext(ctx, sql, args...)
	return err
}

func (d *SQLDriver) Query(ctx context.Context, sql string, args ...interface{}) (Rows, error) {
	rows, err := d.db.QueryContext(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return &sqlRowsAdapter{rows: rows}, nil
}

func (d *SQLDriver) QueryRow(ctx context.Context, sql string, args ...interface{}) Row {
	return d.db.QueryRowContext(ctx, sql, args...)
}

// Notify fires pg_notify when running against Postgres; MySQL has no
// equivalent primitive so it's a no-op there.
func (d *SQLDriver) Notify(ctx context.Context, channel, payload string) {
	if d.dialect.Name() != "postgres" {
		return
	}
	_, _ = d.db.ExecContext(ctx, "SELECT pg_notify($1, $2)", channel, payload)
}

func (d *SQLDriver) Close() error {
	return d.db.Close()
}
