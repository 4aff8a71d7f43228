package drivers

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kirezdev/jobqueue/dialect"
)

// PgxDriver is a Driver backed by pgx's native connection pool. It is
// Postgres-only: pgxpool speaks the Postgres wire protocol directly.
type PgxDriver struct {
	pool *pgxpool.Pool
}

type pgxTxAdapter struct {
	tx pgx.Tx
}

type pgxRowsAdapter struct {
	rows pgx.Rows
}

func (r *pgxRowsAdapter) Next() bool                      { return r.rows.Next() }
func (r *pgxRowsAdapter) Scan(dest ...interface{}) error  { return r.rows.Scan(dest...) }
func (r *pgxRowsAdapter) Err() error                      { return r.rows.Err() }
func (r *pgxRowsAdapter) Close() error {
	r.rows.Close()
	return nil
}

func (tx *pgxTxAdapter) Exec(ctx context.Context, sql string, args ...interface{}) error {
	_, err := tx.tx.Exec(ctx, sql, args...)
	return err
}

func (tx *pgxTxAdapter) Query(ctx context.Context, sql string, args ...interface{}) (Rows, error) {
	rows, err := tx.tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return &pgxRowsAdapter{rows: rows}, nil
}

func (tx *pgxTxAdapter) QueryRow(ctx context.Context, sql string, args ...interface{}) Row {
	return tx.tx.QueryRow(ctx, sql, args...)
}

// NewPgxDriver wraps an already-connected pgxpool.Pool as a Driver.
func NewPgxDriver(pool *pgxpool.Pool) *PgxDriver {
	return &PgxDriver{pool: pool}
}

func (d *PgxDriver) Dialect() dialect.Dialect { return dialect.Postgres{} }

func (d *PgxDriver) WithTx(ctx context.Context, fn func(tx Transaction) error) error {
	pgxTx, err := d.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer pgxTx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	if err := fn(&pgxTxAdapter{tx: pgxTx}); err != nil {
		return err
	}
	return pgxTx.Commit(ctx)
}

func (d *PgxDriver) Exec(ctx context.Context, sql string, args ...interface{}) error {
	_, err := d.pool.Exec(ctx, sql, args...)
	return err
}

func (d *PgxDriver) Query(ctx context.Context, sql string, args ...interface{}) (Rows, error) {
	rows, err := d.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return &pgxRowsAdapter{rows: rows}, nil
}

func (d *PgxDriver) QueryRow(ctx context.Context, sql string, args ...interface{}) Row {
	return d.pool.QueryRow(ctx, sql, args...)
}

// Notify fires pg_notify on a fixed channel; failures are swallowed because
// this is an observability hook, never load-bearing for job durability.
func (d *PgxDriver) Notify(ctx context.Context, channel, payload string) {
	_, _ = d.pool.Exec(ctx, "SELECT pg_notify($1, $2)", channel, payload)
}

func (d *PgxDriver) Close() error {
	d.pool.Close()
	return nil
}
