package jobqueue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirezdev/jobqueue/dialect"
	"github.com/kirezdev/jobqueue/drivers"
	"github.com/kirezdev/jobqueue/internal/jqlog"
	"github.com/kirezdev/jobqueue/internal/uuidgen"
	"github.com/kirezdev/jobqueue/registry"
)

// notifyChannel is the fixed Postgres NOTIFY channel Dispatch fires on,
// best-effort, purely as an observability hook. MySQL backends skip it.
const notifyChannel = "jobqueue_enqueued"

// DispatchOptions overrides a job's queue and/or delays its first
// eligibility.
type DispatchOptions struct {
	Queue *string
	Delay time.Duration
}

// FailedJob is a dead-lettered row as seen by administrative operations.
type FailedJob struct {
	ID        int64
	UUID      string
	Queue     string
	Payload   string
	Exception string
	FailedAt  time.Time
}

// Client is the producer-side handle: it dispatches jobs and performs
// administrative operations against the failed_jobs table.
type Client struct {
	driver   drivers.Driver
	registry *registry.Registry
	logger   *slog.Logger
}

// ClientBuilder configures and connects a Client.
type ClientBuilder struct {
	maxConnections   int
	minConnections   int
	forceDatabaseSQL bool
	registry         *registry.Registry
	logger           *slog.Logger
}

// NewClientBuilder returns a builder with the spec's documented defaults
// (MaxConnections 10, MinConnections 0).
func NewClientBuilder(reg *registry.Registry) *ClientBuilder {
	return &ClientBuilder{
		maxConnections: 10,
		minConnections: 0,
		registry:       reg,
	}
}

func (b *ClientBuilder) MaxConnections(n int) *ClientBuilder {
	b.maxConnections = n
	return b
}

func (b *ClientBuilder) MinConnections(n int) *ClientBuilder {
	b.minConnections = n
	return b
}

// ForceDatabaseSQL routes a Postgres connection through database/sql+lib/pq
// instead of the default pgx native pool. Has no effect on MySQL URLs,
// which always go through database/sql.
func (b *ClientBuilder) ForceDatabaseSQL() *ClientBuilder {
	b.forceDatabaseSQL = true
	return b
}

// WithLogger overrides the default stdout text logger.
func (b *ClientBuilder) WithLogger(logger *slog.Logger) *ClientBuilder {
	b.logger = logger
	return b
}

// Connect opens the pool for databaseURL and returns a ready Client.
func (b *ClientBuilder) Connect(ctx context.Context, databaseURL string) (*Client, error) {
	driver, err := drivers.Open(ctx, databaseURL, drivers.PoolOptions{
		MaxConnections:   b.maxConnections,
		MinConnections:   b.minConnections,
		ForceDatabaseSQL: b.forceDatabaseSQL,
	})
	if err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = jqlog.New(jqlog.FormatText, slog.LevelInfo)
	}

	return &Client{
		driver:   driver,
		registry: b.registry,
		logger:   logger,
	}, nil
}

// Close releases the underlying connection pool.
func (c *Client) Close() error {
	return c.driver.Close()
}

// Dispatch enqueues job on its own queue (via registry.Queuer, default
// "default").
func (c *Client) Dispatch(ctx context.Context, job registry.Job) error {
	return c.DispatchOnQueue(ctx, job, jobQueueName(job))
}

// DispatchOnQueue enqueues job, overriding its default queue.
func (c *Client) DispatchOnQueue(ctx context.Context, job registry.Job, queue string) error {
	return c.CustomDispatch(ctx, job, DispatchOptions{Queue: &queue})
}

// CustomDispatch is the general dispatch form: it resolves queue/delay from
// opts, serializes job, and inserts one durable row.
func (c *Client) CustomDispatch(ctx context.Context, job registry.Job, opts DispatchOptions) error {
	payload, err := c.registry.Encode(job)
	if err != nil {
		return err
	}

	queue := jobQueueName(job)
	if opts.Queue != nil {
		queue = *opts.Queue
	}

	id := uuidgen.New()
	now := time.Now().Unix()
	availableAt := now + int64(opts.Delay/time.Second)

	err = c.driver.WithTx(ctx, func(tx drivers.Transaction) error {
		return insertJob(ctx, tx, c.driver.Dialect(), id, queue, payload, 0, availableAt, now)
	})
	if err != nil {
		return wrapDatabase(err)
	}

	c.logger.Debug("job dispatched", "uuid", id, "queue", queue)
	c.driver.Notify(ctx, notifyChannel, fmt.Sprintf(`{"queue":%q}`, queue))
	return nil
}

// DispatchBatch inserts several jobs in one transaction. It supplements the
// single-job dispatch contract for producers enqueueing many jobs at once.
func (c *Client) DispatchBatch(ctx context.Context, jobs []registry.Job, opts DispatchOptions) error {
	if len(jobs) == 0 {
		return nil
	}

	now := time.Now().Unix()
	availableAt := now + int64(opts.Delay/time.Second)

	err := c.driver.WithTx(ctx, func(tx drivers.Transaction) error {
		for _, job := range jobs {
			payload, err := c.registry.Encode(job)
			if err != nil {
				return err
			}
			queue := jobQueueName(job)
			if opts.Queue != nil {
				queue = *opts.Queue
			}
			if err := insertJob(ctx, tx, c.driver.Dialect(), uuidgen.New(), queue, payload, 0, availableAt, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return wrapDatabase(err)
	}
	return nil
}

// DispatchInTx enqueues job using an already-open caller transaction, so the
// enqueue commits or rolls back atomically with the caller's own writes.
func (c *Client) DispatchInTx(ctx context.Context, tx drivers.Transaction, job registry.Job, opts DispatchOptions) error {
	payload, err := c.registry.Encode(job)
	if err != nil {
		return err
	}

	queue := jobQueueName(job)
	if opts.Queue != nil {
		queue = *opts.Queue
	}

	now := time.Now().Unix()
	availableAt := now + int64(opts.Delay/time.Second)

	if err := insertJob(ctx, tx, c.driver.Dialect(), uuidgen.New(), queue, payload, 0, availableAt, now); err != nil {
		return wrapDatabase(err)
	}
	return nil
}

func insertJob(ctx context.Context, tx drivers.Transaction, d dialect.Dialect, uuid interface{}, queue, payload string, attempts int, availableAt, createdAt int64) error {
	sql := fmt.Sprintf(
		"INSERT INTO jobs (uuid, queue, payload, attempts, available_at, created_at) VALUES (%s)",
		dialect.Placeholders(d, 6),
	)
	return tx.Exec(ctx, sql, uuid, queue, payload, attempts, availableAt, createdAt)
}

func jobQueueName(job registry.Job) string {
	if q, ok := job.(registry.Queuer); ok {
		return q.Queue()
	}
	return registry.DefaultQueue
}

// RetryFailedJob moves one failed_jobs row back into jobs, resetting
// attempts to 0 and available_at to now.
func (c *Client) RetryFailedJob(ctx context.Context, uuid string) error {
	d := c.driver.Dialect()

	return c.driver.WithTx(ctx, func(tx drivers.Transaction) error {
		row := tx.QueryRow(ctx, fmt.Sprintf(
			"SELECT queue, payload FROM failed_jobs WHERE uuid = %s", d.Placeholder(1),
		), uuid)

		var queue, payload string
		if err := row.Scan(&queue, &payload); err != nil {
			return err
		}

		now := time.Now().Unix()
		if err := insertJob(ctx, tx, d, uuid, queue, payload, 0, now, now); err != nil {
			return err
		}

		return tx.Exec(ctx, fmt.Sprintf(
			"DELETE FROM failed_jobs WHERE uuid = %s", d.Placeholder(1),
		), uuid)
	})
}

// ListFailedJobs reads every dead-lettered row. It exists to make
// RetryAllFailedJobs's per-uuid loop observable and testable without direct
// SQL access.
func (c *Client) ListFailedJobs(ctx context.Context) ([]FailedJob, error) {
	rows, err := c.driver.Query(ctx, "SELECT id, uuid, queue, payload, exception, failed_at FROM failed_jobs ORDER BY id ASC")
	if err != nil {
		return nil, wrapDatabase(err)
	}
	defer rows.Close()

	var out []FailedJob
	for rows.Next() {
		var fj FailedJob
		if err := rows.Scan(&fj.ID, &fj.UUID, &fj.Queue, &fj.Payload, &fj.Exception, &fj.FailedAt); err != nil {
			return nil, wrapDatabase(err)
		}
		out = append(out, fj)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDatabase(err)
	}
	return out, nil
}

// RetryAllFailedJobs retries every failed job, one transaction per job.
// Progress is best-effort: a mid-run failure leaves already-retried jobs
// retried.
func (c *Client) RetryAllFailedJobs(ctx context.Context) error {
	failed, err := c.ListFailedJobs(ctx)
	if err != nil {
		return err
	}
	for _, fj := range failed {
		if err := c.RetryFailedJob(ctx, fj.UUID); err != nil {
			return err
		}
	}
	return nil
}

// DeleteFailedJob permanently removes one dead-lettered row.
func (c *Client) DeleteFailedJob(ctx context.Context, uuid string) error {
	d := c.driver.Dialect()
	err := c.driver.Exec(ctx, fmt.Sprintf("DELETE FROM failed_jobs WHERE uuid = %s", d.Placeholder(1)), uuid)
	if err != nil {
		return wrapDatabase(err)
	}
	return nil
}

// DeleteAllFailedJobs empties the failed_jobs table.
func (c *Client) DeleteAllFailedJobs(ctx context.Context) error {
	if err := c.driver.Exec(ctx, "DELETE FROM failed_jobs"); err != nil {
		return wrapDatabase(err)
	}
	return nil
}

// DeleteJob permanently removes one pending/reserved row by uuid.
func (c *Client) DeleteJob(ctx context.Context, uuid string) error {
	d := c.driver.Dialect()
	err := c.driver.Exec(ctx, fmt.Sprintf("DELETE FROM jobs WHERE uuid = %s", d.Placeholder(1)), uuid)
	if err != nil {
		return wrapDatabase(err)
	}
	return nil
}

// DeleteAllJobs empties the jobs table.
func (c *Client) DeleteAllJobs(ctx context.Context) error {
	if err := c.driver.Exec(ctx, "DELETE FROM jobs"); err != nil {
		return wrapDatabase(err)
	}
	return nil
}
