package jobqueue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kirezdev/jobqueue/dialect"
	"github.com/kirezdev/jobqueue/drivers"
	"github.com/kirezdev/jobqueue/internal/jqlog"
	"github.com/kirezdev/jobqueue/internal/metrics"
	"github.com/kirezdev/jobqueue/registry"
)

// pollInterval is the fixed sleep between reservation attempts within one
// worker loop, whether or not the previous attempt found a job.
const pollInterval = 100 * time.Millisecond

// Worker runs a fixed-size pool of reservation/execution loops against one
// queue until Stop is called or the process receives an interrupt signal.
type Worker struct {
	driver      drivers.Driver
	registry    *registry.Registry
	queue       string
	retryAfter  time.Duration
	workerCount int
	onStopping  func(context.Context)
	logger      *slog.Logger
	metrics     *metrics.Metrics

	stop     chan struct{}
	stopOnce sync.Once
}

// WorkerBuilder configures and connects a Worker.
type WorkerBuilder struct {
	maxConnections   int
	minConnections   int
	forceDatabaseSQL bool
	workerCount      int
	retryAfter       time.Duration
	queue            string
	onStopping       func(context.Context)
	registry         *registry.Registry
	logger           *slog.Logger
	registerer       prometheus.Registerer
}

// NewWorkerBuilder returns a builder with the spec's documented defaults:
// WorkerCount 1, RetryAfter 300s, Queue "default". MaxConnections is left at
// 0 so Connect can resolve it to 2*WorkerCount, matching the Rust original's
// example server configuration (spec.md §9, "transaction lifetime spans
// user code").
func NewWorkerBuilder(reg *registry.Registry) *WorkerBuilder {
	return &WorkerBuilder{
		workerCount: 1,
		retryAfter:  300 * time.Second,
		queue:       registry.DefaultQueue,
		registry:    reg,
	}
}

func (b *WorkerBuilder) MaxConnections(n int) *WorkerBuilder {
	b.maxConnections = n
	return b
}

func (b *WorkerBuilder) MinConnections(n int) *WorkerBuilder {
	b.minConnections = n
	return b
}

// ForceDatabaseSQL routes a Postgres connection through database/sql+lib/pq
// instead of the default pgx native pool. Has no effect on MySQL URLs,
// which always go through database/sql.
func (b *WorkerBuilder) ForceDatabaseSQL() *WorkerBuilder {
	b.forceDatabaseSQL = true
	return b
}

func (b *WorkerBuilder) WorkerCount(n int) *WorkerBuilder {
	b.workerCount = n
	return b
}

func (b *WorkerBuilder) RetryAfter(d time.Duration) *WorkerBuilder {
	b.retryAfter = d
	return b
}

func (b *WorkerBuilder) Queue(queue string) *WorkerBuilder {
	b.queue = queue
	return b
}

// OnStopping registers a callback run to completion after every loop has
// exited, before Start returns.
func (b *WorkerBuilder) OnStopping(fn func(context.Context)) *WorkerBuilder {
	b.onStopping = fn
	return b
}

func (b *WorkerBuilder) WithLogger(logger *slog.Logger) *WorkerBuilder {
	b.logger = logger
	return b
}

func (b *WorkerBuilder) WithRegisterer(reg prometheus.Registerer) *WorkerBuilder {
	b.registerer = reg
	return b
}

// Connect opens the pool for databaseURL and returns a ready Worker.
func (b *WorkerBuilder) Connect(ctx context.Context, databaseURL string) (*Worker, error) {
	maxConnections := b.maxConnections
	if maxConnections == 0 {
		maxConnections = 2 * b.workerCount
	}

	driver, err := drivers.Open(ctx, databaseURL, drivers.PoolOptions{
		MaxConnections:   maxConnections,
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

	return &Worker{
		driver:      driver,
		registry:    b.registry,
		queue:       b.queue,
		retryAfter:  b.retryAfter,
		workerCount: b.workerCount,
		onStopping:  b.onStopping,
		logger:      logger,
		metrics:     metrics.New(b.registerer),
		stop:        make(chan struct{}),
	}, nil
}

// Close releases the underlying connection pool. Callers should Stop the
// worker first.
func (w *Worker) Close() error {
	return w.driver.Close()
}

// task is the in-memory reservation result, private to this package since
// callers interact only through Client/Worker.
type task = Task

// reserve runs one reservation attempt inside tx: select-and-lock the next
// eligible row for queue, then bump its reserved_at/attempts. Returns
// (nil, false, nil) when no row was eligible.
func reserve(ctx context.Context, tx drivers.Transaction, d dialect.Dialect, queue string, retryAfter time.Duration) (*task, bool, error) {
	now := time.Now().Unix()
	staleBefore := now - int64(retryAfter/time.Second)

	selectSQL := fmt.Sprintf(`
SELECT id, uuid, payload, attempts FROM jobs
WHERE queue = %s
  AND ( (reserved_at IS NULL AND available_at <= %s)
     OR (reserved_at <= %s) )
ORDER BY id ASC
LIMIT 1
FOR UPDATE SKIP LOCKED`,
		d.Placeholder(1), d.Placeholder(2), d.Placeholder(3))

	row := tx.QueryRow(ctx, selectSQL, queue, now, staleBefore)

	var t task
	if err := row.Scan(&t.ID, &t.UUID, &t.Payload, &t.Attempts); err != nil {
		if isNoRows(err) {
			return nil, false, nil
		}
		return nil, false, err
	}

	updateSQL := fmt.Sprintf(
		"UPDATE jobs SET reserved_at = %s, attempts = %s WHERE id = %s",
		d.Placeholder(1), d.Placeholder(2), d.Placeholder(3),
	)
	t.Attempts++
	if err := tx.Exec(ctx, updateSQL, now, t.Attempts, t.ID); err != nil {
		return nil, false, err
	}

	return &t, true, nil
}

// isNoRows reports whether err is the "no matching row" sentinel from
// either supported driver stack (pgx or database/sql).
func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows)
}

// run performs one reserve-and-execute cycle. It returns (worked, err):
// worked is true when a row was reserved (regardless of handler outcome).
func (w *Worker) run(ctx context.Context) (bool, error) {
	d := w.driver.Dialect()
	var worked bool

	err := w.driver.WithTx(ctx, func(tx drivers.Transaction) error {
		t, found, err := reserve(ctx, tx, d, w.queue, w.retryAfter)
		if err != nil {
			return err
		}
		if !found {
			return nil
		}
		worked = true

		w.metrics.ReservationsTotal.WithLabelValues(w.queue).Inc()
		return w.execute(ctx, tx, d, t)
	})

	return worked, err
}

// execute decodes and runs one reserved task inside tx, then performs the
// delete-and-branch terminal transition (spec.md §4.6 steps 3-4).
func (w *Worker) execute(ctx context.Context, tx drivers.Transaction, d dialect.Dialect, t *Task) error {
	job, decodeErr := w.registry.Decode(t.Payload)

	var runErr error
	var jobTag string
	if decodeErr != nil {
		runErr = fmt.Errorf("payload decode failed: %w", decodeErr)
	} else {
		jobTag, _ = w.registry.Tag(job)
		started := time.Now()
		runErr = w.runWithTimeout(ctx, job)
		outcome := "success"
		if runErr != nil {
			outcome = "failure"
		}
		w.metrics.JobDuration.WithLabelValues(w.queue, outcome).Observe(time.Since(started).Seconds())
	}

	deleteSQL := fmt.Sprintf("DELETE FROM jobs WHERE id = %s", d.Placeholder(1))
	if err := tx.Exec(ctx, deleteSQL, t.ID); err != nil {
		return err
	}

	if runErr == nil {
		w.logger.Info("job finished", "tag", jobTag, "id", t.ID, "uuid", t.UUID, "queue", w.queue)
		w.metrics.JobsSucceededTotal.WithLabelValues(w.queue).Inc()
		return nil
	}

	w.callFailed(ctx, job, runErr)

	tries := registry.DefaultTries
	if trier, ok := job.(registry.Trier); ok {
		tries = trier.Tries()
	}

	if t.Attempts < tries {
		return w.retryJob(ctx, tx, d, t, job, runErr)
	}
	return w.deadLetterJob(ctx, tx, d, t, job, runErr)
}

func (w *Worker) runWithTimeout(ctx context.Context, job registry.Job) (err error) {
	timeout := registry.DefaultTimeout
	if t, ok := job.(registry.Timeouter); ok {
		timeout = t.Timeout()
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				result <- wrapPanic(r, debug.Stack())
			}
		}()
		result <- job.Handle(runCtx)
	}()

	select {
	case err = <-result:
		return err
	case <-runCtx.Done():
		return fmt.Errorf("%w after %s", ErrTimeout, timeout)
	}
}

func (w *Worker) callFailed(ctx context.Context, job registry.Job, cause error) {
	failer, ok := job.(registry.Failer)
	if !ok {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			w.logger.Debug("job Failed hook panicked", "recovered", r)
		}
	}()
	if err := failer.Failed(ctx, cause); err != nil {
		w.logger.Debug("job Failed hook returned error", "error", err)
	}
}

func (w *Worker) retryJob(ctx context.Context, tx drivers.Transaction, d dialect.Dialect, t *Task, job registry.Job, cause error) error {
	backoff := registry.DefaultBackoff(t.Attempts)
	if b, ok := job.(registry.Backoffer); ok {
		backoff = b.Backoff(t.Attempts)
	}

	payload, err := w.registry.Encode(job)
	if err != nil {
		payload = t.Payload
	}

	now := time.Now().Unix()
	availableAt := now + int64(backoff/time.Second)

	insertSQL := fmt.Sprintf(
		"INSERT INTO jobs (uuid, queue, payload, attempts, available_at, created_at) VALUES (%s)",
		dialect.Placeholders(d, 6),
	)
	if err := tx.Exec(ctx, insertSQL, t.UUID, w.queue, payload, t.Attempts, availableAt, now); err != nil {
		return err
	}

	w.logger.Warn("job failed, will retry", "id", t.ID, "uuid", t.UUID, "queue", w.queue, "attempts", t.Attempts, "error", cause, "retry_in", backoff)
	w.metrics.JobsRetriedTotal.WithLabelValues(w.queue).Inc()
	return nil
}

func (w *Worker) deadLetterJob(ctx context.Context, tx drivers.Transaction, d dialect.Dialect, t *Task, job registry.Job, cause error) error {
	payload, err := w.registry.Encode(job)
	if err != nil {
		payload = t.Payload
	}

	insertSQL := fmt.Sprintf(
		"INSERT INTO failed_jobs (uuid, queue, payload, exception) VALUES (%s)",
		dialect.Placeholders(d, 4),
	)
	if err := tx.Exec(ctx, insertSQL, t.UUID, w.queue, payload, cause.Error()); err != nil {
		return err
	}

	w.logger.Error("job dead-lettered", "id", t.ID, "uuid", t.UUID, "queue", w.queue, "attempts", t.Attempts, "error", cause)
	w.metrics.JobsDeadLetteredTotal.WithLabelValues(w.queue).Inc()
	return nil
}

// Start spawns WorkerCount reservation/execution loops and blocks until
// they all exit, either because Stop was called, the given ctx was
// canceled, or the process received SIGINT/SIGTERM.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info(fmt.Sprintf("Processing jobs from the [%s] queue.", w.queue))

	sigCtx, stopSignals := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	var wg sync.WaitGroup
	wg.Add(w.workerCount)
	w.metrics.ActiveWorkers.WithLabelValues(w.queue).Set(float64(w.workerCount))

	for i := 0; i < w.workerCount; i++ {
		go func() {
			defer wg.Done()
			for {
				select {
				case <-w.stop:
					return
				case <-sigCtx.Done():
					return
				default:
				}

				if _, err := w.run(ctx); err != nil {
					w.logger.Error("worker loop iteration failed", "error", err, "queue", w.queue)
				}

				select {
				case <-w.stop:
					return
				case <-sigCtx.Done():
					return
				case <-time.After(pollInterval):
				}
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-sigCtx.Done():
		w.logger.Info("Ctrl-C received, shutting down")
		w.stopOnce.Do(func() { close(w.stop) })
	case <-done:
	}

	for {
		select {
		case <-done:
			goto finished
		case <-time.After(300 * time.Millisecond):
			w.logger.Info("Waiting for workers to finish")
		}
	}

finished:
	w.metrics.ActiveWorkers.WithLabelValues(w.queue).Set(0)

	var stopWasRequested bool
	select {
	case <-w.stop:
		stopWasRequested = true
	default:
	}

	if stopWasRequested {
		w.logger.Info("All workers finished after Ctrl-C")
	} else {
		w.logger.Warn("All workers finished, probably a crash")
	}

	if w.onStopping != nil {
		w.logger.Info("Running on_stopping callback")
		w.onStopping(ctx)
	}

	return nil
}

// Stop signals every loop to exit after its current iteration. It does not
// block; call Start in a goroutine and wait for it to return if you need to
// know when shutdown is complete.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
}
