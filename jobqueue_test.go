package jobqueue_test

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/kirezdev/jobqueue"
	"github.com/kirezdev/jobqueue/registry"
)

// testDatabaseURL returns the URL used for integration tests, or skips the
// test when none is configured. Every test in this file needs a live
// MySQL/Postgres instance with CREATE TABLE privileges, so none of them run
// in an environment without JOBQUEUE_TEST_DATABASE_URL set.
func testDatabaseURL(t testing.TB) string {
	t.Helper()
	url, ok := os.LookupEnv("JOBQUEUE_TEST_DATABASE_URL")
	if !ok {
		t.Skip("JOBQUEUE_TEST_DATABASE_URL not set, skipping integration test")
	}
	return url
}

type helloJob struct {
	Message string `json:"message"`
}

func (j *helloJob) Handle(_ context.Context) error { return nil }

// countingRuns counts countingJob.Handle calls. The worker runs a fresh value
// decoded from the stored payload, so the count lives outside the job.
var (
	countingMu   sync.Mutex
	countingRuns int
)

func resetCountingRuns() {
	countingMu.Lock()
	defer countingMu.Unlock()
	countingRuns = 0
}

func countingRunsSoFar() int {
	countingMu.Lock()
	defer countingMu.Unlock()
	return countingRuns
}

type countingJob struct {
	Message string `json:"message"`
}

func (j *countingJob) Handle(_ context.Context) error {
	countingMu.Lock()
	defer countingMu.Unlock()
	countingRuns++
	return nil
}

type alwaysFailsJob struct{}

func (j *alwaysFailsJob) Handle(_ context.Context) error {
	return fmt.Errorf("always fails")
}

func (j *alwaysFailsJob) Tries() int { return 2 }

func newTestRegistry() *registry.Registry {
	reg := registry.New()
	reg.Register("hello", &helloJob{})
	reg.Register("counting", &countingJob{})
	reg.Register("always_fails", &alwaysFailsJob{})
	return reg
}

func newTestClient(t testing.TB) *jobqueue.Client {
	t.Helper()
	client, err := jobqueue.NewClientBuilder(newTestRegistry()).Connect(context.Background(), testDatabaseURL(t))
	if err != nil {
		t.Fatalf("connect client: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func newTestWorker(t testing.TB, workerCount int) *jobqueue.Worker {
	t.Helper()
	worker, err := jobqueue.NewWorkerBuilder(newTestRegistry()).
		WorkerCount(workerCount).
		RetryAfter(5 * time.Second).
		Connect(context.Background(), testDatabaseURL(t))
	if err != nil {
		t.Fatalf("connect worker: %v", err)
	}
	t.Cleanup(func() { worker.Close() })
	return worker
}

// TestDispatchAndRun covers S1 — happy path — from spec: dispatch with no
// delay, one worker tick, row processed and removed.
func TestDispatchAndRun(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)
	if err := client.DeleteAllJobs(ctx); err != nil {
		t.Fatalf("DeleteAllJobs: %v", err)
	}

	resetCountingRuns()
	if err := client.Dispatch(ctx, &countingJob{}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	worker := newTestWorker(t, 1)
	ctx2, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	go worker.Start(ctx2)
	time.Sleep(500 * time.Millisecond)
	worker.Stop()

	count := countingRunsSoFar()
	if count != 1 {
		t.Errorf("job ran %d times, want 1", count)
	}
}

// TestDispatchWithDelay covers S2 — a delayed job is not eligible before its
// available_at.
func TestDispatchWithDelay(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)
	if err := client.DeleteAllJobs(ctx); err != nil {
		t.Fatalf("DeleteAllJobs: %v", err)
	}

	resetCountingRuns()
	err := client.CustomDispatch(ctx, &countingJob{}, jobqueue.DispatchOptions{
		Delay: 3 * time.Second,
	})
	if err != nil {
		t.Fatalf("CustomDispatch: %v", err)
	}

	worker := newTestWorker(t, 1)
	ctx2, cancel := context.WithTimeout(ctx, 1*time.Second)
	defer cancel()
	go worker.Start(ctx2)
	time.Sleep(500 * time.Millisecond)
	worker.Stop()

	ranEarly := countingRunsSoFar()
	if ranEarly != 0 {
		t.Errorf("job ran before its delay elapsed")
	}
}

// TestDeadLetterAfterExhaustedTries covers S4 — a job that always fails is
// dead-lettered after Tries() attempts.
func TestDeadLetterAfterExhaustedTries(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)
	if err := client.DeleteAllJobs(ctx); err != nil {
		t.Fatalf("DeleteAllJobs: %v", err)
	}
	if err := client.DeleteAllFailedJobs(ctx); err != nil {
		t.Fatalf("DeleteAllFailedJobs: %v", err)
	}

	if err := client.Dispatch(ctx, &alwaysFailsJob{}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	worker := newTestWorker(t, 1)
	ctx2, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	go worker.Start(ctx2)
	time.Sleep(8 * time.Second)
	worker.Stop()

	failed, err := client.ListFailedJobs(ctx)
	if err != nil {
		t.Fatalf("ListFailedJobs: %v", err)
	}
	if len(failed) != 1 {
		t.Fatalf("failed_jobs has %d rows, want 1", len(failed))
	}
}

// TestRetryFailedJob covers S7 — admin retry moves a dead letter back into
// jobs with attempts reset to 0.
func TestRetryFailedJob(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)
	if err := client.DeleteAllJobs(ctx); err != nil {
		t.Fatalf("DeleteAllJobs: %v", err)
	}
	if err := client.DeleteAllFailedJobs(ctx); err != nil {
		t.Fatalf("DeleteAllFailedJobs: %v", err)
	}

	if err := client.Dispatch(ctx, &alwaysFailsJob{}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	worker := newTestWorker(t, 1)
	ctx2, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	go worker.Start(ctx2)
	time.Sleep(8 * time.Second)
	worker.Stop()

	failed, err := client.ListFailedJobs(ctx)
	if err != nil {
		t.Fatalf("ListFailedJobs: %v", err)
	}
	if len(failed) != 1 {
		t.Fatalf("failed_jobs has %d rows, want 1", len(failed))
	}

	if err := client.RetryFailedJob(ctx, failed[0].UUID); err != nil {
		t.Fatalf("RetryFailedJob: %v", err)
	}

	failedAfter, err := client.ListFailedJobs(ctx)
	if err != nil {
		t.Fatalf("ListFailedJobs: %v", err)
	}
	if len(failedAfter) != 0 {
		t.Errorf("failed_jobs has %d rows after retry, want 0", len(failedAfter))
	}
}

// TestConcurrentFanOut covers S6 — many jobs dispatched once, several
// workers, every job processed exactly once.
func TestConcurrentFanOut(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)
	if err := client.DeleteAllJobs(ctx); err != nil {
		t.Fatalf("DeleteAllJobs: %v", err)
	}

	const n = 20
	resetCountingRuns()
	for i := 0; i < n; i++ {
		if err := client.Dispatch(ctx, &countingJob{}); err != nil {
			t.Fatalf("Dispatch: %v", err)
		}
	}

	worker := newTestWorker(t, 5)
	ctx2, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	go worker.Start(ctx2)
	time.Sleep(3 * time.Second)
	worker.Stop()

	count := countingRunsSoFar()
	if count != n {
		t.Errorf("processed %d jobs, want %d", count, n)
	}
}
