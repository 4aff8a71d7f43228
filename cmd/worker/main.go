// Command worker connects a Worker sized from the environment, registers
// the sample job types, and runs until a signal arrives — the Go analogue
// of the original crate's examples/server.rs.
package main

import (
	"context"
	"log"
	"time"

	"github.com/kirezdev/jobqueue"
	"github.com/kirezdev/jobqueue/config"
	"github.com/kirezdev/jobqueue/internal/jqlog"
	"github.com/kirezdev/jobqueue/registry"
)

// PrintJob prints its message when handled.
type PrintJob struct {
	Message string `json:"message"`
}

func (j *PrintJob) Handle(_ context.Context) error {
	log.Println(j.Message)
	return nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := jqlog.New(cfg.LogFormatValue(), cfg.SlogLevel())
	ctx := context.Background()

	reg := registry.New()
	reg.Register("print_job", &PrintJob{})

	worker, err := jobqueue.NewWorkerBuilder(reg).
		WorkerCount(cfg.WorkerCount).
		MaxConnections(cfg.MaxConnections).
		MinConnections(cfg.MinConnections).
		RetryAfter(time.Duration(cfg.RetryAfterSeconds) * time.Second).
		Queue(cfg.Queue).
		WithLogger(logger).
		Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer worker.Close()

	if err := worker.Start(ctx); err != nil {
		log.Fatalf("worker: %v", err)
	}
}
