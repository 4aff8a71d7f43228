// Command dispatch connects a Client and repeatedly enqueues a sample job,
// the Go analogue of the original crate's examples/client.rs.
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

	client, err := jobqueue.NewClientBuilder(reg).
		WithLogger(logger).
		Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer client.Close()

	for {
		logger.Info("dispatching job")
		err := client.CustomDispatch(ctx, &PrintJob{Message: "Hello, world!"}, jobqueue.DispatchOptions{
			Queue: &cfg.Queue,
			Delay: 60 * time.Second,
		})
		if err != nil {
			logger.Error("dispatch failed", "error", err)
		}

		time.Sleep(time.Second)
	}
}
