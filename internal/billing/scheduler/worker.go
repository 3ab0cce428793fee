package scheduler

import (
	"context"

	"github.com/flexprice/flexcore/internal/logger"
	"go.temporal.io/sdk/worker"
	"go.uber.org/fx"
)

// Worker polls TaskQueueName for BillingCycleWorkflow executions.
// Grounded on the teacher's temporal Worker wrapper, generalized from a
// single fixed registration call into this package's one workflow/one
// activities-struct pair.
type Worker struct {
	w   worker.Worker
	log *logger.Logger
}

func NewWorker(client *Client, activities *Activities, log *logger.Logger) *Worker {
	w := worker.New(client.SDK, TaskQueueName, worker.Options{})
	w.RegisterWorkflow(BillingCycleWorkflow)
	w.RegisterActivity(activities)

	return &Worker{w: w, log: log}
}

func (w *Worker) Start() error {
	w.log.Info("starting temporal billing worker")
	return w.w.Start()
}

func (w *Worker) Stop() {
	w.log.Info("stopping temporal billing worker")
	w.w.Stop()
}

// RegisterWithLifecycle ties worker start/stop to the fx app lifecycle.
func (w *Worker) RegisterWithLifecycle(lc fx.Lifecycle) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return w.Start()
		},
		OnStop: func(ctx context.Context) error {
			done := make(chan struct{})
			go func() {
				w.Stop()
				close(done)
			}()
			select {
			case <-done:
			case <-ctx.Done():
				w.log.Error("timeout stopping temporal billing worker")
			}
			return nil
		},
	})
}
