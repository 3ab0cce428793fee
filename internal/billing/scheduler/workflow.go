package scheduler

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// TaskQueueName is the single task queue this package's worker polls.
const TaskQueueName = "flexcore-billing"

var activityOptions = workflow.ActivityOptions{
	StartToCloseTimeout: 2 * time.Minute,
	RetryPolicy: &temporal.RetryPolicy{
		InitialInterval:    time.Second,
		BackoffCoefficient: 2.0,
		MaximumInterval:    time.Minute,
		MaximumAttempts:    5,
	},
}

// BillingCycleWorkflow runs RunBillingCycle for one subscription item.
// One workflow execution per (subscription item, cycle trigger); the
// workflow ID a caller assigns should be deterministic on the
// subscription item and cycle window so Temporal itself rejects a
// duplicate trigger before CycleRunner's own lock is ever acquired.
func BillingCycleWorkflow(ctx workflow.Context, input BillingCycleInput) (BillingCycleResult, error) {
	ctx = workflow.WithActivityOptions(ctx, activityOptions)

	var a *Activities
	var result BillingCycleResult
	err := workflow.ExecuteActivity(ctx, a.RunBillingCycle, input).Get(ctx, &result)
	return result, err
}
