package tasks

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/mikestefanello/backlite"

	"github.com/mrlokans/librarian/internal/entities"
	"github.com/mrlokans/librarian/internal/reconcile"
)

// ReconcileRunner executes one reconciliation batch.
type ReconcileRunner interface {
	Run(ctx context.Context, trigger entities.RunTrigger) (*reconcile.Report, error)
}

// ReconcileTask runs a reconciliation batch in the background. RequestedBy
// is the operator who enqueued it.
type ReconcileTask struct {
	RequestedBy uint `json:"requested_by"`
}

// Config returns the queue configuration for reconciliation tasks. A second
// attempt only follows a run that was aborted.
func (t ReconcileTask) Config() backlite.QueueConfig {
	return backlite.QueueConfig{
		Name:        "reconcile",
		MaxAttempts: 2,
		Backoff:     time.Minute,
		Timeout:     15 * time.Minute,
		Retention: &backlite.Retention{
			Duration: 7 * 24 * time.Hour,
			Data:     &backlite.RetainData{OnlyFailed: true},
		},
	}
}

// ReconcileProcessor creates the processor for ReconcileTask. Per-record
// failures are reported in the run and do not fail the task; only an aborted
// run does.
func ReconcileProcessor(runner ReconcileRunner) backlite.QueueProcessor[ReconcileTask] {
	return func(ctx context.Context, task ReconcileTask) error {
		if runner == nil {
			return fmt.Errorf("reconciliation engine not configured")
		}

		report, err := runner.Run(ctx, entities.RunTriggerTask)
		if err != nil {
			return fmt.Errorf("reconcile: %w", err)
		}

		log.Printf("Task queue: reconciliation %s requested by user %d finished with status %s", report.RunID, task.RequestedBy, report.Status())
		if err := report.Err(); err != nil {
			log.Printf("Task queue: reconciliation %s: %v", report.RunID, err)
		}
		return nil
	}
}

// NewReconcileQueue creates a backlite queue for ReconcileTask.
func NewReconcileQueue(runner ReconcileRunner) backlite.Queue {
	return backlite.NewQueue(ReconcileProcessor(runner))
}
