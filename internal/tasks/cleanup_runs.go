package tasks

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/mikestefanello/backlite"
)

// RunHistoryCleaner prunes reconciliation run summaries.
type RunHistoryCleaner interface {
	FailStaleRuns(ctx context.Context, staleAfter time.Duration) (int64, error)
	DeleteRunsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// CleanupRunsTask marks abandoned runs as failed and deletes run summaries
// older than Retention.
type CleanupRunsTask struct {
	Retention  time.Duration `json:"retention"`
	StaleAfter time.Duration `json:"stale_after"`
}

func (t CleanupRunsTask) Config() backlite.QueueConfig {
	return backlite.QueueConfig{
		Name:        "cleanup_reconciliation_runs",
		MaxAttempts: 3,
		Backoff:     5 * time.Minute,
		Timeout:     time.Minute,
		Retention: &backlite.Retention{
			Duration: 24 * time.Hour,
			Data:     &backlite.RetainData{OnlyFailed: true},
		},
	}
}

// CleanupRunsProcessor creates the processor for CleanupRunsTask.
func CleanupRunsProcessor(cleaner RunHistoryCleaner) backlite.QueueProcessor[CleanupRunsTask] {
	return func(ctx context.Context, task CleanupRunsTask) error {
		if cleaner == nil {
			return fmt.Errorf("run history cleaner not configured")
		}

		staleAfter := task.StaleAfter
		if staleAfter <= 0 {
			staleAfter = 6 * time.Hour
		}
		failed, err := cleaner.FailStaleRuns(ctx, staleAfter)
		if err != nil {
			return fmt.Errorf("fail stale runs: %w", err)
		}

		var deleted int64
		if task.Retention > 0 {
			deleted, err = cleaner.DeleteRunsBefore(ctx, time.Now().UTC().Add(-task.Retention))
			if err != nil {
				return fmt.Errorf("delete old runs: %w", err)
			}
		}

		log.Printf("Task queue: marked %d interrupted runs failed, removed %d old runs", failed, deleted)
		return nil
	}
}

func NewCleanupRunsQueue(cleaner RunHistoryCleaner) backlite.Queue {
	return backlite.NewQueue(CleanupRunsProcessor(cleaner))
}
