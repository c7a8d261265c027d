// Package runs provides database operations for reconciliation run history.
//
// # Interface Implementation
//
//	var _ reconcile.RunRecorder = (*Repository)(nil)
//
// # Usage
//
//	repo := runs.NewRepository(db)
//	err := repo.StartRun(ctx, runID, entities.RunTriggerSchedule, time.Now())
package runs

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/mrlokans/librarian/internal/entities"
)

// Repository handles reconciliation run records.
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new runs repository.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// StartRun records a run as running.
func (r *Repository) StartRun(ctx context.Context, runID string, trigger entities.RunTrigger, startedAt time.Time) error {
	run := entities.ReconciliationRun{
		RunID:     runID,
		Trigger:   trigger,
		Status:    entities.RunStatusRunning,
		StartedAt: startedAt,
		UpdatedAt: startedAt,
	}
	return r.db.WithContext(ctx).Create(&run).Error
}

// CompleteRun stores the final counters and status of a run.
func (r *Repository) CompleteRun(ctx context.Context, run *entities.ReconciliationRun) error {
	now := time.Now().UTC()
	if run.CompletedAt == nil {
		run.CompletedAt = &now
	}
	result := r.db.WithContext(ctx).Model(&entities.ReconciliationRun{}).
		Where("run_id = ?", run.RunID).
		Updates(map[string]any{
			"status":             run.Status,
			"reminders_sent":     run.RemindersSent,
			"reminder_failures":  run.ReminderFailures,
			"penalties_created":  run.PenaltiesCreated,
			"penalties_skipped":  run.PenaltiesSkipped,
			"penalties_deferred": run.PenaltiesDeferred,
			"penalty_failures":   run.PenaltyFailures,
			"error":              run.Error,
			"updated_at":         now,
			"completed_at":       run.CompletedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// GetRun retrieves a run by its run ID.
func (r *Repository) GetRun(ctx context.Context, runID string) (*entities.ReconciliationRun, error) {
	var run entities.ReconciliationRun
	err := r.db.WithContext(ctx).Where("run_id = ?", runID).First(&run).Error
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// LatestRun returns the most recently started run, or nil when none exist.
func (r *Repository) LatestRun(ctx context.Context) (*entities.ReconciliationRun, error) {
	var run entities.ReconciliationRun
	err := r.db.WithContext(ctx).Order("started_at DESC, id DESC").First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// ListRuns returns runs newest first with the total count.
func (r *Repository) ListRuns(ctx context.Context, limit, offset int) ([]entities.ReconciliationRun, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&entities.ReconciliationRun{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	var items []entities.ReconciliationRun
	err := r.db.WithContext(ctx).Order("started_at DESC, id DESC").Limit(limit).Offset(offset).Find(&items).Error
	return items, total, err
}

// FailStaleRuns marks runs still "running" after staleAfter as failed. A run
// is left in that state only when the process died mid-batch.
func (r *Repository) FailStaleRuns(ctx context.Context, staleAfter time.Duration) (int64, error) {
	now := time.Now().UTC()
	result := r.db.WithContext(ctx).Model(&entities.ReconciliationRun{}).
		Where("status = ? AND updated_at < ?", entities.RunStatusRunning, now.Add(-staleAfter)).
		Updates(map[string]any{
			"status":       entities.RunStatusFailed,
			"error":        "run was interrupted",
			"updated_at":   now,
			"completed_at": now,
		})
	return result.RowsAffected, result.Error
}

// DeleteRunsBefore removes finished runs started before cutoff.
func (r *Repository) DeleteRunsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("started_at < ? AND status <> ?", cutoff, entities.RunStatusRunning).
		Delete(&entities.ReconciliationRun{})
	return result.RowsAffected, result.Error
}
