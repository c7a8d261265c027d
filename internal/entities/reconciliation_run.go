package entities

import (
	"time"
)

type RunTrigger string

const (
	RunTriggerSchedule RunTrigger = "schedule"
	RunTriggerManual   RunTrigger = "manual"
	RunTriggerTask     RunTrigger = "task"
	RunTriggerCLI      RunTrigger = "cli"
)

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusPartial   RunStatus = "partial"
	RunStatusFailed    RunStatus = "failed"
)

// ReconciliationRun is the persisted summary of one reconciliation batch.
type ReconciliationRun struct {
	ID                uint       `gorm:"primaryKey" json:"id"`
	RunID             string     `gorm:"uniqueIndex;size:36" json:"run_id"`
	Trigger           RunTrigger `gorm:"size:20" json:"trigger"`
	Status            RunStatus  `gorm:"index;size:20" json:"status"`
	RemindersSent     int        `json:"reminders_sent"`
	ReminderFailures  int        `json:"reminder_failures"`
	PenaltiesCreated  int        `json:"penalties_created"`
	PenaltiesSkipped  int        `json:"penalties_skipped"`
	PenaltiesDeferred int        `json:"penalties_deferred"`
	PenaltyFailures   int        `json:"penalty_failures"`
	Error             string     `gorm:"type:text" json:"error,omitempty"`
	StartedAt         time.Time  `gorm:"index" json:"started_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
}

func (ReconciliationRun) TableName() string {
	return "reconciliation_runs"
}
