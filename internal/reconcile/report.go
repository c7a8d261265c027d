package reconcile

import (
	"errors"
	"fmt"
	"time"

	"github.com/mrlokans/librarian/internal/entities"
)

// ErrPartialBatchFailure is returned by Report.Err when at least one record or
// pass failed. Committed work of the same run stays committed.
var ErrPartialBatchFailure = errors.New("reconciliation finished with failures")

type Outcome string

const (
	OutcomeNotified  Outcome = "notified"  // due-soon reminder written
	OutcomePenalized Outcome = "penalized" // late penalty and notice written
	OutcomeSkipped   Outcome = "skipped"   // loan already has a late penalty
	OutcomeDeferred  Outcome = "deferred"  // less than one whole day overdue
	OutcomeFailed    Outcome = "failed"
)

const (
	PassDueSoon = "due_soon"
	PassOverdue = "overdue"
)

// ItemResult is the outcome for one loan in one pass.
type ItemResult struct {
	LoanID      uint    `json:"loan_id"`
	UserID      uint    `json:"user_id"`
	BookID      uint    `json:"book_id"`
	Outcome     Outcome `json:"outcome"`
	DaysOverdue int64   `json:"days_overdue,omitempty"`
	Amount      int64   `json:"amount,omitempty"`
	PenaltyID   uint    `json:"penalty_id,omitempty"`
	Error       string  `json:"error,omitempty"`
}

// PassReport aggregates one pass. Err is set when the pass could not run at
// all (for example its scan query failed).
type PassReport struct {
	Name             string       `json:"name"`
	Scanned          int          `json:"scanned"`
	Succeeded        int          `json:"succeeded"`
	Skipped          int          `json:"skipped"`
	Deferred         int          `json:"deferred"`
	Failed           int          `json:"failed"`
	DeliveryFailures int          `json:"delivery_failures"`
	Err              string       `json:"error,omitempty"`
	Items            []ItemResult `json:"items"`
}

func (p *PassReport) HasFailures() bool {
	return p.Failed > 0 || p.Err != ""
}

func (p *PassReport) add(item ItemResult) {
	switch item.Outcome {
	case OutcomeNotified, OutcomePenalized:
		p.Succeeded++
	case OutcomeSkipped:
		p.Skipped++
	case OutcomeDeferred:
		p.Deferred++
	case OutcomeFailed:
		p.Failed++
	}
	p.Items = append(p.Items, item)
}

// Report is the result of one reconciliation run.
type Report struct {
	RunID      string              `json:"run_id"`
	Trigger    entities.RunTrigger `json:"trigger"`
	DryRun     bool                `json:"dry_run,omitempty"`
	StartedAt  time.Time           `json:"started_at"`
	FinishedAt time.Time           `json:"finished_at"`
	DueSoon    PassReport          `json:"due_soon"`
	Overdue    PassReport          `json:"overdue"`
}

// Err returns nil for a clean run and an error wrapping
// ErrPartialBatchFailure otherwise.
func (r *Report) Err() error {
	if !r.DueSoon.HasFailures() && !r.Overdue.HasFailures() {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrPartialBatchFailure, r.describeFailures())
}

func (r *Report) describeFailures() string {
	msg := ""
	for _, p := range []*PassReport{&r.DueSoon, &r.Overdue} {
		if !p.HasFailures() {
			continue
		}
		if msg != "" {
			msg += "; "
		}
		if p.Err != "" {
			msg += fmt.Sprintf("%s pass aborted: %s", p.Name, p.Err)
		} else {
			msg += fmt.Sprintf("%d of %d %s loans failed", p.Failed, p.Scanned, p.Name)
		}
	}
	return msg
}

// Status maps the report onto the persisted run status.
func (r *Report) Status() entities.RunStatus {
	switch {
	case r.DueSoon.Err != "" && r.Overdue.Err != "":
		return entities.RunStatusFailed
	case r.DueSoon.HasFailures() || r.Overdue.HasFailures():
		return entities.RunStatusPartial
	default:
		return entities.RunStatusCompleted
	}
}

// Failures lists every failed item of both passes.
func (r *Report) Failures() []ItemResult {
	var out []ItemResult
	for _, p := range []*PassReport{&r.DueSoon, &r.Overdue} {
		for _, item := range p.Items {
			if item.Outcome == OutcomeFailed {
				out = append(out, item)
			}
		}
	}
	return out
}

// Summary converts the report into its persisted form.
func (r *Report) Summary() *entities.ReconciliationRun {
	run := &entities.ReconciliationRun{
		RunID:             r.RunID,
		Trigger:           r.Trigger,
		Status:            r.Status(),
		RemindersSent:     r.DueSoon.Succeeded,
		ReminderFailures:  r.DueSoon.Failed,
		PenaltiesCreated:  r.Overdue.Succeeded,
		PenaltiesSkipped:  r.Overdue.Skipped,
		PenaltiesDeferred: r.Overdue.Deferred,
		PenaltyFailures:   r.Overdue.Failed,
		StartedAt:         r.StartedAt,
	}
	if !r.FinishedAt.IsZero() {
		finished := r.FinishedAt
		run.CompletedAt = &finished
	}
	if err := r.Err(); err != nil {
		run.Error = err.Error()
	}
	return run
}
