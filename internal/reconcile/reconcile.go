// Package reconcile runs the periodic circulation batch.
//
// A run has two independent passes:
//
//   - the due-soon pass writes a borrow_due reminder for every open loan due
//     within the configured window;
//   - the overdue pass writes one pending late penalty, plus a system notice,
//     for every open loan past its due date that has no late penalty yet.
//
// Each loan is processed on its own. A failing loan is logged and reported
// and the pass moves on; a failing pass does not stop the other one. Neither
// pass changes loan status or inventory.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/avast/retry-go"
	"github.com/google/uuid"

	"github.com/mrlokans/librarian/internal/entities"
	"github.com/mrlokans/librarian/internal/mailer"
)

// LoanFinder selects candidate loans for both passes.
type LoanFinder interface {
	FindDueBetween(ctx context.Context, from, to time.Time) ([]entities.LoanRecord, error)
	FindOverdue(ctx context.Context, now time.Time) ([]entities.LoanRecord, error)
}

// PenaltyLedger creates late penalties idempotently. created is false when the
// loan already had a late penalty.
type PenaltyLedger interface {
	HasLatePenalty(ctx context.Context, loanID uint) (bool, error)
	CreateLatePenalty(ctx context.Context, loan *entities.LoanRecord, amount int64, notice *entities.Notification) (penalty *entities.Penalty, created bool, err error)
}

type NotificationWriter interface {
	CreateNotification(ctx context.Context, n *entities.Notification) error
}

// RunRecorder persists run summaries.
type RunRecorder interface {
	StartRun(ctx context.Context, runID string, trigger entities.RunTrigger, startedAt time.Time) error
	CompleteRun(ctx context.Context, run *entities.ReconciliationRun) error
}

// UserDirectory resolves mail recipients.
type UserDirectory interface {
	GetUserByID(ctx context.Context, id uint) (*entities.User, error)
}

type AuditLogger interface {
	LogReconciliation(run *entities.ReconciliationRun)
}

// DefaultMailBudget bounds mail delivery when Config.MailBudget is unset.
const DefaultMailBudget = 2 * time.Minute

type Config struct {
	DueSoonWindow time.Duration
	PerDayRate    int64
	RetryAttempts uint
	RetryDelay    time.Duration
	MailBudget    time.Duration // total time one run may spend mailing
}

type Engine struct {
	loans         LoanFinder
	penalties     PenaltyLedger
	notifications NotificationWriter
	runs          RunRecorder
	mail          mailer.Mailer
	users         UserDirectory
	audit         AuditLogger
	cfg           Config
	now           func() time.Time
}

func NewEngine(loans LoanFinder, penalties PenaltyLedger, notifications NotificationWriter, cfg Config) *Engine {
	if cfg.RetryAttempts == 0 {
		cfg.RetryAttempts = 1
	}
	if cfg.MailBudget <= 0 {
		cfg.MailBudget = DefaultMailBudget
	}
	return &Engine{
		loans:         loans,
		penalties:     penalties,
		notifications: notifications,
		cfg:           cfg,
		now:           time.Now,
	}
}

func (e *Engine) SetRunRecorder(r RunRecorder) {
	e.runs = r
}

// SetMailer enables out-of-band delivery of reminders and penalty notices.
// users may be nil, in which case messages carry only the user ID.
func (e *Engine) SetMailer(m mailer.Mailer, users UserDirectory) {
	e.mail = m
	e.users = users
}

func (e *Engine) SetAuditLogger(a AuditLogger) {
	e.audit = a
}

// SetClock replaces the time source.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Run executes both passes once. The returned error is non-nil only when ctx
// was cancelled; per-record and per-pass failures are in the report (see
// Report.Err).
func (e *Engine) Run(ctx context.Context, trigger entities.RunTrigger) (*Report, error) {
	now := e.now().UTC()
	report := &Report{
		RunID:     uuid.NewString(),
		Trigger:   trigger,
		StartedAt: now,
	}

	if e.runs != nil {
		if err := e.runs.StartRun(ctx, report.RunID, trigger, now); err != nil {
			log.Printf("Reconciliation %s: failed to record run start: %v", report.RunID, err)
		}
	}
	log.Printf("Reconciliation %s: started (trigger=%s)", report.RunID, trigger)

	var dueSoonMail, overdueMail []*entities.Notification
	report.DueSoon, dueSoonMail = e.remindDueSoon(ctx, report.RunID, now)
	report.Overdue, overdueMail = e.penalizeOverdue(ctx, report.RunID, now)

	// Mail goes out only after both passes have committed their outbox rows.
	e.deliverAll(ctx, report.RunID,
		mailBatch{pass: &report.DueSoon, notices: dueSoonMail},
		mailBatch{pass: &report.Overdue, notices: overdueMail},
	)
	report.FinishedAt = e.now().UTC()

	e.finish(ctx, report)

	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, nil
}

func (e *Engine) finish(ctx context.Context, report *Report) {
	summary := report.Summary()

	if e.runs != nil {
		// Record the outcome even when the caller's context is gone.
		if err := e.runs.CompleteRun(context.WithoutCancel(ctx), summary); err != nil {
			log.Printf("Reconciliation %s: failed to record run result: %v", report.RunID, err)
		}
	}
	if e.audit != nil {
		e.audit.LogReconciliation(summary)
	}

	log.Printf("Reconciliation %s: finished in %s status=%s reminders=%d/%d penalties=%d skipped=%d deferred=%d failed=%d",
		report.RunID, report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond), summary.Status,
		report.DueSoon.Succeeded, report.DueSoon.Scanned,
		report.Overdue.Succeeded, report.Overdue.Skipped, report.Overdue.Deferred,
		report.DueSoon.Failed+report.Overdue.Failed)
}

func (e *Engine) remindDueSoon(ctx context.Context, runID string, now time.Time) (PassReport, []*entities.Notification) {
	pass := PassReport{Name: PassDueSoon, Items: []ItemResult{}}
	var outbox []*entities.Notification

	var loans []entities.LoanRecord
	err := e.retry(ctx, func() error {
		var err error
		loans, err = e.loans.FindDueBetween(ctx, now, now.Add(e.cfg.DueSoonWindow))
		return err
	})
	if err != nil {
		pass.Err = err.Error()
		log.Printf("Reconciliation %s: pass=%s aborted: %v", runID, PassDueSoon, err)
		return pass, nil
	}
	pass.Scanned = len(loans)

	for i := range loans {
		if err := ctx.Err(); err != nil {
			pass.Err = err.Error()
			break
		}
		loan := &loans[i]
		item := ItemResult{LoanID: loan.ID, UserID: loan.UserID, BookID: loan.BookID}

		var notice *entities.Notification
		err := e.retry(ctx, func() error {
			notice = dueSoonNotice(loan)
			return e.notifications.CreateNotification(ctx, notice)
		})
		if err != nil {
			item.Outcome = OutcomeFailed
			item.Error = err.Error()
			log.Printf("Reconciliation %s: pass=%s loan=%d user=%d err=%v", runID, PassDueSoon, loan.ID, loan.UserID, err)
		} else {
			item.Outcome = OutcomeNotified
			outbox = append(outbox, notice)
		}
		pass.add(item)
	}
	return pass, outbox
}

func (e *Engine) penalizeOverdue(ctx context.Context, runID string, now time.Time) (PassReport, []*entities.Notification) {
	pass := PassReport{Name: PassOverdue, Items: []ItemResult{}}
	var outbox []*entities.Notification

	var loans []entities.LoanRecord
	err := e.retry(ctx, func() error {
		var err error
		loans, err = e.loans.FindOverdue(ctx, now)
		return err
	})
	if err != nil {
		pass.Err = err.Error()
		log.Printf("Reconciliation %s: pass=%s aborted: %v", runID, PassOverdue, err)
		return pass, nil
	}
	pass.Scanned = len(loans)

	for i := range loans {
		if err := ctx.Err(); err != nil {
			pass.Err = err.Error()
			break
		}
		loan := &loans[i]
		item := ItemResult{LoanID: loan.ID, UserID: loan.UserID, BookID: loan.BookID}

		days, amount := ComputeFine(loan.DueDate, now, e.cfg.PerDayRate)
		item.DaysOverdue = days
		if days < 1 || amount <= 0 {
			item.Outcome = OutcomeDeferred
			pass.add(item)
			continue
		}

		var (
			penalty *entities.Penalty
			created bool
			notice  *entities.Notification
		)
		err := e.retry(ctx, func() error {
			notice = penaltyNotice(loan, days, amount)
			var err error
			penalty, created, err = e.penalties.CreateLatePenalty(ctx, loan, amount, notice)
			return err
		})
		switch {
		case err != nil:
			item.Outcome = OutcomeFailed
			item.Error = err.Error()
			log.Printf("Reconciliation %s: pass=%s loan=%d user=%d days=%d err=%v", runID, PassOverdue, loan.ID, loan.UserID, days, err)
		case !created:
			item.Outcome = OutcomeSkipped
		default:
			item.Outcome = OutcomePenalized
			item.Amount = amount
			if penalty != nil {
				item.PenaltyID = penalty.ID
			}
			outbox = append(outbox, notice)
		}
		pass.add(item)
	}
	return pass, outbox
}

type mailBatch struct {
	pass    *PassReport
	notices []*entities.Notification
}

// deliverAll mails committed notices within the run's mail budget. Notices
// left when the budget runs out count as delivery failures; they stay in the
// notification outbox.
func (e *Engine) deliverAll(ctx context.Context, runID string, batches ...mailBatch) {
	if e.mail == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, e.cfg.MailBudget)
	defer cancel()

	for _, b := range batches {
		for i, notice := range b.notices {
			if ctx.Err() != nil {
				left := len(b.notices) - i
				b.pass.DeliveryFailures += left
				log.Printf("Reconciliation %s: pass=%s mail budget exhausted, %d notices not mailed", runID, b.pass.Name, left)
				break
			}
			e.deliver(ctx, b.pass, runID, notice)
		}
	}
}

// deliver mails a notice that is already committed to the outbox. A delivery
// failure is counted but does not affect the item's outcome.
func (e *Engine) deliver(ctx context.Context, pass *PassReport, runID string, notice *entities.Notification) {
	if e.mail == nil {
		return
	}

	msg := mailer.Message{
		UserID:  notice.UserID,
		Kind:    string(notice.Type),
		Subject: notice.Title,
		Body:    notice.Message,
	}
	if e.users != nil {
		if user, err := e.users.GetUserByID(ctx, notice.UserID); err == nil {
			msg.To = user.Email
		}
	}

	if err := e.mail.Send(ctx, msg); err != nil {
		pass.DeliveryFailures++
		log.Printf("Reconciliation %s: pass=%s user=%d mail delivery failed: %v", runID, pass.Name, notice.UserID, err)
	}
}

// retry runs op with backoff. Context cancellation is never retried.
func (e *Engine) retry(ctx context.Context, op func() error) error {
	return retry.Do(
		op,
		retry.Attempts(e.cfg.RetryAttempts),
		retry.Delay(e.cfg.RetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
		}),
		retry.Context(ctx),
	)
}

// Preview computes what a run would do at the current time without writing
// anything. Overdue loans that already carry a late penalty are reported as
// skipped.
func (e *Engine) Preview(ctx context.Context) (*Report, error) {
	now := e.now().UTC()
	report := &Report{
		RunID:     uuid.NewString(),
		Trigger:   entities.RunTriggerCLI,
		DryRun:    true,
		StartedAt: now,
		DueSoon:   PassReport{Name: PassDueSoon, Items: []ItemResult{}},
		Overdue:   PassReport{Name: PassOverdue, Items: []ItemResult{}},
	}

	due, err := e.loans.FindDueBetween(ctx, now, now.Add(e.cfg.DueSoonWindow))
	if err != nil {
		return nil, fmt.Errorf("failed to list due-soon loans: %w", err)
	}
	report.DueSoon.Scanned = len(due)
	for _, loan := range due {
		report.DueSoon.add(ItemResult{LoanID: loan.ID, UserID: loan.UserID, BookID: loan.BookID, Outcome: OutcomeNotified})
	}

	overdue, err := e.loans.FindOverdue(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list overdue loans: %w", err)
	}
	report.Overdue.Scanned = len(overdue)
	for _, loan := range overdue {
		item := ItemResult{LoanID: loan.ID, UserID: loan.UserID, BookID: loan.BookID}
		item.DaysOverdue, item.Amount = ComputeFine(loan.DueDate, now, e.cfg.PerDayRate)

		has, err := e.penalties.HasLatePenalty(ctx, loan.ID)
		switch {
		case err != nil:
			item.Outcome = OutcomeFailed
			item.Error = err.Error()
		case has:
			item.Outcome = OutcomeSkipped
			item.Amount = 0
		case item.DaysOverdue < 1 || item.Amount <= 0:
			item.Outcome = OutcomeDeferred
			item.Amount = 0
		default:
			item.Outcome = OutcomePenalized
		}
		report.Overdue.add(item)
	}

	report.FinishedAt = e.now().UTC()
	return report, nil
}
