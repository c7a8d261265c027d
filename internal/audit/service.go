package audit

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/mrlokans/librarian/internal/circulation"
	"github.com/mrlokans/librarian/internal/database/audit"
	"github.com/mrlokans/librarian/internal/entities"
)

var _ circulation.AuditLogger = (*Service)(nil)

// Service provides high-level audit logging functionality.
type Service struct {
	repo    *audit.Repository
	pending sync.WaitGroup
}

// NewService creates a new audit service.
func NewService(repo *audit.Repository) *Service {
	return &Service{repo: repo}
}

// Log records a generic audit event.
func (s *Service) Log(event *entities.AuditEvent) error {
	return s.repo.LogEvent(event)
}

// LogAsync records an audit event in the background (non-blocking).
func (s *Service) LogAsync(event *entities.AuditEvent) {
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		if err := s.repo.LogEvent(event); err != nil {
			log.Printf("Failed to log audit event: %v", err)
		}
	}()
}

// Flush blocks until every event passed to LogAsync has been written.
func (s *Service) Flush() {
	s.pending.Wait()
}

// LogBorrow records a checkout attempt.
func (s *Service) LogBorrow(actorID uint, loan *entities.LoanRecord, err error) {
	event := &entities.AuditEvent{
		UserID:      actorID,
		EventType:   entities.AuditEventBorrow,
		Action:      "checkout",
		Description: fmt.Sprintf("Borrow of book %d", loan.BookID),
		EntityType:  "loan",
		Status:      entities.AuditStatusSuccess,
	}
	if loan.ID != 0 {
		id := loan.ID
		event.EntityID = &id
		event.Metadata = marshal(map[string]any{
			"book_id":  loan.BookID,
			"due_date": loan.DueDate.Format(time.RFC3339),
		})
	}
	fail(event, err)
	s.LogAsync(event)
}

// LogReturn records a check-in attempt.
func (s *Service) LogReturn(actorID uint, loan *entities.LoanRecord, err error) {
	event := &entities.AuditEvent{
		UserID:      actorID,
		EventType:   entities.AuditEventReturn,
		Action:      "checkin",
		Description: fmt.Sprintf("Return of book %d", loan.BookID),
		EntityType:  "loan",
		Status:      entities.AuditStatusSuccess,
	}
	if loan.ID != 0 {
		id := loan.ID
		event.EntityID = &id
	}
	if loan.UserID != 0 && loan.UserID != actorID {
		event.Metadata = marshal(map[string]any{"on_behalf_of": loan.UserID})
	}
	fail(event, err)
	s.LogAsync(event)
}

// LogPenalty records an operator action on a penalty.
func (s *Service) LogPenalty(actorID uint, action string, penalty *entities.Penalty, err error) {
	event := &entities.AuditEvent{
		UserID:     actorID,
		EventType:  entities.AuditEventPenalty,
		Action:     action,
		EntityType: "penalty",
		Status:     entities.AuditStatusSuccess,
	}
	if penalty != nil {
		if penalty.ID != 0 {
			id := penalty.ID
			event.EntityID = &id
		}
		event.Description = fmt.Sprintf("Penalty of %d for user %d (%s)", penalty.Amount, penalty.UserID, penalty.Status)
	}
	fail(event, err)
	s.LogAsync(event)
}

// LogReconciliation records the outcome of a reconciliation run.
func (s *Service) LogReconciliation(run *entities.ReconciliationRun) {
	event := &entities.AuditEvent{
		EventType: entities.AuditEventReconciliation,
		Action:    "reconcile_" + string(run.Trigger),
		Description: fmt.Sprintf("Run %s: %d reminders, %d penalties created, %d skipped, %d failed",
			run.RunID, run.RemindersSent, run.PenaltiesCreated, run.PenaltiesSkipped, run.PenaltyFailures+run.ReminderFailures),
		EntityType: "run",
		Status:     entities.AuditStatusSuccess,
		Metadata:   marshal(map[string]any{"run_id": run.RunID, "status": run.Status}),
	}
	if run.Status != entities.RunStatusCompleted {
		event.Status = entities.AuditStatusFailed
		event.ErrorMsg = truncate(run.Error, 500)
	}
	if err := s.Log(event); err != nil {
		log.Printf("Failed to log reconciliation run %s: %v", run.RunID, err)
	}
}

// LogAuth records an authentication event.
func (s *Service) LogAuth(userID uint, action string, success bool) {
	event := &entities.AuditEvent{
		UserID:    userID,
		EventType: entities.AuditEventAuth,
		Action:    action,
		Status:    entities.AuditStatusSuccess,
	}
	if !success {
		event.Status = entities.AuditStatusFailed
	}
	s.LogAsync(event)
}

// GetEvents retrieves paginated audit events.
func (s *Service) GetEvents(q audit.Query) ([]entities.AuditEvent, int64, error) {
	return s.repo.GetEvents(q)
}

// DeleteOldEvents removes events older than the specified duration.
func (s *Service) DeleteOldEvents(retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention)
	return s.repo.DeleteOldEvents(cutoff)
}

func fail(event *entities.AuditEvent, err error) {
	if err != nil {
		event.Status = entities.AuditStatusFailed
		event.ErrorMsg = truncate(err.Error(), 500)
	}
}

func marshal(v map[string]any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

// truncate shortens a string to max length.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
