package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrlokans/librarian/internal/entities"
	"github.com/mrlokans/librarian/internal/mailer"
)

var now = time.Date(2025, 3, 20, 0, 0, 0, 0, time.UTC)

type fakeStore struct {
	mu            sync.Mutex
	loans         []entities.LoanRecord
	penalties     map[uint]*entities.Penalty
	notifications []entities.Notification
	nextPenaltyID uint

	notifyFailures  map[uint]int   // user ID -> remaining transient failures
	penaltyFailures map[uint]error // loan ID -> permanent failure
	findDueErr      error
	findOverdueErr  error
	createCalls     int
}

func newFakeStore(loans ...entities.LoanRecord) *fakeStore {
	return &fakeStore{
		loans:           loans,
		penalties:       map[uint]*entities.Penalty{},
		notifyFailures:  map[uint]int{},
		penaltyFailures: map[uint]error{},
	}
}

func (f *fakeStore) FindDueBetween(_ context.Context, from, to time.Time) ([]entities.LoanRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findDueErr != nil {
		return nil, f.findDueErr
	}
	var out []entities.LoanRecord
	for _, l := range f.loans {
		if l.Status == entities.LoanStatusBorrowed && !l.DueDate.Before(from) && !l.DueDate.After(to) {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeStore) FindOverdue(_ context.Context, at time.Time) ([]entities.LoanRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findOverdueErr != nil {
		return nil, f.findOverdueErr
	}
	var out []entities.LoanRecord
	for _, l := range f.loans {
		if l.IsOverdue(at) {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeStore) HasLatePenalty(_ context.Context, loanID uint) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.penalties[loanID]
	return ok, nil
}

func (f *fakeStore) CreateLatePenalty(_ context.Context, loan *entities.LoanRecord, amount int64, notice *entities.Notification) (*entities.Penalty, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if err := f.penaltyFailures[loan.ID]; err != nil {
		return nil, false, err
	}
	if _, ok := f.penalties[loan.ID]; ok {
		return nil, false, nil
	}
	f.nextPenaltyID++
	loanID := loan.ID
	p := &entities.Penalty{ID: f.nextPenaltyID, LoanRecordID: &loanID, UserID: loan.UserID, Amount: amount, Reason: entities.PenaltyReasonLate, Status: entities.PenaltyStatusPending}
	f.penalties[loan.ID] = p
	f.notifications = append(f.notifications, *notice)
	return p, true, nil
}

func (f *fakeStore) CreateNotification(_ context.Context, n *entities.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.notifyFailures[n.UserID] > 0 {
		f.notifyFailures[n.UserID]--
		return errors.New("database is locked")
	}
	f.notifications = append(f.notifications, *n)
	return nil
}

func (f *fakeStore) notificationsOfType(t entities.NotificationType) []entities.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []entities.Notification
	for _, n := range f.notifications {
		if n.Type == t {
			out = append(out, n)
		}
	}
	return out
}

type recordingRuns struct {
	started   []string
	completed []*entities.ReconciliationRun
}

func (r *recordingRuns) StartRun(_ context.Context, runID string, _ entities.RunTrigger, _ time.Time) error {
	r.started = append(r.started, runID)
	return nil
}

func (r *recordingRuns) CompleteRun(_ context.Context, run *entities.ReconciliationRun) error {
	r.completed = append(r.completed, run)
	return nil
}

type recordingMailer struct {
	sent []mailer.Message
	err  error
}

func (m *recordingMailer) Send(_ context.Context, msg mailer.Message) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

type staticUsers map[uint]string

func (s staticUsers) GetUserByID(_ context.Context, id uint) (*entities.User, error) {
	email, ok := s[id]
	if !ok {
		return nil, errors.New("record not found")
	}
	return &entities.User{ID: id, Email: email}, nil
}

func loan(id, user uint, due time.Time) entities.LoanRecord {
	return entities.LoanRecord{
		ID: id, UserID: user, BookID: 100 + id,
		BorrowDate: due.Add(-14 * 24 * time.Hour), DueDate: due,
		Status: entities.LoanStatusBorrowed,
		Book:   &entities.Book{ID: 100 + id, Title: "Dune"},
	}
}

func newTestEngine(store *fakeStore) *Engine {
	e := NewEngine(store, store, store, Config{
		DueSoonWindow: 72 * time.Hour,
		PerDayRate:    5000,
		RetryAttempts: 3,
	})
	e.SetClock(func() time.Time { return now })
	return e
}

func TestEngine_Run_DueSoonOnly(t *testing.T) {
	store := newFakeStore(loan(1, 1, now.Add(2*24*time.Hour)))
	engine := newTestEngine(store)

	report, err := engine.Run(context.Background(), entities.RunTriggerManual)

	require.NoError(t, err)
	require.NoError(t, report.Err())
	assert.Equal(t, 1, report.DueSoon.Succeeded)
	assert.Equal(t, 0, report.Overdue.Scanned)
	assert.Empty(t, store.penalties)

	reminders := store.notificationsOfType(entities.NotificationTypeBorrowDue)
	require.Len(t, reminders, 1)
	assert.Equal(t, uint(1), reminders[0].UserID)
	assert.Equal(t, "Book due soon", reminders[0].Title)
	assert.Contains(t, reminders[0].Message, "Dune")
}

func TestEngine_Run_FiveDaysOverdue(t *testing.T) {
	store := newFakeStore(loan(1, 1, now.Add(-5*24*time.Hour)))
	engine := newTestEngine(store)

	report, err := engine.Run(context.Background(), entities.RunTriggerSchedule)

	require.NoError(t, err)
	require.Len(t, report.Overdue.Items, 1)
	item := report.Overdue.Items[0]
	assert.Equal(t, OutcomePenalized, item.Outcome)
	assert.Equal(t, int64(5), item.DaysOverdue)
	assert.Equal(t, int64(25000), item.Amount)

	require.Contains(t, store.penalties, uint(1))
	p := store.penalties[1]
	assert.Equal(t, int64(25000), p.Amount)
	assert.Equal(t, entities.PenaltyStatusPending, p.Status)
	assert.Equal(t, entities.PenaltyReasonLate, p.Reason)

	notices := store.notificationsOfType(entities.NotificationTypeSystem)
	require.Len(t, notices, 1)
	assert.Equal(t, "New penalty", notices[0].Title)
	assert.Contains(t, notices[0].Message, "5 days overdue")
}

func TestEngine_Run_Idempotent(t *testing.T) {
	store := newFakeStore(
		loan(1, 1, now.Add(-5*24*time.Hour)),
		loan(2, 2, now.Add(-1*24*time.Hour)),
	)
	engine := newTestEngine(store)

	first, err := engine.Run(context.Background(), entities.RunTriggerSchedule)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Overdue.Succeeded)

	second, err := engine.Run(context.Background(), entities.RunTriggerManual)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Overdue.Succeeded)
	assert.Equal(t, 2, second.Overdue.Skipped)
	assert.NotEqual(t, first.RunID, second.RunID)

	assert.Len(t, store.penalties, 2)
	assert.Len(t, store.notificationsOfType(entities.NotificationTypeSystem), 2)
}

func TestEngine_Run_LessThanADayIsDeferred(t *testing.T) {
	store := newFakeStore(loan(1, 1, now.Add(-3*time.Hour)))
	engine := newTestEngine(store)

	report, err := engine.Run(context.Background(), entities.RunTriggerSchedule)

	require.NoError(t, err)
	require.NoError(t, report.Err())
	assert.Equal(t, 1, report.Overdue.Deferred)
	assert.Equal(t, OutcomeDeferred, report.Overdue.Items[0].Outcome)
	assert.Empty(t, store.penalties)
	assert.Zero(t, store.createCalls)
}

func TestEngine_Run_IgnoresReturnedLoans(t *testing.T) {
	returned := loan(1, 1, now.Add(-5*24*time.Hour))
	returned.Status = entities.LoanStatusReturned
	store := newFakeStore(returned)
	engine := newTestEngine(store)

	report, err := engine.Run(context.Background(), entities.RunTriggerSchedule)

	require.NoError(t, err)
	assert.Zero(t, report.Overdue.Scanned)
	assert.Empty(t, store.penalties)
}

func TestEngine_Run_PerRecordIsolation(t *testing.T) {
	store := newFakeStore(
		loan(1, 1, now.Add(-2*24*time.Hour)),
		loan(2, 2, now.Add(-3*24*time.Hour)),
		loan(3, 3, now.Add(-4*24*time.Hour)),
	)
	store.penaltyFailures[2] = errors.New("constraint failed")
	engine := newTestEngine(store)

	report, err := engine.Run(context.Background(), entities.RunTriggerSchedule)

	require.NoError(t, err, "record failures never fail the run itself")
	assert.Equal(t, 3, report.Overdue.Scanned)
	assert.Equal(t, 2, report.Overdue.Succeeded)
	assert.Equal(t, 1, report.Overdue.Failed)
	assert.Contains(t, store.penalties, uint(1))
	assert.Contains(t, store.penalties, uint(3))
	assert.NotContains(t, store.penalties, uint(2))

	runErr := report.Err()
	require.Error(t, runErr)
	assert.ErrorIs(t, runErr, ErrPartialBatchFailure)
	assert.Contains(t, runErr.Error(), "1 of 3 overdue loans failed")
	assert.Equal(t, entities.RunStatusPartial, report.Status())

	failures := report.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, uint(2), failures[0].LoanID)
	assert.Contains(t, failures[0].Error, "constraint failed")
}

func TestEngine_Run_RetriesTransientFailures(t *testing.T) {
	store := newFakeStore(loan(1, 1, now.Add(24*time.Hour)))
	store.notifyFailures[1] = 2
	engine := newTestEngine(store)

	report, err := engine.Run(context.Background(), entities.RunTriggerSchedule)

	require.NoError(t, err)
	assert.Equal(t, 1, report.DueSoon.Succeeded)
	assert.Len(t, store.notificationsOfType(entities.NotificationTypeBorrowDue), 1)
}

func TestEngine_Run_GivesUpAfterRetryAttempts(t *testing.T) {
	store := newFakeStore(loan(1, 1, now.Add(24*time.Hour)), loan(2, 2, now.Add(24*time.Hour)))
	store.notifyFailures[1] = 10
	engine := newTestEngine(store)

	report, err := engine.Run(context.Background(), entities.RunTriggerSchedule)

	require.NoError(t, err)
	assert.Equal(t, 1, report.DueSoon.Failed)
	assert.Equal(t, 1, report.DueSoon.Succeeded)
	assert.Equal(t, 7, store.notifyFailures[1], "three attempts were made")
}

func TestEngine_Run_PassesAreIndependent(t *testing.T) {
	store := newFakeStore(loan(1, 1, now.Add(-5*24*time.Hour)))
	store.findDueErr = errors.New("no such table: loan_records")
	engine := newTestEngine(store)

	report, err := engine.Run(context.Background(), entities.RunTriggerSchedule)

	require.NoError(t, err)
	assert.NotEmpty(t, report.DueSoon.Err)
	assert.Equal(t, 1, report.Overdue.Succeeded)
	assert.ErrorIs(t, report.Err(), ErrPartialBatchFailure)
	assert.Contains(t, report.Err().Error(), "due_soon pass aborted")
	assert.Equal(t, entities.RunStatusPartial, report.Status())

	store.findOverdueErr = errors.New("disk full")
	report, err = engine.Run(context.Background(), entities.RunTriggerSchedule)
	require.NoError(t, err)
	assert.Equal(t, entities.RunStatusFailed, report.Status())
}

func TestEngine_Run_RecordsRunAndAudit(t *testing.T) {
	store := newFakeStore(loan(1, 1, now.Add(-5*24*time.Hour)), loan(2, 2, now.Add(time.Hour)))
	engine := newTestEngine(store)
	runs := &recordingRuns{}
	engine.SetRunRecorder(runs)
	var audited []*entities.ReconciliationRun
	engine.SetAuditLogger(auditFunc(func(run *entities.ReconciliationRun) { audited = append(audited, run) }))

	report, err := engine.Run(context.Background(), entities.RunTriggerTask)

	require.NoError(t, err)
	require.Equal(t, []string{report.RunID}, runs.started)
	require.Len(t, runs.completed, 1)
	summary := runs.completed[0]
	assert.Equal(t, report.RunID, summary.RunID)
	assert.Equal(t, entities.RunTriggerTask, summary.Trigger)
	assert.Equal(t, entities.RunStatusCompleted, summary.Status)
	assert.Equal(t, 1, summary.RemindersSent)
	assert.Equal(t, 1, summary.PenaltiesCreated)
	assert.NotNil(t, summary.CompletedAt)
	require.Len(t, audited, 1)
}

type auditFunc func(run *entities.ReconciliationRun)

func (f auditFunc) LogReconciliation(run *entities.ReconciliationRun) { f(run) }

func TestEngine_Run_MailDelivery(t *testing.T) {
	store := newFakeStore(loan(1, 1, now.Add(-2*24*time.Hour)), loan(2, 2, now.Add(time.Hour)))
	engine := newTestEngine(store)
	m := &recordingMailer{}
	engine.SetMailer(m, staticUsers{1: "one@example.com"})

	report, err := engine.Run(context.Background(), entities.RunTriggerSchedule)

	require.NoError(t, err)
	require.Len(t, m.sent, 2)
	assert.Equal(t, "borrow_due", m.sent[0].Kind)
	assert.Equal(t, uint(2), m.sent[0].UserID)
	assert.Empty(t, m.sent[0].To, "unknown users are mailed by id only")
	assert.Equal(t, "system", m.sent[1].Kind)
	assert.Equal(t, "one@example.com", m.sent[1].To)
	assert.Zero(t, report.DueSoon.DeliveryFailures)
}

func TestEngine_Run_MailFailureDoesNotUndoPenalty(t *testing.T) {
	store := newFakeStore(loan(1, 1, now.Add(-2*24*time.Hour)))
	engine := newTestEngine(store)
	engine.SetMailer(&recordingMailer{err: errors.New("relay down")}, nil)

	report, err := engine.Run(context.Background(), entities.RunTriggerSchedule)

	require.NoError(t, err)
	assert.NoError(t, report.Err())
	assert.Equal(t, 1, report.Overdue.Succeeded)
	assert.Equal(t, 1, report.Overdue.DeliveryFailures)
	assert.Contains(t, store.penalties, uint(1))
}

type observingMailer struct {
	store     *fakeStore
	penalties []int
}

func (m *observingMailer) Send(_ context.Context, _ mailer.Message) error {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	m.penalties = append(m.penalties, len(m.store.penalties))
	return nil
}

func TestEngine_Run_MailsAfterBothPasses(t *testing.T) {
	store := newFakeStore(loan(1, 1, now.Add(time.Hour)), loan(2, 2, now.Add(-3*24*time.Hour)))
	engine := newTestEngine(store)
	m := &observingMailer{store: store}
	engine.SetMailer(m, nil)

	_, err := engine.Run(context.Background(), entities.RunTriggerSchedule)

	require.NoError(t, err)
	assert.Equal(t, []int{1, 1}, m.penalties, "the reminder is mailed only after the overdue pass committed")
}

type stalledMailer struct{}

func (stalledMailer) Send(ctx context.Context, _ mailer.Message) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestEngine_Run_MailBudgetBoundsDelivery(t *testing.T) {
	store := newFakeStore(
		loan(1, 1, now.Add(-2*24*time.Hour)),
		loan(2, 2, now.Add(-3*24*time.Hour)),
		loan(3, 3, now.Add(-4*24*time.Hour)),
	)
	engine := NewEngine(store, store, store, Config{
		DueSoonWindow: 72 * time.Hour,
		PerDayRate:    5000,
		MailBudget:    50 * time.Millisecond,
	})
	engine.SetClock(func() time.Time { return now })
	engine.SetMailer(stalledMailer{}, nil)

	started := time.Now()
	report, err := engine.Run(context.Background(), entities.RunTriggerSchedule)

	require.NoError(t, err)
	assert.Less(t, time.Since(started), 2*time.Second)
	assert.NoError(t, report.Err())
	assert.Equal(t, 3, report.Overdue.Succeeded)
	assert.Equal(t, 3, report.Overdue.DeliveryFailures)
	assert.Len(t, store.penalties, 3)
}

func TestEngine_Run_CancelledContext(t *testing.T) {
	store := newFakeStore(loan(1, 1, now.Add(-2*24*time.Hour)))
	engine := newTestEngine(store)
	runs := &recordingRuns{}
	engine.SetRunRecorder(runs)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := engine.Run(ctx, entities.RunTriggerSchedule)

	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, report)
	require.Len(t, runs.completed, 1, "the run outcome is still recorded")
}

func TestEngine_Run_ConcurrentRunsCreateOnePenalty(t *testing.T) {
	store := newFakeStore(loan(1, 1, now.Add(-5*24*time.Hour)))

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := newTestEngine(store).Run(context.Background(), entities.RunTriggerManual)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Len(t, store.penalties, 1)
	assert.Len(t, store.notificationsOfType(entities.NotificationTypeSystem), 1)
}

func TestEngine_Preview(t *testing.T) {
	store := newFakeStore(
		loan(1, 1, now.Add(-5*24*time.Hour)),
		loan(2, 2, now.Add(-2*24*time.Hour)),
		loan(3, 3, now.Add(-2*time.Hour)),
		loan(4, 4, now.Add(48*time.Hour)),
	)
	engine := newTestEngine(store)
	_, err := engine.Run(context.Background(), entities.RunTriggerSchedule)
	require.NoError(t, err)
	store.loans = append(store.loans, loan(5, 5, now.Add(-10*24*time.Hour)))
	before := len(store.notifications)

	preview, err := engine.Preview(context.Background())

	require.NoError(t, err)
	assert.True(t, preview.DryRun)
	assert.Equal(t, 1, preview.DueSoon.Succeeded)
	assert.Equal(t, 2, preview.Overdue.Skipped)
	assert.Equal(t, 1, preview.Overdue.Deferred)
	assert.Equal(t, 1, preview.Overdue.Succeeded)
	for _, item := range preview.Overdue.Items {
		if item.LoanID == 5 {
			assert.Equal(t, int64(50000), item.Amount)
		}
	}
	assert.Equal(t, before, len(store.notifications), "preview never writes")
	assert.Len(t, store.penalties, 2)
}
