package reconcile_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/mrlokans/librarian/internal/circulation"
	"github.com/mrlokans/librarian/internal/config"
	"github.com/mrlokans/librarian/internal/database"
	"github.com/mrlokans/librarian/internal/database/loans"
	"github.com/mrlokans/librarian/internal/database/notifications"
	"github.com/mrlokans/librarian/internal/database/penalties"
	"github.com/mrlokans/librarian/internal/database/runs"
	"github.com/mrlokans/librarian/internal/entities"
	"github.com/mrlokans/librarian/internal/reconcile"
)

type harness struct {
	db            *gorm.DB
	circulation   *circulation.Service
	loans         *loans.Repository
	penalties     *penalties.Repository
	notifications *notifications.Repository
	runs          *runs.Repository
	clock         time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, err := database.NewDatabase(config.Database{
		Driver:         config.DatabaseDriverSQLite,
		Path:           filepath.Join(t.TempDir(), "reconcile.db"),
		ConnectTimeout: 5 * time.Second,
		LogLevel:       "silent",
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	h := &harness{
		db:            db.DB,
		loans:         loans.NewRepository(db.DB),
		penalties:     penalties.NewRepository(db.DB),
		notifications: notifications.NewRepository(db.DB),
		runs:          runs.NewRepository(db.DB),
		clock:         time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	h.circulation = circulation.NewService(h.loans, circulation.Policy{LoanPeriod: 14 * 24 * time.Hour})
	h.circulation.SetClock(h.now)
	return h
}

func (h *harness) now() time.Time { return h.clock }

func (h *harness) engine() *reconcile.Engine {
	e := reconcile.NewEngine(h.loans, h.penalties, h.notifications, reconcile.Config{
		DueSoonWindow: 72 * time.Hour,
		PerDayRate:    5000,
		RetryAttempts: 2,
		RetryDelay:    time.Millisecond,
	})
	e.SetRunRecorder(h.runs)
	e.SetClock(h.now)
	return e
}

func (h *harness) book(t *testing.T, copies int) *entities.Book {
	b := &entities.Book{Title: "Dune", Author: "Frank Herbert", TotalCopies: copies, AvailableCopies: copies}
	require.NoError(t, h.db.Create(b).Error)
	return b
}

func (h *harness) count(t *testing.T, model any, where string, args ...any) int64 {
	var n int64
	q := h.db.Model(model)
	if where != "" {
		q = q.Where(where, args...)
	}
	require.NoError(t, q.Count(&n).Error)
	return n
}

func TestReconcile_LastCopyThenFiveDaysLate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	b1 := h.book(t, 1)
	u1 := circulation.Actor{UserID: 1, Role: entities.UserRoleMember}
	u2 := circulation.Actor{UserID: 2, Role: entities.UserRoleMember}

	loan, err := h.circulation.Borrow(ctx, u1, b1.ID)
	require.NoError(t, err)

	_, err = h.circulation.Borrow(ctx, u2, b1.ID)
	require.ErrorIs(t, err, circulation.ErrBookUnavailable)

	// 5 days past due
	h.clock = loan.DueDate.Add(5 * 24 * time.Hour)

	report, err := h.engine().Run(ctx, entities.RunTriggerSchedule)
	require.NoError(t, err)
	require.NoError(t, report.Err())
	assert.Equal(t, 1, report.Overdue.Succeeded)

	list, _, err := h.penalties.ListPenalties(ctx, penalties.ListFilter{UserID: 1})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, int64(25000), list[0].Amount)
	assert.Equal(t, entities.PenaltyStatusPending, list[0].Status)
	require.NotNil(t, list[0].LoanRecordID)
	assert.Equal(t, loan.ID, *list[0].LoanRecordID)

	assert.Equal(t, int64(1), h.count(t, &entities.Notification{}, "user_id = ? AND type = ?", 1, entities.NotificationTypeSystem))

	// The sweep never touches loans or inventory.
	stored, err := h.loans.GetLoanByID(ctx, loan.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.LoanStatusBorrowed, stored.Status)
	assert.Equal(t, 0, stored.Book.AvailableCopies)

	t.Run("second run creates nothing", func(t *testing.T) {
		again, err := h.engine().Run(ctx, entities.RunTriggerManual)
		require.NoError(t, err)
		assert.Equal(t, 1, again.Overdue.Skipped)
		assert.Equal(t, int64(1), h.count(t, &entities.Penalty{}, ""))
		assert.Equal(t, int64(1), h.count(t, &entities.Notification{}, "type = ?", entities.NotificationTypeSystem))
	})

	t.Run("return after penalty", func(t *testing.T) {
		receipt, err := h.circulation.Return(ctx, u1, circulation.ReturnRequest{LoanID: loan.ID})
		require.NoError(t, err)
		assert.True(t, receipt.Late)

		_, err = h.circulation.Return(ctx, u1, circulation.ReturnRequest{LoanID: loan.ID})
		assert.ErrorIs(t, err, circulation.ErrInvalidLoan)

		_, err = h.circulation.Borrow(ctx, u2, b1.ID)
		assert.NoError(t, err)
	})

	runList, total, err := h.runs.ListRuns(ctx, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	for _, run := range runList {
		assert.Equal(t, entities.RunStatusCompleted, run.Status)
	}
}

func TestReconcile_DueInTwoDaysOnlyNotifies(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	b := h.book(t, 2)

	loan, err := h.circulation.Borrow(ctx, circulation.Actor{UserID: 3}, b.ID)
	require.NoError(t, err)
	h.clock = loan.DueDate.Add(-2 * 24 * time.Hour)

	report, err := h.engine().Run(ctx, entities.RunTriggerSchedule)

	require.NoError(t, err)
	assert.Equal(t, 1, report.DueSoon.Succeeded)
	assert.Equal(t, 0, report.Overdue.Scanned)
	assert.Zero(t, h.count(t, &entities.Penalty{}, ""))

	items, total, err := h.notifications.ListForUser(ctx, 3, true, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, entities.NotificationTypeBorrowDue, items[0].Type)
	assert.Contains(t, items[0].Message, "Dune")
}

func TestReconcile_OverlappingRuns(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	b := h.book(t, 5)

	for uid := uint(1); uid <= 5; uid++ {
		_, err := h.circulation.Borrow(ctx, circulation.Actor{UserID: uid}, b.ID)
		require.NoError(t, err)
	}
	h.clock = h.clock.Add(20 * 24 * time.Hour)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			report, err := h.engine().Run(ctx, entities.RunTriggerManual)
			assert.NoError(t, err)
			assert.NoError(t, report.Err())
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(5), h.count(t, &entities.Penalty{}, "reason = ?", entities.PenaltyReasonLate))
	assert.Equal(t, int64(5), h.count(t, &entities.Notification{}, "type = ?", entities.NotificationTypeSystem))

	var amounts []int64
	require.NoError(t, h.db.Model(&entities.Penalty{}).Pluck("amount", &amounts).Error)
	for _, a := range amounts {
		assert.Equal(t, int64(30000), a, "6 whole days overdue")
	}
}
