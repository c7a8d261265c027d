package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/mrlokans/librarian/internal/audit"
	"github.com/mrlokans/librarian/internal/auth"
	"github.com/mrlokans/librarian/internal/circulation"
	"github.com/mrlokans/librarian/internal/config"
	"github.com/mrlokans/librarian/internal/database"
	auditrepo "github.com/mrlokans/librarian/internal/database/audit"
	"github.com/mrlokans/librarian/internal/database/books"
	"github.com/mrlokans/librarian/internal/database/loans"
	"github.com/mrlokans/librarian/internal/database/notifications"
	"github.com/mrlokans/librarian/internal/database/penalties"
	"github.com/mrlokans/librarian/internal/database/runs"
	"github.com/mrlokans/librarian/internal/database/users"
	"github.com/mrlokans/librarian/internal/entities"
	"github.com/mrlokans/librarian/internal/reconcile"
	"github.com/mrlokans/librarian/internal/scheduler"
)

const testPassword = "correct-horse-battery"

func init() {
	gin.SetMode(gin.TestMode)
}

type apiFixture struct {
	t      *testing.T
	db     *gorm.DB
	router *gin.Engine
	clock  time.Time
	tokens map[string]string
	users  map[string]*entities.User
}

type fixtureOption func(*RouterConfig)

func withTrigger(trigger ReconciliationTrigger) fixtureOption {
	return func(cfg *RouterConfig) { cfg.Scheduler = trigger }
}

func newAPIFixture(t *testing.T, opts ...fixtureOption) *apiFixture {
	t.Helper()
	db, err := database.NewDatabase(config.Database{
		Driver:         config.DatabaseDriverSQLite,
		Path:           filepath.Join(t.TempDir(), "api.db"),
		ConnectTimeout: 5 * time.Second,
		LogLevel:       "silent",
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	auditSvc := audit.NewService(auditrepo.NewRepository(db.DB))
	t.Cleanup(auditSvc.Flush)

	f := &apiFixture{
		t:      t,
		db:     db.DB,
		clock:  time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
		tokens: map[string]string{},
		users:  map[string]*entities.User{},
	}

	loanRepo := loans.NewRepository(db.DB)
	penaltyRepo := penalties.NewRepository(db.DB)
	notificationRepo := notifications.NewRepository(db.DB)
	runRepo := runs.NewRepository(db.DB)

	svc := circulation.NewService(loanRepo, circulation.Policy{LoanPeriod: 14 * 24 * time.Hour})
	svc.SetClock(f.now)

	engine := reconcile.NewEngine(loanRepo, penaltyRepo, notificationRepo, reconcile.Config{
		DueSoonWindow: 72 * time.Hour,
		PerDayRate:    5000,
		RetryAttempts: 1,
		RetryDelay:    time.Millisecond,
	})
	engine.SetRunRecorder(runRepo)
	engine.SetClock(f.now)

	authCfg := config.Auth{Mode: config.AuthModeLocal, BcryptCost: 4}
	authSvc := auth.NewService(db.DB, authCfg)
	sqlDB, err := db.DB.DB()
	require.NoError(t, err)
	sessions, err := auth.NewSessionManager(sqlDB, config.DatabaseDriverSQLite, authCfg)
	require.NoError(t, err)

	cfg := RouterConfig{
		Circulation:    svc,
		Loans:          loanRepo,
		Books:          books.NewRepository(db.DB),
		Users:          users.NewRepository(db.DB),
		Penalties:      penaltyRepo,
		Notifications:  notificationRepo,
		Runs:           runRepo,
		Scheduler:      scheduler.NewReconciliationScheduler(engine, "0 0 * * *", 0),
		PenaltyAuditor: auditSvc,
		AuditReader:    auditSvc,
		LoginAuditor:   auditSvc,
		AuthService:    authSvc,
		AuthMiddleware: auth.NewMiddleware(authSvc, sessions, authCfg),
		SessionManager: sessions,
		CSRFSecret:     []byte("0123456789abcdef0123456789abcdef"),
		Database:       sqlDB,
		Version:        "test",
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	f.router = NewRouter(cfg)

	for _, u := range []struct {
		name string
		role entities.UserRole
	}{
		{"admin", entities.UserRoleAdmin},
		{"alice", entities.UserRoleMember},
		{"bob", entities.UserRoleMember},
	} {
		user, err := authSvc.CreateUser(context.Background(), auth.NewUser{
			Username: u.name,
			Email:    u.name + "@example.com",
			Password: testPassword,
			Role:     u.role,
		})
		require.NoError(t, err)
		token, err := authSvc.GenerateToken(context.Background(), user.ID)
		require.NoError(t, err)
		f.users[u.name] = user
		f.tokens[u.name] = token
	}
	return f
}

func (f *apiFixture) now() time.Time { return f.clock }

func (f *apiFixture) book(copies int) *entities.Book {
	b := &entities.Book{Title: "Dune", Author: "Frank Herbert", TotalCopies: copies, AvailableCopies: copies}
	require.NoError(f.t, f.db.Create(b).Error)
	return b
}

func (f *apiFixture) do(as, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(f.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if as != "" {
		req.Header.Set("Authorization", "Bearer "+f.tokens[as])
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	return decode[ErrorResponse](t, w).Code
}

type loanPage struct {
	Data  []LoanResponse `json:"data"`
	Total int64          `json:"total"`
}

func TestRouter_RequiresAuthentication(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do("", http.MethodGet, "/api/borrows", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do("", http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	health := decode[HealthResponse](t, w)
	assert.Equal(t, "healthy", health.Status)
}

func TestCirculation_BorrowLastCopy(t *testing.T) {
	f := newAPIFixture(t)
	b := f.book(1)

	w := f.do("alice", http.MethodPost, "/api/borrows", gin.H{"book_id": b.ID})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	loan := decode[LoanResponse](t, w)
	assert.Equal(t, f.users["alice"].ID, loan.UserID)
	assert.Equal(t, entities.LoanStatusBorrowed, loan.Status)
	assert.Equal(t, f.clock.Add(14*24*time.Hour), loan.DueDate.UTC())

	w = f.do("bob", http.MethodPost, "/api/borrows", gin.H{"book_id": b.ID})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "book_unavailable", errorCode(t, w))

	w = f.do("bob", http.MethodPost, "/api/borrows", gin.H{"book_id": 9999})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", errorCode(t, w))

	w = f.do("bob", http.MethodPost, "/api/borrows", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCirculation_Return(t *testing.T) {
	f := newAPIFixture(t)
	b := f.book(2)

	w := f.do("alice", http.MethodPost, "/api/borrows", gin.H{"book_id": b.ID})
	require.Equal(t, http.StatusCreated, w.Code)
	loan := decode[LoanResponse](t, w)

	t.Run("other member cannot return", func(t *testing.T) {
		w := f.do("bob", http.MethodPost, "/api/returns", gin.H{"loan_id": loan.ID})
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Equal(t, "not_authorized", errorCode(t, w))
	})

	t.Run("requires a loan or book", func(t *testing.T) {
		w := f.do("alice", http.MethodPost, "/api/returns", gin.H{})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("owner returns late", func(t *testing.T) {
		f.clock = loan.DueDate.Add(48 * time.Hour)
		w := f.do("alice", http.MethodPost, "/api/returns", gin.H{"book_id": b.ID})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		receipt := decode[circulation.ReturnReceipt](t, w)
		assert.Equal(t, loan.ID, receipt.LoanRecordID)
		assert.True(t, receipt.Late)
	})

	t.Run("second return is rejected", func(t *testing.T) {
		w := f.do("alice", http.MethodPost, "/api/returns", gin.H{"loan_id": loan.ID})
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, "invalid_loan", errorCode(t, w))
	})

	var stored entities.Book
	require.NoError(t, f.db.First(&stored, b.ID).Error)
	assert.Equal(t, 2, stored.AvailableCopies)
}

func TestCirculation_ListAndGetLoans(t *testing.T) {
	f := newAPIFixture(t)
	b := f.book(3)

	w := f.do("alice", http.MethodPost, "/api/borrows", gin.H{"book_id": b.ID})
	require.Equal(t, http.StatusCreated, w.Code)
	aliceLoan := decode[LoanResponse](t, w)
	w = f.do("bob", http.MethodPost, "/api/borrows", gin.H{"book_id": b.ID})
	require.Equal(t, http.StatusCreated, w.Code)

	page := decode[loanPage](t, f.do("alice", http.MethodGet, "/api/borrows?user_id="+fmt.Sprint(f.users["bob"].ID), nil))
	assert.Equal(t, int64(1), page.Total, "members only see their own loans")
	assert.Equal(t, aliceLoan.ID, page.Data[0].ID)

	page = decode[loanPage](t, f.do("admin", http.MethodGet, "/api/borrows", nil))
	assert.Equal(t, int64(2), page.Total)

	w = f.do("bob", http.MethodGet, fmt.Sprintf("/api/borrows/%d", aliceLoan.ID), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do("admin", http.MethodGet, fmt.Sprintf("/api/borrows/%d", aliceLoan.ID), nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do("alice", http.MethodGet, "/api/borrows?status=lost", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do("alice", http.MethodGet, "/api/borrows/stats", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	stats := decode[entities.LoanStats](t, f.do("admin", http.MethodGet, "/api/borrows/stats", nil))
	assert.Equal(t, int64(2), stats.Borrowed)
}

func TestBooks_Catalog(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do("alice", http.MethodPost, "/api/books", gin.H{"title": "Emma", "copies": 1})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.do("admin", http.MethodPost, "/api/books", gin.H{"title": "Emma", "author": "Jane Austen", "copies": 2})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	book := decode[entities.Book](t, w)
	assert.Equal(t, 2, book.AvailableCopies)

	w = f.do("admin", http.MethodPost, fmt.Sprintf("/api/books/%d/copies", book.ID), gin.H{"copies": 3})
	require.Equal(t, http.StatusOK, w.Code)
	book = decode[entities.Book](t, w)
	assert.Equal(t, 5, book.TotalCopies)
	assert.Equal(t, 5, book.AvailableCopies)

	w = f.do("alice", http.MethodPost, "/api/borrows", gin.H{"book_id": book.ID})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = f.do("alice", http.MethodGet, fmt.Sprintf("/api/books/%d", book.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	detail := decode[BookResponse](t, w)
	assert.Equal(t, "Emma", detail.Title)
	assert.Equal(t, 4, detail.AvailableCopies)
	assert.Equal(t, int64(1), detail.OnLoan)

	w = f.do("alice", http.MethodGet, "/api/books/424242", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	stats := decode[map[string]int64](t, f.do("alice", http.MethodGet, "/api/books/stats", nil))
	assert.Equal(t, int64(1), stats["titles"])
	assert.Equal(t, int64(4), stats["available_copies"])
}

func TestPenalties_Lifecycle(t *testing.T) {
	f := newAPIFixture(t)
	alice := f.users["alice"]

	w := f.do("alice", http.MethodPost, "/api/penalties", gin.H{"user_id": alice.ID, "amount": 1000, "reason": "damaged"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.do("admin", http.MethodPost, "/api/penalties", gin.H{"user_id": alice.ID, "amount": 1000, "reason": entities.PenaltyReasonLate})
	assert.Equal(t, http.StatusBadRequest, w.Code, "late penalties are reserved for reconciliation")

	w = f.do("admin", http.MethodPost, "/api/penalties", gin.H{"user_id": alice.ID, "amount": 1000, "reason": "damaged"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	penalty := decode[entities.Penalty](t, w)
	assert.Equal(t, entities.PenaltyStatusPending, penalty.Status)
	path := fmt.Sprintf("/api/penalties/%d", penalty.ID)

	unread := decode[map[string]int64](t, f.do("alice", http.MethodGet, "/api/notifications/unread-count", nil))
	assert.Equal(t, int64(1), unread["unread"])

	w = f.do("bob", http.MethodPut, path, gin.H{"status": "paid"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.do("alice", http.MethodPut, path, gin.H{"status": "cancelled"})
	assert.Equal(t, http.StatusForbidden, w.Code, "members may only pay")

	w = f.do("alice", http.MethodPut, path, gin.H{"status": "pending"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do("alice", http.MethodPut, path, gin.H{"status": "paid"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, entities.PenaltyStatusPaid, decode[entities.Penalty](t, w).Status)

	w = f.do("admin", http.MethodPut, path, gin.H{"status": "cancelled"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "invalid_transition", errorCode(t, w))

	w = f.do("admin", http.MethodPut, "/api/penalties/9999", gin.H{"status": "paid"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	var body struct {
		Page struct {
			Total int64 `json:"total"`
		} `json:"page"`
		Outstanding struct {
			Count int64 `json:"count"`
		} `json:"outstanding"`
	}
	w = f.do("alice", http.MethodGet, "/api/penalties", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, int64(1), body.Page.Total)
	assert.Equal(t, int64(0), body.Outstanding.Count)
}

func TestNotifications_Outbox(t *testing.T) {
	f := newAPIFixture(t)
	for _, name := range []string{"alice", "alice", "bob"} {
		require.NoError(t, f.db.Create(&entities.Notification{
			UserID: f.users[name].ID, Title: "Hello", Type: entities.NotificationTypeInfo,
		}).Error)
	}

	var bobNote entities.Notification
	require.NoError(t, f.db.Where("user_id = ?", f.users["bob"].ID).First(&bobNote).Error)

	w := f.do("alice", http.MethodPut, fmt.Sprintf("/api/notifications/%d/read", bobNote.ID), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	page := decode[PaginatedResponse](t, f.do("alice", http.MethodGet, "/api/notifications?unread=true", nil))
	assert.Equal(t, int64(2), page.Total)

	w = f.do("alice", http.MethodPut, "/api/notifications/read-all", nil)
	require.Equal(t, http.StatusOK, w.Code)

	unread := decode[map[string]int64](t, f.do("alice", http.MethodGet, "/api/notifications/unread-count", nil))
	assert.Equal(t, int64(0), unread["unread"])
	unread = decode[map[string]int64](t, f.do("bob", http.MethodGet, "/api/notifications/unread-count", nil))
	assert.Equal(t, int64(1), unread["unread"])
}

func TestReconciliation_ManualRun(t *testing.T) {
	f := newAPIFixture(t)
	b := f.book(1)

	w := f.do("alice", http.MethodPost, "/api/borrows", gin.H{"book_id": b.ID})
	require.Equal(t, http.StatusCreated, w.Code)
	loan := decode[LoanResponse](t, w)

	w = f.do("alice", http.MethodPost, "/api/admin/reconciliation/run", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	f.clock = loan.DueDate.Add(5 * 24 * time.Hour)
	w = f.do("admin", http.MethodPost, "/api/admin/reconciliation/run", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var report struct {
		RunID   string `json:"run_id"`
		Status  string `json:"status"`
		Overdue struct {
			Succeeded int `json:"succeeded"`
		} `json:"overdue"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Equal(t, string(entities.RunStatusCompleted), report.Status)
	assert.Equal(t, 1, report.Overdue.Succeeded)

	var p entities.Penalty
	require.NoError(t, f.db.Where("loan_record_id = ?", loan.ID).First(&p).Error)
	assert.Equal(t, int64(25000), p.Amount)

	w = f.do("admin", http.MethodGet, "/api/admin/reconciliation/runs/"+report.RunID, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = f.do("admin", http.MethodGet, "/api/admin/reconciliation/runs/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	page := decode[PaginatedResponse](t, f.do("admin", http.MethodGet, "/api/admin/reconciliation/runs", nil))
	assert.Equal(t, int64(1), page.Total)

	status := decode[map[string]any](t, f.do("admin", http.MethodGet, "/api/admin/reconciliation/status", nil))
	assert.Equal(t, true, status["scheduler_enabled"])
	assert.Equal(t, "0 0 * * *", status["schedule"])
	assert.Contains(t, status, "latest_run")
	assert.Contains(t, status, "last_report")
}

type busyTrigger struct{}

func (busyTrigger) RunNow(context.Context) (*reconcile.Report, error) {
	return nil, scheduler.ErrAlreadyRunning
}
func (busyTrigger) IsRunning() bool               { return true }
func (busyTrigger) IsReconciling() bool           { return true }
func (busyTrigger) Schedule() string              { return "0 0 * * *" }
func (busyTrigger) GetNextRunTime() *time.Time    { return nil }
func (busyTrigger) LastReport() *reconcile.Report { return nil }
func (busyTrigger) Reschedule(string) error       { return nil }

func TestReconciliation_RunWhileBusy(t *testing.T) {
	f := newAPIFixture(t, withTrigger(busyTrigger{}))

	w := f.do("admin", http.MethodPost, "/api/admin/reconciliation/run", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "already_running", errorCode(t, w))
}

func TestReconciliation_EnqueueWithoutQueue(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do("admin", http.MethodPost, "/api/admin/reconciliation/enqueue", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = f.do("admin", http.MethodGet, "/api/tasks/abc", nil)
	assert.Equal(t, http.StatusNotFound, w.Code, "task routes are not mounted without a queue")
}

func TestAudit_ListEvents(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do("admin", http.MethodPost, "/api/penalties", gin.H{"user_id": f.users["bob"].ID, "amount": 500, "reason": "lost card"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = f.do("bob", http.MethodGet, "/api/admin/audit", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	require.Eventually(t, func() bool {
		w := f.do("admin", http.MethodGet, "/api/admin/audit?event_type=penalty", nil)
		return w.Code == http.StatusOK && decode[PaginatedResponse](t, w).Total == 1
	}, 2*time.Second, 20*time.Millisecond)
}

func TestReconciliation_UpdateSchedule(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do("alice", http.MethodPut, "/api/admin/reconciliation/schedule", gin.H{"schedule": "0 * * * *"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.do("admin", http.MethodPut, "/api/admin/reconciliation/schedule", gin.H{"schedule": "every tuesday"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do("admin", http.MethodPut, "/api/admin/reconciliation/schedule", gin.H{"schedule": "30 2 * * *"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode[map[string]any](t, w)
	assert.Equal(t, "30 2 * * *", body["schedule"])

	status := decode[map[string]any](t, f.do("admin", http.MethodGet, "/api/admin/reconciliation/status", nil))
	assert.Equal(t, "30 2 * * *", status["schedule"])
}

func TestUsers_List(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do("alice", http.MethodGet, "/api/admin/users", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	type userList struct {
		Items []entities.User `json:"items"`
		Total int             `json:"total"`
	}

	all := decode[userList](t, f.do("admin", http.MethodGet, "/api/admin/users", nil))
	assert.Equal(t, 3, all.Total)

	members := decode[userList](t, f.do("admin", http.MethodGet, "/api/admin/users?role=member", nil))
	require.Len(t, members.Items, 2)
	assert.Equal(t, "alice", members.Items[0].Username)

	one := decode[userList](t, f.do("admin", http.MethodGet, "/api/admin/users?username=bob", nil))
	require.Len(t, one.Items, 1)
	assert.Equal(t, f.users["bob"].ID, one.Items[0].ID)

	none := decode[userList](t, f.do("admin", http.MethodGet, "/api/admin/users?username=nobody", nil))
	assert.Empty(t, none.Items)

	w = f.do("admin", http.MethodGet, "/api/admin/users?role=owner", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.NotContains(t, w.Body.String(), "password")
}
