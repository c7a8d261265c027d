package http

import (
	"context"
	"time"

	"github.com/mikestefanello/backlite"

	"github.com/mrlokans/librarian/internal/circulation"
	auditrepo "github.com/mrlokans/librarian/internal/database/audit"
	"github.com/mrlokans/librarian/internal/database/loans"
	"github.com/mrlokans/librarian/internal/database/penalties"
	"github.com/mrlokans/librarian/internal/entities"
	"github.com/mrlokans/librarian/internal/reconcile"
)

// Each controller depends on the narrowest interface it needs; this file
// collects them.

// Circulator runs the borrow and return workflows.
type Circulator interface {
	Borrow(ctx context.Context, actor circulation.Actor, bookID uint) (*entities.LoanRecord, error)
	Return(ctx context.Context, actor circulation.Actor, req circulation.ReturnRequest) (*circulation.ReturnReceipt, error)
}

// LoanReader provides read access to loan records.
type LoanReader interface {
	GetLoanByID(ctx context.Context, id uint) (*entities.LoanRecord, error)
	ListLoans(ctx context.Context, f loans.ListFilter) ([]entities.LoanRecord, int64, error)
	GetStats(ctx context.Context, now time.Time) (*entities.LoanStats, error)
	CountOpenForBook(ctx context.Context, bookID uint) (int64, error)
}

type BookStore interface {
	CreateBook(ctx context.Context, book *entities.Book) error
	GetBookByID(ctx context.Context, id uint) (*entities.Book, error)
	ListBooks(ctx context.Context, query string, limit, offset int) ([]entities.Book, int64, error)
	AddCopies(ctx context.Context, id uint, n int) (*entities.Book, error)
	CountBooks(ctx context.Context) (titles int64, available int64, err error)
}

type PenaltyStore interface {
	CreatePenalty(ctx context.Context, penalty *entities.Penalty, notice *entities.Notification) error
	GetPenaltyByID(ctx context.Context, id uint) (*entities.Penalty, error)
	UpdateStatus(ctx context.Context, id uint, next entities.PenaltyStatus, authorize func(*entities.Penalty) error) (*entities.Penalty, error)
	ListPenalties(ctx context.Context, f penalties.ListFilter) ([]entities.Penalty, int64, error)
	OutstandingForUser(ctx context.Context, userID uint) (count int64, amount int64, err error)
}

type NotificationStore interface {
	ListForUser(ctx context.Context, userID uint, unreadOnly bool, limit, offset int) ([]entities.Notification, int64, error)
	MarkRead(ctx context.Context, userID, id uint) error
	MarkAllRead(ctx context.Context, userID uint) (int64, error)
	UnreadCount(ctx context.Context, userID uint) (int64, error)
}

// RunHistory provides read access to persisted reconciliation runs.
type RunHistory interface {
	GetRun(ctx context.Context, runID string) (*entities.ReconciliationRun, error)
	LatestRun(ctx context.Context) (*entities.ReconciliationRun, error)
	ListRuns(ctx context.Context, limit, offset int) ([]entities.ReconciliationRun, int64, error)
}

// ReconciliationTrigger is the in-process scheduler.
type ReconciliationTrigger interface {
	RunNow(ctx context.Context) (*reconcile.Report, error)
	IsRunning() bool
	IsReconciling() bool
	Schedule() string
	GetNextRunTime() *time.Time
	LastReport() *reconcile.Report
	Reschedule(schedule string) error
}

// UserDirectory lists accounts for operators.
type UserDirectory interface {
	GetUserByUsername(ctx context.Context, username string) (*entities.User, error)
	ListUsers(ctx context.Context, role entities.UserRole) ([]entities.User, error)
}

// TaskQueue enqueues and inspects background tasks.
type TaskQueue interface {
	Enqueue(ctx context.Context, task backlite.Task) (string, error)
	Status(ctx context.Context, taskID string) (backlite.TaskStatus, error)
}

// PenaltyAuditor records penalty changes.
type PenaltyAuditor interface {
	LogPenalty(actorID uint, action string, penalty *entities.Penalty, err error)
}

type AuditReader interface {
	GetEvents(q auditrepo.Query) ([]entities.AuditEvent, int64, error)
}

// Pinger reports database reachability.
type Pinger interface {
	PingContext(ctx context.Context) error
}
