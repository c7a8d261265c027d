package interfaces

// This file contains compile-time interface implementation checks.
// These ensure that concrete types satisfy their interfaces at compile time,
// catching missing methods before runtime.
//
// To verify all checks pass: go build ./internal/interfaces/...

import (
	"github.com/mrlokans/librarian/internal/audit"
	"github.com/mrlokans/librarian/internal/auth"
	"github.com/mrlokans/librarian/internal/circulation"
	auditrepo "github.com/mrlokans/librarian/internal/database/audit"
	"github.com/mrlokans/librarian/internal/database/books"
	"github.com/mrlokans/librarian/internal/database/loans"
	"github.com/mrlokans/librarian/internal/database/notifications"
	"github.com/mrlokans/librarian/internal/database/penalties"
	"github.com/mrlokans/librarian/internal/database/runs"
	"github.com/mrlokans/librarian/internal/database/users"
	"github.com/mrlokans/librarian/internal/http"
	"github.com/mrlokans/librarian/internal/mailer"
	"github.com/mrlokans/librarian/internal/reconcile"
	"github.com/mrlokans/librarian/internal/scheduler"
	"github.com/mrlokans/librarian/internal/tasks"
)

// =============================================================================
// Circulation
// =============================================================================

var _ circulation.LoanStore = (*loans.Repository)(nil)
var _ circulation.AuditLogger = (*audit.Service)(nil)

// =============================================================================
// Reconciliation
// =============================================================================

var _ reconcile.LoanFinder = (*loans.Repository)(nil)
var _ reconcile.PenaltyLedger = (*penalties.Repository)(nil)
var _ reconcile.NotificationWriter = (*notifications.Repository)(nil)
var _ reconcile.RunRecorder = (*runs.Repository)(nil)
var _ reconcile.UserDirectory = (*users.Repository)(nil)
var _ reconcile.AuditLogger = (*audit.Service)(nil)

// Mailer implementations
var _ mailer.Mailer = mailer.LogMailer{}
var _ mailer.Mailer = (*mailer.WebhookMailer)(nil)

// =============================================================================
// Background Work
// =============================================================================

var _ scheduler.Runner = (*reconcile.Engine)(nil)
var _ tasks.ReconcileRunner = (*reconcile.Engine)(nil)
var _ tasks.AuditEventCleaner = (*audit.Service)(nil)
var _ tasks.RunHistoryCleaner = (*runs.Repository)(nil)

// =============================================================================
// HTTP Layer
// =============================================================================

var _ http.Circulator = (*circulation.Service)(nil)
var _ http.LoanReader = (*loans.Repository)(nil)
var _ http.BookStore = (*books.Repository)(nil)
var _ http.UserDirectory = (*users.Repository)(nil)
var _ http.PenaltyStore = (*penalties.Repository)(nil)
var _ http.NotificationStore = (*notifications.Repository)(nil)
var _ http.RunHistory = (*runs.Repository)(nil)
var _ http.ReconciliationTrigger = (*scheduler.ReconciliationScheduler)(nil)
var _ http.TaskQueue = (*tasks.Client)(nil)
var _ http.PenaltyAuditor = (*audit.Service)(nil)
var _ http.AuditReader = (*audit.Service)(nil)
var _ http.AuditReader = (*auditrepo.Repository)(nil)
var _ auth.LoginAuditor = (*audit.Service)(nil)
