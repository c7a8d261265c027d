package http

import (
	"github.com/mrlokans/librarian/internal/auth"
)

// RouterConfig contains all dependencies and configuration needed
// to create the HTTP router.
//
// Optional interfaces must be left nil, not set to a typed nil pointer, when
// the component is disabled.
type RouterConfig struct {
	// Core dependencies
	Circulation   Circulator
	Loans         LoanReader
	Books         BookStore
	Users         UserDirectory
	Penalties     PenaltyStore
	Notifications NotificationStore

	// Reconciliation (Scheduler and TaskQueue are optional)
	Runs      RunHistory
	Scheduler ReconciliationTrigger
	TaskQueue TaskQueue

	// Audit
	PenaltyAuditor PenaltyAuditor
	AuditReader    AuditReader
	LoginAuditor   auth.LoginAuditor

	// Authentication
	AuthService    *auth.Service
	AuthMiddleware *auth.Middleware
	SessionManager *auth.SessionManager
	CSRFSecret     []byte
	SecureCookies  bool

	// Health
	Database Pinger
	Version  string
}
