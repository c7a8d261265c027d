// Package interfaces documents the core abstractions used throughout the application.
//
// # Interface Categories
//
// ## Circulation
//
//   - LoanStore: Atomic checkout and check-in (internal/circulation/circulation.go)
//   - AuditLogger: Borrow and return audit trail (internal/circulation/circulation.go)
//
// ## Reconciliation
//
//   - LoanFinder: Due-soon and overdue candidate scans (internal/reconcile/reconcile.go)
//   - PenaltyLedger: Idempotent late penalties (internal/reconcile/reconcile.go)
//   - NotificationWriter: Outbox writes (internal/reconcile/reconcile.go)
//   - RunRecorder: Run history (internal/reconcile/reconcile.go)
//   - Mailer: Out-of-band delivery (internal/mailer/mailer.go)
//
// ## HTTP Layer
//
// Each controller depends on the narrowest store it needs; see
// internal/http/stores.go.
//
// # Adding a New Reconciliation Pass
//
//  1. Add a candidate query to LoanFinder and implement it in
//     internal/database/loans/.
//
//  2. Add a pass method to reconcile.Engine that builds a PassReport, one
//     ItemResult per loan, and wraps each write in e.retry.
//
//  3. Add the pass to Report.Err, Report.Status and Report.Summary.
//
// # Adding a New Background Task
//
//  1. Define the task and its queue in internal/tasks/:
//
//     type ExportLoansTask struct {
//         Since time.Time `json:"since"`
//     }
//
//     func (t ExportLoansTask) Config() backlite.QueueConfig
//
//     func NewExportLoansQueue(exporter LoanExporter) backlite.Queue
//
//  2. Register the queue in entrypoint.go.
//
//  3. Add the type to the task list in internal/http/tasks.go.
//
// # Compile-Time Interface Checks
//
// All implementations should include compile-time checks to ensure they satisfy
// their interfaces. This catches missing methods at compile time rather than runtime:
//
//	var _ SomeInterface = (*MyImplementation)(nil)
//
// See checks.go for the full list.
package interfaces
