// Package database provides the data access layer for the application.
//
// # Architecture
//
// The database layer is organized into domain-specific sub-packages:
//
//	database/
//	├── database.go      # Connection setup (sqlite or postgres), migrations
//	├── books/           # Catalog and inventory counters
//	├── loans/           # Checkout / check-in transactions and loan queries
//	├── penalties/       # Penalty ledger, idempotent late penalties
//	├── notifications/   # Notification outbox
//	├── runs/            # Reconciliation run history
//	├── audit/           # Audit events
//	└── users/           # User lookups
//
// # Using Sub-packages
//
// Each sub-package provides a Repository type with domain-specific operations:
//
//	db, err := database.NewDatabase(cfg.Database)
//
//	loansRepo := loans.NewRepository(db.DB)
//	penaltiesRepo := penalties.NewRepository(db.DB)
//
//	loan, err := loansRepo.Checkout(ctx, userID, bookID, now, due)
//
// # Interface Implementations
//
//   - loans.Repository: implements circulation.LoanStore, reconcile.LoanFinder and http.LoanReader
//   - penalties.Repository: implements reconcile.PenaltyLedger and http.PenaltyStore
//   - notifications.Repository: implements reconcile.NotificationWriter and http.NotificationStore
//   - runs.Repository: implements reconcile.RunRecorder and http.RunHistory
//   - books.Repository: implements http.BookStore
//   - users.Repository: implements reconcile.UserDirectory and http.UserDirectory
//
// # Concurrency
//
// Inventory changes are always a single conditional UPDATE evaluated by the
// database (available_copies > 0, status = 'borrowed'), and the number of
// affected rows decides the outcome. No read-then-write of counters happens in
// application code. On SQLite the pool is limited to one connection and write
// transactions begin IMMEDIATE, so concurrent requests serialize.
package database
