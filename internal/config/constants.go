package config

import "time"

const (
	// DefaultDatabasePath is the default path for the main application database
	DefaultDatabasePath = "./librarian.db"

	// DefaultLoanPeriod is how long a copy may be kept before it is due.
	DefaultLoanPeriod = 14 * 24 * time.Hour

	// DefaultDueSoonWindow is how far ahead due-soon reminders look.
	DefaultDueSoonWindow = 72 * time.Hour

	// DefaultPenaltyPerDay is the late fine per whole day overdue.
	DefaultPenaltyPerDay int64 = 5000

	// DefaultReconcileSchedule runs reconciliation daily at midnight.
	DefaultReconcileSchedule = "0 0 * * *"
)
