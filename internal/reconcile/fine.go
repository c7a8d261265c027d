package reconcile

import "time"

const day = 24 * time.Hour

// ComputeFine returns the whole days a loan is overdue at now and the late fee
// for them. Partial days are floored, so a loan less than one day late yields
// zero days and a zero amount.
func ComputeFine(dueDate, now time.Time, perDayRate int64) (days int64, amount int64) {
	if !now.After(dueDate) {
		return 0, 0
	}
	days = int64(now.Sub(dueDate) / day)
	return days, days * perDayRate
}
