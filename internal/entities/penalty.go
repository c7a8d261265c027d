package entities

import "time"

type PenaltyStatus string

const (
	PenaltyStatusPending   PenaltyStatus = "pending"
	PenaltyStatusPaid      PenaltyStatus = "paid"
	PenaltyStatusCancelled PenaltyStatus = "cancelled"
)

// CanTransitionTo enforces the forward-only lifecycle: pending may become paid
// or cancelled, and the terminal states never change again.
func (s PenaltyStatus) CanTransitionTo(next PenaltyStatus) bool {
	if s != PenaltyStatusPending {
		return false
	}
	return next == PenaltyStatusPaid || next == PenaltyStatusCancelled
}

func (s PenaltyStatus) IsValid() bool {
	switch s {
	case PenaltyStatusPending, PenaltyStatusPaid, PenaltyStatusCancelled:
		return true
	}
	return false
}

// PenaltyReasonLate marks penalties created by the overdue sweep. At most one
// such penalty exists per loan record.
const PenaltyReasonLate = "late"

type Penalty struct {
	ID           uint          `gorm:"primaryKey" json:"id"`
	LoanRecordID *uint         `gorm:"index" json:"loan_record_id,omitempty"`
	UserID       uint          `gorm:"index;not null" json:"user_id"`
	Amount       int64         `gorm:"not null" json:"amount"`
	Reason       string        `gorm:"index;size:255;not null" json:"reason"`
	Status       PenaltyStatus `gorm:"index;size:20;not null;default:pending" json:"status"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}
