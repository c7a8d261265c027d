package entities

import "time"

type LoanStatus string

const (
	LoanStatusBorrowed LoanStatus = "borrowed"
	LoanStatusReturned LoanStatus = "returned"
)

// LoanRecord is one checkout of one copy. Records are never deleted.
type LoanRecord struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	UserID     uint       `gorm:"index;not null" json:"user_id"`
	BookID     uint       `gorm:"index;not null" json:"book_id"`
	BorrowDate time.Time  `gorm:"not null" json:"borrow_date"`
	DueDate    time.Time  `gorm:"index;not null" json:"due_date"`
	ReturnDate *time.Time `json:"return_date,omitempty"`
	Status     LoanStatus `gorm:"index;size:20;not null;default:borrowed" json:"status"`
	Book       *Book      `gorm:"foreignKey:BookID" json:"book,omitempty"`
	User       *User      `gorm:"foreignKey:UserID" json:"-"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// IsOverdue is the only definition of "overdue" used anywhere: the loan is
// still open and its due date has passed.
func (l *LoanRecord) IsOverdue(now time.Time) bool {
	return l.Status == LoanStatusBorrowed && l.DueDate.Before(now)
}

// LoanStats summarises the loan table.
type LoanStats struct {
	Total    int64 `json:"total"`
	Borrowed int64 `json:"borrowed"`
	Returned int64 `json:"returned"`
	Overdue  int64 `json:"overdue"`
}
