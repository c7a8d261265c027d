// Package circulation implements the borrow and return workflows.
//
// Each workflow is one atomic unit against the store: a borrow decrements the
// book's available copies and inserts the loan record together, a return
// closes the loan and increments the copies together. Either both changes
// are visible or neither is.
package circulation

import (
	"context"
	"time"

	"github.com/mrlokans/librarian/internal/entities"
)

// Actor is the authenticated caller as supplied by the auth layer.
type Actor struct {
	UserID uint
	Role   entities.UserRole
}

func (a Actor) IsElevated() bool {
	return a.Role.IsElevated()
}

// LoanTarget identifies the loan a return applies to: either LoanID, or the
// oldest open loan of UserID for BookID.
type LoanTarget struct {
	LoanID uint
	UserID uint
	BookID uint
}

// AuthorizeFunc is evaluated against the located open loan inside the return
// transaction. A non-nil error aborts the return.
type AuthorizeFunc func(loan *entities.LoanRecord) error

// LoanStore is the transactional storage contract the workflows run on.
//
// Checkout must decrement available_copies only where it is positive, decide
// the outcome from the affected row count, and insert the loan in the same
// transaction. It returns ErrNotFound for an unknown book and
// ErrBookUnavailable when no copy is left.
//
// CheckIn must return ErrInvalidLoan when no open loan matches the target,
// close the loan only where status is still borrowed, and increment the
// book's copies in the same transaction.
type LoanStore interface {
	Checkout(ctx context.Context, userID, bookID uint, borrowedAt, dueAt time.Time) (*entities.LoanRecord, error)
	CheckIn(ctx context.Context, target LoanTarget, returnedAt time.Time, authorize AuthorizeFunc) (*entities.LoanRecord, error)
}

// AuditLogger receives completed workflow events.
type AuditLogger interface {
	LogBorrow(actorID uint, loan *entities.LoanRecord, err error)
	LogReturn(actorID uint, loan *entities.LoanRecord, err error)
}

type Policy struct {
	LoanPeriod time.Duration
}

// ReturnRequest selects the loan to return. LoanID takes precedence; otherwise
// BookID selects the oldest open loan of UserID (defaults to the caller).
type ReturnRequest struct {
	LoanID uint
	BookID uint
	UserID uint
}

type ReturnReceipt struct {
	LoanRecordID uint      `json:"loan_record_id"`
	BookID       uint      `json:"book_id"`
	UserID       uint      `json:"user_id"`
	ReturnDate   time.Time `json:"return_date"`
	DueDate      time.Time `json:"due_date"`
	Late         bool      `json:"late"`
}

type Service struct {
	store  LoanStore
	policy Policy
	now    func() time.Time
	audit  AuditLogger
}

func NewService(store LoanStore, policy Policy) *Service {
	return &Service{
		store:  store,
		policy: policy,
		now:    time.Now,
	}
}

// SetClock replaces the time source.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Service) SetAuditLogger(a AuditLogger) {
	s.audit = a
}

// Borrow checks out one copy of bookID for the actor.
func (s *Service) Borrow(ctx context.Context, actor Actor, bookID uint) (*entities.LoanRecord, error) {
	if bookID == 0 {
		return nil, ErrNotFound
	}

	now := s.now().UTC()
	loan, err := s.store.Checkout(ctx, actor.UserID, bookID, now, now.Add(s.policy.LoanPeriod))
	err = WrapStorage("borrow", err)

	if s.audit != nil {
		s.audit.LogBorrow(actor.UserID, auditLoan(loan, actor.UserID, bookID), err)
	}
	if err != nil {
		return nil, err
	}
	return loan, nil
}

// Return closes an open loan and puts the copy back on the shelf. Only the
// loan's owner or an elevated role may return it.
func (s *Service) Return(ctx context.Context, actor Actor, req ReturnRequest) (*ReturnReceipt, error) {
	target, err := s.resolveTarget(actor, req)
	if err != nil {
		return nil, err
	}

	authorize := func(loan *entities.LoanRecord) error {
		if loan.UserID != actor.UserID && !actor.IsElevated() {
			return ErrNotAuthorized
		}
		return nil
	}

	now := s.now().UTC()
	loan, err := s.store.CheckIn(ctx, target, now, authorize)
	err = WrapStorage("return", err)

	if s.audit != nil {
		s.audit.LogReturn(actor.UserID, auditLoan(loan, target.UserID, target.BookID), err)
	}
	if err != nil {
		return nil, err
	}

	return &ReturnReceipt{
		LoanRecordID: loan.ID,
		BookID:       loan.BookID,
		UserID:       loan.UserID,
		ReturnDate:   now,
		DueDate:      loan.DueDate,
		Late:         loan.DueDate.Before(now),
	}, nil
}

func (s *Service) resolveTarget(actor Actor, req ReturnRequest) (LoanTarget, error) {
	if req.LoanID != 0 {
		return LoanTarget{LoanID: req.LoanID}, nil
	}
	if req.BookID == 0 {
		return LoanTarget{}, ErrInvalidLoan
	}

	owner := req.UserID
	if owner == 0 {
		owner = actor.UserID
	}
	if owner != actor.UserID && !actor.IsElevated() {
		return LoanTarget{}, ErrNotAuthorized
	}
	return LoanTarget{UserID: owner, BookID: req.BookID}, nil
}

func auditLoan(loan *entities.LoanRecord, userID, bookID uint) *entities.LoanRecord {
	if loan != nil {
		return loan
	}
	return &entities.LoanRecord{UserID: userID, BookID: bookID}
}
