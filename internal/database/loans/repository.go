// Package loans provides the transactional checkout and check-in operations
// together with loan queries.
//
// # Interface Implementation
//
//	var _ circulation.LoanStore = (*Repository)(nil)
//	var _ reconcile.LoanFinder = (*Repository)(nil)
//
// # Usage
//
//	repo := loans.NewRepository(db)
//	loan, err := repo.Checkout(ctx, userID, bookID, now, now.Add(period))
package loans

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/mrlokans/librarian/internal/circulation"
	"github.com/mrlokans/librarian/internal/entities"
)

var _ circulation.LoanStore = (*Repository)(nil)

// Repository handles all loan record database operations.
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new loans repository.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Checkout takes one copy of the book and records the loan in one transaction.
// The decrement is conditional on available_copies > 0 and the affected row
// count decides between success and ErrBookUnavailable.
func (r *Repository) Checkout(ctx context.Context, userID, bookID uint, borrowedAt, dueAt time.Time) (*entities.LoanRecord, error) {
	var loan *entities.LoanRecord

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&entities.Book{}).
			Where("id = ? AND available_copies > 0", bookID).
			Updates(map[string]any{
				"available_copies": gorm.Expr("available_copies - 1"),
				"updated_at":       borrowedAt,
			})
		if result.Error != nil {
			return fmt.Errorf("decrement copies: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&entities.Book{}).Where("id = ?", bookID).Count(&count).Error; err != nil {
				return fmt.Errorf("check book: %w", err)
			}
			if count == 0 {
				return circulation.ErrNotFound
			}
			return circulation.ErrBookUnavailable
		}

		loan = &entities.LoanRecord{
			UserID:     userID,
			BookID:     bookID,
			BorrowDate: borrowedAt,
			DueDate:    dueAt,
			Status:     entities.LoanStatusBorrowed,
		}
		if err := tx.Create(loan).Error; err != nil {
			return fmt.Errorf("insert loan: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, circulation.WrapStorage("checkout", err)
	}
	return loan, nil
}

// CheckIn closes the targeted open loan and returns the copy to inventory in
// one transaction. The close is conditional on status = 'borrowed', so of two
// concurrent returns of the same loan only one succeeds.
func (r *Repository) CheckIn(ctx context.Context, target circulation.LoanTarget, returnedAt time.Time, authorize circulation.AuthorizeFunc) (*entities.LoanRecord, error) {
	var loan entities.LoanRecord

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := findOpenLoan(tx, target, &loan); err != nil {
			return err
		}
		if authorize != nil {
			if err := authorize(&loan); err != nil {
				return err
			}
		}

		result := tx.Model(&entities.LoanRecord{}).
			Where("id = ? AND status = ?", loan.ID, entities.LoanStatusBorrowed).
			Updates(map[string]any{
				"status":      entities.LoanStatusReturned,
				"return_date": returnedAt,
				"updated_at":  returnedAt,
			})
		if result.Error != nil {
			return fmt.Errorf("close loan: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return circulation.ErrInvalidLoan
		}

		result = tx.Model(&entities.Book{}).
			Where("id = ?", loan.BookID).
			Updates(map[string]any{
				"available_copies": gorm.Expr("available_copies + 1"),
				"updated_at":       returnedAt,
			})
		if result.Error != nil {
			return fmt.Errorf("increment copies: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("book %d of loan %d is missing", loan.BookID, loan.ID)
		}

		loan.Status = entities.LoanStatusReturned
		loan.ReturnDate = &returnedAt
		return nil
	})
	if err != nil {
		return nil, circulation.WrapStorage("checkin", err)
	}
	return &loan, nil
}

func findOpenLoan(tx *gorm.DB, target circulation.LoanTarget, loan *entities.LoanRecord) error {
	var err error
	if target.LoanID != 0 {
		err = tx.Where("id = ? AND status = ?", target.LoanID, entities.LoanStatusBorrowed).
			First(loan).Error
	} else {
		err = tx.Where("user_id = ? AND book_id = ? AND status = ?", target.UserID, target.BookID, entities.LoanStatusBorrowed).
			Order("borrow_date ASC, id ASC").
			First(loan).Error
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return circulation.ErrInvalidLoan
	}
	if err != nil {
		return fmt.Errorf("find loan: %w", err)
	}
	return nil
}

// GetLoanByID retrieves a loan with its book.
func (r *Repository) GetLoanByID(ctx context.Context, id uint) (*entities.LoanRecord, error) {
	var loan entities.LoanRecord
	err := r.db.WithContext(ctx).Preload("Book").First(&loan, id).Error
	if err != nil {
		return nil, err
	}
	return &loan, nil
}

// ListFilter narrows loan listings. Zero values mean "any".
type ListFilter struct {
	UserID    uint
	BookID    uint
	Status    entities.LoanStatus
	OverdueAt *time.Time // only loans overdue at this instant
	Limit     int
	Offset    int
}

// ListLoans retrieves loans matching the filter, newest first, with the total
// count before pagination.
func (r *Repository) ListLoans(ctx context.Context, f ListFilter) ([]entities.LoanRecord, int64, error) {
	query := r.db.WithContext(ctx).Model(&entities.LoanRecord{})
	if f.UserID > 0 {
		query = query.Where("user_id = ?", f.UserID)
	}
	if f.BookID > 0 {
		query = query.Where("book_id = ?", f.BookID)
	}
	if f.Status != "" {
		query = query.Where("status = ?", f.Status)
	}
	if f.OverdueAt != nil {
		query = query.Where("status = ? AND due_date < ?", entities.LoanStatusBorrowed, *f.OverdueAt)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	var loans []entities.LoanRecord
	err := query.Preload("Book").
		Order("borrow_date DESC, id DESC").
		Limit(f.Limit).Offset(f.Offset).
		Find(&loans).Error
	return loans, total, err
}

// FindOverdue returns every open loan whose due date is before now.
func (r *Repository) FindOverdue(ctx context.Context, now time.Time) ([]entities.LoanRecord, error) {
	var loans []entities.LoanRecord
	err := r.db.WithContext(ctx).Preload("Book").
		Where("status = ? AND due_date < ?", entities.LoanStatusBorrowed, now).
		Order("due_date ASC, id ASC").
		Find(&loans).Error
	return loans, err
}

// FindDueBetween returns open loans due within [from, to].
func (r *Repository) FindDueBetween(ctx context.Context, from, to time.Time) ([]entities.LoanRecord, error) {
	var loans []entities.LoanRecord
	err := r.db.WithContext(ctx).Preload("Book").
		Where("status = ? AND due_date >= ? AND due_date <= ?", entities.LoanStatusBorrowed, from, to).
		Order("due_date ASC, id ASC").
		Find(&loans).Error
	return loans, err
}

// CountOpenForBook returns the number of open loans of a book.
func (r *Repository) CountOpenForBook(ctx context.Context, bookID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&entities.LoanRecord{}).
		Where("book_id = ? AND status = ?", bookID, entities.LoanStatusBorrowed).
		Count(&count).Error
	return count, err
}

// GetStats summarises the loan table at now.
func (r *Repository) GetStats(ctx context.Context, now time.Time) (*entities.LoanStats, error) {
	db := r.db.WithContext(ctx)
	var stats entities.LoanStats

	if err := db.Model(&entities.LoanRecord{}).Count(&stats.Total).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&entities.LoanRecord{}).Where("status = ?", entities.LoanStatusBorrowed).Count(&stats.Borrowed).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&entities.LoanRecord{}).Where("status = ?", entities.LoanStatusReturned).Count(&stats.Returned).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&entities.LoanRecord{}).
		Where("status = ? AND due_date < ?", entities.LoanStatusBorrowed, now).
		Count(&stats.Overdue).Error; err != nil {
		return nil, err
	}
	return &stats, nil
}
