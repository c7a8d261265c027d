// Package penalties provides database operations for the penalty ledger.
//
// Late penalties are created idempotently: a guard query inside the
// transaction skips loans that already carry one, and the partial unique index
// ux_penalties_late_loan turns a lost race into a no-op insert.
//
// # Usage
//
//	repo := penalties.NewRepository(db)
//	penalty, created, err := repo.CreateLatePenalty(ctx, loan, amount, notice)
package penalties

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mrlokans/librarian/internal/entities"
)

var (
	ErrPenaltyNotFound   = errors.New("penalty not found")
	ErrInvalidTransition = errors.New("penalty status can only move from pending to paid or cancelled")
	ErrInvalidAmount     = errors.New("penalty amount must be positive")
	ErrReasonRequired    = errors.New("penalty reason is required")
	ErrReservedReason    = errors.New("reason \"late\" is reserved for automatic penalties")
)

// Repository handles all penalty database operations.
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new penalties repository.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// HasLatePenalty reports whether the loan already carries a late penalty,
// regardless of its status.
func (r *Repository) HasLatePenalty(ctx context.Context, loanID uint) (bool, error) {
	return hasLatePenalty(r.db.WithContext(ctx), loanID)
}

func hasLatePenalty(db *gorm.DB, loanID uint) (bool, error) {
	var count int64
	err := db.Model(&entities.Penalty{}).
		Where("loan_record_id = ? AND reason = ?", loanID, entities.PenaltyReasonLate).
		Count(&count).Error
	return count > 0, err
}

// CreateLatePenalty inserts a pending late penalty for the loan together with
// its notice in one transaction. created is false when the loan already had a
// late penalty; nothing is written in that case.
func (r *Repository) CreateLatePenalty(ctx context.Context, loan *entities.LoanRecord, amount int64, notice *entities.Notification) (*entities.Penalty, bool, error) {
	if amount <= 0 {
		return nil, false, ErrInvalidAmount
	}

	var penalty *entities.Penalty
	created := false

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		exists, err := hasLatePenalty(tx, loan.ID)
		if err != nil {
			return fmt.Errorf("check existing penalty: %w", err)
		}
		if exists {
			return nil
		}

		loanID := loan.ID
		penalty = &entities.Penalty{
			LoanRecordID: &loanID,
			UserID:       loan.UserID,
			Amount:       amount,
			Reason:       entities.PenaltyReasonLate,
			Status:       entities.PenaltyStatusPending,
		}
		result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(penalty)
		if result.Error != nil {
			return fmt.Errorf("insert penalty: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			penalty = nil
			return nil
		}

		if notice != nil {
			notice.UserID = loan.UserID
			if err := tx.Create(notice).Error; err != nil {
				return fmt.Errorf("insert notification: %w", err)
			}
		}
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return penalty, created, nil
}

// CreatePenalty records an operator-issued penalty and its notice.
func (r *Repository) CreatePenalty(ctx context.Context, penalty *entities.Penalty, notice *entities.Notification) error {
	if penalty.Amount <= 0 {
		return ErrInvalidAmount
	}
	if penalty.Reason == "" {
		return ErrReasonRequired
	}
	if penalty.Reason == entities.PenaltyReasonLate {
		return ErrReservedReason
	}
	penalty.Status = entities.PenaltyStatusPending

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(penalty).Error; err != nil {
			return fmt.Errorf("insert penalty: %w", err)
		}
		if notice != nil {
			notice.UserID = penalty.UserID
			if err := tx.Create(notice).Error; err != nil {
				return fmt.Errorf("insert notification: %w", err)
			}
		}
		return nil
	})
}

// GetPenaltyByID retrieves a penalty by ID.
func (r *Repository) GetPenaltyByID(ctx context.Context, id uint) (*entities.Penalty, error) {
	var penalty entities.Penalty
	err := r.db.WithContext(ctx).First(&penalty, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPenaltyNotFound
	}
	if err != nil {
		return nil, err
	}
	return &penalty, nil
}

// UpdateStatus moves a pending penalty to paid or cancelled. authorize runs
// against the stored penalty inside the transaction. The update is
// conditional on the row still being pending, so a concurrent transition
// makes this one fail with ErrInvalidTransition.
func (r *Repository) UpdateStatus(ctx context.Context, id uint, next entities.PenaltyStatus, authorize func(*entities.Penalty) error) (*entities.Penalty, error) {
	var penalty entities.Penalty

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&penalty, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrPenaltyNotFound
			}
			return err
		}
		if authorize != nil {
			if err := authorize(&penalty); err != nil {
				return err
			}
		}
		if !penalty.Status.CanTransitionTo(next) {
			return ErrInvalidTransition
		}

		now := time.Now().UTC()
		result := tx.Model(&entities.Penalty{}).
			Where("id = ? AND status = ?", id, entities.PenaltyStatusPending).
			Updates(map[string]any{"status": next, "updated_at": now})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrInvalidTransition
		}
		penalty.Status = next
		penalty.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &penalty, nil
}

// ListFilter narrows penalty listings. Zero values mean "any".
type ListFilter struct {
	UserID uint
	LoanID uint
	Status entities.PenaltyStatus
	Reason string
	Limit  int
	Offset int
}

// ListPenalties retrieves penalties newest first with the unpaginated total.
func (r *Repository) ListPenalties(ctx context.Context, f ListFilter) ([]entities.Penalty, int64, error) {
	query := r.db.WithContext(ctx).Model(&entities.Penalty{})
	if f.UserID > 0 {
		query = query.Where("user_id = ?", f.UserID)
	}
	if f.LoanID > 0 {
		query = query.Where("loan_record_id = ?", f.LoanID)
	}
	if f.Status != "" {
		query = query.Where("status = ?", f.Status)
	}
	if f.Reason != "" {
		query = query.Where("reason = ?", f.Reason)
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

	var penalties []entities.Penalty
	err := query.Order("created_at DESC, id DESC").Limit(f.Limit).Offset(f.Offset).Find(&penalties).Error
	return penalties, total, err
}

// OutstandingForUser returns the number and sum of pending penalties.
func (r *Repository) OutstandingForUser(ctx context.Context, userID uint) (count int64, amount int64, err error) {
	row := struct {
		Count  int64
		Amount int64
	}{}
	err = r.db.WithContext(ctx).Model(&entities.Penalty{}).
		Select("COUNT(*) AS count, COALESCE(SUM(amount), 0) AS amount").
		Where("user_id = ? AND status = ?", userID, entities.PenaltyStatusPending).
		Scan(&row).Error
	return row.Count, row.Amount, err
}
