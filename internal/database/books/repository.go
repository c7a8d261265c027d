// Package books provides database operations for the catalog and its
// inventory counters.
//
// Copies only ever change through AddCopies here or through the loans
// package's checkout and check-in transactions.
//
// # Usage
//
//	repo := books.NewRepository(db)
//	book, err := repo.GetBookByID(ctx, 123)
package books

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/mrlokans/librarian/internal/entities"
)

var (
	ErrInvalidCopies = errors.New("copies must be positive")
	ErrTitleRequired = errors.New("title is required")
)

// Repository handles all catalog database operations.
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new books repository.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// CreateBook adds a title with all its copies available.
func (r *Repository) CreateBook(ctx context.Context, book *entities.Book) error {
	if book.Title == "" {
		return ErrTitleRequired
	}
	if book.TotalCopies < 0 {
		return ErrInvalidCopies
	}
	book.AvailableCopies = book.TotalCopies
	return r.db.WithContext(ctx).Create(book).Error
}

// GetBookByID retrieves a book by its ID.
func (r *Repository) GetBookByID(ctx context.Context, id uint) (*entities.Book, error) {
	var book entities.Book
	err := r.db.WithContext(ctx).First(&book, id).Error
	if err != nil {
		return nil, err
	}
	return &book, nil
}

// ListBooks retrieves books ordered by title, optionally filtered by a
// case-insensitive title/author match, and the total count.
func (r *Repository) ListBooks(ctx context.Context, query string, limit, offset int) ([]entities.Book, int64, error) {
	q := r.db.WithContext(ctx).Model(&entities.Book{})
	if query != "" {
		pattern := "%" + query + "%"
		q = q.Where("LOWER(title) LIKE LOWER(?) OR LOWER(author) LIKE LOWER(?)", pattern, pattern)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var books []entities.Book
	err := q.Order("title ASC, id ASC").Limit(limit).Offset(offset).Find(&books).Error
	return books, total, err
}

// AddCopies acquires n more copies of a book. Total and available counts move
// together so the conservation between copies and open loans is kept.
func (r *Repository) AddCopies(ctx context.Context, id uint, n int) (*entities.Book, error) {
	if n <= 0 {
		return nil, ErrInvalidCopies
	}

	var book entities.Book
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&entities.Book{}).Where("id = ?", id).Updates(map[string]any{
			"total_copies":     gorm.Expr("total_copies + ?", n),
			"available_copies": gorm.Expr("available_copies + ?", n),
			"updated_at":       time.Now().UTC(),
		})
		if result.Error != nil {
			return fmt.Errorf("failed to add copies: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return tx.First(&book, id).Error
	})
	if err != nil {
		return nil, err
	}
	return &book, nil
}

// CountBooks returns the number of titles and the sum of available copies.
func (r *Repository) CountBooks(ctx context.Context) (titles int64, available int64, err error) {
	db := r.db.WithContext(ctx)
	if err = db.Model(&entities.Book{}).Count(&titles).Error; err != nil {
		return
	}
	err = db.Model(&entities.Book{}).Select("COALESCE(SUM(available_copies), 0)").Scan(&available).Error
	return
}
