// Package users provides read access to library members and staff. Account
// creation and credentials live in the auth package.
//
// # Usage
//
//	repo := users.NewRepository(db)
//	user, err := repo.GetUserByID(ctx, id)
package users

import (
	"context"

	"gorm.io/gorm"

	"github.com/mrlokans/librarian/internal/entities"
)

// Repository handles user lookups.
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new users repository.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// GetUserByID retrieves a user by ID.
func (r *Repository) GetUserByID(ctx context.Context, id uint) (*entities.User, error) {
	var user entities.User
	err := r.db.WithContext(ctx).First(&user, id).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetUserByUsername retrieves a user by username.
func (r *Repository) GetUserByUsername(ctx context.Context, username string) (*entities.User, error) {
	var user entities.User
	err := r.db.WithContext(ctx).Where("username = ?", username).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// ListUsers returns users ordered by username, optionally restricted to a role.
func (r *Repository) ListUsers(ctx context.Context, role entities.UserRole) ([]entities.User, error) {
	query := r.db.WithContext(ctx).Order("username ASC")
	if role != "" {
		query = query.Where("role = ?", role)
	}
	var items []entities.User
	err := query.Find(&items).Error
	return items, err
}
