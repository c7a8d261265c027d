// Package notifications provides database operations for the notification
// outbox. Rows are append-only apart from the read flag.
package notifications

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/mrlokans/librarian/internal/entities"
)

var ErrNotificationNotFound = errors.New("notification not found")

// Repository handles all notification database operations.
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new notifications repository.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// CreateNotification appends a notification. IsRead is always stored false.
func (r *Repository) CreateNotification(ctx context.Context, n *entities.Notification) error {
	n.IsRead = false
	if n.Type == "" {
		n.Type = entities.NotificationTypeInfo
	}
	return r.db.WithContext(ctx).Create(n).Error
}

// ListForUser retrieves a user's notifications newest first with the total count.
func (r *Repository) ListForUser(ctx context.Context, userID uint, unreadOnly bool, limit, offset int) ([]entities.Notification, int64, error) {
	query := r.db.WithContext(ctx).Model(&entities.Notification{}).Where("user_id = ?", userID)
	if unreadOnly {
		query = query.Where("is_read = ?", false)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var items []entities.Notification
	err := query.Order("created_at DESC, id DESC").Limit(limit).Offset(offset).Find(&items).Error
	return items, total, err
}

// MarkRead flags one of the user's notifications as read. Marking an already
// read notification succeeds.
func (r *Repository) MarkRead(ctx context.Context, userID, id uint) error {
	result := r.db.WithContext(ctx).Model(&entities.Notification{}).
		Where("id = ? AND user_id = ?", id, userID).
		Update("is_read", true)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := r.db.WithContext(ctx).Model(&entities.Notification{}).
			Where("id = ? AND user_id = ?", id, userID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ErrNotificationNotFound
		}
	}
	return nil
}

// MarkAllRead flags every unread notification of the user and returns how
// many changed.
func (r *Repository) MarkAllRead(ctx context.Context, userID uint) (int64, error) {
	result := r.db.WithContext(ctx).Model(&entities.Notification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Update("is_read", true)
	return result.RowsAffected, result.Error
}

// UnreadCount returns the number of unread notifications of the user.
func (r *Repository) UnreadCount(ctx context.Context, userID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&entities.Notification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Count(&count).Error
	return count, err
}
