package entities

import "time"

type NotificationType string

const (
	NotificationTypeBorrowDue NotificationType = "borrow_due"
	NotificationTypeSystem    NotificationType = "system"
	NotificationTypeInfo      NotificationType = "info"
)

// Notification is an outbox entry. Only IsRead changes after creation.
type Notification struct {
	ID        uint             `gorm:"primaryKey" json:"id"`
	UserID    uint             `gorm:"index;not null" json:"user_id"`
	Title     string           `gorm:"size:255;not null" json:"title"`
	Message   string           `gorm:"type:text" json:"message"`
	Type      NotificationType `gorm:"size:20;not null;default:info" json:"type"`
	IsRead    bool             `gorm:"index;not null;default:false" json:"is_read"`
	CreatedAt time.Time        `gorm:"index" json:"created_at"`
}
