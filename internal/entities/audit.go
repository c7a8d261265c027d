package entities

import "time"

type AuditEventType string

const (
	AuditEventBorrow         AuditEventType = "borrow"
	AuditEventReturn         AuditEventType = "return"
	AuditEventPenalty        AuditEventType = "penalty"
	AuditEventReconciliation AuditEventType = "reconciliation"
	AuditEventCatalog        AuditEventType = "catalog"
	AuditEventAuth           AuditEventType = "auth"
)

type AuditStatus string

const (
	AuditStatusSuccess AuditStatus = "success"
	AuditStatusFailed  AuditStatus = "failed"
)

type AuditEvent struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	UserID      uint           `gorm:"index" json:"user_id"`
	EventType   AuditEventType `gorm:"index;size:50" json:"event_type"`
	Action      string         `gorm:"size:100" json:"action"`      // e.g. "checkout", "penalty_paid"
	Description string         `gorm:"size:500" json:"description"` // human readable
	EntityType  string         `gorm:"size:50" json:"entity_type"`  // "loan", "penalty", "run"
	EntityID    *uint          `gorm:"index" json:"entity_id,omitempty"`
	Metadata    string         `gorm:"type:text" json:"metadata,omitempty"`
	Status      AuditStatus    `gorm:"size:20" json:"status"`
	ErrorMsg    string         `gorm:"size:500" json:"error_msg,omitempty"`
	CreatedAt   time.Time      `gorm:"index" json:"created_at"`
}

func (AuditEvent) TableName() string {
	return "audit_events"
}
