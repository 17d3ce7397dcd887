package models

import (
	"time"

	"github.com/kayakoyan/marketplace-backend/pkg/enums"
)

// Notification stores in-app notifications addressed to a single user.
type Notification struct {
	ID        uint64                 `gorm:"column:id;primaryKey;autoIncrement"`
	UserID    uint64                 `gorm:"column:user_id;not null;index;uniqueIndex:idx_notifications_event_user,priority:2"`
	OrderID   *uint64                `gorm:"column:order_id"`
	EventID   *string                `gorm:"column:event_id;uniqueIndex:idx_notifications_event_user,priority:1"`
	Type      enums.NotificationType `gorm:"column:type;not null"`
	Title     string                 `gorm:"column:title;not null"`
	Message   string                 `gorm:"column:message;not null"`
	Link      *string                `gorm:"column:link"`
	ReadAt    *time.Time             `gorm:"column:read_at"`
	CreatedAt time.Time              `gorm:"column:created_at;autoCreateTime"`
}
