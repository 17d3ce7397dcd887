package models

import (
	"time"

	"github.com/kayakoyan/marketplace-backend/pkg/enums"
)

// ChatMessage is an append-only message in an order's thread.
type ChatMessage struct {
	ID        uint64            `gorm:"column:id;primaryKey;autoIncrement"`
	OrderID   uint64            `gorm:"column:order_id;not null;index:idx_chat_messages_order_id_id,priority:1"`
	SenderID  uint64            `gorm:"column:sender_id;not null"`
	Message   *string           `gorm:"column:message"`
	Type      enums.MessageType `gorm:"column:type;not null;default:'text'"`
	FilePath  *string           `gorm:"column:file_path"`
	FileName  *string           `gorm:"column:file_name"`
	ReadAt    *time.Time        `gorm:"column:read_at"`
	Sender    *User             `gorm:"foreignKey:SenderID"`
	CreatedAt time.Time         `gorm:"column:created_at;autoCreateTime"`
}

func (m ChatMessage) SenderName() string {
	if m.Sender == nil {
		return ""
	}
	return m.Sender.Name
}
