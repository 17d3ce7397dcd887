package models

import "time"

// Delivery records a worker's hand-off of a service order.
type Delivery struct {
	ID        uint64         `gorm:"column:id;primaryKey;autoIncrement"`
	OrderID   uint64         `gorm:"column:order_id;not null;uniqueIndex"`
	Message   string         `gorm:"column:message;not null"`
	Files     []DeliveryFile `gorm:"foreignKey:DeliveryID;constraint:OnDelete:CASCADE"`
	CreatedAt time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time      `gorm:"column:updated_at;autoUpdateTime"`
}

type DeliveryFile struct {
	ID         uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	DeliveryID uint64    `gorm:"column:delivery_id;not null;index"`
	Path       string    `gorm:"column:path;not null"`
	Name       string    `gorm:"column:name;not null"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
}
