package models

import "time"

// DigitalDownload is an append-only audit row written per download attempt.
type DigitalDownload struct {
	ID           uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	OrderID      uint64    `gorm:"column:order_id;not null;index"`
	UserID       uint64    `gorm:"column:user_id;not null"`
	DownloadedAt time.Time `gorm:"column:downloaded_at;not null"`
	IPAddress    string    `gorm:"column:ip_address"`
	UserAgent    string    `gorm:"column:user_agent"`
}
