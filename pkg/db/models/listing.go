package models

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/kayakoyan/marketplace-backend/pkg/enums"
)

// Listing is a service or digital product offered by a worker.
type Listing struct {
	ID              uint64            `gorm:"column:id;primaryKey;autoIncrement"`
	WorkerID        uint64            `gorm:"column:worker_id;not null;index"`
	Title           string            `gorm:"column:title;not null"`
	Type            enums.ListingType `gorm:"column:type;not null"`
	Price           decimal.Decimal   `gorm:"column:price;type:numeric(12,2);not null"`
	DigitalFilePath *string           `gorm:"column:digital_file_path"`
	IsActive        bool              `gorm:"column:is_active;not null;default:true"`
	Worker          *User             `gorm:"foreignKey:WorkerID"`
	CreatedAt       time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

func (l Listing) IsDigital() bool {
	return l.Type == enums.ListingTypeDigitalProduct
}
