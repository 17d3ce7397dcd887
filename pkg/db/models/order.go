package models

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/kayakoyan/marketplace-backend/pkg/enums"
)

// Order is one purchase of a listing. Status only changes through the
// order state machine; prices are fixed at checkout.
type Order struct {
	ID                 uint64            `gorm:"column:id;primaryKey;autoIncrement"`
	OrderNumber        string            `gorm:"column:order_number;not null;uniqueIndex"`
	ListingID          uint64            `gorm:"column:listing_id;not null;index"`
	CustomerID         uint64            `gorm:"column:customer_id;not null;index"`
	WorkerID           uint64            `gorm:"column:worker_id;not null;index"`
	Quantity           int               `gorm:"column:quantity;not null"`
	UnitPrice          decimal.Decimal   `gorm:"column:unit_price;type:numeric(12,2);not null"`
	TotalPrice         decimal.Decimal   `gorm:"column:total_price;type:numeric(12,2);not null"`
	Status             enums.OrderStatus `gorm:"column:status;not null;default:'pending_payment'"`
	Notes              *string           `gorm:"column:notes"`
	CancellationReason *string           `gorm:"column:cancellation_reason"`
	DeliveredAt        *time.Time        `gorm:"column:delivered_at"`
	CompletedAt        *time.Time        `gorm:"column:completed_at"`
	CancelledAt        *time.Time        `gorm:"column:cancelled_at"`
	ChatStartedAt      *time.Time        `gorm:"column:chat_started_at"`
	Listing            *Listing          `gorm:"foreignKey:ListingID"`
	Customer           *User             `gorm:"foreignKey:CustomerID"`
	Worker             *User             `gorm:"foreignKey:WorkerID"`
	CreatedAt          time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

// ListingType falls back to service when the listing was not preloaded.
func (o Order) ListingType() enums.ListingType {
	if o.Listing != nil && o.Listing.Type.IsValid() {
		return o.Listing.Type
	}
	return enums.ListingTypeService
}

func (o Order) CustomerName() string {
	if o.Customer == nil {
		return ""
	}
	return o.Customer.Name
}

func (o Order) WorkerName() string {
	if o.Worker == nil {
		return ""
	}
	return o.Worker.Name
}
