package models

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/kayakoyan/marketplace-backend/pkg/enums"
)

// Payment is a proof-of-payment submission. The most recent row per order
// is the one that gates order progress.
type Payment struct {
	ID              uint64              `gorm:"column:id;primaryKey;autoIncrement"`
	OrderID         uint64              `gorm:"column:order_id;not null;index"`
	Method          enums.PaymentMethod `gorm:"column:method;not null"`
	Amount          decimal.Decimal     `gorm:"column:amount;type:numeric(12,2);not null"`
	ReferenceNumber string              `gorm:"column:reference_number;not null"`
	ProofPath       string              `gorm:"column:proof_path;not null"`
	Status          enums.PaymentStatus `gorm:"column:status;not null;default:'pending'"`
	RejectedReason  *string             `gorm:"column:rejected_reason"`
	VerifiedAt      *time.Time          `gorm:"column:verified_at"`
	CreatedAt       time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}
