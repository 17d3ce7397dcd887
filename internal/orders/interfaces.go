package orders

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/kayakoyan/marketplace-backend/pkg/db/models"
	"github.com/kayakoyan/marketplace-backend/pkg/enums"
	"github.com/kayakoyan/marketplace-backend/pkg/outbox"
	"github.com/kayakoyan/marketplace-backend/pkg/pagination"
)

// Repository defines persistence operations for orders and their satellites.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindListing(ctx context.Context, listingID uint64) (*models.Listing, error)
	CreateOrder(ctx context.Context, order *models.Order) error
	FindOrder(ctx context.Context, orderID uint64) (*models.Order, error)
	CompareAndSwapStatus(ctx context.Context, orderID uint64, from, to enums.OrderStatus, stamps []Stamp, extra map[string]any, now time.Time) (bool, error)
	ListOrders(ctx context.Context, filter ListFilter, params pagination.Params) ([]models.Order, error)
	FindPendingPaymentBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error)
	CreatePayment(ctx context.Context, payment *models.Payment) error
	LatestPayment(ctx context.Context, orderID uint64) (*models.Payment, error)
	UpdatePayment(ctx context.Context, paymentID uint64, updates map[string]any) error
	CreateDelivery(ctx context.Context, delivery *models.Delivery) error
	FindDelivery(ctx context.Context, orderID uint64) (*models.Delivery, error)
	CreateDownload(ctx context.Context, download *models.DigitalDownload) error
	OrderParticipants(ctx context.Context, orderID uint64) (customerID, workerID uint64, err error)
}

// ListFilter narrows ListOrders to one side of the marketplace.
type ListFilter struct {
	Role   enums.UserRole
	UserID uint64
	Status *enums.OrderStatus
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	TryEmit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) bool
}

// Broadcaster pushes realtime events to subscribers of a channel.
type Broadcaster interface {
	Broadcast(ctx context.Context, channel, event string, data any) error
}

// ChatPoster lets the delivery action drop a notice into the order's thread.
type ChatPoster interface {
	PostDeliveryNotice(ctx context.Context, tx *gorm.DB, order *models.Order, text string) (*models.ChatMessage, error)
	AnnounceMessage(ctx context.Context, order *models.Order, message *models.ChatMessage)
}

type transitionMetrics interface {
	ObserveTransition(from, to, result string)
	IncSideEffectFailure(effect string)
}
