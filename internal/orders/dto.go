package orders

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/kayakoyan/marketplace-backend/pkg/db/models"
	"github.com/kayakoyan/marketplace-backend/pkg/enums"
	"github.com/kayakoyan/marketplace-backend/pkg/pagination"
)

type ListingRef struct {
	ID    uint64            `json:"id"`
	Title string            `json:"title"`
	Type  enums.ListingType `json:"type"`
}

type UserRef struct {
	ID   uint64 `json:"id"`
	Name string `json:"name"`
}

// OrderView is the API representation of an order.
type OrderView struct {
	ID                 uint64              `json:"id"`
	OrderNumber        string              `json:"order_number"`
	Status             enums.OrderStatus   `json:"status"`
	StatusLabel        string              `json:"status_label"`
	StatusColor        string              `json:"status_color"`
	ChatEnabled        bool                `json:"chat_enabled"`
	NextStatuses       []enums.OrderStatus `json:"next_statuses"`
	Listing            ListingRef          `json:"listing"`
	Customer           UserRef             `json:"customer"`
	Worker             UserRef             `json:"worker"`
	Quantity           int                 `json:"quantity"`
	UnitPrice          decimal.Decimal     `json:"unit_price"`
	TotalPrice         decimal.Decimal     `json:"total_price"`
	Notes              *string             `json:"notes,omitempty"`
	CancellationReason *string             `json:"cancellation_reason,omitempty"`
	DeliveredAt        *time.Time          `json:"delivered_at"`
	CompletedAt        *time.Time          `json:"completed_at"`
	CancelledAt        *time.Time          `json:"cancelled_at"`
	CreatedAt          time.Time           `json:"created_at"`
}

type PaymentView struct {
	ID              uint64              `json:"id"`
	Method          enums.PaymentMethod `json:"method"`
	Amount          decimal.Decimal     `json:"amount"`
	ReferenceNumber string              `json:"reference_number"`
	ProofURL        string              `json:"proof_url"`
	Status          enums.PaymentStatus `json:"status"`
	RejectedReason  *string             `json:"rejected_reason,omitempty"`
	VerifiedAt      *time.Time          `json:"verified_at"`
	CreatedAt       time.Time           `json:"created_at"`
}

type DeliveryFileView struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

type DeliveryView struct {
	Message   string             `json:"message"`
	Files     []DeliveryFileView `json:"files"`
	CreatedAt time.Time          `json:"created_at"`
}

// OrderDetail adds the latest payment and the delivery to an OrderView.
type OrderDetail struct {
	OrderView
	Payment  *PaymentView  `json:"payment"`
	Delivery *DeliveryView `json:"delivery"`
}

// StatusChanged is broadcast on the order's chat channel after a transition commits.
type StatusChanged struct {
	OrderID        uint64            `json:"order_id"`
	PreviousStatus enums.OrderStatus `json:"previous_status"`
	Status         enums.OrderStatus `json:"status"`
	StatusLabel    string            `json:"status_label"`
	StatusColor    string            `json:"status_color"`
	ChatEnabled    bool              `json:"chat_enabled"`
}

func NewOrderView(order *models.Order) OrderView {
	view := OrderView{
		ID:                 order.ID,
		OrderNumber:        order.OrderNumber,
		Status:             order.Status,
		StatusLabel:        order.Status.Label(),
		StatusColor:        order.Status.Color(),
		ChatEnabled:        order.Status.ChatEnabled(),
		NextStatuses:       NextStatuses(order.ListingType(), order.Status),
		Customer:           UserRef{ID: order.CustomerID, Name: order.CustomerName()},
		Worker:             UserRef{ID: order.WorkerID, Name: order.WorkerName()},
		Quantity:           order.Quantity,
		UnitPrice:          order.UnitPrice,
		TotalPrice:         order.TotalPrice,
		Notes:              order.Notes,
		CancellationReason: order.CancellationReason,
		DeliveredAt:        order.DeliveredAt,
		CompletedAt:        order.CompletedAt,
		CancelledAt:        order.CancelledAt,
		CreatedAt:          order.CreatedAt,
	}
	if view.NextStatuses == nil {
		view.NextStatuses = []enums.OrderStatus{}
	}
	view.Listing = ListingRef{ID: order.ListingID, Type: order.ListingType()}
	if order.Listing != nil {
		view.Listing.Title = order.Listing.Title
	}
	return view
}

func orderCursor(v OrderView) pagination.Cursor {
	return pagination.Cursor{CreatedAt: v.CreatedAt, ID: v.ID}
}
