package payloads

import (
	"github.com/kayakoyan/marketplace-backend/pkg/enums"
)

// Recipient names which participant of an order should be told about an event.
type Recipient string

const (
	RecipientCustomer Recipient = "customer"
	RecipientWorker   Recipient = "worker"
)

// OrderEvent is the payload of every order.* event. Names are denormalized so
// consumers can render notifications without reading the orders tables.
type OrderEvent struct {
	OrderID      uint64            `json:"orderId"`
	OrderNumber  string            `json:"orderNumber"`
	ListingID    uint64            `json:"listingId"`
	ListingTitle string            `json:"listingTitle"`
	ListingType  enums.ListingType `json:"listingType"`
	CustomerID   uint64            `json:"customerId"`
	CustomerName string            `json:"customerName"`
	WorkerID     uint64            `json:"workerId"`
	WorkerName   string            `json:"workerName"`
	FromStatus   enums.OrderStatus `json:"fromStatus,omitempty"`
	ToStatus     enums.OrderStatus `json:"toStatus"`
	Recipients   []Recipient       `json:"recipients"`
	Reason       string            `json:"reason,omitempty"`
}

// RecipientIDs resolves the recipient roles to user IDs, skipping duplicates.
func (e OrderEvent) RecipientIDs() []uint64 {
	out := make([]uint64, 0, len(e.Recipients))
	seen := make(map[uint64]struct{}, len(e.Recipients))
	for _, r := range e.Recipients {
		var id uint64
		switch r {
		case RecipientCustomer:
			id = e.CustomerID
		case RecipientWorker:
			id = e.WorkerID
		}
		if id == 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
