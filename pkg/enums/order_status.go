package enums

import "fmt"

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusPendingPayment   OrderStatus = "pending_payment"
	OrderStatusPaymentSubmitted OrderStatus = "payment_submitted"
	OrderStatusPaymentReceived  OrderStatus = "payment_received"
	OrderStatusInProgress       OrderStatus = "in_progress"
	OrderStatusDelivered        OrderStatus = "delivered"
	OrderStatusCompleted        OrderStatus = "completed"
	OrderStatusCancelled        OrderStatus = "cancelled"
)

var validOrderStatuses = []OrderStatus{
	OrderStatusPendingPayment,
	OrderStatusPaymentSubmitted,
	OrderStatusPaymentReceived,
	OrderStatusInProgress,
	OrderStatusDelivered,
	OrderStatusCompleted,
	OrderStatusCancelled,
}

var orderStatusLabels = map[OrderStatus]string{
	OrderStatusPendingPayment:   "Pending Payment",
	OrderStatusPaymentSubmitted: "Payment Submitted",
	OrderStatusPaymentReceived:  "Payment Received",
	OrderStatusInProgress:       "In Progress",
	OrderStatusDelivered:        "Delivered",
	OrderStatusCompleted:        "Completed",
	OrderStatusCancelled:        "Cancelled",
}

// badge colors used by the chat and order UIs
var orderStatusColors = map[OrderStatus]string{
	OrderStatusPendingPayment:   "warning",
	OrderStatusPaymentSubmitted: "info",
	OrderStatusPaymentReceived:  "primary",
	OrderStatusInProgress:       "primary",
	OrderStatusDelivered:        "success",
	OrderStatusCompleted:        "success",
	OrderStatusCancelled:        "danger",
}

// OrderStatuses returns every known status in lifecycle order.
func OrderStatuses() []OrderStatus {
	out := make([]OrderStatus, len(validOrderStatuses))
	copy(out, validOrderStatuses)
	return out
}

// String implements fmt.Stringer.
func (o OrderStatus) String() string {
	return string(o)
}

// IsValid reports whether the value is a known OrderStatus.
func (o OrderStatus) IsValid() bool {
	_, ok := orderStatusLabels[o]
	return ok
}

// IsTerminal reports whether no further transitions are possible.
func (o OrderStatus) IsTerminal() bool {
	return o == OrderStatusCompleted || o == OrderStatusCancelled
}

// ChatEnabled reports whether participants may still exchange messages.
func (o OrderStatus) ChatEnabled() bool {
	return o.IsValid() && !o.IsTerminal()
}

func (o OrderStatus) Label() string {
	if label, ok := orderStatusLabels[o]; ok {
		return label
	}
	return string(o)
}

func (o OrderStatus) Color() string {
	if color, ok := orderStatusColors[o]; ok {
		return color
	}
	return "gray"
}

// ParseOrderStatus converts raw input into an OrderStatus.
func ParseOrderStatus(value string) (OrderStatus, error) {
	for _, candidate := range validOrderStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid order status %q", value)
}
