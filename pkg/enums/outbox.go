package enums

import "fmt"

// OutboxEventType maps to the event_type column of outbox_events.
type OutboxEventType string

const (
	EventOrderCreated          OutboxEventType = "order.created"
	EventOrderPaymentSubmitted OutboxEventType = "order.payment_submitted"
	EventOrderPaymentVerified  OutboxEventType = "order.payment_verified"
	EventOrderPaymentRejected  OutboxEventType = "order.payment_rejected"
	EventOrderWorkStarted      OutboxEventType = "order.work_started"
	EventOrderDelivered        OutboxEventType = "order.delivered"
	EventOrderCompleted        OutboxEventType = "order.completed"
	EventOrderCancelled        OutboxEventType = "order.cancelled"
)

var validOutboxEventTypes = []OutboxEventType{
	EventOrderCreated,
	EventOrderPaymentSubmitted,
	EventOrderPaymentVerified,
	EventOrderPaymentRejected,
	EventOrderWorkStarted,
	EventOrderDelivered,
	EventOrderCompleted,
	EventOrderCancelled,
}

// String implements fmt.Stringer.
func (o OutboxEventType) String() string {
	return string(o)
}

// IsValid reports whether the value is a known OutboxEventType.
func (o OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == o {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into a OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}

// OutboxEventTypes lists every event type the outbox can carry.
func OutboxEventTypes() []OutboxEventType {
	return append([]OutboxEventType(nil), validOutboxEventTypes...)
}
