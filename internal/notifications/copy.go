package notifications

import (
	"fmt"
	"strings"

	"github.com/kayakoyan/marketplace-backend/pkg/enums"
	"github.com/kayakoyan/marketplace-backend/pkg/outbox/payloads"
)

// Message is the rendered text of one notification for one recipient.
type Message struct {
	Type    enums.NotificationType
	Title   string
	Message string
	Link    string
}

// Render builds the notification a recipient sees for an order event. The
// bool is false when the event carries nothing for that recipient.
func Render(eventType enums.OutboxEventType, ev payloads.OrderEvent, recipientID uint64) (Message, bool) {
	asCustomer := recipientID == ev.CustomerID
	asWorker := recipientID == ev.WorkerID
	if !asCustomer && !asWorker {
		return Message{}, false
	}
	link := fmt.Sprintf("/orders/%d", ev.OrderID)
	if asWorker {
		link = fmt.Sprintf("/worker/orders/%d", ev.OrderID)
	}
	digital := ev.ListingType == enums.ListingTypeDigitalProduct

	var m Message
	switch eventType {
	case enums.EventOrderCreated:
		m = Message{
			Type:    enums.NotificationOrderPlaced,
			Title:   "New order",
			Message: fmt.Sprintf("%s placed order %s for %s.", orAnon(ev.CustomerName), ev.OrderNumber, ev.ListingTitle),
		}
	case enums.EventOrderPaymentSubmitted:
		m = Message{
			Type:    enums.NotificationPaymentSubmitted,
			Title:   "Payment submitted",
			Message: fmt.Sprintf("%s submitted payment for order %s. Please review it.", orAnon(ev.CustomerName), ev.OrderNumber),
		}
	case enums.EventOrderPaymentVerified:
		m = Message{Type: enums.NotificationPaymentVerified, Title: "Payment verified"}
		if digital {
			m.Title = "Your download is ready"
			m.Message = fmt.Sprintf("Payment for order %s was verified. Your download of %s is ready.", ev.OrderNumber, ev.ListingTitle)
		} else {
			m.Message = fmt.Sprintf("Payment for order %s was verified. %s will start soon.", ev.OrderNumber, orWorker(ev.WorkerName))
		}
	case enums.EventOrderPaymentRejected:
		m = Message{
			Type:    enums.NotificationPaymentRejected,
			Title:   "Payment rejected",
			Message: withReason(fmt.Sprintf("Payment for order %s was rejected", ev.OrderNumber), ev.Reason) + " Please submit a new payment.",
		}
	case enums.EventOrderWorkStarted:
		m = Message{
			Type:    enums.NotificationWorkStarted,
			Title:   "Work started",
			Message: fmt.Sprintf("%s started working on order %s.", orWorker(ev.WorkerName), ev.OrderNumber),
		}
	case enums.EventOrderDelivered:
		m = Message{
			Type:    enums.NotificationWorkDelivered,
			Title:   "Order delivered",
			Message: fmt.Sprintf("%s delivered order %s. Please review the delivery.", orWorker(ev.WorkerName), ev.OrderNumber),
		}
	case enums.EventOrderCompleted:
		m = Message{Type: enums.NotificationOrderCompleted, Title: "Order completed"}
		if asWorker {
			m.Message = fmt.Sprintf("Order %s for %s is complete.", ev.OrderNumber, ev.ListingTitle)
		} else {
			m.Message = fmt.Sprintf("Order %s is complete. Thank you for your purchase.", ev.OrderNumber)
		}
	case enums.EventOrderCancelled:
		m = Message{
			Type:    enums.NotificationOrderCancelled,
			Title:   "Order cancelled",
			Message: withReason(fmt.Sprintf("Order %s was cancelled", ev.OrderNumber), ev.Reason),
		}
	default:
		return Message{}, false
	}
	m.Link = link
	return m, true
}

func withReason(base, reason string) string {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return base + "."
	}
	return base + ". Reason: " + strings.TrimSuffix(reason, ".") + "."
}

func orAnon(name string) string {
	if strings.TrimSpace(name) == "" {
		return "A customer"
	}
	return name
}

func orWorker(name string) string {
	if strings.TrimSpace(name) == "" {
		return "The worker"
	}
	return name
}
