package enums

import "fmt"

// NotificationType maps to the notification_type column.
type NotificationType string

const (
	NotificationOrderPlaced      NotificationType = "order_placed"
	NotificationPaymentSubmitted NotificationType = "payment_submitted"
	NotificationPaymentVerified  NotificationType = "payment_verified"
	NotificationPaymentRejected  NotificationType = "payment_rejected"
	NotificationWorkStarted      NotificationType = "work_started"
	NotificationWorkDelivered    NotificationType = "work_delivered"
	NotificationOrderCompleted   NotificationType = "order_completed"
	NotificationOrderCancelled   NotificationType = "order_cancelled"
)

var validNotificationTypes = []NotificationType{
	NotificationOrderPlaced,
	NotificationPaymentSubmitted,
	NotificationPaymentVerified,
	NotificationPaymentRejected,
	NotificationWorkStarted,
	NotificationWorkDelivered,
	NotificationOrderCompleted,
	NotificationOrderCancelled,
}

// String implements fmt.Stringer.
func (n NotificationType) String() string {
	return string(n)
}

// IsValid reports whether the value is a known NotificationType.
func (n NotificationType) IsValid() bool {
	for _, candidate := range validNotificationTypes {
		if candidate == n {
			return true
		}
	}
	return false
}

// ParseNotificationType converts raw input into a NotificationType.
func ParseNotificationType(value string) (NotificationType, error) {
	for _, candidate := range validNotificationTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid notification type %q", value)
}
