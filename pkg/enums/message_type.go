package enums

import "fmt"

// MessageType classifies chat messages.
type MessageType string

const (
	MessageTypeText           MessageType = "text"
	MessageTypeFile           MessageType = "file"
	MessageTypeDeliveryNotice MessageType = "delivery_notice"
)

var validMessageTypes = []MessageType{
	MessageTypeText,
	MessageTypeFile,
	MessageTypeDeliveryNotice,
}

// String implements fmt.Stringer.
func (m MessageType) String() string {
	return string(m)
}

// IsValid reports whether the value is a known MessageType.
func (m MessageType) IsValid() bool {
	for _, candidate := range validMessageTypes {
		if candidate == m {
			return true
		}
	}
	return false
}

// ParseMessageType converts raw input into a MessageType.
func ParseMessageType(value string) (MessageType, error) {
	for _, candidate := range validMessageTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid message type %q", value)
}
