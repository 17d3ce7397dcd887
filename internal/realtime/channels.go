// Package realtime fans events out to websocket and stream subscribers,
// authorizes channel access and tracks who is present in an order's room.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	pkgerrors "github.com/kayakoyan/marketplace-backend/pkg/errors"
)

type ChannelKind string

const (
	KindOrderChat         ChannelKind = "chat"
	KindOrderPresence     ChannelKind = "presence"
	KindUserNotifications ChannelKind = "notifications"
)

// Event names shared by the server and its clients.
const (
	EventMessageSent         = "message.sent"
	EventMessagesRead        = "messages.read"
	EventUnreadUpdated       = "unread.updated"
	EventUserTyping          = "user.typing"
	EventConversationNew     = "conversation.new"
	EventOrderStatusChanged  = "order.status_changed"
	EventNotificationCreated = "notification.created"
	EventPresenceHere        = "presence.here"
	EventPresenceJoining     = "presence.joining"
	EventPresenceLeaving     = "presence.leaving"
)

// Channel is a parsed channel name.
type Channel struct {
	Kind ChannelKind
	ID   uint64
}

func (c Channel) String() string {
	switch c.Kind {
	case KindUserNotifications:
		return UserNotificationsChannel(c.ID)
	case KindOrderPresence:
		return OrderPresenceChannel(c.ID)
	default:
		return OrderChatChannel(c.ID)
	}
}

func (c Channel) IsOrder() bool {
	return c.Kind == KindOrderChat || c.Kind == KindOrderPresence
}

func OrderChatChannel(orderID uint64) string {
	return fmt.Sprintf("order.%d.chat", orderID)
}

func OrderPresenceChannel(orderID uint64) string {
	return fmt.Sprintf("order.%d.presence", orderID)
}

func UserNotificationsChannel(userID uint64) string {
	return fmt.Sprintf("user.%d.notifications", userID)
}

// ParseChannel validates a channel name. The private- and presence- prefixes
// some clients add are accepted and ignored.
func ParseChannel(name string) (Channel, error) {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(name), "private-"), "presence-")
	parts := strings.Split(trimmed, ".")
	if len(parts) != 3 {
		return Channel{}, invalidChannel(name)
	}
	id, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil || id == 0 {
		return Channel{}, invalidChannel(name)
	}
	switch {
	case parts[0] == "order" && parts[2] == string(KindOrderChat):
		return Channel{Kind: KindOrderChat, ID: id}, nil
	case parts[0] == "order" && parts[2] == string(KindOrderPresence):
		return Channel{Kind: KindOrderPresence, ID: id}, nil
	case parts[0] == "user" && parts[2] == string(KindUserNotifications):
		return Channel{Kind: KindUserNotifications, ID: id}, nil
	}
	return Channel{}, invalidChannel(name)
}

func invalidChannel(name string) error {
	return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown channel %q", name))
}

// Event is one message on a channel, as written to clients.
type Event struct {
	Channel string          `json:"channel"`
	Event   string          `json:"event"`
	Data    json.RawMessage `json:"data"`
}

func NewEvent(channel, event string, data any) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, fmt.Errorf("encode %s payload: %w", event, err)
	}
	return Event{Channel: channel, Event: event, Data: raw}, nil
}

// Broadcaster pushes an event to every subscriber of a channel.
type Broadcaster interface {
	Broadcast(ctx context.Context, channel, event string, data any) error
}
