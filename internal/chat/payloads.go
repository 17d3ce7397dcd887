package chat

import (
	"time"

	"github.com/kayakoyan/marketplace-backend/pkg/db/models"
	"github.com/kayakoyan/marketplace-backend/pkg/enums"
)

// MessagePayload is the wire form of a chat message, used by message.sent,
// the thread endpoint and the stream.
type MessagePayload struct {
	ID         uint64            `json:"id"`
	SenderID   uint64            `json:"sender_id"`
	SenderName string            `json:"sender_name"`
	Message    *string           `json:"message"`
	Type       enums.MessageType `json:"type"`
	FilePath   *string           `json:"file_path"`
	FileName   *string           `json:"file_name"`
	FileURL    *string           `json:"file_url"`
	CreatedAt  time.Time         `json:"created_at"`
	ReadAt     *time.Time        `json:"read_at"`
}

type ReadReceipt struct {
	ReaderID   uint64    `json:"reader_id"`
	ReaderName string    `json:"reader_name"`
	MessageIDs []uint64  `json:"message_ids"`
	ReadAt     time.Time `json:"read_at"`
}

type UnreadUpdated struct {
	Count int64 `json:"count"`
}

type TypingPayload struct {
	UserID   uint64 `json:"user_id"`
	UserName string `json:"user_name"`
	IsTyping bool   `json:"is_typing"`
}

// ConversationNew is pushed to the worker when a customer opens a thread.
type ConversationNew struct {
	ID             uint64            `json:"id"`
	CustomerID     uint64            `json:"customer_id"`
	CustomerName   string            `json:"customer_name"`
	CustomerAvatar *string           `json:"customer_avatar"`
	OrderNumber    string            `json:"order_number"`
	Status         enums.OrderStatus `json:"status"`
	StatusColor    string            `json:"status_color"`
	ChatEnabled    bool              `json:"chat_enabled"`
	UnreadCount    int64             `json:"unread_count"`
	LastMessage    *MessagePayload   `json:"last_message"`
	Messages       []MessagePayload  `json:"messages"`
}

type Counterparty struct {
	ID     uint64         `json:"id"`
	Name   string         `json:"name"`
	Role   enums.UserRole `json:"role"`
	Avatar *string        `json:"avatar"`
}

// Conversation is one row of the inbox.
type Conversation struct {
	ID           uint64            `json:"id"`
	OrderNumber  string            `json:"order_number"`
	ListingTitle string            `json:"listing_title"`
	Status       enums.OrderStatus `json:"status"`
	StatusLabel  string            `json:"status_label"`
	StatusColor  string            `json:"status_color"`
	ChatEnabled  bool              `json:"chat_enabled"`
	UnreadCount  int64             `json:"unread_count"`
	LastMessage  *MessagePayload   `json:"last_message"`
	Counterparty Counterparty      `json:"counterparty"`
}

// Thread is the full message history of an order.
type Thread struct {
	OrderID      uint64            `json:"order_id"`
	OrderNumber  string            `json:"order_number"`
	Status       enums.OrderStatus `json:"status"`
	StatusLabel  string            `json:"status_label"`
	ChatEnabled  bool              `json:"chat_enabled"`
	Counterparty Counterparty      `json:"counterparty"`
	Messages     []MessagePayload  `json:"messages"`
}

func (s *Service) messagePayload(msg *models.ChatMessage, senderName string) MessagePayload {
	if senderName == "" && msg.Sender != nil {
		senderName = msg.Sender.Name
	}
	p := MessagePayload{
		ID:         msg.ID,
		SenderID:   msg.SenderID,
		SenderName: senderName,
		Message:    msg.Message,
		Type:       msg.Type,
		FilePath:   msg.FilePath,
		FileName:   msg.FileName,
		CreatedAt:  msg.CreatedAt,
		ReadAt:     msg.ReadAt,
	}
	if msg.FilePath != nil && *msg.FilePath != "" && s.uploader != nil {
		url := s.uploader.Store().URL(*msg.FilePath)
		p.FileURL = &url
	}
	return p
}

func (s *Service) encode(msg *models.ChatMessage) MessagePayload {
	return s.messagePayload(msg, "")
}

// senderName resolves a message author from the order's participants.
func senderName(order *models.Order, senderID uint64) string {
	switch senderID {
	case order.CustomerID:
		return order.CustomerName()
	case order.WorkerID:
		return order.WorkerName()
	}
	return ""
}
