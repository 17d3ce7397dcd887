package notifications

import (
	"context"
	"encoding/json"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/kayakoyan/marketplace-backend/internal/realtime"
	"github.com/kayakoyan/marketplace-backend/pkg/db/models"
	"github.com/kayakoyan/marketplace-backend/pkg/enums"
	"github.com/kayakoyan/marketplace-backend/pkg/logger"
	"github.com/kayakoyan/marketplace-backend/pkg/outbox/idempotency"
	"github.com/kayakoyan/marketplace-backend/pkg/outbox/payloads"
	"github.com/kayakoyan/marketplace-backend/pkg/outbox/registry"
)

const orderNotificationConsumer = "order-notifications"

type writer interface {
	Create(ctx context.Context, notification *models.Notification) (bool, error)
}

// ConsumerParams wires the order notification consumer.
type ConsumerParams struct {
	Repo         writer
	Subscription *pubsub.Subscriber
	Idempotency  *idempotency.Manager
	Broadcaster  realtime.Broadcaster
	Logger       *logger.Logger
}

// Consumer turns order lifecycle events into in-app notifications and pushes
// each one to its recipient's private channel.
type Consumer struct {
	repo         writer
	subscription *pubsub.Subscriber
	idempotency  *idempotency.Manager
	broadcast    realtime.Broadcaster
	logg         *logger.Logger
}

// NewConsumer builds an order notification consumer.
func NewConsumer(params ConsumerParams) (*Consumer, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("notifications repository required")
	}
	if params.Subscription == nil {
		return nil, fmt.Errorf("notification subscription required")
	}
	if params.Idempotency == nil {
		return nil, fmt.Errorf("idempotency manager required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{
		repo:         params.Repo,
		subscription: params.Subscription,
		idempotency:  params.Idempotency,
		broadcast:    params.Broadcaster,
		logg:         params.Logger,
	}, nil
}

// Run starts the consumer loop until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		result := c.process(ctx, msg)
		if result.nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

type processResult struct {
	ack  bool
	nack bool
}

func (c *Consumer) process(ctx context.Context, msg *pubsub.Message) processResult {
	eventType := msg.Attributes["event_type"]
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"message_id": msg.ID,
		"event_type": eventType,
	})

	kind, err := enums.ParseOutboxEventType(eventType)
	if err != nil {
		c.logg.Info(logCtx, "skipping unknown event")
		return processResult{ack: true}
	}

	envelope, err := registry.DecodeEnvelope(msg.Data)
	if err != nil {
		c.logg.Error(logCtx, "failed to decode envelope", err)
		return processResult{ack: true}
	}
	eventID, err := uuid.Parse(envelope.EventID)
	if err != nil {
		c.logg.Error(logCtx, "invalid event id", err)
		return processResult{ack: true}
	}
	var payload payloads.OrderEvent
	if err := json.Unmarshal(envelope.Data, &payload); err != nil {
		c.logg.Error(logCtx, "failed to parse payload", err)
		return processResult{ack: true}
	}
	logCtx = c.logg.WithOrderID(logCtx, payload.OrderID)

	first, err := c.idempotency.Once(logCtx, orderNotificationConsumer, eventID, func(ctx context.Context) error {
		return c.notify(ctx, kind, envelope.EventID, payload)
	})
	if err != nil {
		c.logg.Error(logCtx, "notification handling failed", err)
		return processResult{nack: true}
	}
	if !first {
		c.logg.Info(logCtx, "event already processed")
	}
	return processResult{ack: true}
}

func (c *Consumer) notify(ctx context.Context, kind enums.OutboxEventType, eventID string, payload payloads.OrderEvent) error {
	recipients := payload.RecipientIDs()
	if len(recipients) == 0 {
		c.logg.Info(ctx, "event has no recipients")
		return nil
	}
	for _, userID := range recipients {
		rendered, ok := Render(kind, payload, userID)
		if !ok {
			continue
		}
		orderID := payload.OrderID
		notification := &models.Notification{
			UserID:  userID,
			OrderID: &orderID,
			EventID: &eventID,
			Type:    rendered.Type,
			Title:   rendered.Title,
			Message: rendered.Message,
			Link:    stringPtr(rendered.Link),
		}
		created, err := c.repo.Create(ctx, notification)
		if err != nil {
			return fmt.Errorf("create notification for user %d: %w", userID, err)
		}
		if !created {
			continue
		}
		c.push(ctx, notification)
	}
	return nil
}

// push is best effort; the row is already stored and the list endpoint serves it.
func (c *Consumer) push(ctx context.Context, n *models.Notification) {
	if c.broadcast == nil {
		return
	}
	if err := c.broadcast.Broadcast(ctx, realtime.UserNotificationsChannel(n.UserID), realtime.EventNotificationCreated, NewView(*n)); err != nil {
		c.logg.Warn(c.logg.WithUserID(ctx, n.UserID), "notification push failed: "+err.Error())
	}
}

func stringPtr(value string) *string {
	return &value
}
