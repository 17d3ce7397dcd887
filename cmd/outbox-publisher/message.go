package main

import (
	"context"
	"errors"
	"strconv"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"

	"github.com/kayakoyan/marketplace-backend/pkg/db/models"
	"github.com/kayakoyan/marketplace-backend/pkg/outbox/payloads"
	"github.com/kayakoyan/marketplace-backend/pkg/outbox/registry"
)

type publisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
}

type publishResult interface {
	Get(context.Context) (string, error)
}

// orderingKey groups every event of one order so subscribers that enable
// ordering see an order's transitions in the sequence they were written.
func orderingKey(orderID uint64) string {
	return "order-" + strconv.FormatUint(orderID, 10)
}

// orderMessage wraps the stored envelope unchanged and lifts the routing
// details consumers filter on into attributes.
func orderMessage(event models.OutboxEvent, resolved *registry.ResolvedEvent) *gcppubsub.Message {
	attrs := map[string]string{
		"event_id":       resolved.Envelope.EventID,
		"event_type":     string(event.EventType),
		"aggregate_type": string(event.AggregateType),
		"order_id":       strconv.FormatUint(event.AggregateID, 10),
		"created_at":     event.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if order, ok := resolved.Payload.(*payloads.OrderEvent); ok && order != nil {
		if order.OrderNumber != "" {
			attrs["order_number"] = order.OrderNumber
		}
		if order.FromStatus != "" {
			attrs["from_status"] = string(order.FromStatus)
		}
		if order.ToStatus != "" {
			attrs["to_status"] = string(order.ToStatus)
		}
	}
	return &gcppubsub.Message{
		Data:        event.Payload,
		Attributes:  attrs,
		OrderingKey: orderingKey(event.AggregateID),
	}
}

// newOrderedPublisher enables message ordering on p. A failed publish pauses
// its ordering key inside the client; the result resumes it so the row's
// retry on the next poll is not rejected outright.
func newOrderedPublisher(p *gcppubsub.Publisher) publisher {
	if p == nil {
		return nil
	}
	p.EnableMessageOrdering = true
	return &gcpPublisher{Publisher: p}
}

type gcpPublisher struct {
	*gcppubsub.Publisher
}

func (p *gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	if p == nil || p.Publisher == nil {
		return nil
	}
	return &gcpPublishResult{
		PublishResult: p.Publisher.Publish(ctx, msg),
		resume:        func() { p.Publisher.ResumePublish(msg.OrderingKey) },
	}
}

type gcpPublishResult struct {
	*gcppubsub.PublishResult
	resume func()
}

func (r *gcpPublishResult) Get(ctx context.Context) (string, error) {
	if r == nil || r.PublishResult == nil {
		return "", errors.New("publish result is nil")
	}
	id, err := r.PublishResult.Get(ctx)
	if err != nil && r.resume != nil {
		r.resume()
	}
	return id, err
}
