package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/kayakoyan/marketplace-backend/pkg/db/models"
	"github.com/kayakoyan/marketplace-backend/pkg/enums"
	"github.com/kayakoyan/marketplace-backend/pkg/outbox/payloads"
	"github.com/kayakoyan/marketplace-backend/pkg/outbox/registry"
)

type outcome int

const (
	outcomePublished outcome = iota
	outcomeRetry
	outcomeDeadLetter
)

// processBatch publishes one locked batch in created_at order. Only
// bookkeeping failures abort the transaction; a failed publish is recorded
// on its row and the rest of that order's events wait for the next poll so
// they never overtake it.
func (s *Service) processBatch(ctx context.Context) (bool, error) {
	processed := false
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		events, err := s.repo.FetchUnpublishedForPublish(tx, s.batchSize, s.maxAttempts)
		if err != nil {
			return err
		}
		processed = len(events) > 0
		held := make(map[uint64]struct{})
		for _, event := range events {
			if _, ok := held[event.AggregateID]; ok {
				continue
			}
			result, err := s.dispatch(ctx, tx, event)
			if err != nil {
				return err
			}
			if result == outcomeRetry {
				held[event.AggregateID] = struct{}{}
			}
		}
		return nil
	})
	return processed, err
}

func (s *Service) dispatch(ctx context.Context, tx *gorm.DB, event models.OutboxEvent) (outcome, error) {
	resolved, err := s.registry.Resolve(event)
	if err != nil {
		return outcomeDeadLetter, s.deadLetter(ctx, tx, event, nil, enums.OutboxDLQReasonNonRetryable, err)
	}

	publishErr := s.publish(ctx, event, resolved)
	result := s.classify(event, publishErr)
	switch result {
	case outcomePublished:
		if err := s.repo.MarkPublishedTx(tx, event.ID); err != nil {
			return result, fmt.Errorf("mark published %s: %w", event.ID, err)
		}
		s.logg.Info(s.logg.WithFields(ctx, orderEventFields(event, resolved)), "order event published")
		return result, nil
	case outcomeDeadLetter:
		reason := enums.OutboxDLQReasonNonRetryable
		var nonRetry registry.NonRetryableError
		if !errors.As(publishErr, &nonRetry) {
			reason = enums.OutboxDLQReasonMaxAttempts
			publishErr = fmt.Errorf("max publish attempts reached: %w", publishErr)
		}
		return result, s.deadLetter(ctx, tx, event, resolved, reason, publishErr)
	}

	logCtx := s.logg.WithFields(ctx, orderEventFields(event, resolved))
	logCtx = s.logg.WithField(logCtx, "error", publishErr.Error())
	s.logg.Warn(logCtx, "order event publish failed, will retry")
	if err := s.repo.MarkFailedTx(tx, event.ID, publishErr); err != nil {
		return result, fmt.Errorf("mark failure %s: %w", event.ID, err)
	}
	return result, nil
}

// classify decides what happens to a row after a publish attempt. The row's
// attempt count has not been bumped yet, so this attempt is AttemptCount+1.
func (s *Service) classify(event models.OutboxEvent, publishErr error) outcome {
	if publishErr == nil {
		return outcomePublished
	}
	var nonRetry registry.NonRetryableError
	if errors.As(publishErr, &nonRetry) {
		return outcomeDeadLetter
	}
	if event.AttemptCount+1 >= s.maxAttempts {
		return outcomeDeadLetter
	}
	return outcomeRetry
}

// deadLetter copies the row into outbox_dlq and stops it from being fetched
// again. resolved is nil when the row could not be decoded.
func (s *Service) deadLetter(ctx context.Context, tx *gorm.DB, event models.OutboxEvent, resolved *registry.ResolvedEvent, reason enums.OutboxDLQErrorReason, cause error) error {
	logCtx := s.logg.WithFields(ctx, orderEventFields(event, resolved))
	logCtx = s.logg.WithFields(logCtx, map[string]any{
		"error_reason": reason,
		"error":        cause.Error(),
	})
	s.logg.Warn(logCtx, "order event dead-lettered")

	message := cause.Error()
	entry := models.OutboxDLQ{
		EventID:       event.ID,
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Payload:       event.Payload,
		ErrorReason:   reason,
		ErrorMessage:  &message,
		AttemptCount:  event.AttemptCount,
		FailedAt:      time.Now().UTC(),
	}
	if err := s.dlq.InsertTx(tx, entry); err != nil {
		return fmt.Errorf("insert dlq %s: %w", event.ID, err)
	}
	if err := s.repo.MarkTerminalTx(tx, event.ID, cause, s.maxAttempts); err != nil {
		return fmt.Errorf("mark terminal %s: %w", event.ID, err)
	}
	return nil
}

func (s *Service) publish(ctx context.Context, event models.OutboxEvent, resolved *registry.ResolvedEvent) error {
	topic := resolved.Descriptor.Topic
	pub := s.publisherFor(topic)
	if pub == nil {
		return registry.NewNonRetryableError(fmt.Errorf("publisher not configured for topic %s", topic))
	}

	publishCtx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
	defer cancel()
	result := pub.Publish(publishCtx, orderMessage(event, resolved))
	if result == nil {
		return registry.NewNonRetryableError(fmt.Errorf("publisher returned nil for topic %s", topic))
	}
	_, err := result.Get(publishCtx)
	return err
}

// orderEventFields are the log fields for one outbox row. attempt counts the
// publish attempt in progress.
func orderEventFields(event models.OutboxEvent, resolved *registry.ResolvedEvent) map[string]any {
	fields := map[string]any{
		"outbox_id":  event.ID.String(),
		"event_type": event.EventType,
		"order_id":   event.AggregateID,
		"attempt":    event.AttemptCount + 1,
	}
	if event.LastError != nil {
		fields["last_error"] = *event.LastError
	}
	if resolved == nil {
		return fields
	}
	fields["topic"] = resolved.Descriptor.Topic
	if resolved.Envelope.EventID != "" {
		fields["event_id"] = resolved.Envelope.EventID
		fields["occurred_at"] = resolved.Envelope.OccurredAt.Format(time.RFC3339Nano)
	}
	if actor := resolved.Envelope.Actor; actor != nil {
		fields["actor_id"] = actor.UserID
		fields["actor_role"] = actor.Role
	}
	if order, ok := resolved.Payload.(*payloads.OrderEvent); ok && order != nil {
		if order.OrderNumber != "" {
			fields["order_number"] = order.OrderNumber
		}
		if order.FromStatus != "" {
			fields["from_status"] = order.FromStatus
		}
		if order.ToStatus != "" {
			fields["to_status"] = order.ToStatus
		}
	}
	return fields
}
