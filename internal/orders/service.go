package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/kayakoyan/marketplace-backend/internal/realtime"
	"github.com/kayakoyan/marketplace-backend/pkg/db/models"
	"github.com/kayakoyan/marketplace-backend/pkg/enums"
	pkgerrors "github.com/kayakoyan/marketplace-backend/pkg/errors"
	"github.com/kayakoyan/marketplace-backend/pkg/logger"
	"github.com/kayakoyan/marketplace-backend/pkg/outbox"
	"github.com/kayakoyan/marketplace-backend/pkg/outbox/payloads"
	"github.com/kayakoyan/marketplace-backend/pkg/storage"
)

// ServiceParams wires the order lifecycle service.
type ServiceParams struct {
	Repo        Repository
	Tx          txRunner
	Outbox      outboxEmitter
	Broadcaster Broadcaster
	Chat        ChatPoster
	Uploader    *storage.Uploader
	Metrics     transitionMetrics
	Logger      *logger.Logger
	PaymentTTL  time.Duration
	Now         func() time.Time
}

// Service owns every order status change. Handlers call the role actions;
// the actions funnel into one transition contract.
type Service struct {
	repo        Repository
	tx          txRunner
	outbox      outboxEmitter
	broadcaster Broadcaster
	chat        ChatPoster
	uploader    *storage.Uploader
	metrics     transitionMetrics
	logg        *logger.Logger
	paymentTTL  time.Duration
	now         func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if params.Now == nil {
		params.Now = time.Now
	}
	if params.PaymentTTL <= 0 {
		params.PaymentTTL = 72 * time.Hour
	}
	return &Service{
		repo:        params.Repo,
		tx:          params.Tx,
		outbox:      params.Outbox,
		broadcaster: params.Broadcaster,
		chat:        params.Chat,
		uploader:    params.Uploader,
		metrics:     params.Metrics,
		logg:        params.Logger,
		paymentTTL:  params.PaymentTTL,
		now:         params.Now,
	}, nil
}

// TransitionTo moves the order to target through the transition table.
// On success order reflects the persisted state.
func (s *Service) TransitionTo(ctx context.Context, order *models.Order, target enums.OrderStatus, actor Actor) error {
	plan, err := Plan(order.ListingType(), order.Status, target)
	if err != nil {
		s.observe(order.Status, target, "rejected")
		return err
	}
	return s.commit(ctx, order, plan, actor, transitionOpts{})
}

// MarkPaymentReceived confirms payment. Digital products land directly on
// completed; no intermediate status is ever persisted.
func (s *Service) MarkPaymentReceived(ctx context.Context, order *models.Order, actor Actor) error {
	plan, err := PlanPaymentReceived(order.ListingType(), order.Status)
	if err != nil {
		s.observe(order.Status, enums.OrderStatusPaymentReceived, "rejected")
		return err
	}
	return s.commit(ctx, order, plan, actor, transitionOpts{})
}

type transitionOpts struct {
	// before runs inside the transaction ahead of the status update.
	before func(ctx context.Context, tx *gorm.DB, repo Repository) error
	// after runs once the transaction has committed.
	after  func(ctx context.Context)
	extra  map[string]any
	reason string
}

// commit works on a copy so order is untouched unless the transaction commits.
func (s *Service) commit(ctx context.Context, order *models.Order, plan Transition, actor Actor, opts transitionOpts) error {
	next := *order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if opts.before != nil {
			if err := opts.before(ctx, tx, repo); err != nil {
				return err
			}
		}
		return s.apply(ctx, tx, repo, &next, plan, actor, opts)
	})
	if err != nil {
		return err
	}
	*order = next
	s.afterCommit(ctx, order, plan)
	if opts.after != nil {
		opts.after(ctx)
	}
	return nil
}

// apply persists plan with a compare-and-swap and queues its notifications.
func (s *Service) apply(ctx context.Context, tx *gorm.DB, repo Repository, order *models.Order, plan Transition, actor Actor, opts transitionOpts) error {
	now := s.now().UTC()
	swapped, err := repo.CompareAndSwapStatus(ctx, order.ID, plan.From, plan.To, plan.Stamps(), opts.extra, now)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order status")
	}
	if !swapped {
		s.observe(plan.From, plan.To, "conflict")
		return pkgerrors.New(pkgerrors.CodeConcurrentModification, "order status changed concurrently").
			WithDetails(map[string]any{"expected": plan.From, "target": plan.To})
	}

	order.Status = plan.To
	order.UpdatedAt = now
	for _, stamp := range plan.Stamps() {
		stampOrder(order, stamp, now)
	}
	if opts.reason != "" && plan.To == enums.OrderStatusCancelled {
		reason := opts.reason
		order.CancellationReason = &reason
	}

	for _, ev := range plan.Events() {
		if !s.outbox.TryEmit(ctx, tx, s.domainEvent(order, plan, ev, actor, opts.reason)) && s.metrics != nil {
			s.metrics.IncSideEffectFailure("outbox")
		}
	}
	s.observe(plan.From, plan.To, "ok")
	if s.logg != nil {
		logCtx := s.logg.WithOrderID(ctx, order.ID)
		logCtx = s.logg.WithFields(logCtx, map[string]any{"from": plan.From, "to": plan.To, "actor_id": actor.UserID})
		s.logg.Info(logCtx, "order status changed")
	}
	return nil
}

func stampOrder(order *models.Order, stamp Stamp, now time.Time) {
	t := now
	switch stamp {
	case StampDeliveredAt:
		if order.DeliveredAt == nil {
			order.DeliveredAt = &t
		}
	case StampCompletedAt:
		if order.CompletedAt == nil {
			order.CompletedAt = &t
		}
	case StampCancelledAt:
		if order.CancelledAt == nil {
			order.CancelledAt = &t
		}
	}
}

func (s *Service) domainEvent(order *models.Order, plan Transition, ev PlannedEvent, actor Actor, reason string) outbox.DomainEvent {
	recipients := ev.Recipients
	if ev.ExcludeActor && !actor.IsSystem() {
		if me, ok := ParticipantFor(order, actor.UserID); ok {
			recipients = without(recipients, recipientFor(me.Role))
		}
	}
	data := orderEventPayload(order, recipients)
	data.FromStatus = plan.From
	data.ToStatus = plan.To
	data.Reason = reason
	return outbox.DomainEvent{
		EventType:     ev.Type,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         actorRef(actor),
		Data:          data,
	}
}

func orderEventPayload(order *models.Order, recipients []payloads.Recipient) payloads.OrderEvent {
	data := payloads.OrderEvent{
		OrderID:      order.ID,
		OrderNumber:  order.OrderNumber,
		ListingID:    order.ListingID,
		ListingType:  order.ListingType(),
		CustomerID:   order.CustomerID,
		CustomerName: order.CustomerName(),
		WorkerID:     order.WorkerID,
		WorkerName:   order.WorkerName(),
		ToStatus:     order.Status,
		Recipients:   recipients,
	}
	if order.Listing != nil {
		data.ListingTitle = order.Listing.Title
	}
	return data
}

func without(in []payloads.Recipient, drop payloads.Recipient) []payloads.Recipient {
	out := make([]payloads.Recipient, 0, len(in))
	for _, r := range in {
		if r != drop {
			out = append(out, r)
		}
	}
	return out
}

func actorRef(actor Actor) *outbox.ActorRef {
	if actor.IsSystem() {
		return nil
	}
	return &outbox.ActorRef{UserID: actor.UserID, Role: string(actor.Role)}
}

func (s *Service) afterCommit(ctx context.Context, order *models.Order, plan Transition) {
	if s.broadcaster == nil {
		return
	}
	payload := StatusChanged{
		OrderID:        order.ID,
		PreviousStatus: plan.From,
		Status:         order.Status,
		StatusLabel:    order.Status.Label(),
		StatusColor:    order.Status.Color(),
		ChatEnabled:    order.Status.ChatEnabled(),
	}
	if err := s.broadcaster.Broadcast(ctx, realtime.OrderChatChannel(order.ID), realtime.EventOrderStatusChanged, payload); err != nil {
		if s.metrics != nil {
			s.metrics.IncSideEffectFailure("broadcast")
		}
		if s.logg != nil {
			s.logg.Error(s.logg.WithOrderID(ctx, order.ID), "order status broadcast failed", err)
		}
	}
}

func (s *Service) observe(from, to enums.OrderStatus, result string) {
	if s.metrics != nil {
		s.metrics.ObserveTransition(string(from), string(to), result)
	}
}

func (s *Service) loadOrder(ctx context.Context, orderID uint64) (*models.Order, error) {
	if orderID == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	order, err := s.repo.FindOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}
