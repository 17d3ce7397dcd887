package orders

import (
	"fmt"

	"github.com/kayakoyan/marketplace-backend/pkg/enums"
	pkgerrors "github.com/kayakoyan/marketplace-backend/pkg/errors"
	"github.com/kayakoyan/marketplace-backend/pkg/outbox/payloads"
)

// Stamp names a nullable timestamp column set on entering a status.
type Stamp string

const (
	StampDeliveredAt Stamp = "delivered_at"
	StampCompletedAt Stamp = "completed_at"
	StampCancelledAt Stamp = "cancelled_at"
)

// PlannedEvent is a notification the transition asks to enqueue.
type PlannedEvent struct {
	Type       enums.OutboxEventType
	Recipients []payloads.Recipient
	// ExcludeActor drops the acting participant from Recipients.
	ExcludeActor bool
}

// Step is one edge of the graph together with its effects.
type Step struct {
	From   enums.OrderStatus
	To     enums.OrderStatus
	Stamps []Stamp
	Events []PlannedEvent
}

// Transition is the verdict of planning a status change. Steps has more than
// one entry only for explicit chains.
type Transition struct {
	From  enums.OrderStatus
	To    enums.OrderStatus
	Steps []Step
}

// Stamps merges the stamps of every step in order, without duplicates.
func (t Transition) Stamps() []Stamp {
	var out []Stamp
	seen := map[Stamp]bool{}
	for _, step := range t.Steps {
		for _, s := range step.Stamps {
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	return out
}

func (t Transition) Events() []PlannedEvent {
	var out []PlannedEvent
	for _, step := range t.Steps {
		out = append(out, step.Events...)
	}
	return out
}

var (
	toCustomer = []payloads.Recipient{payloads.RecipientCustomer}
	toWorker   = []payloads.Recipient{payloads.RecipientWorker}
	toBoth     = []payloads.Recipient{payloads.RecipientCustomer, payloads.RecipientWorker}
)

type edgeKey struct {
	from enums.OrderStatus
	to   enums.OrderStatus
}

type edge struct {
	stamps []Stamp
	events []PlannedEvent
}

var cancelEdge = edge{
	stamps: []Stamp{StampCancelledAt},
	events: []PlannedEvent{{Type: enums.EventOrderCancelled, Recipients: toBoth, ExcludeActor: true}},
}

var sharedEdges = map[edgeKey]edge{
	{enums.OrderStatusPendingPayment, enums.OrderStatusPaymentSubmitted}: {
		events: []PlannedEvent{{Type: enums.EventOrderPaymentSubmitted, Recipients: toWorker}},
	},
	{enums.OrderStatusPendingPayment, enums.OrderStatusCancelled}: cancelEdge,
	{enums.OrderStatusPaymentSubmitted, enums.OrderStatusPaymentReceived}: {
		events: []PlannedEvent{{Type: enums.EventOrderPaymentVerified, Recipients: toCustomer}},
	},
	{enums.OrderStatusPaymentSubmitted, enums.OrderStatusPendingPayment}: {
		events: []PlannedEvent{{Type: enums.EventOrderPaymentRejected, Recipients: toCustomer}},
	},
	{enums.OrderStatusPaymentSubmitted, enums.OrderStatusCancelled}: cancelEdge,
	{enums.OrderStatusPaymentReceived, enums.OrderStatusCancelled}:  cancelEdge,
}

var serviceEdges = map[edgeKey]edge{
	{enums.OrderStatusPaymentReceived, enums.OrderStatusInProgress}: {
		events: []PlannedEvent{{Type: enums.EventOrderWorkStarted, Recipients: toCustomer}},
	},
	{enums.OrderStatusInProgress, enums.OrderStatusDelivered}: {
		stamps: []Stamp{StampDeliveredAt},
		events: []PlannedEvent{{Type: enums.EventOrderDelivered, Recipients: toCustomer}},
	},
	{enums.OrderStatusInProgress, enums.OrderStatusCancelled}: cancelEdge,
	{enums.OrderStatusDelivered, enums.OrderStatusCompleted}: {
		stamps: []Stamp{StampCompletedAt},
		events: []PlannedEvent{{Type: enums.EventOrderCompleted, Recipients: toWorker}},
	},
	{enums.OrderStatusDelivered, enums.OrderStatusCancelled}: cancelEdge,
}

var digitalEdges = map[edgeKey]edge{
	{enums.OrderStatusPaymentReceived, enums.OrderStatusCompleted}: {
		stamps: []Stamp{StampCompletedAt},
		events: []PlannedEvent{{Type: enums.EventOrderCompleted, Recipients: toBoth}},
	},
}

var transitionTable = map[enums.ListingType]map[edgeKey]edge{
	enums.ListingTypeService:        merge(sharedEdges, serviceEdges),
	enums.ListingTypeDigitalProduct: merge(sharedEdges, digitalEdges),
}

func merge(tables ...map[edgeKey]edge) map[edgeKey]edge {
	out := map[edgeKey]edge{}
	for _, table := range tables {
		for k, v := range table {
			out[k] = v
		}
	}
	return out
}

func lookup(listingType enums.ListingType, from, to enums.OrderStatus) (edge, bool) {
	table, ok := transitionTable[listingType]
	if !ok {
		return edge{}, false
	}
	e, ok := table[edgeKey{from: from, to: to}]
	return e, ok
}

// CanTransitionTo reports whether target is directly reachable from current.
func CanTransitionTo(listingType enums.ListingType, current, target enums.OrderStatus) bool {
	_, ok := lookup(listingType, current, target)
	return ok
}

// NextStatuses lists the statuses reachable from current, in lifecycle order.
func NextStatuses(listingType enums.ListingType, current enums.OrderStatus) []enums.OrderStatus {
	var out []enums.OrderStatus
	for _, candidate := range enums.OrderStatuses() {
		if CanTransitionTo(listingType, current, candidate) {
			out = append(out, candidate)
		}
	}
	return out
}

// Plan validates a single transition and describes its effects. It touches
// nothing.
func Plan(listingType enums.ListingType, current, target enums.OrderStatus) (Transition, error) {
	e, ok := lookup(listingType, current, target)
	if !ok {
		return Transition{}, invalidTransition(current, target)
	}
	return Transition{
		From:  current,
		To:    target,
		Steps: []Step{{From: current, To: target, Stamps: e.stamps, Events: e.events}},
	}, nil
}

// PlanPaymentReceived plans payment confirmation. Digital products chain
// straight on to completed; the caller applies the result as one update.
func PlanPaymentReceived(listingType enums.ListingType, current enums.OrderStatus) (Transition, error) {
	first, err := Plan(listingType, current, enums.OrderStatusPaymentReceived)
	if err != nil {
		return Transition{}, err
	}
	if listingType != enums.ListingTypeDigitalProduct {
		return first, nil
	}
	second, err := Plan(listingType, enums.OrderStatusPaymentReceived, enums.OrderStatusCompleted)
	if err != nil {
		return Transition{}, err
	}
	return Transition{
		From:  current,
		To:    second.To,
		Steps: append(first.Steps, second.Steps...),
	}, nil
}

func invalidTransition(current, target enums.OrderStatus) error {
	return pkgerrors.New(
		pkgerrors.CodeInvalidTransition,
		fmt.Sprintf("cannot transition order from %s to %s", current, target),
	).WithDetails(map[string]any{"current": current, "target": target})
}
