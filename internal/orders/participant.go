package orders

import (
	"github.com/kayakoyan/marketplace-backend/pkg/db/models"
	"github.com/kayakoyan/marketplace-backend/pkg/enums"
	pkgerrors "github.com/kayakoyan/marketplace-backend/pkg/errors"
	"github.com/kayakoyan/marketplace-backend/pkg/outbox/payloads"
)

// Actor is the authenticated user performing an action. A zero Actor is the
// system (cron, admin tooling).
type Actor struct {
	UserID uint64
	Role   enums.UserRole
	Name   string
}

func (a Actor) IsSystem() bool {
	return a.UserID == 0
}

// Participant is one side of an order.
type Participant struct {
	Role   enums.UserRole `json:"role"`
	UserID uint64         `json:"id"`
	Name   string         `json:"name"`
}

// ParticipantFor resolves which side of the order viewerID is on.
func ParticipantFor(order *models.Order, viewerID uint64) (Participant, bool) {
	if order == nil || viewerID == 0 {
		return Participant{}, false
	}
	switch viewerID {
	case order.CustomerID:
		return Participant{Role: enums.RoleCustomer, UserID: order.CustomerID, Name: order.CustomerName()}, true
	case order.WorkerID:
		return Participant{Role: enums.RoleWorker, UserID: order.WorkerID, Name: order.WorkerName()}, true
	}
	return Participant{}, false
}

// Counterparty returns the other side of the order from viewerID's perspective.
func Counterparty(order *models.Order, viewerID uint64) (Participant, bool) {
	me, ok := ParticipantFor(order, viewerID)
	if !ok {
		return Participant{}, false
	}
	if me.Role == enums.RoleCustomer {
		return Participant{Role: enums.RoleWorker, UserID: order.WorkerID, Name: order.WorkerName()}, true
	}
	return Participant{Role: enums.RoleCustomer, UserID: order.CustomerID, Name: order.CustomerName()}, true
}

// Authorize requires the actor to be the order's participant in the given
// role. An empty role accepts either side.
func Authorize(order *models.Order, actor Actor, role enums.UserRole) (Participant, error) {
	p, ok := ParticipantFor(order, actor.UserID)
	if !ok {
		return Participant{}, pkgerrors.New(pkgerrors.CodeForbidden, "you are not a participant of this order")
	}
	if role != "" && p.Role != role {
		return Participant{}, pkgerrors.New(pkgerrors.CodeForbidden, "this action is not available to the "+string(p.Role))
	}
	return p, nil
}

func recipientFor(role enums.UserRole) payloads.Recipient {
	if role == enums.RoleWorker {
		return payloads.RecipientWorker
	}
	return payloads.RecipientCustomer
}
