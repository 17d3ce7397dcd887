package realtime

import (
	"context"
	"errors"

	"gorm.io/gorm"

	pkgerrors "github.com/kayakoyan/marketplace-backend/pkg/errors"
)

// OrderMembership resolves the two participants of an order.
type OrderMembership interface {
	OrderParticipants(ctx context.Context, orderID uint64) (customerID, workerID uint64, err error)
}

type Authorizer struct {
	orders OrderMembership
}

func NewAuthorizer(orders OrderMembership) *Authorizer {
	return &Authorizer{orders: orders}
}

// Authorize decides whether userID may subscribe to channel. Order channels
// admit the customer and the worker; user channels admit only their owner.
func (a *Authorizer) Authorize(ctx context.Context, userID uint64, channel string) (Channel, error) {
	if userID == 0 {
		return Channel{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	ch, err := ParseChannel(channel)
	if err != nil {
		return Channel{}, err
	}
	if ch.Kind == KindUserNotifications {
		if ch.ID != userID {
			return Channel{}, forbidden()
		}
		return ch, nil
	}
	customerID, workerID, err := a.orders.OrderParticipants(ctx, ch.ID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Channel{}, forbidden()
	}
	if err != nil {
		return Channel{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order participants")
	}
	if userID != customerID && userID != workerID {
		return Channel{}, forbidden()
	}
	return ch, nil
}

func forbidden() error {
	return pkgerrors.New(pkgerrors.CodeForbidden, "not allowed to join this channel")
}
