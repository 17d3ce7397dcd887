package cron

import (
	"context"
	"fmt"

	"github.com/kayakoyan/marketplace-backend/pkg/logger"
)

type unpaidExpirer interface {
	ExpireUnpaid(ctx context.Context) (int, error)
}

// OrderExpiryJobParams configure the unpaid order sweep.
type OrderExpiryJobParams struct {
	Logger *logger.Logger
	Orders unpaidExpirer
}

// NewOrderExpiryJob builds the job that cancels orders whose payment window
// has passed. Each cancellation goes through the order state machine, so
// notifications and chat broadcasts fire as for a manual cancel.
func NewOrderExpiryJob(params OrderExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders service required")
	}
	return &orderExpiryJob{logg: params.Logger, orders: params.Orders}, nil
}

type orderExpiryJob struct {
	logg   *logger.Logger
	orders unpaidExpirer
}

func (j *orderExpiryJob) Name() string { return "order_payment_expiry" }

func (j *orderExpiryJob) Run(ctx context.Context) error {
	expired, err := j.orders.ExpireUnpaid(ctx)
	logCtx := j.logg.WithField(ctx, "orders_expired", expired)
	if err != nil {
		return fmt.Errorf("expire unpaid orders: %w", err)
	}
	j.logg.Info(logCtx, "order payment expiry complete")
	return nil
}
