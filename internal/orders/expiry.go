package orders

import (
	"context"

	"go.uber.org/multierr"

	"github.com/kayakoyan/marketplace-backend/pkg/enums"
	pkgerrors "github.com/kayakoyan/marketplace-backend/pkg/errors"
)

const (
	expiryBatchSize = 100
	ExpiryReason    = "payment window expired"
)

// ExpireUnpaid cancels pending_payment orders older than the payment TTL.
// Orders that moved on concurrently are skipped.
func (s *Service) ExpireUnpaid(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.paymentTTL)
	rows, err := s.repo.FindPendingPaymentBefore(ctx, cutoff, expiryBatchSize)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find unpaid orders")
	}

	var errs error
	expired := 0
	for i := range rows {
		order := &rows[i]
		plan, err := Plan(order.ListingType(), order.Status, enums.OrderStatusCancelled)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		err = s.commit(ctx, order, plan, Actor{}, transitionOpts{
			reason: ExpiryReason,
			extra:  map[string]any{"cancellation_reason": ExpiryReason},
		})
		if pkgerrors.HasCode(err, pkgerrors.CodeConcurrentModification) {
			continue
		}
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		expired++
	}
	return expired, errs
}
