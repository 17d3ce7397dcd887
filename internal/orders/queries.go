package orders

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/kayakoyan/marketplace-backend/pkg/enums"
	pkgerrors "github.com/kayakoyan/marketplace-backend/pkg/errors"
	"github.com/kayakoyan/marketplace-backend/pkg/pagination"
)

// Get returns an order with its latest payment and delivery to a participant.
func (s *Service) Get(ctx context.Context, actor Actor, orderID uint64) (*OrderDetail, error) {
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if _, err := Authorize(order, actor, ""); err != nil {
		return nil, err
	}

	detail := &OrderDetail{OrderView: NewOrderView(order)}
	payment, err := s.repo.LatestPayment(ctx, order.ID)
	switch {
	case err == nil:
		detail.Payment = &PaymentView{
			ID:              payment.ID,
			Method:          payment.Method,
			Amount:          payment.Amount,
			ReferenceNumber: payment.ReferenceNumber,
			ProofURL:        s.fileURL(payment.ProofPath),
			Status:          payment.Status,
			RejectedReason:  payment.RejectedReason,
			VerifiedAt:      payment.VerifiedAt,
			CreatedAt:       payment.CreatedAt,
		}
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}

	delivery, err := s.repo.FindDelivery(ctx, order.ID)
	switch {
	case err == nil:
		view := &DeliveryView{Message: delivery.Message, CreatedAt: delivery.CreatedAt, Files: []DeliveryFileView{}}
		for _, f := range delivery.Files {
			view.Files = append(view.Files, DeliveryFileView{Name: f.Name, URL: s.fileURL(f.Path)})
		}
		detail.Delivery = view
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load delivery")
	}
	return detail, nil
}

// List pages through the actor's orders from the side given by role.
func (s *Service) List(ctx context.Context, actor Actor, role enums.UserRole, status *enums.OrderStatus, params pagination.Params) (pagination.Page[OrderView], error) {
	if actor.UserID == 0 {
		return pagination.Page[OrderView]{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if status != nil && !status.IsValid() {
		return pagination.Page[OrderView]{}, pkgerrors.New(pkgerrors.CodeValidation, "unknown status filter")
	}
	if _, err := pagination.ParseCursor(params.Cursor); err != nil {
		return pagination.Page[OrderView]{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, err := s.repo.ListOrders(ctx, ListFilter{Role: role, UserID: actor.UserID, Status: status}, params)
	if err != nil {
		return pagination.Page[OrderView]{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders")
	}
	views := make([]OrderView, 0, len(rows))
	for i := range rows {
		views = append(views, NewOrderView(&rows[i]))
	}
	return pagination.BuildPage(views, params.Limit, orderCursor), nil
}

func (s *Service) fileURL(path string) string {
	if path == "" || s.uploader == nil {
		return ""
	}
	return s.uploader.Store().URL(path)
}
