package orders

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	dbpkg "github.com/kayakoyan/marketplace-backend/pkg/db"
	"github.com/kayakoyan/marketplace-backend/pkg/db/models"
	"github.com/kayakoyan/marketplace-backend/pkg/enums"
	pkgerrors "github.com/kayakoyan/marketplace-backend/pkg/errors"
	"github.com/kayakoyan/marketplace-backend/pkg/outbox"
	"github.com/kayakoyan/marketplace-backend/pkg/outbox/payloads"
	"github.com/kayakoyan/marketplace-backend/pkg/storage"
)

const (
	maxQuantity         = 100
	orderNumberAttempts = 3
)

type CheckoutInput struct {
	ListingID uint64
	Quantity  int
	Notes     string
}

type PaymentInput struct {
	Method          enums.PaymentMethod
	Amount          decimal.Decimal
	ReferenceNumber string
	ProofName       string
	Proof           io.Reader
}

type FileInput struct {
	Name string
	Body io.Reader
}

type DeliveryInput struct {
	Message string
	Files   []FileInput
}

// action is a role-gated transition to a fixed target.
type action struct {
	role   enums.UserRole
	verb   string
	target enums.OrderStatus
}

var (
	actionStart   = action{role: enums.RoleWorker, verb: "started", target: enums.OrderStatusInProgress}
	actionDeliver = action{role: enums.RoleWorker, verb: "delivered", target: enums.OrderStatusDelivered}
	actionAccept  = action{role: enums.RoleCustomer, verb: "accepted", target: enums.OrderStatusCompleted}
	actionCancel  = action{verb: "cancelled", target: enums.OrderStatusCancelled}
	actionPay     = action{role: enums.RoleCustomer, verb: "paid", target: enums.OrderStatusPaymentSubmitted}
	actionVerify  = action{role: enums.RoleWorker, verb: "verified", target: enums.OrderStatusPaymentReceived}
	actionReject  = action{role: enums.RoleWorker, verb: "rejected", target: enums.OrderStatusPendingPayment}
)

// prepare loads the order, authorizes the actor, then plans the transition.
// Authorization always comes before state validation.
func (s *Service) prepare(ctx context.Context, actor Actor, orderID uint64, a action) (*models.Order, Transition, error) {
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, Transition{}, err
	}
	if _, err := Authorize(order, actor, a.role); err != nil {
		return nil, Transition{}, err
	}
	var plan Transition
	if a.target == enums.OrderStatusPaymentReceived {
		plan, err = PlanPaymentReceived(order.ListingType(), order.Status)
	} else {
		plan, err = Plan(order.ListingType(), order.Status, a.target)
	}
	if err != nil {
		s.observe(order.Status, a.target, "rejected")
		return nil, Transition{}, actionRejected(a, err)
	}
	return order, plan, nil
}

func actionRejected(a action, cause error) error {
	typed := pkgerrors.As(cause)
	out := pkgerrors.Wrap(pkgerrors.CodeInvalidTransition, cause, fmt.Sprintf("This order cannot be %s", a.verb))
	if typed != nil {
		out = out.WithDetails(typed.Details())
	}
	return out
}

// Checkout places a new order for an active listing in pending_payment.
func (s *Service) Checkout(ctx context.Context, actor Actor, input CheckoutInput) (*models.Order, error) {
	if actor.UserID == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if actor.Role != enums.RoleCustomer {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only customers can place orders")
	}
	if input.Quantity < 1 || input.Quantity > maxQuantity {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("quantity must be between 1 and %d", maxQuantity))
	}
	listing, err := s.repo.FindListing(ctx, input.ListingID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "listing not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load listing")
	}
	if !listing.IsActive {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "listing is not available")
	}
	if listing.WorkerID == actor.UserID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "you cannot order your own listing")
	}
	if listing.IsDigital() {
		input.Quantity = 1
	}

	order := &models.Order{
		ListingID:  listing.ID,
		CustomerID: actor.UserID,
		WorkerID:   listing.WorkerID,
		Quantity:   input.Quantity,
		UnitPrice:  listing.Price,
		TotalPrice: listing.Price.Mul(decimal.NewFromInt(int64(input.Quantity))),
		Status:     enums.OrderStatusPendingPayment,
	}
	if notes := strings.TrimSpace(input.Notes); notes != "" {
		order.Notes = &notes
	}

	var lastErr error
	for attempt := 0; attempt < orderNumberAttempts; attempt++ {
		order.ID = 0
		order.OrderNumber = newOrderNumber(s.now())
		lastErr = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			if err := s.repo.WithTx(tx).CreateOrder(ctx, order); err != nil {
				return err
			}
			order.Listing = listing
			order.Worker = listing.Worker
			order.Customer = &models.User{ID: actor.UserID, Name: actor.Name, Role: enums.RoleCustomer}
			data := orderEventPayload(order, []payloads.Recipient{payloads.RecipientWorker})
			s.outbox.TryEmit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventOrderCreated,
				AggregateType: enums.AggregateOrder,
				AggregateID:   order.ID,
				Actor:         actorRef(actor),
				Data:          data,
			})
			return nil
		})
		if lastErr == nil {
			return order, nil
		}
		if !dbpkg.IsUniqueViolation(lastErr, "") {
			break
		}
	}
	return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, lastErr, "create order")
}

func newOrderNumber(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
	return fmt.Sprintf("KKY-%s-%s", now.UTC().Format("20060102"), suffix)
}

// SubmitPayment uploads the proof, then records the payment and moves the
// order to payment_submitted in one transaction.
func (s *Service) SubmitPayment(ctx context.Context, actor Actor, orderID uint64, input PaymentInput) (*models.Order, error) {
	order, plan, err := s.prepare(ctx, actor, orderID, actionPay)
	if err != nil {
		return nil, err
	}
	if !input.Method.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unsupported payment method")
	}
	if !input.Amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	reference := strings.TrimSpace(input.ReferenceNumber)
	if reference == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reference number required")
	}
	if input.Proof == nil || s.uploader == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment proof required")
	}

	proof, err := s.uploader.Accepting(storage.ImageTypes...).
		Upload(ctx, fmt.Sprintf("payments/%d", order.ID), input.ProofName, input.Proof)
	if err != nil {
		return nil, err
	}

	err = s.commit(ctx, order, plan, actor, transitionOpts{
		before: func(ctx context.Context, _ *gorm.DB, repo Repository) error {
			return repo.CreatePayment(ctx, &models.Payment{
				OrderID:         order.ID,
				Method:          input.Method,
				Amount:          input.Amount,
				ReferenceNumber: reference,
				ProofPath:       proof.Path,
				Status:          enums.PaymentStatusPending,
			})
		},
	})
	if err != nil {
		s.discard(ctx, proof.Path)
		return nil, err
	}
	return order, nil
}

// VerifyPayment accepts the latest pending payment and confirms the order.
func (s *Service) VerifyPayment(ctx context.Context, actor Actor, orderID uint64) (*models.Order, error) {
	order, plan, err := s.prepare(ctx, actor, orderID, actionVerify)
	if err != nil {
		return nil, err
	}
	err = s.commit(ctx, order, plan, actor, transitionOpts{
		before: func(ctx context.Context, _ *gorm.DB, repo Repository) error {
			payment, err := pendingPayment(ctx, repo, order.ID)
			if err != nil {
				return err
			}
			return repo.UpdatePayment(ctx, payment.ID, map[string]any{
				"status":      enums.PaymentStatusVerified,
				"verified_at": s.now().UTC(),
			})
		},
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// RejectPayment marks the latest payment rejected and reopens the order for payment.
func (s *Service) RejectPayment(ctx context.Context, actor Actor, orderID uint64, reason string) (*models.Order, error) {
	order, plan, err := s.prepare(ctx, actor, orderID, actionReject)
	if err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "a reason is required to reject a payment")
	}
	err = s.commit(ctx, order, plan, actor, transitionOpts{
		reason: reason,
		before: func(ctx context.Context, _ *gorm.DB, repo Repository) error {
			payment, err := pendingPayment(ctx, repo, order.ID)
			if err != nil {
				return err
			}
			return repo.UpdatePayment(ctx, payment.ID, map[string]any{
				"status":          enums.PaymentStatusRejected,
				"rejected_reason": reason,
			})
		},
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

func pendingPayment(ctx context.Context, repo Repository, orderID uint64) (*models.Payment, error) {
	payment, err := repo.LatestPayment(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "no payment has been submitted")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}
	if payment.Status != enums.PaymentStatusPending {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "the latest payment has already been reviewed")
	}
	return payment, nil
}

func (s *Service) StartWork(ctx context.Context, actor Actor, orderID uint64) (*models.Order, error) {
	return s.simple(ctx, actor, orderID, actionStart, "")
}

func (s *Service) AcceptDelivery(ctx context.Context, actor Actor, orderID uint64) (*models.Order, error) {
	return s.simple(ctx, actor, orderID, actionAccept, "")
}

// Cancel is open to either participant on any non-terminal order.
func (s *Service) Cancel(ctx context.Context, actor Actor, orderID uint64, reason string) (*models.Order, error) {
	return s.simple(ctx, actor, orderID, actionCancel, strings.TrimSpace(reason))
}

func (s *Service) simple(ctx context.Context, actor Actor, orderID uint64, a action, reason string) (*models.Order, error) {
	order, plan, err := s.prepare(ctx, actor, orderID, a)
	if err != nil {
		return nil, err
	}
	opts := transitionOpts{reason: reason}
	if reason != "" && a.target == enums.OrderStatusCancelled {
		opts.extra = map[string]any{"cancellation_reason": reason}
	}
	if err := s.commit(ctx, order, plan, actor, opts); err != nil {
		return nil, err
	}
	return order, nil
}

// SubmitDelivery stores the delivery files, posts a delivery notice to the
// chat and moves the order to delivered.
func (s *Service) SubmitDelivery(ctx context.Context, actor Actor, orderID uint64, input DeliveryInput) (*models.Order, error) {
	order, plan, err := s.prepare(ctx, actor, orderID, actionDeliver)
	if err != nil {
		return nil, err
	}
	message := strings.TrimSpace(input.Message)
	if message == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "a delivery message is required")
	}

	var files []models.DeliveryFile
	var stored []string
	for _, f := range input.Files {
		if s.uploader == nil {
			return nil, pkgerrors.New(pkgerrors.CodeUploadFailed, "file storage is not configured")
		}
		obj, err := s.uploader.Upload(ctx, fmt.Sprintf("deliveries/%d", order.ID), f.Name, f.Body)
		if err != nil {
			s.discard(ctx, stored...)
			return nil, err
		}
		stored = append(stored, obj.Path)
		files = append(files, models.DeliveryFile{Path: obj.Path, Name: obj.Name})
	}

	var notice *models.ChatMessage
	err = s.commit(ctx, order, plan, actor, transitionOpts{
		before: func(ctx context.Context, tx *gorm.DB, repo Repository) error {
			if err := repo.CreateDelivery(ctx, &models.Delivery{OrderID: order.ID, Message: message, Files: files}); err != nil {
				if dbpkg.IsUniqueViolation(err, "") {
					return pkgerrors.New(pkgerrors.CodeConflict, "this order already has a delivery")
				}
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create delivery")
			}
			if s.chat == nil {
				return nil
			}
			msg, err := s.chat.PostDeliveryNotice(ctx, tx, order, deliveryNoticeText(order, message, len(files)))
			if err != nil {
				return err
			}
			notice = msg
			return nil
		},
		after: func(ctx context.Context) {
			if s.chat != nil && notice != nil {
				s.chat.AnnounceMessage(ctx, order, notice)
			}
		},
	})
	if err != nil {
		s.discard(ctx, stored...)
		return nil, err
	}
	return order, nil
}

func deliveryNoticeText(order *models.Order, message string, files int) string {
	header := fmt.Sprintf("Order %s has been delivered", order.OrderNumber)
	if files > 0 {
		header = fmt.Sprintf("%s with %d file(s)", header, files)
	}
	return header + ".\n\n" + message
}

// discard removes uploads whose database rows never committed.
func (s *Service) discard(ctx context.Context, paths ...string) {
	if s.uploader == nil {
		return
	}
	for _, p := range paths {
		if err := s.uploader.Store().Delete(ctx, p); err != nil && s.logg != nil {
			s.logg.Error(s.logg.WithField(ctx, "path", p), "orphaned upload cleanup failed", err)
		}
	}
}
