// Package orders exposes the customer and worker order actions. There is no
// endpoint that sets a status directly; each action maps to one transition.
package orders

import (
	"context"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/kayakoyan/marketplace-backend/api/middleware"
	"github.com/kayakoyan/marketplace-backend/api/responses"
	"github.com/kayakoyan/marketplace-backend/api/validators"
	internalorders "github.com/kayakoyan/marketplace-backend/internal/orders"
	"github.com/kayakoyan/marketplace-backend/pkg/db/models"
	"github.com/kayakoyan/marketplace-backend/pkg/enums"
	pkgerrors "github.com/kayakoyan/marketplace-backend/pkg/errors"
	"github.com/kayakoyan/marketplace-backend/pkg/logger"
	"github.com/kayakoyan/marketplace-backend/pkg/pagination"
)

const (
	maxReasonLength   = 1000
	maxNotesLength    = 2000
	maxDeliveryFiles  = 10
	multipartMemory   = 8 << 20
	proofField        = "proof"
	deliveryFileField = "files"
)

// Service is the order lifecycle surface used by the handlers.
type Service interface {
	Checkout(ctx context.Context, actor internalorders.Actor, input internalorders.CheckoutInput) (*models.Order, error)
	SubmitPayment(ctx context.Context, actor internalorders.Actor, orderID uint64, input internalorders.PaymentInput) (*models.Order, error)
	VerifyPayment(ctx context.Context, actor internalorders.Actor, orderID uint64) (*models.Order, error)
	RejectPayment(ctx context.Context, actor internalorders.Actor, orderID uint64, reason string) (*models.Order, error)
	StartWork(ctx context.Context, actor internalorders.Actor, orderID uint64) (*models.Order, error)
	SubmitDelivery(ctx context.Context, actor internalorders.Actor, orderID uint64, input internalorders.DeliveryInput) (*models.Order, error)
	AcceptDelivery(ctx context.Context, actor internalorders.Actor, orderID uint64) (*models.Order, error)
	Cancel(ctx context.Context, actor internalorders.Actor, orderID uint64, reason string) (*models.Order, error)
	Download(ctx context.Context, actor internalorders.Actor, orderID uint64, req internalorders.DownloadRequest) (*internalorders.DownloadGrant, error)
	Get(ctx context.Context, actor internalorders.Actor, orderID uint64) (*internalorders.OrderDetail, error)
	List(ctx context.Context, actor internalorders.Actor, role enums.UserRole, status *enums.OrderStatus, params pagination.Params) (pagination.Page[internalorders.OrderView], error)
}

type checkoutRequest struct {
	ListingID uint64 `json:"listing_id" validate:"required"`
	Quantity  int    `json:"quantity" validate:"omitempty,min=1,max=100"`
	Notes     string `json:"notes" validate:"max=2000"`
}

type reasonRequest struct {
	Reason string `json:"reason" validate:"max=1000"`
}

// Checkout places an order for a listing.
func Checkout(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body checkoutRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		quantity := body.Quantity
		if quantity == 0 {
			quantity = 1
		}
		order, err := svc.Checkout(r.Context(), middleware.ActorFromContext(r.Context()), internalorders.CheckoutInput{
			ListingID: body.ListingID,
			Quantity:  quantity,
			Notes:     validators.SanitizeString(body.Notes, maxNotesLength),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteCreated(w, internalorders.NewOrderView(order))
	}
}

// List pages through the caller's orders from the given side.
func List(svc Service, role enums.UserRole, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		status, err := parseStatusParam(r.URL.Query().Get("status"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params := pagination.Params{
			Limit:  limit,
			Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
		}

		page, err := svc.List(r.Context(), middleware.ActorFromContext(r.Context()), role, status, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, page)
	}
}

// Detail returns one order with its payments and delivery.
func Detail(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := validators.ParseIDParam(r, "order")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		detail, err := svc.Get(r.Context(), middleware.ActorFromContext(r.Context()), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, detail)
	}
}

// SubmitPayment records a manual payment with its proof image.
func SubmitPayment(svc Service, maxUpload int64, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := validators.ParseIDParam(r, "order")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := parseMultipart(w, r, maxUpload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		defer r.MultipartForm.RemoveAll()

		amount, err := decimal.NewFromString(strings.TrimSpace(r.FormValue("amount")))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "amount must be a decimal number").WithDetails(map[string]any{"field": "amount"}))
			return
		}
		input := internalorders.PaymentInput{
			Method:          enums.PaymentMethod(strings.TrimSpace(r.FormValue("method"))),
			Amount:          amount,
			ReferenceNumber: validators.SanitizeString(r.FormValue("reference_number"), 100),
		}
		if file, header, err := r.FormFile(proofField); err == nil {
			defer file.Close()
			input.Proof = file
			input.ProofName = header.Filename
		}

		order, err := svc.SubmitPayment(r.Context(), middleware.ActorFromContext(r.Context()), orderID, input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteCreated(w, internalorders.NewOrderView(order))
	}
}

type actionFunc func(ctx context.Context, actor internalorders.Actor, orderID uint64) (*models.Order, error)

// Transition runs a body-less order action such as start or accept.
func Transition(action actionFunc, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := validators.ParseIDParam(r, "order")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		order, err := action(r.Context(), middleware.ActorFromContext(r.Context()), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, internalorders.NewOrderView(order))
	}
}

type reasonActionFunc func(ctx context.Context, actor internalorders.Actor, orderID uint64, reason string) (*models.Order, error)

// TransitionWithReason runs an order action carrying an optional
// {"reason"} body, used by cancel and reject-payment.
func TransitionWithReason(action reasonActionFunc, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := validators.ParseIDParam(r, "order")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body reasonRequest
		if hasBody(r) {
			if err := validators.DecodeJSONBody(r, &body); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}
		order, err := action(r.Context(), middleware.ActorFromContext(r.Context()), orderID, validators.SanitizeString(body.Reason, maxReasonLength))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, internalorders.NewOrderView(order))
	}
}

// Deliver submits the worker's delivery message and files.
func Deliver(svc Service, maxUpload int64, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := validators.ParseIDParam(r, "order")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := parseMultipart(w, r, maxUpload*maxDeliveryFiles); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		defer r.MultipartForm.RemoveAll()

		headers := r.MultipartForm.File[deliveryFileField]
		if len(headers) > maxDeliveryFiles {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "too many files").WithDetails(map[string]any{"field": deliveryFileField, "max": maxDeliveryFiles}))
			return
		}
		files, closeAll, err := openFiles(headers)
		defer closeAll()
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unreadable upload"))
			return
		}

		order, err := svc.SubmitDelivery(r.Context(), middleware.ActorFromContext(r.Context()), orderID, internalorders.DeliveryInput{
			Message: r.FormValue("message"),
			Files:   files,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, internalorders.NewOrderView(order))
	}
}

// Download hands out the listing file of a completed digital order.
func Download(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := validators.ParseIDParam(r, "order")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		grant, err := svc.Download(r.Context(), middleware.ActorFromContext(r.Context()), orderID, internalorders.DownloadRequest{
			IPAddress: clientIP(r),
			UserAgent: validators.SanitizeString(r.UserAgent(), 255),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, grant)
	}
}

func parseStatusParam(raw string) (*enums.OrderStatus, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	status, err := enums.ParseOrderStatus(raw)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status filter").WithDetails(map[string]any{"field": "status"})
	}
	return &status, nil
}

func parseMultipart(w http.ResponseWriter, r *http.Request, maxBytes int64) error {
	if maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes+multipartMemory)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "expected a multipart form within the upload size limit")
	}
	return nil
}

func openFiles(headers []*multipart.FileHeader) ([]internalorders.FileInput, func(), error) {
	var closers []io.Closer
	closeAll := func() {
		for _, c := range closers {
			_ = c.Close()
		}
	}
	files := make([]internalorders.FileInput, 0, len(headers))
	for _, h := range headers {
		f, err := h.Open()
		if err != nil {
			return nil, closeAll, err
		}
		closers = append(closers, f)
		files = append(files, internalorders.FileInput{Name: h.Filename, Body: f})
	}
	return files, closeAll, nil
}

func hasBody(r *http.Request) bool {
	return r.Body != nil && r.Body != http.NoBody && r.ContentLength != 0
}

func clientIP(r *http.Request) string {
	if header := r.Header.Get("X-Forwarded-For"); header != "" {
		for _, part := range strings.Split(header, ",") {
			if ip := strings.TrimSpace(part); ip != "" {
				return ip
			}
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}
