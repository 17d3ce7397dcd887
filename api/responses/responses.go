package responses

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	pkgerrors "github.com/kayakoyan/marketplace-backend/pkg/errors"
	"github.com/kayakoyan/marketplace-backend/pkg/logger"
	"github.com/kayakoyan/marketplace-backend/pkg/types"
)

// orderDetailKeys are the state-machine details worth lifting into log
// fields, so a rejected transition can be traced without decoding the body.
var orderDetailKeys = map[string]string{
	"current":  "order_status",
	"expected": "order_expected_status",
	"target":   "order_target_status",
	"status":   "order_status",
}

func WriteSuccess(w http.ResponseWriter, data any) {
	WriteSuccessStatus(w, http.StatusOK, data)
}

// WriteCreated answers a checkout, payment submission or chat message.
func WriteCreated(w http.ResponseWriter, data any) {
	WriteSuccessStatus(w, http.StatusCreated, data)
}

func WriteSuccessStatus(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, types.SuccessEnvelope{Data: data})
}

// WriteError renders err as the error envelope. Client errors keep their own
// message so the UI can show "This order cannot be accepted" verbatim; server
// errors only ever carry the code's public message.
func WriteError(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	typed := pkgerrors.As(err)
	if typed == nil {
		typed = pkgerrors.Wrap(pkgerrors.CodeInternal, err, "unexpected error")
	}
	meta := pkgerrors.MetadataFor(typed.Code())

	apiErr := types.APIError{
		Code:    string(typed.Code()),
		Message: publicMessage(typed, meta),
	}
	if meta.DetailsAllowed {
		apiErr.Details = typed.Details()
	}

	if logg != nil {
		logError(ctx, logg, meta.HTTPStatus, typed, err)
	}
	writeJSON(w, meta.HTTPStatus, types.ErrorEnvelope{Error: apiErr})
}

func publicMessage(typed *pkgerrors.Error, meta pkgerrors.Metadata) string {
	if meta.HTTPStatus >= http.StatusInternalServerError || typed.Message() == "" {
		return meta.PublicMessage
	}
	return typed.Message()
}

// logError writes client errors at warn and everything else at error.
func logError(ctx context.Context, logg *logger.Logger, status int, typed *pkgerrors.Error, err error) {
	fields := pkgerrors.Dump(err).Fields()
	fields["http_status"] = status
	if details, ok := typed.Details().(map[string]any); ok {
		for key, field := range orderDetailKeys {
			if v, ok := details[key]; ok {
				fields[field] = v
			}
		}
	}
	ctx = logg.WithFields(ctx, fields)
	if status < http.StatusInternalServerError {
		logg.Warn(ctx, "request rejected")
		return
	}
	logg.Error(ctx, "request failed", err)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf(`{"level":"error","msg":"failed to encode response","err":"%v"}`, err)
	}
}
