// Package chats serves the order chat for both participants. The customer
// base (/chats) and the worker base (/worker/chats) share these handlers and
// return identical payloads.
package chats

import (
	"context"
	"mime"
	"net/http"
	"strings"

	"github.com/kayakoyan/marketplace-backend/api/middleware"
	"github.com/kayakoyan/marketplace-backend/api/responses"
	"github.com/kayakoyan/marketplace-backend/api/validators"
	"github.com/kayakoyan/marketplace-backend/internal/chat"
	"github.com/kayakoyan/marketplace-backend/internal/orders"
	pkgerrors "github.com/kayakoyan/marketplace-backend/pkg/errors"
	"github.com/kayakoyan/marketplace-backend/pkg/logger"
)

const (
	multipartMemory = 8 << 20
	fileField       = "file"
)

// Service is the chat surface used by the handlers.
type Service interface {
	SendMessage(ctx context.Context, actor orders.Actor, orderID uint64, in chat.SendInput) (*chat.MessagePayload, error)
	MarkRead(ctx context.Context, actor orders.Actor, orderID uint64) (*chat.ReadReceipt, int64, error)
	UnreadCount(ctx context.Context, actor orders.Actor) (int64, error)
	Conversations(ctx context.Context, actor orders.Actor) ([]chat.Conversation, error)
	Thread(ctx context.Context, actor orders.Actor, orderID uint64) (*chat.Thread, error)
	Typing(ctx context.Context, actor orders.Actor, orderID uint64, isTyping bool) error
	OpenFeed(ctx context.Context, actor orders.Actor, orderID, afterID uint64) (chat.Tail, error)
}

type sendRequest struct {
	Message string `json:"message"`
}

type typingRequest struct {
	IsTyping *bool `json:"is_typing" validate:"required"`
}

type readResponse struct {
	Receipt     *chat.ReadReceipt `json:"receipt"`
	UnreadCount int64             `json:"unread_count"`
}

// Conversations lists the caller's orders that have messages.
func Conversations(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := svc.Conversations(r.Context(), middleware.ActorFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}

// UnreadCount returns the caller's unread total across all orders.
func UnreadCount(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		count, err := svc.UnreadCount(r.Context(), middleware.ActorFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, chat.UnreadUpdated{Count: count})
	}
}

// Send posts a text message (JSON {"message"}) or a single file
// (multipart field "file").
func Send(svc Service, maxUpload int64, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := validators.ParseIDParam(r, "order")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var in chat.SendInput
		if isMultipart(r) {
			if maxUpload > 0 {
				r.Body = http.MaxBytesReader(w, r.Body, maxUpload+multipartMemory)
			}
			if err := r.ParseMultipartForm(multipartMemory); err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "expected a multipart form within the upload size limit"))
				return
			}
			defer r.MultipartForm.RemoveAll()
			in.Text = r.FormValue("message")
			if file, header, err := r.FormFile(fileField); err == nil {
				defer file.Close()
				in.File = file
				in.FileName = header.Filename
			}
		} else {
			var body sendRequest
			if err := validators.DecodeJSONBody(r, &body); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			in.Text = body.Message
		}

		msg, err := svc.SendMessage(r.Context(), middleware.ActorFromContext(r.Context()), orderID, in)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteCreated(w, msg)
	}
}

// Typing relays the caller's typing state to the other participant.
func Typing(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := validators.ParseIDParam(r, "order")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body typingRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.Typing(r.Context(), middleware.ActorFromContext(r.Context()), orderID, *body.IsTyping); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusAccepted, map[string]bool{"is_typing": *body.IsTyping})
	}
}

// MarkRead marks the counterparty's messages read and returns the receipt
// with the caller's remaining unread total.
func MarkRead(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := validators.ParseIDParam(r, "order")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		receipt, unread, err := svc.MarkRead(r.Context(), middleware.ActorFromContext(r.Context()), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, readResponse{Receipt: receipt, UnreadCount: unread})
	}
}

// Messages returns the whole thread of an order.
func Messages(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := validators.ParseIDParam(r, "order")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		thread, err := svc.Thread(r.Context(), middleware.ActorFromContext(r.Context()), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, thread)
	}
}

func isMultipart(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && strings.EqualFold(mediaType, "multipart/form-data")
}
