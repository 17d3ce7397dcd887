package chats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kayakoyan/marketplace-backend/api/middleware"
	"github.com/kayakoyan/marketplace-backend/api/responses"
	"github.com/kayakoyan/marketplace-backend/api/validators"
	"github.com/kayakoyan/marketplace-backend/internal/chat"
	"github.com/kayakoyan/marketplace-backend/internal/realtime"
	pkgerrors "github.com/kayakoyan/marketplace-backend/pkg/errors"
	"github.com/kayakoyan/marketplace-backend/pkg/logger"
)

const (
	defaultStreamBudget = 30 * time.Second
	defaultStreamPoll   = 2 * time.Second
	lastEventIDHeader   = "Last-Event-ID"
)

// StreamOptions bounds one SSE connection. Budget is the total lifetime;
// Poll is how long each wait for new messages lasts.
type StreamOptions struct {
	Budget time.Duration
	Poll   time.Duration
}

func (o StreamOptions) normalized() StreamOptions {
	if o.Budget <= 0 {
		o.Budget = defaultStreamBudget
	}
	if o.Poll <= 0 {
		o.Poll = defaultStreamPoll
	}
	if o.Poll > o.Budget {
		o.Poll = o.Budget
	}
	return o
}

// Stream is the server-sent events fallback for clients without websockets.
// It emits every message newer than the cursor as
//
//	id: <message id>
//	event: message.sent
//	data: <payload>
//
// plus a heartbeat comment per wait, and closes after the budget. Clients
// reconnect with ?last_id= or Last-Event-ID set to the last id they saw.
func Stream(svc Service, opts StreamOptions, logg *logger.Logger) http.HandlerFunc {
	opts = opts.normalized()
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := validators.ParseIDParam(r, "order")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		lastID, err := streamCursor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "streaming unsupported"))
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), opts.Budget)
		defer cancel()

		tail, err := svc.OpenFeed(ctx, middleware.ActorFromContext(r.Context()), orderID, lastID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		defer tail.Close()

		h := w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		sent := 0
		for {
			msgs, err := tail.Next(ctx, opts.Poll)
			for _, msg := range msgs {
				if werr := writeMessage(w, msg); werr != nil {
					return
				}
				sent++
			}
			if err != nil {
				if logg != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
					logg.Error(logg.WithOrderID(r.Context(), orderID), "chat stream feed failed", err)
				}
				break
			}
			if _, werr := io.WriteString(w, ": heartbeat\n\n"); werr != nil {
				return
			}
			flusher.Flush()
			if ctx.Err() != nil {
				break
			}
		}
		flusher.Flush()
		if logg != nil {
			logg.Debug(logg.WithFields(r.Context(), map[string]any{"order_id": orderID, "sent": sent}), "chat stream closed")
		}
	}
}

func streamCursor(r *http.Request) (uint64, error) {
	if strings.TrimSpace(r.URL.Query().Get("last_id")) != "" {
		return validators.ParseQueryUint(r, "last_id")
	}
	raw := strings.TrimSpace(r.Header.Get(lastEventIDHeader))
	if raw == "" {
		return 0, nil
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "invalid Last-Event-ID header")
	}
	return id, nil
}

func writeMessage(w io.Writer, msg chat.MessagePayload) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", msg.ID, realtime.EventMessageSent, data)
	return err
}
