package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/kayakoyan/marketplace-backend/api/middleware"
	"github.com/kayakoyan/marketplace-backend/api/responses"
	"github.com/kayakoyan/marketplace-backend/api/validators"
	"github.com/kayakoyan/marketplace-backend/internal/realtime"
	"github.com/kayakoyan/marketplace-backend/pkg/logger"
)

// ChannelAuthorizer decides channel subscriptions.
type ChannelAuthorizer interface {
	Authorize(ctx context.Context, userID uint64, channel string) (realtime.Channel, error)
}

type broadcastingAuthRequest struct {
	ChannelName string `json:"channel_name" validate:"required,notblank,max=200"`
	SocketID    string `json:"socket_id" validate:"max=200"`
}

type presenceMember struct {
	ID   uint64 `json:"id"`
	Name string `json:"name"`
}

type broadcastingAuthResponse struct {
	Channel     string          `json:"channel"`
	Authorized  bool            `json:"authorized"`
	ChannelData *presenceMember `json:"channel_data,omitempty"`
}

// BroadcastingAuth tells a client whether it may join a channel. Presence
// channels also return the member payload the others will see.
func BroadcastingAuth(authz ChannelAuthorizer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body broadcastingAuthRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		actor := middleware.ActorFromContext(r.Context())
		ch, err := authz.Authorize(r.Context(), actor.UserID, strings.TrimSpace(body.ChannelName))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		resp := broadcastingAuthResponse{Channel: ch.String(), Authorized: true}
		if ch.Kind == realtime.KindOrderPresence {
			resp.ChannelData = &presenceMember{ID: actor.UserID, Name: actor.Name}
		}
		responses.WriteSuccess(w, resp)
	}
}
