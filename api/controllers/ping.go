package controllers

import (
	"net/http"

	"github.com/kayakoyan/marketplace-backend/api/middleware"
	"github.com/kayakoyan/marketplace-backend/api/responses"
)

func PublicPing() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		responses.WriteSuccess(w, map[string]string{"scope": "public", "status": "ok"})
	}
}

// PrivatePing echoes the identity carried by the caller's token.
func PrivatePing() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor := middleware.ActorFromContext(r.Context())
		responses.WriteSuccess(w, map[string]any{
			"scope":   "private",
			"status":  "ok",
			"user_id": actor.UserID,
			"name":    actor.Name,
			"role":    actor.Role,
		})
	}
}
