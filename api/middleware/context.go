package middleware

import (
	"context"

	"github.com/kayakoyan/marketplace-backend/internal/orders"
	"github.com/kayakoyan/marketplace-backend/pkg/enums"
)

type contextKey string

const (
	ctxUserID   contextKey = "user_id"
	ctxRole     contextKey = "actor_role"
	ctxUserName contextKey = "user_name"
)

func UserIDFromContext(ctx context.Context) uint64 {
	if ctx == nil {
		return 0
	}
	if v, ok := ctx.Value(ctxUserID).(uint64); ok {
		return v
	}
	return 0
}

func RoleFromContext(ctx context.Context) enums.UserRole {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxRole).(enums.UserRole); ok {
		return v
	}
	return ""
}

func UserNameFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxUserName).(string); ok {
		return v
	}
	return ""
}

// WithIdentity injects the authenticated user into the context.
func WithIdentity(ctx context.Context, userID uint64, name string, role enums.UserRole) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = context.WithValue(ctx, ctxUserID, userID)
	ctx = context.WithValue(ctx, ctxUserName, name)
	return context.WithValue(ctx, ctxRole, role)
}

// ActorFromContext returns the caller as an order actor. The zero actor means
// the request was not authenticated.
func ActorFromContext(ctx context.Context) orders.Actor {
	return orders.Actor{
		UserID: UserIDFromContext(ctx),
		Role:   RoleFromContext(ctx),
		Name:   UserNameFromContext(ctx),
	}
}
