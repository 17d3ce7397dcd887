package auth

import (
	"github.com/golang-jwt/jwt/v5"

	"github.com/kayakoyan/marketplace-backend/pkg/enums"
)

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	UserID uint64
	Name   string
	Role   enums.UserRole
}

// AccessTokenClaims represents the typed JWT issued to clients.
type AccessTokenClaims struct {
	UserID uint64         `json:"user_id"`
	Name   string         `json:"name,omitempty"`
	Role   enums.UserRole `json:"role"`
	jwt.RegisteredClaims
}
