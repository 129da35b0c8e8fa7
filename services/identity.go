package services

import (
	"context"

	"github.com/golang-jwt/jwt/v5"

	apperr "trust-payments/errors"
	"trust-payments/logger"
	"trust-payments/models"
)

// RoleAdmin is the user_roles role that grants admin access.
const RoleAdmin = "admin"

// IdentityClaims are the claims of a bearer token issued by the identity
// provider. Subject is the user id.
type IdentityClaims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Identity resolves bearer tokens to callers.
type Identity struct {
	secret []byte
	roles  RoleStore
}

func NewIdentity(secret string, roles RoleStore) *Identity {
	return &Identity{secret: []byte(secret), roles: roles}
}

// Authenticate validates an HS256 token and looks up the caller's admin role.
func (i *Identity) Authenticate(ctx context.Context, token string) (models.Caller, error) {
	if len(i.secret) == 0 {
		return models.Caller{}, apperr.E(apperr.Config, "auth secret not configured")
	}
	if token == "" {
		return models.Caller{}, apperr.NewUnauthorizedError("authentication required")
	}

	claims := &IdentityClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return i.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		logger.Debug("[AUTH] Token rejected: %v", err)
		return models.Caller{}, apperr.NewUnauthorizedError("invalid or expired token")
	}
	if claims.Subject == "" {
		return models.Caller{}, apperr.NewUnauthorizedError("token has no subject")
	}

	admin, err := i.roles.HasRole(ctx, claims.Subject, RoleAdmin)
	if err != nil {
		return models.Caller{}, err
	}
	return models.Caller{UserID: claims.Subject, Email: claims.Email, Admin: admin}, nil
}

// IssueToken signs a token for userID. Used by the CLI and tests; production
// tokens come from the identity provider.
func (i *Identity) IssueToken(claims IdentityClaims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
}
