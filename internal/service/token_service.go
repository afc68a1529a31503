package service

import (
	"context"
	"fmt"
	"time"

	"intralink/internal/domain"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AccessClaims are the claims carried by an access token.
type AccessClaims struct {
	Role domain.Role `json:"role"`
	jwt.RegisteredClaims
}

func (c *AccessClaims) UserID() (uuid.UUID, error) {
	id, err := uuid.Parse(c.Subject)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: bad subject", domain.ErrTokenMalformed)
	}
	return id, nil
}

func (c *AccessClaims) Expiry() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

type IssuedToken struct {
	Token     string
	JTI       string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type TokenService interface {
	Issue(ctx context.Context, userID domain.UserID, role domain.Role) (*IssuedToken, error)
	// Validate checks signature and expiry first and only then the revocation set.
	Validate(ctx context.Context, token string) (*AccessClaims, error)
	Revoke(ctx context.Context, jti string, expiresAt time.Time) error
}
