package impl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"intralink/internal/domain"
	"intralink/internal/jwtsigner"
	"intralink/internal/observability/metrics"
	"intralink/internal/observability/middleware"
	"intralink/internal/revocation"
	"intralink/internal/service"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type TokenConfig struct {
	Issuer    string        // e.g. "intralink"
	Audience  string        // e.g. "intralink-clients"
	AccessTTL time.Duration // e.g. time.Hour
}

var _ service.TokenService = (*TokenServiceImpl)(nil)

type TokenServiceImpl struct {
	cfg     TokenConfig
	signer  *jwtsigner.Signer
	revoked revocation.Set
	now     func() time.Time
}

func NewTokenService(cfg TokenConfig, signer *jwtsigner.Signer, revoked revocation.Set) *TokenServiceImpl {
	return &TokenServiceImpl{
		cfg:     cfg,
		signer:  signer,
		revoked: revoked,
		now:     time.Now,
	}
}

// WithClock overrides the clock for tests.
func (t *TokenServiceImpl) WithClock(clock func() time.Time) *TokenServiceImpl {
	t.now = clock
	return t
}

// Issue signs a new access token for the user with a fresh jti.
func (t *TokenServiceImpl) Issue(ctx context.Context, userID domain.UserID, role domain.Role) (*service.IssuedToken, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("%w: missing subject", domain.ErrValidation)
	}
	now := t.now().UTC().Truncate(time.Second)
	exp := now.Add(t.cfg.AccessTTL)
	jti := uuid.NewString()
	claims := service.AccessClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.cfg.Issuer,
			Subject:   userID.String(),
			Audience:  jwt.ClaimStrings{t.cfg.Audience},
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        jti,
		},
	}
	signed, err := t.signer.Sign(claims)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}
	slog.Debug("issued access token", append([]any{"user_id", userID, "jti", jti}, middleware.LogAttrs(ctx)...)...)
	return &service.IssuedToken{Token: signed, JTI: jti, IssuedAt: now, ExpiresAt: exp}, nil
}

// Validate runs the stateless checks (signature, expiry, issuer, audience)
// before consulting the revocation set.
func (t *TokenServiceImpl) Validate(ctx context.Context, token string) (*service.AccessClaims, error) {
	result := "valid"
	defer func() {
		metrics.TokenValidationsTotal.WithLabelValues(result).Inc()
	}()

	token = strings.TrimSpace(token)
	if token == "" {
		result = "malformed"
		return nil, domain.ErrTokenMalformed
	}
	claims := &service.AccessClaims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{t.signer.Alg()}),
		jwt.WithIssuer(t.cfg.Issuer),
		jwt.WithAudience(t.cfg.Audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if _, err := parser.ParseWithClaims(token, claims, t.signer.Keyfunc); err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			result = "expired"
			return nil, domain.ErrTokenExpired
		}
		result = "malformed"
		return nil, fmt.Errorf("%w: %v", domain.ErrTokenMalformed, err)
	}
	if claims.ID == "" {
		result = "malformed"
		return nil, fmt.Errorf("%w: missing jti", domain.ErrTokenMalformed)
	}
	if _, err := claims.UserID(); err != nil {
		result = "malformed"
		return nil, err
	}

	revoked, err := t.revoked.Contains(ctx, claims.ID)
	if err != nil {
		result = "error"
		return nil, fmt.Errorf("%w: revocation set: %v", domain.ErrStoreUnavailable, err)
	}
	if revoked {
		result = "revoked"
		return nil, domain.ErrTokenRevoked
	}
	return claims, nil
}

// Revoke adds jti to the revocation set until expiresAt.
func (t *TokenServiceImpl) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	if err := t.revoked.Add(ctx, jti, expiresAt); err != nil {
		if errors.Is(err, revocation.ErrEmptyJTI) {
			return fmt.Errorf("%w: %v", domain.ErrValidation, err)
		}
		return fmt.Errorf("%w: revocation set: %v", domain.ErrStoreUnavailable, err)
	}
	slog.Info("access token revoked", append([]any{"jti", jti, "expires_at", expiresAt}, middleware.LogAttrs(ctx)...)...)
	return nil
}
