package impl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"intralink/internal/domain"
	"intralink/internal/dto"
	"intralink/internal/observability/metrics"
	"intralink/internal/observability/middleware"
	"intralink/internal/service"

	"github.com/google/uuid"
)

// Refresh exchanges a device-bound refresh token for a new access token. The
// refresh token itself is kept; it only rotates on the next login.
func (a *AuthServiceImpl) Refresh(ctx context.Context, refreshToken, deviceID string, dc service.DeviceContext) (*dto.TokenResponse, error) {
	sess, err := a.Store.Sessions().VerifyRefreshToken(ctx, refreshToken, deviceID, dc.IP)
	if err != nil {
		metrics.TokensIssuedTotal.WithLabelValues("refresh", "rejected").Inc()
		if domain.IsAuthFailure(err) {
			slog.Info("refresh rejected", append([]any{"device_id", deviceID, "reason", err}, middleware.LogAttrs(ctx)...)...)
			return nil, domain.ErrInvalidCredentials
		}
		return nil, err
	}

	user, err := a.Store.Users().GetByID(ctx, sess.UserID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrInvalidCredentials
		}
		return nil, err
	}
	if !user.Active() {
		metrics.TokensIssuedTotal.WithLabelValues("refresh", "rejected").Inc()
		return nil, domain.ErrUserDisabled
	}

	issued, err := a.TService.Issue(ctx, user.ID, user.Role)
	if err != nil {
		metrics.TokensIssuedTotal.WithLabelValues("refresh", "error").Inc()
		return nil, err
	}
	metrics.TokensIssuedTotal.WithLabelValues("refresh", "success").Inc()
	return &dto.TokenResponse{
		AccessToken: issued.Token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(issued.ExpiresAt.Sub(issued.IssuedAt).Seconds()),
	}, nil
}

// Logout revokes the caller's session on deviceID, when one is given, and the
// presented access token. Both are attempted even if one fails.
func (a *AuthServiceImpl) Logout(ctx context.Context, claims *service.AccessClaims, deviceID string, dc service.DeviceContext) error {
	userID, err := claims.UserID()
	if err != nil {
		return err
	}
	var sessErr error
	if deviceID != "" {
		n, err := a.Store.Sessions().RevokeDeviceSessions(ctx, userID, deviceID, domain.ReasonLogout)
		if err != nil {
			sessErr = fmt.Errorf("revoke device session: %w", err)
		} else if n > 0 {
			metrics.SessionsRevokedTotal.WithLabelValues(domain.ReasonLogout).Add(float64(n))
		}
	}
	tokenErr := a.TService.Revoke(ctx, claims.ID, claims.Expiry())
	if tokenErr == nil && a.Notifier != nil {
		a.Notifier.DisconnectToken(ctx, claims.ID)
	}
	if err := errors.Join(sessErr, tokenErr); err != nil {
		return err
	}
	a.audit(ctx, &userID, domain.AuditLogout, map[string]any{"device_id": deviceID}, dc)
	return nil
}

func (a *AuthServiceImpl) LogoutAll(ctx context.Context, claims *service.AccessClaims, dc service.DeviceContext) (int64, error) {
	userID, err := claims.UserID()
	if err != nil {
		return 0, err
	}
	n, sessErr := a.Store.Sessions().RevokeAllSessions(ctx, userID, nil, domain.ReasonLogoutAll)
	tokenErr := a.TService.Revoke(ctx, claims.ID, claims.Expiry())
	if err := errors.Join(sessErr, tokenErr); err != nil {
		return n, err
	}
	metrics.SessionsRevokedTotal.WithLabelValues(domain.ReasonLogoutAll).Add(float64(n))
	a.audit(ctx, &userID, domain.AuditLogoutAll, map[string]any{"revoked": n}, dc)
	a.dropConnections(ctx, userID, domain.Event{
		Type: domain.EventSessionsRevoked,
		Data: domain.SessionsRevoked{All: true, Reason: domain.ReasonLogoutAll},
	})
	return n, nil
}

// ListSessions returns the user's usable sessions. Sensitive fields are only
// filled when includeSensitive is set; the token hash and secret never leave
// the store.
func (a *AuthServiceImpl) ListSessions(ctx context.Context, userID domain.UserID, currentDeviceID string, includeSensitive bool) ([]dto.SessionSummary, error) {
	sessions, err := a.Store.Sessions().ListActive(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]dto.SessionSummary, 0, len(sessions))
	for i := range sessions {
		s := &sessions[i]
		sum := dto.SessionSummary{
			ID:         s.ID.String(),
			DeviceName: s.DeviceName,
			DeviceType: string(s.DeviceType),
			IPAddress:  s.IPAddress,
			Location:   s.Location,
			CreatedAt:  s.CreatedAt,
			LastUsedAt: s.LastUsedAt,
			ExpiresAt:  s.ExpiresAt,
			IsCurrent:  currentDeviceID != "" && s.DeviceID == currentDeviceID,
		}
		if includeSensitive {
			sum.Sensitive = &dto.SessionSensitive{
				DeviceID:  s.DeviceID,
				UserAgent: s.UserAgent,
				Traits:    s.Traits,
				Status:    string(s.Status),
			}
		}
		out = append(out, sum)
	}
	return out, nil
}

// RevokeSession revokes one of the user's own sessions. It reports false when
// no active session with that id belongs to the user.
func (a *AuthServiceImpl) RevokeSession(ctx context.Context, userID domain.UserID, sessionID domain.SessionID, dc service.DeviceContext) (bool, error) {
	ok, err := a.Store.Sessions().RevokeSession(ctx, sessionID, &userID, domain.ReasonUser)
	if err != nil || !ok {
		return false, err
	}
	metrics.SessionsRevokedTotal.WithLabelValues(domain.ReasonUser).Inc()
	a.audit(ctx, &userID, domain.AuditRevoke, map[string]any{"session_id": sessionID}, dc)
	a.notify(userID, domain.Event{
		Type: domain.EventSessionsRevoked,
		Data: domain.SessionsRevoked{SessionIDs: []domain.SessionID{sessionID}, Reason: domain.ReasonUser},
	})
	return true, nil
}

// AdminLogoutAll revokes every session of target on behalf of an admin or
// HR and closes target's live connections. Access tokens already issued to
// target stay valid until they expire.
func (a *AuthServiceImpl) AdminLogoutAll(ctx context.Context, actor *service.AccessClaims, target uuid.UUID, dc service.DeviceContext) (int64, error) {
	if actor == nil || (actor.Role != domain.RoleAdmin && actor.Role != domain.RoleHR) {
		return 0, domain.ErrForbidden
	}
	if _, err := a.Store.Users().GetByID(ctx, target); err != nil {
		return 0, err
	}
	n, err := a.Store.Sessions().RevokeAllSessions(ctx, target, nil, domain.ReasonAdmin)
	if err != nil {
		return 0, err
	}
	metrics.SessionsRevokedTotal.WithLabelValues(domain.ReasonAdmin).Add(float64(n))
	a.audit(ctx, &target, domain.AuditAdminLogout, map[string]any{"by": actor.Subject, "revoked": n}, dc)
	slog.Info("admin revoked sessions", append([]any{"target", target, "actor", actor.Subject, "revoked", n}, middleware.LogAttrs(ctx)...)...)
	a.dropConnections(ctx, target, domain.Event{
		Type: domain.EventSessionsRevoked,
		Data: domain.SessionsRevoked{All: true, Reason: domain.ReasonAdmin},
	})
	return n, nil
}

func (a *AuthServiceImpl) SweepExpired(ctx context.Context) (int64, error) {
	n, err := a.Store.Sessions().SweepExpired(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		metrics.SessionsExpiredTotal.Add(float64(n))
		slog.Info("expired sessions swept", "count", n)
	}
	return n, nil
}
