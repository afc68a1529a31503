package service

import (
	"context"

	"intralink/internal/domain"
	"intralink/internal/dto"
	"intralink/internal/fingerprint"

	"github.com/google/uuid"
)

// DeviceContext is the connection metadata a login or refresh arrives with.
type DeviceContext struct {
	IP             string
	UserAgent      string
	AcceptLanguage string
	Client         fingerprint.ClientAttributes
}

type AuthService interface {
	Register(ctx context.Context, r dto.RegisterRequest, actor *AccessClaims, dc DeviceContext) (*dto.UserResponse, error)
	Login(ctx context.Context, r dto.LoginRequest, dc DeviceContext) (*dto.LoginResponse, error)
	Refresh(ctx context.Context, refreshToken, deviceID string, dc DeviceContext) (*dto.TokenResponse, error)
	Logout(ctx context.Context, claims *AccessClaims, deviceID string, dc DeviceContext) error
	LogoutAll(ctx context.Context, claims *AccessClaims, dc DeviceContext) (int64, error)
	ListSessions(ctx context.Context, userID domain.UserID, currentDeviceID string, includeSensitive bool) ([]dto.SessionSummary, error)
	RevokeSession(ctx context.Context, userID domain.UserID, sessionID domain.SessionID, dc DeviceContext) (bool, error)
	Me(ctx context.Context, userID domain.UserID) (*dto.UserResponse, error)
	AdminLogoutAll(ctx context.Context, actor *AccessClaims, target uuid.UUID, dc DeviceContext) (int64, error)
	SweepExpired(ctx context.Context) (int64, error)
}
