package dto

import (
	"time"

	"intralink/internal/fingerprint"
)

type LoginRequest struct {
	Username   string                       `json:"username"`
	Password   string                       `json:"password"`
	RememberMe bool                         `json:"rememberMe"`
	Device     fingerprint.ClientAttributes `json:"device"`
}

type LoginResponse struct {
	AccessToken      string           `json:"accessToken"`
	TokenType        string           `json:"tokenType"`
	ExpiresIn        int64            `json:"expiresIn"`
	DeviceID         string           `json:"deviceId"`
	DeviceInfo       fingerprint.Info `json:"deviceInfo"`
	SessionID        string           `json:"sessionId,omitempty"`
	SessionExpiresAt *time.Time       `json:"sessionExpiresAt,omitempty"`
	User             UserResponse     `json:"user"`

	// RefreshToken is delivered out of band as an http-only cookie.
	RefreshToken string `json:"-"`
}
