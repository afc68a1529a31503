package dto

import (
	"time"

	"intralink/internal/jsondoc"
)

// SessionSummary is the non-sensitive view of a device session. Sensitive is
// only filled for internal diagnostics; neither view ever carries the refresh
// token, its hash or the session secret.
type SessionSummary struct {
	ID         string            `json:"id"`
	DeviceName string            `json:"deviceName"`
	DeviceType string            `json:"deviceType"`
	IPAddress  string            `json:"ipAddress,omitempty"`
	Location   string            `json:"location,omitempty"`
	CreatedAt  time.Time         `json:"createdAt"`
	LastUsedAt time.Time         `json:"lastUsedAt"`
	ExpiresAt  time.Time         `json:"expiresAt"`
	IsCurrent  bool              `json:"isCurrent"`
	Sensitive  *SessionSensitive `json:"sensitive,omitempty"`
}

type SessionSensitive struct {
	DeviceID  string       `json:"deviceId"`
	UserAgent string       `json:"userAgent"`
	Traits    jsondoc.JSON `json:"traits,omitempty"`
	Status    string       `json:"status"`
}
