package domain

import (
	"time"

	"intralink/internal/jsondoc"
)

type SessionStatus string

const (
	SessionActive  SessionStatus = "active"
	SessionRevoked SessionStatus = "revoked"
	SessionExpired SessionStatus = "expired"
)

type DeviceType string

const (
	DeviceDesktop DeviceType = "desktop"
	DeviceMobile  DeviceType = "mobile"
	DeviceTablet  DeviceType = "tablet"
	DeviceUnknown DeviceType = "unknown"
)

// Revocation reasons recorded on a session.
const (
	ReasonLogout    = "logout"
	ReasonLogoutAll = "logout_all"
	ReasonRotated   = "rotated"
	ReasonUser      = "user_revoked"
	ReasonAdmin     = "admin_revoked"
)

// DeviceSession is a device-bound refresh session. The raw refresh token is
// never stored; RefreshTokenHash is hex(sha256(token ":" SessionSecret)).
type DeviceSession struct {
	ID               SessionID     `gorm:"type:uuid;primaryKey" db:"id"`
	UserID           UserID        `gorm:"type:uuid;not null;index:idx_device_user,priority:2;index:idx_sessions_user" db:"user_id"`
	DeviceID         string        `gorm:"type:varchar(64);not null;index:idx_device_user,priority:1" db:"device_id"`
	DeviceName       string        `gorm:"type:text" db:"device_name"`
	DeviceType       DeviceType    `gorm:"type:text;not null;default:unknown" db:"device_type"`
	UserAgent        string        `gorm:"type:text" db:"user_agent"`
	IPAddress        string        `gorm:"type:text" db:"ip_address"`
	Location         string        `gorm:"type:text" db:"location"`
	Traits           jsondoc.JSON  `gorm:"type:text" db:"traits"`
	RefreshTokenHash string        `gorm:"type:varchar(64);not null;index:idx_token_active,priority:1" db:"refresh_token_hash"`
	SessionSecret    string        `gorm:"type:varchar(64);not null" db:"session_secret"`
	Status           SessionStatus `gorm:"type:text;not null;default:active;index:idx_token_active,priority:2" db:"status"`
	CreatedAt        time.Time     `gorm:"not null" db:"created_at"`
	LastUsedAt       time.Time     `gorm:"not null" db:"last_used_at"`
	ExpiresAt        time.Time     `gorm:"not null;index" db:"expires_at"`
	RevokedAt        *time.Time    `db:"revoked_at"`
	RevokeReason     string        `gorm:"type:text" db:"revoke_reason"`
}

func (DeviceSession) TableName() string { return "device_sessions" }

// Usable reports whether the session is active and not past its expiry at t.
func (s *DeviceSession) Usable(t time.Time) bool {
	return s.Status == SessionActive && t.Before(s.ExpiresAt)
}

// Unusable maps a non-usable session to the error that describes it.
func (s *DeviceSession) Unusable(t time.Time) error {
	switch {
	case s.Status == SessionRevoked:
		return ErrSessionRevoked
	case s.Status == SessionExpired, !t.Before(s.ExpiresAt):
		return ErrSessionExpired
	}
	return nil
}
