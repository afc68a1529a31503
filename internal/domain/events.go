package domain

import "time"

// Event names pushed to live connections.
const (
	EventUserStatusChanged = "user_status_changed"
	EventOnlineUsersList   = "online_users_list"
	EventSessionsRevoked   = "sessions_revoked"
	EventAnnouncement      = "announcement"
	EventPong              = "pong"
	EventError             = "error"
)

// Event is the envelope written to a live connection.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

type UserStatusChanged struct {
	UserID   UserID     `json:"user_id"`
	Username string     `json:"username"`
	IsOnline bool       `json:"is_online"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}

type SessionsRevoked struct {
	SessionIDs []SessionID `json:"session_ids,omitempty"`
	All        bool        `json:"all"`
	Reason     string      `json:"reason"`
}

type Announcement struct {
	From    UserID        `json:"from"`
	Message string        `json:"message"`
	Dept    *DepartmentID `json:"department_id,omitempty"`
	SentAt  time.Time     `json:"sent_at"`
}
