package domain

import (
	"time"

	"github.com/google/uuid"

	"intralink/internal/jsondoc"
)

const (
	AuditRegister     = "register"
	AuditLogin        = "login"
	AuditLoginFailed  = "login_failed"
	AuditLogout       = "logout"
	AuditLogoutAll    = "logout_all"
	AuditRevoke       = "session_revoke"
	AuditDeviceDrift  = "device_drift"
	AuditAdminLogout  = "admin_logout_all"
	AuditSessionSweep = "session_sweep"
)

type AuditLog struct {
	ID        uuid.UUID    `gorm:"type:uuid;primaryKey" db:"id"`
	UserID    *UserID      `gorm:"type:uuid;index" db:"user_id"`
	Action    string       `gorm:"type:text;not null" db:"action"`
	Metadata  jsondoc.JSON `gorm:"type:text" db:"metadata"`
	IP        string       `gorm:"type:text" db:"ip"`
	UserAgent string       `gorm:"type:text" db:"user_agent"`
	CreatedAt time.Time    `gorm:"not null;index" db:"created_at"`
}

func (AuditLog) TableName() string { return "audit_logs" }
