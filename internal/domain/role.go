package domain

import (
	"fmt"
	"strings"
)

// Role is the closed set of staff roles used for authorization.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleHR    Role = "hr"
	RoleStaff Role = "staff"
)

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleHR, RoleStaff:
		return true
	}
	return false
}

func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if r == "" {
		return RoleStaff, nil
	}
	if !r.Valid() {
		return "", fmt.Errorf("%w: unknown role %q", ErrValidation, s)
	}
	return r, nil
}

type UserStatus string

const (
	UserActive    UserStatus = "active"
	UserSuspended UserStatus = "suspended"
	UserInactive  UserStatus = "inactive"
)
