package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserDisabled       = errors.New("user disabled")

	ErrSessionExpired = errors.New("session expired")
	ErrSessionRevoked = errors.New("session revoked")

	ErrTokenExpired   = errors.New("token expired")
	ErrTokenRevoked   = errors.New("token revoked")
	ErrTokenMalformed = errors.New("token malformed")

	ErrConnectionAuth = errors.New("connection authentication failed")
	ErrRegistryClosed = errors.New("presence registry closed")

	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrForbidden  = errors.New("forbidden")

	// ErrStoreUnavailable marks failures of the durability layer that a caller may retry.
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrStorage          = errors.New("storage failure")
)

// ErrDeviceMismatch is reported when a refresh token is presented from a
// device that holds no matching session. It is an ErrInvalidCredentials.
var ErrDeviceMismatch = fmt.Errorf("%w: device mismatch", ErrInvalidCredentials)

// IsAuthFailure reports whether err should surface as a generic 401.
func IsAuthFailure(err error) bool {
	return errors.Is(err, ErrInvalidCredentials) ||
		errors.Is(err, ErrSessionExpired) ||
		errors.Is(err, ErrSessionRevoked) ||
		errors.Is(err, ErrTokenExpired) ||
		errors.Is(err, ErrTokenRevoked) ||
		errors.Is(err, ErrTokenMalformed) ||
		errors.Is(err, ErrConnectionAuth)
}
