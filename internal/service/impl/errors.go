package impl

import (
	"fmt"

	"intralink/internal/domain"
)

var (
	ErrEmptyPassword   = fmt.Errorf("%w: empty password", domain.ErrValidation)
	ErrEmptyCredential = fmt.Errorf("%w: empty credential(s)", domain.ErrValidation)
	ErrEmptyUsername   = fmt.Errorf("%w: empty username", domain.ErrValidation)
	ErrEmptyEmail      = fmt.Errorf("%w: empty email", domain.ErrValidation)
	ErrPasswordLength  = fmt.Errorf("%w: password too short", domain.ErrValidation)
	ErrRoleNotAllowed  = fmt.Errorf("%w: only admins may assign roles", domain.ErrForbidden)
)
