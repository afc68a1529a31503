package domain

import "github.com/google/uuid"

type UserID = uuid.UUID
type SessionID = uuid.UUID
type DepartmentID = uuid.UUID
type CredentialID = uuid.UUID
