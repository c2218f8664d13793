package domain

import (
	"time"

	"github.com/google/uuid"
)

// Registration records when, and by whom, a change to an object was recorded.
type Registration struct {
	Model string
	ID    int64
	UUID  uuid.UUID
	Actor uuid.UUID
	Note  *string
	Start time.Time
	// End is nil while the registration is still in effect.
	End *time.Time
}

// RegistrationFilter narrows the registration stream. Nil fields are unconstrained.
type RegistrationFilter struct {
	UUIDs  []uuid.UUID
	Actors []uuid.UUID
	Models []string
	Start  *time.Time
	End    *time.Time
}

// AuditLogEntry records one operation performed against the API.
type AuditLogEntry struct {
	ID        uuid.UUID
	Time      time.Time
	Actor     uuid.UUID
	Model     string
	Operation string
	UUIDs     []uuid.UUID
}

// AuditLogFilter narrows the audit log. Nil fields are unconstrained.
type AuditLogFilter struct {
	IDs    []uuid.UUID
	UUIDs  []uuid.UUID
	Actors []uuid.UUID
	Models []string
	Start  *time.Time
	End    *time.Time
}

// Snapshot is a complete set of versions for one object, written as a new registration.
type Snapshot struct {
	Kind     Kind
	UUID     uuid.UUID
	Actor    uuid.UUID
	Note     *string
	Versions []Version
}
