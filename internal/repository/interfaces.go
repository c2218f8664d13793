package repository

import (
	"context"
	"time"

	"github.com/rpattn/mora/internal/domain"
	"github.com/rpattn/mora/internal/paged"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of pgxpool.Pool and pgx.Tx the repositories use.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Clock reads the time the store stamps registrations, events and audit
// records with. Listings pinned to it cannot miss or repeat rows because the
// application and database clocks disagree.
type Clock interface {
	Now(ctx context.Context) (time.Time, error)
}

// ObjectRepository is the bitemporal store accessor for entity versions
type ObjectRepository interface {
	// List returns every version overlapping q.Window for one page of UUIDs
	// matching q.Predicates, ordered by UUID and validity start.
	List(ctx context.Context, q domain.Query) ([]domain.Version, error)
	// GetByUUIDs returns the versions of ids overlapping window, and the set of
	// ids that exist at registrationTime regardless of window.
	GetByUUIDs(ctx context.Context, kind domain.Kind, ids []uuid.UUID, window domain.Window, registrationTime time.Time) ([]domain.Version, map[uuid.UUID]bool, error)
	// RootOrganisation returns the UUID of the single stored organisation.
	RootOrganisation(ctx context.Context) (uuid.UUID, error)
}

// SnapshotWriter records a new registration for one object
type SnapshotWriter interface {
	Write(ctx context.Context, snapshot domain.Snapshot) (domain.Registration, error)
}

// RegistrationRepository unions the registration tables of every category
type RegistrationRepository interface {
	List(ctx context.Context, filter domain.RegistrationFilter, p paged.Params) ([]domain.Registration, error)
}

// EventRepository defines the interface for listener and event operations
type EventRepository interface {
	DeclareListener(ctx context.Context, listener domain.Listener) (domain.Listener, error)
	ListListeners(ctx context.Context, filter domain.ListenerFilter, p paged.Params) ([]domain.Listener, error)
	Send(ctx context.Context, namespace, routingKey, subject string, priority int32) (int64, error)
	List(ctx context.Context, filter domain.EventFilter, p paged.Params) ([]domain.Event, error)
	// Claim atomically hands out one eligible event of listener owned by owner, or nil.
	Claim(ctx context.Context, owner, listener uuid.UUID, now time.Time) (*domain.Event, error)
	// Acknowledge deletes the event if its generation still matches and its
	// listener belongs to owner.
	Acknowledge(ctx context.Context, owner, id, generation uuid.UUID) (bool, error)
	SetSilenced(ctx context.Context, owner uuid.UUID, filter domain.EventFilter, silenced bool) (int64, error)
}

// AuditLogRepository defines the interface for audit log operations
type AuditLogRepository interface {
	Record(ctx context.Context, entry domain.AuditLogEntry) error
	List(ctx context.Context, filter domain.AuditLogFilter, p paged.Params) ([]domain.AuditLogEntry, error)
}
