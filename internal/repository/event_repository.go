package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rpattn/mora/internal/domain"
	"github.com/rpattn/mora/internal/paged"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	pkgerrors "github.com/pkg/errors"
)

const eventColumns = "e.uuid, e.listener_uuid, e.subject, e.priority, e.silenced, e.fetched_count, e.last_tried, e.generation, e.created_at"

// backoffExpr is the SQL rendition of domain.EventBackoff for alias e.
var backoffExpr = fmt.Sprintf(
	"LEAST(GREATEST(power(2, LEAST(e.fetched_count, %d)) * interval '1 second', interval '%d seconds'), interval '%d seconds')",
	domain.MaxBackoffExponent, int64(domain.MinEventBackoff/time.Second), int64(domain.MaxEventBackoff/time.Second),
)

var claimEventQuery = `
WITH candidate AS (
	SELECT e.uuid
	FROM event e
	JOIN event_listener l ON l.uuid = e.listener_uuid
	WHERE l.owner = $1
	  AND l.uuid = $2
	  AND NOT e.silenced
	  AND (e.last_tried IS NULL OR e.last_tried < $3::timestamptz - ` + backoffExpr + `)
	ORDER BY e.priority, e.fetched_count
	LIMIT 1
	FOR UPDATE OF e SKIP LOCKED
)
UPDATE event AS e
SET last_tried = $3,
    fetched_count = e.fetched_count + 1,
    generation = gen_random_uuid()
FROM candidate
WHERE e.uuid = candidate.uuid
RETURNING ` + eventColumns

type eventRepository struct {
	db DB
}

// NewEventRepository creates a new event repository
func NewEventRepository(db DB) EventRepository {
	return &eventRepository{db: db}
}

func (r *eventRepository) DeclareListener(ctx context.Context, listener domain.Listener) (domain.Listener, error) {
	query := `
INSERT INTO event_listener (owner, namespace, user_key, routing_key)
VALUES ($1, $2, $3, $4)
ON CONFLICT (owner, namespace, user_key) DO UPDATE SET routing_key = EXCLUDED.routing_key
RETURNING uuid, owner, namespace, user_key, routing_key`

	var out domain.Listener
	err := r.db.QueryRow(ctx, query, listener.Owner, listener.Namespace, listener.UserKey, listener.RoutingKey).
		Scan(&out.UUID, &out.Owner, &out.Namespace, &out.UserKey, &out.RoutingKey)
	if err != nil {
		return domain.Listener{}, pkgerrors.WithStack(fmt.Errorf("failed to declare listener: %w", err))
	}
	return out, nil
}

func (r *eventRepository) ListListeners(ctx context.Context, filter domain.ListenerFilter, p paged.Params) ([]domain.Listener, error) {
	builder := newSQLBuilder()
	var where []string
	if filter.UUIDs != nil {
		where = append(where, "l.uuid = ANY("+builder.arg(filter.UUIDs)+"::uuid[])")
	}
	if filter.Owners != nil {
		where = append(where, "l.owner = ANY("+builder.arg(filter.Owners)+"::uuid[])")
	}
	if filter.Namespaces != nil {
		where = append(where, "l.namespace = ANY("+builder.arg(filter.Namespaces)+"::text[])")
	}
	if filter.UserKeys != nil {
		where = append(where, "l.user_key = ANY("+builder.arg(filter.UserKeys)+"::text[])")
	}
	if filter.RoutingKeys != nil {
		where = append(where, "l.routing_key = ANY("+builder.arg(filter.RoutingKeys)+"::text[])")
	}

	query := "SELECT l.uuid, l.owner, l.namespace, l.user_key, l.routing_key FROM event_listener l " +
		whereClause(where) + "ORDER BY l.uuid " + builder.page(p)

	rows, err := r.db.Query(ctx, query, builder.args...)
	if err != nil {
		return nil, pkgerrors.WithStack(fmt.Errorf("failed to list listeners: %w", err))
	}
	defer rows.Close()

	listeners := []domain.Listener{}
	for rows.Next() {
		var l domain.Listener
		if err := rows.Scan(&l.UUID, &l.Owner, &l.Namespace, &l.UserKey, &l.RoutingKey); err != nil {
			return nil, pkgerrors.WithStack(fmt.Errorf("failed to scan listener: %w", err))
		}
		listeners = append(listeners, l)
	}
	if err := rows.Err(); err != nil {
		return nil, pkgerrors.WithStack(fmt.Errorf("failed to iterate listeners: %w", err))
	}
	return listeners, nil
}

// Send queues subject for every listener bound to namespace and routingKey. A
// pending event with the same subject is reset and keeps the higher priority.
func (r *eventRepository) Send(ctx context.Context, namespace, routingKey, subject string, priority int32) (int64, error) {
	query := `
INSERT INTO event (listener_uuid, subject, priority)
SELECT l.uuid, $3, $4 FROM event_listener l WHERE l.namespace = $1 AND l.routing_key = $2
ON CONFLICT (listener_uuid, subject) DO UPDATE
SET priority = LEAST(event.priority, EXCLUDED.priority),
    fetched_count = 0,
    last_tried = NULL`

	tag, err := r.db.Exec(ctx, query, namespace, routingKey, subject, priority)
	if err != nil {
		return 0, pkgerrors.WithStack(fmt.Errorf("failed to send event: %w", err))
	}
	return tag.RowsAffected(), nil
}

func eventWhere(filter domain.EventFilter, builder *sqlBuilder) []string {
	var where []string
	if filter.Listeners != nil {
		where = append(where, "e.listener_uuid = ANY("+builder.arg(filter.Listeners)+"::uuid[])")
	}
	if filter.Owners != nil {
		where = append(where, "e.listener_uuid IN (SELECT uuid FROM event_listener WHERE owner = ANY("+builder.arg(filter.Owners)+"::uuid[]))")
	}
	if filter.Subjects != nil {
		where = append(where, "e.subject = ANY("+builder.arg(filter.Subjects)+"::text[])")
	}
	if filter.Priorities != nil {
		where = append(where, "e.priority = ANY("+builder.arg(filter.Priorities)+"::int[])")
	}
	if filter.Silenced != nil {
		where = append(where, "e.silenced = "+builder.arg(*filter.Silenced))
	}
	return where
}

func (r *eventRepository) List(ctx context.Context, filter domain.EventFilter, p paged.Params) ([]domain.Event, error) {
	builder := newSQLBuilder()
	where := append([]string{"e.created_at <= " + builder.arg(p.ReferenceTime)}, eventWhere(filter, builder)...)

	query := "SELECT " + eventColumns + " FROM event e " + whereClause(where) +
		"ORDER BY e.priority, e.last_tried NULLS FIRST, e.uuid " + builder.page(p)

	rows, err := r.db.Query(ctx, query, builder.args...)
	if err != nil {
		return nil, pkgerrors.WithStack(fmt.Errorf("failed to list events: %w", err))
	}
	defer rows.Close()

	events := []domain.Event{}
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, pkgerrors.WithStack(fmt.Errorf("failed to iterate events: %w", err))
	}
	return events, nil
}

func (r *eventRepository) Claim(ctx context.Context, owner, listener uuid.UUID, now time.Time) (*domain.Event, error) {
	e, err := scanEvent(r.db.QueryRow(ctx, claimEventQuery, owner, listener, now))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &e, nil
}

func (r *eventRepository) Acknowledge(ctx context.Context, owner, id, generation uuid.UUID) (bool, error) {
	query := `
DELETE FROM event e
USING event_listener l
WHERE e.uuid = $2
  AND e.generation = $3
  AND l.uuid = e.listener_uuid
  AND l.owner = $1`

	tag, err := r.db.Exec(ctx, query, owner, id, generation)
	if err != nil {
		return false, pkgerrors.WithStack(fmt.Errorf("failed to acknowledge event: %w", err))
	}
	return tag.RowsAffected() == 1, nil
}

func (r *eventRepository) SetSilenced(ctx context.Context, owner uuid.UUID, filter domain.EventFilter, silenced bool) (int64, error) {
	builder := newSQLBuilder()
	filter.Owners = []uuid.UUID{owner}
	where := eventWhere(filter, builder)

	query := "UPDATE event AS e SET silenced = " + builder.arg(silenced) + " " + whereClause(where)
	tag, err := r.db.Exec(ctx, query, builder.args...)
	if err != nil {
		return 0, pkgerrors.WithStack(fmt.Errorf("failed to update event silencing: %w", err))
	}
	return tag.RowsAffected(), nil
}

func scanEvent(row pgx.Row) (domain.Event, error) {
	var e domain.Event
	err := row.Scan(&e.UUID, &e.ListenerUUID, &e.Subject, &e.Priority, &e.Silenced, &e.FetchedCount, &e.LastTried, &e.Generation, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Event{}, err
		}
		return domain.Event{}, pkgerrors.WithStack(fmt.Errorf("failed to scan event: %w", err))
	}
	return e, nil
}
