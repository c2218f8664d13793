package repository

import (
	"context"
	"fmt"

	"github.com/rpattn/mora/internal/domain"
	"github.com/rpattn/mora/internal/paged"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	pkgerrors "github.com/pkg/errors"
)

type auditLogRepository struct {
	db DB
}

// NewAuditLogRepository creates a new audit log repository
func NewAuditLogRepository(db DB) AuditLogRepository {
	return &auditLogRepository{db: db}
}

// Record stores one operation and the UUIDs it touched.
func (r *auditLogRepository) Record(ctx context.Context, entry domain.AuditLogEntry) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return pkgerrors.WithStack(fmt.Errorf("failed to begin audit log transaction: %w", err))
	}
	defer func() { _ = tx.Rollback(ctx) }()

	id := entry.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	_, err = tx.Exec(ctx,
		"INSERT INTO audit_log_operation (id, actor, model, operation) VALUES ($1, $2, $3, $4)",
		id, entry.Actor, entry.Model, entry.Operation,
	)
	if err != nil {
		return pkgerrors.WithStack(fmt.Errorf("failed to insert audit log operation: %w", err))
	}

	if len(entry.UUIDs) > 0 {
		rows := make([][]any, 0, len(entry.UUIDs))
		for _, u := range domain.Dedupe(entry.UUIDs) {
			rows = append(rows, []any{id, u})
		}
		_, err = tx.CopyFrom(ctx, pgx.Identifier{"audit_log_read"}, []string{"operation_id", "uuid"}, pgx.CopyFromRows(rows))
		if err != nil {
			return pkgerrors.WithStack(fmt.Errorf("failed to insert audit log reads: %w", err))
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return pkgerrors.WithStack(fmt.Errorf("failed to commit audit log: %w", err))
	}
	return nil
}

func (r *auditLogRepository) List(ctx context.Context, filter domain.AuditLogFilter, p paged.Params) ([]domain.AuditLogEntry, error) {
	builder := newSQLBuilder()
	where := []string{"o.time <= " + builder.arg(p.ReferenceTime)}
	if filter.IDs != nil {
		where = append(where, "o.id = ANY("+builder.arg(filter.IDs)+"::uuid[])")
	}
	if filter.UUIDs != nil {
		where = append(where, "EXISTS (SELECT 1 FROM audit_log_read ar WHERE ar.operation_id = o.id AND ar.uuid = ANY("+builder.arg(filter.UUIDs)+"::uuid[]))")
	}
	if filter.Actors != nil {
		where = append(where, "o.actor = ANY("+builder.arg(filter.Actors)+"::uuid[])")
	}
	if filter.Models != nil {
		where = append(where, "o.model = ANY("+builder.arg(filter.Models)+"::text[])")
	}
	if filter.Start != nil {
		where = append(where, "o.time >= "+builder.arg(*filter.Start))
	}
	if filter.End != nil {
		where = append(where, "o.time < "+builder.arg(*filter.End))
	}

	query := "SELECT o.id, o.time, o.actor, o.model, o.operation, " +
		"ARRAY(SELECT ar.uuid FROM audit_log_read ar WHERE ar.operation_id = o.id ORDER BY ar.uuid) " +
		"FROM audit_log_operation o " + whereClause(where) +
		"ORDER BY o.time, o.id " + builder.page(p)

	rows, err := r.db.Query(ctx, query, builder.args...)
	if err != nil {
		return nil, pkgerrors.WithStack(fmt.Errorf("failed to list audit log: %w", err))
	}
	defer rows.Close()

	entries := []domain.AuditLogEntry{}
	for rows.Next() {
		var e domain.AuditLogEntry
		if err := rows.Scan(&e.ID, &e.Time, &e.Actor, &e.Model, &e.Operation, &e.UUIDs); err != nil {
			return nil, pkgerrors.WithStack(fmt.Errorf("failed to scan audit log entry: %w", err))
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, pkgerrors.WithStack(fmt.Errorf("failed to iterate audit log: %w", err))
	}
	return entries, nil
}
