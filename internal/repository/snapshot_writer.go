package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/rpattn/mora/internal/domain"

	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"
)

type snapshotWriter struct {
	db DB
}

// NewSnapshotWriter creates a writer recording new registrations. db may be a
// pool or an open transaction; the registration starts at the transaction time.
func NewSnapshotWriter(db DB) SnapshotWriter {
	return &snapshotWriter{db: db}
}

// Write closes the object's open registration and records s.Versions under a new one.
func (w *snapshotWriter) Write(ctx context.Context, s domain.Snapshot) (domain.Registration, error) {
	d, err := domain.Describe(s.Kind)
	if err != nil {
		return domain.Registration{}, err
	}
	for _, v := range s.Versions {
		if v.UUID != s.UUID {
			return domain.Registration{}, fmt.Errorf("version for %s in snapshot of %s", v.UUID, s.UUID)
		}
	}

	tx, err := w.db.Begin(ctx)
	if err != nil {
		return domain.Registration{}, pkgerrors.WithStack(fmt.Errorf("failed to begin snapshot transaction: %w", err))
	}
	defer func() { _ = tx.Rollback(ctx) }()

	c := d.Category
	idColumn := string(c) + "_id"

	_, err = tx.Exec(ctx,
		fmt.Sprintf("UPDATE %s SET registrering_end = now() WHERE %s = $1 AND registrering_end = 'infinity'", c.RegistrationTable(), idColumn),
		s.UUID,
	)
	if err != nil {
		return domain.Registration{}, pkgerrors.WithStack(fmt.Errorf("failed to close registration: %w", err))
	}

	reg := domain.Registration{Model: string(s.Kind), UUID: s.UUID, Actor: s.Actor, Note: s.Note}
	err = tx.QueryRow(ctx,
		fmt.Sprintf("INSERT INTO %s (%s, registrering_start, actor, note) VALUES ($1, now(), $2, $3) RETURNING id, registrering_start", c.RegistrationTable(), idColumn),
		s.UUID, s.Actor, s.Note,
	).Scan(&reg.ID, &reg.Start)
	if err != nil {
		return domain.Registration{}, pkgerrors.WithStack(fmt.Errorf("failed to insert registration: %w", err))
	}

	columns := []string{"registrering_id", "uuid", "user_key", "valid_from", "valid_to"}
	for _, f := range d.Fields {
		columns = append(columns, string(f))
	}
	if d.FunctionName != "" {
		columns = append(columns, "funktionsnavn")
	}
	placeholders := make([]string, len(columns))
	for i := range columns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	insert := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", c.VersionTable(), strings.Join(columns, ", "), strings.Join(placeholders, ", "))

	for _, v := range s.Versions {
		args := []any{reg.ID, v.UUID, v.UserKey, v.ValidFrom, v.ValidTo}
		for _, f := range d.Fields {
			args = append(args, fieldValue(&v, f))
		}
		if d.FunctionName != "" {
			args = append(args, d.FunctionName)
		}
		if _, err := tx.Exec(ctx, insert, args...); err != nil {
			return domain.Registration{}, pkgerrors.WithStack(fmt.Errorf("failed to insert %s version: %w", s.Kind, err))
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Registration{}, pkgerrors.WithStack(fmt.Errorf("failed to commit snapshot: %w", err))
	}
	return reg, nil
}

// fieldValue dereferences the scan target of f so it can be used as an argument.
func fieldValue(v *domain.Version, f domain.Field) any {
	switch target := v.Target(f).(type) {
	case **string:
		return *target
	case **uuid.UUID:
		return *target
	}
	return nil
}
