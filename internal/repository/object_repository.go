package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rpattn/mora/internal/domain"
	"github.com/rpattn/mora/internal/paged"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	pkgerrors "github.com/pkg/errors"
)

// ErrRootOrganisation is returned when the store does not hold exactly one organisation.
var ErrRootOrganisation = errors.New("expected exactly one root organisation")

type objectRepository struct {
	db DB
}

// NewObjectRepository creates a new bitemporal object repository
func NewObjectRepository(db DB) ObjectRepository {
	return &objectRepository{db: db}
}

// currentVersions renders a CTE body selecting the versions of d in effect at
// regTime, optionally restricted to those overlapping window.
func currentVersions(d domain.Descriptor, builder *sqlBuilder, regTime time.Time, window *domain.Window) string {
	c := d.Category
	regPlaceholder := builder.arg(regTime)

	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(strings.Join(projection("v", d), ", "))
	sb.WriteString(fmt.Sprintf(" FROM %s v JOIN %s r ON r.id = v.registrering_id ", c.VersionTable(), c.RegistrationTable()))

	where := []string{
		fmt.Sprintf("r.registrering_start <= %s", regPlaceholder),
		fmt.Sprintf("r.registrering_end > %s", regPlaceholder),
	}
	if d.FunctionName != "" {
		where = append(where, fmt.Sprintf("v.funktionsnavn = %s", builder.arg(d.FunctionName)))
	}
	if window != nil {
		if window.To != nil {
			where = append(where, fmt.Sprintf("(v.valid_from IS NULL OR v.valid_from <= %s)", builder.arg(*window.To)))
		}
		if window.From != nil {
			where = append(where, fmt.Sprintf("(v.valid_to IS NULL OR v.valid_to > %s)", builder.arg(*window.From)))
		}
	}
	sb.WriteString(whereClause(where))
	return sb.String()
}

func projection(alias string, d domain.Descriptor) []string {
	cols := []string{alias + ".uuid", alias + ".user_key", alias + ".valid_from", alias + ".valid_to"}
	for _, f := range d.Fields {
		cols = append(cols, fmt.Sprintf("%s.%s", alias, f))
	}
	return cols
}

func (r *objectRepository) List(ctx context.Context, q domain.Query) ([]domain.Version, error) {
	d, err := domain.Describe(q.Kind)
	if err != nil {
		return nil, err
	}

	regTime := q.RegistrationTime
	if regTime.IsZero() {
		regTime = time.Now()
	}

	builder := newSQLBuilder()
	cte := currentVersions(d, builder, regTime, &q.Window)

	var where []string
	for _, p := range q.Predicates {
		if !d.HasField(p.Field) {
			return nil, fmt.Errorf("%s has no field %s", q.Kind, p.Field)
		}
		if err := appendPredicate("cv", p, builder, &where); err != nil {
			return nil, err
		}
	}

	query := "WITH current_versions AS (" + cte + "), " +
		"matched AS (SELECT DISTINCT cv.uuid FROM current_versions cv " + whereClause(where) +
		"ORDER BY cv.uuid " + builder.page(paged.Params{Limit: q.Limit, Offset: q.Offset}) + ") " +
		"SELECT " + strings.Join(projection("cv", d), ", ") + " FROM current_versions cv " +
		"JOIN matched m ON m.uuid = cv.uuid " +
		"ORDER BY cv.uuid, cv.valid_from NULLS FIRST"

	rows, err := r.db.Query(ctx, query, builder.args...)
	if err != nil {
		return nil, pkgerrors.WithStack(fmt.Errorf("failed to list %s versions: %w", q.Kind, err))
	}
	defer rows.Close()

	return scanVersions(rows, d)
}

func (r *objectRepository) GetByUUIDs(ctx context.Context, kind domain.Kind, ids []uuid.UUID, window domain.Window, registrationTime time.Time) ([]domain.Version, map[uuid.UUID]bool, error) {
	d, err := domain.Describe(kind)
	if err != nil {
		return nil, nil, err
	}
	if len(ids) == 0 {
		return nil, map[uuid.UUID]bool{}, nil
	}
	if registrationTime.IsZero() {
		registrationTime = time.Now()
	}

	builder := newSQLBuilder()
	cte := currentVersions(d, builder, registrationTime, nil)
	query := "WITH current_versions AS (" + cte + ") " +
		"SELECT " + strings.Join(projection("cv", d), ", ") + " FROM current_versions cv " +
		"WHERE cv.uuid = ANY(" + builder.arg(domain.Dedupe(ids)) + "::uuid[]) " +
		"ORDER BY cv.uuid, cv.valid_from NULLS FIRST"

	rows, err := r.db.Query(ctx, query, builder.args...)
	if err != nil {
		return nil, nil, pkgerrors.WithStack(fmt.Errorf("failed to get %s versions by uuid: %w", kind, err))
	}
	defer rows.Close()

	all, err := scanVersions(rows, d)
	if err != nil {
		return nil, nil, err
	}

	exists := make(map[uuid.UUID]bool, len(ids))
	versions := make([]domain.Version, 0, len(all))
	for _, v := range all {
		exists[v.UUID] = true
		if window.Overlaps(v.ValidFrom, v.ValidTo) {
			versions = append(versions, v)
		}
	}
	return versions, exists, nil
}

func (r *objectRepository) RootOrganisation(ctx context.Context) (uuid.UUID, error) {
	d, err := domain.Describe(domain.KindOrganisation)
	if err != nil {
		return uuid.Nil, err
	}

	builder := newSQLBuilder()
	cte := currentVersions(d, builder, time.Now(), nil)
	query := "WITH current_versions AS (" + cte + ") SELECT DISTINCT uuid FROM current_versions LIMIT 2"

	rows, err := r.db.Query(ctx, query, builder.args...)
	if err != nil {
		return uuid.Nil, pkgerrors.WithStack(fmt.Errorf("failed to query root organisation: %w", err))
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return uuid.Nil, pkgerrors.WithStack(fmt.Errorf("failed to scan root organisation: %w", err))
	}
	if len(ids) != 1 {
		return uuid.Nil, fmt.Errorf("%w: found %d", ErrRootOrganisation, len(ids))
	}
	return ids[0], nil
}

func scanVersions(rows pgx.Rows, d domain.Descriptor) ([]domain.Version, error) {
	var versions []domain.Version
	for rows.Next() {
		v := domain.Version{Kind: d.Kind}
		dest := []any{&v.UUID, &v.UserKey, &v.ValidFrom, &v.ValidTo}
		for _, f := range d.Fields {
			dest = append(dest, v.Target(f))
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, pkgerrors.WithStack(fmt.Errorf("failed to scan %s version: %w", d.Kind, err))
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, pkgerrors.WithStack(fmt.Errorf("failed to iterate %s versions: %w", d.Kind, err))
	}
	return versions, nil
}
