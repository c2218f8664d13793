package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rpattn/mora/internal/domain"
	"github.com/rpattn/mora/internal/paged"

	pkgerrors "github.com/pkg/errors"
)

type registrationRepository struct {
	db DB
}

// NewRegistrationRepository creates a new registration union repository
func NewRegistrationRepository(db DB) RegistrationRepository {
	return &registrationRepository{db: db}
}

// registrationBranch renders the projection of one category's registration table
// onto (model, id, uuid, actor, note, start, "end", created_at).
func registrationBranch(c domain.Category) string {
	idColumn := string(c) + "_id"
	model := ""
	if name, ok := domain.ModelForCategory(c); ok {
		model = "'" + name + "'"
	} else {
		model = functionModelCase(idColumn)
	}
	return fmt.Sprintf(
		"SELECT %s AS model, r.id, r.%s AS uuid, r.actor, r.note, r.registrering_start AS start, "+
			"NULLIF(r.registrering_end, 'infinity') AS \"end\", r.created_at FROM %s r",
		model, idColumn, c.RegistrationTable(),
	)
}

// functionModelCase maps the function name recorded under the registration onto
// a model name. A registration without versions, such as a termination, takes the
// function name of the object's latest version. Unmatched names map to
// domain.UnknownModel.
func functionModelCase(idColumn string) string {
	names := domain.FunctionNames()
	models := make([]string, 0, len(names))
	for model := range names {
		models = append(models, model)
	}
	sort.Strings(models)

	var sb strings.Builder
	sb.WriteString("CASE COALESCE(")
	sb.WriteString("(SELECT v.funktionsnavn FROM organisationfunktion_version v WHERE v.registrering_id = r.id LIMIT 1), ")
	sb.WriteString("(SELECT v.funktionsnavn FROM organisationfunktion_version v ")
	sb.WriteString("JOIN organisationfunktion_registrering r2 ON r2.id = v.registrering_id ")
	sb.WriteString(fmt.Sprintf("WHERE r2.%s = r.%s ORDER BY r2.registrering_start DESC, r2.id DESC LIMIT 1))", idColumn, idColumn))
	for _, model := range models {
		sb.WriteString(fmt.Sprintf(" WHEN '%s' THEN '%s'", names[model], model))
	}
	sb.WriteString(fmt.Sprintf(" ELSE '%s' END", domain.UnknownModel))
	return sb.String()
}

// branchesFor returns the categories whose rows can match models. A nil models
// filter selects every category.
func branchesFor(models []string) []domain.Category {
	if models == nil {
		return domain.Categories()
	}

	wanted := make(map[string]bool, len(models))
	for _, m := range models {
		wanted[m] = true
	}

	var out []domain.Category
	for _, c := range domain.Categories() {
		if name, ok := domain.ModelForCategory(c); ok {
			if wanted[name] {
				out = append(out, c)
			}
			continue
		}
		if wanted[domain.UnknownModel] {
			out = append(out, c)
			continue
		}
		for model := range domain.FunctionNames() {
			if wanted[model] {
				out = append(out, c)
				break
			}
		}
	}
	return out
}

func (r *registrationRepository) List(ctx context.Context, filter domain.RegistrationFilter, p paged.Params) ([]domain.Registration, error) {
	categories := branchesFor(filter.Models)
	if len(categories) == 0 {
		return []domain.Registration{}, nil
	}

	branches := make([]string, len(categories))
	for i, c := range categories {
		branches[i] = registrationBranch(c)
	}

	builder := newSQLBuilder()
	ref := builder.arg(p.ReferenceTime)
	where := []string{
		"reg.start <= " + ref,
		"reg.created_at <= " + ref,
	}
	if filter.UUIDs != nil {
		where = append(where, "reg.uuid = ANY("+builder.arg(filter.UUIDs)+"::uuid[])")
	}
	if filter.Actors != nil {
		where = append(where, "reg.actor = ANY("+builder.arg(filter.Actors)+"::uuid[])")
	}
	if filter.Models != nil {
		where = append(where, "reg.model = ANY("+builder.arg(filter.Models)+"::text[])")
	}
	if filter.End != nil {
		where = append(where, "reg.start <= "+builder.arg(*filter.End))
	}
	if filter.Start != nil {
		where = append(where, "(reg.\"end\" IS NULL OR reg.\"end\" > "+builder.arg(*filter.Start)+")")
	}

	query := "SELECT reg.model, reg.id, reg.uuid, reg.actor, reg.note, reg.start, reg.\"end\" FROM (" +
		strings.Join(branches, " UNION ALL ") + ") reg " +
		whereClause(where) +
		"ORDER BY reg.start, reg.uuid, reg.model, reg.id " +
		builder.page(p)

	rows, err := r.db.Query(ctx, query, builder.args...)
	if err != nil {
		return nil, pkgerrors.WithStack(fmt.Errorf("failed to list registrations: %w", err))
	}
	defer rows.Close()

	registrations := []domain.Registration{}
	for rows.Next() {
		var reg domain.Registration
		if err := rows.Scan(&reg.Model, &reg.ID, &reg.UUID, &reg.Actor, &reg.Note, &reg.Start, &reg.End); err != nil {
			return nil, pkgerrors.WithStack(fmt.Errorf("failed to scan registration: %w", err))
		}
		registrations = append(registrations, reg)
	}
	if err := rows.Err(); err != nil {
		return nil, pkgerrors.WithStack(fmt.Errorf("failed to iterate registrations: %w", err))
	}
	return registrations, nil
}
