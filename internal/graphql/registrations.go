package graphql

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rpattn/mora/internal/apperror"
	"github.com/rpattn/mora/internal/cursor"
	"github.com/rpattn/mora/internal/domain"
	"github.com/rpattn/mora/internal/paged"
	"github.com/rpattn/mora/internal/repository"

	"github.com/google/uuid"
)

type RegistrationFilter struct {
	UUIDs  *[]UUID
	Actors *[]UUID
	Models *[]string
	Start  *DateTime
	End    *DateTime
}

type AuditLogFilter struct {
	IDs    *[]UUID
	UUIDs  *[]UUID
	Actors *[]UUID
	Models *[]string
	Start  *DateTime
	End    *DateTime
}

// Registrations lists recorded changes across every object kind.
func (r *Resolver) Registrations(ctx context.Context, args struct {
	Limit  *int32
	Cursor *cursor.Scalar
	Filter *RegistrationFilter
}) (*pageResolver[*registrationResolver], error) {
	var filter domain.RegistrationFilter
	if f := args.Filter; f != nil {
		filter = domain.RegistrationFilter{
			UUIDs:  optUUIDs(f.UUIDs),
			Actors: optUUIDs(f.Actors),
			Models: optStrings(f.Models),
			Start:  optTime(f.Start),
			End:    optTime(f.End),
		}
		if err := checkRange(filter.Start, filter.End); err != nil {
			return nil, err
		}
	}

	page, err := paginate(ctx, r.clock, args.Limit, args.Cursor, func(ctx context.Context, p paged.Params) ([]domain.Registration, error) {
		rows, err := r.registrations.List(ctx, filter, p)
		return rows, classify(err)
	})
	if err != nil {
		return nil, err
	}
	return newPage(page, func(reg domain.Registration) *registrationResolver {
		return &registrationResolver{reg: reg}
	}), nil
}

type registrationResolver struct {
	reg domain.Registration
}

// ID fails rather than wrap once the id column outgrows GraphQL's 32-bit Int.
func (r *registrationResolver) ID() (int32, error) {
	if r.reg.ID > math.MaxInt32 || r.reg.ID < math.MinInt32 {
		return 0, apperror.Internal(fmt.Errorf("registration id %d does not fit a GraphQL Int", r.reg.ID))
	}
	return int32(r.reg.ID), nil
}

func (r *registrationResolver) Model() string   { return r.reg.Model }
func (r *registrationResolver) UUID() UUID      { return UUID{r.reg.UUID} }
func (r *registrationResolver) Actor() UUID     { return UUID{r.reg.Actor} }
func (r *registrationResolver) Note() *string   { return r.reg.Note }
func (r *registrationResolver) Start() DateTime { return DateTime{r.reg.Start} }
func (r *registrationResolver) End() *DateTime  { return dateTimePtr(r.reg.End) }

// AuditLog lists recorded API reads.
func (r *Resolver) AuditLog(ctx context.Context, args struct {
	Limit  *int32
	Cursor *cursor.Scalar
	Filter *AuditLogFilter
}) (*pageResolver[*auditLogResolver], error) {
	var filter domain.AuditLogFilter
	if f := args.Filter; f != nil {
		filter = domain.AuditLogFilter{
			IDs:    optUUIDs(f.IDs),
			UUIDs:  optUUIDs(f.UUIDs),
			Actors: optUUIDs(f.Actors),
			Models: optStrings(f.Models),
			Start:  optTime(f.Start),
			End:    optTime(f.End),
		}
		if err := checkRange(filter.Start, filter.End); err != nil {
			return nil, err
		}
	}

	page, err := paginate(ctx, r.clock, args.Limit, args.Cursor, func(ctx context.Context, p paged.Params) ([]domain.AuditLogEntry, error) {
		rows, err := r.auditLog.List(ctx, filter, p)
		return rows, classify(err)
	})
	if err != nil {
		return nil, err
	}
	return newPage(page, func(e domain.AuditLogEntry) *auditLogResolver {
		return &auditLogResolver{entry: e}
	}), nil
}

type auditLogResolver struct {
	entry domain.AuditLogEntry
}

func (a *auditLogResolver) ID() UUID          { return UUID{a.entry.ID} }
func (a *auditLogResolver) Time() DateTime    { return DateTime{a.entry.Time} }
func (a *auditLogResolver) Actor() UUID       { return UUID{a.entry.Actor} }
func (a *auditLogResolver) Model() string     { return a.entry.Model }
func (a *auditLogResolver) Operation() string { return a.entry.Operation }
func (a *auditLogResolver) UUIDs() []UUID     { return fromUUIDs(a.entry.UUIDs) }

// paginate runs a non-bitemporal listing. The first page is pinned to the
// store clock; later pages reuse the cursor's reference time.
func paginate[T any](ctx context.Context, clock repository.Clock, limit *int32, cur *cursor.Scalar, fetch paged.FetchFunc[T]) (paged.Page[T], error) {
	var req paged.Request
	if cur != nil {
		req.Cursor = &cur.Cursor
	}
	if req.Cursor == nil || req.Cursor.ReferenceTime == nil {
		now, err := clock.Now(ctx)
		if err != nil {
			return paged.Page[T]{}, classify(err)
		}
		req.Now = now
	}
	if limit != nil {
		n := int(*limit)
		req.Limit = &n
	}
	return paged.Paginate(ctx, req, fetch)
}

// checkRange rejects a start after end. Either bound may be open.
func checkRange(start, end *time.Time) error {
	if start != nil && end != nil && start.After(*end) {
		return apperror.InvalidInput("start must be before or equal to end")
	}
	return nil
}

func optTime(in *DateTime) *time.Time {
	if in == nil {
		return nil
	}
	t := in.Time
	return &t
}

func optUUIDs(in *[]UUID) []uuid.UUID {
	if in == nil || len(*in) == 0 {
		return nil
	}
	return toUUIDs(*in)
}

func optStrings(in *[]string) []string {
	if in == nil || len(*in) == 0 {
		return nil
	}
	return *in
}
