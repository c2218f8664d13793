package graphql

import (
	"context"
	"strings"
	"time"

	"github.com/rpattn/mora/internal/apperror"
	"github.com/rpattn/mora/internal/cursor"
	"github.com/rpattn/mora/internal/domain"
	"github.com/rpattn/mora/internal/paged"

	"github.com/google/uuid"
)

// pageResolver backs every XPaged type.
type pageResolver[T any] struct {
	objects []T
	next    *cursor.Cursor
}

func newPage[T, U any](page paged.Page[T], fn func(T) U) *pageResolver[U] {
	mapped := paged.Map(page, fn)
	return &pageResolver[U]{objects: mapped.Objects, next: mapped.NextCursor}
}

func (p *pageResolver[T]) Objects() []T {
	return p.objects
}

func (p *pageResolver[T]) PageInfo() *pageInfoResolver {
	return &pageInfoResolver{next: p.next}
}

type pageInfoResolver struct {
	next *cursor.Cursor
}

func (p *pageInfoResolver) NextCursor() *cursor.Scalar {
	if p.next == nil {
		return nil
	}
	return &cursor.Scalar{Cursor: *p.next}
}

// objectResolver backs every XResponse type: one object with the versions that
// overlap the window it was loaded in.
type objectResolver struct {
	r       *Resolver
	kind    domain.Kind
	obj     domain.Object
	window  domain.Window
	regTime time.Time
}

func (o *objectResolver) UUID() UUID {
	return UUID{o.obj.UUID}
}

// Current returns the version valid at the query's reference time. When the
// loaded window does not cover that instant the object is read again at it.
func (o *objectResolver) Current(ctx context.Context) (*versionResolver, error) {
	now := o.regTime
	if domain.Contains(o.window.From, o.window.To, now) {
		if v, ok := o.obj.Current(now); ok {
			return o.version(v, o.window), nil
		}
		return nil, nil
	}

	window := pointWindow(now)
	obj, err := o.r.loader(ctx).Load(ctx, o.kind, o.obj.UUID, window, o.regTime)
	if err != nil {
		return nil, classify(err)
	}
	if obj == nil {
		return nil, nil
	}
	v, ok := obj.Current(now)
	if !ok {
		return nil, nil
	}
	return o.version(v, window), nil
}

// Validities lists the object's versions. Without arguments these are the
// versions loaded with the object; a start or end reloads it over that
// interval, where an omitted or null bound is unbounded.
func (o *objectResolver) Validities(ctx context.Context, args struct {
	Start NullDateTime
	End   NullDateTime
}) ([]*versionResolver, error) {
	if !args.Start.Set && !args.End.Set {
		return o.versions(o.obj.Versions, o.window), nil
	}

	window := domain.Window{From: args.Start.Value, To: args.End.Value}
	if window.From != nil && window.To != nil && window.From.After(*window.To) {
		return nil, apperror.InvalidInput("start must be before or equal to end")
	}
	obj, err := o.r.loader(ctx).Load(ctx, o.kind, o.obj.UUID, window, o.regTime)
	if err != nil {
		return nil, classify(err)
	}
	if obj == nil {
		return []*versionResolver{}, nil
	}
	return o.versions(obj.Versions, window), nil
}

func (o *objectResolver) version(v domain.Version, window domain.Window) *versionResolver {
	return &versionResolver{r: o.r, version: v, window: window, regTime: o.regTime}
}

func (o *objectResolver) versions(vs []domain.Version, window domain.Window) []*versionResolver {
	out := make([]*versionResolver, 0, len(vs))
	for _, v := range vs {
		out = append(out, o.version(v, window))
	}
	return out
}

// versionResolver backs every entity type. Relations are read through the
// request's loader in the window and registration time of the enclosing query.
type versionResolver struct {
	r       *Resolver
	version domain.Version
	window  domain.Window
	regTime time.Time
}

func (v *versionResolver) UUID() UUID {
	return UUID{v.version.UUID}
}

func (v *versionResolver) UserKey() string {
	return v.version.UserKey
}

// Name is the stored name, or for employees the given name and surname joined.
func (v *versionResolver) Name() *string {
	if v.version.Kind != domain.KindEmployee {
		return v.version.Name
	}
	var parts []string
	for _, p := range []*string{v.version.GivenName, v.version.Surname} {
		if p != nil && *p != "" {
			parts = append(parts, *p)
		}
	}
	name := strings.Join(parts, " ")
	return &name
}

func (v *versionResolver) GivenName() *string { return v.version.GivenName }
func (v *versionResolver) Surname() *string   { return v.version.Surname }
func (v *versionResolver) CPRNumber() *string { return v.version.CPRNumber }
func (v *versionResolver) Scope() *string     { return v.version.Scope }
func (v *versionResolver) Value() *string     { return v.version.Value }

func (v *versionResolver) Validity() *validityResolver {
	return &validityResolver{from: v.version.ValidFrom, to: v.version.ValidTo}
}

func (v *versionResolver) FacetUUID() *UUID { return uuidPtr(v.version.Facet) }
func (v *versionResolver) Facet(ctx context.Context) (*objectResolver, error) {
	return v.related(ctx, domain.KindFacet, v.version.Facet)
}

// Parent resolves within the version's own kind: classes and org units both nest.
func (v *versionResolver) ParentUUID() *UUID { return uuidPtr(v.version.Parent) }
func (v *versionResolver) Parent(ctx context.Context) (*objectResolver, error) {
	return v.related(ctx, v.version.Kind, v.version.Parent)
}

func (v *versionResolver) UnitTypeUUID() *UUID { return uuidPtr(v.version.UnitType) }
func (v *versionResolver) UnitType(ctx context.Context) (*objectResolver, error) {
	return v.related(ctx, domain.KindClass, v.version.UnitType)
}

func (v *versionResolver) EmployeeUUID() *UUID { return uuidPtr(v.version.Employee) }
func (v *versionResolver) Employee(ctx context.Context) (*objectResolver, error) {
	return v.related(ctx, domain.KindEmployee, v.version.Employee)
}

func (v *versionResolver) OrgUnitUUID() *UUID { return uuidPtr(v.version.OrgUnit) }
func (v *versionResolver) OrgUnit(ctx context.Context) (*objectResolver, error) {
	return v.related(ctx, domain.KindOrgUnit, v.version.OrgUnit)
}

func (v *versionResolver) EngagementUUID() *UUID { return uuidPtr(v.version.Engagement) }
func (v *versionResolver) Engagement(ctx context.Context) (*objectResolver, error) {
	return v.related(ctx, domain.KindEngagement, v.version.Engagement)
}

func (v *versionResolver) ITSystemUUID() *UUID { return uuidPtr(v.version.ITSystem) }
func (v *versionResolver) ITSystem(ctx context.Context) (*objectResolver, error) {
	return v.related(ctx, domain.KindITSystem, v.version.ITSystem)
}

// Type and secondary type carry the class references of organisation functions.

func (v *versionResolver) EngagementTypeUUID() *UUID { return uuidPtr(v.version.Type) }
func (v *versionResolver) EngagementType(ctx context.Context) (*objectResolver, error) {
	return v.related(ctx, domain.KindClass, v.version.Type)
}

func (v *versionResolver) JobFunctionUUID() *UUID { return uuidPtr(v.version.SecondaryType) }
func (v *versionResolver) JobFunction(ctx context.Context) (*objectResolver, error) {
	return v.related(ctx, domain.KindClass, v.version.SecondaryType)
}

func (v *versionResolver) AddressTypeUUID() *UUID { return uuidPtr(v.version.Type) }
func (v *versionResolver) AddressType(ctx context.Context) (*objectResolver, error) {
	return v.related(ctx, domain.KindClass, v.version.Type)
}

func (v *versionResolver) AssociationTypeUUID() *UUID { return uuidPtr(v.version.Type) }
func (v *versionResolver) AssociationType(ctx context.Context) (*objectResolver, error) {
	return v.related(ctx, domain.KindClass, v.version.Type)
}

func (v *versionResolver) ManagerTypeUUID() *UUID { return uuidPtr(v.version.Type) }
func (v *versionResolver) ManagerType(ctx context.Context) (*objectResolver, error) {
	return v.related(ctx, domain.KindClass, v.version.Type)
}

func (v *versionResolver) ManagerLevelUUID() *UUID { return uuidPtr(v.version.SecondaryType) }
func (v *versionResolver) ManagerLevel(ctx context.Context) (*objectResolver, error) {
	return v.related(ctx, domain.KindClass, v.version.SecondaryType)
}

func (v *versionResolver) LeaveTypeUUID() *UUID { return uuidPtr(v.version.Type) }
func (v *versionResolver) LeaveType(ctx context.Context) (*objectResolver, error) {
	return v.related(ctx, domain.KindClass, v.version.Type)
}

func (v *versionResolver) related(ctx context.Context, kind domain.Kind, id *uuid.UUID) (*objectResolver, error) {
	if id == nil {
		return nil, nil
	}
	obj, err := v.r.loader(ctx).Load(ctx, kind, *id, v.window, v.regTime)
	if err != nil {
		return nil, classify(err)
	}
	if obj == nil {
		return nil, nil
	}
	return &objectResolver{r: v.r, kind: kind, obj: *obj, window: v.window, regTime: v.regTime}, nil
}

type validityResolver struct {
	from *time.Time
	to   *time.Time
}

func (v *validityResolver) From() *DateTime { return dateTimePtr(v.from) }
func (v *validityResolver) To() *DateTime   { return dateTimePtr(v.to) }
