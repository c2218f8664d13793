package graphql

import (
	"context"

	"github.com/rpattn/mora/internal/cursor"
	"github.com/rpattn/mora/internal/domain"
)

type FacetFilter struct {
	BaseFilter
}

type ClassFilter struct {
	BaseFilter
	Facets         *[]UUID
	FacetUserKeys  *[]string
	Parents        *[]UUID
	ParentUserKeys *[]string
}

type ITSystemFilter struct {
	BaseFilter
}

type EmployeeFilter struct {
	BaseFilter
	CPRNumbers *[]string
}

// OrganisationUnitFilter distinguishes an omitted parents list (children of the
// root organisation) from null (top-level units) and an empty list (any parent).
type OrganisationUnitFilter struct {
	BaseFilter
	Parents        NullUUIDs
	ParentUserKeys *[]string
}

type EngagementFilter struct {
	BaseFilter
	Employees        *[]UUID
	EmployeeUserKeys *[]string
	OrgUnits         *[]UUID
	OrgUnitUserKeys  *[]string
}

type AddressFilter struct {
	BaseFilter
	Employees           *[]UUID
	EmployeeUserKeys    *[]string
	OrgUnits            *[]UUID
	Engagements         *[]UUID
	AddressTypes        *[]UUID
	AddressTypeUserKeys *[]string
}

type AssociationFilter struct {
	BaseFilter
	Employees               *[]UUID
	EmployeeUserKeys        *[]string
	OrgUnits                *[]UUID
	AssociationTypes        *[]UUID
	AssociationTypeUserKeys *[]string
}

type ManagerFilter struct {
	BaseFilter
	Employees        *[]UUID
	EmployeeUserKeys *[]string
	OrgUnits         *[]UUID
}

type ITUserFilter struct {
	BaseFilter
	Employees        *[]UUID
	EmployeeUserKeys *[]string
	OrgUnits         *[]UUID
	ITSystems        *[]UUID
	ITSystemUserKeys *[]string
}

type LeaveFilter struct {
	BaseFilter
	Employees        *[]UUID
	EmployeeUserKeys *[]string
}

type objectPage = pageResolver[*objectResolver]

func identifies(f BaseFilter) bool {
	return (f.UUIDs != nil && len(*f.UUIDs) > 0) || (f.UserKeys != nil && len(*f.UserKeys) > 0)
}

func (r *Resolver) Facets(ctx context.Context, args struct {
	Limit  *int32
	Cursor *cursor.Scalar
	Filter *FacetFilter
}) (*objectPage, error) {
	var f FacetFilter
	if args.Filter != nil {
		f = *args.Filter
	}
	return r.resolveEntities(ctx, domain.KindFacet, f.BaseFilter, args.Limit, args.Cursor, nil)
}

func (r *Resolver) Classes(ctx context.Context, args struct {
	Limit  *int32
	Cursor *cursor.Scalar
	Filter *ClassFilter
}) (*objectPage, error) {
	var f ClassFilter
	if args.Filter != nil {
		f = *args.Filter
	}
	return r.resolveEntities(ctx, domain.KindClass, f.BaseFilter, args.Limit, args.Cursor, func(ctx context.Context, s scope) ([]domain.Predicate, error) {
		return r.newPredicates(ctx, s).
			uuids(domain.FieldFacet, f.Facets, f.FacetUserKeys, domain.KindFacet).
			uuids(domain.FieldParent, f.Parents, f.ParentUserKeys, domain.KindClass).
			build()
	})
}

func (r *Resolver) ITSystems(ctx context.Context, args struct {
	Limit  *int32
	Cursor *cursor.Scalar
	Filter *ITSystemFilter
}) (*objectPage, error) {
	var f ITSystemFilter
	if args.Filter != nil {
		f = *args.Filter
	}
	return r.resolveEntities(ctx, domain.KindITSystem, f.BaseFilter, args.Limit, args.Cursor, nil)
}

func (r *Resolver) Employees(ctx context.Context, args struct {
	Limit  *int32
	Cursor *cursor.Scalar
	Filter *EmployeeFilter
}) (*objectPage, error) {
	var f EmployeeFilter
	if args.Filter != nil {
		f = *args.Filter
	}
	return r.resolveEntities(ctx, domain.KindEmployee, f.BaseFilter, args.Limit, args.Cursor, func(ctx context.Context, s scope) ([]domain.Predicate, error) {
		return r.newPredicates(ctx, s).
			strings(domain.FieldCPRNumber, f.CPRNumbers).
			build()
	})
}

func (r *Resolver) OrgUnits(ctx context.Context, args struct {
	Limit  *int32
	Cursor *cursor.Scalar
	Filter *OrganisationUnitFilter
}) (*objectPage, error) {
	var f OrganisationUnitFilter
	if args.Filter != nil {
		f = *args.Filter
	}
	return r.resolveEntities(ctx, domain.KindOrgUnit, f.BaseFilter, args.Limit, args.Cursor, func(ctx context.Context, s scope) ([]domain.Predicate, error) {
		p := r.newPredicates(ctx, s)
		switch {
		case f.Parents.Null:
			p.add(domain.IsNull(domain.FieldParent))
		case f.Parents.Set:
			ids := fromUUIDs(f.Parents.Value)
			p.uuids(domain.FieldParent, &ids, f.ParentUserKeys, domain.KindOrgUnit)
		case f.ParentUserKeys != nil && len(*f.ParentUserKeys) > 0:
			p.uuids(domain.FieldParent, nil, f.ParentUserKeys, domain.KindOrgUnit)
		case identifies(f.BaseFilter):
			// Units named directly are returned at any depth.
		default:
			root, err := r.rootOrganisation(ctx)
			if err != nil {
				return nil, err
			}
			ids := []UUID{{root}}
			p.uuids(domain.FieldParent, &ids, nil, domain.KindOrgUnit)
		}
		return p.build()
	})
}

func (r *Resolver) Engagements(ctx context.Context, args struct {
	Limit  *int32
	Cursor *cursor.Scalar
	Filter *EngagementFilter
}) (*objectPage, error) {
	var f EngagementFilter
	if args.Filter != nil {
		f = *args.Filter
	}
	return r.resolveEntities(ctx, domain.KindEngagement, f.BaseFilter, args.Limit, args.Cursor, func(ctx context.Context, s scope) ([]domain.Predicate, error) {
		return r.newPredicates(ctx, s).
			uuids(domain.FieldEmployee, f.Employees, f.EmployeeUserKeys, domain.KindEmployee).
			uuids(domain.FieldOrgUnit, f.OrgUnits, f.OrgUnitUserKeys, domain.KindOrgUnit).
			build()
	})
}

func (r *Resolver) Addresses(ctx context.Context, args struct {
	Limit  *int32
	Cursor *cursor.Scalar
	Filter *AddressFilter
}) (*objectPage, error) {
	var f AddressFilter
	if args.Filter != nil {
		f = *args.Filter
	}
	return r.resolveEntities(ctx, domain.KindAddress, f.BaseFilter, args.Limit, args.Cursor, func(ctx context.Context, s scope) ([]domain.Predicate, error) {
		return r.newPredicates(ctx, s).
			uuids(domain.FieldEmployee, f.Employees, f.EmployeeUserKeys, domain.KindEmployee).
			uuids(domain.FieldOrgUnit, f.OrgUnits, nil, domain.KindOrgUnit).
			uuids(domain.FieldEngagement, f.Engagements, nil, domain.KindEngagement).
			uuids(domain.FieldType, f.AddressTypes, f.AddressTypeUserKeys, domain.KindClass).
			build()
	})
}

func (r *Resolver) Associations(ctx context.Context, args struct {
	Limit  *int32
	Cursor *cursor.Scalar
	Filter *AssociationFilter
}) (*objectPage, error) {
	var f AssociationFilter
	if args.Filter != nil {
		f = *args.Filter
	}
	return r.resolveEntities(ctx, domain.KindAssociation, f.BaseFilter, args.Limit, args.Cursor, func(ctx context.Context, s scope) ([]domain.Predicate, error) {
		return r.newPredicates(ctx, s).
			uuids(domain.FieldEmployee, f.Employees, f.EmployeeUserKeys, domain.KindEmployee).
			uuids(domain.FieldOrgUnit, f.OrgUnits, nil, domain.KindOrgUnit).
			uuids(domain.FieldType, f.AssociationTypes, f.AssociationTypeUserKeys, domain.KindClass).
			build()
	})
}

func (r *Resolver) Managers(ctx context.Context, args struct {
	Limit  *int32
	Cursor *cursor.Scalar
	Filter *ManagerFilter
}) (*objectPage, error) {
	var f ManagerFilter
	if args.Filter != nil {
		f = *args.Filter
	}
	return r.resolveEntities(ctx, domain.KindManager, f.BaseFilter, args.Limit, args.Cursor, func(ctx context.Context, s scope) ([]domain.Predicate, error) {
		return r.newPredicates(ctx, s).
			uuids(domain.FieldEmployee, f.Employees, f.EmployeeUserKeys, domain.KindEmployee).
			uuids(domain.FieldOrgUnit, f.OrgUnits, nil, domain.KindOrgUnit).
			build()
	})
}

func (r *Resolver) ITUsers(ctx context.Context, args struct {
	Limit  *int32
	Cursor *cursor.Scalar
	Filter *ITUserFilter
}) (*objectPage, error) {
	var f ITUserFilter
	if args.Filter != nil {
		f = *args.Filter
	}
	return r.resolveEntities(ctx, domain.KindITUser, f.BaseFilter, args.Limit, args.Cursor, func(ctx context.Context, s scope) ([]domain.Predicate, error) {
		return r.newPredicates(ctx, s).
			uuids(domain.FieldEmployee, f.Employees, f.EmployeeUserKeys, domain.KindEmployee).
			uuids(domain.FieldOrgUnit, f.OrgUnits, nil, domain.KindOrgUnit).
			uuids(domain.FieldITSystem, f.ITSystems, f.ITSystemUserKeys, domain.KindITSystem).
			build()
	})
}

func (r *Resolver) Leaves(ctx context.Context, args struct {
	Limit  *int32
	Cursor *cursor.Scalar
	Filter *LeaveFilter
}) (*objectPage, error) {
	var f LeaveFilter
	if args.Filter != nil {
		f = *args.Filter
	}
	return r.resolveEntities(ctx, domain.KindLeave, f.BaseFilter, args.Limit, args.Cursor, func(ctx context.Context, s scope) ([]domain.Predicate, error) {
		return r.newPredicates(ctx, s).
			uuids(domain.FieldEmployee, f.Employees, f.EmployeeUserKeys, domain.KindEmployee).
			build()
	})
}
