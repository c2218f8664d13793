package domain

import (
	"time"

	"github.com/google/uuid"
)

// Window is a half-open validity interval. A nil bound is infinite.
type Window struct {
	From *time.Time
	To   *time.Time
}

// Overlaps reports whether a version valid over [from, to) intersects the window,
// using the same predicate as the store: from <= w.To AND (to IS NULL OR to > w.From).
func (w Window) Overlaps(from, to *time.Time) bool {
	if w.To != nil && from != nil && from.After(*w.To) {
		return false
	}
	if to != nil && w.From != nil && !to.After(*w.From) {
		return false
	}
	return true
}

// Contains reports whether at falls inside [from, to).
func Contains(from, to *time.Time, at time.Time) bool {
	if from != nil && from.After(at) {
		return false
	}
	if to != nil && !to.After(at) {
		return false
	}
	return true
}

// Version is one bitemporal state of an object over its validity interval.
type Version struct {
	Kind      Kind
	UUID      uuid.UUID
	UserKey   string
	ValidFrom *time.Time
	ValidTo   *time.Time

	Name          *string
	Parent        *uuid.UUID
	Facet         *uuid.UUID
	Scope         *string
	GivenName     *string
	Surname       *string
	CPRNumber     *string
	UnitType      *uuid.UUID
	Employee      *uuid.UUID
	OrgUnit       *uuid.UUID
	Engagement    *uuid.UUID
	ITSystem      *uuid.UUID
	Type          *uuid.UUID
	SecondaryType *uuid.UUID
	Value         *string
}

// Target returns the scan destination for a projected field.
func (v *Version) Target(field Field) any {
	switch field {
	case FieldUUID:
		return &v.UUID
	case FieldUserKey:
		return &v.UserKey
	case FieldName:
		return &v.Name
	case FieldParent:
		return &v.Parent
	case FieldFacet:
		return &v.Facet
	case FieldScope:
		return &v.Scope
	case FieldGivenName:
		return &v.GivenName
	case FieldSurname:
		return &v.Surname
	case FieldCPRNumber:
		return &v.CPRNumber
	case FieldUnitType:
		return &v.UnitType
	case FieldEmployee:
		return &v.Employee
	case FieldOrgUnit:
		return &v.OrgUnit
	case FieldEngagement:
		return &v.Engagement
	case FieldITSystem:
		return &v.ITSystem
	case FieldType:
		return &v.Type
	case FieldSecondaryType:
		return &v.SecondaryType
	case FieldValue:
		return &v.Value
	}
	return nil
}

// Object groups the versions of one UUID.
type Object struct {
	UUID     uuid.UUID
	Versions []Version
}

// Current returns the version valid at t, if any.
func (o Object) Current(t time.Time) (Version, bool) {
	for _, v := range o.Versions {
		if Contains(v.ValidFrom, v.ValidTo, t) {
			return v, true
		}
	}
	return Version{}, false
}

// GroupByUUID groups versions per UUID. When keys is non-empty the output follows
// the key order with duplicates removed, and keys without versions get an empty
// slot. Otherwise groups appear in first-seen order of versions.
func GroupByUUID(versions []Version, keys []uuid.UUID) []Object {
	byUUID := make(map[uuid.UUID][]Version)
	var seen []uuid.UUID
	for _, v := range versions {
		if _, ok := byUUID[v.UUID]; !ok {
			seen = append(seen, v.UUID)
		}
		byUUID[v.UUID] = append(byUUID[v.UUID], v)
	}

	order := seen
	if len(keys) > 0 {
		order = Dedupe(keys)
	}

	groups := make([]Object, 0, len(order))
	for _, id := range order {
		vs := byUUID[id]
		if vs == nil {
			vs = []Version{}
		}
		groups = append(groups, Object{UUID: id, Versions: vs})
	}
	return groups
}

// Dedupe removes duplicate UUIDs keeping first-seen order.
func Dedupe(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
