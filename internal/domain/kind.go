package domain

import (
	"fmt"
	"sort"
)

// Kind identifies an entity kind exposed by the read API.
type Kind string

const (
	KindOrganisation Kind = "organisation"
	KindFacet        Kind = "facet"
	KindClass        Kind = "class"
	KindITSystem     Kind = "itsystem"
	KindEmployee     Kind = "employee"
	KindOrgUnit      Kind = "org_unit"
	KindEngagement   Kind = "engagement"
	KindAddress      Kind = "address"
	KindAssociation  Kind = "association"
	KindManager      Kind = "manager"
	KindITUser       Kind = "ituser"
	KindLeave        Kind = "leave"
)

// Category is the store table family an entity kind lives in.
type Category string

const (
	CategoryOrganisation         Category = "organisation"
	CategoryFacet                Category = "facet"
	CategoryKlasse               Category = "klasse"
	CategoryITSystem             Category = "itsystem"
	CategoryBruger               Category = "bruger"
	CategoryOrganisationEnhed    Category = "organisationenhed"
	CategoryOrganisationFunktion Category = "organisationfunktion"
)

// Categories lists every store category in a stable order.
func Categories() []Category {
	return []Category{
		CategoryOrganisation,
		CategoryFacet,
		CategoryKlasse,
		CategoryITSystem,
		CategoryBruger,
		CategoryOrganisationEnhed,
		CategoryOrganisationFunktion,
	}
}

// RegistrationTable returns the name of the category's registration table.
func (c Category) RegistrationTable() string {
	return string(c) + "_registrering"
}

// VersionTable returns the name of the category's version table.
func (c Category) VersionTable() string {
	return string(c) + "_version"
}

// Field names a projected store column.
type Field string

const (
	FieldUUID          Field = "uuid"
	FieldUserKey       Field = "user_key"
	FieldName          Field = "name"
	FieldParent        Field = "parent_uuid"
	FieldFacet         Field = "facet_uuid"
	FieldScope         Field = "scope"
	FieldGivenName     Field = "given_name"
	FieldSurname       Field = "surname"
	FieldCPRNumber     Field = "cpr_number"
	FieldUnitType      Field = "unit_type_uuid"
	FieldEmployee      Field = "employee_uuid"
	FieldOrgUnit       Field = "org_unit_uuid"
	FieldEngagement    Field = "engagement_uuid"
	FieldITSystem      Field = "itsystem_uuid"
	FieldType          Field = "type_uuid"
	FieldSecondaryType Field = "secondary_type_uuid"
	FieldValue         Field = "value"
)

// Descriptor binds an entity kind to its store layout.
type Descriptor struct {
	Kind     Kind
	Category Category
	// FunctionName discriminates organisationfunktion rows; empty for other categories.
	FunctionName string
	// Fields are the kind-specific columns projected besides uuid, user_key and validity.
	Fields []Field
}

var descriptors = map[Kind]Descriptor{
	KindOrganisation: {
		Kind:     KindOrganisation,
		Category: CategoryOrganisation,
		Fields:   []Field{FieldName},
	},
	KindFacet: {
		Kind:     KindFacet,
		Category: CategoryFacet,
	},
	KindClass: {
		Kind:     KindClass,
		Category: CategoryKlasse,
		Fields:   []Field{FieldName, FieldFacet, FieldParent, FieldScope},
	},
	KindITSystem: {
		Kind:     KindITSystem,
		Category: CategoryITSystem,
		Fields:   []Field{FieldName},
	},
	KindEmployee: {
		Kind:     KindEmployee,
		Category: CategoryBruger,
		Fields:   []Field{FieldGivenName, FieldSurname, FieldCPRNumber},
	},
	KindOrgUnit: {
		Kind:     KindOrgUnit,
		Category: CategoryOrganisationEnhed,
		Fields:   []Field{FieldName, FieldParent, FieldUnitType},
	},
	KindEngagement: {
		Kind:         KindEngagement,
		Category:     CategoryOrganisationFunktion,
		FunctionName: "Engagement",
		Fields:       []Field{FieldEmployee, FieldOrgUnit, FieldType, FieldSecondaryType},
	},
	KindAddress: {
		Kind:         KindAddress,
		Category:     CategoryOrganisationFunktion,
		FunctionName: "Adresse",
		Fields:       []Field{FieldEmployee, FieldOrgUnit, FieldEngagement, FieldType, FieldValue},
	},
	KindAssociation: {
		Kind:         KindAssociation,
		Category:     CategoryOrganisationFunktion,
		FunctionName: "Tilknytning",
		Fields:       []Field{FieldEmployee, FieldOrgUnit, FieldType},
	},
	KindManager: {
		Kind:         KindManager,
		Category:     CategoryOrganisationFunktion,
		FunctionName: "Leder",
		Fields:       []Field{FieldEmployee, FieldOrgUnit, FieldType, FieldSecondaryType},
	},
	KindITUser: {
		Kind:         KindITUser,
		Category:     CategoryOrganisationFunktion,
		FunctionName: "IT-system",
		Fields:       []Field{FieldEmployee, FieldOrgUnit, FieldEngagement, FieldITSystem},
	},
	KindLeave: {
		Kind:         KindLeave,
		Category:     CategoryOrganisationFunktion,
		FunctionName: "Orlov",
		Fields:       []Field{FieldEmployee, FieldEngagement, FieldType},
	},
}

// Describe returns the descriptor registered for kind.
func Describe(kind Kind) (Descriptor, error) {
	d, ok := descriptors[kind]
	if !ok {
		return Descriptor{}, fmt.Errorf("unknown entity kind %q", kind)
	}
	return d, nil
}

// ParseKind maps an external kind name onto the closed kind set.
func ParseKind(name string) (Kind, error) {
	kind := Kind(name)
	if _, ok := descriptors[kind]; !ok {
		return "", fmt.Errorf("unknown entity kind %q", name)
	}
	return kind, nil
}

// Kinds returns all registered kinds sorted by name.
func Kinds() []Kind {
	kinds := make([]Kind, 0, len(descriptors))
	for k := range descriptors {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// HasField reports whether the kind projects field.
func (d Descriptor) HasField(field Field) bool {
	switch field {
	case FieldUUID, FieldUserKey:
		return true
	}
	for _, f := range d.Fields {
		if f == field {
			return true
		}
	}
	return false
}

// UnknownModel is reported for organisationfunktion rows whose function name has no kind.
const UnknownModel = "unknown"

// ModelForFunctionName maps an organisationfunktion discriminator to its model name.
func ModelForFunctionName(name string) string {
	for _, d := range descriptors {
		if d.Category == CategoryOrganisationFunktion && d.FunctionName == name {
			return string(d.Kind)
		}
	}
	return UnknownModel
}

// FunctionNames returns the discriminator of every organisationfunktion kind keyed by model name.
func FunctionNames() map[string]string {
	names := make(map[string]string)
	for _, d := range descriptors {
		if d.Category == CategoryOrganisationFunktion {
			names[string(d.Kind)] = d.FunctionName
		}
	}
	return names
}

// ModelForCategory returns the model name of a single-kind category.
// organisationfunktion is resolved per row, so it reports false.
func ModelForCategory(c Category) (string, bool) {
	if c == CategoryOrganisationFunktion {
		return "", false
	}
	for _, d := range descriptors {
		if d.Category == c {
			return string(d.Kind), true
		}
	}
	return "", false
}

// Tabular validity columns shared by bulk import and export.
const (
	ColumnValidFrom = "valid_from"
	ColumnValidTo   = "valid_to"
)

// Columns returns the tabular layout of the kind: identity, validity, then the
// projected fields in descriptor order.
func (d Descriptor) Columns() []string {
	cols := []string{string(FieldUUID), string(FieldUserKey), ColumnValidFrom, ColumnValidTo}
	for _, f := range d.Fields {
		cols = append(cols, string(f))
	}
	return cols
}
