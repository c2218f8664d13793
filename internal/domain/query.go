package domain

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// Op is the comparison a predicate applies to its field.
type Op int

const (
	// OpAnyUUID matches when the field equals any of UUIDs.
	OpAnyUUID Op = iota
	// OpAnyString matches when the field equals any of Strings.
	OpAnyString
	// OpSimilar matches when the field equals any of Strings through an
	// anchored regex union, for multi-value filters that must OR.
	OpSimilar
	// OpIsNull matches when the field is NULL.
	OpIsNull
)

// Predicate is one store-level filter. Predicates in a query are ANDed.
type Predicate struct {
	Field   Field
	Op      Op
	UUIDs   []uuid.UUID
	Strings []string
}

// AnyUUID builds a predicate matching field against any of ids.
func AnyUUID(field Field, ids []uuid.UUID) Predicate {
	return Predicate{Field: field, Op: OpAnyUUID, UUIDs: ids}
}

// AnyString builds a predicate matching field against any of values.
func AnyString(field Field, values []string) Predicate {
	return Predicate{Field: field, Op: OpAnyString, Strings: values}
}

// SimilarTo builds an exact-match OR predicate compiled to a regex union.
func SimilarTo(field Field, values []string) Predicate {
	return Predicate{Field: field, Op: OpSimilar, Strings: values}
}

// IsNull builds a predicate matching a NULL field.
func IsNull(field Field) Predicate {
	return Predicate{Field: field, Op: OpIsNull}
}

// Matches evaluates p against a loaded version, mirroring the store semantics.
func (p Predicate) Matches(v *Version) bool {
	switch target := v.Target(p.Field).(type) {
	case *uuid.UUID:
		return p.Op == OpAnyUUID && slices.Contains(p.UUIDs, *target)
	case **uuid.UUID:
		if p.Op == OpIsNull {
			return *target == nil
		}
		return p.Op == OpAnyUUID && *target != nil && slices.Contains(p.UUIDs, **target)
	case *string:
		return (p.Op == OpAnyString || p.Op == OpSimilar) && slices.Contains(p.Strings, *target)
	case **string:
		if p.Op == OpIsNull {
			return *target == nil
		}
		return (p.Op == OpAnyString || p.Op == OpSimilar) && *target != nil && slices.Contains(p.Strings, **target)
	}
	return false
}

// Query describes one bitemporal read against the store.
type Query struct {
	Kind       Kind
	Predicates []Predicate
	Window     Window
	// RegistrationTime selects the registration in effect; zero means now.
	RegistrationTime time.Time
	// Limit caps the number of distinct UUIDs returned; nil means unbounded.
	Limit  *int
	Offset int
}
