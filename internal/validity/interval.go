// Package validity resolves the business-time window a query looks at.
package validity

import (
	"time"

	"github.com/rpattn/mora/internal/apperror"
	"github.com/rpattn/mora/internal/domain"
)

// DefaultSpan is the width of the window inferred when only a lower bound is known.
const DefaultSpan = time.Millisecond

// Bound is an optional, nullable interval endpoint.
// Set false means "not provided"; Set true with a nil Value means explicit null (infinity).
type Bound struct {
	Set   bool
	Value *time.Time
}

// Unset is a bound that was not provided.
var Unset = Bound{}

// Null is an explicitly null bound.
var Null = Bound{Set: true}

// At is a bound set to t.
func At(t time.Time) Bound {
	return Bound{Set: true, Value: &t}
}

// Resolve computes the effective [from, to) window. now must be captured once per request.
func Resolve(now time.Time, from, to Bound) (domain.Window, error) {
	effectiveFrom := &now
	if from.Set {
		effectiveFrom = from.Value
	}

	if !to.Set {
		if effectiveFrom == nil {
			return domain.Window{}, apperror.InvalidInput("Cannot infer an implicit upper bound from an interval starting at negative infinity.")
		}
		upper := effectiveFrom.Add(DefaultSpan)
		return domain.Window{From: effectiveFrom, To: &upper}, nil
	}

	if effectiveFrom != nil && to.Value != nil && effectiveFrom.After(*to.Value) {
		return domain.Window{}, apperror.InvalidInput("from_date must be less than or equal to to_date")
	}
	return domain.Window{From: effectiveFrom, To: to.Value}, nil
}
