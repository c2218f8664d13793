package graphql

import (
	"encoding/json"
	"time"

	"github.com/rpattn/mora/internal/apperror"
	"github.com/rpattn/mora/internal/validity"

	"github.com/google/uuid"
)

// UUID binds uuid.UUID to "scalar UUID".
type UUID struct {
	uuid.UUID
}

// ImplementsGraphQLType maps UUID to "scalar UUID".
func (UUID) ImplementsGraphQLType(name string) bool {
	return name == "UUID"
}

// UnmarshalGraphQL parses a UUID argument.
func (u *UUID) UnmarshalGraphQL(input interface{}) error {
	s, ok := input.(string)
	if !ok {
		return apperror.InvalidInput("wrong type for UUID: %T", input)
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return apperror.InvalidInput("invalid UUID %q", s)
	}
	u.UUID = id
	return nil
}

// MarshalJSON renders the canonical string form.
func (u UUID) MarshalJSON() ([]byte, error) {
	return json.Marshal(u.UUID.String())
}

func toUUIDs(in []UUID) []uuid.UUID {
	out := make([]uuid.UUID, len(in))
	for i, u := range in {
		out[i] = u.UUID
	}
	return out
}

func fromUUIDs(in []uuid.UUID) []UUID {
	out := make([]UUID, len(in))
	for i, u := range in {
		out[i] = UUID{u}
	}
	return out
}

func uuidPtr(id *uuid.UUID) *UUID {
	if id == nil {
		return nil
	}
	return &UUID{*id}
}

// DateTime binds time.Time to "scalar DateTime". Input accepts RFC 3339
// timestamps and plain dates, which are taken as midnight UTC.
type DateTime struct {
	time.Time
}

var dateTimeLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"}

// ImplementsGraphQLType maps DateTime to "scalar DateTime".
func (DateTime) ImplementsGraphQLType(name string) bool {
	return name == "DateTime"
}

// UnmarshalGraphQL parses a DateTime argument.
func (d *DateTime) UnmarshalGraphQL(input interface{}) error {
	s, ok := input.(string)
	if !ok {
		return apperror.InvalidInput("wrong type for DateTime: %T", input)
	}
	t, err := parseDateTime(s)
	if err != nil {
		return err
	}
	d.Time = t
	return nil
}

// MarshalJSON renders RFC 3339 with nanoseconds.
func (d DateTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Time.Format(time.RFC3339Nano))
}

func parseDateTime(s string) (time.Time, error) {
	for _, layout := range dateTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, apperror.InvalidInput("invalid DateTime %q", s)
}

func dateTimePtr(t *time.Time) *DateTime {
	if t == nil {
		return nil
	}
	return &DateTime{*t}
}

// NullDateTime is a DateTime input that distinguishes an omitted value from an
// explicit null. When the value is defined (either null or a value) Set is true.
type NullDateTime struct {
	Value *time.Time
	Set   bool
}

// ImplementsGraphQLType maps NullDateTime to "scalar DateTime".
func (NullDateTime) ImplementsGraphQLType(name string) bool {
	return name == "DateTime"
}

// UnmarshalGraphQL records an explicit null or parses a value.
func (n *NullDateTime) UnmarshalGraphQL(input interface{}) error {
	n.Set = true
	if input == nil {
		return nil
	}
	var d DateTime
	if err := d.UnmarshalGraphQL(input); err != nil {
		return err
	}
	n.Value = &d.Time
	return nil
}

// Nullable marks NullDateTime as accepting an explicit null.
func (n *NullDateTime) Nullable() {}

// Bound converts the input to an interval endpoint.
func (n NullDateTime) Bound() validity.Bound {
	return validity.Bound{Set: n.Set, Value: n.Value}
}

// NullUUIDs is a [UUID!] input that distinguishes an omitted list, an explicit
// null, and a (possibly empty) list.
type NullUUIDs struct {
	Value []uuid.UUID
	Set   bool
	Null  bool
}

// ImplementsGraphQLType maps NullUUIDs to "[UUID!]".
func (NullUUIDs) ImplementsGraphQLType(name string) bool {
	return name == "[UUID!]"
}

// UnmarshalGraphQL records an explicit null or parses the list. A single value
// is coerced to a one-element list.
func (n *NullUUIDs) UnmarshalGraphQL(input interface{}) error {
	n.Set = true
	if input == nil {
		n.Null = true
		return nil
	}

	items, ok := input.([]interface{})
	if !ok {
		items = []interface{}{input}
	}
	n.Value = make([]uuid.UUID, 0, len(items))
	for _, item := range items {
		var u UUID
		if err := u.UnmarshalGraphQL(item); err != nil {
			return err
		}
		n.Value = append(n.Value, u.UUID)
	}
	return nil
}

// Nullable marks NullUUIDs as accepting an explicit null.
func (n *NullUUIDs) Nullable() {}
