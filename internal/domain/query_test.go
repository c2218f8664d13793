package domain

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestPredicateMatches(t *testing.T) {
	parent := uuid.New()
	name := "Kolding"
	v := &Version{UUID: uuid.New(), UserKey: "kol", Parent: &parent, Name: &name}
	orphan := &Version{UUID: uuid.New(), UserKey: "root"}

	tests := []struct {
		name    string
		pred    Predicate
		version *Version
		want    bool
	}{
		{name: "uuid", pred: AnyUUID(FieldUUID, []uuid.UUID{uuid.New(), v.UUID}), version: v, want: true},
		{name: "uuid miss", pred: AnyUUID(FieldUUID, []uuid.UUID{uuid.New()}), version: v, want: false},
		{name: "empty uuid list", pred: AnyUUID(FieldUUID, []uuid.UUID{}), version: v, want: false},
		{name: "nullable uuid", pred: AnyUUID(FieldParent, []uuid.UUID{parent}), version: v, want: true},
		{name: "nullable uuid unset", pred: AnyUUID(FieldParent, []uuid.UUID{parent}), version: orphan, want: false},
		{name: "is null", pred: IsNull(FieldParent), version: orphan, want: true},
		{name: "is null set", pred: IsNull(FieldParent), version: v, want: false},
		{name: "similar", pred: SimilarTo(FieldUserKey, []string{"a", "kol"}), version: v, want: true},
		{name: "similar is exact", pred: SimilarTo(FieldUserKey, []string{"ko"}), version: v, want: false},
		{name: "nullable string", pred: AnyString(FieldName, []string{"Kolding"}), version: v, want: true},
		{name: "nullable string unset", pred: AnyString(FieldName, []string{"Kolding"}), version: orphan, want: false},
		{name: "unknown field", pred: AnyString("colour", []string{"red"}), version: v, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.pred.Matches(tt.version))
		})
	}
}
