package validity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/mora/internal/apperror"
)

func TestResolveDefaultsToNowSnapshot(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	w, err := Resolve(now, Unset, Unset)
	require.NoError(t, err)
	require.NotNil(t, w.From)
	require.NotNil(t, w.To)
	assert.True(t, w.From.Equal(now))
	assert.True(t, w.To.Equal(now.Add(time.Millisecond)))
}

func TestResolveExplicitFromInfersUpperBound(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	from := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

	w, err := Resolve(now, At(from), Unset)
	require.NoError(t, err)
	assert.True(t, w.From.Equal(from))
	assert.True(t, w.To.Equal(from.Add(time.Millisecond)))
}

func TestResolveNegativeInfinityNeedsUpperBound(t *testing.T) {
	_, err := Resolve(time.Now(), Null, Unset)
	require.Error(t, err)
	assert.Equal(t, apperror.CodeInvalidInput, apperror.CodeOf(err))
	assert.Equal(t, "Cannot infer an implicit upper bound from an interval starting at negative infinity.", err.Error())
}

func TestResolveOpenInterval(t *testing.T) {
	now := time.Now()

	w, err := Resolve(now, Null, Null)
	require.NoError(t, err)
	assert.Nil(t, w.From)
	assert.Nil(t, w.To)

	w, err = Resolve(now, Unset, Null)
	require.NoError(t, err)
	assert.True(t, w.From.Equal(now))
	assert.Nil(t, w.To)
}

func TestResolveRejectsInvertedInterval(t *testing.T) {
	t1 := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := t1.Add(24 * time.Hour)

	_, err := Resolve(time.Now(), At(t2), At(t1))
	require.Error(t, err)
	assert.Equal(t, apperror.CodeInvalidInput, apperror.CodeOf(err))

	w, err := Resolve(time.Now(), At(t1), At(t1))
	require.NoError(t, err)
	assert.True(t, w.From.Equal(*w.To))
}
