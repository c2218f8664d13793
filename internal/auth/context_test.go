package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rpattn/mora/internal/apperror"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActorFromContext(t *testing.T) {
	_, ok := ActorFromContext(context.Background())
	assert.False(t, ok)

	_, ok = ActorFromContext(ContextWithActor(context.Background(), uuid.Nil))
	assert.False(t, ok, "nil UUID is not an actor")

	id := uuid.New()
	got, ok := ActorFromContext(ContextWithActor(context.Background(), id))
	require.True(t, ok)
	assert.Equal(t, id, got)
}

func TestRequireActor(t *testing.T) {
	_, err := RequireActor(context.Background())
	require.Error(t, err)
	assert.Equal(t, apperror.CodeInvalidInput, apperror.CodeOf(err))
}

func TestActorMiddleware(t *testing.T) {
	id := uuid.New()
	tests := []struct {
		name   string
		header string
		want   uuid.UUID
		ok     bool
	}{
		{name: "valid header", header: id.String(), want: id, ok: true},
		{name: "missing header"},
		{name: "malformed header", header: "not-a-uuid"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got uuid.UUID
			var ok bool
			handler := ActorMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got, ok = ActorFromContext(r.Context())
			}))

			req := httptest.NewRequest(http.MethodPost, "/graphql", nil)
			if tt.header != "" {
				req.Header.Set(ActorHeader, tt.header)
			}
			handler.ServeHTTP(httptest.NewRecorder(), req)

			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
