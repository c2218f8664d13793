package auth

import (
	"context"
	"net/http"

	"github.com/rpattn/mora/internal/apperror"

	"github.com/google/uuid"
)

type contextKey string

const actorKey contextKey = "actor"

// ActorHeader carries the UUID of the acting user or integration.
const ActorHeader = "X-Actor"

// ContextWithActor returns a new context that carries the acting identity.
func ContextWithActor(ctx context.Context, id uuid.UUID) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, actorKey, id)
}

// ActorFromContext retrieves the acting identity from the context, if any.
func ActorFromContext(ctx context.Context) (uuid.UUID, bool) {
	if ctx == nil {
		return uuid.Nil, false
	}
	id, ok := ctx.Value(actorKey).(uuid.UUID)
	if !ok || id == uuid.Nil {
		return uuid.Nil, false
	}
	return id, true
}

// RequireActor returns the acting identity or an invalid-input error naming the header.
func RequireActor(ctx context.Context) (uuid.UUID, error) {
	id, ok := ActorFromContext(ctx)
	if !ok {
		return uuid.Nil, apperror.InvalidInput("missing or invalid %s header", ActorHeader)
	}
	return id, nil
}

// ActorMiddleware reads ActorHeader into the request context. Requests without a
// valid header proceed anonymously; operations that need an actor call RequireActor.
func ActorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if raw := r.Header.Get(ActorHeader); raw != "" {
			if id, err := uuid.Parse(raw); err == nil {
				r = r.WithContext(ContextWithActor(r.Context(), id))
			}
		}
		next.ServeHTTP(w, r)
	})
}
