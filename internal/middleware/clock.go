package middleware

import (
	"context"
	"net/http"
	"time"
)

type ctxKey string

const requestTimeKey ctxKey = "requestTime"

// WithRequestTime pins the time every resolver of the request treats as "now".
func WithRequestTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, requestTimeKey, t)
}

// RequestTime returns the pinned request time, falling back to the wall clock
// for contexts that never passed through RequestClock.
func RequestTime(ctx context.Context) time.Time {
	if t, ok := ctx.Value(requestTimeKey).(time.Time); ok {
		return t
	}
	return time.Now()
}

// RequestClock captures the request time once, before any resolver runs. The
// time is truncated to the store's microsecond precision so that it survives a
// round trip through a cursor or a timestamptz column unchanged.
func RequestClock(clock func() time.Time) func(http.Handler) http.Handler {
	if clock == nil {
		clock = time.Now
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := WithRequestTime(r.Context(), clock().UTC().Truncate(time.Microsecond))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
