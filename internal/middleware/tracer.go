package middleware

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/rpattn/mora/internal/apperror"
	"github.com/rpattn/mora/internal/metrics"

	gqlerrors "github.com/graph-gophers/graphql-go/errors"
	"github.com/graph-gophers/graphql-go/introspection"
	"github.com/graph-gophers/graphql-go/trace/tracer"
	"github.com/sirupsen/logrus"
)

// ResolverTracer logs resolver execution times and errors, and records them as
// metrics. It also receives panics recovered by the executor.
type ResolverTracer struct {
	logger *logrus.Entry
	// stackTraces logs the full %+v chain of internal errors.
	stackTraces bool
}

var _ tracer.Tracer = (*ResolverTracer)(nil)

// NewResolverTracer creates a tracer logging to logger.
func NewResolverTracer(logger *logrus.Entry, stackTraces bool) *ResolverTracer {
	return &ResolverTracer{logger: logger, stackTraces: stackTraces}
}

// TraceQuery logs one executed operation.
func (t *ResolverTracer) TraceQuery(ctx context.Context, queryString string, operationName string, variables map[string]interface{}, varTypes map[string]*introspection.Type) (context.Context, tracer.QueryFinishFunc) {
	start := time.Now()
	return ctx, func(errs []*gqlerrors.QueryError) {
		t.logger.WithFields(logrus.Fields{
			"operation":   operationName,
			"duration_ms": elapsedMillis(start),
			"errors":      len(errs),
		}).Debug("graphql operation")
	}
}

// TraceField logs each non-trivial resolver duration and error.
func (t *ResolverTracer) TraceField(ctx context.Context, label, typeName, fieldName string, trivial bool, args map[string]interface{}) (context.Context, tracer.FieldFinishFunc) {
	if trivial {
		return ctx, func(*gqlerrors.QueryError) {}
	}

	start := time.Now()
	return ctx, func(qErr *gqlerrors.QueryError) {
		elapsed := time.Since(start)
		entry := t.logger.WithFields(logrus.Fields{
			"field":       typeName + "." + fieldName,
			"duration_ms": elapsedMillis(start),
		})

		if qErr == nil {
			metrics.ObserveField(typeName, fieldName, "", elapsed)
			entry.Debug("graphql field")
			return
		}

		err := resolverError(qErr)
		code := apperror.CodeOf(err)
		metrics.ObserveField(typeName, fieldName, string(code), elapsed)

		entry = entry.WithFields(logrus.Fields{"code": code, "error": err.Error()})
		if apperror.IsCaller(err) {
			entry.Info("graphql field rejected")
			return
		}
		if t.stackTraces {
			entry = entry.WithField("stack", fmt.Sprintf("%+v", internalCause(err)))
		}
		entry.Error("graphql field failed")
	}
}

// LogPanic implements graphql-go's log.Logger.
func (t *ResolverTracer) LogPanic(ctx context.Context, value interface{}) {
	const size = 64 << 10
	buf := make([]byte, size)
	buf = buf[:runtime.Stack(buf, false)]
	t.logger.WithField("panic", fmt.Sprint(value)).WithField("stack", string(buf)).Error("graphql resolver panicked")
}

// MakePanicError implements graphql-go's errors.PanicHandler. The panic value
// stays out of the response; LogPanic has already recorded it.
func (t *ResolverTracer) MakePanicError(ctx context.Context, value interface{}) *gqlerrors.QueryError {
	err := apperror.Internal(fmt.Errorf("resolver panic: %v", value))
	return &gqlerrors.QueryError{
		Message:       err.Message,
		ResolverError: err,
		Extensions:    err.Extensions(),
	}
}

// resolverError returns the error a resolver returned, or the query error itself.
func resolverError(qErr *gqlerrors.QueryError) error {
	if qErr.ResolverError != nil {
		return qErr.ResolverError
	}
	if qErr.Err != nil {
		return qErr.Err
	}
	return qErr
}

// internalCause strips the caller-facing wrapper so that %+v reaches the stack.
func internalCause(err error) error {
	var appErr *apperror.Error
	if errors.As(err, &appErr) && appErr.Internal != nil {
		return appErr.Internal
	}
	return err
}

func elapsedMillis(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000
}
