package entityloader

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rpattn/mora/internal/auth"
	"github.com/rpattn/mora/internal/domain"
	"github.com/rpattn/mora/internal/metrics"
	"github.com/rpattn/mora/internal/repository"

	"github.com/google/uuid"
	"github.com/graph-gophers/dataloader"
)

// batchWait is how long a loader collects keys before querying the store.
const batchWait = 2 * time.Millisecond

// scope identifies one loader: objects of one kind seen through one window at one registration time.
type scope struct {
	kind     domain.Kind
	from     string
	to       string
	regTime  int64
	window   domain.Window
	regValue time.Time
}

func newScope(kind domain.Kind, window domain.Window, regTime time.Time) scope {
	s := scope{kind: kind, window: window, regTime: regTime.UnixNano(), regValue: regTime}
	if window.From != nil {
		s.from = window.From.UTC().Format(time.RFC3339Nano)
	}
	if window.To != nil {
		s.to = window.To.UTC().Format(time.RFC3339Nano)
	}
	return s
}

func (s scope) key() string {
	return fmt.Sprintf("%s|%s|%s|%d", s.kind, s.from, s.to, s.regTime)
}

// EntityLoader batches UUID lookups within one request. Each distinct
// (kind, window, registration time) gets its own dataloader so that one store
// query per scope serves every concurrent field asking for it.
type EntityLoader struct {
	repo     repository.ObjectRepository
	auditLog repository.AuditLogRepository

	mu      sync.Mutex
	loaders map[string]*dataloader.Loader
}

// NewEntityLoader creates a request-scoped loader. auditLog may be nil; when set,
// every batch of UUIDs read is recorded against the request's actor.
func NewEntityLoader(repo repository.ObjectRepository, auditLog repository.AuditLogRepository) *EntityLoader {
	return &EntityLoader{
		repo:     repo,
		auditLog: auditLog,
		loaders:  make(map[string]*dataloader.Loader),
	}
}

func (l *EntityLoader) loader(s scope) *dataloader.Loader {
	l.mu.Lock()
	defer l.mu.Unlock()

	k := s.key()
	if loader, ok := l.loaders[k]; ok {
		return loader
	}
	loader := dataloader.NewBatchedLoader(l.batchFn(s), dataloader.WithWait(batchWait))
	l.loaders[k] = loader
	return loader
}

func (l *EntityLoader) batchFn(s scope) dataloader.BatchFunc {
	return func(ctx context.Context, keys dataloader.Keys) []*dataloader.Result {
		// Convert keys to []uuid.UUID
		ids := make([]uuid.UUID, len(keys))
		for i, k := range keys {
			id, err := uuid.Parse(k.String())
			if err != nil {
				return failAll(len(keys), fmt.Errorf("invalid UUID: %w", err))
			}
			ids[i] = id
		}
		metrics.ObserveLoaderBatch(string(s.kind), len(ids))

		versions, exists, err := l.repo.GetByUUIDs(ctx, s.kind, ids, s.window, s.regValue)
		if err != nil {
			return failAll(len(keys), err)
		}

		if l.auditLog != nil {
			if err := l.recordRead(ctx, s.kind, ids, exists); err != nil {
				return failAll(len(keys), err)
			}
		}

		// Build results in the same order as keys
		objects := domain.GroupByUUID(versions, ids)
		results := make([]*dataloader.Result, len(keys))
		for i := range objects {
			if exists[objects[i].UUID] {
				obj := objects[i]
				results[i] = &dataloader.Result{Data: &obj}
			} else {
				results[i] = &dataloader.Result{Data: (*domain.Object)(nil)}
			}
		}
		return results
	}
}

func (l *EntityLoader) recordRead(ctx context.Context, kind domain.Kind, ids []uuid.UUID, exists map[uuid.UUID]bool) error {
	read := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if exists[id] {
			read = append(read, id)
		}
	}
	if len(read) == 0 {
		return nil
	}
	actor, _ := auth.ActorFromContext(ctx)
	return l.auditLog.Record(ctx, domain.AuditLogEntry{
		Actor:     actor,
		Model:     string(kind),
		Operation: "resolve_" + string(kind),
		UUIDs:     read,
	})
}

func failAll(n int, err error) []*dataloader.Result {
	results := make([]*dataloader.Result, n)
	for i := range results {
		results[i] = &dataloader.Result{Error: err}
	}
	return results
}

// Load returns the object with id as seen through window at regTime, or nil if
// no such object exists. An object that exists but has no version in the
// window is returned with empty Versions.
func (l *EntityLoader) Load(ctx context.Context, kind domain.Kind, id uuid.UUID, window domain.Window, regTime time.Time) (*domain.Object, error) {
	thunk := l.loader(newScope(kind, window, regTime)).Load(ctx, dataloader.StringKey(id.String()))
	data, err := thunk()
	if err != nil {
		return nil, err
	}
	obj, _ := data.(*domain.Object)
	return obj, nil
}

// LoadMany resolves ids in input order with duplicates removed. Objects that do
// not exist are dropped.
func (l *EntityLoader) LoadMany(ctx context.Context, kind domain.Kind, ids []uuid.UUID, window domain.Window, regTime time.Time) ([]domain.Object, error) {
	ids = domain.Dedupe(ids)
	if len(ids) == 0 {
		return []domain.Object{}, nil
	}

	keys := make(dataloader.Keys, len(ids))
	for i, id := range ids {
		keys[i] = dataloader.StringKey(id.String())
	}
	data, errs := l.loader(newScope(kind, window, regTime)).LoadMany(ctx, keys)()
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	objects := make([]domain.Object, 0, len(data))
	for _, d := range data {
		if obj, ok := d.(*domain.Object); ok && obj != nil {
			objects = append(objects, *obj)
		}
	}
	return objects, nil
}

type ctxKey string

const entityLoaderKey ctxKey = "entityLoader"

// WithEntityLoader stores loader in ctx.
func WithEntityLoader(ctx context.Context, loader *EntityLoader) context.Context {
	return context.WithValue(ctx, entityLoaderKey, loader)
}

// FromContext retrieves the request's loader, if any.
func FromContext(ctx context.Context) *EntityLoader {
	if l, ok := ctx.Value(entityLoaderKey).(*EntityLoader); ok {
		return l
	}
	return nil
}
