package graphql

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rpattn/mora/internal/auth"
	"github.com/rpattn/mora/internal/domain"
	"github.com/rpattn/mora/internal/entityloader"
	"github.com/rpattn/mora/internal/middleware"
	"github.com/rpattn/mora/internal/paged"

	"github.com/google/uuid"
	graphqlgo "github.com/graph-gophers/graphql-go"
	gqlerrors "github.com/graph-gophers/graphql-go/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

// memStore evaluates queries the way the SQL store does: a UUID is selected
// when one of its versions in the window matches every predicate, UUIDs are
// paged in sorted order, and all their versions in the window are returned.
type memStore struct {
	mu       sync.Mutex
	versions []domain.Version
	root     uuid.UUID
	queries  []domain.Query
	err      error
}

func (m *memStore) add(vs ...domain.Version) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.versions = append(m.versions, vs...)
}

func (m *memStore) List(_ context.Context, q domain.Query) ([]domain.Version, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries = append(m.queries, q)
	if m.err != nil {
		return nil, m.err
	}

	matched := make(map[uuid.UUID]bool)
	for i := range m.versions {
		v := &m.versions[i]
		if v.Kind != q.Kind || !q.Window.Overlaps(v.ValidFrom, v.ValidTo) {
			continue
		}
		ok := true
		for _, p := range q.Predicates {
			if !p.Matches(v) {
				ok = false
				break
			}
		}
		if ok {
			matched[v.UUID] = true
		}
	}

	ids := make([]uuid.UUID, 0, len(matched))
	for id := range matched {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	if q.Offset >= len(ids) {
		ids = nil
	} else {
		ids = ids[q.Offset:]
	}
	if q.Limit != nil && *q.Limit < len(ids) {
		ids = ids[:*q.Limit]
	}

	var out []domain.Version
	for _, id := range ids {
		out = append(out, m.inWindow(q.Kind, id, q.Window)...)
	}
	return out, nil
}

func (m *memStore) GetByUUIDs(_ context.Context, kind domain.Kind, ids []uuid.UUID, window domain.Window, _ time.Time) ([]domain.Version, map[uuid.UUID]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, nil, m.err
	}

	exists := make(map[uuid.UUID]bool)
	var out []domain.Version
	for _, id := range domain.Dedupe(ids) {
		for _, v := range m.versions {
			if v.Kind == kind && v.UUID == id {
				exists[id] = true
			}
		}
		out = append(out, m.inWindow(kind, id, window)...)
	}
	return out, exists, nil
}

func (m *memStore) inWindow(kind domain.Kind, id uuid.UUID, window domain.Window) []domain.Version {
	var out []domain.Version
	for _, v := range m.versions {
		if v.Kind == kind && v.UUID == id && window.Overlaps(v.ValidFrom, v.ValidTo) {
			out = append(out, v)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ValidFrom == nil || out[j].ValidFrom == nil {
			return out[i].ValidFrom == nil && out[j].ValidFrom != nil
		}
		return out[i].ValidFrom.Before(*out[j].ValidFrom)
	})
	return out
}

func (m *memStore) RootOrganisation(context.Context) (uuid.UUID, error) {
	return m.root, nil
}

type fakeEvents struct {
	mu        sync.Mutex
	listeners []domain.Listener
	claimable []domain.Event
	acked     map[uuid.UUID]uuid.UUID
	sent      []string
	silenced  []domain.EventFilter
	listed    []domain.EventFilter
}

func (f *fakeEvents) DeclareListener(_ context.Context, l domain.Listener) (domain.Listener, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l.UUID = uuid.New()
	f.listeners = append(f.listeners, l)
	return l, nil
}

func (f *fakeEvents) ListListeners(_ context.Context, filter domain.ListenerFilter, _ paged.Params) ([]domain.Listener, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Listener
	for _, l := range f.listeners {
		for _, owner := range filter.Owners {
			if l.Owner == owner {
				out = append(out, l)
			}
		}
	}
	return out, nil
}

func (f *fakeEvents) Send(_ context.Context, namespace, routingKey, subject string, priority int32) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, subject)
	var n int64
	for _, l := range f.listeners {
		if l.Namespace == namespace && l.RoutingKey == routingKey {
			n++
		}
	}
	return n, nil
}

func (f *fakeEvents) List(_ context.Context, filter domain.EventFilter, _ paged.Params) ([]domain.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listed = append(f.listed, filter)
	return append([]domain.Event(nil), f.claimable...), nil
}

func (f *fakeEvents) Claim(_ context.Context, _, listener uuid.UUID, now time.Time) (*domain.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, e := range f.claimable {
		if e.ListenerUUID == listener && e.Eligible(now) {
			e.FetchedCount++
			e.LastTried = &now
			e.Generation = uuid.New()
			f.claimable[i] = e
			return &e, nil
		}
	}
	return nil, nil
}

func (f *fakeEvents) Acknowledge(_ context.Context, owner, id, generation uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	owned := map[uuid.UUID]bool{}
	for _, l := range f.listeners {
		if l.Owner == owner {
			owned[l.UUID] = true
		}
	}
	for i, e := range f.claimable {
		if e.UUID == id && e.Generation == generation && owned[e.ListenerUUID] {
			f.claimable = append(f.claimable[:i], f.claimable[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeEvents) SetSilenced(_ context.Context, _ uuid.UUID, filter domain.EventFilter, _ bool) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.silenced = append(f.silenced, filter)
	return int64(len(f.claimable)), nil
}

type fakeRegistrations struct {
	rows    []domain.Registration
	filters []domain.RegistrationFilter
	params  []paged.Params
}

func (f *fakeRegistrations) List(_ context.Context, filter domain.RegistrationFilter, p paged.Params) ([]domain.Registration, error) {
	f.filters = append(f.filters, filter)
	f.params = append(f.params, p)
	rows := f.rows
	if p.Offset >= len(rows) {
		return nil, nil
	}
	rows = rows[p.Offset:]
	if p.Limit != nil && *p.Limit < len(rows) {
		rows = rows[:*p.Limit]
	}
	return rows, nil
}

type fakeAuditLog struct {
	mu      sync.Mutex
	entries []domain.AuditLogEntry
}

func (f *fakeAuditLog) Record(_ context.Context, entry domain.AuditLogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeAuditLog) List(context.Context, domain.AuditLogFilter, paged.Params) ([]domain.AuditLogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.AuditLogEntry(nil), f.entries...), nil
}

// fakeClock stands in for the database clock.
type fakeClock struct {
	now   time.Time
	err   error
	calls int
}

func (c *fakeClock) Now(context.Context) (time.Time, error) {
	c.calls++
	return c.now, c.err
}

type harness struct {
	store         *memStore
	events        *fakeEvents
	registrations *fakeRegistrations
	auditLog      *fakeAuditLog
	clock         *fakeClock
	resolver      *Resolver
	schema        *graphqlgo.Schema
	now           time.Time
	actor         uuid.UUID
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:         &memStore{root: uuid.New()},
		events:        &fakeEvents{},
		registrations: &fakeRegistrations{},
		auditLog:      &fakeAuditLog{},
		// The store clock trails the application clock.
		clock: &fakeClock{now: time.Date(2024, 6, 1, 11, 59, 58, 0, time.UTC)},
		now:   time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
		actor: uuid.New(),
	}
	logger := logrus.New()
	logger.SetOutput(testWriter{t})
	h.resolver = NewResolver(Config{
		Objects:         h.store,
		Registrations:   h.registrations,
		Events:          h.events,
		AuditLog:        h.auditLog,
		Clock:           h.clock,
		EmptyFetchDelay: time.Millisecond,
		Logger:          logrus.NewEntry(logger),
	})
	schema, err := NewSchema(h.resolver)
	require.NoError(t, err)
	h.schema = schema
	return h
}

func (h *harness) ctx() context.Context {
	ctx := middleware.WithRequestTime(context.Background(), h.now)
	ctx = entityloader.WithEntityLoader(ctx, entityloader.NewEntityLoader(h.store, h.auditLog))
	if h.actor != uuid.Nil {
		ctx = auth.ContextWithActor(ctx, h.actor)
	}
	return ctx
}

func (h *harness) exec(t *testing.T, query string, vars map[string]interface{}, out interface{}) []*gqlerrors.QueryError {
	t.Helper()
	resp := h.schema.Exec(h.ctx(), query, "", vars)
	if len(resp.Errors) == 0 && out != nil {
		require.NoError(t, json.Unmarshal(resp.Data, out))
	}
	return resp.Errors
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

var since = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

func version(kind domain.Kind, id uuid.UUID, userKey string) domain.Version {
	return domain.Version{Kind: kind, UUID: id, UserKey: userKey, ValidFrom: ptr(since)}
}
