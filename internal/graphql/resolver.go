package graphql

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rpattn/mora/internal/apperror"
	"github.com/rpattn/mora/internal/domain"
	"github.com/rpattn/mora/internal/entityloader"
	"github.com/rpattn/mora/internal/middleware"
	"github.com/rpattn/mora/internal/repository"
	"github.com/rpattn/mora/internal/validity"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DefaultEmptyFetchDelay is how long event_fetch waits before reporting that no event is eligible.
const DefaultEmptyFetchDelay = 200 * time.Millisecond

// Config holds the resolver's collaborators and settings.
type Config struct {
	Objects       repository.ObjectRepository
	Registrations repository.RegistrationRepository
	Events        repository.EventRepository
	AuditLog      repository.AuditLogRepository
	// Clock pins the first page of registration, event and audit log listings.
	// Nil pins them to the request time.
	Clock repository.Clock

	// RootOrganisation overrides the lookup of the single stored organisation.
	RootOrganisation uuid.UUID
	// EmptyFetchDelay throttles polling of event_fetch when nothing is eligible.
	EmptyFetchDelay time.Duration

	Logger *logrus.Entry
}

// Resolver handles GraphQL queries and mutations
type Resolver struct {
	objects       repository.ObjectRepository
	registrations repository.RegistrationRepository
	events        repository.EventRepository
	auditLog      repository.AuditLogRepository
	clock         repository.Clock

	emptyFetchDelay time.Duration
	logger          *logrus.Entry

	rootMu sync.Mutex
	root   uuid.UUID
}

// NewResolver creates a new GraphQL resolver
func NewResolver(cfg Config) *Resolver {
	delay := cfg.EmptyFetchDelay
	if delay == 0 {
		delay = DefaultEmptyFetchDelay
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	clock := cfg.Clock
	if clock == nil {
		clock = requestClock{}
	}
	return &Resolver{
		objects:         cfg.Objects,
		registrations:   cfg.Registrations,
		events:          cfg.Events,
		auditLog:        cfg.AuditLog,
		clock:           clock,
		emptyFetchDelay: delay,
		logger:          logger,
		root:            cfg.RootOrganisation,
	}
}

// rootOrganisation returns the configured root organisation, or looks up the
// single stored one and remembers it once found.
func (r *Resolver) rootOrganisation(ctx context.Context) (uuid.UUID, error) {
	r.rootMu.Lock()
	defer r.rootMu.Unlock()
	if r.root != uuid.Nil {
		return r.root, nil
	}
	id, err := r.objects.RootOrganisation(ctx)
	if err != nil {
		return uuid.Nil, apperror.Internal(fmt.Errorf("failed to resolve root organisation: %w", err))
	}
	r.root = id
	return id, nil
}

// loader returns the request's entity loader, or a private one for callers
// outside an HTTP request.
func (r *Resolver) loader(ctx context.Context) *entityloader.EntityLoader {
	if l := entityloader.FromContext(ctx); l != nil {
		return l
	}
	return entityloader.NewEntityLoader(r.objects, nil)
}

// Org returns the root organisation as it is now.
func (r *Resolver) Org(ctx context.Context) (*versionResolver, error) {
	id, err := r.rootOrganisation(ctx)
	if err != nil {
		return nil, err
	}

	now := middleware.RequestTime(ctx)
	window := pointWindow(now)
	obj, err := r.loader(ctx).Load(ctx, domain.KindOrganisation, id, window, now)
	if err != nil {
		return nil, classify(err)
	}
	if obj == nil {
		return nil, apperror.NotFound("root organisation %s not found", id)
	}
	v, ok := obj.Current(now)
	if !ok {
		return nil, apperror.NotFound("root organisation %s has no current state", id)
	}
	return &versionResolver{r: r, version: v, window: window, regTime: now}, nil
}

type requestClock struct{}

func (requestClock) Now(ctx context.Context) (time.Time, error) {
	return middleware.RequestTime(ctx), nil
}

func pointWindow(t time.Time) domain.Window {
	to := t.Add(validity.DefaultSpan)
	return domain.Window{From: &t, To: &to}
}

// classify converts a store failure into a caller-facing error, leaving
// already classified errors untouched.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var appErr *apperror.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return apperror.Internal(err)
}
