package graphql

import (
	"context"
	"time"

	"github.com/rpattn/mora/internal/apperror"
	"github.com/rpattn/mora/internal/auth"
	"github.com/rpattn/mora/internal/cursor"
	"github.com/rpattn/mora/internal/domain"
	"github.com/rpattn/mora/internal/metrics"
	"github.com/rpattn/mora/internal/middleware"
	"github.com/rpattn/mora/internal/paged"

	"github.com/google/uuid"
)

type ListenerFilter struct {
	UUIDs       *[]UUID
	Namespaces  *[]string
	UserKeys    *[]string
	RoutingKeys *[]string
}

type EventFilter struct {
	Listeners  *[]UUID
	Subjects   *[]string
	Priorities *[]int32
	Silenced   *bool
}

type EventFetchFilter struct {
	Listener UUID
}

type ListenerCreateInput struct {
	Namespace  string
	UserKey    string
	RoutingKey string
}

type EventSendInput struct {
	Namespace  string
	RoutingKey string
	Subject    string
	Priority   int32
}

type EventAcknowledgeInput struct {
	Token string
}

type EventSilenceInput struct {
	Listeners *[]UUID
	Subjects  *[]string
}

// EventListeners lists the listeners owned by the calling actor.
func (r *Resolver) EventListeners(ctx context.Context, args struct {
	Limit  *int32
	Cursor *cursor.Scalar
	Filter *ListenerFilter
}) (*pageResolver[*listenerResolver], error) {
	owner, err := auth.RequireActor(ctx)
	if err != nil {
		return nil, err
	}
	filter := domain.ListenerFilter{Owners: []uuid.UUID{owner}}
	if f := args.Filter; f != nil {
		filter.UUIDs = optUUIDs(f.UUIDs)
		filter.Namespaces = optStrings(f.Namespaces)
		filter.UserKeys = optStrings(f.UserKeys)
		filter.RoutingKeys = optStrings(f.RoutingKeys)
	}

	page, err := paginate(ctx, r.clock, args.Limit, args.Cursor, func(ctx context.Context, p paged.Params) ([]domain.Listener, error) {
		rows, err := r.events.ListListeners(ctx, filter, p)
		return rows, classify(err)
	})
	if err != nil {
		return nil, err
	}
	return newPage(page, func(l domain.Listener) *listenerResolver {
		return &listenerResolver{listener: l}
	}), nil
}

// Events lists pending events of listeners owned by the calling actor.
func (r *Resolver) Events(ctx context.Context, args struct {
	Limit  *int32
	Cursor *cursor.Scalar
	Filter *EventFilter
}) (*pageResolver[*eventResolver], error) {
	owner, err := auth.RequireActor(ctx)
	if err != nil {
		return nil, err
	}
	filter := domain.EventFilter{Owners: []uuid.UUID{owner}}
	if f := args.Filter; f != nil {
		filter.Listeners = optUUIDs(f.Listeners)
		filter.Subjects = optStrings(f.Subjects)
		if f.Priorities != nil && len(*f.Priorities) > 0 {
			filter.Priorities = *f.Priorities
		}
		filter.Silenced = f.Silenced
	}

	page, err := paginate(ctx, r.clock, args.Limit, args.Cursor, func(ctx context.Context, p paged.Params) ([]domain.Event, error) {
		rows, err := r.events.List(ctx, filter, p)
		return rows, classify(err)
	})
	if err != nil {
		return nil, err
	}
	return newPage(page, func(e domain.Event) *eventResolver {
		return &eventResolver{event: e}
	}), nil
}

// EventFetch claims one eligible event of the listener. When none is eligible
// it waits the configured delay before answering null, so polling clients
// cannot spin on the database.
func (r *Resolver) EventFetch(ctx context.Context, args struct {
	Filter EventFetchFilter
}) (*fullEventResolver, error) {
	owner, err := auth.RequireActor(ctx)
	if err != nil {
		return nil, err
	}

	event, err := r.events.Claim(ctx, owner, args.Filter.Listener.UUID, middleware.RequestTime(ctx))
	if err != nil {
		return nil, classify(err)
	}
	metrics.ObserveEventClaim(event != nil)
	if event != nil {
		return &fullEventResolver{event: *event}, nil
	}

	timer := time.NewTimer(r.emptyFetchDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *Resolver) EventListenerDeclare(ctx context.Context, args struct {
	Input ListenerCreateInput
}) (*listenerResolver, error) {
	owner, err := auth.RequireActor(ctx)
	if err != nil {
		return nil, err
	}
	in := args.Input
	if in.Namespace == "" || in.UserKey == "" || in.RoutingKey == "" {
		return nil, apperror.InvalidInput("namespace, user_key and routing_key must be non-empty")
	}

	l, err := r.events.DeclareListener(ctx, domain.Listener{
		Owner:      owner,
		Namespace:  in.Namespace,
		UserKey:    in.UserKey,
		RoutingKey: in.RoutingKey,
	})
	if err != nil {
		return nil, classify(err)
	}
	r.logger.WithField("listener", l.UUID).WithField("owner", owner).Info("event listener declared")
	return &listenerResolver{listener: l}, nil
}

func (r *Resolver) EventSend(ctx context.Context, args struct {
	Input EventSendInput
}) (int32, error) {
	if _, err := auth.RequireActor(ctx); err != nil {
		return 0, err
	}
	in := args.Input
	if in.Subject == "" {
		return 0, apperror.InvalidInput("subject must be non-empty")
	}
	n, err := r.events.Send(ctx, in.Namespace, in.RoutingKey, in.Subject, in.Priority)
	if err != nil {
		return 0, classify(err)
	}
	return int32(n), nil
}

// EventAcknowledge removes a claimed event. It reports false when the event has
// been claimed again or acknowledged since the token was issued.
func (r *Resolver) EventAcknowledge(ctx context.Context, args struct {
	Input EventAcknowledgeInput
}) (bool, error) {
	owner, err := auth.RequireActor(ctx)
	if err != nil {
		return false, err
	}
	id, generation, err := domain.DecodeEventToken(args.Input.Token)
	if err != nil {
		return false, apperror.New(apperror.CodeInvalidInput, "Invalid event token").WithInternal(err)
	}
	ok, err := r.events.Acknowledge(ctx, owner, id, generation)
	if err != nil {
		return false, classify(err)
	}
	return ok, nil
}

func (r *Resolver) EventSilence(ctx context.Context, args struct {
	Input EventSilenceInput
}) (int32, error) {
	return r.setSilenced(ctx, args.Input, true)
}

func (r *Resolver) EventUnsilence(ctx context.Context, args struct {
	Input EventSilenceInput
}) (int32, error) {
	return r.setSilenced(ctx, args.Input, false)
}

func (r *Resolver) setSilenced(ctx context.Context, in EventSilenceInput, silenced bool) (int32, error) {
	owner, err := auth.RequireActor(ctx)
	if err != nil {
		return 0, err
	}
	filter := domain.EventFilter{
		Listeners: optUUIDs(in.Listeners),
		Subjects:  optStrings(in.Subjects),
	}
	n, err := r.events.SetSilenced(ctx, owner, filter, silenced)
	if err != nil {
		return 0, classify(err)
	}
	return int32(n), nil
}

type listenerResolver struct {
	listener domain.Listener
}

func (l *listenerResolver) UUID() UUID         { return UUID{l.listener.UUID} }
func (l *listenerResolver) Owner() UUID        { return UUID{l.listener.Owner} }
func (l *listenerResolver) Namespace() string  { return l.listener.Namespace }
func (l *listenerResolver) UserKey() string    { return l.listener.UserKey }
func (l *listenerResolver) RoutingKey() string { return l.listener.RoutingKey }

type eventResolver struct {
	event domain.Event
}

func (e *eventResolver) ListenerUUID() UUID   { return UUID{e.event.ListenerUUID} }
func (e *eventResolver) Subject() string      { return e.event.Subject }
func (e *eventResolver) Priority() int32      { return e.event.Priority }
func (e *eventResolver) Silenced() bool       { return e.event.Silenced }
func (e *eventResolver) FetchedCount() int32  { return e.event.FetchedCount }
func (e *eventResolver) LastTried() *DateTime { return dateTimePtr(e.event.LastTried) }

type fullEventResolver struct {
	event domain.Event
}

func (e *fullEventResolver) Subject() string { return e.event.Subject }
func (e *fullEventResolver) Priority() int32 { return e.event.Priority }
func (e *fullEventResolver) Token() string   { return e.event.Token() }
