package graphql

import (
	"context"
	"time"

	"github.com/rpattn/mora/internal/apperror"
	"github.com/rpattn/mora/internal/cursor"
	"github.com/rpattn/mora/internal/domain"
	"github.com/rpattn/mora/internal/middleware"
	"github.com/rpattn/mora/internal/paged"
	"github.com/rpattn/mora/internal/validity"

	"github.com/google/uuid"
)

// BaseFilter holds the arguments every entity filter accepts.
type BaseFilter struct {
	UUIDs    *[]UUID
	UserKeys *[]string
	FromDate NullDateTime
	ToDate   NullDateTime
}

// scope is the time frame of one entity query: the resolved validity window and
// the registration time every read of the query is pinned to.
type scope struct {
	window  domain.Window
	regTime time.Time
}

// predicateFunc builds the kind-specific predicates of a query. It may look up
// user keys through the store within s.
type predicateFunc func(ctx context.Context, s scope) ([]domain.Predicate, error)

// resolveEntities runs one entity query: by identity through the request's
// loader when uuids are given, otherwise as a paginated store query.
func (r *Resolver) resolveEntities(ctx context.Context, kind domain.Kind, base BaseFilter, limit *int32, cur *cursor.Scalar, build predicateFunc) (*pageResolver[*objectResolver], error) {
	byIdentity := base.UUIDs != nil && len(*base.UUIDs) > 0
	if byIdentity && (limit != nil || cur != nil) {
		return nil, apperror.InvalidInput("Cannot supply both uuids and limit or cursor")
	}

	now := middleware.RequestTime(ctx)
	if cur != nil && cur.ReferenceTime != nil {
		now = *cur.ReferenceTime
	}

	window, err := validity.Resolve(now, base.FromDate.Bound(), base.ToDate.Bound())
	if err != nil {
		return nil, err
	}
	s := scope{window: window, regTime: now}

	var preds []domain.Predicate
	if base.UserKeys != nil && len(*base.UserKeys) > 0 {
		preds = append(preds, domain.SimilarTo(domain.FieldUserKey, *base.UserKeys))
	}
	if build != nil {
		extra, err := build(ctx, s)
		if err != nil {
			return nil, err
		}
		preds = append(preds, extra...)
	}

	wrap := func(obj domain.Object) *objectResolver {
		return &objectResolver{r: r, kind: kind, obj: obj, window: window, regTime: now}
	}

	if byIdentity {
		objects, err := r.loader(ctx).LoadMany(ctx, kind, toUUIDs(*base.UUIDs), window, now)
		if err != nil {
			return nil, classify(err)
		}
		page := paged.Filter(paged.Page[domain.Object]{Objects: objects}, func(o domain.Object) bool {
			return matchesAny(o, preds)
		})
		return newPage(page, wrap), nil
	}

	// The default window and the registration pin share one instant.
	page, err := paginate(ctx, requestClock{}, limit, cur, func(ctx context.Context, p paged.Params) ([]domain.Object, error) {
		versions, err := r.objects.List(ctx, domain.Query{
			Kind:             kind,
			Predicates:       preds,
			Window:           window,
			RegistrationTime: p.ReferenceTime,
			Limit:            p.Limit,
			Offset:           p.Offset,
		})
		if err != nil {
			return nil, classify(err)
		}
		return domain.GroupByUUID(versions, nil), nil
	})
	if err != nil {
		return nil, err
	}
	return newPage(page, wrap), nil
}

// matchesAny keeps an object loaded by identity when one of its versions
// satisfies every predicate. Objects without state in the window are kept.
func matchesAny(o domain.Object, preds []domain.Predicate) bool {
	if len(preds) == 0 || len(o.Versions) == 0 {
		return true
	}
	for i := range o.Versions {
		ok := true
		for _, p := range preds {
			if !p.Matches(&o.Versions[i]) {
				ok = false
				break
			}
		}
		if ok {
			return true
		}
	}
	return false
}

// uuidsForUserKeys resolves user keys of kind to UUIDs with the same exact-match
// semantics as the user_keys filter.
func (r *Resolver) uuidsForUserKeys(ctx context.Context, kind domain.Kind, keys []string, s scope) ([]uuid.UUID, error) {
	versions, err := r.objects.List(ctx, domain.Query{
		Kind:             kind,
		Predicates:       []domain.Predicate{domain.SimilarTo(domain.FieldUserKey, keys)},
		Window:           s.window,
		RegistrationTime: s.regTime,
	})
	if err != nil {
		return nil, classify(err)
	}
	ids := make([]uuid.UUID, 0, len(versions))
	for _, v := range versions {
		ids = append(ids, v.UUID)
	}
	return domain.Dedupe(ids), nil
}

// predicates accumulates kind-specific filters. An omitted or empty list adds
// no constraint; the first error stops further work.
type predicates struct {
	ctx context.Context
	r   *Resolver
	s   scope

	out []domain.Predicate
	err error
}

func (r *Resolver) newPredicates(ctx context.Context, s scope) *predicates {
	return &predicates{ctx: ctx, r: r, s: s}
}

// uuids constrains field to ids merged with the UUIDs of keyKind objects whose
// user key is in keys. Keys that resolve to nothing leave an empty, unmatchable set.
func (p *predicates) uuids(field domain.Field, ids *[]UUID, keys *[]string, keyKind domain.Kind) *predicates {
	if p.err != nil {
		return p
	}

	var set []uuid.UUID
	constrained := false
	if ids != nil && len(*ids) > 0 {
		set = append(set, toUUIDs(*ids)...)
		constrained = true
	}
	if keys != nil && len(*keys) > 0 {
		resolved, err := p.r.uuidsForUserKeys(p.ctx, keyKind, *keys, p.s)
		if err != nil {
			p.err = err
			return p
		}
		set = append(set, resolved...)
		constrained = true
	}
	if constrained {
		if set == nil {
			set = []uuid.UUID{}
		}
		p.out = append(p.out, domain.AnyUUID(field, domain.Dedupe(set)))
	}
	return p
}

func (p *predicates) strings(field domain.Field, values *[]string) *predicates {
	if p.err == nil && values != nil && len(*values) > 0 {
		p.out = append(p.out, domain.AnyString(field, *values))
	}
	return p
}

func (p *predicates) add(pred domain.Predicate) *predicates {
	if p.err == nil {
		p.out = append(p.out, pred)
	}
	return p
}

func (p *predicates) build() ([]domain.Predicate, error) {
	return p.out, p.err
}
