//go:build integration

package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rpattn/mora/internal/db/dbtest"
	"github.com/rpattn/mora/internal/domain"
	"github.com/rpattn/mora/internal/paged"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(year int, month time.Month, d int) *time.Time {
	t := time.Date(year, month, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func write(t *testing.T, w SnapshotWriter, kind domain.Kind, id uuid.UUID, versions ...domain.Version) domain.Registration {
	t.Helper()
	for i := range versions {
		versions[i].Kind = kind
		versions[i].UUID = id
	}
	reg, err := w.Write(context.Background(), domain.Snapshot{Kind: kind, UUID: id, Actor: uuid.New(), Versions: versions})
	require.NoError(t, err)
	return reg
}

func TestStoreIntegration(t *testing.T) {
	conn := dbtest.Start(t)
	ctx := context.Background()
	writer := NewSnapshotWriter(conn.Pool)
	objects := NewObjectRepository(conn.Pool)

	t.Run("paging visits every object once", func(t *testing.T) {
		var ids []uuid.UUID
		for i := 0; i < 11; i++ {
			id := uuid.New()
			ids = append(ids, id)
			write(t, writer, domain.KindITSystem, id,
				domain.Version{UserKey: fmt.Sprintf("sys-%d", i), ValidFrom: day(2020, 1, 1), ValidTo: day(2022, 1, 1)},
				domain.Version{UserKey: fmt.Sprintf("sys-%d", i), ValidFrom: day(2022, 1, 1)},
			)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })

		regTime := time.Now()
		var seen []uuid.UUID
		limit := 4
		for offset := 0; ; offset += limit {
			versions, err := objects.List(ctx, domain.Query{Kind: domain.KindITSystem, RegistrationTime: regTime, Limit: &limit, Offset: offset})
			require.NoError(t, err)
			page := domain.GroupByUUID(versions, nil)
			for _, obj := range page {
				assert.Len(t, obj.Versions, 2)
				seen = append(seen, obj.UUID)
			}
			if len(page) < limit {
				break
			}
		}
		assert.Equal(t, ids, seen)
	})

	t.Run("registration time pins history", func(t *testing.T) {
		id := uuid.New()
		first := write(t, writer, domain.KindFacet, id, domain.Version{UserKey: "before", ValidFrom: day(2020, 1, 1)})
		second := write(t, writer, domain.KindFacet, id, domain.Version{UserKey: "after", ValidFrom: day(2020, 1, 1)})
		require.True(t, second.Start.After(first.Start))

		window := domain.Window{}
		versions, _, err := objects.GetByUUIDs(ctx, domain.KindFacet, []uuid.UUID{id}, window, first.Start)
		require.NoError(t, err)
		require.Len(t, versions, 1)
		assert.Equal(t, "before", versions[0].UserKey)

		versions, found, err := objects.GetByUUIDs(ctx, domain.KindFacet, []uuid.UUID{id}, window, second.Start)
		require.NoError(t, err)
		require.Len(t, versions, 1)
		assert.Equal(t, "after", versions[0].UserKey)
		assert.True(t, found[id])

		now, err := NewDatabaseClock(conn.Pool).Now(ctx)
		require.NoError(t, err)
		regs, err := NewRegistrationRepository(conn.Pool).List(ctx, domain.RegistrationFilter{UUIDs: []uuid.UUID{id}}, paged.Params{ReferenceTime: now})
		require.NoError(t, err)
		require.Len(t, regs, 2)
		for _, r := range regs {
			assert.Equal(t, "facet", r.Model)
		}
	})

	t.Run("registration pages ignore later writes", func(t *testing.T) {
		registrations := NewRegistrationRepository(conn.Pool)
		clock := NewDatabaseClock(conn.Pool)
		actor := uuid.New()
		for i := 0; i < 3; i++ {
			_, err := writer.Write(ctx, domain.Snapshot{Kind: domain.KindFacet, UUID: uuid.New(), Actor: actor})
			require.NoError(t, err)
		}

		// An import still running when the first page is read.
		tx, err := conn.Pool.Begin(ctx)
		require.NoError(t, err)
		defer func() { _ = tx.Rollback(ctx) }()
		_, err = NewSnapshotWriter(tx).Write(ctx, domain.Snapshot{Kind: domain.KindFacet, UUID: uuid.New(), Actor: actor})
		require.NoError(t, err)

		ref, err := clock.Now(ctx)
		require.NoError(t, err)
		filter := domain.RegistrationFilter{Actors: []uuid.UUID{actor}}
		limit := 2
		first, err := registrations.List(ctx, filter, paged.Params{Limit: &limit, ReferenceTime: ref})
		require.NoError(t, err)
		require.Len(t, first, 2)

		require.NoError(t, tx.Commit(ctx))
		// A concurrent writer records a registration dated before the pin.
		_, err = conn.Pool.Exec(ctx,
			"INSERT INTO facet_registrering (facet_id, registrering_start, actor) VALUES ($1, $2, $3)",
			uuid.New(), ref.Add(-time.Hour), actor)
		require.NoError(t, err)

		second, err := registrations.List(ctx, filter, paged.Params{Limit: &limit, Offset: 2, ReferenceTime: ref})
		require.NoError(t, err)
		require.Len(t, second, 1)
		for _, r := range first {
			assert.NotEqual(t, second[0].ID, r.ID)
		}
	})

	t.Run("function registrations are labelled by their own versions", func(t *testing.T) {
		id := uuid.New()
		write(t, writer, domain.KindEngagement, id, domain.Version{UserKey: "job", ValidFrom: day(2020, 1, 1)})

		var regID int64
		require.NoError(t, conn.Pool.QueryRow(ctx,
			"INSERT INTO organisationfunktion_registrering (organisationfunktion_id, actor) VALUES ($1, $2) RETURNING id",
			id, uuid.New()).Scan(&regID))
		_, err := conn.Pool.Exec(ctx,
			"INSERT INTO organisationfunktion_version (registrering_id, uuid, user_key, funktionsnavn) VALUES ($1, $2, 'job', 'Leder')",
			regID, id)
		require.NoError(t, err)
		_, err = writer.Write(ctx, domain.Snapshot{Kind: domain.KindEngagement, UUID: id, Actor: uuid.New()})
		require.NoError(t, err)

		now, err := NewDatabaseClock(conn.Pool).Now(ctx)
		require.NoError(t, err)
		regs, err := NewRegistrationRepository(conn.Pool).List(ctx, domain.RegistrationFilter{UUIDs: []uuid.UUID{id}}, paged.Params{ReferenceTime: now})
		require.NoError(t, err)
		var models []string
		for _, r := range regs {
			models = append(models, r.Model)
		}
		assert.Equal(t, []string{"engagement", "manager", "manager"}, models)
	})

	t.Run("user keys OR together", func(t *testing.T) {
		a, b, c := uuid.New(), uuid.New(), uuid.New()
		write(t, writer, domain.KindFacet, a, domain.Version{UserKey: "or.a", ValidFrom: day(2020, 1, 1)})
		write(t, writer, domain.KindFacet, b, domain.Version{UserKey: "or(b)", ValidFrom: day(2020, 1, 1)})
		write(t, writer, domain.KindFacet, c, domain.Version{UserKey: "orxa", ValidFrom: day(2020, 1, 1)})

		versions, err := objects.List(ctx, domain.Query{
			Kind:       domain.KindFacet,
			Predicates: []domain.Predicate{domain.SimilarTo(domain.FieldUserKey, []string{"or.a", "or(b)"})},
			Window:     domain.Window{},
		})
		require.NoError(t, err)
		var got []uuid.UUID
		for _, obj := range domain.GroupByUUID(versions, nil) {
			got = append(got, obj.UUID)
		}
		assert.ElementsMatch(t, []uuid.UUID{a, b}, got)
	})

	t.Run("concurrent claims hand out an event once", func(t *testing.T) {
		events := NewEventRepository(conn.Pool)
		owner := uuid.New()
		listener, err := events.DeclareListener(ctx, domain.Listener{Owner: owner, Namespace: "mo", UserKey: "claims", RoutingKey: "employee"})
		require.NoError(t, err)
		n, err := events.Send(ctx, "mo", "employee", "subject", 10000)
		require.NoError(t, err)
		require.EqualValues(t, 1, n)

		var wg sync.WaitGroup
		var mu sync.Mutex
		var claimed []*domain.Event
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				e, err := events.Claim(ctx, owner, listener.UUID, time.Now())
				assert.NoError(t, err)
				if e != nil {
					mu.Lock()
					claimed = append(claimed, e)
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		require.Len(t, claimed, 1)
		assert.EqualValues(t, 1, claimed[0].FetchedCount)

		ok, err := events.Acknowledge(ctx, uuid.New(), claimed[0].UUID, claimed[0].Generation)
		require.NoError(t, err)
		assert.False(t, ok, "another owner cannot acknowledge the event")

		ok, err = events.Acknowledge(ctx, owner, claimed[0].UUID, claimed[0].Generation)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("claims wait out the backoff", func(t *testing.T) {
		events := NewEventRepository(conn.Pool)
		owner := uuid.New()
		now := time.Now().UTC().Truncate(time.Microsecond)

		tests := []struct {
			name     string
			fetched  int32
			ago      time.Duration
			eligible bool
		}{
			{name: "minimum not reached", fetched: 0, ago: 2*time.Minute + 59*time.Second},
			{name: "minimum passed", fetched: 0, ago: 3*time.Minute + time.Second, eligible: true},
			{name: "exponential not reached", fetched: 10, ago: 17 * time.Minute},
			{name: "exponential passed", fetched: 10, ago: 17*time.Minute + 5*time.Second, eligible: true},
			{name: "maximum not reached", fetched: 40, ago: 23*time.Hour + 59*time.Minute},
			{name: "maximum passed", fetched: 40, ago: 24*time.Hour + time.Second, eligible: true},
		}

		for i, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				routing := fmt.Sprintf("backoff-%d", i)
				listener, err := events.DeclareListener(ctx, domain.Listener{Owner: owner, Namespace: "mo", UserKey: routing, RoutingKey: routing})
				require.NoError(t, err)
				_, err = events.Send(ctx, "mo", routing, "subject", 10000)
				require.NoError(t, err)
				_, err = conn.Pool.Exec(ctx, "UPDATE event SET fetched_count = $1, last_tried = $2 WHERE listener_uuid = $3",
					tt.fetched, now.Add(-tt.ago), listener.UUID)
				require.NoError(t, err)

				e, err := events.Claim(ctx, owner, listener.UUID, now)
				require.NoError(t, err)
				assert.Equal(t, tt.eligible, e != nil)
				if e != nil {
					assert.Equal(t, tt.fetched+1, e.FetchedCount)
				}
			})
		}
	})
}
