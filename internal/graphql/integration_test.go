//go:build integration

package graphql

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rpattn/mora/internal/auth"
	"github.com/rpattn/mora/internal/db/dbtest"
	"github.com/rpattn/mora/internal/domain"
	"github.com/rpattn/mora/internal/middleware"
	"github.com/rpattn/mora/internal/repository"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistrationPagesWithSkewedClock(t *testing.T) {
	conn := dbtest.Start(t)
	ctx := context.Background()
	writer := repository.NewSnapshotWriter(conn.Pool)

	actor := uuid.New()
	snapshot := func() {
		_, err := writer.Write(ctx, domain.Snapshot{Kind: domain.KindFacet, UUID: uuid.New(), Actor: actor})
		require.NoError(t, err)
	}
	for i := 0; i < 3; i++ {
		snapshot()
	}

	resolver := NewResolver(Config{
		Objects:       repository.NewObjectRepository(conn.Pool),
		Registrations: repository.NewRegistrationRepository(conn.Pool),
		Events:        repository.NewEventRepository(conn.Pool),
		Clock:         repository.NewDatabaseClock(conn.Pool),
		Logger:        logrus.NewEntry(logrus.New()),
	})
	schema, err := NewSchema(resolver)
	require.NoError(t, err)

	// The application clock runs an hour ahead of the database.
	reqCtx := middleware.WithRequestTime(ctx, time.Now().Add(time.Hour))
	reqCtx = auth.ContextWithActor(reqCtx, actor)

	type page struct {
		Registrations struct {
			Objects []struct {
				ID int32 `json:"id"`
			} `json:"objects"`
			PageInfo struct {
				NextCursor *string `json:"next_cursor"`
			} `json:"page_info"`
		} `json:"registrations"`
	}
	query := `query($cursor: Cursor, $actors: [UUID!]) {
		registrations(limit: 2, cursor: $cursor, filter: {actors: $actors}) {
			objects { id }
			page_info { next_cursor }
		}
	}`
	run := func(vars map[string]interface{}) page {
		t.Helper()
		resp := schema.Exec(reqCtx, query, "", vars)
		require.Empty(t, resp.Errors)
		var out page
		require.NoError(t, json.Unmarshal(resp.Data, &out))
		return out
	}

	first := run(map[string]interface{}{"actors": []interface{}{actor.String()}})
	require.Len(t, first.Registrations.Objects, 2)
	require.NotNil(t, first.Registrations.PageInfo.NextCursor)

	snapshot()

	second := run(map[string]interface{}{
		"cursor": *first.Registrations.PageInfo.NextCursor,
		"actors": []interface{}{actor.String()},
	})
	require.Len(t, second.Registrations.Objects, 1)
	for _, r := range first.Registrations.Objects {
		assert.NotEqual(t, r.ID, second.Registrations.Objects[0].ID)
	}
	assert.Nil(t, second.Registrations.PageInfo.NextCursor)
}
