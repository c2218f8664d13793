// Package dbtest starts a migrated PostgreSQL in a container for integration tests.
package dbtest

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/rpattn/mora/internal/db"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Start runs postgres in a container, migrates it and returns a pool that is
// closed, together with the container, when the test ends.
func Start(t testing.TB) *db.Connection {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	t.Cleanup(cancel)

	c, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: tc.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "postgres",
				"POSTGRES_PASSWORD": "postgres",
				"POSTGRES_DB":       "mora",
			},
			WaitingFor: wait.ForAll(
				wait.ForListeningPort("5432/tcp"),
				wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
			).WithDeadline(2 * time.Minute),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	host, err := c.Host(ctx)
	require.NoError(t, err)
	mapped, err := c.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)
	port, err := strconv.Atoi(mapped.Port())
	require.NoError(t, err)

	cfg := db.Config{Host: host, Port: port, User: "postgres", Password: "postgres", DBName: "mora", SSLMode: "disable", MaxConns: 10}
	logger := logrus.NewEntry(logrus.New())
	require.NoError(t, db.RunMigrations(cfg, logger))

	conn, err := db.NewConnection(ctx, cfg, logger)
	require.NoError(t, err)
	t.Cleanup(conn.Close)
	return conn
}
