package health

import (
	"context"
	"fmt"
)

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// DatabaseCheck verifies database connectivity.
func DatabaseCheck(db Pinger) CheckFunc {
	return func(ctx context.Context) error {
		if err := db.Ping(ctx); err != nil {
			return fmt.Errorf("failed to ping database: %w", err)
		}
		return nil
	}
}

// MigrationCheck verifies that the schema is at the version this binary ships.
// applied reports the database version and whether the last migration is dirty.
func MigrationCheck(applied func(ctx context.Context) (uint, bool, error), latest uint) CheckFunc {
	return func(ctx context.Context) error {
		version, dirty, err := applied(ctx)
		if err != nil {
			return fmt.Errorf("failed to read migration version: %w", err)
		}
		if dirty {
			return fmt.Errorf("migration %d is dirty", version)
		}
		if version != latest {
			return fmt.Errorf("schema is at version %d, expected %d", version, latest)
		}
		return nil
	}
}
