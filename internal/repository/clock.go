package repository

import (
	"context"
	"fmt"
	"time"

	pkgerrors "github.com/pkg/errors"
)

type databaseClock struct {
	db DB
}

// NewDatabaseClock creates a clock reading clock_timestamp() from the database
func NewDatabaseClock(db DB) Clock {
	return &databaseClock{db: db}
}

func (c *databaseClock) Now(ctx context.Context) (time.Time, error) {
	var now time.Time
	if err := c.db.QueryRow(ctx, "SELECT clock_timestamp()").Scan(&now); err != nil {
		return time.Time{}, pkgerrors.WithStack(fmt.Errorf("failed to read database clock: %w", err))
	}
	return now, nil
}
