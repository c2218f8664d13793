package db

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

func newMigrate(config Config) (*migrate.Migrate, error) {
	source, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}

	databaseURL := "pgx5" + strings.TrimPrefix(config.URL(), "postgres")
	m, err := migrate.NewWithSourceInstance("iofs", source, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise migrations: %w", err)
	}
	return m, nil
}

// RunMigrations applies every embedded migration that has not run yet
func RunMigrations(config Config, logger *logrus.Entry) error {
	m, err := newMigrate(config)
	if err != nil {
		return err
	}
	defer closeMigrate(m, logger)

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("failed to read migration version: %w", err)
	}
	logger.WithFields(logrus.Fields{"version": version, "dirty": dirty}).Info("Database migrations applied")
	return nil
}

// LatestVersion returns the newest embedded migration version
func LatestVersion() (uint, error) {
	source, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return 0, fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	defer source.Close()

	version, err := source.First()
	if err != nil {
		return 0, fmt.Errorf("failed to read first migration: %w", err)
	}
	for {
		next, err := source.Next(version)
		if errors.Is(err, fs.ErrNotExist) {
			return version, nil
		}
		if err != nil {
			return 0, fmt.Errorf("failed to read migration after %d: %w", version, err)
		}
		version = next
	}
}

// AppliedVersion reads the schema version recorded by golang-migrate
func AppliedVersion(ctx context.Context, pool *pgxpool.Pool) (uint, bool, error) {
	var (
		version int64
		dirty   bool
	)
	err := pool.QueryRow(ctx, "SELECT version, dirty FROM schema_migrations LIMIT 1").Scan(&version, &dirty)
	if err != nil {
		return 0, false, fmt.Errorf("failed to read applied migration version: %w", err)
	}
	return uint(version), dirty, nil
}

func closeMigrate(m *migrate.Migrate, logger *logrus.Entry) {
	srcErr, dbErr := m.Close()
	if srcErr != nil {
		logger.WithError(srcErr).Warn("Failed to close migration source")
	}
	if dbErr != nil {
		logger.WithError(dbErr).Warn("Failed to close migration database")
	}
}
