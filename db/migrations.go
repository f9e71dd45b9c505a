package db

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// ErrNeedsMigration is returned by CheckMigrationStatus on a database without a schema version.
var ErrNeedsMigration = errors.New("database has no schema version (needs migration)")

// RunMigrations brings the schema to the latest embedded version.
func (db *DB) RunMigrations() error {
	m, err := db.newMigrate()
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	// m is not closed: closing it would close the shared *sql.DB.

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			return nil
		}
		return fmt.Errorf("migration failed: %w", err)
	}

	version, _, _ := m.Version()
	db.log.Info("Database: schema migrated", zap.Uint("version", version))
	return nil
}

// CheckMigrationStatus returns the current schema version and an error
// describing any mismatch with the embedded migrations.
func (db *DB) CheckMigrationStatus() (uint, error) {
	m, err := db.newMigrate()
	if err != nil {
		return 0, fmt.Errorf("failed to create migrate instance: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			return 0, ErrNeedsMigration
		}
		return 0, fmt.Errorf("failed to get database version: %w", err)
	}
	if dirty {
		return version, fmt.Errorf("database is in dirty state at version %d (migration failed previously)", version)
	}

	sourceDriver, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return version, fmt.Errorf("failed to read migration files: %w", err)
	}
	defer sourceDriver.Close()

	latest, err := latestVersion(sourceDriver)
	if err != nil {
		return version, fmt.Errorf("failed to determine latest version: %w", err)
	}

	switch {
	case version < latest:
		return version, fmt.Errorf("database is at version %d but latest is %d", version, latest)
	case version > latest:
		return version, fmt.Errorf("database version %d is ahead of binary version %d", version, latest)
	}
	return version, nil
}

func (db *DB) newMigrate() (*migrate.Migrate, error) {
	sourceDriver, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to create source driver: %w", err)
	}

	dbDriver, err := sqlite.WithInstance(db.db, &sqlite.Config{})
	if err != nil {
		sourceDriver.Close()
		return nil, fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", dbDriver)
	if err != nil {
		sourceDriver.Close()
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	return m, nil
}

func latestVersion(src source.Driver) (uint, error) {
	version, err := src.First()
	if err != nil {
		return 0, err
	}
	for {
		next, err := src.Next(version)
		if err != nil {
			break
		}
		version = next
	}
	return version, nil
}
