package migrations

import (
	"database/sql"
	"errors"
	"fmt"
	"os"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"unievent-ticketing/internal/logger"
)

// MigrateOptions defines configuration options for migration
type MigrateOptions struct {
	// MigrationsDir is the directory containing migration files
	MigrationsDir string
	// AutoMigrate runs pending migrations on startup
	AutoMigrate bool
}

// DefaultOptions returns the default migration options
func DefaultOptions() MigrateOptions {
	return MigrateOptions{
		MigrationsDir: "./migrations",
		AutoMigrate:   true,
	}
}

// Runner applies the SQL files under MigrationsDir to a Postgres database.
type Runner struct {
	db       *sql.DB
	options  MigrateOptions
	log      *logger.Logger
	migrator *migrate.Migrate
}

func NewRunner(db *sql.DB, opts MigrateOptions, log *logger.Logger) *Runner {
	return &Runner{db: db, options: opts, log: log}
}

// Initialize prepares the migration system
func (r *Runner) Initialize() error {
	if r.migrator != nil {
		return nil
	}

	driver, err := postgres.WithInstance(r.db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create postgres migration driver: %w", err)
	}

	if _, err := os.Stat(r.options.MigrationsDir); os.IsNotExist(err) {
		return fmt.Errorf("migrations directory does not exist: %s", r.options.MigrationsDir)
	}

	migrator, err := migrate.NewWithDatabaseInstance("file://"+r.options.MigrationsDir, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	r.migrator = migrator
	return nil
}

// Up runs all pending migrations. A dirty database is reported, not forced.
func (r *Runner) Up() error {
	if err := r.Initialize(); err != nil {
		return err
	}

	if _, dirty, err := r.migrator.Version(); err == nil && dirty {
		return errors.New("database schema is dirty, fix the failed migration and force its version")
	}

	if err := r.migrator.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}

	version, err := r.Version()
	if err != nil {
		return err
	}
	r.log.LogDatabase("MIGRATE", "schema_migrations", fmt.Sprintf("Current schema version: %d", version))
	return nil
}

// Down rolls back all migrations
func (r *Runner) Down() error {
	if err := r.Initialize(); err != nil {
		return err
	}
	if err := r.migrator.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration down failed: %w", err)
	}
	return nil
}

// Version returns the applied schema version, 0 when nothing ran yet.
func (r *Runner) Version() (uint, error) {
	if err := r.Initialize(); err != nil {
		return 0, err
	}
	version, _, err := r.migrator.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get migration version: %w", err)
	}
	return version, nil
}

// Close frees resources associated with the migrator. The database handle
// passed to NewRunner is closed as well.
func (r *Runner) Close() error {
	if r.migrator == nil {
		return nil
	}
	sourceErr, databaseErr := r.migrator.Close()
	if sourceErr != nil {
		return fmt.Errorf("error closing migrator source: %w", sourceErr)
	}
	if databaseErr != nil {
		return fmt.Errorf("error closing migrator database: %w", databaseErr)
	}
	return nil
}
