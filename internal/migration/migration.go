package migration

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// ErrDirtySchema means a previous run failed midway and the schema needs a
// manual `migrate force` before the pipeline can start.
var ErrDirtySchema = errors.New("dirty_schema")

// Result describes the schema after RunMigrations.
type Result struct {
	Version uint
	Applied bool
}

// RunMigrations applies the embedded payment pipeline schema.
func RunMigrations(db *sql.DB) (Result, error) {
	if db == nil {
		return Result{}, errors.New("migration database handle is required")
	}

	migrator, err := newMigrator(db)
	if err != nil {
		return Result{}, err
	}
	// Closing the migrator would close the shared *sql.DB.

	before, dirty, err := schemaVersion(migrator)
	if err != nil {
		return Result{}, err
	}
	if dirty {
		return Result{Version: before}, fmt.Errorf("%w: version %d", ErrDirtySchema, before)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return Result{Version: before}, fmt.Errorf("apply migrations: %w", upErr)
	}

	after, _, err := schemaVersion(migrator)
	if err != nil {
		return Result{}, err
	}
	return Result{Version: after, Applied: after != before}, nil
}

func newMigrator(db *sql.DB) (*migrate.Migrate, error) {
	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return nil, fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("create migrator: %w", err)
	}
	return migrator, nil
}

func schemaVersion(m *migrate.Migrate) (uint, bool, error) {
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read schema version: %w", err)
	}
	return version, dirty, nil
}
