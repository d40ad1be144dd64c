package migration

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

const (
	migrationsDir   = "migrations"
	migrationsTable = "classpay_schema_migrations"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

var (
	ErrNoDatabase  = errors.New("migration_database_required")
	ErrDirtySchema = errors.New("dirty_schema")
)

// Result reports the schema version before and after a run.
type Result struct {
	From uint
	To   uint
}

func (r Result) Applied() bool { return r.To != r.From }

// RunMigrations brings the PostgreSQL schema up to the latest embedded
// version. A schema left dirty by a failed run is not touched.
func RunMigrations(db *sql.DB) (Result, error) {
	if db == nil {
		return Result{}, ErrNoDatabase
	}

	src, err := newSource()
	if err != nil {
		return Result{}, err
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{MigrationsTable: migrationsTable})
	if err != nil {
		return Result{}, fmt.Errorf("create migration driver: %w", err)
	}
	// Close is never called: it would close the shared *sql.DB.
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return Result{}, fmt.Errorf("create migrator: %w", err)
	}

	from, dirty, err := currentVersion(m)
	if err != nil {
		return Result{}, err
	}
	if dirty {
		return Result{From: from, To: from}, fmt.Errorf("%w at version %d", ErrDirtySchema, from)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return Result{From: from}, fmt.Errorf("apply migrations: %w", err)
	}

	to, _, err := currentVersion(m)
	if err != nil {
		return Result{From: from}, err
	}
	return Result{From: from, To: to}, nil
}

// LatestVersion is the highest embedded migration version.
func LatestVersion() (uint, error) {
	src, err := newSource()
	if err != nil {
		return 0, err
	}
	defer src.Close()

	v, err := src.First()
	if err != nil {
		return 0, fmt.Errorf("read migrations: %w", err)
	}
	for {
		next, err := src.Next(v)
		if errors.Is(err, fs.ErrNotExist) {
			return v, nil
		}
		if err != nil {
			return 0, fmt.Errorf("read migrations: %w", err)
		}
		v = next
	}
}

func newSource() (source.Driver, error) {
	src, err := iofs.New(embeddedMigrations, migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("open migrations: %w", err)
	}
	return src, nil
}

func currentVersion(m *migrate.Migrate) (uint, bool, error) {
	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read schema version: %w", err)
	}
	return v, dirty, nil
}
