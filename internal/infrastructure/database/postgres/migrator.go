package postgres

import (
	"context"
	"database/sql"
	"embed"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/turtacn/KeyIP-MMP/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/KeyIP-MMP/pkg/errors"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// Migrator applies the schema migrations.  The embedded set is used unless a
// directory is configured.
type Migrator struct {
	db     *sql.DB
	dir    string
	logger logging.Logger
}

// NewMigrator returns a Migrator over a database/sql view of pool.  dir may
// be empty.
func NewMigrator(pool *pgxpool.Pool, dir string, log logging.Logger) *Migrator {
	return NewMigratorWithDB(stdlib.OpenDBFromPool(pool), dir, log)
}

// NewMigratorWithDB wraps an existing *sql.DB.
func NewMigratorWithDB(db *sql.DB, dir string, log logging.Logger) *Migrator {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &Migrator{db: db, dir: dir, logger: log.Named("migrator")}
}

func (m *Migrator) instance() (*migrate.Migrate, error) {
	driver, err := migratepg.WithInstance(m.db, &migratepg.Config{})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDBConnectionError, "failed to create migration driver")
	}
	if m.dir != "" {
		src := m.dir
		if !strings.Contains(src, "://") {
			src = "file://" + src
		}
		mi, err := migrate.NewWithDatabaseInstance(src, "postgres", driver)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeDBQueryError, "failed to open migrations")
		}
		return mi, nil
	}
	src, err := iofs.New(embeddedMigrations, "migrations")
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to read embedded migrations")
	}
	mi, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDBQueryError, "failed to open migrations")
	}
	return mi, nil
}

// Up applies all pending migrations.  No pending migration is not an error.
func (m *Migrator) Up() error {
	mi, err := m.instance()
	if err != nil {
		return err
	}
	if err := mi.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return errors.Wrap(err, errors.ErrCodeDBQueryError, "failed to run migrations")
	}
	version, dirty, err := mi.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		m.logger.Warn("failed to read migration version", logging.Err(err))
	}
	m.logger.Info("migrations applied", logging.Int64("version", int64(version)), logging.Bool("dirty", dirty))
	return nil
}

// Rollback reverts steps migrations.
func (m *Migrator) Rollback(steps int) error {
	if steps <= 0 {
		return errors.Newf(errors.ErrCodeValidation, "steps must be greater than 0, got %d", steps)
	}
	mi, err := m.instance()
	if err != nil {
		return err
	}
	if err := mi.Steps(-steps); err != nil {
		return errors.Wrap(err, errors.ErrCodeDBQueryError, "failed to roll back migrations")
	}
	return nil
}

// Version reads the applied version from schema_migrations.  A missing
// table or row reports version 0.
func (m *Migrator) Version(ctx context.Context) (uint, bool, error) {
	var (
		version int64
		dirty   bool
	)
	err := m.db.QueryRowContext(ctx, `SELECT version, dirty FROM schema_migrations LIMIT 1`).Scan(&version, &dirty)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return 0, false, nil
	case err != nil && strings.Contains(err.Error(), "does not exist"):
		return 0, false, nil
	case err != nil:
		return 0, false, errors.Wrap(err, errors.ErrCodeDBQueryError, "failed to read migration version")
	}
	return uint(version), dirty, nil
}

// Ready reports whether migrations have been applied cleanly.
func (m *Migrator) Ready(ctx context.Context) error {
	version, dirty, err := m.Version(ctx)
	if err != nil {
		return err
	}
	if version == 0 {
		return errors.New(errors.ErrCodeServiceUnavailable, "database schema not migrated")
	}
	if dirty {
		return errors.Newf(errors.ErrCodeServiceUnavailable, "database schema version %d is dirty", version)
	}
	return nil
}
