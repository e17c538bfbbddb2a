// Package schema applies the migrator's own tables (the error log) to the
// staging datasource with golang-migrate.
package schema

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	dbconfig "github.com/dasabhishk/st2/pkg/migration/adapter/database/config"
	gormadapter "github.com/dasabhishk/st2/pkg/migration/adapter/database/gorm"
	config "github.com/dasabhishk/st2/pkg/migration/core/config"
	"github.com/dasabhishk/st2/pkg/migration/support/util/logger"
)

//go:embed migrations
var migrationFS embed.FS

// MigrationsTable records applied versions. It is kept apart from any
// schema_migrations table the staging store may already use.
const MigrationsTable = "migrator_schema_migrations"

// Migrator runs the embedded migrations for the staging dialect on a
// dedicated pool that is closed when the run finishes.
type Migrator struct {
	datasource dbconfig.DatabaseConfig
}

func NewMigrator(cfg *config.Config) (*Migrator, error) {
	ds, err := cfg.Datasource(config.StagingDatasource)
	if err != nil {
		return nil, err
	}
	return &Migrator{datasource: ds}, nil
}

// Up applies all pending migrations. No pending migrations is not an error.
func (m *Migrator) Up(ctx context.Context) error {
	dialect := m.datasource.Type
	sqlDB, err := gormadapter.OpenSQL(m.datasource)
	if err != nil {
		return fmt.Errorf("failed to open %s for migration: %w", dialect, err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return fmt.Errorf("staging datasource unreachable: %w", err)
	}

	instance, err := newInstance(sqlDB, dialect)
	if err != nil {
		_ = sqlDB.Close()
		return err
	}
	defer func() {
		if srcErr, dbErr := instance.Close(); srcErr != nil || dbErr != nil {
			logger.Warnf("Closing migrate instance: source=%v, database=%v", srcErr, dbErr)
		}
		_ = sqlDB.Close()
	}()

	logger.Infof("Applying schema migrations (dialect: %s, table: %s).", dialect, MigrationsTable)
	if err := instance.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		version, dirty, verr := instance.Version()
		if verr == nil {
			logger.Errorf("Schema migration failed at version %d (dirty: %v).", version, dirty)
		}
		return fmt.Errorf("schema migration failed (dialect: %s): %w", dialect, err)
	}
	logger.Infof("Schema migrations are up to date.")
	return nil
}

func newInstance(sqlDB *sql.DB, dialect string) (*migrate.Migrate, error) {
	source, err := iofs.New(migrationFS, "migrations/"+dialect)
	if err != nil {
		return nil, fmt.Errorf("no embedded migrations for dialect %s: %w", dialect, err)
	}

	var driver migratedb.Driver
	switch dialect {
	case "mysql":
		driver, err = mysql.WithInstance(sqlDB, &mysql.Config{MigrationsTable: MigrationsTable})
	case "postgres":
		driver, err = postgres.WithInstance(sqlDB, &postgres.Config{MigrationsTable: MigrationsTable})
	case "sqlite":
		driver, err = sqlite.WithInstance(sqlDB, &sqlite.Config{MigrationsTable: MigrationsTable})
	default:
		err = fmt.Errorf("unsupported database type for migration: %s", dialect)
	}
	if err != nil {
		_ = source.Close()
		return nil, fmt.Errorf("failed to create migrate driver: %w", err)
	}

	instance, err := migrate.NewWithInstance("iofs", source, dialect, driver)
	if err != nil {
		_ = source.Close()
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	return instance, nil
}
