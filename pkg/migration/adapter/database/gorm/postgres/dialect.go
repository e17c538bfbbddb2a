// Package postgres registers the PostgreSQL dialect with the gorm adapter.
package postgres

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	gormpostgres "gorm.io/driver/postgres"

	dbconfig "github.com/dasabhishk/st2/pkg/migration/adapter/database/config"
	gormadapter "github.com/dasabhishk/st2/pkg/migration/adapter/database/gorm"
)

func init() {
	gormadapter.RegisterDialect(gormadapter.Dialect{
		Name:        "postgres",
		DriverName:  "pgx",
		DSN:         DSN,
		Open:        gormpostgres.Open,
		IsTransient: IsTransient,
	})
}

// DSN renders a keyword/value connection string.
func DSN(cfg dbconfig.DatabaseConfig) (string, error) {
	if cfg.Host == "" {
		return "", errors.New("postgres host cannot be empty")
	}
	port := cfg.Port
	if port == 0 {
		port = 5432
	}
	sslmode := cfg.Sslmode
	if sslmode == "" {
		sslmode = "disable"
	}
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, port, cfg.User, cfg.Password, cfg.Database, sslmode)
	if cfg.Schema != "" {
		dsn += " search_path=" + cfg.Schema
	}
	return dsn, nil
}

// IsTransient reports serialization failures and deadlocks.
func IsTransient(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03":
			return true
		}
	}
	return false
}
