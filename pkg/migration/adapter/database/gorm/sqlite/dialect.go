// Package sqlite registers the SQLite dialect with the gorm adapter. It is
// mainly used for local runs and integration tests.
package sqlite

import (
	"errors"

	"github.com/mattn/go-sqlite3"
	gormsqlite "gorm.io/driver/sqlite"

	dbconfig "github.com/dasabhishk/st2/pkg/migration/adapter/database/config"
	gormadapter "github.com/dasabhishk/st2/pkg/migration/adapter/database/gorm"
)

func init() {
	gormadapter.RegisterDialect(gormadapter.Dialect{
		Name:        "sqlite",
		DriverName:  "sqlite3",
		DSN:         DSN,
		Open:        gormsqlite.Open,
		IsTransient: IsTransient,
	})
}

// DSN returns the database path.
func DSN(cfg dbconfig.DatabaseConfig) (string, error) {
	if cfg.Database == "" {
		return "", errors.New("sqlite database path cannot be empty")
	}
	return cfg.Database, nil
}

// IsTransient reports SQLITE_BUSY and SQLITE_LOCKED.
func IsTransient(err error) bool {
	var sqErr sqlite3.Error
	if errors.As(err, &sqErr) {
		return sqErr.Code == sqlite3.ErrBusy || sqErr.Code == sqlite3.ErrLocked
	}
	return false
}
