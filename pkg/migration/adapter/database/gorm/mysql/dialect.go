// Package mysql registers the MySQL dialect with the gorm adapter.
// Import it for side effects.
package mysql

import (
	"errors"
	"fmt"
	"time"

	drv "github.com/go-sql-driver/mysql"
	gormmysql "gorm.io/driver/mysql"

	dbconfig "github.com/dasabhishk/st2/pkg/migration/adapter/database/config"
	gormadapter "github.com/dasabhishk/st2/pkg/migration/adapter/database/gorm"
)

const (
	errLockDeadlock    = 1213
	errLockWaitTimeout = 1205
)

func init() {
	gormadapter.RegisterDialect(gormadapter.Dialect{
		Name:        "mysql",
		DriverName:  "mysql",
		DSN:         DSN,
		Open:        gormmysql.Open,
		IsTransient: IsTransient,
	})
}

// DSN renders a go-sql-driver DSN for cfg.
func DSN(cfg dbconfig.DatabaseConfig) (string, error) {
	if cfg.Host == "" {
		return "", errors.New("mysql host cannot be empty")
	}
	port := cfg.Port
	if port == 0 {
		port = 3306
	}
	c := drv.NewConfig()
	c.User = cfg.User
	c.Passwd = cfg.Password
	c.Net = "tcp"
	c.Addr = fmt.Sprintf("%s:%d", cfg.Host, port)
	c.DBName = cfg.Database
	c.ParseTime = true
	c.Loc = time.UTC
	c.Params = map[string]string{"charset": "utf8mb4"}
	return c.FormatDSN(), nil
}

// IsTransient reports deadlocks and lock wait timeouts.
func IsTransient(err error) bool {
	var myErr *drv.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == errLockDeadlock || myErr.Number == errLockWaitTimeout
	}
	return errors.Is(err, drv.ErrInvalidConn)
}
