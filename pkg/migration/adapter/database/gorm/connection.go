package gorm

import (
	"context"
	"database/sql"

	"gorm.io/gorm"

	"github.com/dasabhishk/st2/pkg/migration/adapter/database"
	dbconfig "github.com/dasabhishk/st2/pkg/migration/adapter/database/config"
)

// gormConnection implements database.Connection over a *gorm.DB.
type gormConnection struct {
	db      *gorm.DB
	cfg     dbconfig.DatabaseConfig
	name    string
	dialect Dialect
}

var _ database.Connection = (*gormConnection)(nil)

// NewConnection wraps an opened gorm handle. Exported for tests that open
// gorm over sqlmock.
func NewConnection(db *gorm.DB, cfg dbconfig.DatabaseConfig, name string) database.Connection {
	d, err := LookupDialect(cfg.Type)
	if err != nil {
		d = Dialect{Name: cfg.Type}
	}
	return &gormConnection{db: db, cfg: cfg, name: name, dialect: d}
}

func (c *gormConnection) Name() string                    { return c.name }
func (c *gormConnection) Type() string                    { return c.cfg.Type }
func (c *gormConnection) Config() dbconfig.DatabaseConfig { return c.cfg }

func (c *gormConnection) DB(ctx context.Context) *gorm.DB {
	return c.db.WithContext(ctx)
}

func (c *gormConnection) SQLDB() (*sql.DB, error) {
	return c.db.DB()
}

func (c *gormConnection) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (c *gormConnection) IsTransient(err error) bool {
	if err == nil || c.dialect.IsTransient == nil {
		return false
	}
	return c.dialect.IsTransient(err)
}
