package gorm

import (
	"database/sql"
	"fmt"
	"sort"
	"sync"

	"gorm.io/gorm"

	dbconfig "github.com/dasabhishk/st2/pkg/migration/adapter/database/config"
	"github.com/dasabhishk/st2/pkg/migration/support/util/logger"
)

// Dialect bundles everything the adapter needs to know about one database type.
// Each dialect package registers itself from init.
type Dialect struct {
	Name string
	// DriverName is the database/sql driver registered for this dialect.
	DriverName string
	// DSN renders the driver connection string.
	DSN func(cfg dbconfig.DatabaseConfig) (string, error)
	// Open builds the gorm dialector from a DSN.
	Open func(dsn string) gorm.Dialector
	// IsTransient classifies driver errors worth retrying.
	IsTransient func(err error) bool
}

var (
	dialects   = make(map[string]Dialect)
	dialectsMu sync.RWMutex
)

// RegisterDialect makes a dialect available by name. Re-registering replaces it.
func RegisterDialect(d Dialect) {
	dialectsMu.Lock()
	defer dialectsMu.Unlock()
	if _, exists := dialects[d.Name]; exists {
		logger.Warnf("Dialect '%s' already registered. Overwriting.", d.Name)
	}
	dialects[d.Name] = d
}

// LookupDialect returns the dialect registered under name.
func LookupDialect(name string) (Dialect, error) {
	dialectsMu.RLock()
	defer dialectsMu.RUnlock()
	d, ok := dialects[name]
	if !ok {
		return Dialect{}, fmt.Errorf("no dialect registered for database type %q (registered: %v)", name, registeredNames())
	}
	return d, nil
}

// ConnectionString renders the DSN for cfg using its registered dialect.
func ConnectionString(cfg dbconfig.DatabaseConfig) (string, error) {
	d, err := LookupDialect(cfg.Type)
	if err != nil {
		return "", err
	}
	return d.DSN(cfg)
}

// registeredNames must be called with dialectsMu held.
func registeredNames() []string {
	names := make([]string, 0, len(dialects))
	for n := range dialects {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// OpenSQL opens a plain database/sql handle for cfg, bypassing gorm. The
// caller owns the returned pool.
func OpenSQL(cfg dbconfig.DatabaseConfig) (*sql.DB, error) {
	d, err := LookupDialect(cfg.Type)
	if err != nil {
		return nil, err
	}
	dsn, err := d.DSN(cfg)
	if err != nil {
		return nil, err
	}
	return sql.Open(d.DriverName, dsn)
}
