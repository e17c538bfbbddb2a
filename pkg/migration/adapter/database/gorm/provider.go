// Package gorm implements the database adapter on top of gorm. Dialects
// (mysql, postgres, sqlite) live in sub-packages that register themselves.
package gorm

import (
	"fmt"
	"sync"

	"gorm.io/gorm"

	"github.com/dasabhishk/st2/pkg/migration/adapter/database"
	dbconfig "github.com/dasabhishk/st2/pkg/migration/adapter/database/config"
	"github.com/dasabhishk/st2/pkg/migration/support/util/logger"
)

// Provider opens one pooled gorm handle per datasource and caches it.
type Provider struct {
	datasources dbconfig.DatasourcesConfig
	connections map[string]database.Connection
	mu          sync.RWMutex
}

var _ database.Provider = (*Provider)(nil)

// NewProvider creates a Provider over the configured datasources.
func NewProvider(datasources dbconfig.DatasourcesConfig) *Provider {
	return &Provider{
		datasources: datasources,
		connections: make(map[string]database.Connection),
	}
}

// GetConnection returns the cached connection for name, opening it on first use.
func (p *Provider) GetConnection(name string) (database.Connection, error) {
	p.mu.RLock()
	conn, ok := p.connections[name]
	p.mu.RUnlock()
	if ok {
		return conn, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if conn, ok = p.connections[name]; ok {
		return conn, nil
	}
	return p.openLocked(name)
}

// ForceReconnect closes and reopens the connection for name.
func (p *Provider) ForceReconnect(name string) (database.Connection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if existing, ok := p.connections[name]; ok {
		if err := existing.Close(); err != nil {
			logger.Warnf("Failed to close connection '%s' before reconnect: %v", name, err)
		}
		delete(p.connections, name)
	}
	conn, err := p.openLocked(name)
	if err != nil {
		return nil, err
	}
	logger.Infof("Re-established DB connection: %s (%s)", name, conn.Type())
	return conn, nil
}

// CloseAll closes every cached connection and returns the last close error.
func (p *Provider) CloseAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var lastErr error
	for name, conn := range p.connections {
		if err := conn.Close(); err != nil {
			logger.Errorf("Failed to close connection '%s': %v", name, err)
			lastErr = err
		}
		delete(p.connections, name)
	}
	return lastErr
}

func (p *Provider) openLocked(name string) (database.Connection, error) {
	cfg, ok := p.datasources[name]
	if !ok {
		return nil, fmt.Errorf("datasource '%s' is not configured", name)
	}
	db, err := Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("datasource '%s': %w", name, err)
	}
	conn := NewConnection(db, cfg, name)
	p.connections[name] = conn
	logger.Infof("Established DB connection: %s (%s)", name, cfg.Type)
	return conn, nil
}

// Open creates a gorm handle for cfg and applies pool settings.
func Open(cfg dbconfig.DatabaseConfig) (*gorm.DB, error) {
	dialect, err := LookupDialect(cfg.Type)
	if err != nil {
		return nil, err
	}
	dsn, err := dialect.DSN(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s DSN: %w", cfg.Type, err)
	}

	db, err := gorm.Open(dialect.Open(dsn), &gorm.Config{
		Logger: NewGormLogger(cfg.LogLevel),
		// Status updates and error log inserts are single statements.
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open gorm connection: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	if cfg.Pool.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.Pool.MaxOpenConns)
	}
	if cfg.Pool.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.Pool.MaxIdleConns)
	}
	if cfg.Pool.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.Pool.ConnMaxLifetime)
	}
	return db, nil
}
