// Package database defines the connection abstractions used by the staging
// gateway, the error log and the remote procedure client. Connections are
// resolved per operation so concurrent workers never share a session.
package database

import (
	"context"
	"database/sql"

	"gorm.io/gorm"

	dbconfig "github.com/dasabhishk/st2/pkg/migration/adapter/database/config"
)

// Connection is a named, pooled database handle.
type Connection interface {
	Name() string
	// Type returns the dialect, e.g. "mysql".
	Type() string
	Close() error
	Config() dbconfig.DatabaseConfig
	// DB returns a gorm session bound to ctx.
	DB(ctx context.Context) *gorm.DB
	SQLDB() (*sql.DB, error)
	// IsTransient reports whether err is a dialect-specific transient failure
	// (deadlock, lock timeout, busy database).
	IsTransient(err error) bool
}

// Provider opens and caches connections by datasource name.
type Provider interface {
	GetConnection(name string) (Connection, error)
	ForceReconnect(name string) (Connection, error)
	CloseAll() error
}

// ConnectionResolver returns a healthy connection, reconnecting when a ping fails.
type ConnectionResolver interface {
	Resolve(ctx context.Context, name string) (Connection, error)
}
