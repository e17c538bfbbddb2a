package gorm

import (
	"context"
	"fmt"

	"github.com/dasabhishk/st2/pkg/migration/adapter/database"
	"github.com/dasabhishk/st2/pkg/migration/support/util/logger"
)

// Resolver pings a cached connection before handing it out and reconnects
// once if the ping fails.
type Resolver struct {
	provider database.Provider
}

var _ database.ConnectionResolver = (*Resolver)(nil)

// NewResolver creates a Resolver over provider.
func NewResolver(provider database.Provider) *Resolver {
	return &Resolver{provider: provider}
}

// Resolve returns a healthy connection for name.
func (r *Resolver) Resolve(ctx context.Context, name string) (database.Connection, error) {
	conn, err := r.provider.GetConnection(name)
	if err != nil {
		return nil, fmt.Errorf("resolve connection '%s': %w", name, err)
	}

	sqlDB, err := conn.SQLDB()
	if err != nil {
		return nil, fmt.Errorf("resolve connection '%s': %w", name, err)
	}
	if pingErr := sqlDB.PingContext(ctx); pingErr != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logger.Warnf("Connection '%s' failed ping (%v). Reconnecting.", name, pingErr)
		reconnected, err := r.provider.ForceReconnect(name)
		if err != nil {
			return nil, fmt.Errorf("reconnect '%s': %w", name, err)
		}
		return reconnected, nil
	}
	return conn, nil
}
