package gorm

import (
	"context"

	"go.uber.org/fx"

	"github.com/dasabhishk/st2/pkg/migration/adapter/database"
)

// Module provides the connection provider and resolver. Dialects must be
// linked in separately (see the mysql, postgres and sqlite packages).
var Module = fx.Options(
	fx.Provide(
		fx.Annotate(NewProvider, fx.As(new(database.Provider))),
		fx.Annotate(NewResolver, fx.As(new(database.ConnectionResolver))),
	),
	fx.Invoke(func(lc fx.Lifecycle, p database.Provider) {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return p.CloseAll()
			},
		})
	}),
)
