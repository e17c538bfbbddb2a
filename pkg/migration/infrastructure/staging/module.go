package staging

import (
	"go.uber.org/fx"

	"github.com/dasabhishk/st2/pkg/migration/core/ports"
)

// Module provides the staging-side adapters.
var Module = fx.Options(
	fx.Provide(
		fx.Annotate(NewGateway, fx.As(new(ports.StatusStore))),
		fx.Annotate(NewErrorLogWriter, fx.As(new(ports.ErrorLogWriter))),
		fx.Annotate(NewReporter, fx.As(new(ports.Reporter))),
	),
)
