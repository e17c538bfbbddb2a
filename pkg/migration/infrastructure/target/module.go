package target

import (
	"go.uber.org/fx"

	"github.com/dasabhishk/st2/pkg/migration/adapter/database"
	config "github.com/dasabhishk/st2/pkg/migration/core/config"
	"github.com/dasabhishk/st2/pkg/migration/core/ports"
)

// NewInvoker builds the procedure client wrapped in the resilience decorator.
func NewInvoker(resolver database.ConnectionResolver, cfg *config.TargetConfig) ports.ProcedureInvoker {
	return NewResilientInvoker(NewProcedureClient(resolver, cfg), cfg)
}

// Module provides the ports.ProcedureInvoker for the target datasource.
var Module = fx.Options(
	fx.Provide(NewInvoker),
)
