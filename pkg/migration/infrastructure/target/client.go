// Package target implements the remote procedure client against the target
// datasource.
package target

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/dasabhishk/st2/pkg/migration/adapter/database"
	config "github.com/dasabhishk/st2/pkg/migration/core/config"
	"github.com/dasabhishk/st2/pkg/migration/core/domain/model"
	"github.com/dasabhishk/st2/pkg/migration/core/ports"
	"github.com/dasabhishk/st2/pkg/migration/support/util/exception"
)

const clientModule = "ProcedureClient"

// ProcedureClient invokes the category procedure once per record on a
// dedicated connection and reads back its integer return code.
type ProcedureClient struct {
	resolver    database.ConnectionResolver
	datasource  string
	callTimeout time.Duration
}

var _ ports.ProcedureInvoker = (*ProcedureClient)(nil)

// NewProcedureClient creates a client over the target datasource.
func NewProcedureClient(resolver database.ConnectionResolver, cfg *config.TargetConfig) *ProcedureClient {
	return &ProcedureClient{
		resolver:    resolver,
		datasource:  config.TargetDatasource,
		callTimeout: cfg.CallTimeout,
	}
}

// CallStatement renders "SELECT proc(?, ?) AS return_value" for argc arguments.
func CallStatement(procedure string, argc int) string {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", argc), ", ")
	return fmt.Sprintf("SELECT %s(%s) AS return_value", procedure, placeholders)
}

// Invoke runs the procedure. A NULL or missing return value is reported as
// model.NullReturnCode. Transport errors are returned as KindRecord errors.
func (c *ProcedureClient) Invoke(ctx context.Context, inv model.ProcedureInvocation) (model.ProcedureResult, error) {
	if !config.IsQualifiedIdentifier(inv.Procedure) {
		return model.ProcedureResult{Code: model.NullReturnCode},
			exception.NewMigrationErrorf(clientModule, exception.KindConfiguration, "invalid procedure name %q", inv.Procedure)
	}
	conn, err := c.resolver.Resolve(ctx, c.datasource)
	if err != nil {
		return model.ProcedureResult{Code: model.NullReturnCode},
			exception.NewMigrationError(clientModule, exception.KindRecord, "failed to resolve target connection", err, true)
	}

	if c.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.callTimeout)
		defer cancel()
	}

	stmt := CallStatement(inv.Procedure, len(inv.Parameters))
	var code sql.NullInt64
	err = conn.DB(ctx).Connection(func(tx *gorm.DB) error {
		return tx.Raw(stmt, inv.Parameters...).Row().Scan(&code)
	})
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return model.ProcedureResult{Code: model.NullReturnCode}, nil
	case err != nil:
		return model.ProcedureResult{Code: model.NullReturnCode},
			exception.NewMigrationError(clientModule, exception.KindRecord,
				fmt.Sprintf("call to %s failed for record %d", inv.Procedure, inv.RecordID), err,
				conn.IsTransient(err) || exception.IsTemporary(err))
	case !code.Valid:
		return model.ProcedureResult{Code: model.NullReturnCode}, nil
	}
	return model.ProcedureResult{Code: int(code.Int64)}, nil
}
