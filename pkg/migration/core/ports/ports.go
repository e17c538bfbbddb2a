// Package ports declares the outbound interfaces the migration engine depends
// on. Implementations live under infrastructure.
package ports

import (
	"context"
	"time"

	"github.com/dasabhishk/st2/pkg/migration/core/domain/model"
)

// StatusStore reads eligible staging rows and writes their terminal status.
type StatusStore interface {
	// FetchEligible returns up to limit rows with status V ordered by id ascending.
	FetchEligible(ctx context.Context, binding model.TableBinding, limit int) ([]model.StagingRecord, error)
	// UpdateStatus sets status on every row in ids with a single statement.
	UpdateStatus(ctx context.Context, binding model.TableBinding, ids []int64, status model.RowStatus) (int64, error)
}

// ErrorLogWriter persists record and batch failures.
type ErrorLogWriter interface {
	Write(ctx context.Context, entry model.ErrorLogEntry) error
}

// ProcedureInvoker calls the target procedure for one record.
type ProcedureInvoker interface {
	Invoke(ctx context.Context, invocation model.ProcedureInvocation) (model.ProcedureResult, error)
}

// RunArchiver stores the per-group audit trail of a finished run.
type RunArchiver interface {
	Archive(ctx context.Context, result model.RunResult, batches []model.BatchAudit) error
}

// StatusCount is one row of the migration report.
type StatusCount struct {
	FileName string          `json:"file_name"`
	Status   model.RowStatus `json:"status"`
	Count    int64           `json:"count"`
}

// ErrorCount is the number of error log rows for one source file.
type ErrorCount struct {
	FileName string `json:"file_name"`
	Count    int64  `json:"count"`
}

// Reporter aggregates staging and error log state for operators.
type Reporter interface {
	Summary(ctx context.Context, binding model.TableBinding) ([]StatusCount, error)
	ErrorCounts(ctx context.Context, from, to time.Time) ([]ErrorCount, error)
}
