package staging

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm/clause"

	"github.com/dasabhishk/st2/pkg/migration/adapter/database"
	config "github.com/dasabhishk/st2/pkg/migration/core/config"
	"github.com/dasabhishk/st2/pkg/migration/core/domain/model"
	"github.com/dasabhishk/st2/pkg/migration/core/ports"
)

// Reporter aggregates row statuses and error log counts per source file.
type Reporter struct {
	resolver      database.ConnectionResolver
	errorLogTable string
}

var _ ports.Reporter = (*Reporter)(nil)

func NewReporter(resolver database.ConnectionResolver, cfg *config.Config) *Reporter {
	return &Reporter{resolver: resolver, errorLogTable: cfg.ErrorLog.Table}
}

// Summary counts rows per file and status in the bound table.
func (r *Reporter) Summary(ctx context.Context, b model.TableBinding) ([]ports.StatusCount, error) {
	conn, err := r.resolver.Resolve(ctx, config.StagingDatasource)
	if err != nil {
		return nil, err
	}
	fileCol := clause.Column{Name: b.FileNameColumn}
	statusCol := clause.Column{Name: b.StatusColumn}

	var rows []struct {
		FileName string
		Status   string
		Count    int64
	}
	err = conn.DB(ctx).
		Table(b.QualifiedName()).
		Select("? AS file_name, ? AS status, COUNT(*) AS count", fileCol, statusCol).
		Group(b.FileNameColumn).Group(b.StatusColumn).
		Order(clause.OrderByColumn{Column: fileCol}).
		Order(clause.OrderByColumn{Column: statusCol}).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("summarize %s: %w", b.QualifiedName(), err)
	}

	out := make([]ports.StatusCount, len(rows))
	for i, row := range rows {
		out[i] = ports.StatusCount{FileName: row.FileName, Status: model.RowStatus(row.Status), Count: row.Count}
	}
	return out, nil
}

// ErrorCounts counts error log rows per file logged within [from, to].
func (r *Reporter) ErrorCounts(ctx context.Context, from, to time.Time) ([]ports.ErrorCount, error) {
	conn, err := r.resolver.Resolve(ctx, config.StagingDatasource)
	if err != nil {
		return nil, err
	}
	var out []ports.ErrorCount
	err = conn.DB(ctx).
		Table(r.errorLogTable).
		Select("file_name, COUNT(*) AS count").
		Where("logged_at BETWEEN ? AND ?", from, to).
		Group("file_name").
		Order("file_name").
		Scan(&out).Error
	if err != nil {
		return nil, fmt.Errorf("count error log rows: %w", err)
	}
	return out, nil
}
