// Package staging implements the status store gateway, the error log writer
// and the migration report on top of the staging datasource.
package staging

import (
	"context"
	"fmt"
	"strconv"

	"gorm.io/gorm/clause"

	"github.com/dasabhishk/st2/pkg/migration/adapter/database"
	config "github.com/dasabhishk/st2/pkg/migration/core/config"
	"github.com/dasabhishk/st2/pkg/migration/core/domain/model"
	"github.com/dasabhishk/st2/pkg/migration/core/ports"
	"github.com/dasabhishk/st2/pkg/migration/support/util/exception"
	"github.com/dasabhishk/st2/pkg/migration/support/util/logger"
)

const gatewayModule = "StagingGateway"

// Gateway reads eligible rows and bulk-updates their status. A connection is
// resolved for every operation.
type Gateway struct {
	resolver   database.ConnectionResolver
	datasource string
}

var _ ports.StatusStore = (*Gateway)(nil)

// NewGateway creates a Gateway over the staging datasource.
func NewGateway(resolver database.ConnectionResolver) *Gateway {
	return &Gateway{resolver: resolver, datasource: config.StagingDatasource}
}

// FetchEligible returns up to limit rows with status V ordered by id.
func (g *Gateway) FetchEligible(ctx context.Context, b model.TableBinding, limit int) ([]model.StagingRecord, error) {
	if limit <= 0 {
		return nil, exception.NewMigrationErrorf(gatewayModule, exception.KindFetch, "fetch limit must be positive, got %d", limit)
	}
	conn, err := g.resolver.Resolve(ctx, g.datasource)
	if err != nil {
		return nil, exception.NewMigrationError(gatewayModule, exception.KindFetch, "failed to resolve staging connection", err, true)
	}

	var rows []map[string]interface{}
	err = conn.DB(ctx).
		Table(b.QualifiedName()).
		Where(clause.Eq{Column: clause.Column{Name: b.StatusColumn}, Value: string(model.RowStatusValid)}).
		Order(clause.OrderByColumn{Column: clause.Column{Name: b.IDColumn}}).
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, exception.NewMigrationError(gatewayModule, exception.KindFetch,
			fmt.Sprintf("failed to fetch eligible rows from %s", b.QualifiedName()), err, conn.IsTransient(err))
	}

	records := make([]model.StagingRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := toRecord(b, row)
		if err != nil {
			return nil, exception.NewMigrationError(gatewayModule, exception.KindFetch,
				fmt.Sprintf("malformed row in %s", b.QualifiedName()), err, false)
		}
		records = append(records, rec)
	}
	logger.Debugf("Fetched %d eligible rows from %s.", len(records), b.QualifiedName())
	return records, nil
}

// UpdateStatus sets status for ids in a single UPDATE ... WHERE id IN (...).
func (g *Gateway) UpdateStatus(ctx context.Context, b model.TableBinding, ids []int64, status model.RowStatus) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	conn, err := g.resolver.Resolve(ctx, g.datasource)
	if err != nil {
		return 0, exception.NewMigrationError(gatewayModule, exception.KindStatusUpdate, "failed to resolve staging connection", err, true)
	}

	values := make([]interface{}, len(ids))
	for i, id := range ids {
		values[i] = id
	}
	res := conn.DB(ctx).
		Table(b.QualifiedName()).
		Where(clause.IN{Column: clause.Column{Name: b.IDColumn}, Values: values}).
		Update(b.StatusColumn, string(status))
	if res.Error != nil {
		return 0, exception.NewMigrationError(gatewayModule, exception.KindStatusUpdate,
			fmt.Sprintf("failed to set status %s on %d rows of %s", status, len(ids), b.QualifiedName()),
			res.Error, conn.IsTransient(res.Error))
	}
	return res.RowsAffected, nil
}

func toRecord(b model.TableBinding, row map[string]interface{}) (model.StagingRecord, error) {
	id, err := toInt64(row[b.IDColumn])
	if err != nil {
		return model.StagingRecord{}, fmt.Errorf("column %s: %w", b.IDColumn, err)
	}
	rec := model.StagingRecord{
		ID:       id,
		FileName: toString(row[b.FileNameColumn]),
		Status:   model.RowStatus(toString(row[b.StatusColumn])),
		Fields:   row,
	}
	if raw, ok := row[b.RowNumberColumn]; ok && raw != nil {
		if rec.RowNumber, err = toInt64(raw); err != nil {
			return model.StagingRecord{}, fmt.Errorf("column %s: %w", b.RowNumberColumn, err)
		}
	}
	return rec, nil
}

func toInt64(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case uint64:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case []byte:
		return strconv.ParseInt(string(n), 10, 64)
	case string:
		return strconv.ParseInt(n, 10, 64)
	case nil:
		return 0, fmt.Errorf("value is NULL")
	}
	return 0, fmt.Errorf("unsupported type %T", v)
}

func toString(v interface{}) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case []byte:
		return string(s)
	}
	return fmt.Sprint(v)
}
