package staging

import (
	"context"
	"time"

	"github.com/dasabhishk/st2/pkg/migration/adapter/database"
	config "github.com/dasabhishk/st2/pkg/migration/core/config"
	"github.com/dasabhishk/st2/pkg/migration/core/domain/model"
	"github.com/dasabhishk/st2/pkg/migration/core/ports"
	"github.com/dasabhishk/st2/pkg/migration/support/util/exception"
)

// ErrorLogRow is the persisted form of model.ErrorLogEntry.
type ErrorLogRow struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement"`
	Category  string    `gorm:"column:category;size:64;index"`
	RecordID  int64     `gorm:"column:record_id"`
	FileName  string    `gorm:"column:file_name;size:512;index"`
	RowNumber int64     `gorm:"column:row_number"`
	Message   string    `gorm:"column:message;type:text"`
	LoggedAt  time.Time `gorm:"column:logged_at;index"`
}

// ErrorLogWriter inserts one row per failure into the configured error log table.
type ErrorLogWriter struct {
	resolver database.ConnectionResolver
	table    string
	now      func() time.Time
}

var _ ports.ErrorLogWriter = (*ErrorLogWriter)(nil)

func NewErrorLogWriter(resolver database.ConnectionResolver, cfg *config.Config) *ErrorLogWriter {
	return &ErrorLogWriter{resolver: resolver, table: cfg.ErrorLog.Table, now: time.Now}
}

// Write persists entry. A zero LoggedAt is stamped with the current UTC time.
func (w *ErrorLogWriter) Write(ctx context.Context, entry model.ErrorLogEntry) error {
	conn, err := w.resolver.Resolve(ctx, config.StagingDatasource)
	if err != nil {
		return exception.NewMigrationError("ErrorLogWriter", exception.KindInternal, "failed to resolve staging connection", err, true)
	}
	if entry.LoggedAt.IsZero() {
		entry.LoggedAt = w.now().UTC()
	}
	row := ErrorLogRow{
		Category:  entry.Category,
		RecordID:  entry.RecordID,
		FileName:  entry.FileName,
		RowNumber: entry.RowNumber,
		Message:   entry.Message,
		LoggedAt:  entry.LoggedAt,
	}
	if err := conn.DB(ctx).Table(w.table).Create(&row).Error; err != nil {
		return exception.NewMigrationError("ErrorLogWriter", exception.KindInternal, "failed to insert error log row", err, conn.IsTransient(err))
	}
	return nil
}
