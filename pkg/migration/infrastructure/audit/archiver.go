// Package audit archives the per-group outcome of every run as a parquet
// object in the configured object store.
package audit

import (
	"bytes"
	"context"
	"fmt"
	"path"

	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/dasabhishk/st2/pkg/migration/adapter/storage"
	"github.com/dasabhishk/st2/pkg/migration/core/domain/model"
	"github.com/dasabhishk/st2/pkg/migration/core/ports"
	"github.com/dasabhishk/st2/pkg/migration/support/util/logger"
)

// Row is one processing group in the archive.
type Row struct {
	JobID      string `parquet:"name=job_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Category   string `parquet:"name=category, type=BYTE_ARRAY, convertedtype=UTF8"`
	GroupIndex int32  `parquet:"name=group_index, type=INT32"`
	Succeeded  int32  `parquet:"name=succeeded, type=INT32"`
	Failed     int32  `parquet:"name=failed, type=INT32"`
	StartedAt  int64  `parquet:"name=started_at, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	FinishedAt int64  `parquet:"name=finished_at, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
}

// ParquetArchiver writes <prefix>/<category>/<jobID>.parquet.
type ParquetArchiver struct {
	store  storage.ObjectStore
	bucket string
	prefix string
}

var _ ports.RunArchiver = (*ParquetArchiver)(nil)

func NewParquetArchiver(store storage.ObjectStore, bucket, prefix string) *ParquetArchiver {
	return &ParquetArchiver{store: store, bucket: bucket, prefix: prefix}
}

// ObjectName returns the object key for a run.
func (a *ParquetArchiver) ObjectName(category, jobID string) string {
	return path.Join(a.prefix, category, jobID+".parquet")
}

// Archive encodes batches and uploads them. Runs without batches are skipped.
func (a *ParquetArchiver) Archive(ctx context.Context, result model.RunResult, batches []model.BatchAudit) (err error) {
	if len(batches) == 0 {
		logger.Debugf("Audit: run '%s' processed no groups, nothing to archive.", result.JobID)
		return nil
	}

	buf := new(bytes.Buffer)
	pw, err := writer.NewParquetWriterFromWriter(buf, new(Row), 1)
	if err != nil {
		return fmt.Errorf("audit: failed to create parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, b := range batches {
		row := Row{
			JobID:      b.JobID,
			Category:   b.Category,
			GroupIndex: int32(b.GroupIndex),
			Succeeded:  int32(b.Succeeded),
			Failed:     int32(b.Failed),
			StartedAt:  b.StartedAt.UnixMilli(),
			FinishedAt: b.FinishedAt.UnixMilli(),
		}
		if err := pw.Write(row); err != nil {
			return fmt.Errorf("audit: failed to write row %d: %w", b.GroupIndex, err)
		}
	}

	// WriteStop may panic on malformed schemas.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("audit: parquet writer panicked: %v", r)
		}
	}()
	if err := pw.WriteStop(); err != nil {
		return fmt.Errorf("audit: failed to finalize parquet: %w", err)
	}

	object := a.ObjectName(result.Category, result.JobID)
	if err := a.store.Upload(ctx, a.bucket, object, buf, "application/octet-stream"); err != nil {
		return fmt.Errorf("audit: failed to upload '%s': %w", object, err)
	}
	logger.Infof("Audit: archived %d groups of job '%s' to %s (%s).", len(batches), result.JobID, object, a.store.Type())
	return nil
}

// NoOpArchiver discards audits when auditing is disabled.
type NoOpArchiver struct{}

func (NoOpArchiver) Archive(context.Context, model.RunResult, []model.BatchAudit) error { return nil }

var _ ports.RunArchiver = NoOpArchiver{}
