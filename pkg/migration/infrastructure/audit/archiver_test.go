package audit_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dasabhishk/st2/pkg/migration/adapter/storage/local"
	"github.com/dasabhishk/st2/pkg/migration/core/domain/model"
	"github.com/dasabhishk/st2/pkg/migration/infrastructure/audit"
)

func TestParquetArchiver_Archive(t *testing.T) {
	store, err := local.NewAdapter(t.TempDir())
	require.NoError(t, err)
	archiver := audit.NewParquetArchiver(store, "", "runs")

	started := time.Date(2026, 3, 1, 22, 0, 0, 0, time.UTC)
	result := model.RunResult{JobID: "job-1", Category: "study", Batches: 2, Succeeded: 45, Failed: 5}
	batches := []model.BatchAudit{
		{JobID: "job-1", Category: "study", GroupIndex: 0, Succeeded: 25, StartedAt: started, FinishedAt: started.Add(time.Second)},
		{JobID: "job-1", Category: "study", GroupIndex: 1, Succeeded: 20, Failed: 5, StartedAt: started.Add(time.Second), FinishedAt: started.Add(2 * time.Second)},
	}
	require.NoError(t, archiver.Archive(context.Background(), result, batches))

	name := archiver.ObjectName("study", "job-1")
	assert.Equal(t, "runs/study/job-1.parquet", name)
	r, err := store.Download(context.Background(), "", name)
	require.NoError(t, err)
	defer r.Close()
	body, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Greater(t, len(body), 8)
	assert.Equal(t, "PAR1", string(body[:4]))
	assert.Equal(t, "PAR1", string(body[len(body)-4:]))
}

func TestParquetArchiver_SkipsEmptyRuns(t *testing.T) {
	store, err := local.NewAdapter(t.TempDir())
	require.NoError(t, err)
	archiver := audit.NewParquetArchiver(store, "", "runs")
	require.NoError(t, archiver.Archive(context.Background(), model.RunResult{JobID: "j", Category: "c"}, nil))

	var count int
	require.NoError(t, store.ListObjects(context.Background(), "", "", func(string) error { count++; return nil }))
	assert.Zero(t, count)
}
