package run_test

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dasabhishk/st2/pkg/migration/core/domain/model"
	"github.com/dasabhishk/st2/pkg/migration/engine/category"
	"github.com/dasabhishk/st2/pkg/migration/engine/processor"
	"github.com/dasabhishk/st2/pkg/migration/engine/run"
	"github.com/dasabhishk/st2/pkg/migration/engine/updater"
	"github.com/dasabhishk/st2/pkg/migration/support/util/exception"
)

// memoryTable is an in-memory staging table.
type memoryTable struct {
	mu        sync.Mutex
	status    map[int64]model.RowStatus
	updates   map[int64]int
	fetchErr  error
	updateErr error
	fetches   int
}

func newMemoryTable(n int) *memoryTable {
	t := &memoryTable{status: map[int64]model.RowStatus{}, updates: map[int64]int{}}
	for id := int64(1); id <= int64(n); id++ {
		t.status[id] = model.RowStatusValid
	}
	return t
}

func (t *memoryTable) FetchEligible(_ context.Context, _ model.TableBinding, limit int) ([]model.StagingRecord, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fetches++
	if t.fetchErr != nil {
		return nil, t.fetchErr
	}
	ids := make([]int64, 0)
	for id, s := range t.status {
		if s == model.RowStatusValid {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}
	recs := make([]model.StagingRecord, 0, len(ids))
	for _, id := range ids {
		recs = append(recs, model.StagingRecord{ID: id, FileName: "f.csv", RowNumber: id, Status: model.RowStatusValid})
	}
	return recs, nil
}

func (t *memoryTable) UpdateStatus(_ context.Context, _ model.TableBinding, ids []int64, status model.RowStatus) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.updateErr != nil {
		return 0, t.updateErr
	}
	for _, id := range ids {
		t.status[id] = status
		t.updates[id]++
	}
	return int64(len(ids)), nil
}

func (t *memoryTable) count(s model.RowStatus) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, st := range t.status {
		if st == s {
			n++
		}
	}
	return n
}

// oddFails fails every odd record id and can cancel the run after a number of calls.
type oddFails struct {
	mu          sync.Mutex
	calls       int
	cancelAfter int
	cancel      context.CancelFunc
}

func (o *oddFails) Invoke(_ context.Context, inv model.ProcedureInvocation) (model.ProcedureResult, error) {
	o.mu.Lock()
	o.calls++
	if o.cancel != nil && o.calls == o.cancelAfter {
		o.cancel()
	}
	o.mu.Unlock()
	if inv.RecordID%2 == 1 {
		return model.ProcedureResult{Code: 4}, nil
	}
	return model.ProcedureResult{Code: 0}, nil
}

type recordingArchiver struct {
	result model.RunResult
	audit  []model.BatchAudit
}

func (a *recordingArchiver) Archive(_ context.Context, result model.RunResult, audit []model.BatchAudit) error {
	a.result, a.audit = result, audit
	return nil
}

var descriptor = category.Descriptor{
	ID:        "study",
	Procedure: "usp_study",
	Binding:   model.TableBinding{Table: "study_staging", IDColumn: "id", StatusColumn: "status"},
	Messages:  category.NewMessageResolver("study", nil),
}

func newRunner(table *memoryTable, invoker *oddFails, archiver *recordingArchiver) *run.Runner {
	proc := processor.NewProcessor(invoker, nil, nil)
	upd := updater.NewStatusUpdater(table, map[string]struct{}{"study_staging": {}}, nil, nil)
	if archiver == nil {
		return run.NewRunner(table, proc, upd, nil, nil, nil)
	}
	return run.NewRunner(table, proc, upd, archiver, nil, nil)
}

func TestPartition(t *testing.T) {
	var sizes []int
	for g := range run.Partition([]int{1, 2, 3, 4, 5, 6, 7}, 3) {
		sizes = append(sizes, len(g))
	}
	assert.Equal(t, []int{3, 3, 1}, sizes)

	var all []int
	for g := range run.Partition([]int{1, 2, 3}, 10) {
		all = append(all, g...)
	}
	assert.Equal(t, []int{1, 2, 3}, all)
}

func TestRun_MigratesEveryEligibleRowOnce(t *testing.T) {
	table := newMemoryTable(23)
	archiver := &recordingArchiver{}
	m, err := newRunner(table, &oddFails{}, archiver).NewMigration("job-1", descriptor,
		model.MigrationSettings{MaxParallelism: 4, FetchBatchSize: 10, ProcessingBatchSize: 4})
	require.NoError(t, err)

	result, err := m.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, table.count(model.RowStatusValid))
	assert.Equal(t, 11, table.count(model.RowStatusMigrated))
	assert.Equal(t, 12, table.count(model.RowStatusError))
	for id, n := range table.updates {
		assert.Equal(t, 1, n, "row %d updated more than once", id)
	}
	assert.Equal(t, 11, result.Succeeded)
	assert.Equal(t, 12, result.Failed)
	assert.Equal(t, 7, result.Batches)
	assert.False(t, result.Cancelled)
	assert.Equal(t, 4, table.fetches)

	require.Len(t, archiver.audit, 7)
	assert.Equal(t, 6, archiver.audit[6].GroupIndex)
	assert.Equal(t, "job-1", archiver.result.JobID)
}

func TestRun_ThreeFetchesOfTwoHundredForty(t *testing.T) {
	table := newMemoryTable(240)
	m, err := newRunner(table, &oddFails{}, nil).NewMigration("job-240", descriptor,
		model.MigrationSettings{MaxParallelism: 5, FetchBatchSize: 100, ProcessingBatchSize: 25})
	require.NoError(t, err)

	result, err := m.Run(context.Background())
	require.NoError(t, err)

	// 100 + 100 + 40 rows, then an empty fetch ends the loop.
	assert.Equal(t, 4, table.fetches)
	assert.Equal(t, 10, result.Batches)
	assert.Equal(t, 120, result.Succeeded)
	assert.Equal(t, 120, result.Failed)
	assert.Zero(t, table.count(model.RowStatusValid))
}

func TestRun_RecordCap(t *testing.T) {
	table := newMemoryTable(50)
	m, err := newRunner(table, &oddFails{}, nil).NewMigration("job-2", descriptor,
		model.MigrationSettings{MaxParallelism: 2, FetchBatchSize: 10, ProcessingBatchSize: 3, RecordCap: 25})
	require.NoError(t, err)

	result, err := m.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, result.CapReached)
	assert.Equal(t, 25, result.Processed())
	assert.Equal(t, 25, table.count(model.RowStatusValid))
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	table := newMemoryTable(5)
	m, err := newRunner(table, &oddFails{}, nil).NewMigration("job-3", descriptor,
		model.MigrationSettings{MaxParallelism: 1, FetchBatchSize: 5, ProcessingBatchSize: 5})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result, err := m.Run(ctx)
	require.NoError(t, err)
	assert.True(t, result.Cancelled)
	assert.Equal(t, 0, table.fetches)
	assert.Equal(t, 5, table.count(model.RowStatusValid))
}

func TestRun_CancelledMidGroupFinishesGroup(t *testing.T) {
	table := newMemoryTable(20)
	ctx, cancel := context.WithCancel(context.Background())
	invoker := &oddFails{cancelAfter: 6, cancel: cancel}
	m, err := newRunner(table, invoker, nil).NewMigration("job-4", descriptor,
		model.MigrationSettings{MaxParallelism: 1, FetchBatchSize: 20, ProcessingBatchSize: 5})
	require.NoError(t, err)

	result, err := m.Run(ctx)
	require.NoError(t, err)
	assert.True(t, result.Cancelled)
	assert.Equal(t, 2, result.Batches)
	// the second group was already in flight when cancel fired and completed in full
	assert.Equal(t, 20-2*5, table.count(model.RowStatusValid))
}

func TestRun_FetchFailureAbortsRun(t *testing.T) {
	table := newMemoryTable(5)
	table.fetchErr = errors.New("connection refused")
	m, err := newRunner(table, &oddFails{}, nil).NewMigration("job-5", descriptor,
		model.MigrationSettings{MaxParallelism: 1, FetchBatchSize: 5, ProcessingBatchSize: 5})
	require.NoError(t, err)

	_, err = m.Run(context.Background())
	require.Error(t, err)
	assert.True(t, exception.IsKind(err, exception.KindFetch))
}

func TestRun_StatusUpdateFailurePropagates(t *testing.T) {
	table := newMemoryTable(5)
	table.updateErr = errors.New("lock wait timeout")
	m, err := newRunner(table, &oddFails{}, nil).NewMigration("job-6", descriptor,
		model.MigrationSettings{MaxParallelism: 2, FetchBatchSize: 5, ProcessingBatchSize: 5})
	require.NoError(t, err)

	result, err := m.Run(context.Background())
	require.Error(t, err)
	assert.True(t, exception.IsKind(err, exception.KindStatusUpdate))
	assert.Zero(t, result.Batches)
}

func TestNewMigration_Settings(t *testing.T) {
	r := newRunner(newMemoryTable(0), &oddFails{}, nil)
	_, err := r.NewMigration("job-7", descriptor, model.MigrationSettings{MaxParallelism: 0, FetchBatchSize: 1, ProcessingBatchSize: 1})
	assert.True(t, exception.IsKind(err, exception.KindValidation))

	withDefaults := descriptor
	withDefaults.Settings = model.MigrationSettings{MaxParallelism: 1, FetchBatchSize: 1, ProcessingBatchSize: 1}
	m, err := r.NewMigration("job-8", withDefaults, model.MigrationSettings{})
	require.NoError(t, err)
	result, err := m.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, result.Batches)
}
