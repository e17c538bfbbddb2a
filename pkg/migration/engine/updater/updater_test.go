package updater_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dasabhishk/st2/pkg/migration/core/domain/model"
	"github.com/dasabhishk/st2/pkg/migration/engine/retry"
	"github.com/dasabhishk/st2/pkg/migration/engine/updater"
	"github.com/dasabhishk/st2/pkg/migration/support/util/exception"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) FetchEligible(ctx context.Context, b model.TableBinding, limit int) ([]model.StagingRecord, error) {
	args := m.Called(ctx, b, limit)
	recs, _ := args.Get(0).([]model.StagingRecord)
	return recs, args.Error(1)
}

func (m *mockStore) UpdateStatus(ctx context.Context, b model.TableBinding, ids []int64, status model.RowStatus) (int64, error) {
	args := m.Called(ctx, b, ids, status)
	return args.Get(0).(int64), args.Error(1)
}

var binding = model.TableBinding{Schema: "cmmt", Table: "study_staging", IDColumn: "id", StatusColumn: "status"}

func newUpdater(store *mockStore) *updater.StatusUpdater {
	allowed := map[string]struct{}{"cmmt.study_staging": {}}
	return updater.NewStatusUpdater(store, allowed, retry.NewFixedPolicy(3, time.Millisecond, nil), nil)
}

func TestUpdateStatus(t *testing.T) {
	store := &mockStore{}
	store.On("UpdateStatus", mock.Anything, binding, []int64{1, 2}, model.RowStatusMigrated).Return(int64(2), nil).Once()

	require.NoError(t, newUpdater(store).UpdateStatus(context.Background(), "study", binding, []int64{1, 2}, model.RowStatusMigrated))
	store.AssertExpectations(t)
}

func TestUpdateStatus_EmptyIsNoOp(t *testing.T) {
	store := &mockStore{}
	require.NoError(t, newUpdater(store).UpdateStatus(context.Background(), "study", binding, nil, model.RowStatusError))
	store.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestUpdateStatus_RejectsTableAndStatus(t *testing.T) {
	store := &mockStore{}
	u := newUpdater(store)

	other := model.TableBinding{Table: "users", IDColumn: "id", StatusColumn: "status"}
	err := u.UpdateStatus(context.Background(), "study", other, []int64{1}, model.RowStatusMigrated)
	assert.True(t, exception.IsKind(err, exception.KindValidation))
	assert.ErrorContains(t, err, `"users" is not an allowed staging table`)

	err = u.UpdateStatus(context.Background(), "study", binding, []int64{1}, model.RowStatusValid)
	assert.True(t, exception.IsKind(err, exception.KindValidation))
	store.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestUpdateStatus_RetriesTransientFailures(t *testing.T) {
	store := &mockStore{}
	deadlock := exception.NewMigrationError("StagingGateway", exception.KindStatusUpdate, "deadlock", errors.New("Error 1213"), true)
	store.On("UpdateStatus", mock.Anything, binding, []int64{3}, model.RowStatusError).Return(int64(0), deadlock).Once()
	store.On("UpdateStatus", mock.Anything, binding, []int64{3}, model.RowStatusError).Return(int64(1), nil).Once()

	require.NoError(t, newUpdater(store).UpdateStatus(context.Background(), "study", binding, []int64{3}, model.RowStatusError))
	store.AssertNumberOfCalls(t, "UpdateStatus", 2)
}

func TestUpdateStatus_PropagatesPermanentFailure(t *testing.T) {
	store := &mockStore{}
	store.On("UpdateStatus", mock.Anything, binding, []int64{3}, model.RowStatusMigrated).
		Return(int64(0), errors.New("table is read only")).Once()

	err := newUpdater(store).UpdateStatus(context.Background(), "study", binding, []int64{3}, model.RowStatusMigrated)
	require.Error(t, err)
	assert.True(t, exception.IsKind(err, exception.KindStatusUpdate))
	store.AssertNumberOfCalls(t, "UpdateStatus", 1)
}
