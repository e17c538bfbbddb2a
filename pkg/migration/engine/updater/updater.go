// Package updater writes the terminal status of a processed group back to
// its staging table.
package updater

import (
	"context"
	"fmt"

	"github.com/dasabhishk/st2/pkg/migration/core/domain/model"
	"github.com/dasabhishk/st2/pkg/migration/core/metrics"
	"github.com/dasabhishk/st2/pkg/migration/core/ports"
	"github.com/dasabhishk/st2/pkg/migration/engine/retry"
	"github.com/dasabhishk/st2/pkg/migration/support/util/exception"
	"github.com/dasabhishk/st2/pkg/migration/support/util/logger"
)

const updaterModule = "updater"

// StatusUpdater validates the target table and issues one bulk update per call.
type StatusUpdater struct {
	store    ports.StatusStore
	allowed  map[string]struct{}
	policy   retry.Policy
	recorder metrics.MetricRecorder
}

// NewStatusUpdater creates an updater restricted to the allowed qualified table names.
func NewStatusUpdater(store ports.StatusStore, allowed map[string]struct{}, policy retry.Policy, recorder metrics.MetricRecorder) *StatusUpdater {
	if policy == nil {
		policy = retry.NewFixedPolicy(1, 0, nil)
	}
	if recorder == nil {
		recorder = metrics.NewNoOpMetricRecorder()
	}
	return &StatusUpdater{store: store, allowed: allowed, policy: policy, recorder: recorder}
}

// UpdateStatus sets status on every id in ids. Empty ids is a no-op. Only
// P and E may be written, and only to an allowed table.
func (u *StatusUpdater) UpdateStatus(ctx context.Context, category string, binding model.TableBinding, ids []int64, status model.RowStatus) error {
	table := binding.QualifiedName()
	if _, ok := u.allowed[table]; !ok {
		return exception.NewMigrationErrorf(updaterModule, exception.KindValidation, "table %q is not an allowed staging table", table)
	}
	if !status.IsWritableByEngine() {
		return exception.NewMigrationErrorf(updaterModule, exception.KindValidation, "status %q cannot be written by the migration engine", status)
	}
	if len(ids) == 0 {
		return nil
	}

	var updated int64
	err := retry.Do(ctx, fmt.Sprintf("status update %s->%s", table, status), u.policy, func(ctx context.Context, _ int) error {
		n, err := u.store.UpdateStatus(ctx, binding, ids, status)
		if err != nil {
			return err
		}
		updated = n
		return nil
	})
	if err != nil {
		logger.Errorf("Category '%s': failed to set status %s on %d rows of %s: %v", category, status, len(ids), table, err)
		if exception.IsKind(err, exception.KindStatusUpdate) {
			return err
		}
		return exception.NewMigrationError(updaterModule, exception.KindStatusUpdate,
			fmt.Sprintf("failed to set status %s on %s", status, table), err, false)
	}
	if updated != int64(len(ids)) {
		logger.Warnf("Category '%s': status %s requested for %d rows of %s but %d rows changed.", category, status, len(ids), table, updated)
	}
	u.recorder.RecordStatusUpdate(ctx, category, status, len(ids))
	return nil
}
