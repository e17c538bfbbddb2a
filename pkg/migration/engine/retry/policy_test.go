package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dasabhishk/st2/pkg/migration/engine/retry"
	"github.com/dasabhishk/st2/pkg/migration/support/util/exception"
)

func TestDo_RetriesTemporaryErrors(t *testing.T) {
	policy := retry.NewFixedPolicy(3, time.Millisecond, nil)
	calls := 0
	err := retry.Do(context.Background(), "update", policy, func(ctx context.Context, attempt int) error {
		calls++
		if attempt < 3 {
			return exception.NewMigrationError("test", exception.KindStatusUpdate, "deadlock", nil, true)
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_StopsOnPermanentError(t *testing.T) {
	policy := retry.NewFixedPolicy(5, time.Millisecond, nil)
	calls := 0
	permanent := errors.New("syntax error")
	err := retry.Do(context.Background(), "update", policy, func(context.Context, int) error {
		calls++
		return permanent
	})
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	policy := retry.NewFixedPolicy(2, time.Millisecond, func(error) bool { return true })
	calls := 0
	err := retry.Do(context.Background(), "probe", policy, func(context.Context, int) error {
		calls++
		return errors.New("not ready")
	})
	assert.EqualError(t, err, "not ready")
	assert.Equal(t, 2, calls)
	assert.Equal(t, time.Millisecond, policy.Backoff(2))
}

func TestDo_HonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := retry.NewFixedPolicy(10, time.Hour, func(error) bool { return true })
	calls := 0
	err := retry.Do(ctx, "probe", policy, func(context.Context, int) error {
		calls++
		cancel()
		return errors.New("not ready")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}
