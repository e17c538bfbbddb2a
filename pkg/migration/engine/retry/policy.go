// Package retry provides the fixed-interval retry policy used for status
// writes and scheduler readiness probes.
package retry

import (
	"context"
	"time"

	"github.com/dasabhishk/st2/pkg/migration/support/util/exception"
	"github.com/dasabhishk/st2/pkg/migration/support/util/logger"
)

// Policy decides whether and when a failed operation is attempted again.
type Policy interface {
	// ShouldRetry reports whether err is worth another attempt.
	ShouldRetry(err error) bool
	// Backoff returns the wait before attempt (starting from 2).
	Backoff(attempt int) time.Duration
	// MaxAttempts is the total number of attempts including the first.
	MaxAttempts() int
}

// Classifier reports whether an error is retryable.
type Classifier func(err error) bool

// FixedPolicy waits the same interval between every attempt.
type FixedPolicy struct {
	maxAttempts int
	interval    time.Duration
	classifier  Classifier
}

// NewFixedPolicy returns a fixed-interval policy. A nil classifier retries
// temporary errors only.
func NewFixedPolicy(maxAttempts int, interval time.Duration, classifier Classifier) *FixedPolicy {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if classifier == nil {
		classifier = exception.IsTemporary
	}
	return &FixedPolicy{maxAttempts: maxAttempts, interval: interval, classifier: classifier}
}

// MaxAttempts returns the configured attempt budget.
func (p *FixedPolicy) MaxAttempts() int {
	return p.maxAttempts
}

// ShouldRetry delegates to the classifier.
func (p *FixedPolicy) ShouldRetry(err error) bool {
	return err != nil && p.classifier(err)
}

// Backoff always returns the configured interval.
func (p *FixedPolicy) Backoff(int) time.Duration {
	return p.interval
}

var _ Policy = (*FixedPolicy)(nil)

// Do runs op until it succeeds, the policy gives up, or ctx is done.
// The last error is returned.
func Do(ctx context.Context, name string, policy Policy, op func(ctx context.Context, attempt int) error) error {
	var err error
	for attempt := 1; attempt <= policy.MaxAttempts(); attempt++ {
		if err = op(ctx, attempt); err == nil {
			return nil
		}
		if attempt == policy.MaxAttempts() || !policy.ShouldRetry(err) {
			return err
		}
		wait := policy.Backoff(attempt + 1)
		logger.Warnf("%s failed (attempt %d/%d), retrying in %s: %v", name, attempt, policy.MaxAttempts(), wait, err)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
	return err
}
