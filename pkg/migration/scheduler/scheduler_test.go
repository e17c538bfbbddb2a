package scheduler_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	config "github.com/dasabhishk/st2/pkg/migration/core/config"
	"github.com/dasabhishk/st2/pkg/migration/core/domain/model"
	"github.com/dasabhishk/st2/pkg/migration/core/ports"
	"github.com/dasabhishk/st2/pkg/migration/scheduler"
	"github.com/dasabhishk/st2/pkg/migration/support/util/exception"
)

// blockingExecutor runs until released or until its context is done.
type blockingExecutor struct {
	calls   atomic.Int32
	started chan string
	release chan struct{}
	err     error
}

func newBlockingExecutor() *blockingExecutor {
	return &blockingExecutor{started: make(chan string, 10), release: make(chan struct{})}
}

func (e *blockingExecutor) Execute(ctx context.Context, jobID string, req model.MigrationRequest) (model.RunResult, error) {
	e.calls.Add(1)
	e.started <- jobID
	result := model.RunResult{JobID: jobID, Category: req.Category, StartedAt: time.Now()}
	select {
	case <-e.release:
		result.Succeeded = 3
	case <-ctx.Done():
		result.Cancelled = true
	}
	result.FinishedAt = time.Now()
	return result, e.err
}

// captureNotifier records completions. A non-nil gate holds every
// notification until it is closed.
type captureNotifier struct {
	mu    sync.Mutex
	items []model.JobCompletion
	gate  chan struct{}
}

func (n *captureNotifier) NotifyJobCompletion(_ context.Context, c model.JobCompletion) {
	if n.gate != nil {
		<-n.gate
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.items = append(n.items, c)
}

func (n *captureNotifier) all() []model.JobCompletion {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]model.JobCompletion(nil), n.items...)
}

// received waits until count completions have been published.
func (n *captureNotifier) received(t *testing.T, count int) []model.JobCompletion {
	t.Helper()
	require.Eventually(t, func() bool { return len(n.all()) >= count }, 3*time.Second, 5*time.Millisecond)
	return n.all()
}

func instantRequest() model.MigrationRequest {
	return model.MigrationRequest{
		Category: "study",
		Mode:     model.ModeInstant,
		Settings: model.MigrationSettings{MaxParallelism: 2, FetchBatchSize: 10, ProcessingBatchSize: 5},
	}
}

func scheduledRequest(start, end time.Time) model.MigrationRequest {
	req := instantRequest()
	req.Mode = model.ModeScheduled
	req.ScheduledStart, req.ScheduledEnd = &start, &end
	return req
}

func newReadyScheduler(t *testing.T, exec scheduler.Executor, notifier *captureNotifier) *scheduler.Scheduler {
	t.Helper()
	var n ports.Notifier
	if notifier != nil {
		n = notifier
	}
	s := scheduler.NewScheduler(config.SchedulerConfig{MaxConcurrentJobs: 2, ShutdownTimeout: 2 * time.Second, StatusRetention: time.Hour}, exec, n, nil)
	require.NoError(t, s.Initialize(context.Background()))
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })
	return s
}

func waitStarted(t *testing.T, exec *blockingExecutor) string {
	t.Helper()
	select {
	case id := <-exec.started:
		return id
	case <-time.After(3 * time.Second):
		t.Fatal("job did not start")
		return ""
	}
}

func TestScheduler_Lifecycle(t *testing.T) {
	s := scheduler.NewScheduler(config.SchedulerConfig{MaxConcurrentJobs: 1}, newBlockingExecutor(), nil, nil)
	assert.Equal(t, scheduler.StateUninitialized, s.State())

	_, err := s.SubmitImmediate(context.Background(), instantRequest())
	require.Error(t, err)
	assert.ErrorIs(t, err, scheduler.ErrNotInitialized)
	assert.True(t, exception.IsKind(err, exception.KindScheduler))

	require.NoError(t, s.Initialize(context.Background()))
	require.NoError(t, s.Initialize(context.Background()))
	assert.True(t, s.IsReady())

	require.NoError(t, s.Shutdown(context.Background()))
	assert.Equal(t, scheduler.StateStopped, s.State())

	_, err = s.SubmitImmediate(context.Background(), instantRequest())
	assert.ErrorIs(t, err, scheduler.ErrNotReady)
	_, err = s.ListActive(context.Background())
	assert.ErrorIs(t, err, scheduler.ErrNotReady)
	assert.ErrorIs(t, s.Initialize(context.Background()), scheduler.ErrNotReady)
}

func TestScheduler_SubmitImmediate(t *testing.T) {
	exec := newBlockingExecutor()
	notifier := &captureNotifier{}
	s := newReadyScheduler(t, exec, notifier)
	ctx := context.Background()

	id, err := s.SubmitImmediate(ctx, instantRequest())
	require.NoError(t, err)
	require.NotEmpty(t, id)
	assert.Equal(t, id, waitStarted(t, exec))

	status, err := s.GetStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusRunning, status)
	active, err := s.ListActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{id}, active)

	close(exec.release)
	status, err = s.Wait(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, status)

	active, _ = s.ListActive(ctx)
	assert.Empty(t, active)
	result, ok := s.Result(id)
	require.True(t, ok)
	assert.Equal(t, 3, result.Succeeded)

	completions := notifier.received(t, 1)
	require.Len(t, completions, 1)
	assert.Equal(t, model.JobStatusCompleted, completions[0].Status)
	assert.Equal(t, "study", completions[0].Category)
}

func TestScheduler_RejectsInvalidRequest(t *testing.T) {
	s := newReadyScheduler(t, newBlockingExecutor(), nil)
	req := instantRequest()
	req.Category = ""
	_, err := s.SubmitImmediate(context.Background(), req)
	assert.True(t, exception.IsKind(err, exception.KindValidation))

	_, err = s.SubmitScheduled(context.Background(), instantRequest(), time.Now())
	assert.True(t, exception.IsKind(err, exception.KindValidation))
}

func TestScheduler_CancelScheduledBeforeStart(t *testing.T) {
	exec := newBlockingExecutor()
	notifier := &captureNotifier{}
	s := newReadyScheduler(t, exec, notifier)
	ctx := context.Background()

	start := time.Now().Add(time.Hour)
	id, err := s.SubmitScheduled(ctx, scheduledRequest(start, start.Add(time.Hour)), start)
	require.NoError(t, err)

	status, err := s.GetStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusScheduled, status)

	ok, err := s.Cancel(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)

	status, _ = s.GetStatus(ctx, id)
	assert.Equal(t, model.JobStatusCancelled, status)
	active, _ := s.ListActive(ctx)
	assert.Empty(t, active)
	assert.Zero(t, exec.calls.Load())
	completions := notifier.received(t, 1)
	require.Len(t, completions, 1)
	assert.Equal(t, model.JobStatusCancelled, completions[0].Status)

	ok, err = s.Cancel(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestScheduler_CancelRunningJob(t *testing.T) {
	exec := newBlockingExecutor()
	s := newReadyScheduler(t, exec, &captureNotifier{})
	ctx := context.Background()

	id, err := s.SubmitImmediate(ctx, instantRequest())
	require.NoError(t, err)
	waitStarted(t, exec)

	ok, err := s.Cancel(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)

	status, _ := s.GetStatus(ctx, id)
	assert.Equal(t, model.JobStatusCancelled, status)
	assert.Eventually(t, func() bool {
		r, done := s.Result(id)
		return done && r.Cancelled
	}, 3*time.Second, 10*time.Millisecond)
	status, _ = s.GetStatus(ctx, id)
	assert.Equal(t, model.JobStatusCancelled, status)
}

func TestScheduler_SkipsElapsedWindow(t *testing.T) {
	exec := newBlockingExecutor()
	notifier := &captureNotifier{}
	s := newReadyScheduler(t, exec, notifier)
	ctx := context.Background()

	start := time.Now().Add(-2 * time.Hour)
	id, err := s.SubmitScheduled(ctx, scheduledRequest(start, start.Add(time.Hour)), start)
	require.NoError(t, err)

	status, err := s.Wait(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, status)
	assert.Zero(t, exec.calls.Load())
	result, _ := s.Result(id)
	assert.True(t, result.Skipped)
	assert.True(t, notifier.received(t, 1)[0].Skipped)
}

func TestScheduler_WindowExpiryCancelsRun(t *testing.T) {
	exec := newBlockingExecutor()
	s := newReadyScheduler(t, exec, nil)
	ctx := context.Background()

	start := time.Now().Add(-time.Second)
	end := time.Now().Add(150 * time.Millisecond)
	id, err := s.SubmitScheduled(ctx, scheduledRequest(start, end), start)
	require.NoError(t, err)
	waitStarted(t, exec)

	status, err := s.Wait(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCancelled, status)
	assert.False(t, time.Now().Before(end))
}

func TestScheduler_FailedRun(t *testing.T) {
	exec := newBlockingExecutor()
	exec.err = errors.New("fetch failed")
	close(exec.release)
	notifier := &captureNotifier{}
	s := newReadyScheduler(t, exec, notifier)

	id, err := s.SubmitImmediate(context.Background(), instantRequest())
	require.NoError(t, err)
	status, err := s.Wait(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, status)
	assert.Equal(t, "fetch failed", notifier.received(t, 1)[0].Error)
}

func TestScheduler_UnknownJob(t *testing.T) {
	s := newReadyScheduler(t, newBlockingExecutor(), nil)
	status, err := s.GetStatus(context.Background(), "missing")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCancelled, status)

	_, err = s.Wait(context.Background(), "missing")
	assert.ErrorIs(t, err, scheduler.ErrJobNotFound)
}

func TestScheduler_ShutdownCancelsJobs(t *testing.T) {
	exec := newBlockingExecutor()
	s := scheduler.NewScheduler(config.SchedulerConfig{MaxConcurrentJobs: 1, ShutdownTimeout: 2 * time.Second}, exec, nil, nil)
	require.NoError(t, s.Initialize(context.Background()))
	ctx := context.Background()

	running, err := s.SubmitImmediate(ctx, instantRequest())
	require.NoError(t, err)
	waitStarted(t, exec)
	later := time.Now().Add(time.Hour)
	pending, err := s.SubmitScheduled(ctx, scheduledRequest(later, later.Add(time.Hour)), later)
	require.NoError(t, err)

	require.NoError(t, s.Shutdown(ctx))

	for _, id := range []string{running, pending} {
		status, err := s.GetStatus(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusCancelled, status, id)
	}
}

func TestScheduler_Recurring(t *testing.T) {
	exec := newBlockingExecutor()
	close(exec.release)
	s := newReadyScheduler(t, exec, nil)

	err := s.AddRecurring("bad", "not a cron", func() (model.MigrationRequest, error) { return instantRequest(), nil })
	assert.True(t, exception.IsKind(err, exception.KindConfiguration))

	require.NoError(t, s.AddRecurring("nightly-study", "* * * * * *", func() (model.MigrationRequest, error) {
		return instantRequest(), nil
	}))
	waitStarted(t, exec)

	infos := s.Recurring()
	require.Len(t, infos, 1)
	assert.Equal(t, "nightly-study", infos[0].Name)
	assert.False(t, infos[0].Next.IsZero())
	assert.NotEmpty(t, s.Jobs(context.Background()))
}

func TestScheduler_CancelDoesNotWaitForNotification(t *testing.T) {
	notifier := &captureNotifier{gate: make(chan struct{})}
	s := newReadyScheduler(t, newBlockingExecutor(), notifier)
	ctx := context.Background()

	start := time.Now().Add(time.Hour)
	id, err := s.SubmitScheduled(ctx, scheduledRequest(start, start.Add(time.Hour)), start)
	require.NoError(t, err)

	cancelled := make(chan bool, 1)
	go func() {
		ok, _ := s.Cancel(ctx, id)
		cancelled <- ok
	}()
	select {
	case ok := <-cancelled:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Cancel blocked on the notifier")
	}
	assert.Empty(t, notifier.all())

	close(notifier.gate)
	completions := notifier.received(t, 1)
	assert.Equal(t, id, completions[0].JobID)
	assert.Equal(t, model.JobStatusCancelled, completions[0].Status)
}

// drainingExecutor keeps running after cancellation until released, like a
// run finishing its current group.
type drainingExecutor struct {
	started chan string
	release chan struct{}
}

func (e *drainingExecutor) Execute(ctx context.Context, jobID string, req model.MigrationRequest) (model.RunResult, error) {
	e.started <- jobID
	<-ctx.Done()
	<-e.release
	return model.RunResult{JobID: jobID, Category: req.Category, Cancelled: true}, nil
}

func TestScheduler_RecurringWaitsForCancelledRunToDrain(t *testing.T) {
	exec := &drainingExecutor{started: make(chan string, 10), release: make(chan struct{})}
	s := newReadyScheduler(t, exec, nil)
	ctx := context.Background()

	require.NoError(t, s.AddRecurring("every-second", "* * * * * *", func() (model.MigrationRequest, error) {
		return instantRequest(), nil
	}))
	var first string
	select {
	case first = <-exec.started:
	case <-time.After(3 * time.Second):
		t.Fatal("recurring job did not start")
	}

	jobs := s.Jobs(ctx)
	require.Len(t, jobs, 1)
	assert.Equal(t, string(model.TriggerCron), jobs[0].Trigger)

	ok, err := s.Cancel(ctx, first)
	require.NoError(t, err)
	require.True(t, ok)
	active, _ := s.ListActive(ctx)
	assert.Empty(t, active)

	select {
	case id := <-exec.started:
		t.Fatalf("job %s started while %s was still draining", id, first)
	case <-time.After(2500 * time.Millisecond):
	}

	close(exec.release)
	select {
	case second := <-exec.started:
		assert.NotEqual(t, first, second)
	case <-time.After(3 * time.Second):
		t.Fatal("recurring job did not resume after the previous run finished")
	}
}

func TestParseCron(t *testing.T) {
	_, err := scheduler.ParseCron("0 2 * * *")
	assert.NoError(t, err)
	_, err = scheduler.ParseCron("30 0 2 * * *")
	assert.NoError(t, err)
	_, err = scheduler.ParseCron("@daily")
	assert.NoError(t, err)
	_, err = scheduler.ParseCron("tomorrow")
	assert.Error(t, err)
}
