package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dasabhishk/st2/internal/api"
	"github.com/dasabhishk/st2/pkg/migration/core/domain/model"
	"github.com/dasabhishk/st2/pkg/migration/core/ports"
	"github.com/dasabhishk/st2/pkg/migration/engine/category"
	"github.com/dasabhishk/st2/pkg/migration/manager"
	"github.com/dasabhishk/st2/pkg/migration/scheduler"
	"github.com/dasabhishk/st2/pkg/migration/support/util/exception"
)

type fakeService struct {
	started  []manager.StartRequest
	startErr error
	stopped  []string
	statuses map[string]model.JobStatus
	results  map[string]model.RunResult
	errFrom  time.Time
	errTo    time.Time
	notReady bool
}

func (f *fakeService) Start(_ context.Context, req manager.StartRequest) (string, error) {
	if f.startErr != nil {
		return "", f.startErr
	}
	f.started = append(f.started, req)
	return "job-1", nil
}

func (f *fakeService) Stop(_ context.Context, id string) (bool, error) {
	f.stopped = append(f.stopped, id)
	return id != "missing", nil
}

func (f *fakeService) Status(_ context.Context, id string) (model.JobStatus, error) {
	if f.notReady {
		return model.JobStatusFailed, exception.NewMigrationError("scheduler", exception.KindScheduler, "not ready", scheduler.ErrNotReady, true)
	}
	if s, ok := f.statuses[id]; ok {
		return s, nil
	}
	return model.JobStatusCancelled, nil
}

func (f *fakeService) ListActive(context.Context) ([]string, error) { return []string{"job-1"}, nil }

func (f *fakeService) Jobs(context.Context) []model.JobSummary {
	return []model.JobSummary{{ID: "job-1", Category: "study", Status: model.JobStatusRunning}}
}

func (f *fakeService) Result(id string) (model.RunResult, bool) {
	r, ok := f.results[id]
	return r, ok
}

func (f *fakeService) Categories() []manager.CategoryInfo {
	return []manager.CategoryInfo{{ID: "study", Table: "study_staging"}}
}

func (f *fakeService) Summary(_ context.Context, id string) ([]ports.StatusCount, error) {
	if id != "study" {
		return nil, exception.NewMigrationError("category", exception.KindValidation, "unknown", category.ErrUnknownCategory, false)
	}
	return []ports.StatusCount{{FileName: "a.csv", Status: model.RowStatusMigrated, Count: 2}}, nil
}

func (f *fakeService) ErrorCounts(_ context.Context, from, to time.Time) ([]ports.ErrorCount, error) {
	f.errFrom, f.errTo = from, to
	return nil, nil
}

func (f *fakeService) Recurring() []scheduler.RecurringInfo { return nil }

func serve(t *testing.T, svc api.MigrationService, method, target, body string) (*httptest.ResponseRecorder, api.Response) {
	t.Helper()
	e := api.NewRouter(api.NewHandler(svc), nil)
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	var resp api.Response
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}
	return rec, resp
}

func TestStartJob(t *testing.T) {
	svc := &fakeService{}
	rec, resp := serve(t, svc, http.MethodPost, "/jobs",
		`{"category":"study","mode":"scheduled","start":"2026-01-01T22:00:00Z","end":"2026-01-02T02:00:00Z","settings":{"max_parallelism":3}}`)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.True(t, resp.Status)
	assert.Equal(t, map[string]interface{}{"job_id": "job-1"}, resp.Obj)
	require.Len(t, svc.started, 1)
	assert.Equal(t, model.ModeScheduled, svc.started[0].Mode)
	assert.Equal(t, 3, svc.started[0].Settings.MaxParallelism)
	require.NotNil(t, svc.started[0].End)
	assert.Equal(t, 2, svc.started[0].End.Day())
}

func TestStartJobErrors(t *testing.T) {
	rec, resp := serve(t, &fakeService{}, http.MethodPost, "/jobs", `{"category":"study","mode":"weekly"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, resp.Status)

	svc := &fakeService{startErr: exception.NewMigrationError("manager", exception.KindValidation, "end time must be after start time", nil, false)}
	rec, resp = serve(t, svc, http.MethodPost, "/jobs", `{"category":"study","mode":"scheduled"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, resp.Msg, "end time must be after start time")

	svc.startErr = exception.NewMigrationError("scheduler", exception.KindScheduler, "scheduler is not ready", scheduler.ErrNotReady, true)
	rec, _ = serve(t, svc, http.MethodPost, "/jobs", `{"category":"study"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestGetJob(t *testing.T) {
	svc := &fakeService{
		statuses: map[string]model.JobStatus{"job-1": model.JobStatusCompleted},
		results:  map[string]model.RunResult{"job-1": {JobID: "job-1", Succeeded: 5}},
	}
	rec, resp := serve(t, svc, http.MethodGet, "/jobs/job-1", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	obj := resp.Obj.(map[string]interface{})
	assert.Equal(t, "Completed", obj["status"])
	assert.NotNil(t, obj["result"])

	_, resp = serve(t, svc, http.MethodGet, "/jobs/unknown", "")
	assert.Equal(t, "Cancelled", resp.Obj.(map[string]interface{})["status"])

	rec, _ = serve(t, &fakeService{notReady: true}, http.MethodGet, "/jobs/job-1", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStopJobs(t *testing.T) {
	svc := &fakeService{}
	_, resp := serve(t, svc, http.MethodDelete, "/jobs/job-1", "")
	assert.Equal(t, map[string]interface{}{"cancelled": true}, resp.Obj)

	_, resp = serve(t, svc, http.MethodDelete, "/jobs/missing", "")
	assert.Equal(t, "not cancelled", resp.Msg)

	_, _ = serve(t, svc, http.MethodDelete, "/jobs", "")
	assert.Equal(t, []string{"job-1", "missing", ""}, svc.stopped)
}

func TestListings(t *testing.T) {
	svc := &fakeService{}
	rec, resp := serve(t, svc, http.MethodGet, "/jobs", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, resp.Obj, 1)

	_, resp = serve(t, svc, http.MethodGet, "/jobs/active", "")
	assert.Equal(t, []interface{}{"job-1"}, resp.Obj)

	_, resp = serve(t, svc, http.MethodGet, "/categories", "")
	assert.Len(t, resp.Obj, 1)
}

func TestCategorySummary(t *testing.T) {
	rec, resp := serve(t, &fakeService{}, http.MethodGet, "/categories/study/summary", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, resp.Obj, 1)

	rec, _ = serve(t, &fakeService{}, http.MethodGet, "/categories/patient/summary", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestErrorCountsRange(t *testing.T) {
	svc := &fakeService{}
	rec, _ := serve(t, svc, http.MethodGet, "/errors?from=2026-01-01T00:00:00Z&to=2026-01-02T00:00:00Z", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), svc.errFrom.UTC())
	assert.Equal(t, 24*time.Hour, svc.errTo.Sub(svc.errFrom))

	rec, _ = serve(t, svc, http.MethodGet, "/errors?from=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsRouteIsOptional(t *testing.T) {
	e := api.NewRouter(api.NewHandler(&fakeService{}), http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("migrator_jobs_total 1\n"))
	}))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "migrator_jobs_total")

	rec, _ = serve(t, &fakeService{}, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
