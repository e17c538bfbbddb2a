// Package metrics provides the Prometheus and OpenTelemetry backends for
// the core metric recorder and tracer.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dasabhishk/st2/pkg/migration/core/domain/model"
	coremetrics "github.com/dasabhishk/st2/pkg/migration/core/metrics"
	"github.com/dasabhishk/st2/pkg/migration/support/util/logger"
)

// PrometheusRecorder records migration metrics into its own registry.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	jobsStarted        *prometheus.CounterVec
	jobDurationSeconds *prometheus.HistogramVec
	fetchedRows        *prometheus.CounterVec
	procedureCalls     *prometheus.CounterVec
	procedureSeconds   *prometheus.HistogramVec
	batchSeconds       *prometheus.HistogramVec
	batchRecords       *prometheus.CounterVec
	statusUpdates      *prometheus.CounterVec
	durations          *prometheus.HistogramVec
}

// NewPrometheusRecorder creates a recorder with Go and process collectors registered.
func NewPrometheusRecorder() *PrometheusRecorder {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &PrometheusRecorder{
		registry: registry,
		jobsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "migration_jobs_started_total",
			Help: "Total number of migration jobs that started executing.",
		}, []string{"category"}),
		jobDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "migration_job_duration_seconds",
			Help:    "Duration of migration jobs by terminal status.",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 3600, 14400},
		}, []string{"category", "status"}),
		fetchedRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "migration_fetched_rows_total",
			Help: "Rows fetched from staging tables.",
		}, []string{"category"}),
		procedureCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "migration_procedure_calls_total",
			Help: "Remote procedure calls by return code.",
		}, []string{"category", "code"}),
		procedureSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "migration_procedure_call_duration_seconds",
			Help:    "Latency of remote procedure calls.",
			Buckets: prometheus.DefBuckets,
		}, []string{"category"}),
		batchSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "migration_batch_duration_seconds",
			Help:    "Duration of processing groups.",
			Buckets: prometheus.DefBuckets,
		}, []string{"category"}),
		batchRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "migration_records_total",
			Help: "Processed records by outcome.",
		}, []string{"category", "outcome"}),
		statusUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "migration_status_updates_total",
			Help: "Staging rows moved to a terminal status.",
		}, []string{"category", "status"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "migration_operation_duration_seconds",
			Help:    "Generic named operation durations.",
			Buckets: prometheus.DefBuckets,
		}, []string{"name"}),
	}

	registry.MustRegister(
		r.jobsStarted,
		r.jobDurationSeconds,
		r.fetchedRows,
		r.procedureCalls,
		r.procedureSeconds,
		r.batchSeconds,
		r.batchRecords,
		r.statusUpdates,
		r.durations,
	)
	return r
}

// Registry returns the Prometheus registry.
func (r *PrometheusRecorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

func (r *PrometheusRecorder) RecordJobStart(_ context.Context, jobID, category string) {
	r.jobsStarted.WithLabelValues(category).Inc()
	logger.Debugf("Metrics: job '%s' (%s) started.", jobID, category)
}

func (r *PrometheusRecorder) RecordJobEnd(_ context.Context, jobID, category string, status model.JobStatus, duration time.Duration) {
	r.jobDurationSeconds.WithLabelValues(category, status.String()).Observe(duration.Seconds())
	logger.Debugf("Metrics: job '%s' (%s) ended with %s after %.3fs.", jobID, category, status, duration.Seconds())
}

func (r *PrometheusRecorder) RecordFetch(_ context.Context, category string, rows int) {
	r.fetchedRows.WithLabelValues(category).Add(float64(rows))
}

func (r *PrometheusRecorder) RecordProcedureCall(_ context.Context, category string, code int, duration time.Duration) {
	r.procedureCalls.WithLabelValues(category, strconv.Itoa(code)).Inc()
	r.procedureSeconds.WithLabelValues(category).Observe(duration.Seconds())
}

func (r *PrometheusRecorder) RecordBatch(_ context.Context, category string, outcome model.BatchOutcome, duration time.Duration) {
	r.batchSeconds.WithLabelValues(category).Observe(duration.Seconds())
	r.batchRecords.WithLabelValues(category, "succeeded").Add(float64(len(outcome.Succeeded)))
	r.batchRecords.WithLabelValues(category, "failed").Add(float64(len(outcome.Failed)))
}

func (r *PrometheusRecorder) RecordStatusUpdate(_ context.Context, category string, status model.RowStatus, rows int) {
	r.statusUpdates.WithLabelValues(category, status.String()).Add(float64(rows))
}

func (r *PrometheusRecorder) RecordDuration(_ context.Context, name string, duration time.Duration, _ map[string]string) {
	r.durations.WithLabelValues(name).Observe(duration.Seconds())
}

var _ coremetrics.MetricRecorder = (*PrometheusRecorder)(nil)
