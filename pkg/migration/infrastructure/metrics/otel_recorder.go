package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"

	config "github.com/dasabhishk/st2/pkg/migration/core/config"
	"github.com/dasabhishk/st2/pkg/migration/core/domain/model"
	coremetrics "github.com/dasabhishk/st2/pkg/migration/core/metrics"
)

const instrumentationName = "github.com/dasabhishk/st2/pkg/migration"

// OTelRecorder records migration metrics through an OpenTelemetry meter.
type OTelRecorder struct {
	jobsStarted      metric.Int64Counter
	jobDuration      metric.Float64Histogram
	fetchedRows      metric.Int64Counter
	procedureCalls   metric.Int64Counter
	procedureLatency metric.Float64Histogram
	batchDuration    metric.Float64Histogram
	records          metric.Int64Counter
	statusUpdates    metric.Int64Counter
	durations        metric.Float64Histogram
}

// NewOTelRecorder creates every instrument on meter.
func NewOTelRecorder(meter metric.Meter) (*OTelRecorder, error) {
	r := &OTelRecorder{}
	var err error
	if r.jobsStarted, err = meter.Int64Counter("migration.jobs.started",
		metric.WithDescription("Migration jobs that started executing.")); err != nil {
		return nil, err
	}
	if r.jobDuration, err = meter.Float64Histogram("migration.job.duration",
		metric.WithDescription("Duration of migration jobs by terminal status."), metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if r.fetchedRows, err = meter.Int64Counter("migration.fetched.rows"); err != nil {
		return nil, err
	}
	if r.procedureCalls, err = meter.Int64Counter("migration.procedure.calls",
		metric.WithDescription("Remote procedure calls by return code.")); err != nil {
		return nil, err
	}
	if r.procedureLatency, err = meter.Float64Histogram("migration.procedure.duration", metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if r.batchDuration, err = meter.Float64Histogram("migration.batch.duration", metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if r.records, err = meter.Int64Counter("migration.records"); err != nil {
		return nil, err
	}
	if r.statusUpdates, err = meter.Int64Counter("migration.status.updates"); err != nil {
		return nil, err
	}
	if r.durations, err = meter.Float64Histogram("migration.operation.duration", metric.WithUnit("s")); err != nil {
		return nil, err
	}
	return r, nil
}

// NewOTelMeterProvider builds a meter provider exporting over OTLP.
func NewOTelMeterProvider(ctx context.Context, cfg config.MetricsConfig, serviceName string) (*sdkmetric.MeterProvider, error) {
	var (
		exporter sdkmetric.Exporter
		err      error
	)
	switch strings.ToLower(cfg.Protocol) {
	case "grpc":
		exporter, err = otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(cfg.Endpoint),
			otlpmetricgrpc.WithInsecure(),
		)
	case "http", "":
		exporter, err = otlpmetrichttp.New(ctx,
			otlpmetrichttp.WithEndpoint(cfg.Endpoint),
			otlpmetrichttp.WithInsecure(),
		)
	default:
		return nil, fmt.Errorf("unsupported otlp metric protocol %q", cfg.Protocol)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create otlp metric exporter: %w", err)
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))),
		sdkmetric.WithResource(serviceResource(serviceName)),
	), nil
}

func serviceResource(serviceName string) *resource.Resource {
	return resource.NewSchemaless(attribute.String("service.name", serviceName))
}

func categoryAttr(category string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("category", category))
}

func (r *OTelRecorder) RecordJobStart(ctx context.Context, _ string, category string) {
	r.jobsStarted.Add(ctx, 1, categoryAttr(category))
}

func (r *OTelRecorder) RecordJobEnd(ctx context.Context, _ string, category string, status model.JobStatus, duration time.Duration) {
	r.jobDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("category", category),
		attribute.String("status", status.String()),
	))
}

func (r *OTelRecorder) RecordFetch(ctx context.Context, category string, rows int) {
	r.fetchedRows.Add(ctx, int64(rows), categoryAttr(category))
}

func (r *OTelRecorder) RecordProcedureCall(ctx context.Context, category string, code int, duration time.Duration) {
	r.procedureCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("category", category),
		attribute.Int("code", code),
	))
	r.procedureLatency.Record(ctx, duration.Seconds(), categoryAttr(category))
}

func (r *OTelRecorder) RecordBatch(ctx context.Context, category string, outcome model.BatchOutcome, duration time.Duration) {
	r.batchDuration.Record(ctx, duration.Seconds(), categoryAttr(category))
	r.records.Add(ctx, int64(len(outcome.Succeeded)), metric.WithAttributes(
		attribute.String("category", category), attribute.String("outcome", "succeeded")))
	r.records.Add(ctx, int64(len(outcome.Failed)), metric.WithAttributes(
		attribute.String("category", category), attribute.String("outcome", "failed")))
}

func (r *OTelRecorder) RecordStatusUpdate(ctx context.Context, category string, status model.RowStatus, rows int) {
	r.statusUpdates.Add(ctx, int64(rows), metric.WithAttributes(
		attribute.String("category", category),
		attribute.String("status", status.String()),
	))
}

func (r *OTelRecorder) RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string) {
	attrs := make([]attribute.KeyValue, 0, len(tags)+1)
	attrs = append(attrs, attribute.String("name", name))
	for k, v := range tags {
		attrs = append(attrs, attribute.String(k, v))
	}
	r.durations.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

var _ coremetrics.MetricRecorder = (*OTelRecorder)(nil)
