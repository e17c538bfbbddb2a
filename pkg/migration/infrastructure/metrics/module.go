package metrics

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.uber.org/fx"

	config "github.com/dasabhishk/st2/pkg/migration/core/config"
	coremetrics "github.com/dasabhishk/st2/pkg/migration/core/metrics"
	"github.com/dasabhishk/st2/pkg/migration/support/util/logger"
)

// Handler is the optional /metrics handler. It is nil unless the Prometheus
// backend is active.
type Handler http.Handler

// RecorderResult is returned by NewMetricRecorder.
type RecorderResult struct {
	fx.Out
	Recorder coremetrics.MetricRecorder
	Handler  Handler
}

// NewMetricRecorder selects the backend named by metrics.backend and wraps it
// in an AsyncMetricRecorder when a buffer size is configured.
func NewMetricRecorder(lc fx.Lifecycle, cfg *config.Config) (RecorderResult, error) {
	var (
		recorder coremetrics.MetricRecorder
		handler  Handler
	)
	switch cfg.Metrics.Backend {
	case "prometheus":
		prom := NewPrometheusRecorder()
		recorder, handler = prom, prom.Handler()
	case "otel":
		provider, err := NewOTelMeterProvider(context.Background(), cfg.Metrics, cfg.Tracing.ServiceName)
		if err != nil {
			return RecorderResult{}, err
		}
		lc.Append(fx.Hook{OnStop: provider.Shutdown})
		otel.SetMeterProvider(provider)
		rec, err := NewOTelRecorder(provider.Meter(instrumentationName))
		if err != nil {
			return RecorderResult{}, err
		}
		recorder = rec
	default:
		recorder = coremetrics.NewNoOpMetricRecorder()
	}
	logger.Infof("Metrics backend: %s", cfg.Metrics.Backend)

	if cfg.Metrics.AsyncBufferSize > 0 {
		async := NewAsyncMetricRecorder(cfg.Metrics.AsyncBufferSize, recorder)
		lc.Append(fx.Hook{OnStop: func(context.Context) error {
			async.Close()
			return nil
		}})
		recorder = async
	}
	return RecorderResult{Recorder: recorder, Handler: handler}, nil
}

// NewTracer returns an OpenTelemetry tracer when tracing is enabled and a
// no-op tracer otherwise.
func NewTracer(lc fx.Lifecycle, cfg *config.Config) (coremetrics.Tracer, error) {
	if !cfg.Tracing.Enabled {
		return coremetrics.NewNoOpTracer(), nil
	}
	provider, err := NewOTelTracerProvider(context.Background(), cfg.Tracing)
	if err != nil {
		return nil, err
	}
	otel.SetTracerProvider(provider)
	lc.Append(fx.Hook{OnStop: provider.Shutdown})
	logger.Infof("Tracing enabled: exporting spans to %s over %s.", cfg.Tracing.Endpoint, cfg.Tracing.Protocol)
	return NewOpenTelemetryTracer(provider), nil
}

// Module provides the configured MetricRecorder, Tracer and metrics Handler.
var Module = fx.Options(
	fx.Provide(NewMetricRecorder, NewTracer),
)
