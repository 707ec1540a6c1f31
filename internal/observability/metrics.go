// Package observability provides OpenTelemetry instrumentation for tracing and metrics.
package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// InitMetrics initializes the OpenTelemetry metrics provider with a Prometheus exporter.
// It returns the HTTP handler for the /metrics endpoint and a shutdown function.
func InitMetrics() (http.Handler, func(context.Context) error, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
	)

	otel.SetMeterProvider(provider)

	return promhttp.Handler(), provider.Shutdown, nil
}

// BuildMetrics holds the instruments recorded by the orchestrator and the
// recovery scheduler. A nil *BuildMetrics records nothing.
type BuildMetrics struct {
	buildsStarted   metric.Int64Counter
	buildsCompleted metric.Int64Counter
	runDuration     metric.Float64Histogram
	activeWorkers   metric.Int64UpDownCounter
	sweepRuns       metric.Int64Counter
	sweepRestarts   metric.Int64Counter
}

// NewBuildMetrics creates the instruments on meter.
func NewBuildMetrics(meter metric.Meter) (*BuildMetrics, error) {
	var (
		m   BuildMetrics
		err error
	)

	if m.buildsStarted, err = meter.Int64Counter("zigcheck.builds.started",
		metric.WithDescription("Version builds handed to the container runtime")); err != nil {
		return nil, err
	}
	if m.buildsCompleted, err = meter.Int64Counter("zigcheck.builds.completed",
		metric.WithDescription("Version builds with a persisted final status")); err != nil {
		return nil, err
	}
	if m.runDuration, err = meter.Float64Histogram("zigcheck.container.run.duration",
		metric.WithDescription("Wall time of one build container"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(5, 15, 30, 60, 120, 300, 600, 1200, 1800)); err != nil {
		return nil, err
	}
	if m.activeWorkers, err = meter.Int64UpDownCounter("zigcheck.package_workers.active",
		metric.WithDescription("Package workers currently running")); err != nil {
		return nil, err
	}
	if m.sweepRuns, err = meter.Int64Counter("zigcheck.sweeps.runs",
		metric.WithDescription("Recovery sweep executions")); err != nil {
		return nil, err
	}
	if m.sweepRestarts, err = meter.Int64Counter("zigcheck.sweeps.restarts",
		metric.WithDescription("Packages restarted by a recovery sweep")); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *BuildMetrics) BuildStarted(ctx context.Context, version string) {
	if m == nil {
		return
	}
	m.buildsStarted.Add(ctx, 1, metric.WithAttributes(attribute.String("zig_version", version)))
}

func (m *BuildMetrics) BuildCompleted(ctx context.Context, version, status string) {
	if m == nil {
		return
	}
	m.buildsCompleted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("zig_version", version),
		attribute.String("status", status),
	))
}

func (m *BuildMetrics) ObserveRun(ctx context.Context, version string, d time.Duration) {
	if m == nil {
		return
	}
	m.runDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("zig_version", version)))
}

// WorkerStarted and WorkerFinished bracket one package worker.
func (m *BuildMetrics) WorkerStarted(ctx context.Context) {
	if m == nil {
		return
	}
	m.activeWorkers.Add(ctx, 1)
}

func (m *BuildMetrics) WorkerFinished(ctx context.Context) {
	if m == nil {
		return
	}
	m.activeWorkers.Add(ctx, -1)
}

// SweepRan records one sweep and how many packages it restarted.
func (m *BuildMetrics) SweepRan(ctx context.Context, sweep string, restarted int, failed bool) {
	if m == nil {
		return
	}
	m.sweepRuns.Add(ctx, 1, metric.WithAttributes(
		attribute.String("sweep", sweep),
		attribute.Bool("failed", failed),
	))
	if restarted > 0 {
		m.sweepRestarts.Add(ctx, int64(restarted), metric.WithAttributes(attribute.String("sweep", sweep)))
	}
}
