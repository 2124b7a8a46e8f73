// Package observability provides OpenTelemetry instrumentation for tracing and metrics.
package observability

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Dispatch counters, incremented per submission attempt. They start on the
// global meter provider, so they work whether or not InitMetrics ran; each
// InitMetrics call rebinds them to the provider it installs.
var (
	SubmissionsTotal  metric.Int64Counter
	SubmissionsFailed metric.Int64Counter
	JobsStopped       metric.Int64Counter
)

func init() {
	newCounters(otel.Meter("caliban"))
}

func newCounters(meter metric.Meter) {
	SubmissionsTotal, _ = meter.Int64Counter("caliban_submissions_total",
		metric.WithDescription("Jobs submitted to a backend"))
	SubmissionsFailed, _ = meter.Int64Counter("caliban_submissions_failed_total",
		metric.WithDescription("Submissions that failed validation or were rejected"))
	JobsStopped, _ = meter.Int64Counter("caliban_jobs_stopped_total",
		metric.WithDescription("Jobs stopped by user request"))
}

// InitMetrics initializes the OpenTelemetry metrics provider with a Prometheus exporter.
// It returns the HTTP handler for the /metrics endpoint and a shutdown function.
// The shutdown function should be called on application exit for graceful cleanup.
func InitMetrics() (http.Handler, func(context.Context) error, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
	)

	otel.SetMeterProvider(provider)
	newCounters(provider.Meter("caliban"))

	return promhttp.Handler(), provider.Shutdown, nil
}
