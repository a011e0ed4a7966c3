// Package observability provides OpenTelemetry instrumentation for tracing and metrics.
package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

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

	return promhttp.Handler(), provider.Shutdown, nil
}

// BacklogCounter reports the number of due scheduled actions.
type BacklogCounter interface {
	CountBacklog(ctx context.Context, now time.Time) (int64, error)
}

// RegisterBacklogGauge registers an observable gauge that samples the
// scheduling backlog at scrape time.
func RegisterBacklogGauge(counter BacklogCounter) error {
	meter := otel.Meter("crewflow-scheduler")
	gauge, err := meter.Int64ObservableGauge("crewflow_actions_backlog",
		metric.WithDescription("Scheduled actions currently due and unclaimed"))
	if err != nil {
		return fmt.Errorf("failed to create backlog gauge: %w", err)
	}

	_, err = meter.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		n, err := counter.CountBacklog(ctx, time.Now().UTC())
		if err != nil {
			return err
		}
		o.ObserveInt64(gauge, n)
		return nil
	}, gauge)
	if err != nil {
		return fmt.Errorf("failed to register backlog callback: %w", err)
	}
	return nil
}
