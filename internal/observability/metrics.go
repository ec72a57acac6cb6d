// Package observability provides OpenTelemetry instrumentation for tracing and metrics.
package observability

import (
	"context"
	"fmt"
	"net/http"

	"github.com/adimian/kabuto/internal/store"

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

// JobCounter counts jobs in a given state. Satisfied by the job store.
type JobCounter interface {
	CountJobsInState(ctx context.Context, state store.JobState) (int64, error)
}

// RegisterJobGauges registers observable gauges for the dispatch pipeline:
// jobs waiting in the queue and jobs currently running. The values are read
// from the store at scrape time.
func RegisterJobGauges(counter JobCounter) error {
	meter := otel.Meter("kabuto/coordinator")

	inQueue, err := meter.Int64ObservableGauge("kabuto_jobs_in_queue",
		metric.WithDescription("Jobs with a dispatch message in flight"))
	if err != nil {
		return err
	}
	running, err := meter.Int64ObservableGauge("kabuto_jobs_running",
		metric.WithDescription("Jobs currently executing on a worker"))
	if err != nil {
		return err
	}

	_, err = meter.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		n, err := counter.CountJobsInState(ctx, store.JobStateInQueue)
		if err != nil {
			return err
		}
		o.ObserveInt64(inQueue, n)

		n, err = counter.CountJobsInState(ctx, store.JobStateRunning)
		if err != nil {
			return err
		}
		o.ObserveInt64(running, n)
		return nil
	}, inQueue, running)
	return err
}
