// Package metrics wires the OpenTelemetry metric pipeline to the Prometheus
// default registry and defines the instruments used by the scanning pipeline.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// DefaultBuckets provides a common set of histogram buckets in seconds that can
// be reused across the application for latency metrics.
var DefaultBuckets = []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60} //nolint: gochecknoglobals

// NewMeterProvider creates an OpenTelemetry meter provider that exports to the
// Prometheus default registry, so instruments recorded through it appear on
// the /metrics endpoint alongside the runtime collectors.
func NewMeterProvider() (*sdkmetric.MeterProvider, error) {
	exp, err := otelprom.New(otelprom.WithRegisterer(prometheus.DefaultRegisterer))
	if err != nil {
		return nil, fmt.Errorf("could not create otel prometheus exporter: %w", err)
	}

	return sdkmetric.NewMeterProvider(sdkmetric.WithReader(exp)), nil
}

// Pipeline groups the instruments recorded by the scan pipeline. All of them
// are optional: a zero-value Pipeline records nothing, which keeps unit tests
// free of metric plumbing.
type Pipeline struct {
	// StageSeconds measures per-stage latency, attributed by stage name.
	StageSeconds metric.Float64Histogram
	// TIVerdicts counts threat-intelligence lookups by source and verdict.
	TIVerdicts metric.Int64Counter
	// BreakerTransitions counts circuit-breaker state changes by source and state.
	BreakerTransitions metric.Int64Counter
	// CacheEvents counts cache hits and misses by tier.
	CacheEvents metric.Int64Counter
	// Scans counts finished scans by risk level.
	Scans metric.Int64Counter
}

// NewPipeline builds the pipeline instruments on the given meter.
func NewPipeline(meter metric.Meter) (*Pipeline, error) {
	stage, err := meter.Float64Histogram("pipeline_stage_seconds",
		metric.WithDescription("Per-stage scan pipeline latency"),
		metric.WithExplicitBucketBoundaries(DefaultBuckets...))
	if err != nil {
		return nil, fmt.Errorf("could not create stage histogram: %w", err)
	}
	verdicts, err := meter.Int64Counter("ti_verdicts_total",
		metric.WithDescription("Threat-intelligence lookups by source and verdict"))
	if err != nil {
		return nil, fmt.Errorf("could not create TI verdict counter: %w", err)
	}
	transitions, err := meter.Int64Counter("ti_breaker_transitions_total",
		metric.WithDescription("Circuit-breaker state transitions"))
	if err != nil {
		return nil, fmt.Errorf("could not create breaker counter: %w", err)
	}
	cacheEvents, err := meter.Int64Counter("cache_events_total",
		metric.WithDescription("Cache hits and misses by tier"))
	if err != nil {
		return nil, fmt.Errorf("could not create cache counter: %w", err)
	}
	scans, err := meter.Int64Counter("scans_total",
		metric.WithDescription("Finished scans by risk level"))
	if err != nil {
		return nil, fmt.Errorf("could not create scan counter: %w", err)
	}

	return &Pipeline{
		StageSeconds:       stage,
		TIVerdicts:         verdicts,
		BreakerTransitions: transitions,
		CacheEvents:        cacheEvents,
		Scans:              scans,
	}, nil
}
