// Package observe provides application-wide observability primitives for
// ttshub: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all ttshub metrics.
const meterName = "github.com/MrWong99/ttshub"

// Status attribute values shared by the Record helpers.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// SynthesisDuration tracks engine synthesis latency. Use with attributes:
	//   attribute.String("model", ...), attribute.String("status", ...)
	SynthesisDuration metric.Float64Histogram

	// SynthesisRTF tracks the real-time factor (processing time / audio
	// duration) of successful synthesis calls.
	SynthesisRTF metric.Float64Histogram

	// EngineBuildDuration tracks engine construction latency including all
	// artifact fetches. Use with attributes:
	//   attribute.String("kind", ...), attribute.String("status", ...)
	EngineBuildDuration metric.Float64Histogram

	// ArtifactFetchDuration tracks artifact resolution latency. Use with
	// attribute: attribute.String("outcome", ...)
	ArtifactFetchDuration metric.Float64Histogram

	// --- Counters ---

	// SynthesisRequests counts synthesis calls. Use with attribute:
	//   attribute.String("status", ...)
	SynthesisRequests metric.Int64Counter

	// CacheLookups counts engine cache lookups. Use with attribute:
	//   attribute.String("result", "hit"|"miss")
	CacheLookups metric.Int64Counter

	// CacheEvictions counts engines evicted from the engine cache.
	CacheEvictions metric.Int64Counter

	// ArtifactFetches counts artifact fetches. Use with attribute:
	//   attribute.String("outcome", ...)
	ArtifactFetches metric.Int64Counter

	// SourceTransitions counts circuit breaker state changes of artifact
	// sources, keyed by "source" and the new "state".
	SourceTransitions metric.Int64Counter

	// --- Gauges ---

	// ActiveEngines tracks the number of constructed engines currently
	// holding native resources.
	ActiveEngines metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time, keyed by
	// method, route pattern ("path") and status class ("2xx").
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) covering
// sub-second synthesis through multi-minute model downloads.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300,
}

// rtfBuckets defines histogram bucket boundaries for the real-time factor.
var rtfBuckets = []float64{
	0.01, 0.05, 0.1, 0.2, 0.3, 0.5, 0.75, 1, 1.5, 2, 5,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.SynthesisDuration, err = m.Float64Histogram("ttshub.synthesis.duration",
		metric.WithDescription("Latency of text-to-speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SynthesisRTF, err = m.Float64Histogram("ttshub.synthesis.rtf",
		metric.WithDescription("Real-time factor of successful synthesis calls."),
		metric.WithExplicitBucketBoundaries(rtfBuckets...),
	); err != nil {
		return nil, err
	}
	if met.EngineBuildDuration, err = m.Float64Histogram("ttshub.engine.build.duration",
		metric.WithDescription("Latency of engine construction including artifact fetches."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ArtifactFetchDuration, err = m.Float64Histogram("ttshub.artifact.fetch.duration",
		metric.WithDescription("Latency of artifact resolution."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.SynthesisRequests, err = m.Int64Counter("ttshub.synthesis.requests",
		metric.WithDescription("Total synthesis requests by status."),
	); err != nil {
		return nil, err
	}
	if met.CacheLookups, err = m.Int64Counter("ttshub.engine_cache.lookups",
		metric.WithDescription("Total engine cache lookups by result."),
	); err != nil {
		return nil, err
	}
	if met.CacheEvictions, err = m.Int64Counter("ttshub.engine_cache.evictions",
		metric.WithDescription("Total engines evicted from the engine cache."),
	); err != nil {
		return nil, err
	}
	if met.ArtifactFetches, err = m.Int64Counter("ttshub.artifact.fetches",
		metric.WithDescription("Total artifact fetches by outcome."),
	); err != nil {
		return nil, err
	}
	if met.SourceTransitions, err = m.Int64Counter("ttshub.artifact.source.transitions",
		metric.WithDescription("Circuit breaker state changes of artifact sources."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveEngines, err = m.Int64UpDownCounter("ttshub.active_engines",
		metric.WithDescription("Number of constructed engines holding native resources."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("ttshub.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// StatusOf returns [StatusError] when err is non-nil and [StatusOK] otherwise.
func StatusOf(err error) string {
	if err != nil {
		return StatusError
	}
	return StatusOK
}

// RecordSynthesis records one synthesis call. rtf is only recorded for
// successful calls.
func (m *Metrics) RecordSynthesis(ctx context.Context, model, status string, elapsed time.Duration, rtf float64) {
	m.SynthesisRequests.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	m.SynthesisDuration.Record(ctx, elapsed.Seconds(),
		metric.WithAttributes(
			attribute.String("model", model),
			attribute.String("status", status),
		),
	)
	if status == StatusOK && rtf > 0 {
		m.SynthesisRTF.Record(ctx, rtf, metric.WithAttributes(attribute.String("model", model)))
	}
}

// RecordCacheLookup records an engine cache hit or miss.
func (m *Metrics) RecordCacheLookup(ctx context.Context, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordEviction records one engine cache eviction.
func (m *Metrics) RecordEviction(ctx context.Context) {
	m.CacheEvictions.Add(ctx, 1)
}

// RecordArtifactFetch records one artifact fetch and its latency.
func (m *Metrics) RecordArtifactFetch(ctx context.Context, outcome string, elapsed time.Duration) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.ArtifactFetches.Add(ctx, 1, attrs)
	m.ArtifactFetchDuration.Record(ctx, elapsed.Seconds(), attrs)
}

// RecordSourceTransition records an artifact source moving to state.
func (m *Metrics) RecordSourceTransition(ctx context.Context, source, state string) {
	m.SourceTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("source", source),
		attribute.String("state", state),
	))
}

// RecordEngineBuild records one engine construction attempt.
func (m *Metrics) RecordEngineBuild(ctx context.Context, kind, status string, elapsed time.Duration) {
	m.EngineBuildDuration.Record(ctx, elapsed.Seconds(),
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}
