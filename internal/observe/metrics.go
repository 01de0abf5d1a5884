// Package observe provides application-wide observability primitives for
// talkback: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [Init] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all talkback metrics.
const meterName = "github.com/MrWong99/talkback"

// Capture outcomes recorded on [Metrics.Captures].
const (
	CaptureSegment   = "segment"
	CaptureNoise     = "noise"
	CaptureTooShort  = "too_short"
	CaptureCancelled = "cancelled"
	CaptureFailed    = "failed"
	CaptureMaxLength = "max_length"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per conversation stage ---

	// STTDuration tracks recognition latency, from end of speech to text.
	STTDuration metric.Float64Histogram

	// LLMDuration tracks reply fetch latency.
	LLMDuration metric.Float64Histogram

	// TTSDuration tracks text-to-speech synthesis latency.
	TTSDuration metric.Float64Histogram

	// TurnDuration tracks a full listen → reply → playback turn.
	TurnDuration metric.Float64Histogram

	// SegmentDuration tracks the audio length of captured segments.
	SegmentDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// Captures counts recorder runs. Use with attribute:
	//   attribute.String("outcome", ...), one of the Capture* constants.
	Captures metric.Int64Counter

	// Utterances counts recognized user utterances. Use with attributes:
	//   attribute.String("recognizer", ...), attribute.String("status", ...)
	Utterances metric.Int64Counter

	// DroppedAudio counts bytes discarded because the streaming queue was full.
	DroppedAudio metric.Int64Counter

	// PhaseTransitions counts conversation phase changes. Use with attribute:
	//   attribute.String("phase", ...)
	PhaseTransitions metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveCalls tracks the number of running conversation loops.
	ActiveCalls metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// segmentBuckets covers utterance lengths up to the default capture cap.
var segmentBuckets = []float64{
	0.25, 0.5, 1, 2, 4, 8, 15, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	histogram := func(name, desc string, buckets []float64) (metric.Float64Histogram, error) {
		return m.Float64Histogram(name,
			metric.WithDescription(desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(buckets...),
		)
	}

	// Histograms.
	if met.STTDuration, err = histogram("talkback.stt.duration",
		"Latency of speech recognition.", latencyBuckets); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = histogram("talkback.reply.duration",
		"Latency of reply fetches.", latencyBuckets); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = histogram("talkback.tts.duration",
		"Latency of text-to-speech synthesis.", latencyBuckets); err != nil {
		return nil, err
	}
	if met.TurnDuration, err = histogram("talkback.turn.duration",
		"Duration of a full conversation turn.", append(latencyBuckets, 30, 60)); err != nil {
		return nil, err
	}
	if met.SegmentDuration, err = histogram("talkback.segment.duration",
		"Audio length of captured segments.", segmentBuckets); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("talkback.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.Captures, err = m.Int64Counter("talkback.captures",
		metric.WithDescription("Total recorder runs by outcome."),
	); err != nil {
		return nil, err
	}
	if met.Utterances, err = m.Int64Counter("talkback.utterances",
		metric.WithDescription("Total recognized utterances by recognizer and status."),
	); err != nil {
		return nil, err
	}
	if met.DroppedAudio, err = m.Int64Counter("talkback.audio.dropped",
		metric.WithDescription("Audio bytes dropped because the streaming queue was full."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.PhaseTransitions, err = m.Int64Counter("talkback.phase.transitions",
		metric.WithDescription("Total conversation phase changes by target phase."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("talkback.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveCalls, err = m.Int64UpDownCounter("talkback.active_calls",
		metric.WithDescription("Number of running conversation loops."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("talkback.http.request.duration",
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

// RecordProviderRequest records a provider request counter increment with the
// standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records a provider error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordCapture records the outcome of one recorder run.
func (m *Metrics) RecordCapture(ctx context.Context, outcome string) {
	m.Captures.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordUtterance records a recognition result.
func (m *Metrics) RecordUtterance(ctx context.Context, recognizer, status string) {
	m.Utterances.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("recognizer", recognizer),
			attribute.String("status", status),
		),
	)
}

// RecordPhase records a transition into phase.
func (m *Metrics) RecordPhase(ctx context.Context, phase string) {
	m.PhaseTransitions.Add(ctx, 1, metric.WithAttributes(attribute.String("phase", phase)))
}
