// Package observe provides application-wide observability primitives for
// voicelink: OpenTelemetry metrics and the SDK provider setup.
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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all voicelink metrics.
const meterName = "github.com/kundliapp/voicelink"

// Metrics holds all OpenTelemetry metric instruments for the voice pipeline.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Counters ---

	// FragmentsReceived counts inbound audio fragments from the transport.
	FragmentsReceived metric.Int64Counter

	// SegmentsFlushed counts segments produced by the reassembly buffer.
	SegmentsFlushed metric.Int64Counter

	// SegmentsPlayed counts segments played to completion. Use with attribute:
	//   attribute.String("status", "ok"|"error")
	SegmentsPlayed metric.Int64Counter

	// AudioSent counts outbound capture blobs. Use with attributes:
	//   attribute.String("format", ...), attribute.String("status", "sent"|"dropped")
	AudioSent metric.Int64Counter

	// TransportErrors counts fatal transport failures and malformed messages.
	// Use with attribute: attribute.String("kind", ...)
	TransportErrors metric.Int64Counter

	// --- Histograms ---

	// SegmentDuration tracks the audio length (seconds) of flushed segments.
	SegmentDuration metric.Float64Histogram

	// CaptureDuration tracks the wall-clock length (seconds) of capture bursts.
	CaptureDuration metric.Float64Histogram

	// --- Gauges ---

	// ActiveSessions tracks the number of live voice sessions.
	ActiveSessions metric.Int64UpDownCounter

	// QueueDepth tracks segments waiting in the playback queue.
	QueueDepth metric.Int64UpDownCounter
}

// durationBuckets defines histogram bucket boundaries (in seconds) optimised
// for speech segment and capture-burst lengths.
var durationBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Counters.
	if met.FragmentsReceived, err = m.Int64Counter("voicelink.fragments.received",
		metric.WithDescription("Total inbound audio fragments received from the voice service."),
	); err != nil {
		return nil, err
	}
	if met.SegmentsFlushed, err = m.Int64Counter("voicelink.segments.flushed",
		metric.WithDescription("Total playback segments produced by the reassembly buffer."),
	); err != nil {
		return nil, err
	}
	if met.SegmentsPlayed, err = m.Int64Counter("voicelink.segments.played",
		metric.WithDescription("Total segments handed to the output device, by status."),
	); err != nil {
		return nil, err
	}
	if met.AudioSent, err = m.Int64Counter("voicelink.audio.sent",
		metric.WithDescription("Total outbound capture blobs, by format and status."),
	); err != nil {
		return nil, err
	}
	if met.TransportErrors, err = m.Int64Counter("voicelink.transport.errors",
		metric.WithDescription("Total transport failures and malformed inbound messages, by kind."),
	); err != nil {
		return nil, err
	}

	// Histograms.
	if met.SegmentDuration, err = m.Float64Histogram("voicelink.segment.duration",
		metric.WithDescription("Audio length of flushed playback segments."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBuckets...),
	); err != nil {
		return nil, err
	}
	if met.CaptureDuration, err = m.Float64Histogram("voicelink.capture.duration",
		metric.WithDescription("Wall-clock length of microphone capture bursts."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBuckets...),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("voicelink.active_sessions",
		metric.WithDescription("Number of live voice sessions."),
	); err != nil {
		return nil, err
	}
	if met.QueueDepth, err = m.Int64UpDownCounter("voicelink.queue_depth",
		metric.WithDescription("Segments waiting in the playback queue."),
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

// RecordSegmentPlayed records a segment playback attempt with the standard
// status attribute ("ok" or "error").
func (m *Metrics) RecordSegmentPlayed(ctx context.Context, status string) {
	m.SegmentsPlayed.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordAudioSent records an outbound capture blob with the standard
// attribute set.
func (m *Metrics) RecordAudioSent(ctx context.Context, format, status string) {
	m.AudioSent.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("format", format),
			attribute.String("status", status),
		),
	)
}

// RecordTransportError records a transport failure counter increment.
func (m *Metrics) RecordTransportError(ctx context.Context, kind string) {
	m.TransportErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}
