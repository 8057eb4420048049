// Package observe provides the observability primitives of callsentry:
// OpenTelemetry metrics, tracing, trace-aware logging and the HTTP middleware
// that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and bridged to
// Prometheus by [InitProvider]. A package-level [DefaultMetrics] instance is
// provided for convenience; tests should use [NewMetrics] with their own
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope of all callsentry metrics.
const meterName = "github.com/MrWong99/callsentry"

// Verdict attribute values for [Metrics.Calls].
const (
	VerdictSuspicious = "suspicious"
	VerdictClean      = "clean"
)

// Metrics holds all metric instruments. The OTel instruments handle their
// own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// TickDuration tracks one live evaluation tick end to end.
	TickDuration metric.Float64Histogram

	// STTDuration tracks transcription latency.
	STTDuration metric.Float64Histogram

	// OracleDuration tracks text classifier latency.
	OracleDuration metric.Float64Histogram

	// FinalizeDuration tracks the final pass plus persistence.
	FinalizeDuration metric.Float64Histogram

	// --- Risk ---

	// FusedRisk records the final fused risk of every completed call.
	FusedRisk metric.Float64Histogram

	// --- Counters ---

	// Calls counts completed calls. Use with attribute.String("verdict", ...).
	Calls metric.Int64Counter

	// Alerts counts alert edges fired during live calls.
	Alerts metric.Int64Counter

	// TicksSkipped counts ticks dropped because the previous one was still
	// running.
	TicksSkipped metric.Int64Counter

	// ProviderRequests counts provider calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider failures. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveCalls is 1 while a call is being recorded or finalised.
	ActiveCalls metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time by mux route
	// and status code.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries in seconds sized for remote
// transcription and classification round trips.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

var riskBuckets = []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1}

// NewMetrics creates all instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	histograms := []struct {
		dst     *metric.Float64Histogram
		name    string
		desc    string
		unit    string
		buckets []float64
	}{
		{&met.TickDuration, "callsentry.tick.duration", "Latency of one live evaluation tick.", "s", latencyBuckets},
		{&met.STTDuration, "callsentry.stt.duration", "Latency of transcription requests.", "s", latencyBuckets},
		{&met.OracleDuration, "callsentry.oracle.duration", "Latency of text classifier requests.", "s", latencyBuckets},
		{&met.FinalizeDuration, "callsentry.finalize.duration", "Latency of the final pass and persistence.", "s", latencyBuckets},
		{&met.FusedRisk, "callsentry.fused_risk", "Final fused risk of completed calls.", "1", riskBuckets},
	}
	for _, h := range histograms {
		if *h.dst, err = m.Float64Histogram(h.name,
			metric.WithDescription(h.desc),
			metric.WithUnit(h.unit),
			metric.WithExplicitBucketBoundaries(h.buckets...),
		); err != nil {
			return nil, err
		}
	}

	if met.Calls, err = m.Int64Counter("callsentry.calls",
		metric.WithDescription("Completed calls by verdict."),
	); err != nil {
		return nil, err
	}
	if met.Alerts, err = m.Int64Counter("callsentry.alerts",
		metric.WithDescription("High-risk alerts fired during live calls."),
	); err != nil {
		return nil, err
	}
	if met.TicksSkipped, err = m.Int64Counter("callsentry.ticks.skipped",
		metric.WithDescription("Ticks skipped because the previous tick was still running."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("callsentry.provider.requests",
		metric.WithDescription("Provider requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("callsentry.provider.errors",
		metric.WithDescription("Provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	if met.ActiveCalls, err = m.Int64UpDownCounter("callsentry.active_calls",
		metric.WithDescription("Number of calls being recorded or finalised."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("callsentry.http.request.duration",
		metric.WithDescription("HTTP request latency by route and status."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics], creating it on first
// use from [otel.GetMeterProvider]. Panics if instrument creation fails.
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

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest increments ProviderRequests with the standard
// attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError increments ProviderErrors.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordCall records a completed call's verdict and fused risk.
func (m *Metrics) RecordCall(ctx context.Context, fusedRisk float64, suspicious bool) {
	verdict := VerdictClean
	if suspicious {
		verdict = VerdictSuspicious
	}
	m.Calls.Add(ctx, 1, metric.WithAttributes(attribute.String("verdict", verdict)))
	m.FusedRisk.Record(ctx, fusedRisk)
}
