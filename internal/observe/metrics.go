// Package observe provides application-wide observability primitives for the
// roleplay service: OpenTelemetry metrics, tracing, trace-aware logging and
// the HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and scraped via
// the Prometheus exporter bridge set up by [InitProvider]. A package-level
// [DefaultMetrics] instance is provided for convenience; tests should use
// [NewMetrics] with their own [metric.MeterProvider].
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/MrWong99/roleplay"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Session lifecycle ---

	// SessionsStarted counts sessions that entered the active phase.
	SessionsStarted metric.Int64Counter

	// SessionsEnded counts sessions that were ended and archived.
	SessionsEnded metric.Int64Counter

	// ActiveSessions is 1 while a session is active.
	ActiveSessions metric.Int64UpDownCounter

	// Utterances counts transcript appends. Use with attribute:
	//   attribute.String("speaker", ...)
	Utterances metric.Int64Counter

	// ScorePasses counts scoring passes that moved at least one sub-score.
	ScorePasses metric.Int64Counter

	// ChannelConnects counts connection attempts to the media service. Use
	// with attribute:
	//   attribute.String("status", "ok"|"error")
	ChannelConnects metric.Int64Counter

	// --- Upstream calls ---

	// AnalysisDuration tracks the latency of deep-analysis requests.
	AnalysisDuration metric.Float64Histogram

	// AnalysisRequests counts deep-analysis requests. Use with attribute:
	//   attribute.String("status", ...)
	AnalysisRequests metric.Int64Counter

	// TokensIssued counts access tokens minted. Use with attribute:
	//   attribute.String("status", ...)
	TokensIssued metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes:
	//   attribute.String("method", ...), attribute.String("route", ...), attribute.Int("status", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// analysisBuckets are histogram boundaries (in seconds) sized for language
// model round trips.
var analysisBuckets = []float64{
	0.5, 1, 2.5, 5, 10, 20, 30, 60, 120,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider].
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Session lifecycle.
	if met.SessionsStarted, err = m.Int64Counter("roleplay.sessions.started",
		metric.WithDescription("Total roleplay sessions started."),
	); err != nil {
		return nil, err
	}
	if met.SessionsEnded, err = m.Int64Counter("roleplay.sessions.ended",
		metric.WithDescription("Total roleplay sessions ended and archived."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("roleplay.active_sessions",
		metric.WithDescription("Number of currently active roleplay sessions."),
	); err != nil {
		return nil, err
	}
	if met.Utterances, err = m.Int64Counter("roleplay.utterances",
		metric.WithDescription("Total transcript utterances by speaker."),
	); err != nil {
		return nil, err
	}
	if met.ScorePasses, err = m.Int64Counter("roleplay.score.passes",
		metric.WithDescription("Total scoring passes that changed at least one sub-score."),
	); err != nil {
		return nil, err
	}
	if met.ChannelConnects, err = m.Int64Counter("roleplay.channel.connects",
		metric.WithDescription("Total media service connection attempts by status."),
	); err != nil {
		return nil, err
	}

	// Upstream calls.
	if met.AnalysisDuration, err = m.Float64Histogram("roleplay.analysis.duration",
		metric.WithDescription("Latency of deep-analysis language model requests."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(analysisBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AnalysisRequests, err = m.Int64Counter("roleplay.analysis.requests",
		metric.WithDescription("Total deep-analysis requests by status."),
	); err != nil {
		return nil, err
	}
	if met.TokensIssued, err = m.Int64Counter("roleplay.tokens.issued",
		metric.WithDescription("Total media service access tokens issued by status."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("roleplay.http.request.duration",
		metric.WithDescription("HTTP request latency by method, route, and status."),
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

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails, which does not happen with the global provider.
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

// Status values used with the "status" attribute.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// StatusOf maps err to [StatusOK] or [StatusError].
func StatusOf(err error) string {
	if err != nil {
		return StatusError
	}
	return StatusOK
}

// RecordUtterance records one transcript append.
func (m *Metrics) RecordUtterance(ctx context.Context, speaker string) {
	m.Utterances.Add(ctx, 1, metric.WithAttributes(attribute.String("speaker", speaker)))
}

// RecordChannelConnect records one connection attempt.
func (m *Metrics) RecordChannelConnect(ctx context.Context, err error) {
	m.ChannelConnects.Add(ctx, 1, metric.WithAttributes(attribute.String("status", StatusOf(err))))
}

// RecordAnalysis records the outcome and latency of one analysis request.
func (m *Metrics) RecordAnalysis(ctx context.Context, status string, seconds float64) {
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.AnalysisRequests.Add(ctx, 1, attrs)
	m.AnalysisDuration.Record(ctx, seconds, attrs)
}

// RecordTokenIssued records one token issuance attempt.
func (m *Metrics) RecordTokenIssued(ctx context.Context, err error) {
	m.TokensIssued.Add(ctx, 1, metric.WithAttributes(attribute.String("status", StatusOf(err))))
}
