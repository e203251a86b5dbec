// Package observe provides the observability primitives of clipforge:
// OpenTelemetry metrics and tracing, trace-aware logging, and the HTTP
// middleware of the ops endpoint.
//
// Metrics are recorded through the OpenTelemetry Metrics API and can be
// scraped in Prometheus format once [InitProvider] has run. [DefaultMetrics]
// returns a package-level instance bound to the global provider; tests should
// use [NewMetrics] with their own [metric.MeterProvider].
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope of every clipforge metric.
const meterName = "github.com/MrWong99/clipforge"

// Pipeline stages, used as the "stage" attribute.
const (
	StageLoad    = "load"
	StageAudio   = "audio"
	StageVideo   = "video"
	StageMerge   = "merge"
	StageVerify  = "verify"
	StageCatalog = "catalog"
)

// Artifact outcomes, used as the "outcome" attribute.
const (
	OutcomeWritten = "written"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)

// Metrics holds the metric instruments of the clip pipeline. All fields are
// safe for concurrent use.
type Metrics struct {
	// StageDuration tracks the wall time of one pipeline stage of one segment.
	// Attributes: stage.
	StageDuration metric.Float64Histogram

	// Artifacts counts artifact outcomes. Attributes: kind, outcome.
	Artifacts metric.Int64Counter

	// SegmentFailures counts segments abandoned after an error.
	// Attributes: stage.
	SegmentFailures metric.Int64Counter

	// EncoderRuns counts external encoder invocations. Attributes: tool, status.
	EncoderRuns metric.Int64Counter

	// ActiveWorkers tracks segments currently being processed.
	ActiveWorkers metric.Int64UpDownCounter

	// HTTPRequestDuration tracks ops endpoint latency. Attributes: method, path.
	HTTPRequestDuration metric.Float64Histogram
}

// stageBuckets are histogram boundaries in seconds; encodes of long clips
// take tens of seconds.
var stageBuckets = []float64{
	0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.StageDuration, err = m.Float64Histogram("clipforge.stage.duration",
		metric.WithDescription("Duration of one pipeline stage for one segment."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(stageBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Artifacts, err = m.Int64Counter("clipforge.artifacts",
		metric.WithDescription("Artifacts by kind and outcome."),
	); err != nil {
		return nil, err
	}
	if met.SegmentFailures, err = m.Int64Counter("clipforge.segment.failures",
		metric.WithDescription("Segments abandoned after an error, by failing stage."),
	); err != nil {
		return nil, err
	}
	if met.EncoderRuns, err = m.Int64Counter("clipforge.encoder.runs",
		metric.WithDescription("External encoder invocations by tool and status."),
	); err != nil {
		return nil, err
	}
	if met.ActiveWorkers, err = m.Int64UpDownCounter("clipforge.active_workers",
		metric.WithDescription("Segments currently being processed."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("clipforge.http.request.duration",
		metric.WithDescription("Ops endpoint latency by method and path."),
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

// DefaultMetrics returns the package-level [Metrics] bound to
// [otel.GetMeterProvider]. It panics if instrument creation fails.
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

// RecordStage records the duration of stage since start.
func (m *Metrics) RecordStage(ctx context.Context, stage string, start time.Time) {
	m.StageDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("stage", stage)),
	)
}

// RecordArtifact counts one artifact outcome.
func (m *Metrics) RecordArtifact(ctx context.Context, kind, outcome string) {
	m.Artifacts.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("outcome", outcome),
		),
	)
}

// RecordSegmentFailure counts one abandoned segment.
func (m *Metrics) RecordSegmentFailure(ctx context.Context, stage string) {
	m.SegmentFailures.Add(ctx, 1,
		metric.WithAttributes(attribute.String("stage", stage)),
	)
}

// RecordEncoderRun counts one encoder invocation.
func (m *Metrics) RecordEncoderRun(ctx context.Context, tool, status string) {
	m.EncoderRuns.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", status),
		),
	)
}
