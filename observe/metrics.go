// Package observe provides the monitor's OpenTelemetry metrics and the
// Prometheus bridge that exposes them on /metrics.
//
// Tests should build a Metrics with NewMetrics over their own
// MeterProvider; DefaultMetrics uses the global one.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/RyanBlaney/zumbido/algorithms/harmonic"
	"github.com/RyanBlaney/zumbido/detect"
)

const meterName = "github.com/RyanBlaney/zumbido"

// Metrics holds every instrument the pipeline records into. All fields are
// safe for concurrent use.
type Metrics struct {
	// FramesCaptured counts frames read from the audio source, by device
	FramesCaptured metric.Int64Counter

	// SamplesDropped counts samples lost to overruns. Attribute "reason"
	// is "overrun" (device side) or "buffer" (frame buffer policy).
	SamplesDropped metric.Int64Counter

	WindowsAnalyzed metric.Int64Counter

	// AnalysisDuration is the time from window to tracker decision
	AnalysisDuration metric.Float64Histogram

	NoiseFloor metric.Float64Gauge

	// InputLevel is the filtered RMS level in dBFS
	InputLevel metric.Float64Gauge

	// Prominence records each band's peak prominence per cycle
	Prominence metric.Float64Histogram

	// Detections counts qualifying peaks per band
	Detections metric.Int64Counter

	StateChanges metric.Int64Counter

	AlertsRaised  metric.Int64Counter
	AlertsCleared metric.Int64Counter
	ActiveAlerts  metric.Int64UpDownCounter

	SinkErrors metric.Int64Counter
}

var analysisBuckets = []float64{
	0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1,
}

var prominenceBuckets = []float64{
	1, 1.5, 2, 3, 5, 10, 20, 50, 100, 1000,
}

// NewMetrics creates every instrument from mp
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.FramesCaptured, err = m.Int64Counter("zumbido.frames.captured",
		metric.WithDescription("Audio frames read from the capture device."),
	); err != nil {
		return nil, err
	}
	if met.SamplesDropped, err = m.Int64Counter("zumbido.samples.dropped",
		metric.WithDescription("Samples lost to device or buffer overruns."),
	); err != nil {
		return nil, err
	}
	if met.WindowsAnalyzed, err = m.Int64Counter("zumbido.windows.analyzed",
		metric.WithDescription("Analysis windows processed."),
	); err != nil {
		return nil, err
	}
	if met.AnalysisDuration, err = m.Float64Histogram("zumbido.analysis.duration",
		metric.WithDescription("Time to analyse one window."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(analysisBuckets...),
	); err != nil {
		return nil, err
	}
	if met.NoiseFloor, err = m.Float64Gauge("zumbido.noise_floor",
		metric.WithDescription("Smoothed out-of-band noise floor magnitude."),
	); err != nil {
		return nil, err
	}
	if met.InputLevel, err = m.Float64Gauge("zumbido.input.level",
		metric.WithDescription("Filtered RMS input level."),
		metric.WithUnit("dBFS"),
	); err != nil {
		return nil, err
	}
	if met.Prominence, err = m.Float64Histogram("zumbido.band.prominence",
		metric.WithDescription("Peak prominence over the noise floor per band."),
		metric.WithExplicitBucketBoundaries(prominenceBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Detections, err = m.Int64Counter("zumbido.band.detections",
		metric.WithDescription("Cycles in which a band crossed the threshold."),
	); err != nil {
		return nil, err
	}
	if met.StateChanges, err = m.Int64Counter("zumbido.state.changes",
		metric.WithDescription("Detection state transitions by band, from and to."),
	); err != nil {
		return nil, err
	}
	if met.AlertsRaised, err = m.Int64Counter("zumbido.alerts.raised",
		metric.WithDescription("Hum alerts raised."),
	); err != nil {
		return nil, err
	}
	if met.AlertsCleared, err = m.Int64Counter("zumbido.alerts.cleared",
		metric.WithDescription("Hum alerts cleared."),
	); err != nil {
		return nil, err
	}
	if met.ActiveAlerts, err = m.Int64UpDownCounter("zumbido.alerts.active",
		metric.WithDescription("Alerts raised and not yet cleared."),
	); err != nil {
		return nil, err
	}
	if met.SinkErrors, err = m.Int64Counter("zumbido.sink.errors",
		metric.WithDescription("Alert sink delivery failures by sink."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns a package-level Metrics on the global provider.
// Instruments are bound at first call, so InitProvider must run first for
// them to be exported.
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

func deviceAttr(device string) attribute.KeyValue {
	return attribute.String("device", device)
}

// RecordFrame counts one captured frame
func (m *Metrics) RecordFrame(ctx context.Context, device string) {
	m.FramesCaptured.Add(ctx, 1, metric.WithAttributes(deviceAttr(device)))
}

// RecordDropped counts lost samples
func (m *Metrics) RecordDropped(ctx context.Context, device, reason string, samples int) {
	if samples <= 0 {
		return
	}
	m.SamplesDropped.Add(ctx, int64(samples), metric.WithAttributes(
		deviceAttr(device),
		attribute.String("reason", reason),
	))
}

// RecordCycle records one analysed window and its band readings
func (m *Metrics) RecordCycle(ctx context.Context, device string, cycle harmonic.Cycle, elapsed time.Duration) {
	dev := metric.WithAttributes(deviceAttr(device))
	m.WindowsAnalyzed.Add(ctx, 1, dev)
	m.AnalysisDuration.Record(ctx, elapsed.Seconds(), dev)
	m.NoiseFloor.Record(ctx, cycle.NoiseFloor, dev)

	for _, r := range cycle.Readings {
		attrs := metric.WithAttributes(deviceAttr(device), attribute.String("band", r.Peak.Band.Name))
		m.Prominence.Record(ctx, r.Peak.Prominence, attrs)
		if r.Qualified {
			m.Detections.Add(ctx, 1, attrs)
		}
	}
}

// RecordLevel sets the filtered input level gauge
func (m *Metrics) RecordLevel(ctx context.Context, device string, dbfs float64) {
	m.InputLevel.Record(ctx, dbfs, metric.WithAttributes(deviceAttr(device)))
}

// RecordChange counts one tracker transition
func (m *Metrics) RecordChange(ctx context.Context, device string, change detect.StateChange) {
	m.StateChanges.Add(ctx, 1, metric.WithAttributes(
		deviceAttr(device),
		attribute.String("band", change.Band),
		attribute.String("from", change.From.String()),
		attribute.String("to", change.To.String()),
	))
}

// RecordEvent counts a raised or cleared alert and tracks the active total
func (m *Metrics) RecordEvent(ctx context.Context, event detect.AlertEvent) {
	attrs := metric.WithAttributes(
		deviceAttr(event.Device),
		attribute.StringSlice("bands", event.Bands),
	)
	switch event.Direction {
	case detect.Raised:
		m.AlertsRaised.Add(ctx, 1, attrs)
		m.ActiveAlerts.Add(ctx, 1, metric.WithAttributes(deviceAttr(event.Device)))
	case detect.Cleared:
		m.AlertsCleared.Add(ctx, 1, attrs)
		m.ActiveAlerts.Add(ctx, -1, metric.WithAttributes(deviceAttr(event.Device)))
	}
}

// RecordSinkError counts a failed delivery
func (m *Metrics) RecordSinkError(ctx context.Context, sink string) {
	m.SinkErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("sink", sink)))
}
