// Package monitor runs the detection pipeline for one or more capture
// devices: acquisition into a frame buffer on one goroutine, spectral
// analysis, peak detection and persistence tracking on another, with alert
// transitions fanned out to sinks.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/RyanBlaney/zumbido/algorithms/filters"
	"github.com/RyanBlaney/zumbido/algorithms/harmonic"
	"github.com/RyanBlaney/zumbido/algorithms/spectral"
	"github.com/RyanBlaney/zumbido/algorithms/temporal"
	"github.com/RyanBlaney/zumbido/algorithms/windowing"
	"github.com/RyanBlaney/zumbido/capture"
	"github.com/RyanBlaney/zumbido/configs"
	"github.com/RyanBlaney/zumbido/detect"
	"github.com/RyanBlaney/zumbido/logging"
	"github.com/RyanBlaney/zumbido/observe"
	"github.com/RyanBlaney/zumbido/sink"
)

const (
	// overrunLogInterval limits overrun warnings to one per interval
	overrunLogInterval = 5 * time.Second

	// DefaultSinkTimeout bounds a single delivery to a single sink
	DefaultSinkTimeout = 5 * time.Second
)

// Settings are the pipeline parameters fixed for a session
type Settings struct {
	WindowSize     int // 0 means the source frame size
	HopSize        int // 0 means WindowSize
	FFTSize        int // 0 means the smallest size resolving the narrowest band
	Window         windowing.Kind
	BufferWindows  int
	OverrunPolicy  capture.OverrunPolicy
	PreFilter      bool
	Bands          []filters.TargetBand
	Detector       harmonic.DetectorConfig
	NoiseAlpha     float64
	NoiseQuantile  float64
	Tracker        detect.TrackerConfig
	StatusInterval time.Duration // 0 disables status lines
	SinkTimeout    time.Duration // per delivery, 0 waits for the sink
}

func DefaultSettings() Settings {
	return Settings{
		Window:         windowing.Hann,
		BufferWindows:  8,
		OverrunPolicy:  capture.DropOldest,
		Bands:          filters.DefaultBands(),
		Detector:       harmonic.DefaultDetectorConfig(),
		NoiseAlpha:     harmonic.DefaultNoiseAlpha,
		NoiseQuantile:  harmonic.DefaultNoiseQuantile,
		Tracker:        detect.DefaultTrackerConfig(),
		StatusInterval: 5 * time.Second,
		SinkTimeout:    DefaultSinkTimeout,
	}
}

// SettingsFromConfig derives the settings for one device. The config must
// already be validated.
func SettingsFromConfig(c *configs.Config, device string) Settings {
	s := DefaultSettings()
	s.WindowSize = c.EffectiveWindowSize()
	s.HopSize = c.HopSize
	s.FFTSize = c.FFTSize
	s.Window, _ = windowing.ParseKind(c.WindowFunction)
	s.BufferWindows = c.BufferWindows
	s.OverrunPolicy, _ = capture.ParseOverrunPolicy(c.OverrunPolicy)
	s.PreFilter = c.PreFilter
	s.Bands = c.Bands()
	s.Detector.Threshold = c.DetectionThreshold
	s.NoiseAlpha = c.NoiseAlpha
	s.NoiseQuantile = c.NoiseQuantile
	s.Tracker = c.TrackerConfig(device)
	s.StatusInterval = c.StatusEvery()
	s.SinkTimeout = c.SinkDeadline()
	return s
}

// Summary describes a finished or running session
type Summary struct {
	Device         string                   `json:"device"`
	Started        time.Time                `json:"started"`
	Runtime        time.Duration            `json:"runtime"`
	Frames         uint64                   `json:"frames"`
	Windows        uint64                   `json:"windows"`
	Detections     uint64                   `json:"detections"`
	AlertsRaised   int                      `json:"alerts_raised"`
	AlertsCleared  int                      `json:"alerts_cleared"`
	DeviceOverruns int                      `json:"device_overruns"`
	Buffer         capture.FrameBufferStats `json:"buffer"`
}

// Option customises a Monitor
type Option func(*Monitor)

// WithSink adds an alert sink. Sinks that implement sink.FrameObserver
// also receive every captured frame.
func WithSink(s detect.AlertSink) Option {
	return func(m *Monitor) {
		m.sinks.Add(s)
	}
}

func WithMetrics(metrics *observe.Metrics) Option {
	return func(m *Monitor) {
		m.metrics = metrics
	}
}

func WithLogger(logger logging.Logger) Option {
	return func(m *Monitor) {
		m.logger = logger
	}
}

// Monitor owns one device's pipeline. Each Monitor has its own noise floor
// and trackers.
type Monitor struct {
	device   string
	source   capture.Source
	settings Settings
	sinks    *sink.Multi
	metrics  *observe.Metrics
	logger   logging.Logger

	buffer    *capture.FrameBuffer
	analyzer  *spectral.Analyzer
	bank      *filters.FilterBank
	detector  *harmonic.PeakDetector
	tracker   *detect.Tracker
	prefilter *filters.PreFilter

	// mu guards what the status reporter reads across goroutines
	mu       sync.Mutex
	energy   *temporal.Energy
	summary  Summary
	statuses []detect.BandStatus

	overruns throttle
}

// New builds the pipeline for source at the source's sample rate. Run
// takes ownership of the source; sinks stay owned by the caller.
func New(source capture.Source, settings Settings, opts ...Option) (*Monitor, error) {
	m := &Monitor{
		source:   source,
		settings: settings,
		sinks:    sink.NewMulti(),
		overruns: throttle{every: overrunLogInterval},
	}
	for _, opt := range opts {
		opt(m)
	}
	m.sinks.SetTimeout(settings.SinkTimeout)

	m.device = settings.Tracker.Device
	if m.device == "" {
		m.device = "default"
	}
	m.logger = logging.OrGlobal(m.logger).WithFields(logging.Fields{
		"component": "monitor",
		"device":    m.device,
	})
	if m.metrics == nil {
		m.metrics = observe.DefaultMetrics()
	}

	format := source.Format()
	bands := make([]filters.TargetBand, len(settings.Bands))
	for i, b := range settings.Bands {
		bands[i] = b.Normalized()
	}

	window := settings.WindowSize
	if window == 0 {
		window = format.FrameSize
	}
	fftSize := settings.FFTSize
	if fftSize == 0 {
		fftSize = spectral.AutoTransformSize(format.SampleRate, window, filters.NarrowestWidth(bands))
	}

	var err error
	m.analyzer, err = spectral.NewAnalyzer(spectral.AnalyzerConfig{
		SampleRate: format.SampleRate,
		WindowSize: window,
		FFTSize:    fftSize,
		Window:     settings.Window,
	}, m.logger)
	if err != nil {
		return nil, err
	}
	m.bank, err = filters.NewFilterBank(bands, m.analyzer.Resolution(), m.analyzer.Nyquist())
	if err != nil {
		return nil, err
	}
	m.detector, err = harmonic.NewPeakDetector(settings.Detector, harmonic.NewNoiseFloor(settings.NoiseAlpha, settings.NoiseQuantile), m.logger)
	if err != nil {
		return nil, err
	}
	m.tracker, err = detect.NewTracker(settings.Tracker, bands, m.logger)
	if err != nil {
		return nil, err
	}

	bufferWindows := max(settings.BufferWindows, 1)
	m.buffer, err = capture.NewFrameBuffer(capture.FrameBufferConfig{
		SampleRate: format.SampleRate,
		WindowSize: window,
		HopSize:    settings.HopSize,
		Capacity:   bufferWindows * window,
		Policy:     settings.OverrunPolicy,
	})
	if err != nil {
		return nil, err
	}

	if settings.PreFilter {
		m.prefilter = filters.NewPreFilter(format.SampleRate, bands)
	}
	m.energy = temporal.NewEnergy(format.SampleRate, temporal.DefaultCutoff)
	m.summary.Device = m.device
	m.statuses = m.tracker.Snapshot()

	m.logger.Debug("Pipeline ready", logging.Fields{
		"sample_rate": format.SampleRate,
		"window_size": window,
		"hop_size":    m.buffer.Config().HopSize,
		"fft_size":    fftSize,
		"resolution":  m.analyzer.Resolution(),
		"bands":       len(bands),
		"sinks":       m.sinks.Len(),
	})
	return m, nil
}

func (m *Monitor) Device() string {
	return m.device
}

// Close releases the source of a monitor that will never be run. Run
// closes the source itself.
func (m *Monitor) Close() error {
	return m.source.Close()
}

// Run captures and analyses until ctx is done or a finite source ends. A
// cancelled ctx is a clean stop and returns nil; the window in progress is
// finished first. A *capture.DeviceError or *common.AnalysisError aborts
// the session and is returned.
func (m *Monitor) Run(ctx context.Context) error {
	defer m.source.Close()

	m.mu.Lock()
	m.summary.Started = time.Now()
	m.mu.Unlock()

	m.logger.Info("Monitoring started", logging.Fields{
		"threshold": m.detector.Threshold(),
		"bands":     bandNames(m.bank.Bands()),
	})

	g, gctx := errgroup.WithContext(ctx)
	statusCtx, stopStatus := context.WithCancel(gctx)

	g.Go(func() error {
		defer m.buffer.Close()
		return m.acquire(gctx)
	})
	g.Go(func() error {
		defer stopStatus()
		return m.analyze(gctx)
	})
	g.Go(func() error {
		m.report(statusCtx)
		return nil
	})

	err := g.Wait()
	if err != nil && ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		err = nil
	}

	summary := m.Summary()
	fields := logging.Fields{
		"runtime":        summary.Runtime.Round(time.Second).String(),
		"alerts_raised":  summary.AlertsRaised,
		"alerts_cleared": summary.AlertsCleared,
		"windows":        summary.Windows,
		"dropped":        summary.Buffer.SamplesDropped,
	}
	if err != nil {
		m.logger.Error(err, "Monitoring stopped", fields)
	} else {
		m.logger.Info("Monitoring session ended", fields)
	}
	return err
}

func (m *Monitor) acquire(ctx context.Context) error {
	for {
		frame, err := m.source.NextFrame(ctx)
		if err != nil {
			var overrun *capture.OverrunError
			switch {
			case errors.Is(err, io.EOF):
				m.logger.Info("Audio source ended")
				return nil
			case errors.As(err, &overrun):
				m.noteOverrun("device", err)
				if len(frame.Samples) == 0 {
					continue
				}
			case ctx.Err() != nil:
				return ctx.Err()
			default:
				return err
			}
		}

		if err := m.handleFrame(ctx, frame); err != nil {
			return err
		}
	}
}

func (m *Monitor) handleFrame(ctx context.Context, frame capture.AudioFrame) error {
	m.metrics.RecordFrame(ctx, m.device)
	m.sinks.OnFrame(frame)

	m.mu.Lock()
	m.energy.Process(frame.Samples)
	m.summary.Frames++
	m.mu.Unlock()

	if m.prefilter != nil {
		frame.Samples = slices.Clone(frame.Samples)
		m.prefilter.ProcessInPlace(frame.Samples)
	}

	before := m.buffer.Stats().SamplesDropped
	err := m.buffer.Push(frame)

	var rejected *capture.BufferOverrunError
	switch {
	case err == nil:
		if dropped := m.buffer.Stats().SamplesDropped - before; dropped > 0 {
			m.metrics.RecordDropped(ctx, m.device, "buffer", int(dropped))
			m.noteOverrun("buffer", fmt.Errorf("analysis fell behind, dropped %d samples", dropped))
		}
		return nil
	case errors.As(err, &rejected):
		m.metrics.RecordDropped(ctx, m.device, "buffer", rejected.Requested)
		m.noteOverrun("buffer", err)
		return nil
	case errors.Is(err, capture.ErrBufferClosed):
		return nil
	default:
		return err
	}
}

func (m *Monitor) noteOverrun(kind string, err error) {
	if kind == "device" {
		m.mu.Lock()
		m.summary.DeviceOverruns++
		m.mu.Unlock()
	}
	if ok, suppressed := m.overruns.allow(time.Now()); ok {
		m.logger.Warn("Audio overrun", logging.Fields{
			"kind":       kind,
			"error":      err.Error(),
			"suppressed": suppressed,
		})
	}
}

func (m *Monitor) analyze(ctx context.Context) error {
	// transitions reach the sinks even while shutting down
	notifyCtx := context.WithoutCancel(ctx)
	for {
		w, err := m.buffer.Window(ctx)
		if err != nil {
			if errors.Is(err, capture.ErrBufferClosed) {
				return nil
			}
			return err
		}
		if err := m.process(notifyCtx, w); err != nil {
			return err
		}
	}
}

func (m *Monitor) process(ctx context.Context, w capture.AnalysisWindow) error {
	start := time.Now()

	spec, err := m.analyzer.Analyze(w)
	if err != nil {
		return fmt.Errorf("window %d: %w", w.Index, err)
	}
	cycle := m.detector.DetectAll(spec, m.bank)
	result := m.tracker.Observe(cycle)

	m.metrics.RecordCycle(ctx, m.device, cycle, time.Since(start))
	for _, change := range result.Changes {
		m.metrics.RecordChange(ctx, m.device, change)
	}

	m.mu.Lock()
	m.summary.Windows++
	m.summary.Detections += uint64(len(cycle.Qualified()))
	if len(result.Changes) > 0 {
		m.statuses = m.tracker.Snapshot()
	}
	for _, event := range result.Events {
		if event.Direction == detect.Raised {
			m.summary.AlertsRaised++
		} else {
			m.summary.AlertsCleared++
		}
	}
	m.mu.Unlock()

	for _, event := range result.Events {
		m.metrics.RecordEvent(ctx, event)
		m.deliver(ctx, event)
	}
	return nil
}

// deliver hands event to every sink. Failures are logged and counted and
// never feed back into the tracker.
func (m *Monitor) deliver(ctx context.Context, event detect.AlertEvent) {
	err := detect.Notify(ctx, m.sinks, event)
	if err == nil {
		return
	}

	errs := []error{err}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		errs = joined.Unwrap()
	}
	for _, e := range errs {
		name := "unknown"
		var sinkErr *sink.Error
		if errors.As(e, &sinkErr) {
			name = sinkErr.Sink
		}
		m.metrics.RecordSinkError(ctx, name)
		m.logger.Error(e, "Alert sink failed", logging.Fields{
			"sink":      name,
			"alert_id":  event.ID.String(),
			"direction": string(event.Direction),
		})
	}
}

// Summary returns the session counters so far
func (m *Monitor) Summary() Summary {
	m.mu.Lock()
	s := m.summary
	m.mu.Unlock()

	if !s.Started.IsZero() {
		s.Runtime = time.Since(s.Started)
	}
	s.Buffer = m.buffer.Stats()
	return s
}

// States returns each tracked entry as of the last transition
func (m *Monitor) States() []detect.BandStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.statuses)
}

func bandNames(bands []filters.TargetBand) []string {
	names := make([]string, len(bands))
	for i, b := range bands {
		names[i] = b.Name
	}
	return names
}

// throttle lets one event through per interval and counts the rest
type throttle struct {
	every      time.Duration
	last       time.Time
	suppressed int
}

func (t *throttle) allow(now time.Time) (bool, int) {
	if !t.last.IsZero() && now.Sub(t.last) < t.every {
		t.suppressed++
		return false, 0
	}
	suppressed := t.suppressed
	t.last, t.suppressed = now, 0
	return true, suppressed
}
