package spectral

import (
	"fmt"

	"github.com/RyanBlaney/zumbido/algorithms/common"
	"github.com/RyanBlaney/zumbido/algorithms/windowing"
	"github.com/RyanBlaney/zumbido/capture"
	"github.com/RyanBlaney/zumbido/logging"
)

// maxTransformSize bounds automatic zero padding
const maxTransformSize = 1 << 20

// AnalyzerConfig holds the parameters fixed for a session
type AnalyzerConfig struct {
	SampleRate int            `json:"sample_rate"`
	WindowSize int            `json:"window_size"`
	FFTSize    int            `json:"fft_size"` // 0 means the window size
	Window     windowing.Kind `json:"window_function"`
}

// DefaultAnalyzerConfig returns the settings used by the monitor command
func DefaultAnalyzerConfig() AnalyzerConfig {
	return AnalyzerConfig{
		SampleRate: 44100,
		WindowSize: 1024,
		Window:     windowing.Hann,
	}
}

// AutoTransformSize returns the smallest transform length, starting at
// windowSize and doubling, whose bin spacing is no wider than minBandwidth.
func AutoTransformSize(sampleRate, windowSize int, minBandwidth float64) int {
	size := windowSize
	if minBandwidth <= 0 {
		return size
	}
	for float64(sampleRate)/float64(size) > minBandwidth && size < maxTransformSize {
		size *= 2
	}
	return size
}

// Analyzer turns analysis windows into magnitude spectra. It holds no state
// between calls apart from reusable buffers, so identical windows produce
// identical spectra.
type Analyzer struct {
	config AnalyzerConfig
	window *windowing.Window
	fft    *FFT
	frame  []float64
	logger logging.Logger
}

// NewAnalyzer validates config and precomputes the window coefficients
func NewAnalyzer(config AnalyzerConfig, logger logging.Logger) (*Analyzer, error) {
	if config.SampleRate <= 0 {
		return nil, common.NewConfigError("sample_rate", "must be positive, got %d", config.SampleRate)
	}
	if config.WindowSize < 2 {
		return nil, common.NewConfigError("window_size", "must be at least 2, got %d", config.WindowSize)
	}
	if config.FFTSize == 0 {
		config.FFTSize = config.WindowSize
	}
	if config.FFTSize < config.WindowSize {
		return nil, common.NewConfigError("fft_size", "%d is smaller than window size %d", config.FFTSize, config.WindowSize)
	}
	if config.Window == "" {
		config.Window = windowing.Hann
	}

	window, err := windowing.New(config.Window, config.WindowSize)
	if err != nil {
		return nil, err
	}

	a := &Analyzer{
		config: config,
		window: window,
		fft:    NewFFT(config.FFTSize),
		frame:  make([]float64, config.WindowSize),
		logger: logging.OrGlobal(logger).WithFields(logging.Fields{
			"component": "spectral_analyzer",
		}),
	}

	a.logger.Debug("Spectral analyzer ready", logging.Fields{
		"sample_rate": config.SampleRate,
		"window_size": config.WindowSize,
		"fft_size":    config.FFTSize,
		"window":      string(config.Window),
		"resolution":  a.Resolution(),
	})

	return a, nil
}

// Analyze applies the window function and returns the spectrum of bins
// 0..FFTSize/2. A window of the wrong length or sample rate is an
// AnalysisError: the frame buffer guarantees this never happens.
func (a *Analyzer) Analyze(w capture.AnalysisWindow) (*Spectrum, error) {
	if len(w.Samples) != a.config.WindowSize {
		return nil, &common.AnalysisError{
			Stage:  "spectral",
			Reason: fmt.Sprintf("window length %d, expected %d", len(w.Samples), a.config.WindowSize),
		}
	}
	if w.SampleRate != a.config.SampleRate {
		return nil, &common.AnalysisError{
			Stage:  "spectral",
			Reason: fmt.Sprintf("sample rate %d, expected %d", w.SampleRate, a.config.SampleRate),
		}
	}

	copy(a.frame, w.Samples)
	if err := a.window.ApplyInPlace(a.frame); err != nil {
		return nil, &common.AnalysisError{Stage: "spectral", Reason: err.Error()}
	}

	mags := a.fft.Magnitudes(a.frame)
	bins := make([]Bin, len(mags))
	for i, m := range mags {
		bins[i] = Bin{Frequency: a.BinFrequency(i), Magnitude: m}
	}

	return &Spectrum{
		Bins:           bins,
		Resolution:     a.Resolution(),
		SampleRate:     a.config.SampleRate,
		WindowIndex:    w.Index,
		Timestamp:      w.Timestamp,
		amplitudeScale: 2.0 / (float64(a.config.WindowSize) * a.window.CoherentGain()),
	}, nil
}

// BinFrequency maps bin i to i * sampleRate / transformLength
func (a *Analyzer) BinFrequency(i int) float64 {
	return float64(i) * float64(a.config.SampleRate) / float64(a.config.FFTSize)
}

// BinCount returns the number of bins each spectrum holds
func (a *Analyzer) BinCount() int {
	return a.config.FFTSize/2 + 1
}

// Resolution is the spacing between bin centres in Hz
func (a *Analyzer) Resolution() float64 {
	return float64(a.config.SampleRate) / float64(a.config.FFTSize)
}

// Nyquist returns half the sample rate
func (a *Analyzer) Nyquist() float64 {
	return float64(a.config.SampleRate) / 2
}

// Config returns the effective configuration
func (a *Analyzer) Config() AnalyzerConfig {
	return a.config
}
