package spectral

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RyanBlaney/zumbido/algorithms/common"
	"github.com/RyanBlaney/zumbido/algorithms/windowing"
	"github.com/RyanBlaney/zumbido/capture"
	"github.com/RyanBlaney/zumbido/logging"
)

func sineWindow(freq, amp float64, sampleRate, size int) capture.AnalysisWindow {
	samples := make([]float64, size)
	for i := range samples {
		samples[i] = amp * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate))
	}
	return capture.AnalysisWindow{
		Samples:    samples,
		SampleRate: sampleRate,
		Index:      7,
		Timestamp:  time.Unix(1700000000, 0),
	}
}

func newTestAnalyzer(t *testing.T, config AnalyzerConfig) *Analyzer {
	t.Helper()
	a, err := NewAnalyzer(config, &logging.NoOpLogger{})
	require.NoError(t, err)
	return a
}

func TestBinMappingIsDeterministic(t *testing.T) {
	tests := []struct {
		name       string
		sampleRate int
		windowSize int
		fftSize    int
	}{
		{"44100/1024", 44100, 1024, 0},
		{"48000/2048", 48000, 2048, 0},
		{"44100/1024 padded", 44100, 1024, 8192},
		{"odd window", 8000, 1000, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestAnalyzer(t, AnalyzerConfig{
				SampleRate: tt.sampleRate,
				WindowSize: tt.windowSize,
				FFTSize:    tt.fftSize,
			})

			transform := tt.fftSize
			if transform == 0 {
				transform = tt.windowSize
			}

			spec, err := a.Analyze(sineWindow(100, 0.1, tt.sampleRate, tt.windowSize))
			require.NoError(t, err)

			assert.Equal(t, transform/2+1, spec.Len())
			assert.Equal(t, a.BinCount(), spec.Len())
			for i, bin := range spec.Bins {
				want := float64(i) * float64(tt.sampleRate) / float64(transform)
				require.InDelta(t, want, bin.Frequency, 1e-9)
				require.GreaterOrEqual(t, bin.Magnitude, 0.0)
			}
			assert.LessOrEqual(t, spec.Bins[spec.Len()-1].Frequency, float64(tt.sampleRate)/2)
		})
	}
}

func TestAnalyzeFindsBinCentredTone(t *testing.T) {
	a := newTestAnalyzer(t, AnalyzerConfig{SampleRate: 8000, WindowSize: 1024, Window: windowing.Hann})

	// 1000 Hz lands exactly on bin 128
	spec, err := a.Analyze(sineWindow(1000, 0.5, 8000, 1024))
	require.NoError(t, err)

	peak := 0
	for i, b := range spec.Bins {
		if b.Magnitude > spec.Bins[peak].Magnitude {
			peak = i
		}
	}
	assert.Equal(t, 128, peak)
	assert.InDelta(t, 1000.0, spec.Bins[peak].Frequency, 1e-9)
	assert.InDelta(t, 0.5, spec.Amplitude(spec.Bins[peak].Magnitude), 1e-6)
	assert.Equal(t, uint64(7), spec.WindowIndex)
	assert.Equal(t, 128, spec.IndexOf(1001))
}

func TestAnalyzeIsRepeatable(t *testing.T) {
	a := newTestAnalyzer(t, AnalyzerConfig{SampleRate: 44100, WindowSize: 1024, FFTSize: 4096})
	w := sineWindow(60, 0.3, 44100, 1024)

	first, err := a.Analyze(w)
	require.NoError(t, err)
	second, err := a.Analyze(w)
	require.NoError(t, err)

	assert.Equal(t, first.Bins, second.Bins)
}

func TestAnalyzeDoesNotModifyInput(t *testing.T) {
	a := newTestAnalyzer(t, AnalyzerConfig{SampleRate: 8000, WindowSize: 256})
	w := sineWindow(500, 1, 8000, 256)
	before := append([]float64(nil), w.Samples...)

	_, err := a.Analyze(w)
	require.NoError(t, err)
	assert.Equal(t, before, w.Samples)
}

func TestAnalyzeRejectsMalformedWindow(t *testing.T) {
	a := newTestAnalyzer(t, AnalyzerConfig{SampleRate: 44100, WindowSize: 1024})

	_, err := a.Analyze(sineWindow(60, 1, 44100, 512))
	var analysisErr *common.AnalysisError
	require.ErrorAs(t, err, &analysisErr)
	assert.Equal(t, "spectral", analysisErr.Stage)

	_, err = a.Analyze(sineWindow(60, 1, 48000, 1024))
	assert.ErrorAs(t, err, &analysisErr)
}

func TestNewAnalyzerValidation(t *testing.T) {
	tests := []struct {
		name   string
		config AnalyzerConfig
	}{
		{"zero rate", AnalyzerConfig{SampleRate: 0, WindowSize: 1024}},
		{"tiny window", AnalyzerConfig{SampleRate: 44100, WindowSize: 1}},
		{"fft below window", AnalyzerConfig{SampleRate: 44100, WindowSize: 1024, FFTSize: 512}},
		{"unknown window", AnalyzerConfig{SampleRate: 44100, WindowSize: 1024, Window: "gauss"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewAnalyzer(tt.config, nil)
			assert.True(t, common.IsConfigurationError(err), "got %v", err)
		})
	}
}

func TestAutoTransformSize(t *testing.T) {
	// 43 Hz bins are too coarse for a 4 Hz band, 16384 gives ~2.7 Hz
	assert.Equal(t, 16384, AutoTransformSize(44100, 1024, 4))
	assert.Equal(t, 1024, AutoTransformSize(44100, 1024, 50))
	assert.Equal(t, 2048, AutoTransformSize(44100, 2048, 0))
}
