package harmonic

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RyanBlaney/zumbido/algorithms/common"
	"github.com/RyanBlaney/zumbido/algorithms/filters"
	"github.com/RyanBlaney/zumbido/algorithms/spectral"
	"github.com/RyanBlaney/zumbido/capture"
	"github.com/RyanBlaney/zumbido/logging"
)

const (
	testRate   = 44100
	testWindow = 1024
)

func newDetector(t *testing.T, threshold float64) *PeakDetector {
	t.Helper()
	config := DefaultDetectorConfig()
	config.Threshold = threshold
	d, err := NewPeakDetector(config, NewNoiseFloor(0.2, DefaultNoiseQuantile), &logging.NoOpLogger{})
	require.NoError(t, err)
	return d
}

// toneWindow returns a window holding a sine of amp (0 for none) plus
// uniform noise of the given peak level.
func toneWindow(rng *rand.Rand, index uint64, freq, amp, noise float64) capture.AnalysisWindow {
	samples := make([]float64, testWindow)
	for i := range samples {
		n := float64(index)*testWindow + float64(i)
		samples[i] = amp*math.Sin(2*math.Pi*freq*n/testRate) + noise*(2*rng.Float64()-1)
	}
	return capture.AnalysisWindow{Samples: samples, SampleRate: testRate, Index: index}
}

func analyzerAndBank(t *testing.T, bands []filters.TargetBand) (*spectral.Analyzer, *filters.FilterBank) {
	t.Helper()
	fftSize := spectral.AutoTransformSize(testRate, testWindow, filters.NarrowestWidth(bands))
	a, err := spectral.NewAnalyzer(spectral.AnalyzerConfig{
		SampleRate: testRate,
		WindowSize: testWindow,
		FFTSize:    fftSize,
	}, &logging.NoOpLogger{})
	require.NoError(t, err)

	bank, err := filters.NewFilterBank(bands, a.Resolution(), a.Nyquist())
	require.NoError(t, err)
	return a, bank
}

func TestNoiseFloorEMA(t *testing.T) {
	nf := NewNoiseFloor(0.2, 0.9)
	assert.False(t, nf.Initialized())
	assert.Equal(t, 0.0, nf.Value())

	assert.InDelta(t, 3.0, nf.Update([]float64{3, 1, 2}), 1e-12)
	assert.InDelta(t, 4.4, nf.Update([]float64{10, 10, 10}), 1e-12)
	assert.InDelta(t, 4.4, nf.Update(nil), 1e-12)
	assert.Equal(t, uint64(2), nf.Updates())

	nf.Reset()
	assert.False(t, nf.Initialized())
	assert.Equal(t, 0.0, nf.Value())
}

func TestNoiseFloorAlphaFallback(t *testing.T) {
	assert.Equal(t, DefaultNoiseAlpha, NewNoiseFloor(0, 0.9).Alpha())
	assert.Equal(t, DefaultNoiseAlpha, NewNoiseFloor(1.5, 0.9).Alpha())
	assert.Equal(t, 1.0, NewNoiseFloor(1, 0.9).Alpha())

	assert.Equal(t, DefaultNoiseQuantile, NewNoiseFloor(0.2, 0).Quantile())
	assert.Equal(t, DefaultNoiseQuantile, NewNoiseFloor(0.2, 1).Quantile())
	assert.Equal(t, 0.5, NewNoiseFloor(0.2, 0.5).Quantile())
}

func TestNoiseFloorMedianQuantile(t *testing.T) {
	nf := NewNoiseFloor(1, 0.5)
	assert.InDelta(t, 2.0, nf.Update([]float64{3, 1, 2}), 1e-12)
}

func TestNoiseFloorInstancesAreIndependent(t *testing.T) {
	a := NewNoiseFloor(0.5, 0.9)
	b := NewNoiseFloor(0.5, 0.9)
	a.Update([]float64{4})
	assert.Equal(t, 4.0, a.Value())
	assert.Equal(t, 0.0, b.Value())
}

func TestDetectProminence(t *testing.T) {
	d := newDetector(t, 3.0)
	band := filters.NewBand(60, 2)
	slice := filters.Slice{
		Band:   band,
		Offset: 58,
		Bins: []spectral.Bin{
			{Frequency: 58, Magnitude: 1},
			{Frequency: 59, Magnitude: 2},
			{Frequency: 60, Magnitude: 10},
			{Frequency: 61, Magnitude: 2},
			{Frequency: 62, Magnitude: 1},
		},
	}

	obs, ok := d.Detect(band, slice, 2)
	require.True(t, ok)
	assert.InDelta(t, 5.0, obs.Prominence, 1e-12)
	assert.InDelta(t, 60.0, obs.Frequency, 1e-12)
	assert.Equal(t, 60, obs.Bin)
	assert.Equal(t, 10.0, obs.Magnitude)

	_, ok = d.Detect(band, slice, 5)
	assert.False(t, ok, "prominence equal to the threshold does not qualify")

	obs, ok = d.Detect(band, slice, 0)
	require.True(t, ok, "a zero floor is guarded by epsilon")
	assert.False(t, math.IsInf(obs.Prominence, 0))

	_, ok = d.Detect(band, filters.Slice{Band: band}, 1)
	assert.False(t, ok)
}

func TestDetectRejectsFlankOfNeighbouringTone(t *testing.T) {
	d := newDetector(t, 3.0)
	band := filters.NewBand(50, 3)
	slice := filters.Slice{
		Band:   band,
		Offset: 9,
		Bins: []spectral.Bin{
			{Frequency: 48.4, Magnitude: 30},
		},
		Below: 4,
		Above: 200,
	}

	_, ok := d.Detect(band, slice, 1)
	assert.False(t, ok, "leakage from the bin above is not a peak")

	slice.Above = 10
	obs, ok := d.Detect(band, slice, 1)
	require.True(t, ok)
	assert.Equal(t, 9, obs.Bin)
}

func TestDetectAllOnlyQualifiesTheToneBand(t *testing.T) {
	rng := rand.New(rand.NewPCG(9, 10))
	a, bank := analyzerAndBank(t, filters.DefaultBands())
	d := newDetector(t, 3.0)

	for i := range 20 {
		spec, err := a.Analyze(toneWindow(rng, uint64(i), 60, 0.5, 0.01))
		require.NoError(t, err)

		cycle := d.DetectAll(spec, bank)
		require.Len(t, cycle.Readings, len(bank.Bands()))
		for _, r := range cycle.Readings {
			assert.Equal(t, r.Peak.Band.Name == "60Hz", r.Qualified, "window %d band %s", i, r.Peak.Band.Name)
		}
	}
}

func TestDetectRefinesFrequency(t *testing.T) {
	d := newDetector(t, 1.0)
	band := filters.NewBand(60, 2)
	slice := filters.Slice{
		Band: band,
		Bins: []spectral.Bin{
			{Frequency: 59, Magnitude: 4},
			{Frequency: 60, Magnitude: 9},
			{Frequency: 61, Magnitude: 8},
		},
	}

	obs, ok := d.Detect(band, slice, 1)
	require.True(t, ok)
	assert.Greater(t, obs.Frequency, 60.0)
	assert.Less(t, obs.Frequency, 60.5)
}

func TestNewPeakDetectorValidation(t *testing.T) {
	_, err := NewPeakDetector(DetectorConfig{Threshold: 0}, nil, nil)
	assert.True(t, common.IsConfigurationError(err))

	_, err = NewPeakDetector(DetectorConfig{Threshold: 3, NoiseMinHz: 100, NoiseMaxHz: 50}, nil, nil)
	assert.True(t, common.IsConfigurationError(err))

	d, err := NewPeakDetector(DetectorConfig{Threshold: 3}, nil, nil)
	require.NoError(t, err)
	assert.NotNil(t, d.NoiseFloor())
}

func TestDetectAllFindsMainsTone(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	a, bank := analyzerAndBank(t, []filters.TargetBand{{Low: 58, High: 62}})
	d := newDetector(t, 3.0)

	spec, err := a.Analyze(toneWindow(rng, 4, 60, 0.5, 0.01))
	require.NoError(t, err)

	cycle := d.DetectAll(spec, bank)
	require.Len(t, cycle.Readings, 1)
	assert.Equal(t, uint64(4), cycle.WindowIndex)

	reading := cycle.Readings[0]
	assert.True(t, reading.Qualified)
	assert.Greater(t, reading.Peak.Prominence, 100.0)
	assert.InDelta(t, 60.0, reading.Peak.Frequency, 1.5)
	assert.Equal(t, cycle.NoiseFloor, d.NoiseFloor().Value())
	assert.Len(t, cycle.Qualified(), 1)
}

func TestDetectAllIgnoresNoise(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))
	a, bank := analyzerAndBank(t, []filters.TargetBand{{Low: 58, High: 62}})
	d := newDetector(t, 3.0)

	hits := 0
	for i := range 200 {
		spec, err := a.Analyze(toneWindow(rng, uint64(i), 0, 0, 0.1))
		require.NoError(t, err)
		hits += len(d.DetectAll(spec, bank).Qualified())
	}

	assert.Zero(t, hits)
	assert.Greater(t, d.NoiseFloor().Value(), 0.0)
}

func TestDetectAllScoresEveryBand(t *testing.T) {
	rng := rand.New(rand.NewPCG(5, 6))
	a, bank := analyzerAndBank(t, filters.DefaultBands())
	d := newDetector(t, 3.0)

	spec, err := a.Analyze(toneWindow(rng, 0, 180, 0.5, 0.01))
	require.NoError(t, err)

	cycle := d.DetectAll(spec, bank)
	require.Len(t, cycle.Readings, len(bank.Bands()))

	for _, r := range cycle.Readings {
		if r.Peak.Band.Name == "180Hz" {
			assert.True(t, r.Qualified)
		}
	}
}
