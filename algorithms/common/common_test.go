package common

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSampleRingFIFO(t *testing.T) {
	r := NewSampleRing(4)

	assert.Equal(t, 0, r.Write([]float64{1, 2, 3}))
	assert.Equal(t, 3, r.Available())
	assert.Equal(t, 1, r.Space())

	dst := make([]float64, 2)
	require.Equal(t, 2, r.Read(dst))
	assert.Equal(t, []float64{1, 2}, dst)
	assert.Equal(t, 1, r.Available())
}

func TestSampleRingOverwriteDropsOldest(t *testing.T) {
	r := NewSampleRing(4)

	r.Write([]float64{1, 2, 3, 4})
	dropped := r.Write([]float64{5, 6})
	assert.Equal(t, 2, dropped)

	dst := make([]float64, 4)
	require.Equal(t, 4, r.Peek(dst))
	assert.Equal(t, []float64{3, 4, 5, 6}, dst)
}

func TestSampleRingOversizedWrite(t *testing.T) {
	r := NewSampleRing(3)
	r.Write([]float64{9})

	dropped := r.Write([]float64{1, 2, 3, 4, 5})
	assert.Equal(t, 3, dropped)

	dst := make([]float64, 3)
	r.Peek(dst)
	assert.Equal(t, []float64{3, 4, 5}, dst)
}

func TestSampleRingDiscardAndReset(t *testing.T) {
	r := NewSampleRing(8)
	r.Write([]float64{1, 2, 3, 4, 5})

	assert.Equal(t, 2, r.Discard(2))
	dst := make([]float64, 1)
	r.Peek(dst)
	assert.Equal(t, 3.0, dst[0])

	assert.Equal(t, 3, r.Discard(10))
	assert.Equal(t, 0, r.Available())

	r.Write([]float64{7})
	r.Reset()
	assert.Equal(t, 0, r.Available())
	assert.Equal(t, 8, r.Cap())
}

func TestPercentile(t *testing.T) {
	data := []float64{5, 1, 3, 2, 4}
	assert.Equal(t, 3.0, Percentile(data, 0.5))
	assert.Equal(t, []float64{5, 1, 3, 2, 4}, data, "input must not be reordered")
	assert.Equal(t, 0.0, Percentile(nil, 0.5))
	assert.Equal(t, 5.0, Percentile(data, 1))
	assert.Equal(t, 5.0, Percentile(data, 0.9))
}

func TestRMSAndPeak(t *testing.T) {
	assert.InDelta(t, 1.0, RMS([]float64{1, -1, 1, -1}), 1e-12)
	assert.Equal(t, 0.0, RMS(nil))
	assert.Equal(t, 3.0, Peak([]float64{1, -3, 2}))
}

func TestAllFinite(t *testing.T) {
	assert.True(t, AllFinite([]float64{0, 1, -1}))
	assert.False(t, AllFinite([]float64{0, math.NaN()}))
	assert.False(t, AllFinite([]float64{math.Inf(-1)}))
}

func TestParabolicOffset(t *testing.T) {
	// Symmetric neighbours put the vertex on the centre bin
	assert.InDelta(t, 0.0, ParabolicOffset(1, 2, 1), 1e-12)

	// y = -(x-0.25)^2 sampled at -1, 0, 1
	f := func(x float64) float64 { return -(x - 0.25) * (x - 0.25) }
	assert.InDelta(t, 0.25, ParabolicOffset(f(-1), f(0), f(1)), 1e-12)

	assert.Equal(t, 0.0, ParabolicOffset(1, 1, 1))
}

func TestPowerOfTwo(t *testing.T) {
	assert.True(t, IsPowerOfTwo(1024))
	assert.False(t, IsPowerOfTwo(1000))
	assert.Equal(t, 1024, NextPowerOfTwo(1000))
	assert.Equal(t, 1024, NextPowerOfTwo(1024))
	assert.Equal(t, 1, NextPowerOfTwo(0))
}

func TestConfigurationError(t *testing.T) {
	err := fmt.Errorf("building analyzer: %w", NewConfigError("fft_size", "must be a power of two, got %d", 1000))
	assert.True(t, IsConfigurationError(err))
	assert.Contains(t, err.Error(), "invalid configuration fft_size: must be a power of two, got 1000")

	assert.False(t, IsConfigurationError(errors.New("other")))
}
