package windowing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RyanBlaney/zumbido/algorithms/common"
)

func TestParseKind(t *testing.T) {
	k, err := ParseKind("Blackman_Harris")
	require.NoError(t, err)
	assert.Equal(t, BlackmanHarris, k)

	k, err = ParseKind("")
	require.NoError(t, err)
	assert.Equal(t, Hann, k)

	_, err = ParseKind("kaiser")
	assert.True(t, common.IsConfigurationError(err))
}

func TestHannShape(t *testing.T) {
	w, err := New(Hann, 8)
	require.NoError(t, err)

	c := w.Coefficients()
	assert.InDelta(t, 0.0, c[0], 1e-12)
	assert.InDelta(t, 1.0, c[4], 1e-12)
	assert.InDelta(t, c[1], c[7], 1e-12)
	assert.InDelta(t, 0.5, w.CoherentGain(), 1e-12)
}

func TestCoherentGains(t *testing.T) {
	tests := []struct {
		kind Kind
		want float64
	}{
		{Hann, 0.5},
		{Hamming, 0.54},
		{Blackman, 0.42},
		{BlackmanHarris, 0.35875},
		{Rectangular, 1.0},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			w, err := New(tt.kind, 1024)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, w.CoherentGain(), 1e-9)
			assert.Equal(t, 1024, w.Size())
		})
	}
}

func TestApply(t *testing.T) {
	w, err := New(Rectangular, 4)
	require.NoError(t, err)

	signal := []float64{1, 2, 3, 4}
	out, err := w.Apply(signal)
	require.NoError(t, err)
	assert.Equal(t, signal, out)

	_, err = w.Apply([]float64{1, 2})
	assert.Error(t, err)
}

func TestNewRejectsTinyWindow(t *testing.T) {
	_, err := New(Hann, 1)
	assert.True(t, common.IsConfigurationError(err))
}
