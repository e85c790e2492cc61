package spectral

import (
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
)

// FFT computes real-input transforms of a fixed length, zero-padding
// shorter inputs. The padded scratch buffer is reused across calls, so an
// FFT must not be shared between goroutines.
type FFT struct {
	size    int
	scratch []float64
}

// NewFFT creates a transform of the given length
func NewFFT(size int) *FFT {
	return &FFT{
		size:    size,
		scratch: make([]float64, size),
	}
}

// Size returns the transform length
func (f *FFT) Size() int {
	return f.size
}

// Compute transforms x, zero-padded to the transform length, using
// mjibson/go-dsp. Inputs longer than the transform are truncated.
func (f *FFT) Compute(x []float64) []complex128 {
	n := copy(f.scratch, x)
	clear(f.scratch[n:])

	// go-dsp handles all sizes, powers of two take the radix-2 path
	return fft.FFTReal(f.scratch)
}

// Magnitudes returns |X[k]| for k = 0..size/2 inclusive, the non-negative
// frequencies up to Nyquist.
func (f *FFT) Magnitudes(x []float64) []float64 {
	spectrum := f.Compute(x)
	half := f.size/2 + 1

	mags := make([]float64, half)
	for k := range half {
		mags[k] = cmplx.Abs(spectrum[k])
	}
	return mags
}
