package filters

import (
	"math"
	"math/cmplx"
)

// Biquad is a second-order IIR section with coefficients from Robert
// Bristow-Johnson's Audio EQ Cookbook, normalised so a0 = 1.
// Reference: https://webaudio.github.io/Audio-EQ-Cookbook/audio-eq-cookbook.html
type Biquad struct {
	sampleRate int
	b0, b1, b2 float64
	a1, a2     float64

	// transposed direct form II state
	z1, z2 float64
}

// rbjParams returns cos(w0) and alpha for a centre/corner frequency and Q
func rbjParams(sampleRate int, freq, q float64) (cosW0, alpha float64) {
	w0 := 2.0 * math.Pi * freq / float64(sampleRate)

	// Prevent numerical issues at Nyquist
	if w0 >= math.Pi {
		w0 = math.Pi * 0.99
	}

	return math.Cos(w0), math.Sin(w0) / (2.0 * q)
}

func newBiquad(sampleRate int, b0, b1, b2, a0, a1, a2 float64) *Biquad {
	return &Biquad{
		sampleRate: sampleRate,
		b0:         b0 / a0,
		b1:         b1 / a0,
		b2:         b2 / a0,
		a1:         a1 / a0,
		a2:         a2 / a0,
	}
}

// NewBandpass creates a constant 0 dB peak gain bandpass. Q is
// centre/bandwidth, so narrower bands give more selective filters.
func NewBandpass(sampleRate int, center, bandwidth float64) *Biquad {
	q := center / math.Max(bandwidth, 1e-6)
	cosW0, alpha := rbjParams(sampleRate, center, q)

	return newBiquad(sampleRate,
		alpha, 0, -alpha,
		1+alpha, -2*cosW0, 1-alpha,
	)
}

// NewHighpass creates a second-order highpass with the given corner and Q
// (1/sqrt(2) for a Butterworth response).
func NewHighpass(sampleRate int, cutoff, q float64) *Biquad {
	cosW0, alpha := rbjParams(sampleRate, cutoff, q)

	return newBiquad(sampleRate,
		(1+cosW0)/2, -(1 + cosW0), (1+cosW0)/2,
		1+alpha, -2*cosW0, 1-alpha,
	)
}

// Process filters one sample.
// y[n] = b0*x[n] + b1*x[n-1] + b2*x[n-2] - a1*y[n-1] - a2*y[n-2]
func (f *Biquad) Process(x float64) float64 {
	y := f.b0*x + f.z1
	f.z1 = f.b1*x - f.a1*y + f.z2
	f.z2 = f.b2*x - f.a2*y
	return y
}

// ProcessBuffer filters input into a new slice
func (f *Biquad) ProcessBuffer(input []float64) []float64 {
	output := make([]float64, len(input))
	for i, sample := range input {
		output[i] = f.Process(sample)
	}
	return output
}

// Reset clears the filter state.
// Call this when processing discontinuous audio segments.
func (f *Biquad) Reset() {
	f.z1, f.z2 = 0, 0
}

// Response returns the linear magnitude response at freq
func (f *Biquad) Response(freq float64) float64 {
	w := 2.0 * math.Pi * freq / float64(f.sampleRate)
	z1 := cmplx.Exp(complex(0, -w))
	z2 := z1 * z1

	num := complex(f.b0, 0) + complex(f.b1, 0)*z1 + complex(f.b2, 0)*z2
	den := 1 + complex(f.a1, 0)*z1 + complex(f.a2, 0)*z2
	return cmplx.Abs(num / den)
}
