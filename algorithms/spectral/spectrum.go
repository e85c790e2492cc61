package spectral

import (
	"time"
)

// Bin pairs a centre frequency with its magnitude
type Bin struct {
	Frequency float64 `json:"frequency"`
	Magnitude float64 `json:"magnitude"`
}

// Spectrum is the magnitude spectrum of one analysis window, ascending in
// frequency from DC to Nyquist.
type Spectrum struct {
	Bins        []Bin     `json:"bins"`
	Resolution  float64   `json:"resolution"`
	SampleRate  int       `json:"sample_rate"`
	WindowIndex uint64    `json:"window_index"`
	Timestamp   time.Time `json:"timestamp"`

	// amplitudeScale converts a bin magnitude into the peak amplitude of a
	// sinusoid centred on that bin.
	amplitudeScale float64
}

// Len returns the number of bins
func (s *Spectrum) Len() int {
	return len(s.Bins)
}

// Magnitudes returns the bin magnitudes as a plain slice
func (s *Spectrum) Magnitudes() []float64 {
	mags := make([]float64, len(s.Bins))
	for i, b := range s.Bins {
		mags[i] = b.Magnitude
	}
	return mags
}

// IndexOf returns the bin whose centre is nearest to freq, clamped to the
// spectrum range.
func (s *Spectrum) IndexOf(freq float64) int {
	if len(s.Bins) == 0 || s.Resolution <= 0 {
		return 0
	}
	idx := int(freq/s.Resolution + 0.5)
	return max(0, min(idx, len(s.Bins)-1))
}

// Amplitude converts a magnitude from this spectrum into an estimated
// sinusoid amplitude in full-scale units.
func (s *Spectrum) Amplitude(magnitude float64) float64 {
	return magnitude * s.amplitudeScale
}
