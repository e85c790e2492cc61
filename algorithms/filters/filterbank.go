package filters

import (
	"errors"
	"math"

	"github.com/RyanBlaney/zumbido/algorithms/common"
	"github.com/RyanBlaney/zumbido/algorithms/spectral"
)

// binTolerance absorbs floating point error when a band edge falls exactly
// on a bin centre
const binTolerance = 1e-9

// Slice is the contiguous run of bins that fall inside one band
type Slice struct {
	Band   TargetBand
	Bins   []spectral.Bin
	Offset int // index of Bins[0] in the full spectrum

	// Below and Above are the magnitudes of the spectrum bins just outside
	// the slice, 0 at either end of the spectrum.
	Below float64
	Above float64
}

// Peak returns the index within the slice of the largest magnitude
func (s Slice) Peak() int {
	best := 0
	for i, b := range s.Bins {
		if b.Magnitude > s.Bins[best].Magnitude {
			best = i
		}
	}
	return best
}

// LocalPeak reports whether bin idx is a strict local maximum of the full
// spectrum. A slice maximum that sits on the flank of a stronger peak
// outside the band is not.
func (s Slice) LocalPeak(idx int) bool {
	if idx < 0 || idx >= len(s.Bins) {
		return false
	}
	m := s.Bins[idx].Magnitude
	left, right := s.Below, s.Above
	if idx > 0 {
		left = s.Bins[idx-1].Magnitude
	}
	if idx < len(s.Bins)-1 {
		right = s.Bins[idx+1].Magnitude
	}
	return m > left && m > right
}

// FilterBank restricts spectra to the configured target bands. Band/bin
// compatibility is checked once at construction so Restrict cannot fail.
type FilterBank struct {
	bands      []TargetBand
	ranges     [][2]int
	resolution float64
	nyquist    float64
}

// NewFilterBank validates bands against the spectrum resolution. Every band
// must be ordered, lie within [0, nyquist] and be at least one bin wide,
// which guarantees it covers one or more bins. All violations are reported
// together.
func NewFilterBank(bands []TargetBand, resolution, nyquist float64) (*FilterBank, error) {
	if len(bands) == 0 {
		return nil, common.NewConfigError("target_bands", "at least one band is required")
	}
	if resolution <= 0 {
		return nil, common.NewConfigError("fft_size", "non-positive bin resolution %g", resolution)
	}

	var errs []error
	names := make(map[string]bool)
	fb := &FilterBank{resolution: resolution, nyquist: nyquist}

	for _, b := range bands {
		b = b.Normalized()
		switch {
		case b.Low < 0 || b.High <= b.Low:
			errs = append(errs, common.NewConfigError("target_bands", "band %s has invalid bounds [%g, %g]", b.Name, b.Low, b.High))
			continue
		case b.High > nyquist:
			errs = append(errs, common.NewConfigError("target_bands", "band %s exceeds Nyquist %g Hz", b.Name, nyquist))
			continue
		case b.Width()+binTolerance < resolution:
			errs = append(errs, common.NewConfigError("target_bands",
				"band %s is %g Hz wide, narrower than the %.3f Hz bin resolution", b.Name, b.Width(), resolution))
			continue
		case names[b.Name]:
			errs = append(errs, common.NewConfigError("target_bands", "duplicate band name %s", b.Name))
			continue
		}
		names[b.Name] = true

		first := int(math.Ceil(b.Low/resolution - binTolerance))
		last := int(math.Floor(b.High/resolution + binTolerance))
		fb.bands = append(fb.bands, b)
		fb.ranges = append(fb.ranges, [2]int{first, last})
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return fb, nil
}

// Bands returns the validated bands in configuration order
func (fb *FilterBank) Bands() []TargetBand {
	return fb.bands
}

// Resolution returns the bin spacing the bank was validated against
func (fb *FilterBank) Resolution() float64 {
	return fb.resolution
}

// RestrictAll returns one slice per band, in band order
func (fb *FilterBank) RestrictAll(spec *spectral.Spectrum) []Slice {
	slices := make([]Slice, len(fb.bands))
	for i, b := range fb.bands {
		first, last := fb.ranges[i][0], min(fb.ranges[i][1], spec.Len()-1)
		if first > last {
			// only reachable if the spectrum does not match the bank
			slices[i] = Slice{Band: b, Offset: first}
			continue
		}
		slices[i] = Slice{
			Band:   b,
			Bins:   spec.Bins[first : last+1],
			Offset: first,
		}
		if first > 0 {
			slices[i].Below = spec.Bins[first-1].Magnitude
		}
		if last+1 < spec.Len() {
			slices[i].Above = spec.Bins[last+1].Magnitude
		}
	}
	return slices
}

// Restrict maps band name to its slice
func (fb *FilterBank) Restrict(spec *spectral.Spectrum) map[string]Slice {
	out := make(map[string]Slice, len(fb.bands))
	for _, s := range fb.RestrictAll(spec) {
		out[s.Band.Name] = s
	}
	return out
}

// OutOfBand returns magnitudes of bins within [minHz, maxHz] that fall
// outside every band. These approximate the ambient noise.
func (fb *FilterBank) OutOfBand(spec *spectral.Spectrum, minHz, maxHz float64) []float64 {
	mags := make([]float64, 0, spec.Len())
	for i, bin := range spec.Bins {
		if bin.Frequency < minHz || bin.Frequency > maxHz {
			continue
		}
		if fb.inBand(i) {
			continue
		}
		mags = append(mags, bin.Magnitude)
	}
	return mags
}

func (fb *FilterBank) inBand(bin int) bool {
	for _, r := range fb.ranges {
		if bin >= r[0] && bin <= r[1] {
			return true
		}
	}
	return false
}
