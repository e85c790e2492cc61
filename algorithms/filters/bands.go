package filters

import (
	"fmt"
	"math"
	"slices"
)

// TargetBand is a frequency interval around a mains fundamental or one of
// its harmonics. Bounds are inclusive.
type TargetBand struct {
	Name     string  `json:"name" yaml:"name" mapstructure:"name"`
	Low      float64 `json:"low" yaml:"low" mapstructure:"low"`
	High     float64 `json:"high" yaml:"high" mapstructure:"high"`
	Center   float64 `json:"center,omitempty" yaml:"center,omitempty" mapstructure:"center"`
	Harmonic int     `json:"harmonic,omitempty" yaml:"harmonic,omitempty" mapstructure:"harmonic"`
}

// Width returns High - Low
func (b TargetBand) Width() float64 {
	return b.High - b.Low
}

// Contains reports whether freq lies inside the band
func (b TargetBand) Contains(freq float64) bool {
	return freq >= b.Low && freq <= b.High
}

// Normalized fills in the derived fields: a missing centre becomes the
// midpoint and a missing name is derived from the centre.
func (b TargetBand) Normalized() TargetBand {
	if b.Center == 0 {
		b.Center = (b.Low + b.High) / 2
	}
	if b.Name == "" {
		b.Name = fmt.Sprintf("%gHz", math.Round(b.Center*10)/10)
	}
	return b
}

// NewBand builds a band of +/- tolerance Hz around centre
func NewBand(center, tolerance float64) TargetBand {
	return TargetBand{
		Low:    center - tolerance,
		High:   center + tolerance,
		Center: center,
	}.Normalized()
}

// MainsBands returns bands around each fundamental and its multiples up to
// maxHarmonic, sorted by centre frequency. Multiples shared by two
// fundamentals appear once, attributed to the lower fundamental.
func MainsBands(fundamentals []float64, maxHarmonic int, tolerance float64) []TargetBand {
	seen := make(map[float64]bool)
	var bands []TargetBand

	sorted := slices.Clone(fundamentals)
	slices.Sort(sorted)

	for _, f := range sorted {
		for h := 1; h <= maxHarmonic; h++ {
			center := f * float64(h)
			if seen[center] {
				continue
			}
			seen[center] = true

			band := NewBand(center, tolerance)
			band.Harmonic = h
			bands = append(bands, band)
		}
	}

	slices.SortFunc(bands, func(a, b TargetBand) int {
		switch {
		case a.Center < b.Center:
			return -1
		case a.Center > b.Center:
			return 1
		default:
			return 0
		}
	})
	return bands
}

// DefaultBands covers 50 Hz and 60 Hz mains up to the 4th harmonic with a
// 3 Hz tolerance: 50, 60, 100, 120, 150, 180, 200 and 240 Hz.
func DefaultBands() []TargetBand {
	return MainsBands([]float64{50, 60}, 4, 3)
}

// NarrowestWidth returns the smallest band width, or 0 for no bands
func NarrowestWidth(bands []TargetBand) float64 {
	if len(bands) == 0 {
		return 0
	}
	narrowest := math.Inf(1)
	for _, b := range bands {
		narrowest = min(narrowest, b.Width())
	}
	return narrowest
}
