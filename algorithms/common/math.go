package common

import (
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Epsilon guards divisions by magnitudes and floors that may be zero
const Epsilon = 1e-12

// Mean calculates the arithmetic mean of a slice using gonum
func Mean(data []float64) float64 {
	if len(data) == 0 {
		return 0.0
	}
	return stat.Mean(data, nil)
}

// Percentile calculates the p-th percentile (p between 0 and 1)
func Percentile(data []float64, p float64) float64 {
	if len(data) == 0 || p < 0 || p > 1 {
		return 0.0
	}

	sorted := slices.Clone(data)
	slices.Sort(sorted)

	return stat.Quantile(p, stat.Empirical, sorted, nil)
}

// RMS calculates root mean square
func RMS(data []float64) float64 {
	if len(data) == 0 {
		return 0.0
	}
	return math.Sqrt(floats.Dot(data, data) / float64(len(data)))
}

// Peak returns the largest absolute sample value
func Peak(data []float64) float64 {
	peak := 0.0
	for _, v := range data {
		peak = max(peak, math.Abs(v))
	}
	return peak
}

// AllFinite reports whether data holds no NaN or Inf values
func AllFinite(data []float64) bool {
	for _, v := range data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// ParabolicOffset fits a parabola through three neighbouring magnitudes and
// returns the offset of its vertex from the centre point, in bins.
// The result lies in [-0.5, 0.5] for a true local maximum.
func ParabolicOffset(left, centre, right float64) float64 {
	denom := left - 2*centre + right
	if math.Abs(denom) < Epsilon {
		return 0
	}
	offset := 0.5 * (left - right) / denom
	return Clamp(offset, -0.5, 0.5)
}

// Clamp constrains value to [lo, hi]
func Clamp(value, lo, hi float64) float64 {
	return max(lo, min(hi, value))
}

// IsPowerOfTwo checks if n is a power of 2
func IsPowerOfTwo(n int) bool {
	return n > 0 && (n&(n-1)) == 0
}

// NextPowerOfTwo returns the smallest power of two >= n
func NextPowerOfTwo(n int) int {
	if n <= 1 {
		return 1
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// DB converts a linear amplitude to decibels relative to full scale
func DB(amplitude float64) float64 {
	return 20 * math.Log10(max(amplitude, Epsilon))
}
