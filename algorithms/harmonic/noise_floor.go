package harmonic

import (
	"github.com/RyanBlaney/zumbido/algorithms/common"
)

const (
	// DefaultNoiseAlpha weights each new level against the running estimate
	DefaultNoiseAlpha = 0.2

	// DefaultNoiseQuantile places the floor near the top of the noise
	// magnitudes, which are Rayleigh distributed for white noise
	DefaultNoiseQuantile = 0.9
)

// NoiseFloor tracks ambient spectral level as an exponential moving average
// of a high quantile of reference bin magnitudes. The first update seeds
// the average directly. Each pipeline owns its own instance; it is not safe
// for concurrent use.
type NoiseFloor struct {
	alpha       float64
	quantile    float64
	value       float64
	updates     uint64
	initialized bool
}

// NewNoiseFloor creates an estimator. alpha outside (0, 1] falls back to
// DefaultNoiseAlpha and quantile outside (0, 1) to DefaultNoiseQuantile.
func NewNoiseFloor(alpha, quantile float64) *NoiseFloor {
	if alpha <= 0 || alpha > 1 {
		alpha = DefaultNoiseAlpha
	}
	if quantile <= 0 || quantile >= 1 {
		quantile = DefaultNoiseQuantile
	}
	return &NoiseFloor{alpha: alpha, quantile: quantile}
}

// Update folds the configured quantile of reference into the estimate and
// returns the new value. An empty reference leaves the estimate unchanged.
func (n *NoiseFloor) Update(reference []float64) float64 {
	if len(reference) == 0 {
		return n.value
	}

	level := common.Percentile(reference, n.quantile)
	if !n.initialized {
		n.value = level
		n.initialized = true
	} else {
		n.value = n.alpha*level + (1-n.alpha)*n.value
	}
	n.updates++
	return n.value
}

// Value returns the current estimate, 0 before the first update
func (n *NoiseFloor) Value() float64 {
	return n.value
}

func (n *NoiseFloor) Initialized() bool {
	return n.initialized
}

func (n *NoiseFloor) Updates() uint64 {
	return n.updates
}

func (n *NoiseFloor) Alpha() float64 {
	return n.alpha
}

func (n *NoiseFloor) Quantile() float64 {
	return n.quantile
}

// Reset forgets all history
func (n *NoiseFloor) Reset() {
	n.value = 0
	n.updates = 0
	n.initialized = false
}
