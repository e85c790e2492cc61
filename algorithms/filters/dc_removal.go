package filters

import (
	"math"
)

// DCRemoval is a one-pole DC blocker:
// y[n] = x[n] - x[n-1] + R * y[n-1]
//
// Reference: https://ccrma.stanford.edu/~jos/filters/DC_Blocker.html
type DCRemoval struct {
	pole   float64
	x1, y1 float64
}

// NewDCRemoval uses R = 0.995, roughly an 8 Hz corner at 44.1 kHz
func NewDCRemoval() *DCRemoval {
	return &DCRemoval{pole: 0.995}
}

// NewDCRemovalWithCutoff derives R = 1 - 2*pi*fc/fs, valid for fc << fs/2
func NewDCRemovalWithCutoff(sampleRate int, cutoff float64) *DCRemoval {
	pole := 1.0 - 2.0*math.Pi*cutoff/float64(sampleRate)
	return &DCRemoval{pole: max(0.001, min(0.999, pole))}
}

func (dc *DCRemoval) Process(x float64) float64 {
	y := x - dc.x1 + dc.pole*dc.y1
	dc.x1 = x
	dc.y1 = y
	return y
}

// ProcessInPlace filters buf in place
func (dc *DCRemoval) ProcessInPlace(buf []float64) {
	for i, x := range buf {
		buf[i] = dc.Process(x)
	}
}

func (dc *DCRemoval) Reset() {
	dc.x1, dc.y1 = 0, 0
}
