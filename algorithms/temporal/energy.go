package temporal

import (
	"math"

	"github.com/RyanBlaney/zumbido/algorithms/common"
	"github.com/RyanBlaney/zumbido/algorithms/filters"
)

// DefaultCutoff is the high-pass corner used for level reporting
const DefaultCutoff = 50.0

// Level summarises the energy of the samples seen since the last flush
type Level struct {
	RMS     float64 `json:"rms"`
	Peak    float64 `json:"peak"`
	DBFS    float64 `json:"dbfs"`
	Samples int     `json:"samples"`
}

// Energy measures stream level after a DC blocker and a high-pass at the
// cutoff, so handling noise and low rumble do not dominate the reading.
// Filter state carries across frames; the accumulators reset on Flush.
type Energy struct {
	dc       *filters.DCRemoval
	highpass *filters.Biquad

	sumSquares float64
	peak       float64
	count      int
	scratch    []float64
}

// NewEnergy creates a meter for a stream at sampleRate. cutoff <= 0 uses
// DefaultCutoff.
func NewEnergy(sampleRate int, cutoff float64) *Energy {
	if cutoff <= 0 {
		cutoff = DefaultCutoff
	}
	return &Energy{
		dc:       filters.NewDCRemoval(),
		highpass: filters.NewHighpass(sampleRate, cutoff, math.Sqrt2/2),
	}
}

// Process filters a copy of signal and adds it to the running totals
func (e *Energy) Process(signal []float64) {
	if cap(e.scratch) < len(signal) {
		e.scratch = make([]float64, len(signal))
	}
	buf := e.scratch[:len(signal)]
	copy(buf, signal)

	e.dc.ProcessInPlace(buf)
	for _, x := range buf {
		y := e.highpass.Process(x)
		e.sumSquares += y * y
		e.peak = max(e.peak, math.Abs(y))
	}
	e.count += len(buf)
}

// Level reports the totals without resetting them
func (e *Energy) Level() Level {
	if e.count == 0 {
		return Level{DBFS: common.DB(0)}
	}
	rms := math.Sqrt(e.sumSquares / float64(e.count))
	return Level{
		RMS:     rms,
		Peak:    e.peak,
		DBFS:    common.DB(rms),
		Samples: e.count,
	}
}

// Flush returns Level and starts a new measurement period
func (e *Energy) Flush() Level {
	level := e.Level()
	e.sumSquares, e.peak, e.count = 0, 0, 0
	return level
}

// Reset also clears the filter state
func (e *Energy) Reset() {
	e.Flush()
	e.dc.Reset()
	e.highpass.Reset()
}

// ShortTimeEnergy returns the RMS of each frameSize slice of signal,
// advancing by hopSize
func ShortTimeEnergy(signal []float64, frameSize, hopSize int) []float64 {
	if len(signal) < frameSize || hopSize <= 0 || frameSize <= 0 {
		return []float64{}
	}

	numFrames := (len(signal)-frameSize)/hopSize + 1
	energies := make([]float64, numFrames)
	for i := range numFrames {
		start := i * hopSize
		energies[i] = common.RMS(signal[start : start+frameSize])
	}
	return energies
}
