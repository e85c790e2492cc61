package harmonic

import (
	"math"
	"time"

	"github.com/RyanBlaney/zumbido/algorithms/common"
	"github.com/RyanBlaney/zumbido/algorithms/filters"
	"github.com/RyanBlaney/zumbido/algorithms/spectral"
	"github.com/RyanBlaney/zumbido/logging"
)

// PeakObservation is the strongest bin of one band in one spectrum
type PeakObservation struct {
	Band       filters.TargetBand `json:"band"`
	Frequency  float64            `json:"frequency"` // parabolically refined
	Magnitude  float64            `json:"magnitude"`
	Prominence float64            `json:"prominence"`
	NoiseFloor float64            `json:"noise_floor"`
	Bin        int                `json:"bin"`
}

// BandReading is a band's strongest peak for one cycle and whether it
// crossed the detection threshold
type BandReading struct {
	Peak      PeakObservation `json:"peak"`
	Qualified bool            `json:"qualified"`
}

// Cycle collects the readings of every band for one analysis window
type Cycle struct {
	WindowIndex uint64        `json:"window_index"`
	Timestamp   time.Time     `json:"timestamp"`
	NoiseFloor  float64       `json:"noise_floor"`
	Readings    []BandReading `json:"readings"`
}

// Qualified returns the observations that crossed the threshold
func (c Cycle) Qualified() []PeakObservation {
	var out []PeakObservation
	for _, r := range c.Readings {
		if r.Qualified {
			out = append(out, r.Peak)
		}
	}
	return out
}

// DetectorConfig tunes the peak detector
type DetectorConfig struct {
	// Threshold is the prominence multiplier a peak must exceed
	Threshold float64 `json:"detection_threshold"`
	// Epsilon floors the noise estimate in the prominence division
	Epsilon float64 `json:"epsilon"`
	// NoiseMinHz and NoiseMaxHz bound the out-of-band reference bins.
	// NoiseMaxHz 0 means Nyquist.
	NoiseMinHz float64 `json:"noise_min_hz"`
	NoiseMaxHz float64 `json:"noise_max_hz"`
}

// DefaultDetectorConfig returns a 3x threshold over the 20 Hz..Nyquist noise
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		Threshold:  3.0,
		Epsilon:    common.Epsilon,
		NoiseMinHz: 20,
	}
}

// PeakDetector scores band peaks against a noise floor it owns
type PeakDetector struct {
	config DetectorConfig
	noise  *NoiseFloor
	logger logging.Logger
}

// NewPeakDetector creates a detector. A nil noise floor gets a fresh
// estimator with the default smoothing.
func NewPeakDetector(config DetectorConfig, noise *NoiseFloor, logger logging.Logger) (*PeakDetector, error) {
	if config.Threshold <= 0 {
		return nil, common.NewConfigError("detection_threshold", "must be positive, got %g", config.Threshold)
	}
	if config.Epsilon <= 0 {
		config.Epsilon = common.Epsilon
	}
	if config.NoiseMaxHz != 0 && config.NoiseMaxHz <= config.NoiseMinHz {
		return nil, common.NewConfigError("noise_max_hz", "must exceed noise_min_hz %g", config.NoiseMinHz)
	}
	if noise == nil {
		noise = NewNoiseFloor(DefaultNoiseAlpha, DefaultNoiseQuantile)
	}

	return &PeakDetector{
		config: config,
		noise:  noise,
		logger: logging.OrGlobal(logger).WithFields(logging.Fields{
			"component": "peak_detector",
		}),
	}, nil
}

// NoiseFloor exposes the owned estimator
func (d *PeakDetector) NoiseFloor() *NoiseFloor {
	return d.noise
}

func (d *PeakDetector) Threshold() float64 {
	return d.config.Threshold
}

// Detect returns the strongest bin of slice when it is a local maximum of
// the spectrum and its prominence over noiseFloor exceeds the threshold.
func (d *PeakDetector) Detect(band filters.TargetBand, slice filters.Slice, noiseFloor float64) (PeakObservation, bool) {
	obs, ok := d.measure(band, slice, noiseFloor)
	if !ok || !d.qualifies(slice, obs) {
		return PeakObservation{}, false
	}
	return obs, true
}

// qualifies rejects band maxima that are only leakage from a stronger tone
// next to the band
func (d *PeakDetector) qualifies(slice filters.Slice, obs PeakObservation) bool {
	return slice.LocalPeak(obs.Bin-slice.Offset) && obs.Prominence > d.config.Threshold
}

func (d *PeakDetector) measure(band filters.TargetBand, slice filters.Slice, noiseFloor float64) (PeakObservation, bool) {
	if len(slice.Bins) == 0 {
		return PeakObservation{}, false
	}

	idx := slice.Peak()
	peak := slice.Bins[idx]
	freq := peak.Frequency

	// Sub-bin refinement needs a neighbour on both sides inside the band
	if idx > 0 && idx < len(slice.Bins)-1 {
		spacing := slice.Bins[idx+1].Frequency - peak.Frequency
		offset := common.ParabolicOffset(slice.Bins[idx-1].Magnitude, peak.Magnitude, slice.Bins[idx+1].Magnitude)
		freq += offset * spacing
	}

	return PeakObservation{
		Band:       band,
		Frequency:  freq,
		Magnitude:  peak.Magnitude,
		Prominence: peak.Magnitude / max(noiseFloor, d.config.Epsilon),
		NoiseFloor: noiseFloor,
		Bin:        slice.Offset + idx,
	}, true
}

// DetectAll runs one analysis cycle: the noise floor is first updated from
// the out-of-band bins of spec, then every band is scored against it.
func (d *PeakDetector) DetectAll(spec *spectral.Spectrum, bank *filters.FilterBank) Cycle {
	maxHz := d.config.NoiseMaxHz
	if maxHz == 0 {
		maxHz = math.Inf(1)
	}

	floor := d.noise.Update(bank.OutOfBand(spec, d.config.NoiseMinHz, maxHz))

	cycle := Cycle{
		WindowIndex: spec.WindowIndex,
		Timestamp:   spec.Timestamp,
		NoiseFloor:  floor,
	}

	for _, slice := range bank.RestrictAll(spec) {
		obs, ok := d.measure(slice.Band, slice, floor)
		if !ok {
			continue
		}
		cycle.Readings = append(cycle.Readings, BandReading{
			Peak:      obs,
			Qualified: d.qualifies(slice, obs),
		})
	}

	return cycle
}
