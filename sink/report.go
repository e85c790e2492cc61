package sink

import (
	"fmt"
	"io"
	"time"

	"github.com/RyanBlaney/zumbido/algorithms/common"
	"github.com/RyanBlaney/zumbido/algorithms/filters"
	"github.com/RyanBlaney/zumbido/algorithms/harmonic"
	"github.com/RyanBlaney/zumbido/algorithms/spectral"
	"github.com/RyanBlaney/zumbido/algorithms/windowing"
	"github.com/RyanBlaney/zumbido/capture"
)

// BandLevel is one band's strongest component over a whole recording
type BandLevel struct {
	Band       string  `json:"band"`
	Frequency  float64 `json:"frequency_hz"`
	Amplitude  float64 `json:"amplitude"`
	Prominence float64 `json:"prominence"`
}

// ClipAnalysis summarises a recorded snippet
type ClipAnalysis struct {
	Recorded  time.Time     `json:"recorded"`
	Duration  time.Duration `json:"duration"`
	RMS       float64       `json:"rms"`
	Peak      float64       `json:"peak"`
	Detected  bool          `json:"detected"`
	Truncated bool          `json:"truncated"`
	Bands     []BandLevel   `json:"bands"`
}

// AnalyzeClip runs the whole snippet through one spectral pass with the
// same band and prominence logic as live detection. Clips too short to
// resolve the bands get level figures only.
func AnalyzeClip(samples []float64, sampleRate int, bands []filters.TargetBand, threshold float64) ClipAnalysis {
	result := ClipAnalysis{
		Duration: time.Duration(float64(len(samples)) / float64(sampleRate) * float64(time.Second)),
		RMS:      common.RMS(samples),
		Peak:     common.Peak(samples),
	}
	if len(samples) < 2 || len(bands) == 0 {
		return result
	}

	analyzer, err := spectral.NewAnalyzer(spectral.AnalyzerConfig{
		SampleRate: sampleRate,
		WindowSize: len(samples),
		FFTSize:    common.NextPowerOfTwo(len(samples)),
		Window:     windowing.Hann,
	}, nil)
	if err != nil {
		return result
	}
	bank, err := filters.NewFilterBank(bands, analyzer.Resolution(), analyzer.Nyquist())
	if err != nil {
		return result
	}
	detectorConfig := harmonic.DefaultDetectorConfig()
	if threshold > 0 {
		detectorConfig.Threshold = threshold
	}
	detector, err := harmonic.NewPeakDetector(detectorConfig, nil, nil)
	if err != nil {
		return result
	}

	spec, err := analyzer.Analyze(capture.AnalysisWindow{Samples: samples, SampleRate: sampleRate})
	if err != nil {
		return result
	}

	cycle := detector.DetectAll(spec, bank)
	for _, r := range cycle.Readings {
		result.Bands = append(result.Bands, BandLevel{
			Band:       r.Peak.Band.Name,
			Frequency:  r.Peak.Frequency,
			Amplitude:  spec.Amplitude(r.Peak.Magnitude),
			Prominence: r.Peak.Prominence,
		})
		if r.Qualified {
			result.Detected = true
		}
	}
	return result
}

// WriteReport renders the plain-text report saved beside each snippet
func (a ClipAnalysis) WriteReport(w io.Writer, file string) error {
	_, err := fmt.Fprintf(w, "Electrical Panel Audio Analysis\n"+
		"Recording Time: %s\n"+
		"Duration: %.2f seconds\n"+
		"RMS: %.5f (%.1f dBFS)\n"+
		"Peak: %.5f\n"+
		"Truncated: %t\n"+
		"Electrical Frequencies Detected: %t\n\n"+
		"Frequency Analysis:\n",
		a.Recorded.Format("2006-01-02 15:04:05.000"),
		a.Duration.Seconds(),
		a.RMS, common.DB(a.RMS),
		a.Peak,
		a.Truncated,
		a.Detected,
	)
	if err != nil {
		return err
	}

	for _, b := range a.Bands {
		if _, err := fmt.Fprintf(w, "  %s: %.5f at %.2f Hz (prominence %.1f)\n", b.Band, b.Amplitude, b.Frequency, b.Prominence); err != nil {
			return err
		}
	}

	_, err = fmt.Fprintf(w, "\nFile: %s\n", file)
	return err
}
