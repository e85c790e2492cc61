package capture

import (
	"fmt"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/transforms"
)

// Format describes what a source emits. Channels is the device channel
// count before down-mixing; frames are always mono.
type Format struct {
	SampleRate int `json:"sample_rate"`
	Channels   int `json:"channels"`
	FrameSize  int `json:"frame_size"`
}

// FrameDuration is the wall-clock span of one full frame
func (f Format) FrameDuration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(f.FrameSize) * time.Second / time.Duration(f.SampleRate)
}

// AudioFrame is one chunk of mono samples in [-1, 1]
type AudioFrame struct {
	Samples    []float64 `json:"-"`
	SampleRate int       `json:"sample_rate"`
	Sequence   uint64    `json:"sequence"`
	Timestamp  time.Time `json:"timestamp"`
}

// Duration returns how much audio the frame holds
func (f AudioFrame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(f.Samples)) * time.Second / time.Duration(f.SampleRate)
}

// AnalysisWindow is a fixed-length run of samples handed to the analyzer.
// Consecutive windows may overlap.
type AnalysisWindow struct {
	Samples     []float64 `json:"-"`
	SampleRate  int       `json:"sample_rate"`
	Index       uint64    `json:"index"`
	StartSample int64     `json:"start_sample"`
	Timestamp   time.Time `json:"timestamp"`
}

// DeviceInfo describes one input device as reported by a backend
type DeviceInfo struct {
	ID                string  `json:"id"`
	Name              string  `json:"name"`
	Backend           string  `json:"backend"`
	MaxInputChannels  int     `json:"max_input_channels"`
	DefaultSampleRate float64 `json:"default_sample_rate"`
	SampleRates       []int   `json:"sample_rates,omitempty"`
	IsDefault         bool    `json:"is_default"`
}

// commonSampleRates are tried when a backend cannot list rates directly
var commonSampleRates = []int{8000, 16000, 22050, 44100, 48000, 96000}

// Downmix averages interleaved channels into a mono slice using
// go-audio/transforms. Mono input is returned as is.
func Downmix(interleaved []float64, channels, sampleRate int) ([]float64, error) {
	if channels <= 1 {
		return interleaved, nil
	}
	if len(interleaved)%channels != 0 {
		return nil, fmt.Errorf("%d samples do not divide into %d channels", len(interleaved), channels)
	}

	buf := &audio.FloatBuffer{
		Format: &audio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:   interleaved,
	}
	if err := transforms.MonoDownmix(buf); err != nil {
		return nil, fmt.Errorf("downmix: %w", err)
	}
	return buf.Data, nil
}
