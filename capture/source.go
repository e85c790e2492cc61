package capture

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/RyanBlaney/zumbido/algorithms/common"
	"github.com/RyanBlaney/zumbido/logging"
)

// Source yields mono frames from a device or file. NextFrame blocks until a
// frame is ready. It returns io.EOF when a finite source is exhausted, a
// *DeviceError when the device fails, and a valid frame together with an
// *OverrunError when the device overflowed but audio kept flowing.
type Source interface {
	NextFrame(ctx context.Context) (AudioFrame, error)
	Format() Format
	Close() error
}

// Backend names accepted as the scheme of a device id
const (
	BackendPortAudio = "portaudio"
	BackendFFmpeg    = "ffmpeg"
	BackendWAV       = "wav"
	BackendSynth     = "synth"
)

// SourceConfig selects and shapes a source
type SourceConfig struct {
	Device     string `json:"device"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	FrameSize  int    `json:"frame_size"`
	// Realtime paces synthetic and file sources at the sample rate
	Realtime   bool   `json:"realtime"`
	FFmpegPath string `json:"ffmpeg_path"`
}

// DefaultSourceConfig matches the default monitor settings
func DefaultSourceConfig() SourceConfig {
	return SourceConfig{
		Device:     "auto",
		SampleRate: 44100,
		Channels:   1,
		FrameSize:  1024,
		FFmpegPath: "ffmpeg",
	}
}

// ParseDeviceID splits "backend:address". Ids without a known backend
// prefix, including "auto", are portaudio device selectors.
func ParseDeviceID(id string) (backend, address string) {
	id = strings.TrimSpace(id)
	if scheme, rest, ok := strings.Cut(id, ":"); ok {
		switch strings.ToLower(scheme) {
		case BackendPortAudio, BackendFFmpeg, BackendWAV, BackendSynth:
			return strings.ToLower(scheme), rest
		}
	}
	return BackendPortAudio, id
}

func (c SourceConfig) validate() error {
	var errs []error
	if c.SampleRate <= 0 {
		errs = append(errs, common.NewConfigError("sample_rate", "must be positive, got %d", c.SampleRate))
	}
	if c.FrameSize <= 0 {
		errs = append(errs, common.NewConfigError("chunk_size", "must be positive, got %d", c.FrameSize))
	}
	if c.Channels <= 0 {
		errs = append(errs, common.NewConfigError("channels", "must be positive, got %d", c.Channels))
	}
	return errors.Join(errs...)
}

// Open resolves config.Device to a backend and opens it
func Open(ctx context.Context, config SourceConfig, logger logging.Logger) (Source, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	if config.FFmpegPath == "" {
		config.FFmpegPath = "ffmpeg"
	}

	backend, address := ParseDeviceID(config.Device)
	logger = logging.OrGlobal(logger).WithFields(logging.Fields{
		"component": "audio_source",
		"backend":   backend,
		"device":    config.Device,
	})

	logger.Debug("Opening audio source", logging.Fields{
		"sample_rate": config.SampleRate,
		"channels":    config.Channels,
		"frame_size":  config.FrameSize,
	})

	switch backend {
	case BackendSynth:
		synth, err := ParseSynth(address)
		if err != nil {
			return nil, err
		}
		synth.Realtime = synth.Realtime || config.Realtime
		return NewSynthSource(synth, config.SampleRate, config.FrameSize), nil
	case BackendWAV:
		return OpenWAV(address, config, logger)
	case BackendFFmpeg:
		return OpenFFmpeg(ctx, address, config, logger)
	default:
		return openPortAudio(address, config, logger)
	}
}

// ListDevices enumerates input devices. backend is "portaudio",
// "ffmpeg:<format>" or "" for portaudio. The query has no side effects.
func ListDevices(ctx context.Context, backend string, ffmpegPath string) ([]DeviceInfo, error) {
	name, format, _ := strings.Cut(backend, ":")
	switch strings.ToLower(name) {
	case "", BackendPortAudio:
		return listPortAudio()
	case BackendFFmpeg:
		if ffmpegPath == "" {
			ffmpegPath = "ffmpeg"
		}
		return ListFFmpegSources(ctx, ffmpegPath, format)
	case BackendSynth:
		return []DeviceInfo{{
			ID:                "synth:60@0.5+noise=0.01",
			Name:              "Synthetic 60 Hz hum",
			Backend:           BackendSynth,
			MaxInputChannels:  1,
			DefaultSampleRate: 44100,
			SampleRates:       commonSampleRates,
		}}, nil
	default:
		return nil, fmt.Errorf("cannot enumerate backend %q", backend)
	}
}

// autoSelect picks the first device whose name suggests a USB microphone,
// then any microphone, then the default input.
func autoSelect(devices []DeviceInfo) (DeviceInfo, bool) {
	for _, hint := range []string{"usb", "microphone", "mic"} {
		for _, d := range devices {
			if d.MaxInputChannels > 0 && strings.Contains(strings.ToLower(d.Name), hint) {
				return d, true
			}
		}
	}
	for _, d := range devices {
		if d.IsDefault && d.MaxInputChannels > 0 {
			return d, true
		}
	}
	for _, d := range devices {
		if d.MaxInputChannels > 0 {
			return d, true
		}
	}
	return DeviceInfo{}, false
}
