//go:build portaudio

package capture

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-audio/audio"
	"github.com/gordonklaus/portaudio"

	"github.com/RyanBlaney/zumbido/logging"
)

// PortAudioSource captures from a live input device. Initialize and
// Terminate are reference counted by PortAudio, so every source holds its
// own reference.
type PortAudioSource struct {
	device   string
	stream   *portaudio.Stream
	buf      audio.Float32Buffer
	format   Format
	sequence uint64
	logger   logging.Logger
}

func toDeviceInfo(d *portaudio.DeviceInfo, isDefault bool) DeviceInfo {
	return DeviceInfo{
		ID:                BackendPortAudio + ":" + strconv.Itoa(d.Index),
		Name:              d.Name,
		Backend:           BackendPortAudio,
		MaxInputChannels:  d.MaxInputChannels,
		DefaultSampleRate: d.DefaultSampleRate,
		SampleRates:       supportedRates(d),
		IsDefault:         isDefault,
	}
}

func supportedRates(d *portaudio.DeviceInfo) []int {
	var rates []int
	for _, rate := range commonSampleRates {
		p := portaudio.HighLatencyParameters(d, nil)
		p.Input.Channels = 1
		p.SampleRate = float64(rate)
		if portaudio.IsFormatSupported(p, make([]float32, 1)) == nil {
			rates = append(rates, rate)
		}
	}
	return rates
}

func inputDevices() ([]*portaudio.DeviceInfo, []DeviceInfo, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, nil, &DeviceError{Device: BackendPortAudio, Op: "list devices", Err: err}
	}

	var defaultName string
	if def, err := portaudio.DefaultInputDevice(); err == nil && def != nil {
		defaultName = def.Name
	}

	var raw []*portaudio.DeviceInfo
	var infos []DeviceInfo
	for _, d := range devices {
		if d.MaxInputChannels == 0 {
			continue
		}
		raw = append(raw, d)
		infos = append(infos, toDeviceInfo(d, d.Name == defaultName))
	}
	return raw, infos, nil
}

func listPortAudio() ([]DeviceInfo, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, &DeviceError{Device: BackendPortAudio, Op: "initialize", Err: err}
	}
	defer portaudio.Terminate()

	_, infos, err := inputDevices()
	return infos, err
}

// resolveDevice matches address against a device index, then a
// case-insensitive name prefix. "auto" and "" use autoSelect.
func resolveDevice(address string, raw []*portaudio.DeviceInfo, infos []DeviceInfo) (*portaudio.DeviceInfo, error) {
	if address == "" || strings.EqualFold(address, "auto") {
		chosen, ok := autoSelect(infos)
		if !ok {
			return nil, ErrDeviceNotFound
		}
		for i := range infos {
			if infos[i].ID == chosen.ID {
				return raw[i], nil
			}
		}
	}

	if idx, err := strconv.Atoi(address); err == nil {
		for _, d := range raw {
			if d.Index == idx {
				return d, nil
			}
		}
	}

	lower := strings.ToLower(address)
	for _, d := range raw {
		if strings.HasPrefix(strings.ToLower(d.Name), lower) {
			return d, nil
		}
	}
	return nil, ErrDeviceNotFound
}

func openPortAudio(address string, config SourceConfig, logger logging.Logger) (Source, error) {
	device := BackendPortAudio + ":" + address
	if err := portaudio.Initialize(); err != nil {
		return nil, &DeviceError{Device: device, Op: "initialize", Err: err}
	}

	raw, infos, err := inputDevices()
	if err != nil {
		portaudio.Terminate()
		return nil, err
	}

	info, err := resolveDevice(address, raw, infos)
	if err != nil {
		portaudio.Terminate()
		return nil, &DeviceError{Device: device, Op: "open", Err: err}
	}

	channels := max(1, min(config.Channels, info.MaxInputChannels))
	p := portaudio.HighLatencyParameters(info, nil)
	p.Input.Channels = channels
	p.Output.Channels = 0
	p.SampleRate = float64(config.SampleRate)
	p.FramesPerBuffer = config.FrameSize

	buf := audio.Float32Buffer{
		Format: &audio.Format{NumChannels: channels, SampleRate: config.SampleRate},
		Data:   make([]float32, config.FrameSize*channels),
	}

	stream, err := portaudio.OpenStream(p, buf.Data)
	if err != nil {
		portaudio.Terminate()
		return nil, &DeviceError{Device: device, Op: "open input", Err: err}
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, &DeviceError{Device: device, Op: "start input", Err: err}
	}

	logger.Info("Capturing from input device", logging.Fields{
		"name":        info.Name,
		"index":       info.Index,
		"channels":    channels,
		"sample_rate": config.SampleRate,
	})

	return &PortAudioSource{
		device: fmt.Sprintf("%s:%d", BackendPortAudio, info.Index),
		stream: stream,
		buf:    buf,
		format: Format{SampleRate: config.SampleRate, Channels: channels, FrameSize: config.FrameSize},
		logger: logger,
	}, nil
}

func (s *PortAudioSource) Format() Format {
	return s.format
}

// NextFrame blocks in Pa_ReadStream for one buffer. ctx is checked between
// reads; a read in progress always completes within one frame duration.
func (s *PortAudioSource) NextFrame(ctx context.Context) (AudioFrame, error) {
	if err := ctx.Err(); err != nil {
		return AudioFrame{}, err
	}

	var overrun error
	if err := s.stream.Read(); err != nil {
		if !errors.Is(err, portaudio.InputOverflowed) {
			return AudioFrame{}, &DeviceError{Device: s.device, Op: "read", Err: err}
		}
		overrun = &OverrunError{Device: s.device, Frames: s.sequence}
	}

	fb := s.buf.AsFloatBuffer()
	samples, err := Downmix(fb.Data, s.format.Channels, s.format.SampleRate)
	if err != nil {
		return AudioFrame{}, &DeviceError{Device: s.device, Op: "read", Err: err}
	}

	frame := AudioFrame{
		Samples:    samples,
		SampleRate: s.format.SampleRate,
		Sequence:   s.sequence,
		Timestamp:  time.Now().Add(-s.format.FrameDuration()),
	}
	s.sequence++
	return frame, overrun
}

func (s *PortAudioSource) Close() error {
	defer portaudio.Terminate()
	if err := s.stream.Stop(); err != nil {
		s.stream.Close()
		return &DeviceError{Device: s.device, Op: "stop", Err: err}
	}
	if err := s.stream.Close(); err != nil {
		return &DeviceError{Device: s.device, Op: "close", Err: err}
	}
	return nil
}
