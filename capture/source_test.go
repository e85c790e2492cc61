package capture

import (
	"context"
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RyanBlaney/zumbido/algorithms/common"
	"github.com/RyanBlaney/zumbido/logging"
)

func TestParseDeviceID(t *testing.T) {
	tests := []struct {
		id      string
		backend string
		address string
	}{
		{"synth:60@0.5", BackendSynth, "60@0.5"},
		{"wav:/tmp/panel.wav", BackendWAV, "/tmp/panel.wav"},
		{"ffmpeg:alsa:hw:1,0", BackendFFmpeg, "alsa:hw:1,0"},
		{"PortAudio:3", BackendPortAudio, "3"},
		{"USB Audio", BackendPortAudio, "USB Audio"},
		{"auto", BackendPortAudio, "auto"},
		{"hw:1,0", BackendPortAudio, "hw:1,0"},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			backend, address := ParseDeviceID(tt.id)
			assert.Equal(t, tt.backend, backend)
			assert.Equal(t, tt.address, address)
		})
	}
}

func TestParseSynth(t *testing.T) {
	cfg, err := ParseSynth("60@0.25,120+noise=0.01+seed=7+duration=2s+realtime")
	require.NoError(t, err)

	assert.Equal(t, []Tone{{60, 0.25}, {120, 0.5}}, cfg.Tones)
	assert.Equal(t, 0.01, cfg.Noise)
	assert.Equal(t, uint64(7), cfg.Seed)
	assert.Equal(t, 2*time.Second, cfg.Duration)
	assert.True(t, cfg.Realtime)

	cfg, err = ParseSynth("noise=0.1")
	require.NoError(t, err)
	assert.Empty(t, cfg.Tones)
	assert.Equal(t, 0.1, cfg.Noise)

	_, err = ParseSynth("sixty")
	assert.True(t, common.IsConfigurationError(err))

	_, err = ParseSynth("60+volume=3")
	assert.True(t, common.IsConfigurationError(err))
}

func TestSynthSourceIsDeterministic(t *testing.T) {
	cfg := SynthConfig{Tones: []Tone{{Frequency: 60, Amplitude: 0.5}}, Noise: 0.01, Seed: 42}
	a := NewSynthSource(cfg, 44100, 1024)
	b := NewSynthSource(cfg, 44100, 1024)

	for range 3 {
		fa, err := a.NextFrame(context.Background())
		require.NoError(t, err)
		fb, err := b.NextFrame(context.Background())
		require.NoError(t, err)
		assert.Equal(t, fa.Samples, fb.Samples)
		assert.Equal(t, fa.Sequence, fb.Sequence)
	}
}

func TestSynthSourceTone(t *testing.T) {
	src := NewSynthSource(SynthConfig{Tones: []Tone{{Frequency: 100, Amplitude: 0.5}}}, 1000, 10)

	frame, err := src.NextFrame(context.Background())
	require.NoError(t, err)
	require.Len(t, frame.Samples, 10)
	assert.InDelta(t, 0.0, frame.Samples[0], 1e-12)
	assert.InDelta(t, 0.5*math.Sin(2*math.Pi*0.1), frame.Samples[1], 1e-12)

	frame, err = src.NextFrame(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), frame.Sequence)
	assert.Equal(t, 10*time.Millisecond, frame.Timestamp.Sub(src.startTime))
}

func TestSynthSourceDuration(t *testing.T) {
	src := NewSynthSource(SynthConfig{Duration: 25 * time.Millisecond}, 1000, 10)

	var total int
	for {
		frame, err := src.NextFrame(context.Background())
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		total += len(frame.Samples)
	}
	assert.Equal(t, 25, total)
}

func TestSynthSourceRealtimeHonoursContext(t *testing.T) {
	src := NewSynthSource(SynthConfig{Realtime: true}, 1000, 5000)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := src.NextFrame(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemorySource(t *testing.T) {
	src := NewMemorySource(ramp(0, 25), 1000, 10)
	ctx := context.Background()

	var lens []int
	for {
		frame, err := src.NextFrame(ctx)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		lens = append(lens, len(frame.Samples))
	}
	assert.Equal(t, []int{10, 10, 5}, lens)
}

func TestDownmix(t *testing.T) {
	mono, err := Downmix([]float64{1, 3, -1, 1}, 2, 8000)
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 0}, mono)

	same, err := Downmix([]float64{1, 2}, 1, 8000)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2}, same)

	_, err = Downmix([]float64{1, 2, 3}, 2, 8000)
	assert.Error(t, err)
}

func writeTestWAV(t *testing.T, path string, sampleRate, channels int, data []int) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	enc := wav.NewEncoder(f, sampleRate, 16, channels, 1)
	require.NoError(t, enc.Write(&audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}))
	require.NoError(t, enc.Close())
}

func TestWAVSourceDownmixesAndScales(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stereo.wav")
	// three stereo frames
	writeTestWAV(t, path, 8000, 2, []int{16384, 16384, -16384, 0, 0, 0})

	src, err := OpenWAV(path, SourceConfig{SampleRate: 44100, FrameSize: 2}, &logging.NoOpLogger{})
	require.NoError(t, err)
	defer src.Close()

	assert.Equal(t, 8000, src.Format().SampleRate)
	assert.Equal(t, 2, src.Format().Channels)

	var samples []float64
	for {
		frame, err := src.NextFrame(context.Background())
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		assert.Equal(t, 8000, frame.SampleRate)
		samples = append(samples, frame.Samples...)
	}

	require.Len(t, samples, 3)
	assert.InDelta(t, 0.5, samples[0], 1e-9)
	assert.InDelta(t, -0.25, samples[1], 1e-9)
	assert.InDelta(t, 0.0, samples[2], 1e-9)
}

func TestOpenWAVMissingFile(t *testing.T) {
	_, err := OpenWAV(filepath.Join(t.TempDir(), "missing.wav"), SourceConfig{FrameSize: 1024}, nil)
	assert.True(t, IsDeviceError(err))
}

func TestOpenSynthThroughDeviceID(t *testing.T) {
	cfg := DefaultSourceConfig()
	cfg.Device = "synth:60@0.5+duration=100ms"

	src, err := Open(context.Background(), cfg, &logging.NoOpLogger{})
	require.NoError(t, err)
	defer src.Close()

	assert.Equal(t, 44100, src.Format().SampleRate)
	frame, err := src.NextFrame(context.Background())
	require.NoError(t, err)
	assert.Len(t, frame.Samples, 1024)
}

func TestOpenValidatesConfig(t *testing.T) {
	_, err := Open(context.Background(), SourceConfig{Device: "synth:60"}, nil)
	assert.True(t, common.IsConfigurationError(err))
}

func TestAutoSelectPrefersUSB(t *testing.T) {
	devices := []DeviceInfo{
		{ID: "portaudio:0", Name: "Built-in Output", MaxInputChannels: 0},
		{ID: "portaudio:1", Name: "Built-in Microphone", MaxInputChannels: 2, IsDefault: true},
		{ID: "portaudio:2", Name: "USB PnP Sound Device", MaxInputChannels: 1},
	}

	chosen, ok := autoSelect(devices)
	require.True(t, ok)
	assert.Equal(t, "portaudio:2", chosen.ID)

	chosen, ok = autoSelect(devices[:2])
	require.True(t, ok)
	assert.Equal(t, "portaudio:1", chosen.ID)

	_, ok = autoSelect(devices[:1])
	assert.False(t, ok)
}

func TestParseFFmpegSources(t *testing.T) {
	out := []byte(`Auto-detected sources for pulse:
* alsa_input.pci-0000_00_1f.3.analog-stereo [Built-in Audio Analog Stereo]
  alsa_output.pci-0000_00_1f.3.analog-stereo.monitor [Monitor of Built-in Audio]
  alsa_input.usb-0d8c_USB_PnP.mono-fallback [USB PnP Sound Device Mono]
`)

	devices := parseFFmpegSources("pulse", out)
	require.Len(t, devices, 2)
	assert.Equal(t, "ffmpeg:pulse:alsa_input.pci-0000_00_1f.3.analog-stereo", devices[0].ID)
	assert.Equal(t, "Built-in Audio Analog Stereo", devices[0].Name)
	assert.True(t, devices[0].IsDefault)
	assert.Equal(t, "USB PnP Sound Device Mono", devices[1].Name)
	assert.False(t, devices[1].IsDefault)
}

func TestFFmpegArgs(t *testing.T) {
	args, err := ffmpegArgs("alsa:hw:1,0", SourceConfig{SampleRate: 48000, Channels: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"-hide_banner", "-nostdin", "-v", "error",
		"-f", "alsa", "-ac", "2", "-i", "hw:1,0",
		"-map", "0:a:0", "-vn", "-f", "f64le", "-ac", "1", "-ar", "48000", "pipe:1",
	}, args)

	args, err = ffmpegArgs("file:/data/panel.mp3", SourceConfig{SampleRate: 44100, Realtime: true})
	require.NoError(t, err)
	assert.Contains(t, args, "-re")
	assert.Contains(t, args, "/data/panel.mp3")

	_, err = ffmpegArgs("alsa", SourceConfig{})
	assert.True(t, common.IsConfigurationError(err))
}

func TestDecodeF64LE(t *testing.T) {
	raw := make([]byte, 0, 20)
	for _, v := range []float64{0.5, -1} {
		bits := math.Float64bits(v)
		for i := range 8 {
			raw = append(raw, byte(bits>>(8*i)))
		}
	}
	raw = append(raw, 1, 2, 3) // partial trailing sample

	assert.Equal(t, []float64{0.5, -1}, decodeF64LE(raw))
}

func TestTailBuffer(t *testing.T) {
	tb := newTailBuffer(5)
	_, _ = tb.Write([]byte("hello "))
	_, _ = tb.Write([]byte("world"))
	assert.Equal(t, "world", tb.String())
}
