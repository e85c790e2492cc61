package capture

import (
	"context"
	"io"
	"math"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/RyanBlaney/zumbido/algorithms/common"
)

// Tone is one sinusoid of a synthetic signal
type Tone struct {
	Frequency float64 `json:"frequency"`
	Amplitude float64 `json:"amplitude"`
}

// SynthConfig describes a deterministic test signal: a sum of tones plus
// uniform white noise.
type SynthConfig struct {
	Tones    []Tone        `json:"tones"`
	Noise    float64       `json:"noise"`
	Seed     uint64        `json:"seed"`
	Duration time.Duration `json:"duration"` // 0 runs forever
	Realtime bool          `json:"realtime"`
}

// ParseSynth parses the address part of a synth device id:
//
//	60@0.5,120@0.1+noise=0.01+seed=7+duration=30s+realtime
//
// A tone without "@amp" has amplitude 0.5.
func ParseSynth(address string) (SynthConfig, error) {
	var cfg SynthConfig
	parts := strings.Split(address, "+")

	for i, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		key, value, isOption := strings.Cut(part, "=")
		if i == 0 && !isOption && part != "realtime" {
			tones, err := parseTones(part)
			if err != nil {
				return cfg, err
			}
			cfg.Tones = tones
			continue
		}

		var err error
		switch strings.ToLower(key) {
		case "noise":
			cfg.Noise, err = strconv.ParseFloat(value, 64)
		case "seed":
			cfg.Seed, err = strconv.ParseUint(value, 10, 64)
		case "duration":
			cfg.Duration, err = time.ParseDuration(value)
		case "realtime":
			cfg.Realtime = !isOption || value == "true" || value == "1"
		default:
			return cfg, common.NewConfigError("device", "unknown synth option %q", key)
		}
		if err != nil {
			return cfg, common.NewConfigError("device", "synth option %s: %v", key, err)
		}
	}
	return cfg, nil
}

func parseTones(spec string) ([]Tone, error) {
	var tones []Tone
	for field := range strings.SplitSeq(spec, ",") {
		freqStr, ampStr, hasAmp := strings.Cut(strings.TrimSpace(field), "@")
		freq, err := strconv.ParseFloat(freqStr, 64)
		if err != nil || freq < 0 {
			return nil, common.NewConfigError("device", "bad synth frequency %q", freqStr)
		}
		amp := 0.5
		if hasAmp {
			if amp, err = strconv.ParseFloat(ampStr, 64); err != nil {
				return nil, common.NewConfigError("device", "bad synth amplitude %q", ampStr)
			}
		}
		tones = append(tones, Tone{Frequency: freq, Amplitude: amp})
	}
	return tones, nil
}

// SynthSource generates its configured signal frame by frame. Output is a
// pure function of the config, so runs are reproducible.
type SynthSource struct {
	config    SynthConfig
	format    Format
	rng       *rand.Rand
	position  int64
	limit     int64
	sequence  uint64
	startTime time.Time
}

// NewSynthSource creates a generator at sampleRate emitting frameSize
// samples per frame
func NewSynthSource(config SynthConfig, sampleRate, frameSize int) *SynthSource {
	s := &SynthSource{
		config: config,
		format: Format{SampleRate: sampleRate, Channels: 1, FrameSize: frameSize},
		rng:    rand.New(rand.NewPCG(config.Seed, config.Seed^0x9e3779b97f4a7c15)),
		limit:  -1,
	}
	if config.Duration > 0 {
		s.limit = int64(math.Round(config.Duration.Seconds() * float64(sampleRate)))
	}
	return s
}

func (s *SynthSource) Format() Format {
	return s.format
}

func (s *SynthSource) NextFrame(ctx context.Context) (AudioFrame, error) {
	if err := ctx.Err(); err != nil {
		return AudioFrame{}, err
	}

	n := int64(s.format.FrameSize)
	if s.limit >= 0 {
		n = min(n, s.limit-s.position)
		if n <= 0 {
			return AudioFrame{}, io.EOF
		}
	}

	if s.startTime.IsZero() {
		s.startTime = time.Now()
	}
	offset := time.Duration(float64(s.position) / float64(s.format.SampleRate) * float64(time.Second))
	ts := s.startTime.Add(offset)

	if s.config.Realtime {
		// hand the frame out once its last sample would have been captured
		due := ts.Add(time.Duration(float64(n) / float64(s.format.SampleRate) * float64(time.Second)))
		if err := sleepUntil(ctx, due); err != nil {
			return AudioFrame{}, err
		}
	}

	rate := float64(s.format.SampleRate)
	samples := make([]float64, n)
	for i := range samples {
		t := float64(s.position+int64(i)) / rate
		v := 0.0
		for _, tone := range s.config.Tones {
			v += tone.Amplitude * math.Sin(2*math.Pi*tone.Frequency*t)
		}
		if s.config.Noise > 0 {
			v += s.config.Noise * (2*s.rng.Float64() - 1)
		}
		samples[i] = v
	}

	frame := AudioFrame{
		Samples:    samples,
		SampleRate: s.format.SampleRate,
		Sequence:   s.sequence,
		Timestamp:  ts,
	}
	s.position += n
	s.sequence++
	return frame, nil
}

func (s *SynthSource) Close() error {
	return nil
}

// MemorySource replays a fixed mono signal in frames, then returns io.EOF
type MemorySource struct {
	samples  []float64
	format   Format
	position int
	sequence uint64
	start    time.Time
}

// NewMemorySource wraps samples recorded at sampleRate
func NewMemorySource(samples []float64, sampleRate, frameSize int) *MemorySource {
	return &MemorySource{
		samples: samples,
		format:  Format{SampleRate: sampleRate, Channels: 1, FrameSize: frameSize},
		start:   time.Now(),
	}
}

func (m *MemorySource) Format() Format {
	return m.format
}

func (m *MemorySource) NextFrame(ctx context.Context) (AudioFrame, error) {
	if err := ctx.Err(); err != nil {
		return AudioFrame{}, err
	}
	if m.position >= len(m.samples) {
		return AudioFrame{}, io.EOF
	}

	end := min(m.position+m.format.FrameSize, len(m.samples))
	frame := AudioFrame{
		Samples:    m.samples[m.position:end],
		SampleRate: m.format.SampleRate,
		Sequence:   m.sequence,
		Timestamp:  m.start.Add(time.Duration(float64(m.position) / float64(m.format.SampleRate) * float64(time.Second))),
	}
	m.position = end
	m.sequence++
	return frame, nil
}

func (m *MemorySource) Close() error {
	return nil
}
