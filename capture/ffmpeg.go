package capture

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/RyanBlaney/zumbido/algorithms/common"
	"github.com/RyanBlaney/zumbido/logging"
)

// FFmpegSource reads live or file audio through an ffmpeg child process
// that resamples to the configured rate, down-mixes to mono and writes
// raw float64 little-endian PCM to stdout.
type FFmpegSource struct {
	device   string
	format   Format
	cmd      *exec.Cmd
	cancel   context.CancelFunc
	stdout   io.ReadCloser
	stderr   *tailBuffer
	raw      []byte
	sequence uint64
	position int64
	start    time.Time
	closed   bool
	exitErr  error
	logger   logging.Logger
}

// ffmpegArgs builds the command line for an address of the form
// "<format>:<device>" (alsa:hw:1,0, pulse:default, avfoundation::0,
// dshow:audio=Mic) or "file:<path>".
func ffmpegArgs(address string, config SourceConfig) ([]string, error) {
	inputFormat, device, ok := strings.Cut(address, ":")
	if !ok || device == "" {
		return nil, common.NewConfigError("device", "ffmpeg device must be <format>:<device> or file:<path>, got %q", address)
	}

	args := []string{"-hide_banner", "-nostdin", "-v", "error"}
	if inputFormat == "file" {
		if config.Realtime {
			args = append(args, "-re")
		}
		args = append(args, "-i", device)
	} else {
		args = append(args,
			"-f", inputFormat,
			"-ac", strconv.Itoa(config.Channels), // capture channels
			"-i", device,
		)
	}

	args = append(args,
		"-map", "0:a:0",
		"-vn",
		"-f", "f64le",
		"-ac", "1",
		"-ar", strconv.Itoa(config.SampleRate),
		"pipe:1",
	)
	return args, nil
}

// OpenFFmpeg starts ffmpeg for address. The process lives until Close or
// until ctx is cancelled.
func OpenFFmpeg(ctx context.Context, address string, config SourceConfig, logger logging.Logger) (*FFmpegSource, error) {
	device := BackendFFmpeg + ":" + address
	logger = logging.OrGlobal(logger).WithFields(logging.Fields{
		"component": "ffmpeg_source",
		"device":    device,
	})

	args, err := ffmpegArgs(address, config)
	if err != nil {
		return nil, err
	}

	procCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(procCtx, config.FFmpegPath, args...)
	stderr := newTailBuffer(4096)
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, &DeviceError{Device: device, Op: "open", Err: err}
	}

	logger.Debug("Starting FFmpeg capture", logging.Fields{
		"command": fmt.Sprintf("%s %s", config.FFmpegPath, strings.Join(args, " ")),
	})

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, &DeviceError{Device: device, Op: "start ffmpeg", Err: err}
	}

	return &FFmpegSource{
		device: device,
		format: Format{
			SampleRate: config.SampleRate,
			Channels:   config.Channels,
			FrameSize:  config.FrameSize,
		},
		cmd:    cmd,
		cancel: cancel,
		stdout: stdout,
		stderr: stderr,
		raw:    make([]byte, config.FrameSize*8),
		start:  time.Now(),
		logger: logger,
	}, nil
}

func (f *FFmpegSource) Format() Format {
	return f.format
}

func (f *FFmpegSource) NextFrame(ctx context.Context) (AudioFrame, error) {
	if err := ctx.Err(); err != nil {
		return AudioFrame{}, err
	}
	if f.closed {
		if f.exitErr != nil {
			return AudioFrame{}, f.exitErr
		}
		return AudioFrame{}, io.EOF
	}

	n, err := io.ReadFull(f.stdout, f.raw)
	switch {
	case errors.Is(err, io.EOF):
		return AudioFrame{}, f.finish()
	case errors.Is(err, io.ErrUnexpectedEOF):
		// short final frame, the next call reports the end
	case err != nil:
		if ctx.Err() != nil {
			return AudioFrame{}, ctx.Err()
		}
		return AudioFrame{}, &DeviceError{Device: f.device, Op: "read", Err: err}
	}

	samples := decodeF64LE(f.raw[:n])
	if len(samples) == 0 {
		return AudioFrame{}, f.finish()
	}

	frame := AudioFrame{
		Samples:    samples,
		SampleRate: f.format.SampleRate,
		Sequence:   f.sequence,
		Timestamp:  f.start.Add(time.Duration(float64(f.position) / float64(f.format.SampleRate) * float64(time.Second))),
	}
	f.sequence++
	f.position += int64(len(samples))
	return frame, nil
}

// finish reaps the process after stdout ends. A clean exit is io.EOF, a
// failed one a DeviceError carrying ffmpeg's last stderr output.
func (f *FFmpegSource) finish() error {
	err := f.cmd.Wait()
	f.closed = true
	f.cancel()
	if err == nil {
		return io.EOF
	}
	msg := strings.TrimSpace(f.stderr.String())
	if msg != "" {
		err = fmt.Errorf("%w: %s", err, msg)
	}
	f.exitErr = &DeviceError{Device: f.device, Op: "capture", Err: err}
	f.logger.Error(err, "FFmpeg capture ended")
	return f.exitErr
}

func (f *FFmpegSource) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true
	f.cancel()
	// the process was killed, so its exit status carries no information
	_ = f.cmd.Wait()
	return nil
}

func decodeF64LE(data []byte) []float64 {
	data = data[:len(data)-len(data)%8]
	samples := make([]float64, len(data)/8)
	for i := range samples {
		samples[i] = math.Float64frombits(binary.LittleEndian.Uint64(data[i*8:]))
	}
	return samples
}

// ListFFmpegSources asks ffmpeg which capture sources an input format
// offers. format defaults to pulse.
func ListFFmpegSources(ctx context.Context, ffmpegPath, format string) ([]DeviceInfo, error) {
	if format == "" {
		format = "pulse"
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, ffmpegPath, "-hide_banner", "-sources", format)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil && len(out) == 0 {
		return nil, &DeviceError{
			Device: BackendFFmpeg + ":" + format,
			Op:     "list sources",
			Err:    fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String())),
		}
	}
	return parseFFmpegSources(format, out), nil
}

// parseFFmpegSources reads `ffmpeg -sources` output:
//
//	Auto-detected sources for pulse:
//	* alsa_input.pci.analog-stereo [Built-in Audio Analog Stereo]
//	  alsa_input.usb-0d8c.mono [USB PnP Sound Device Mono]
func parseFFmpegSources(format string, out []byte) []DeviceInfo {
	var devices []DeviceInfo
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "Auto-detected") || strings.TrimSpace(line) == "" {
			continue
		}

		isDefault := strings.HasPrefix(strings.TrimSpace(line), "*")
		line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "*"))

		name, desc := line, line
		if open := strings.Index(line, " ["); open > 0 && strings.HasSuffix(line, "]") {
			name = line[:open]
			desc = line[open+2 : len(line)-1]
		}

		// monitors of output sinks are not microphones
		if strings.HasSuffix(name, ".monitor") {
			continue
		}

		devices = append(devices, DeviceInfo{
			ID:               BackendFFmpeg + ":" + format + ":" + name,
			Name:             desc,
			Backend:          BackendFFmpeg,
			MaxInputChannels: 2,
			SampleRates:      commonSampleRates,
			IsDefault:        isDefault,
		})
	}
	return devices
}

// tailBuffer keeps the last max bytes written to it
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func newTailBuffer(limit int) *tailBuffer {
	return &tailBuffer{max: limit}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = t.buf[over:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
