package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/RyanBlaney/zumbido/logging"
)

// WAVSource streams a PCM WAV file as mono frames at the file's own rate
type WAVSource struct {
	path     string
	file     *os.File
	decoder  *wav.Decoder
	buf      *audio.IntBuffer
	format   Format
	scale    float64
	bias     int // 8-bit WAV is unsigned
	realtime bool
	sequence uint64
	position int64
	start    time.Time
	logger   logging.Logger
}

// OpenWAV opens path for reading. The file's sample rate wins over
// config.SampleRate, and a mismatch is logged.
func OpenWAV(path string, config SourceConfig, logger logging.Logger) (*WAVSource, error) {
	logger = logging.OrGlobal(logger).WithFields(logging.Fields{
		"component": "wav_source",
		"path":      path,
	})

	f, err := os.Open(path)
	if err != nil {
		return nil, &DeviceError{Device: BackendWAV + ":" + path, Op: "open", Err: err}
	}

	decoder := wav.NewDecoder(f)
	if !decoder.IsValidFile() {
		f.Close()
		return nil, &DeviceError{Device: BackendWAV + ":" + path, Op: "open", Err: errors.New("invalid WAV file")}
	}

	format := decoder.Format()
	bitDepth := int(decoder.BitDepth)
	if bitDepth == 0 {
		bitDepth = 16
	}

	bias := 0
	if bitDepth == 8 {
		bias = 128
	}

	if format.SampleRate != config.SampleRate {
		logger.Warn("WAV sample rate differs from configuration, using file rate", logging.Fields{
			"file_rate":   format.SampleRate,
			"config_rate": config.SampleRate,
		})
	}

	logger.Debug("WAV source opened", logging.Fields{
		"sample_rate": format.SampleRate,
		"channels":    format.NumChannels,
		"bit_depth":   bitDepth,
	})

	return &WAVSource{
		path:    path,
		file:    f,
		decoder: decoder,
		buf: &audio.IntBuffer{
			Format: format,
			Data:   make([]int, config.FrameSize*format.NumChannels),
		},
		format: Format{
			SampleRate: format.SampleRate,
			Channels:   format.NumChannels,
			FrameSize:  config.FrameSize,
		},
		scale:    1.0 / float64(int64(1)<<(bitDepth-1)),
		bias:     bias,
		realtime: config.Realtime,
		start:    time.Now(),
		logger:   logger,
	}, nil
}

func (w *WAVSource) Format() Format {
	return w.format
}

func (w *WAVSource) NextFrame(ctx context.Context) (AudioFrame, error) {
	if err := ctx.Err(); err != nil {
		return AudioFrame{}, err
	}

	n, err := w.decoder.PCMBuffer(w.buf)
	if err != nil && !errors.Is(err, io.EOF) {
		return AudioFrame{}, &DeviceError{Device: BackendWAV + ":" + w.path, Op: "read", Err: err}
	}
	if n == 0 {
		return AudioFrame{}, io.EOF
	}

	// the last read of a file may come back short
	n -= n % w.format.Channels
	interleaved := make([]float64, n)
	for i, v := range w.buf.Data[:n] {
		interleaved[i] = float64(v-w.bias) * w.scale
	}

	samples, err := Downmix(interleaved, w.format.Channels, w.format.SampleRate)
	if err != nil {
		return AudioFrame{}, &DeviceError{Device: BackendWAV + ":" + w.path, Op: "read", Err: err}
	}

	offset := time.Duration(float64(w.position) / float64(w.format.SampleRate) * float64(time.Second))
	ts := w.start.Add(offset)

	if w.realtime {
		if err := sleepUntil(ctx, ts.Add(time.Duration(float64(len(samples))/float64(w.format.SampleRate)*float64(time.Second)))); err != nil {
			return AudioFrame{}, err
		}
	}

	frame := AudioFrame{
		Samples:    samples,
		SampleRate: w.format.SampleRate,
		Sequence:   w.sequence,
		Timestamp:  ts,
	}
	w.sequence++
	w.position += int64(len(samples))
	return frame, nil
}

func (w *WAVSource) Close() error {
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	if err != nil {
		return fmt.Errorf("close %s: %w", w.path, err)
	}
	return nil
}

func sleepUntil(ctx context.Context, due time.Time) error {
	timer := time.NewTimer(time.Until(due))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
