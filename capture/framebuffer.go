package capture

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/RyanBlaney/zumbido/algorithms/common"
)

// OverrunPolicy decides what Push does when the buffer is full
type OverrunPolicy string

const (
	// DropOldest discards the oldest unread samples to make room
	DropOldest OverrunPolicy = "drop-oldest"
	// RejectNew refuses the incoming frame with a BufferOverrunError
	RejectNew OverrunPolicy = "error"
)

// ParseOverrunPolicy accepts the config spellings of a policy
func ParseOverrunPolicy(s string) (OverrunPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "drop-oldest", "drop_oldest", "drop":
		return DropOldest, nil
	case "error", "reject":
		return RejectNew, nil
	default:
		return "", common.NewConfigError("overrun_policy", "unknown policy %q (want drop-oldest or error)", s)
	}
}

// FrameBufferConfig sizes the buffer
type FrameBufferConfig struct {
	SampleRate int           `json:"sample_rate"`
	WindowSize int           `json:"window_size"`
	HopSize    int           `json:"hop_size"` // 0 means WindowSize
	Capacity   int           `json:"capacity"` // samples, 0 means 8 windows
	Policy     OverrunPolicy `json:"overrun_policy"`
}

// FrameBufferStats counts samples through the buffer
type FrameBufferStats struct {
	FramesPushed    uint64 `json:"frames_pushed"`
	SamplesPushed   uint64 `json:"samples_pushed"`
	SamplesDropped  uint64 `json:"samples_dropped"`
	SamplesRejected uint64 `json:"samples_rejected"`
	Windows         uint64 `json:"windows"`
	Buffered        int    `json:"buffered"`
}

// FrameBuffer is the bounded queue between one producer pushing frames and
// one consumer pulling analysis windows. Push never blocks. Windows come out
// in capture order, advancing by the hop size so they may overlap.
type FrameBuffer struct {
	config FrameBufferConfig

	mu     sync.Mutex
	ring   *common.SampleRing
	closed bool
	stats  FrameBufferStats

	// absolute sample offset of the ring head and the wall-clock time of
	// sample 0
	head   int64
	origin time.Time
	index  uint64

	ready chan struct{}
	done  chan struct{}
}

// NewFrameBuffer validates config and allocates the ring
func NewFrameBuffer(config FrameBufferConfig) (*FrameBuffer, error) {
	if config.SampleRate <= 0 {
		return nil, common.NewConfigError("sample_rate", "must be positive, got %d", config.SampleRate)
	}
	if config.WindowSize < 2 {
		return nil, common.NewConfigError("window_size", "must be at least 2, got %d", config.WindowSize)
	}
	if config.HopSize == 0 {
		config.HopSize = config.WindowSize
	}
	if config.HopSize < 1 || config.HopSize > config.WindowSize {
		return nil, common.NewConfigError("hop_size", "must be in [1, %d], got %d", config.WindowSize, config.HopSize)
	}
	if config.Capacity == 0 {
		config.Capacity = 8 * config.WindowSize
	}
	if config.Capacity < config.WindowSize {
		return nil, common.NewConfigError("buffer_windows", "capacity %d is smaller than one window (%d)", config.Capacity, config.WindowSize)
	}
	if config.Policy == "" {
		config.Policy = DropOldest
	}
	if config.Policy != DropOldest && config.Policy != RejectNew {
		return nil, common.NewConfigError("overrun_policy", "unknown policy %q", config.Policy)
	}

	return &FrameBuffer{
		config: config,
		ring:   common.NewSampleRing(config.Capacity),
		ready:  make(chan struct{}, 1),
		done:   make(chan struct{}),
	}, nil
}

// Config returns the effective configuration
func (b *FrameBuffer) Config() FrameBufferConfig {
	return b.config
}

// Push appends the frame's samples. When they do not fit, DropOldest
// discards the oldest samples and returns nil, RejectNew leaves the buffer
// untouched and returns a *BufferOverrunError.
func (b *FrameBuffer) Push(frame AudioFrame) error {
	if frame.SampleRate != b.config.SampleRate {
		return &common.AnalysisError{
			Stage:  "frame_buffer",
			Reason: fmt.Sprintf("frame sample rate %d, buffer expects %d", frame.SampleRate, b.config.SampleRate),
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBufferClosed
	}

	n := len(frame.Samples)
	if n > b.ring.Space() && b.config.Policy == RejectNew {
		b.stats.SamplesRejected += uint64(n)
		return &BufferOverrunError{Requested: n, Free: b.ring.Space()}
	}

	if b.origin.IsZero() && !frame.Timestamp.IsZero() {
		b.origin = frame.Timestamp.Add(-b.sampleOffset(b.head + int64(b.ring.Available())))
	}

	dropped := b.ring.Write(frame.Samples)
	b.head += int64(dropped)
	b.stats.FramesPushed++
	b.stats.SamplesPushed += uint64(n)
	b.stats.SamplesDropped += uint64(dropped)

	b.signal()
	return nil
}

// TryWindow returns the next window if enough samples are buffered. It
// never blocks; false means the consumer is starved.
func (b *FrameBuffer) TryWindow() (AnalysisWindow, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nextLocked()
}

func (b *FrameBuffer) nextLocked() (AnalysisWindow, bool) {
	if b.ring.Available() < b.config.WindowSize {
		return AnalysisWindow{}, false
	}

	samples := make([]float64, b.config.WindowSize)
	b.ring.Peek(samples)

	w := AnalysisWindow{
		Samples:     samples,
		SampleRate:  b.config.SampleRate,
		Index:       b.index,
		StartSample: b.head,
	}
	if !b.origin.IsZero() {
		w.Timestamp = b.origin.Add(b.sampleOffset(b.head))
	}

	b.ring.Discard(b.config.HopSize)
	b.head += int64(b.config.HopSize)
	b.index++
	b.stats.Windows++
	return w, true
}

// Window blocks until a window is available, ctx is done, or the buffer is
// closed and holds less than a full window.
func (b *FrameBuffer) Window(ctx context.Context) (AnalysisWindow, error) {
	for {
		b.mu.Lock()
		w, ok := b.nextLocked()
		closed := b.closed
		b.mu.Unlock()

		if ok {
			return w, nil
		}
		if closed {
			return AnalysisWindow{}, ErrBufferClosed
		}

		select {
		case <-ctx.Done():
			return AnalysisWindow{}, ctx.Err()
		case <-b.ready:
		case <-b.done:
		}
	}
}

// Close stops accepting frames. Buffered full windows can still be read.
func (b *FrameBuffer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.done)
}

// Stats returns a snapshot of the counters
func (b *FrameBuffer) Stats() FrameBufferStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.stats
	s.Buffered = b.ring.Available()
	return s
}

func (b *FrameBuffer) signal() {
	select {
	case b.ready <- struct{}{}:
	default:
	}
}

func (b *FrameBuffer) sampleOffset(samples int64) time.Duration {
	return time.Duration(float64(samples) / float64(b.config.SampleRate) * float64(time.Second))
}
