// Package sink holds the consumers of hum alert transitions: log and
// console output, a JSON-lines event log, WAV snippet recording, MQTT,
// ClickHouse, a badger-backed history and S3 uploads of recordings.
package sink

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/RyanBlaney/zumbido/capture"
	"github.com/RyanBlaney/zumbido/detect"
)

// FrameObserver is implemented by sinks that also need the raw audio,
// such as the recorder's pre-roll buffer.
type FrameObserver interface {
	OnFrame(frame capture.AudioFrame)
}

// Named sinks report a short name for logs and metrics
type Named interface {
	Name() string
}

// NameOf returns the sink's name, or its type when it has none
func NameOf(s detect.AlertSink) string {
	if n, ok := s.(Named); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", s)
}

// Multi fans every transition out to all of its sinks. A failing sink
// does not stop delivery to the others; the failures are joined.
type Multi struct {
	sinks   []detect.AlertSink
	timeout time.Duration
}

func NewMulti(sinks ...detect.AlertSink) *Multi {
	m := &Multi{}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

func (m *Multi) Name() string {
	return "multi"
}

// Add appends a sink
func (m *Multi) Add(s detect.AlertSink) {
	if s != nil {
		m.sinks = append(m.sinks, s)
	}
}

// SetTimeout bounds each sink's delivery. A sink still running when it
// expires sees its context cancelled. 0 disables the bound.
func (m *Multi) SetTimeout(d time.Duration) {
	m.timeout = max(d, 0)
}

func (m *Multi) Sinks() []detect.AlertSink {
	return m.sinks
}

func (m *Multi) Len() int {
	return len(m.sinks)
}

func (m *Multi) OnAlertRaised(ctx context.Context, event detect.AlertEvent) error {
	return m.each(ctx, func(ctx context.Context, s detect.AlertSink) error {
		return s.OnAlertRaised(ctx, event)
	})
}

func (m *Multi) OnAlertCleared(ctx context.Context, event detect.AlertEvent) error {
	return m.each(ctx, func(ctx context.Context, s detect.AlertSink) error {
		return s.OnAlertCleared(ctx, event)
	})
}

func (m *Multi) each(ctx context.Context, fn func(context.Context, detect.AlertSink) error) error {
	var errs []error
	for _, s := range m.sinks {
		if err := m.deliver(ctx, s, fn); err != nil {
			errs = append(errs, &Error{Sink: NameOf(s), Err: err})
		}
	}
	return errors.Join(errs...)
}

func (m *Multi) deliver(ctx context.Context, s detect.AlertSink, fn func(context.Context, detect.AlertSink) error) error {
	if m.timeout == 0 {
		return fn(ctx, s)
	}
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	return fn(ctx, s)
}

// OnFrame forwards the frame to every sink that observes audio
func (m *Multi) OnFrame(frame capture.AudioFrame) {
	for _, s := range m.sinks {
		if o, ok := s.(FrameObserver); ok {
			o.OnFrame(frame)
		}
	}
}

// Close closes every sink that holds resources
func (m *Multi) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if c, ok := s.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, &Error{Sink: NameOf(s), Err: err})
			}
		}
	}
	return errors.Join(errs...)
}

// Error tags a delivery failure with the sink that produced it
type Error struct {
	Sink string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("sink %s: %v", e.Sink, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
