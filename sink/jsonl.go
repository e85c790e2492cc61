package sink

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/RyanBlaney/zumbido/detect"
)

// JSONL appends one JSON object per transition to a file
type JSONL struct {
	mu     sync.Mutex
	file   io.WriteCloser
	buf    *bufio.Writer
	enc    *json.Encoder
	closed bool
}

// OpenJSONL opens (or creates) path for appending
func OpenJSONL(path string) (*JSONL, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create event log directory: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open event log: %w", err)
	}
	return NewJSONL(f), nil
}

// NewJSONL writes to w, closing it on Close when it is an io.Closer
func NewJSONL(w io.Writer) *JSONL {
	var closer io.WriteCloser
	if c, ok := w.(io.WriteCloser); ok {
		closer = c
	} else {
		closer = nopCloser{w}
	}
	buf := bufio.NewWriter(closer)
	return &JSONL{file: closer, buf: buf, enc: json.NewEncoder(buf)}
}

func (j *JSONL) Name() string {
	return "jsonl"
}

func (j *JSONL) OnAlertRaised(ctx context.Context, event detect.AlertEvent) error {
	return j.write(event)
}

func (j *JSONL) OnAlertCleared(ctx context.Context, event detect.AlertEvent) error {
	return j.write(event)
}

func (j *JSONL) write(event detect.AlertEvent) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return os.ErrClosed
	}
	if err := j.enc.Encode(event); err != nil {
		return fmt.Errorf("failed to encode alert event: %w", err)
	}
	return j.buf.Flush()
}

func (j *JSONL) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	if err := j.buf.Flush(); err != nil {
		j.file.Close()
		return err
	}
	return j.file.Close()
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }
