package capture

import (
	"errors"
	"fmt"
)

var (
	// ErrBufferClosed is returned once a closed frame buffer has been drained
	ErrBufferClosed = errors.New("frame buffer closed")

	// ErrBackendUnavailable means the binary was built without the backend
	ErrBackendUnavailable = errors.New("audio backend not available in this build")

	// ErrDeviceNotFound means no device matched the requested id
	ErrDeviceNotFound = errors.New("device not found")
)

// DeviceError reports an input device that could not be opened or stopped
// delivering audio. It is fatal to the acquisition loop.
type DeviceError struct {
	Device string
	Op     string
	Err    error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("device %s: %s: %v", e.Device, e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// OverrunError reports samples the device produced that the source failed
// to read in time. The frame returned alongside it is still valid.
type OverrunError struct {
	Device string
	Frames uint64
}

func (e *OverrunError) Error() string {
	return fmt.Sprintf("device %s: input overflowed at frame %d", e.Device, e.Frames)
}

// BufferOverrunError reports a frame rejected by a full frame buffer under
// the error overrun policy.
type BufferOverrunError struct {
	Requested int
	Free      int
}

func (e *BufferOverrunError) Error() string {
	return fmt.Sprintf("frame buffer overrun: %d samples pushed, %d free", e.Requested, e.Free)
}

// IsDeviceError reports whether err wraps a DeviceError
func IsDeviceError(err error) bool {
	var devErr *DeviceError
	return errors.As(err, &devErr)
}

// IsOverrun reports whether err is one of the recoverable overrun errors
func IsOverrun(err error) bool {
	var overrun *OverrunError
	var bufOverrun *BufferOverrunError
	return errors.As(err, &overrun) || errors.As(err, &bufOverrun)
}
