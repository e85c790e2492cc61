//go:build !portaudio

package capture

import (
	"github.com/RyanBlaney/zumbido/algorithms/common"
	"github.com/RyanBlaney/zumbido/logging"
)

// Live PortAudio capture needs cgo and libportaudio; build with
// -tags portaudio to enable it. Other backends work without it.

// backendMissing is a configuration problem: the device id names a backend
// this binary cannot drive
func backendMissing(device string) error {
	return &common.ConfigurationError{
		Key:    "device",
		Reason: device + ": portaudio support not compiled in, use an ffmpeg: or wav: device",
		Err:    ErrBackendUnavailable,
	}
}

func listPortAudio() ([]DeviceInfo, error) {
	return nil, backendMissing(BackendPortAudio)
}

func openPortAudio(address string, config SourceConfig, logger logging.Logger) (Source, error) {
	logger.Warn("PortAudio support not compiled in, use an ffmpeg: or wav: device", logging.Fields{
		"device": address,
	})
	return nil, backendMissing(BackendPortAudio + ":" + address)
}
