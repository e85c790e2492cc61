package common

import (
	"errors"
	"fmt"
)

// ConfigurationError reports an invalid setting detected at construction.
// Key names the offending setting as it appears in the config file.
type ConfigurationError struct {
	Key    string
	Reason string
	Err    error // optional cause
}

func (e *ConfigurationError) Error() string {
	if e.Key == "" {
		return "invalid configuration: " + e.Reason
	}
	return fmt.Sprintf("invalid configuration %s: %s", e.Key, e.Reason)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// NewConfigError builds a ConfigurationError with a formatted reason
func NewConfigError(key, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Key: key, Reason: fmt.Sprintf(format, args...)}
}

// IsConfigurationError reports whether err wraps a ConfigurationError
func IsConfigurationError(err error) bool {
	var cfgErr *ConfigurationError
	return errors.As(err, &cfgErr)
}

// AnalysisError reports input the analysis stages cannot process, such as a
// window of the wrong length or a non-finite sample.
type AnalysisError struct {
	Stage  string
	Reason string
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("%s: %s", e.Stage, e.Reason)
}
