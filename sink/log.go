package sink

import (
	"context"
	"strings"

	"github.com/RyanBlaney/zumbido/detect"
	"github.com/RyanBlaney/zumbido/logging"
)

// Log writes each transition as a structured log line
type Log struct {
	logger logging.Logger
}

func NewLog(logger logging.Logger) *Log {
	return &Log{
		logger: logging.OrGlobal(logger).WithFields(logging.Fields{
			"component": "alert_log",
		}),
	}
}

func (l *Log) Name() string {
	return "log"
}

func (l *Log) OnAlertRaised(ctx context.Context, event detect.AlertEvent) error {
	l.logger.WithContext(ctx).Warn("Electrical hum detected", eventFields(event))
	return nil
}

func (l *Log) OnAlertCleared(ctx context.Context, event detect.AlertEvent) error {
	fields := eventFields(event)
	fields["duration"] = event.Duration.String()
	l.logger.WithContext(ctx).Info("Electrical hum cleared", fields)
	return nil
}

func eventFields(event detect.AlertEvent) logging.Fields {
	fields := logging.Fields{
		"alert_id":   event.ID.String(),
		"bands":      strings.Join(event.Bands, ","),
		"frequency":  round1(event.Frequency),
		"prominence": round1(event.Prominence),
		"window":     event.WindowIndex,
	}
	if event.Device != "" {
		fields["device"] = event.Device
	}
	return fields
}
