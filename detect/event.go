package detect

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Direction tells whether an alert was raised or cleared
type Direction string

const (
	Raised  Direction = "raised"
	Cleared Direction = "cleared"
)

// AlertEvent is emitted once when a band enters Alerting and once when it
// returns to Idle. Events are values and never change after emission.
type AlertEvent struct {
	ID          uuid.UUID     `json:"id" msgpack:"id"`
	Timestamp   time.Time     `json:"timestamp" msgpack:"timestamp"`
	Direction   Direction     `json:"direction" msgpack:"direction"`
	Bands       []string      `json:"bands" msgpack:"bands"`
	Frequency   float64       `json:"frequency_hz" msgpack:"frequency_hz"`
	Magnitude   float64       `json:"magnitude" msgpack:"magnitude"`
	Prominence  float64       `json:"prominence" msgpack:"prominence"`
	NoiseFloor  float64       `json:"noise_floor" msgpack:"noise_floor"`
	WindowIndex uint64        `json:"window_index" msgpack:"window_index"`
	Device      string        `json:"device,omitempty" msgpack:"device"`
	Duration    time.Duration `json:"duration,omitempty" msgpack:"duration"` // cleared events only
}

func (e AlertEvent) String() string {
	return fmt.Sprintf("%s %v at %.1f Hz (prominence %.1f, window %d)",
		e.Direction, e.Bands, e.Frequency, e.Prominence, e.WindowIndex)
}

// StateChange records any transition, including those that emit no event
type StateChange struct {
	Band        string    `json:"band"`
	From        State     `json:"from"`
	To          State     `json:"to"`
	WindowIndex uint64    `json:"window_index"`
	Timestamp   time.Time `json:"timestamp"`
}

// AlertSink consumes alert transitions. Errors are reported back to the
// caller for logging; they never influence detection state.
type AlertSink interface {
	OnAlertRaised(ctx context.Context, event AlertEvent) error
	OnAlertCleared(ctx context.Context, event AlertEvent) error
}

// Notify routes event to the sink method matching its direction
func Notify(ctx context.Context, sink AlertSink, event AlertEvent) error {
	switch event.Direction {
	case Raised:
		return sink.OnAlertRaised(ctx, event)
	case Cleared:
		return sink.OnAlertCleared(ctx, event)
	default:
		return fmt.Errorf("alert event %s has no direction", event.ID)
	}
}
