package detect

import (
	"fmt"
	"strings"
)

// State is the debounce state of one tracked band (or of the aggregate)
type State int

const (
	Idle State = iota
	Suspect
	Alerting
	Cooldown
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Suspect:
		return "suspect"
	case Alerting:
		return "alerting"
	case Cooldown:
		return "cooldown"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "idle":
		*s = Idle
	case "suspect":
		*s = Suspect
	case "alerting":
		*s = Alerting
	case "cooldown":
		*s = Cooldown
	default:
		return fmt.Errorf("unknown detection state %q", text)
	}
	return nil
}

// Active reports whether an alert is outstanding: raised and not yet cleared
func (s State) Active() bool {
	return s == Alerting || s == Cooldown
}
