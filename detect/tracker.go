package detect

import (
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/RyanBlaney/zumbido/algorithms/common"
	"github.com/RyanBlaney/zumbido/algorithms/filters"
	"github.com/RyanBlaney/zumbido/algorithms/harmonic"
	"github.com/RyanBlaney/zumbido/logging"
)

// Aggregation selects how band readings drive the state machine
type Aggregation string

const (
	// Independent runs one state machine per band
	Independent Aggregation = "independent"
	// Any runs a single state machine fed by "any band qualified"
	Any Aggregation = "any"
)

// AggregateKey names the single tracked entry under Any aggregation
const AggregateKey = "any"

// ParseAggregation accepts "independent" (or "") and "any"
func ParseAggregation(s string) (Aggregation, error) {
	switch Aggregation(strings.ToLower(strings.TrimSpace(s))) {
	case "", Independent:
		return Independent, nil
	case Any:
		return Any, nil
	default:
		return "", common.NewConfigError("aggregation", "must be %q or %q, got %q", Independent, Any, s)
	}
}

// TrackerConfig holds the debounce counts
type TrackerConfig struct {
	RaiseCount  int         `json:"raise_count"`
	MissCount   int         `json:"miss_count"`
	ClearCount  int         `json:"clear_count"`
	Aggregation Aggregation `json:"aggregation"`
	// Device is stamped on every emitted event
	Device string `json:"device"`
}

func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		RaiseCount:  3,
		MissCount:   2,
		ClearCount:  5,
		Aggregation: Independent,
	}
}

func (c TrackerConfig) validate() error {
	if c.RaiseCount < 1 {
		return common.NewConfigError("raise_count", "must be at least 1, got %d", c.RaiseCount)
	}
	if c.MissCount < 1 {
		return common.NewConfigError("miss_count", "must be at least 1, got %d", c.MissCount)
	}
	if c.ClearCount < 1 {
		return common.NewConfigError("clear_count", "must be at least 1, got %d", c.ClearCount)
	}
	if _, err := ParseAggregation(string(c.Aggregation)); err != nil {
		return err
	}
	return nil
}

// BandStatus is a point-in-time view of one tracked entry
type BandStatus struct {
	Band   string `json:"band"`
	State  State  `json:"state"`
	Hits   int    `json:"hits"`
	Misses int    `json:"misses"`
}

// Result is what one cycle produced
type Result struct {
	Events  []AlertEvent
	Changes []StateChange
}

// entry is the state machine for one band, or for the aggregate
type entry struct {
	name   string
	state  State
	hits   int
	misses int

	// episode bookkeeping, from raise to clear
	raisedAt  time.Time
	strongest harmonic.PeakObservation
	bands     []string
}

// Tracker debounces per-cycle peak detections into alert transitions
type Tracker struct {
	config  TrackerConfig
	entries []*entry
	byName  map[string]*entry
	logger  logging.Logger
}

// NewTracker creates a tracker for bands. Under Any aggregation the bands
// only label the aggregate; a single entry is tracked.
func NewTracker(config TrackerConfig, bands []filters.TargetBand, logger logging.Logger) (*Tracker, error) {
	if config.Aggregation == "" {
		config.Aggregation = Independent
	}
	if err := config.validate(); err != nil {
		return nil, err
	}

	t := &Tracker{
		config: config,
		byName: make(map[string]*entry),
		logger: logging.OrGlobal(logger).WithFields(logging.Fields{
			"component":   "persistence_tracker",
			"aggregation": string(config.Aggregation),
		}),
	}

	if config.Aggregation == Any {
		t.add(AggregateKey)
	} else {
		for _, band := range bands {
			t.add(band.Name)
		}
	}
	return t, nil
}

func (t *Tracker) add(name string) {
	if _, ok := t.byName[name]; ok {
		return
	}
	e := &entry{name: name}
	t.entries = append(t.entries, e)
	t.byName[name] = e
}

func (t *Tracker) Config() TrackerConfig {
	return t.config
}

// Observe advances every state machine by exactly one step using the
// readings of cycle.
func (t *Tracker) Observe(cycle harmonic.Cycle) Result {
	var result Result

	if t.config.Aggregation == Any {
		var (
			best  harmonic.PeakObservation
			names []string
		)
		for _, r := range cycle.Readings {
			if !r.Qualified {
				continue
			}
			names = append(names, r.Peak.Band.Name)
			if len(names) == 1 || r.Peak.Prominence > best.Prominence {
				best = r.Peak
			}
		}
		t.step(t.byName[AggregateKey], cycle, len(names) > 0, best, names, &result)
		return result
	}

	seen := make(map[string]bool, len(cycle.Readings))
	for _, r := range cycle.Readings {
		e, ok := t.byName[r.Peak.Band.Name]
		if !ok {
			continue
		}
		seen[e.name] = true
		t.step(e, cycle, r.Qualified, r.Peak, []string{e.name}, &result)
	}
	// a band with no reading this cycle counts as a miss
	for _, e := range t.entries {
		if !seen[e.name] {
			t.step(e, cycle, false, harmonic.PeakObservation{}, nil, &result)
		}
	}
	return result
}

func (t *Tracker) step(e *entry, cycle harmonic.Cycle, hit bool, peak harmonic.PeakObservation, bands []string, result *Result) {
	from := e.state

	if hit {
		e.misses = 0
		e.hits++
		if e.state.Active() {
			e.note(peak, bands)
		}
	} else {
		e.hits = 0
		e.misses++
	}

	switch e.state {
	case Idle:
		if !hit {
			e.misses = 0
			return
		}
		if e.hits >= t.config.RaiseCount {
			t.raise(e, cycle, peak, bands, result)
		} else {
			e.state = Suspect
		}

	case Suspect:
		switch {
		case hit && e.hits >= t.config.RaiseCount:
			t.raise(e, cycle, peak, bands, result)
		case !hit && e.misses >= t.config.MissCount:
			e.state = Idle
			e.misses = 0
		}

	case Alerting:
		if hit {
			return
		}
		if e.misses >= t.config.ClearCount {
			t.clear(e, cycle, result)
		} else {
			e.state = Cooldown
		}

	case Cooldown:
		switch {
		case hit:
			e.state = Alerting
		case e.misses >= t.config.ClearCount:
			t.clear(e, cycle, result)
		}
	}

	if e.state != from {
		change := StateChange{
			Band:        e.name,
			From:        from,
			To:          e.state,
			WindowIndex: cycle.WindowIndex,
			Timestamp:   cycle.Timestamp,
		}
		result.Changes = append(result.Changes, change)
		t.logger.Debug("Detection state changed", logging.Fields{
			"band":   e.name,
			"from":   from.String(),
			"to":     e.state.String(),
			"window": cycle.WindowIndex,
		})
	}
}

func (e *entry) note(peak harmonic.PeakObservation, bands []string) {
	if peak.Prominence > e.strongest.Prominence {
		e.strongest = peak
	}
	for _, b := range bands {
		if !slices.Contains(e.bands, b) {
			e.bands = append(e.bands, b)
		}
	}
}

func (t *Tracker) raise(e *entry, cycle harmonic.Cycle, peak harmonic.PeakObservation, bands []string, result *Result) {
	e.state = Alerting
	e.raisedAt = cycle.Timestamp
	e.strongest = peak
	e.bands = slices.Clone(bands)

	event := t.event(Raised, cycle, peak, e.bands)
	result.Events = append(result.Events, event)

	t.logger.Info("Hum alert raised", logging.Fields{
		"band":       e.name,
		"frequency":  peak.Frequency,
		"prominence": peak.Prominence,
		"window":     cycle.WindowIndex,
	})
}

func (t *Tracker) clear(e *entry, cycle harmonic.Cycle, result *Result) {
	event := t.event(Cleared, cycle, e.strongest, e.bands)
	if !e.raisedAt.IsZero() && !cycle.Timestamp.IsZero() {
		event.Duration = cycle.Timestamp.Sub(e.raisedAt)
	}
	result.Events = append(result.Events, event)

	t.logger.Info("Hum alert cleared", logging.Fields{
		"band":     e.name,
		"duration": event.Duration.String(),
		"window":   cycle.WindowIndex,
	})

	e.state = Idle
	e.misses = 0
	e.raisedAt = time.Time{}
	e.strongest = harmonic.PeakObservation{}
	e.bands = nil
}

func (t *Tracker) event(direction Direction, cycle harmonic.Cycle, peak harmonic.PeakObservation, bands []string) AlertEvent {
	noise := peak.NoiseFloor
	if noise == 0 {
		noise = cycle.NoiseFloor
	}
	return AlertEvent{
		ID:          uuid.New(),
		Timestamp:   cycle.Timestamp,
		Direction:   direction,
		Bands:       slices.Clone(bands),
		Frequency:   peak.Frequency,
		Magnitude:   peak.Magnitude,
		Prominence:  peak.Prominence,
		NoiseFloor:  noise,
		WindowIndex: cycle.WindowIndex,
		Device:      t.config.Device,
	}
}

// State returns the state of band, or of the aggregate under Any
// aggregation. Unknown bands are Idle.
func (t *Tracker) State(band string) State {
	if t.config.Aggregation == Any {
		band = AggregateKey
	}
	if e, ok := t.byName[band]; ok {
		return e.state
	}
	return Idle
}

// Alerting reports whether any tracked entry has an outstanding alert
func (t *Tracker) Alerting() bool {
	for _, e := range t.entries {
		if e.state.Active() {
			return true
		}
	}
	return false
}

// Snapshot lists every tracked entry in band order
func (t *Tracker) Snapshot() []BandStatus {
	out := make([]BandStatus, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, BandStatus{
			Band:   e.name,
			State:  e.state,
			Hits:   e.hits,
			Misses: e.misses,
		})
	}
	return out
}

// Reset returns every entry to Idle without emitting events
func (t *Tracker) Reset() {
	for _, e := range t.entries {
		*e = entry{name: e.name}
	}
}
