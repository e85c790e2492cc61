package monitor

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/RyanBlaney/zumbido/logging"
)

// Status is one periodic health line
type Status struct {
	State      string   `json:"state"`
	Active     []string `json:"active_bands,omitempty"`
	RMS        float64  `json:"rms"`
	DBFS       float64  `json:"dbfs"`
	Detections uint64   `json:"detections"`
	Windows    uint64   `json:"windows"`
}

// Status flushes the level meter and reports the current state: "alerting"
// when any entry is Alerting or Cooldown, otherwise "monitoring"
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	level := m.energy.Flush()
	status := Status{
		State:      "monitoring",
		RMS:        level.RMS,
		DBFS:       level.DBFS,
		Detections: m.summary.Detections,
		Windows:    m.summary.Windows,
	}
	for _, s := range m.statuses {
		if s.State.Active() {
			status.Active = append(status.Active, s.Band)
		}
	}
	if len(status.Active) > 0 {
		status.State = "alerting"
	}
	return status
}

// report logs a Status every StatusInterval until ctx is done
func (m *Monitor) report(ctx context.Context) {
	if m.settings.StatusInterval <= 0 {
		return
	}
	ticker := time.NewTicker(m.settings.StatusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			status := m.Status()
			m.metrics.RecordLevel(ctx, m.device, status.DBFS)

			fields := logging.Fields{
				"state":      status.State,
				"rms":        round(status.RMS, 4),
				"dbfs":       round(status.DBFS, 1),
				"detections": status.Detections,
			}
			if len(status.Active) > 0 {
				fields["bands"] = strings.Join(status.Active, ",")
			}
			m.logger.Info("Status", fields)
		}
	}
}

func round(v float64, places int) float64 {
	scale := math.Pow10(places)
	return math.Round(v*scale) / scale
}
