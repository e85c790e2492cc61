package monitor

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/RyanBlaney/zumbido/logging"
)

// Group runs one Monitor per device. The first device to fail stops the
// others.
type Group struct {
	monitors []*Monitor
	logger   logging.Logger
}

func NewGroup(logger logging.Logger, monitors ...*Monitor) *Group {
	return &Group{
		monitors: monitors,
		logger: logging.OrGlobal(logger).WithFields(logging.Fields{
			"component": "monitor_group",
		}),
	}
}

func (g *Group) Add(m *Monitor) {
	g.monitors = append(g.monitors, m)
}

func (g *Group) Monitors() []*Monitor {
	return g.monitors
}

// Run blocks until every monitor has stopped
func (g *Group) Run(ctx context.Context) error {
	if len(g.monitors) == 0 {
		return fmt.Errorf("no devices to monitor")
	}

	eg, egCtx := errgroup.WithContext(ctx)
	for _, m := range g.monitors {
		eg.Go(func() error {
			if err := m.Run(egCtx); err != nil {
				return fmt.Errorf("device %s: %w", m.Device(), err)
			}
			return nil
		})
	}
	err := eg.Wait()

	if len(g.monitors) > 1 {
		raised := 0
		for _, m := range g.monitors {
			raised += m.Summary().AlertsRaised
		}
		g.logger.Info("All devices stopped", logging.Fields{
			"devices":       len(g.monitors),
			"alerts_raised": raised,
		})
	}
	return err
}

// Close releases the sources of monitors added but never run, such as
// when opening a later device fails
func (g *Group) Close() error {
	var errs []error
	for _, m := range g.monitors {
		if err := m.Close(); err != nil {
			errs = append(errs, fmt.Errorf("device %s: %w", m.Device(), err))
		}
	}
	return errors.Join(errs...)
}

// Summaries returns each monitor's session summary
func (g *Group) Summaries() []Summary {
	out := make([]Summary, len(g.monitors))
	for i, m := range g.monitors {
		out[i] = m.Summary()
	}
	return out
}
