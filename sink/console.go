package sink

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/RyanBlaney/zumbido/detect"
)

// Theme colours for terminal output
var (
	ColorAlert = lipgloss.Color("#ff5f5f")
	ColorClear = lipgloss.Color("#00ff9f")
	ColorDim   = lipgloss.Color("#6e7681")
)

// ConsoleStyles holds the styles the console sink renders with
type ConsoleStyles struct {
	Raised  lipgloss.Style
	Cleared lipgloss.Style
	Detail  lipgloss.Style
}

func DefaultConsoleStyles() ConsoleStyles {
	return ConsoleStyles{
		Raised:  lipgloss.NewStyle().Bold(true).Foreground(ColorAlert),
		Cleared: lipgloss.NewStyle().Bold(true).Foreground(ColorClear),
		Detail:  lipgloss.NewStyle().Foreground(ColorDim),
	}
}

// PlainConsoleStyles renders without colour, for pipes and tests
func PlainConsoleStyles() ConsoleStyles {
	return ConsoleStyles{
		Raised:  lipgloss.NewStyle(),
		Cleared: lipgloss.NewStyle(),
		Detail:  lipgloss.NewStyle(),
	}
}

// Console prints a human-readable line per transition
type Console struct {
	mu     sync.Mutex
	out    io.Writer
	styles ConsoleStyles
}

// NewConsole writes to out, or stdout when out is nil
func NewConsole(out io.Writer, styles ConsoleStyles) *Console {
	if out == nil {
		out = os.Stdout
	}
	return &Console{out: out, styles: styles}
}

func (c *Console) Name() string {
	return "console"
}

func (c *Console) OnAlertRaised(ctx context.Context, event detect.AlertEvent) error {
	return c.write(c.styles.Raised.Render("HUM DETECTED"), event, "")
}

func (c *Console) OnAlertCleared(ctx context.Context, event detect.AlertEvent) error {
	return c.write(c.styles.Cleared.Render("HUM CLEARED"), event, fmt.Sprintf(" after %s", event.Duration.Round(100*time.Millisecond)))
}

func (c *Console) write(label string, event detect.AlertEvent, suffix string) error {
	detail := fmt.Sprintf("%s  %.1f Hz  prominence %.1f  [%s]%s",
		event.Timestamp.Format("15:04:05"),
		event.Frequency,
		event.Prominence,
		strings.Join(event.Bands, " "),
		suffix,
	)

	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintf(c.out, "%s %s\n", label, c.styles.Detail.Render(detail))
	return err
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
