package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/RyanBlaney/zumbido/capture"
	"github.com/RyanBlaney/zumbido/detect"
	"github.com/RyanBlaney/zumbido/logging"
	"github.com/RyanBlaney/zumbido/monitor"
	"github.com/RyanBlaney/zumbido/sink"
)

// maxReportSeconds bounds the audio kept for the whole-file report
const maxReportSeconds = 60

var (
	analyzeReport bool
	analyzeOutput string
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <file>",
	Short: "Run hum detection over a recorded file",
	Long: `Feed an audio file through the same pipeline as live monitoring, as fast
as it decodes, and print every alert transition. WAV files are read
directly; anything else is decoded with ffmpeg.

With --report a frequency report for the start of the file is printed as
well, in the format saved beside recorded snippets.

Examples:
  zumbido analyze recordings/panel_buzz_20240314_101500.wav
  zumbido analyze panel.mp3 --report --output events.jsonl`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

func init() {
	rootCmd.AddCommand(analyzeCmd)

	analyzeCmd.Flags().BoolVar(&analyzeReport, "report", true, "print a frequency report for the file")
	analyzeCmd.Flags().StringVarP(&analyzeOutput, "output", "o", "", "append alert events to this JSON-lines file")
}

// fileDevice turns a path into a device id
func fileDevice(path string) string {
	if strings.EqualFold(filepath.Ext(path), ".wav") {
		return capture.BackendWAV + ":" + path
	}
	return capture.BackendFFmpeg + ":file:" + path
}

// collector keeps the leading samples of a file for the report
type collector struct {
	mu      sync.Mutex
	samples []float64
	limit   int
	clipped bool
}

func (c *collector) Name() string { return "report" }

func (c *collector) OnFrame(frame capture.AudioFrame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	room := c.limit - len(c.samples)
	if room <= 0 {
		c.clipped = true
		return
	}
	if len(frame.Samples) > room {
		c.clipped = true
		c.samples = append(c.samples, frame.Samples[:room]...)
		return
	}
	c.samples = append(c.samples, frame.Samples...)
}

func (c *collector) OnAlertRaised(context.Context, detect.AlertEvent) error  { return nil }
func (c *collector) OnAlertCleared(context.Context, detect.AlertEvent) error { return nil }

func runAnalyze(cmd *cobra.Command, args []string) error {
	config, err := loadConfig()
	if err != nil {
		return err
	}
	path := args[0]
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	device := fileDevice(path)
	sourceConfig := config.SourceConfig(device)
	sourceConfig.Realtime = false

	logger := logging.GetGlobalLogger()
	source, err := capture.Open(cmd.Context(), sourceConfig, logger)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	styles := sink.PlainConsoleStyles()
	if colorful(out) {
		styles = sink.DefaultConsoleStyles()
	}

	sampleRate := source.Format().SampleRate
	clip := &collector{limit: maxReportSeconds * sampleRate}
	opts := []monitor.Option{
		monitor.WithLogger(logger),
		monitor.WithSink(sink.NewConsole(out, styles)),
		monitor.WithSink(clip),
	}
	if analyzeOutput != "" {
		jsonl, err := sink.OpenJSONL(analyzeOutput)
		if err != nil {
			source.Close()
			return err
		}
		defer jsonl.Close()
		opts = append(opts, monitor.WithSink(jsonl))
	}

	settings := monitor.SettingsFromConfig(config, filepath.Base(path))
	settings.StatusInterval = 0
	m, err := monitor.New(source, settings, opts...)
	if err != nil {
		source.Close()
		return err
	}

	if err := m.Run(cmd.Context()); err != nil {
		return err
	}
	printSummaries(cmd, []monitor.Summary{m.Summary()})

	if !analyzeReport {
		return nil
	}
	analysis := sink.AnalyzeClip(clip.samples, sampleRate, settings.Bands, settings.Detector.Threshold)
	analysis.Recorded = info.ModTime()
	analysis.Truncated = clip.clipped
	fmt.Fprintln(out)
	return analysis.WriteReport(out, path)
}
