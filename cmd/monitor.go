package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/RyanBlaney/zumbido/capture"
	"github.com/RyanBlaney/zumbido/configs"
	"github.com/RyanBlaney/zumbido/logging"
	"github.com/RyanBlaney/zumbido/monitor"
	"github.com/RyanBlaney/zumbido/observe"
	"github.com/RyanBlaney/zumbido/sink"
)

var (
	monitorDevices     []string
	monitorThreshold   float64
	monitorDuration    time.Duration
	monitorOutput      string
	monitorPrefilter   bool
	monitorRecord      bool
	monitorRecordDir   string
	monitorMetrics     bool
	monitorMetricsAddr string
	monitorRealtime    bool
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Listen for sustained mains hum and raise alerts",
	Long: `Capture audio continuously and watch the mains bands for persistent tones.

Device ids take the form backend:address:
  auto                      first USB or microphone input (portaudio)
  portaudio:<index|name>    live capture via PortAudio (needs the portaudio build tag)
  ffmpeg:<format>:<device>  live capture through ffmpeg, e.g. ffmpeg:alsa:hw:1,0
  ffmpeg:file:<path>        any file ffmpeg can decode
  wav:<path>                a WAV file
  synth:60@0.5+noise=0.01   a generated test signal

Examples:
  # Monitor the default USB microphone
  zumbido monitor

  # Two panels at once, logging events to a file
  zumbido monitor --device ffmpeg:alsa:hw:1,0 --device ffmpeg:alsa:hw:2,0 --output events.jsonl

  # Try the pipeline for ten seconds against a synthetic hum
  zumbido monitor --device "synth:120@0.3+noise=0.01+realtime" --duration 10s`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)

	monitorCmd.Flags().StringSliceVarP(&monitorDevices, "device", "d", nil,
		"input device id, repeat for several panels (default from config)")
	monitorCmd.Flags().Float64VarP(&monitorThreshold, "threshold", "t", 0,
		"peak prominence over the noise floor that counts as a detection")
	monitorCmd.Flags().DurationVar(&monitorDuration, "duration", 0,
		"stop after this long (0 runs until interrupted)")
	monitorCmd.Flags().StringVarP(&monitorOutput, "output", "o", "",
		"append alert events to this JSON-lines file")
	monitorCmd.Flags().BoolVar(&monitorPrefilter, "prefilter", false,
		"bandpass the signal around the target bands before analysis")
	monitorCmd.Flags().BoolVar(&monitorRecord, "record", true,
		"record WAV snippets around each alert")
	monitorCmd.Flags().StringVar(&monitorRecordDir, "record-dir", "",
		"directory for recorded snippets")
	monitorCmd.Flags().BoolVar(&monitorMetrics, "metrics", false,
		"serve Prometheus metrics")
	monitorCmd.Flags().StringVar(&monitorMetricsAddr, "metrics-addr", "",
		"metrics listen address")
	monitorCmd.Flags().BoolVar(&monitorRealtime, "realtime", false,
		"pace file and synthetic sources at the sample rate")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	config, err := loadConfig()
	if err != nil {
		return err
	}
	if configFile == "" && v.ConfigFileUsed() == "" {
		if created, err := configs.EnsureDefault(configs.DefaultConfigFile); err == nil && created {
			logging.Info("Wrote default config", logging.Fields{"path": configs.DefaultConfigFile})
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if monitorDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, monitorDuration)
		defer cancel()
	}

	logger := logging.GetGlobalLogger()

	metrics, err := setupMetrics(ctx, config, logger)
	if err != nil {
		return err
	}

	shared, err := openSharedSinks(ctx, config, cmd, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := shared.Close(); err != nil {
			logger.Error(err, "Failed to close sinks")
		}
	}()

	group := monitor.NewGroup(logger)
	var recorders []*sink.Recorder
	defer func() {
		for _, r := range recorders {
			r.Close()
		}
	}()

	// sources already handed to the group are closed if a later device fails
	abort := func(err error) error {
		if cerr := group.Close(); cerr != nil {
			logger.Error(cerr, "Failed to close devices")
		}
		return err
	}

	devices := config.DeviceList()
	for _, device := range devices {
		source, err := capture.Open(ctx, config.SourceConfig(device), logger)
		if err != nil {
			return abort(err)
		}

		opts := []monitor.Option{
			monitor.WithLogger(logger),
			monitor.WithMetrics(metrics),
		}
		for _, s := range shared.Sinks() {
			opts = append(opts, monitor.WithSink(s))
		}
		if config.Recorder.Enabled {
			recorder, err := openRecorder(config, device, len(devices) > 1, source.Format().SampleRate, logger)
			if err != nil {
				source.Close()
				return abort(err)
			}
			recorders = append(recorders, recorder)
			opts = append(opts, monitor.WithSink(recorder))
		}

		m, err := monitor.New(source, monitor.SettingsFromConfig(config, device), opts...)
		if err != nil {
			source.Close()
			return abort(err)
		}
		group.Add(m)
	}

	err = group.Run(ctx)
	printSummaries(cmd, group.Summaries())
	return err
}

// setupMetrics installs the Prometheus-backed meter provider when metrics
// are enabled. Otherwise instruments record into the no-op provider.
func setupMetrics(ctx context.Context, config *configs.Config, logger logging.Logger) (*observe.Metrics, error) {
	if !config.Metrics.Enabled {
		return observe.NewMetrics(otel.GetMeterProvider())
	}

	registry := prometheus.NewRegistry()
	shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "zumbido",
		Registry:    registry,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start metrics: %w", err)
	}
	go func() {
		if err := observe.Serve(ctx, config.Metrics.Addr, registry, logger); err != nil {
			logger.Error(err, "Metrics server stopped")
		}
		_ = shutdown(context.Background())
	}()
	return observe.NewMetrics(otel.GetMeterProvider())
}

// openSharedSinks builds the sinks every device reports to
func openSharedSinks(ctx context.Context, config *configs.Config, cmd *cobra.Command, logger logging.Logger) (*sink.Multi, error) {
	styles := sink.PlainConsoleStyles()
	if colorful(cmd.OutOrStdout()) {
		styles = sink.DefaultConsoleStyles()
	}
	multi := sink.NewMulti(
		sink.NewLog(logger),
		sink.NewConsole(cmd.OutOrStdout(), styles),
	)

	fail := func(err error) (*sink.Multi, error) {
		multi.Close()
		return nil, err
	}

	if config.Output != "" {
		jsonl, err := sink.OpenJSONL(config.Output)
		if err != nil {
			return fail(err)
		}
		multi.Add(jsonl)
	}
	if config.History.Enabled {
		history, err := sink.OpenHistory(sink.HistoryOptions{Dir: config.History.Dir, Logger: logger})
		if err != nil {
			return fail(err)
		}
		multi.Add(history)
	}
	if config.MQTT.Enabled {
		publisher, err := sink.ConnectMQTT(config.MQTT.MQTTConfig, logger)
		if err != nil {
			return fail(err)
		}
		multi.Add(sink.NewMQTT(publisher, config.MQTT.MQTTConfig))
	}
	if config.ClickHouse.Enabled {
		store, err := sink.OpenClickHouse(ctx, config.ClickHouse.ClickHouseConfig, logger)
		if err != nil {
			return fail(err)
		}
		multi.Add(store)
	}
	return multi, nil
}

func openRecorder(config *configs.Config, device string, perDevice bool, sampleRate int, logger logging.Logger) (*sink.Recorder, error) {
	settings := config.RecorderSettings(sampleRate)
	if perDevice {
		settings.Directory = filepath.Join(settings.Directory, safeName(device))
	}

	var uploader sink.Uploader
	if config.S3.Enabled {
		uploader = sink.NewS3Uploader(sink.NewS3Client(config.S3.S3Config), config.S3.Bucket, config.S3.Prefix)
	}
	return sink.NewRecorder(settings, uploader, logger.WithFields(logging.Fields{"device": device}))
}

// safeName turns a device id into a directory name
func safeName(device string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', ',', '@', '+', '=', ' ':
			return '_'
		}
		return r
	}, device)
}

func printSummaries(cmd *cobra.Command, summaries []monitor.Summary) {
	out := cmd.OutOrStdout()
	for _, s := range summaries {
		fmt.Fprintf(out, "\nSession summary (%s)\n", s.Device)
		fmt.Fprintf(out, "  Runtime:        %s\n", s.Runtime.Round(time.Second))
		fmt.Fprintf(out, "  Windows:        %d\n", s.Windows)
		fmt.Fprintf(out, "  Detections:     %d\n", s.Detections)
		fmt.Fprintf(out, "  Alerts raised:  %d\n", s.AlertsRaised)
		fmt.Fprintf(out, "  Alerts cleared: %d\n", s.AlertsCleared)
		if s.Buffer.SamplesDropped > 0 || s.DeviceOverruns > 0 {
			fmt.Fprintf(out, "  Dropped:        %d samples, %d device overruns\n", s.Buffer.SamplesDropped, s.DeviceOverruns)
		}
	}
}
