package configs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/RyanBlaney/zumbido/algorithms/common"
	"github.com/RyanBlaney/zumbido/algorithms/filters"
	"github.com/RyanBlaney/zumbido/algorithms/windowing"
	"github.com/RyanBlaney/zumbido/capture"
	"github.com/RyanBlaney/zumbido/detect"
	"github.com/RyanBlaney/zumbido/logging"
	"github.com/RyanBlaney/zumbido/sink"
)

// EnvPrefix prefixes every environment override, e.g. ZUMBIDO_SAMPLE_RATE
const EnvPrefix = "ZUMBIDO"

// DefaultConfigFile is written next to the binary when no config exists
const DefaultConfigFile = "zumbido.yaml"

// Config represents the monitor configuration
type Config struct {
	// Application settings
	LogLevel       string  `mapstructure:"log_level" yaml:"log_level"`
	StatusInterval float64 `mapstructure:"status_interval" yaml:"status_interval"` // seconds, 0 disables

	// Audio acquisition
	Device     string   `mapstructure:"device" yaml:"device"`
	Devices    []string `mapstructure:"devices" yaml:"devices,omitempty"`
	SampleRate int      `mapstructure:"sample_rate" yaml:"sample_rate"`
	ChunkSize  int      `mapstructure:"chunk_size" yaml:"chunk_size"`
	Channels   int      `mapstructure:"channels" yaml:"channels"`
	Realtime   bool     `mapstructure:"realtime" yaml:"realtime"`
	FFmpegPath string   `mapstructure:"ffmpeg_path" yaml:"ffmpeg_path"`

	// Framing and analysis
	WindowSize     int    `mapstructure:"window_size" yaml:"window_size"` // 0 means chunk_size
	HopSize        int    `mapstructure:"hop_size" yaml:"hop_size"`       // 0 means window_size
	FFTSize        int    `mapstructure:"fft_size" yaml:"fft_size"`       // 0 means automatic
	WindowFunction string `mapstructure:"window_function" yaml:"window_function"`
	BufferWindows  int    `mapstructure:"buffer_windows" yaml:"buffer_windows"`
	OverrunPolicy  string `mapstructure:"overrun_policy" yaml:"overrun_policy"`
	PreFilter      bool   `mapstructure:"prefilter" yaml:"prefilter"`

	// Detection
	DetectionThreshold float64              `mapstructure:"detection_threshold" yaml:"detection_threshold"`
	NoiseAlpha         float64              `mapstructure:"noise_alpha" yaml:"noise_alpha"`
	NoiseQuantile      float64              `mapstructure:"noise_quantile" yaml:"noise_quantile"`
	TargetBands        []filters.TargetBand `mapstructure:"target_bands" yaml:"target_bands,omitempty"`
	Fundamentals       []float64            `mapstructure:"fundamentals" yaml:"fundamentals"`
	Harmonics          int                  `mapstructure:"harmonics" yaml:"harmonics"`
	BandTolerance      float64              `mapstructure:"band_tolerance" yaml:"band_tolerance"`
	RaiseCount         int                  `mapstructure:"raise_count" yaml:"raise_count"`
	MissCount          int                  `mapstructure:"miss_count" yaml:"miss_count"`
	ClearCount         int                  `mapstructure:"clear_count" yaml:"clear_count"`
	Aggregation        string               `mapstructure:"aggregation" yaml:"aggregation"`

	// Outputs
	SinkTimeout float64          `mapstructure:"sink_timeout" yaml:"sink_timeout"` // seconds per delivery, 0 waits forever
	Output      string           `mapstructure:"output" yaml:"output"`             // JSON-lines event log
	Recorder    RecorderConfig   `mapstructure:"recorder" yaml:"recorder"`
	Metrics     MetricsConfig    `mapstructure:"metrics" yaml:"metrics"`
	History     HistoryConfig    `mapstructure:"history" yaml:"history"`
	MQTT        MQTTConfig       `mapstructure:"mqtt" yaml:"mqtt"`
	ClickHouse  ClickHouseConfig `mapstructure:"clickhouse" yaml:"clickhouse"`
	S3          S3Config         `mapstructure:"s3" yaml:"s3"`
}

// RecorderConfig controls WAV snippets around alerts
type RecorderConfig struct {
	Enabled           bool    `mapstructure:"enabled" yaml:"enabled"`
	OutputDirectory   string  `mapstructure:"output_directory" yaml:"output_directory"`
	PreRecordSeconds  float64 `mapstructure:"pre_record_seconds" yaml:"pre_record_seconds"`
	PostRecordSeconds float64 `mapstructure:"post_record_seconds" yaml:"post_record_seconds"`
	MaxFileSizeMB     float64 `mapstructure:"max_file_size_mb" yaml:"max_file_size_mb"`
	BitDepth          int     `mapstructure:"bit_depth" yaml:"bit_depth"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr    string `mapstructure:"addr" yaml:"addr"`
}

// HistoryConfig controls the local alert history store
type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Dir     string `mapstructure:"dir" yaml:"dir"`
}

type MQTTConfig struct {
	Enabled         bool `mapstructure:"enabled" yaml:"enabled"`
	sink.MQTTConfig `mapstructure:",squash" yaml:",inline"`
}

type ClickHouseConfig struct {
	Enabled               bool `mapstructure:"enabled" yaml:"enabled"`
	sink.ClickHouseConfig `mapstructure:",squash" yaml:",inline"`
}

// S3Config uploads finished recordings when enabled
type S3Config struct {
	Enabled       bool `mapstructure:"enabled" yaml:"enabled"`
	sink.S3Config `mapstructure:",squash" yaml:",inline"`
}

// NewViper returns a viper instance with defaults, a .env file, ZUMBIDO_*
// environment overrides and, when path is set or a default file exists,
// the YAML config file.
func NewViper(path string) (*viper.Viper, error) {
	// a missing .env is normal
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(strings.TrimSuffix(DefaultConfigFile, filepath.Ext(DefaultConfigFile)))
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "zumbido"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}
	return v, nil
}

// Load reads path (or the default locations) into a validated Config
func Load(path string) (*Config, error) {
	v, err := NewViper(path)
	if err != nil {
		return nil, err
	}
	return Decode(v)
}

// Decode unmarshals and validates the settings held by v
func Decode(v *viper.Viper) (*Config, error) {
	setDefaults(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate checks every setting and joins one *common.ConfigurationError
// per offending key
func (c *Config) Validate() error {
	var errs []error
	bad := func(key, format string, args ...any) {
		errs = append(errs, common.NewConfigError(key, format, args...))
	}

	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		bad("log_level", "%v", err)
	}
	if c.StatusInterval < 0 {
		bad("status_interval", "must not be negative, got %g", c.StatusInterval)
	}
	if c.SampleRate <= 0 {
		bad("sample_rate", "must be positive, got %d", c.SampleRate)
	}
	if c.ChunkSize <= 0 {
		bad("chunk_size", "must be positive, got %d", c.ChunkSize)
	}
	if c.Channels <= 0 {
		bad("channels", "must be positive, got %d", c.Channels)
	}

	window := c.EffectiveWindowSize()
	if window < 2 {
		bad("window_size", "must be at least 2, got %d", window)
	}
	if c.HopSize < 0 || c.HopSize > window {
		bad("hop_size", "must be in [0, %d], got %d", window, c.HopSize)
	}
	if c.FFTSize != 0 && c.FFTSize < window {
		bad("fft_size", "must be 0 or at least window_size (%d), got %d", window, c.FFTSize)
	}
	if _, err := windowing.ParseKind(c.WindowFunction); err != nil {
		bad("window_function", "%v", err)
	}
	if c.BufferWindows < 1 {
		bad("buffer_windows", "must be at least 1, got %d", c.BufferWindows)
	}
	if _, err := capture.ParseOverrunPolicy(c.OverrunPolicy); err != nil {
		errs = append(errs, err)
	}

	if c.DetectionThreshold <= 0 {
		bad("detection_threshold", "must be positive, got %g", c.DetectionThreshold)
	}
	if c.NoiseAlpha <= 0 || c.NoiseAlpha > 1 {
		bad("noise_alpha", "must be in (0, 1], got %g", c.NoiseAlpha)
	}
	if c.NoiseQuantile <= 0 || c.NoiseQuantile >= 1 {
		bad("noise_quantile", "must be in (0, 1), got %g", c.NoiseQuantile)
	}
	if c.SinkTimeout < 0 {
		bad("sink_timeout", "must not be negative, got %g", c.SinkTimeout)
	}
	if len(c.Bands()) == 0 {
		bad("target_bands", "no bands configured")
	}
	for _, b := range c.TargetBands {
		if b.Low >= b.High {
			bad("target_bands", "band %q: low %g must be below high %g", b.Name, b.Low, b.High)
		}
	}
	if c.RaiseCount < 1 {
		bad("raise_count", "must be at least 1, got %d", c.RaiseCount)
	}
	if c.MissCount < 1 {
		bad("miss_count", "must be at least 1, got %d", c.MissCount)
	}
	if c.ClearCount < 1 {
		bad("clear_count", "must be at least 1, got %d", c.ClearCount)
	}
	if _, err := detect.ParseAggregation(c.Aggregation); err != nil {
		errs = append(errs, err)
	}

	if c.Recorder.Enabled {
		if c.Recorder.OutputDirectory == "" {
			bad("recorder.output_directory", "required when the recorder is enabled")
		}
		if c.Recorder.PreRecordSeconds < 0 {
			bad("recorder.pre_record_seconds", "must not be negative")
		}
		if c.Recorder.PostRecordSeconds < 0 {
			bad("recorder.post_record_seconds", "must not be negative")
		}
		if c.Recorder.MaxFileSizeMB < 0 {
			bad("recorder.max_file_size_mb", "must not be negative")
		}
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		bad("metrics.addr", "required when metrics are enabled")
	}
	if c.History.Enabled && c.History.Dir == "" {
		bad("history.dir", "required when history is enabled")
	}
	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" {
			bad("mqtt.broker", "required when mqtt is enabled")
		}
		if c.MQTT.QoS > 2 {
			bad("mqtt.qos", "must be 0, 1 or 2, got %d", c.MQTT.QoS)
		}
	}
	if c.ClickHouse.Enabled && c.ClickHouse.Addr == "" {
		bad("clickhouse.addr", "required when clickhouse is enabled")
	}
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			bad("s3.bucket", "required when s3 is enabled")
		}
		if !c.Recorder.Enabled {
			bad("s3.enabled", "uploads need the recorder enabled")
		}
	}

	return errors.Join(errs...)
}

// EffectiveWindowSize resolves window_size 0 to chunk_size
func (c *Config) EffectiveWindowSize() int {
	if c.WindowSize == 0 {
		return c.ChunkSize
	}
	return c.WindowSize
}

// Bands returns target_bands when set, otherwise the mains bands derived
// from fundamentals, harmonics and band_tolerance
func (c *Config) Bands() []filters.TargetBand {
	if len(c.TargetBands) > 0 {
		bands := make([]filters.TargetBand, len(c.TargetBands))
		for i, b := range c.TargetBands {
			bands[i] = b.Normalized()
		}
		return bands
	}
	if len(c.Fundamentals) == 0 || c.Harmonics < 1 || c.BandTolerance <= 0 {
		return nil
	}
	return filters.MainsBands(c.Fundamentals, c.Harmonics, c.BandTolerance)
}

// DeviceList returns devices when set, otherwise the single device
func (c *Config) DeviceList() []string {
	if len(c.Devices) > 0 {
		return c.Devices
	}
	return []string{c.Device}
}

// StatusEvery converts status_interval to a duration
func (c *Config) StatusEvery() time.Duration {
	return time.Duration(c.StatusInterval * float64(time.Second))
}

// SinkDeadline converts sink_timeout to a duration
func (c *Config) SinkDeadline() time.Duration {
	return time.Duration(c.SinkTimeout * float64(time.Second))
}

// SourceConfig returns the capture settings for one device
func (c *Config) SourceConfig(device string) capture.SourceConfig {
	return capture.SourceConfig{
		Device:     device,
		SampleRate: c.SampleRate,
		Channels:   c.Channels,
		FrameSize:  c.ChunkSize,
		Realtime:   c.Realtime,
		FFmpegPath: c.FFmpegPath,
	}
}

// TrackerConfig returns the persistence settings for one device
func (c *Config) TrackerConfig(device string) detect.TrackerConfig {
	aggregation, _ := detect.ParseAggregation(c.Aggregation)
	return detect.TrackerConfig{
		RaiseCount:  c.RaiseCount,
		MissCount:   c.MissCount,
		ClearCount:  c.ClearCount,
		Aggregation: aggregation,
		Device:      device,
	}
}

// RecorderSettings converts the recorder section for a stream at sampleRate
func (c *Config) RecorderSettings(sampleRate int) sink.RecorderConfig {
	rc := sink.DefaultRecorderConfig()
	rc.Directory = c.Recorder.OutputDirectory
	rc.SampleRate = sampleRate
	rc.PreRoll = time.Duration(c.Recorder.PreRecordSeconds * float64(time.Second))
	rc.PostRoll = time.Duration(c.Recorder.PostRecordSeconds * float64(time.Second))
	rc.MaxFileSizeMB = c.Recorder.MaxFileSizeMB
	if c.Recorder.BitDepth != 0 {
		rc.BitDepth = c.Recorder.BitDepth
	}
	rc.Bands = c.Bands()
	rc.Threshold = c.DetectionThreshold
	return rc
}

// WriteDefault writes the default configuration as YAML. An existing file
// is left untouched unless overwrite is set.
func WriteDefault(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file %s already exists", path)
		}
	}
	data, err := yaml.Marshal(GetDefaultConfig())
	if err != nil {
		return fmt.Errorf("failed to encode default config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// EnsureDefault writes the default configuration when path does not exist
// and reports whether it did
func EnsureDefault(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("failed to stat config: %w", err)
	}
	return true, WriteDefault(path, false)
}
