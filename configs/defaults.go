package configs

import (
	"github.com/spf13/viper"

	"github.com/RyanBlaney/zumbido/sink"
)

// setDefaults registers the default for every key, which also makes each
// key visible to ZUMBIDO_* environment lookups
func setDefaults(v *viper.Viper) {
	// Application defaults
	v.SetDefault("log_level", "info")
	v.SetDefault("status_interval", 5.0)

	// Acquisition defaults
	v.SetDefault("device", "auto")
	v.SetDefault("sample_rate", 44100)
	v.SetDefault("chunk_size", 1024)
	v.SetDefault("channels", 1)
	v.SetDefault("realtime", false)
	v.SetDefault("ffmpeg_path", "ffmpeg")

	// Analysis defaults
	v.SetDefault("window_size", 0)
	v.SetDefault("hop_size", 0)
	v.SetDefault("fft_size", 0)
	v.SetDefault("window_function", "hann")
	v.SetDefault("buffer_windows", 8)
	v.SetDefault("overrun_policy", "drop-oldest")
	v.SetDefault("prefilter", false)

	// Detection defaults
	v.SetDefault("detection_threshold", 3.0)
	v.SetDefault("noise_alpha", 0.2)
	v.SetDefault("noise_quantile", 0.9)
	v.SetDefault("fundamentals", []float64{50, 60})
	v.SetDefault("harmonics", 4)
	v.SetDefault("band_tolerance", 3.0)
	v.SetDefault("raise_count", 3)
	v.SetDefault("miss_count", 2)
	v.SetDefault("clear_count", 5)
	v.SetDefault("aggregation", "independent")

	v.SetDefault("output", "")
	v.SetDefault("sink_timeout", 5.0)

	setRecorderDefaults(v)
	setSinkDefaults(v)
}

func setRecorderDefaults(v *viper.Viper) {
	v.SetDefault("recorder.enabled", true)
	v.SetDefault("recorder.output_directory", "./recordings")
	v.SetDefault("recorder.pre_record_seconds", 2.0)
	v.SetDefault("recorder.post_record_seconds", 5.0)
	v.SetDefault("recorder.max_file_size_mb", 50.0)
	v.SetDefault("recorder.bit_depth", 16)
}

func setSinkDefaults(v *viper.Viper) {
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9464")

	v.SetDefault("history.enabled", false)
	v.SetDefault("history.dir", "./history")

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.client_id", "")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.topic", "zumbido/{device_id}/alerts")
	v.SetDefault("mqtt.qos", 1)
	v.SetDefault("mqtt.retained", false)

	v.SetDefault("clickhouse.enabled", false)
	v.SetDefault("clickhouse.addr", "localhost:9000")
	v.SetDefault("clickhouse.database", "default")
	v.SetDefault("clickhouse.username", "default")
	v.SetDefault("clickhouse.password", "")
	v.SetDefault("clickhouse.table", "hum_alerts")

	v.SetDefault("s3.enabled", false)
	v.SetDefault("s3.bucket", "")
	v.SetDefault("s3.prefix", "recordings")
	v.SetDefault("s3.region", "us-east-1")
	v.SetDefault("s3.endpoint", "")
	v.SetDefault("s3.path_style", false)
	v.SetDefault("s3.access_key_id", "")
	v.SetDefault("s3.secret_access_key", "")
}

// GetDefaultConfig returns the configuration setDefaults describes
func GetDefaultConfig() *Config {
	return &Config{
		LogLevel:       "info",
		StatusInterval: 5,

		Device:     "auto",
		SampleRate: 44100,
		ChunkSize:  1024,
		Channels:   1,
		FFmpegPath: "ffmpeg",

		WindowFunction: "hann",
		BufferWindows:  8,
		OverrunPolicy:  "drop-oldest",

		DetectionThreshold: 3.0,
		NoiseAlpha:         0.2,
		NoiseQuantile:      0.9,
		Fundamentals:       []float64{50, 60},
		Harmonics:          4,
		BandTolerance:      3.0,
		RaiseCount:         3,
		MissCount:          2,
		ClearCount:         5,
		Aggregation:        "independent",

		SinkTimeout: 5,

		Recorder: GetDefaultRecorderConfig(),
		Metrics:  MetricsConfig{Addr: ":9464"},
		History:  HistoryConfig{Dir: "./history"},
		MQTT: MQTTConfig{MQTTConfig: sink.MQTTConfig{
			Broker: "tcp://localhost:1883",
			Topic:  "zumbido/{device_id}/alerts",
			QoS:    1,
		}},
		ClickHouse: ClickHouseConfig{ClickHouseConfig: sink.ClickHouseConfig{
			Addr:     "localhost:9000",
			Database: "default",
			Username: "default",
			Table:    "hum_alerts",
		}},
		S3: S3Config{S3Config: sink.S3Config{
			Prefix: "recordings",
			Region: "us-east-1",
		}},
	}
}

// GetDefaultRecorderConfig keeps 2 s before
// the alert, 5 s after, at most 50 MB per file
func GetDefaultRecorderConfig() RecorderConfig {
	return RecorderConfig{
		Enabled:           true,
		OutputDirectory:   "./recordings",
		PreRecordSeconds:  2.0,
		PostRecordSeconds: 5.0,
		MaxFileSizeMB:     50,
		BitDepth:          16,
	}
}
