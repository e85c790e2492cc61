package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/RyanBlaney/zumbido/algorithms/common"
	"github.com/RyanBlaney/zumbido/capture"
	"github.com/RyanBlaney/zumbido/configs"
	"github.com/RyanBlaney/zumbido/logging"
)

// Exit codes
const (
	exitFailure     = 1
	exitDeviceError = 2
	exitConfigError = 3
)

var (
	configFile string
	logLevel   string

	// v holds the merged flags, environment and config file once
	// PersistentPreRunE has run
	v *viper.Viper
)

// flagKeys maps flag names to the config keys they override
var flagKeys = map[string]string{
	"log-level":    "log_level",
	"device":       "devices",
	"threshold":    "detection_threshold",
	"output":       "output",
	"prefilter":    "prefilter",
	"record":       "recorder.enabled",
	"record-dir":   "recorder.output_directory",
	"metrics":      "metrics.enabled",
	"metrics-addr": "metrics.addr",
	"realtime":     "realtime",
	"window":       "window_function",
	"aggregation":  "aggregation",
	"history-dir":  "history.dir",
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "zumbido",
	Short: "Electrical panel hum monitor",
	Long: `zumbido listens to a microphone mounted near an electrical panel and
raises an alert when a tone at a mains frequency or one of its harmonics
(50/60 Hz, 100/120 Hz, ...) persists, which can point to loose connections,
arcing or failing breakers.

Alerts can be printed, logged to a JSON-lines file, recorded as WAV snippets
with an analysis report, published over MQTT, stored in ClickHouse or a local
history database, and uploaded to S3.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initializeConfig(cmd)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	switch {
	case capture.IsDeviceError(err):
		return exitDeviceError
	case common.IsConfigurationError(err):
		return exitConfigError
	default:
		return exitFailure
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"config file (default is ./zumbido.yaml or $HOME/.config/zumbido/zumbido.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info",
		"log level (debug, info, warn, error)")
}

// initializeConfig reads the config file and environment, then binds the
// command's flags on top
func initializeConfig(cmd *cobra.Command) error {
	if configFile != "" {
		created, err := configs.EnsureDefault(configFile)
		if err != nil {
			return err
		}
		if created {
			fmt.Fprintf(os.Stderr, "Wrote default config to %s\n", configFile)
		}
	}

	var err error
	v, err = configs.NewViper(configFile)
	if err != nil {
		return err
	}
	if err := bindFlags(cmd, v); err != nil {
		return err
	}

	level, err := logging.ParseLevel(v.GetString("log_level"))
	if err != nil {
		return common.NewConfigError("log_level", "%v", err)
	}
	logger := logging.NewDefaultLogger()
	logger.SetLevel(level)
	logging.SetGlobalLogger(logger)
	return nil
}

// bindFlags binds each cobra flag that overrides a config key
func bindFlags(cmd *cobra.Command, v *viper.Viper) error {
	var errs []error

	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		key, ok := flagKeys[f.Name]
		if !ok {
			return
		}
		if err := v.BindPFlag(key, f); err != nil {
			errs = append(errs, err)
		}
		envVar := configs.EnvPrefix + "_" + strings.ToUpper(strings.NewReplacer(".", "_", "-", "_").Replace(key))
		if err := v.BindEnv(key, envVar); err != nil {
			errs = append(errs, err)
		}
	})

	return errors.Join(errs...)
}

// loadConfig decodes and validates the merged configuration
func loadConfig() (*configs.Config, error) {
	if v == nil {
		return nil, errors.New("configuration not initialised")
	}
	return configs.Decode(v)
}
