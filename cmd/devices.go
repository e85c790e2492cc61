package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/RyanBlaney/zumbido/capture"
)

var (
	devicesBackend string
	devicesJSON    bool
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List audio input devices",
	Long: `List the input devices a backend can capture from.

The ID column is what monitor --device expects.

Examples:
  zumbido devices
  zumbido devices --backend ffmpeg:pulse
  zumbido devices --backend ffmpeg:alsa --json`,
	RunE: runDevices,
}

func init() {
	rootCmd.AddCommand(devicesCmd)

	devicesCmd.Flags().StringVarP(&devicesBackend, "backend", "b", "portaudio",
		"backend to query (portaudio, ffmpeg:<format>, synth)")
	devicesCmd.Flags().BoolVar(&devicesJSON, "json", false, "print JSON instead of a table")
}

func runDevices(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	ffmpegPath := "ffmpeg"
	if v != nil && v.GetString("ffmpeg_path") != "" {
		ffmpegPath = v.GetString("ffmpeg_path")
	}

	devices, err := capture.ListDevices(ctx, devicesBackend, ffmpegPath)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if devicesJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(devices)
	}
	if len(devices) == 0 {
		fmt.Fprintf(out, "No input devices found for %s\n", devicesBackend)
		return nil
	}

	rows := make([][]string, 0, len(devices))
	for _, d := range devices {
		def := ""
		if d.IsDefault {
			def = "*"
		}
		rows = append(rows, []string{
			d.ID,
			d.Name,
			strconv.Itoa(d.MaxInputChannels),
			formatRates(d),
			def,
		})
	}
	fmt.Fprintln(out, renderTable(out, []string{"ID", "NAME", "CHANNELS", "SAMPLE RATES", "DEFAULT"}, rows))
	return nil
}

func formatRates(d capture.DeviceInfo) string {
	if len(d.SampleRates) == 0 {
		if d.DefaultSampleRate > 0 {
			return strconv.FormatFloat(d.DefaultSampleRate, 'f', -1, 64)
		}
		return "-"
	}
	rates := make([]string, len(d.SampleRates))
	for i, r := range d.SampleRates {
		rates[i] = strconv.Itoa(r)
	}
	return strings.Join(rates, ", ")
}
