package cmd

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/RyanBlaney/zumbido/algorithms/common"
	"github.com/RyanBlaney/zumbido/detect"
	"github.com/RyanBlaney/zumbido/sink"
)

var (
	historyLimit int
	historyJSON  bool
	historyDir   string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recently stored alert events",
	Long: `Print the most recent alert events kept in the local history database,
newest first. The database is written by monitor when history is enabled.

Examples:
  zumbido history
  zumbido history --limit 50 --json`,
	RunE: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of events to show")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "print JSON lines instead of a table")
	historyCmd.Flags().StringVar(&historyDir, "history-dir", "", "history database directory")
}

func runHistory(cmd *cobra.Command, args []string) error {
	config, err := loadConfig()
	if err != nil {
		return err
	}
	if historyLimit <= 0 {
		return common.NewConfigError("limit", "must be positive, got %d", historyLimit)
	}

	store, err := sink.OpenHistory(sink.HistoryOptions{Dir: config.History.Dir})
	if err != nil {
		return err
	}
	defer store.Close()

	events, err := store.Recent(historyLimit)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if historyJSON {
		enc := json.NewEncoder(out)
		for _, e := range events {
			if err := enc.Encode(e); err != nil {
				return err
			}
		}
		return nil
	}
	if len(events) == 0 {
		fmt.Fprintf(out, "No alert events in %s\n", config.History.Dir)
		return nil
	}

	rows := make([][]string, 0, len(events))
	for _, e := range events {
		rows = append(rows, historyRow(e))
	}
	fmt.Fprintln(out, renderTable(out, []string{"TIME", "DEVICE", "EVENT", "BANDS", "FREQ (HZ)", "PROMINENCE"}, rows))
	return nil
}

func historyRow(e detect.AlertEvent) []string {
	return []string{
		e.Timestamp.Local().Format(time.DateTime),
		e.Device,
		string(e.Direction),
		strings.Join(e.Bands, ", "),
		fmt.Sprintf("%.1f", e.Frequency),
		fmt.Sprintf("%.1f", e.Prominence),
	}
}
