package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sells-group/climate-pipeline/internal/monitoring"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Check run-ledger health and send alerts",
	Long:  "Evaluates recent runs against the monitoring thresholds and posts alerts to the configured webhook. Runs once with --once, otherwise checks periodically until interrupted.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("monitor"); err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		checker := monitoring.NewChecker(
			monitoring.NewCollector(st),
			monitoring.NewAlerter(cfg.Monitoring),
			cfg.Monitoring,
		)

		once, _ := cmd.Flags().GetBool("once")
		if !once {
			checker.Run(ctx)
			return nil
		}

		snap, alerts, err := checker.Check(ctx)
		if err != nil {
			return err
		}
		asJSON, _ := cmd.Flags().GetBool("json")
		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{"snapshot": snap, "alerts": alerts})
		}
		formatHealth(os.Stdout, snap, alerts)
		return nil
	},
}

func init() {
	monitorCmd.Flags().Bool("once", false, "run a single check and print the result")
	monitorCmd.Flags().Bool("json", false, "print the single-check result as JSON")
	rootCmd.AddCommand(monitorCmd)
}

// formatHealth prints a snapshot summary followed by any alerts.
func formatHealth(out io.Writer, snap *monitoring.Snapshot, alerts []monitoring.Alert) {
	_, _ = fmt.Fprintf(out, "Runs (last %dh):  %d total, %d succeeded, %d partial, %d failed, %d running\n",
		snap.LookbackHours, snap.RunsTotal, snap.RunsSucceeded, snap.RunsPartial, snap.RunsFailed, snap.RunsRunning)
	_, _ = fmt.Fprintf(out, "Failure rate:     %.1f%%\n", snap.RunFailRate*100)

	if len(snap.StageFailures) > 0 {
		kinds := make([]string, 0, len(snap.StageFailures))
		for k := range snap.StageFailures {
			kinds = append(kinds, k)
		}
		sort.Strings(kinds)
		_, _ = fmt.Fprint(out, "Failed stages:   ")
		for _, k := range kinds {
			_, _ = fmt.Fprintf(out, " %s=%d", k, snap.StageFailures[k])
		}
		_, _ = fmt.Fprintf(out, " (years %s)\n", formatYears(snap.FailedYears))
	}

	last := "never"
	if snap.LastSuccessAt != nil {
		last = snap.LastSuccessAt.Format(time.RFC3339)
	}
	_, _ = fmt.Fprintf(out, "Last success:     %s\n", last)

	if len(alerts) == 0 {
		_, _ = fmt.Fprintln(out, "\nNo alerts.")
		return
	}
	_, _ = fmt.Fprintf(out, "\n%d alert(s):\n", len(alerts))
	for _, a := range alerts {
		_, _ = fmt.Fprintf(out, "  [%s] %s: %s\n", a.Severity, a.Type, a.Message)
	}
}
