package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/climate-pipeline/internal/graph"
	"github.com/sells-group/climate-pipeline/internal/metrics"
	"github.com/sells-group/climate-pipeline/internal/model"
	"github.com/sells-group/climate-pipeline/internal/runner"
	"github.com/sells-group/climate-pipeline/internal/stages"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a pipeline for the configured years",
	Long:  "Builds the task graph of the selected pipeline, executes it, and records every stage in the run ledger. A failed year never blocks the combine stage.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("run"); err != nil {
			return err
		}
		pipeline, _ := cmd.Flags().GetString("pipeline")
		override, _ := cmd.Flags().GetString("years")
		metricsFile, _ := cmd.Flags().GetString("metrics-file")
		if metricsFile == "" {
			metricsFile = cfg.Metrics.TextfilePath
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		sum, err := runPipeline(ctx, pipeline, override, metricsFile)
		if err != nil {
			return err
		}
		formatSummary(os.Stdout, sum)
		if sum.Status == model.RunStatusFailed {
			return eris.Errorf("run failed: %v", sum.FirstError())
		}
		return nil
	},
}

func init() {
	runCmd.Flags().String("pipeline", string(graph.PipelineFull), "pipeline to run (extraction, processing, full)")
	runCmd.Flags().String("years", "", "override the configured years, e.g. \"[2021, 2022]\"")
	runCmd.Flags().String("metrics-file", "", "write Prometheus metrics to this textfile after the run")
	rootCmd.AddCommand(runCmd)
}

func runPipeline(ctx context.Context, pipeline, override, metricsFile string) (*runner.Summary, error) {
	p, ys, g, err := buildGraph(pipeline, override, time.Now())
	if err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	defer st.Close() //nolint:errcheck

	lk, err := initLake(ctx)
	if err != nil {
		return nil, err
	}

	run, err := st.CreateRun(ctx, string(p), ys.Years())
	if err != nil {
		return nil, err
	}
	log := zap.L().With(zap.String("run_id", run.ID), zap.String("pipeline", string(p)))
	log.Info("run started", zap.Ints("years", ys.Years()), zap.Int("stages", g.Len()))

	collector := metrics.New()
	handlers := stages.New(stages.Deps{
		Lake:       lk,
		Catalog:    st,
		Extractors: initExtractors(),
		Dataset:    cfg.Catalog.Dataset,
		WorkDir:    cfg.Runner.WorkDir,
	})
	r := runner.New(handlers, runner.Options{
		Concurrency: cfg.Runner.Concurrency,
		Retries:     cfg.Runner.Retries,
		RetryDelay:  cfg.Runner.RetryDelay(),
		Recorder:    runner.Recorders{runner.NewStoreRecorder(st, run.ID), collector},
	})

	sum, err := r.Run(ctx, g)
	if err != nil {
		_ = st.FinishRun(context.WithoutCancel(ctx), run.ID, model.RunStatusFailed, err.Error())
		return nil, err
	}

	errMsg := ""
	if e := sum.FirstError(); e != nil {
		errMsg = e.Error()
	}
	if err := st.FinishRun(context.WithoutCancel(ctx), run.ID, sum.Status, errMsg); err != nil {
		log.Warn("record run finish", zap.Error(err))
	}

	collector.ObserveRun(string(p), sum, time.Now())
	if metricsFile != "" {
		if err := collector.WriteTextfile(metricsFile); err != nil {
			log.Warn("write metrics", zap.Error(err))
		}
	}

	log.Info("run finished", zap.String("status", string(sum.Status)), zap.Duration("elapsed", sum.Elapsed))
	return sum, nil
}

// formatSummary writes one line per stage in completion order.
func formatSummary(out io.Writer, sum *runner.Summary) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "STAGE\tSTATE\tATTEMPTS\tDURATION\tERROR")
	_, _ = fmt.Fprintln(w, "-----\t-----\t--------\t--------\t-----")
	for _, o := range sum.Outcomes {
		errMsg := ""
		if o.Err != nil {
			errMsg = truncate(o.Err.Error(), 60)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
			o.StageID, o.State, o.Attempts, o.Duration.Round(time.Millisecond), errMsg)
	}
	_ = w.Flush()
	_, _ = fmt.Fprintf(out, "\nRun %s in %s (%d/%d stages succeeded)\n",
		sum.Status, sum.Elapsed.Round(time.Millisecond), len(sum.Outcomes)-len(sum.Failed()), len(sum.Outcomes))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
