package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/climate-pipeline/internal/lake"
	"github.com/sells-group/climate-pipeline/internal/partition"
	"github.com/sells-group/climate-pipeline/internal/schema"
	"github.com/sells-group/climate-pipeline/internal/stages"
	"github.com/sells-group/climate-pipeline/internal/years"
)

// Job types accepted by the transform command.
const (
	jobWorldBank    = "world_bank"
	jobClimateTrace = "climate_trace"
	jobCombine      = "combine_datasets"
)

var transformCmd = &cobra.Command{
	Use:   "transform",
	Short: "Run one normalize or combine job for a single year",
	Long: `Runs a single job outside the task graph. world_bank and climate_trace normalize a raw
CSV into a canonical parquet file; combine_datasets joins the two canonical files of a year.
Paths that are not given default to the lake layout used by the pipeline.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("transform"); err != nil {
			return err
		}
		jobType, _ := cmd.Flags().GetString("job-type")
		year, _ := cmd.Flags().GetInt("year")
		if !years.Valid(year) {
			return eris.Errorf("transform: --year %d is not a 4-digit year", year)
		}

		files, err := newJobFiles()
		if err != nil {
			return err
		}
		defer files.cleanup()

		ctx := cmd.Context()
		switch jobType {
		case jobWorldBank, jobClimateTrace:
			err = runNormalizeJob(ctx, cmd, files, schema.Source(jobType), year)
		case jobCombine:
			err = runCombineJob(ctx, cmd, files, year)
		default:
			return eris.Errorf("transform: unknown --job-type %q (valid: %s, %s, %s)",
				jobType, jobWorldBank, jobClimateTrace, jobCombine)
		}
		if err != nil {
			return err
		}
		return files.flush(ctx)
	},
}

func init() {
	transformCmd.Flags().String("job-type", "", "job to run (world_bank, climate_trace, combine_datasets)")
	transformCmd.Flags().Int("year", 0, "year to process")
	transformCmd.Flags().String("input-path", "", "raw CSV file (default: raw lake object of the year)")
	transformCmd.Flags().String("output-path", "", "output parquet file (default: processed lake partition of the year)")
	transformCmd.Flags().String("world-bank-path", "", "canonical World Bank parquet file for combine_datasets")
	transformCmd.Flags().String("climate-trace-path", "", "canonical Climate TRACE parquet file for combine_datasets")
	_ = transformCmd.MarkFlagRequired("job-type")
	_ = transformCmd.MarkFlagRequired("year")
	rootCmd.AddCommand(transformCmd)
}

func runNormalizeJob(ctx context.Context, cmd *cobra.Command, files *jobFiles, src schema.Source, year int) error {
	inFlag, _ := cmd.Flags().GetString("input-path")
	outFlag, _ := cmd.Flags().GetString("output-path")

	in, err := files.input(ctx, inFlag, partition.RawKey(src, year))
	if err != nil {
		return err
	}
	out := files.output(outFlag, partition.CanonicalKey(src, year))

	stats, err := stages.TransformFile(ctx, src, year, in, out)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(os.Stdout, "%s %d: read %d, kept %d, other year %d, no country %d, invalid values %d -> %s\n",
		src, year, stats.RowsRead, stats.RowsKept, stats.RowsOtherYear, stats.RowsNoCountry, stats.InvalidValues,
		files.describe(outFlag, out))
	return nil
}

func runCombineJob(ctx context.Context, cmd *cobra.Command, files *jobFiles, year int) error {
	wbFlag, _ := cmd.Flags().GetString("world-bank-path")
	ctFlag, _ := cmd.Flags().GetString("climate-trace-path")
	outFlag, _ := cmd.Flags().GetString("output-path")

	wb, err := files.input(ctx, wbFlag, partition.CanonicalKey(schema.WorldBank, year))
	if err != nil {
		return err
	}
	ct, err := files.input(ctx, ctFlag, partition.CanonicalKey(schema.ClimateTrace, year))
	if err != nil {
		return err
	}
	out := files.output(outFlag, partition.CombinedKey(year))

	stats, err := stages.CombineFiles(wb, ct, year, out)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(os.Stdout, "%d: matched %d, dropped world_bank %d, dropped climate_trace %d -> %s\n",
		year, stats.Matched, stats.DroppedA, stats.DroppedB, files.describe(outFlag, out))
	return nil
}

// jobFiles maps job paths to local files. Explicit paths are used as is;
// missing ones are staged from or to the lake.
type jobFiles struct {
	dir     string
	lake    lake.Store
	uploads map[string]string // local path -> lake key
}

func newJobFiles() (*jobFiles, error) {
	dir, err := os.MkdirTemp(cfg.Runner.WorkDir, "climate-job-*")
	if err != nil {
		return nil, eris.Wrap(err, "transform: create scratch dir")
	}
	return &jobFiles{dir: dir, uploads: make(map[string]string)}, nil
}

func (j *jobFiles) cleanup() {
	_ = os.RemoveAll(j.dir)
}

func (j *jobFiles) store(ctx context.Context) (lake.Store, error) {
	if j.lake == nil {
		lk, err := initLake(ctx)
		if err != nil {
			return nil, err
		}
		j.lake = lk
	}
	return j.lake, nil
}

func (j *jobFiles) input(ctx context.Context, explicit, key string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	lk, err := j.store(ctx)
	if err != nil {
		return "", err
	}
	local := filepath.Join(j.dir, "in", filepath.FromSlash(key))
	if err := lk.Get(ctx, key, local); err != nil {
		return "", err
	}
	return local, nil
}

func (j *jobFiles) output(explicit, key string) string {
	if explicit != "" {
		return explicit
	}
	local := filepath.Join(j.dir, "out", filepath.FromSlash(key))
	j.uploads[local] = key
	return local
}

func (j *jobFiles) describe(explicit, local string) string {
	if explicit != "" {
		return explicit
	}
	if j.lake == nil {
		return j.uploads[local]
	}
	return j.lake.URI(j.uploads[local])
}

// flush uploads outputs that default to the lake.
func (j *jobFiles) flush(ctx context.Context) error {
	if len(j.uploads) == 0 {
		return nil
	}
	lk, err := j.store(ctx)
	if err != nil {
		return err
	}
	for local, key := range j.uploads {
		if err := lk.Put(ctx, key, local); err != nil {
			return err
		}
		zap.L().Info("job output uploaded", zap.String("key", key), zap.String("uri", lk.URI(key)))
	}
	return nil
}
