package stages

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/climate-pipeline/internal/combine"
	"github.com/sells-group/climate-pipeline/internal/graph"
	"github.com/sells-group/climate-pipeline/internal/lake"
	"github.com/sells-group/climate-pipeline/internal/partition"
	"github.com/sells-group/climate-pipeline/internal/runner"
	"github.com/sells-group/climate-pipeline/internal/schema"
	"github.com/sells-group/climate-pipeline/internal/years"
)

// ErrNothingCombined is returned when no year of a combine stage had both
// canonical partitions.
var ErrNothingCombined = errors.New("stages: no year could be combined")

// CombineFiles joins two canonical partitions for year and writes the
// combined partition to out.
func CombineFiles(wbPath, ctPath string, year int, out string) (combine.Stats, error) {
	recs, stats, err := combinePaths(wbPath, ctPath, year)
	if err != nil {
		return stats, err
	}
	return stats, partition.WriteCombined(out, recs)
}

func combinePaths(wbPath, ctPath string, year int) ([]combine.Record, combine.Stats, error) {
	wb, err := partition.ReadCanonical(wbPath, schema.WorldBank)
	if err != nil {
		return nil, combine.Stats{}, err
	}
	ct, err := partition.ReadCanonical(ctPath, schema.ClimateTrace)
	if err != nil {
		return nil, combine.Stats{}, err
	}
	return combine.Combine(wb, ct, year)
}

// combine joins every year of the fan-in node. A year missing either
// canonical partition is skipped and reported; the stage fails only when no
// year could be combined. With an output key free of the year placeholder
// all years are written as one aggregate file.
func (h *Handlers) combine(ctx context.Context, n *graph.StageNode) (runner.Result, error) {
	if len(n.Inputs) != 2 {
		return runner.Result{}, eris.Errorf("stages: combine %s needs 2 inputs, got %d", n.ID, len(n.Inputs))
	}
	dir, cleanup, err := h.scratch(n)
	if err != nil {
		return runner.Result{}, err
	}
	defer cleanup()

	aggregate := !strings.Contains(n.Output, years.Placeholder)
	var (
		all      []combine.Record
		combined []int
		skipped  = map[string]string{}
		rows     int
		dropped  combine.Stats
		joins    = map[int]combine.Stats{}
	)

	upstream, _ := runner.Upstream(ctx)
	for _, y := range n.Years {
		if dep, failed := failedBranch(upstream, y); failed {
			h.log.Warn("year not combined", zap.Int("year", y),
				zap.String("upstream", dep.StageID), zap.String("state", string(dep.State)))
			skipped[strconv.Itoa(y)] = "upstream stage " + dep.StageID + " " + string(dep.State)
			continue
		}
		recs, stats, err := h.combineYear(ctx, n, dir, y)
		if err != nil {
			if ctx.Err() != nil {
				return runner.Result{}, err
			}
			h.log.Warn("year not combined", zap.Int("year", y), zap.Error(err))
			skipped[strconv.Itoa(y)] = err.Error()
			continue
		}
		combined = append(combined, y)
		rows += len(recs)
		dropped.DroppedA += stats.DroppedA
		dropped.DroppedB += stats.DroppedB
		joins[y] = stats

		if aggregate {
			all = append(all, recs...)
			continue
		}
		if err := h.putCombined(ctx, dir, years.Expand(n.Output, y), recs); err != nil {
			return runner.Result{}, err
		}
	}

	if len(combined) == 0 {
		return runner.Result{}, eris.Wrapf(ErrNothingCombined, "%d years tried", len(n.Years))
	}
	if aggregate {
		if err := h.putCombined(ctx, dir, n.Output, all); err != nil {
			return runner.Result{}, err
		}
	}

	h.log.Info("combine complete",
		zap.Ints("years", combined),
		zap.Int("skipped", len(skipped)),
		zap.Int("rows", rows),
		zap.Bool("aggregate", aggregate),
	)
	meta := map[string]any{
		"rows":                  rows,
		"years":                 combined,
		"dropped_world_bank":    dropped.DroppedA,
		"dropped_climate_trace": dropped.DroppedB,
		"joins":                 joins,
	}
	if len(skipped) > 0 {
		meta["skipped"] = skipped
	}
	return runner.Result{Metadata: meta}, nil
}

// failedBranch returns the first dependency of year that did not succeed in
// this run. Partitions left by an earlier run must not stand in for it.
func failedBranch(upstream []runner.Dependency, year int) (runner.Dependency, bool) {
	for _, d := range upstream {
		if d.Year == year && d.State != graph.StateSucceeded {
			return d, true
		}
	}
	return runner.Dependency{}, false
}

func (h *Handlers) combineYear(ctx context.Context, n *graph.StageNode, dir string, year int) ([]combine.Record, combine.Stats, error) {
	y := strconv.Itoa(year)
	paths := make([]string, len(n.Inputs))
	for i, in := range n.Inputs {
		key := years.Expand(in, year)
		paths[i] = filepath.Join(dir, y+"-"+strconv.Itoa(i)+".parquet")
		if err := h.deps.Lake.Get(ctx, key, paths[i]); err != nil {
			if errors.Is(err, lake.ErrNotFound) {
				return nil, combine.Stats{}, eris.Wrapf(err, "missing partition %s", key)
			}
			return nil, combine.Stats{}, err
		}
	}

	recs, stats, err := combinePaths(paths[0], paths[1], year)
	if err != nil {
		return nil, stats, err
	}
	h.log.Debug("year combined",
		zap.Int("year", year),
		zap.Int("matched", stats.Matched),
		zap.Int("dropped_world_bank", stats.DroppedA),
		zap.Int("dropped_climate_trace", stats.DroppedB),
	)
	return recs, stats, nil
}

func (h *Handlers) putCombined(ctx context.Context, dir, key string, recs []combine.Record) error {
	local := filepath.Join(dir, "combined.parquet")
	if err := partition.WriteCombined(local, recs); err != nil {
		return err
	}
	return h.deps.Lake.Put(ctx, key, local)
}
