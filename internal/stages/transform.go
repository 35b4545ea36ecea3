package stages

import (
	"context"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/sells-group/climate-pipeline/internal/graph"
	"github.com/sells-group/climate-pipeline/internal/partition"
	"github.com/sells-group/climate-pipeline/internal/runner"
	"github.com/sells-group/climate-pipeline/internal/schema"
	"github.com/sells-group/climate-pipeline/internal/table"
)

// TransformFile normalizes the raw CSV at in for year and writes the
// canonical partition to out. It overwrites out, so re-running with the same
// input yields the same partition.
func TransformFile(ctx context.Context, src schema.Source, year int, in, out string) (schema.Stats, error) {
	s, err := schema.For(src)
	if err != nil {
		return schema.Stats{}, err
	}
	t, err := table.ReadCSVFile(ctx, in)
	if err != nil {
		return schema.Stats{}, err
	}
	recs, stats, err := schema.Normalize(s, t, year)
	if err != nil {
		return stats, err
	}
	return stats, partition.WriteCanonical(out, src, recs)
}

func (h *Handlers) transform(ctx context.Context, n *graph.StageNode) (runner.Result, error) {
	src, err := schema.ParseSource(n.Source)
	if err != nil {
		return runner.Result{}, err
	}
	dir, cleanup, err := h.scratch(n)
	if err != nil {
		return runner.Result{}, err
	}
	defer cleanup()

	raw := filepath.Join(dir, "raw.csv")
	if err := h.deps.Lake.Get(ctx, n.Input(), raw); err != nil {
		return runner.Result{}, err
	}

	out := filepath.Join(dir, "data.parquet")
	stats, err := TransformFile(ctx, src, n.Year, raw, out)
	if err != nil {
		return runner.Result{}, err
	}
	if err := h.deps.Lake.Put(ctx, n.Output, out); err != nil {
		return runner.Result{}, err
	}

	h.log.Info("partition written",
		zap.String("source", string(src)),
		zap.Int("year", n.Year),
		zap.String("key", n.Output),
		zap.Int("rows", stats.RowsKept),
	)
	return runner.Result{Metadata: map[string]any{
		"rows":            stats.RowsKept,
		"rows_read":       stats.RowsRead,
		"rows_other_year": stats.RowsOtherYear,
		"rows_no_country": stats.RowsNoCountry,
		"invalid_values":  stats.InvalidValues,
	}}, nil
}
