package stages

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/climate-pipeline/internal/graph"
	"github.com/sells-group/climate-pipeline/internal/lake"
	"github.com/sells-group/climate-pipeline/internal/model"
	"github.com/sells-group/climate-pipeline/internal/partition"
	"github.com/sells-group/climate-pipeline/internal/runner"
	"github.com/sells-group/climate-pipeline/internal/years"
)

// catalog registers an external table over a parquet object. Keys carrying
// the year placeholder span one partition per year: the URI uses a wildcard
// and row counts are summed over the partitions that exist.
func (h *Handlers) catalog(ctx context.Context, n *graph.StageNode) (runner.Result, error) {
	pattern := n.Input()
	keys := []string{pattern}
	uri := h.deps.Lake.URI(pattern)
	if strings.Contains(pattern, years.Placeholder) {
		keys = keys[:0]
		for _, y := range n.Years {
			keys = append(keys, years.Expand(pattern, y))
		}
		uri = h.deps.Lake.URI(strings.ReplaceAll(pattern, years.Placeholder, "*"))
	}

	dir, cleanup, err := h.scratch(n)
	if err != nil {
		return runner.Result{}, err
	}
	defer cleanup()

	var (
		cols     []model.Column
		rows     int64
		checksum string
		found    int
	)
	for i, key := range keys {
		local := filepath.Join(dir, partitionFile(i))
		if err := h.deps.Lake.Get(ctx, key, local); err != nil {
			if errors.Is(err, lake.ErrNotFound) && len(keys) > 1 {
				h.log.Warn("partition missing from catalog table", zap.String("key", key), zap.String("table", n.Table))
				continue
			}
			return runner.Result{}, err
		}
		c, r, err := partition.Detect(local)
		if err != nil {
			return runner.Result{}, err
		}
		if cols == nil {
			cols = c
		}
		rows += r
		found++
		if len(keys) == 1 {
			if checksum, err = partition.Checksum(local); err != nil {
				return runner.Result{}, err
			}
		}
	}
	if found == 0 {
		return runner.Result{}, eris.Errorf("stages: no partitions for table %s", n.Table)
	}

	t := model.Table{
		Dataset:      h.deps.Dataset,
		Name:         n.Table,
		URI:          uri,
		Format:       model.FormatParquet,
		Autodetect:   true,
		Columns:      cols,
		Rows:         rows,
		Checksum:     checksum,
		RegisteredAt: time.Now().UTC(),
	}
	if err := h.deps.Catalog.RegisterTable(ctx, t); err != nil {
		return runner.Result{}, err
	}

	h.log.Info("table registered",
		zap.String("table", t.QualifiedName()),
		zap.String("uri", uri),
		zap.Int64("rows", rows),
	)
	return runner.Result{Metadata: map[string]any{"rows": rows, "uri": uri, "partitions": found}}, nil
}

func partitionFile(i int) string {
	return fmt.Sprintf("part-%04d.parquet", i)
}
