package metrics

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/climate-pipeline/internal/combine"
	"github.com/sells-group/climate-pipeline/internal/graph"
	"github.com/sells-group/climate-pipeline/internal/model"
	"github.com/sells-group/climate-pipeline/internal/runner"
	"github.com/sells-group/climate-pipeline/internal/years"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func TestCollector_RecordsRun(t *testing.T) {
	g, err := graph.Build(years.MustSet(2022), graph.ProcessingTemplates(graph.PresetOptions{}))
	require.NoError(t, err)

	h := runner.HandlerFunc(func(_ context.Context, n *graph.StageNode) (runner.Result, error) {
		if n.ID == "process_climate_trace_data_2022" {
			return runner.Result{}, eris.New("missing file")
		}
		return runner.Result{Metadata: map[string]any{"rows": int64(10)}}, nil
	})

	c := New()
	sum, err := runner.New(h, runner.Options{Recorder: c}).Run(context.Background(), g)
	require.NoError(t, err)
	c.ObserveRun("processing", sum, time.Unix(1700000000, 0))

	assert.Equal(t, 1.0, testutil.ToFloat64(c.stagesTotal.WithLabelValues("transform", "succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.stagesTotal.WithLabelValues("transform", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.stagesTotal.WithLabelValues("catalog", "upstream_failed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.stagesTotal.WithLabelValues("catalog", "succeeded")))
	assert.Equal(t, 40.0, testutil.ToFloat64(c.rowsTotal.WithLabelValues("catalog"))+
		testutil.ToFloat64(c.rowsTotal.WithLabelValues("transform"))+
		testutil.ToFloat64(c.rowsTotal.WithLabelValues("combine")))
	assert.Equal(t, model.RunStatusPartial, sum.Status)
	assert.Equal(t, 1700000000.0, testutil.ToFloat64(c.runLastSuccess.WithLabelValues("processing")))
}

func TestCollector_Retries(t *testing.T) {
	c := New()
	n := &graph.StageNode{ID: "x", Kind: graph.KindExtract}
	c.StageFinished(context.Background(), n, runner.Outcome{State: graph.StateSucceeded, Attempts: 3, Duration: time.Second})
	assert.Equal(t, 2.0, testutil.ToFloat64(c.stageRetries.WithLabelValues("extract")))
}

func TestCollector_FailedRunKeepsLastSuccess(t *testing.T) {
	c := New()
	c.ObserveRun("full", &runner.Summary{Status: model.RunStatusFailed, Elapsed: time.Second}, time.Now())
	assert.Equal(t, 0, testutil.CollectAndCount(c.runLastSuccess))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.runDuration.WithLabelValues("full", "failed")))
}

func TestCollector_WriteTextfile(t *testing.T) {
	c := New()
	c.StageSkipped(context.Background(), &graph.StageNode{ID: "x", Kind: graph.KindCatalog}, "upstream")

	path := filepath.Join(t.TempDir(), "climate.prom")
	require.NoError(t, c.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `climate_stage_runs_total{kind="catalog",state="upstream_failed"} 1`)
}

func TestCollector_JoinDrops(t *testing.T) {
	c := New()
	n := &graph.StageNode{ID: graph.CombineID, Kind: graph.KindCombine}
	c.StageFinished(context.Background(), n, runner.Outcome{
		State:    graph.StateSucceeded,
		Attempts: 1,
		Metadata: map[string]any{
			"rows": 4,
			"joins": map[int]combine.Stats{
				2022: {Matched: 2, DroppedA: 2, DroppedB: 1},
				2023: {Matched: 2},
			},
		},
	})
	assert.Equal(t, 2.0, testutil.ToFloat64(c.joinDropped.WithLabelValues("world_bank", "2022")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.joinDropped.WithLabelValues("climate_trace", "2022")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.joinDropped.WithLabelValues("world_bank", "2023")))
	assert.Equal(t, 4.0, testutil.ToFloat64(c.rowsTotal.WithLabelValues("combine")))
}

func TestIntValue(t *testing.T) {
	n, ok := intValue(map[string]any{"rows": 5}, "rows")
	assert.True(t, ok)
	assert.Equal(t, int64(5), n)
	_, ok = intValue(map[string]any{"rows": "5"}, "rows")
	assert.False(t, ok)
	_, ok = intValue(nil, "rows")
	assert.False(t, ok)
}
