package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/climate-pipeline/internal/graph"
	"github.com/sells-group/climate-pipeline/internal/model"
	"github.com/sells-group/climate-pipeline/internal/partition"
	"github.com/sells-group/climate-pipeline/internal/store"
)

func TestRunPipeline_FullWithMissingYear(t *testing.T) {
	cfg = testConfig(t)
	srv := fakeAPIs(t, "2023")
	cfg.Extract.WorldBankURL = srv.URL
	cfg.Extract.ClimateTraceURL = srv.URL + "/ct/{year}"
	metricsFile := filepath.Join(t.TempDir(), "climate.prom")

	ctx := context.Background()
	sum, err := runPipeline(ctx, "full", "", metricsFile)
	require.NoError(t, err)

	o, _ := sum.Outcome("extract_climate_trace_data_2023")
	assert.Equal(t, graph.StateFailed, o.State)
	o, _ = sum.Outcome(graph.CombineID)
	assert.Equal(t, graph.StateSucceeded, o.State)
	assert.Equal(t, model.RunStatusPartial, sum.Status)

	recs, err := partition.ReadCombined(filepath.Join(cfg.Lake.Root, partition.CombinedKey(2022)))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "KEN", recs[0].Country)

	st, err := store.Open(ctx, store.DriverSQLite, cfg.Store.DatabaseURL, nil)
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	runs, err := st.ListRuns(ctx, store.RunFilter{})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, model.RunStatusPartial, runs[0].Status)
	assert.Equal(t, []int{2022, 2023}, runs[0].Years)
	assert.NotEmpty(t, runs[0].Error)

	stageRuns, err := st.ListStages(ctx, runs[0].ID)
	require.NoError(t, err)
	assert.Len(t, stageRuns, 2*2*4+2)

	tables, err := st.ListTables(ctx, "climate_test")
	require.NoError(t, err)
	assert.Len(t, tables, 4) // both 2022 tables, wb 2023 and combined

	data, err := os.ReadFile(metricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "climate_stage_runs_total")

	var buf bytes.Buffer
	formatSummary(&buf, sum)
	assert.Contains(t, buf.String(), "Run partial")
}

func TestRunPipeline_UnknownPipeline(t *testing.T) {
	cfg = testConfig(t)
	_, err := runPipeline(context.Background(), "nightly", "", "")
	assert.Error(t, err)
}

func TestRunCommand_FailedRunReturnsError(t *testing.T) {
	cfg = testConfig(t)
	srv := fakeAPIs(t, "2023")
	cfg.Extract.WorldBankURL = srv.URL
	cfg.Extract.ClimateTraceURL = srv.URL + "/ct/{year}"

	cmd := runCmd
	cmd.SetContext(context.Background())
	require.NoError(t, cmd.Flags().Set("pipeline", "extraction"))
	require.NoError(t, cmd.Flags().Set("years", "[2023]"))
	t.Cleanup(func() {
		_ = cmd.Flags().Set("pipeline", "full")
		_ = cmd.Flags().Set("years", "")
	})

	err := cmd.RunE(cmd, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run failed")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
	assert.Equal(t, "überfällig", truncate("überfällig", 10))

	got := truncate("Zürich → Genève → Mün", 10)
	assert.Equal(t, "Zürich ...", got)
	assert.True(t, utf8.ValidString(got))
}
