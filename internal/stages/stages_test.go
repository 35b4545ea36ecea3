package stages

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/climate-pipeline/internal/combine"
	"github.com/sells-group/climate-pipeline/internal/extract"
	"github.com/sells-group/climate-pipeline/internal/graph"
	"github.com/sells-group/climate-pipeline/internal/lake"
	"github.com/sells-group/climate-pipeline/internal/model"
	"github.com/sells-group/climate-pipeline/internal/partition"
	"github.com/sells-group/climate-pipeline/internal/runner"
	"github.com/sells-group/climate-pipeline/internal/schema"
	"github.com/sells-group/climate-pipeline/internal/store"
	"github.com/sells-group/climate-pipeline/internal/years"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

const wbCSV = `country,year,SP.POP.TOTL,NY.GDP.PCAP.CD,SP.DYN.LE00.IN,SE.SEC.ENRR,SL.UEM.TOTL.ZS,SI.POV.GINI,SI.POV.GAPS
KEN,{year},54027487,2099.3,61.4,..,5.6,38.7,
USA,{year},333287557,76329.6,76.3,99.1,3.6,41.3,1.0
FRA,{year},67935660,40886.3,82.3,101.2,7.3,31.5,0.1
`

const ctCSV = `country,year,co2,ch4,n2o,co2e_100yr,co2e_20yr
KEN,{year},20,5,0.1,25,30
USA,{year},5000,30,1.5,6000,7000
DEU,{year},700,10,0.5,800,900
`

// fileExtractor writes a canned CSV, or fails for the listed years.
type fileExtractor struct {
	src     schema.Source
	body    string
	failFor map[int]bool
}

func (f *fileExtractor) Source() schema.Source { return f.src }

func (f *fileExtractor) Extract(_ context.Context, year int, dest string) (int64, error) {
	if f.failFor[year] {
		return 0, eris.Errorf("upstream has no data for %d", year)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, err
	}
	body := years.Expand(f.body, year)
	return int64(strings.Count(body, "\n") - 1), os.WriteFile(dest, []byte(body), 0o644)
}

type env struct {
	lake    *lake.LocalStore
	store   store.Store
	dataDir string
	deps    Deps
}

func newEnv(t *testing.T, ctFailFor ...int) *env {
	t.Helper()
	root := t.TempDir()

	lk, err := lake.NewLocalStore(filepath.Join(root, "lake"))
	require.NoError(t, err)
	st, err := store.Open(context.Background(), store.DriverSQLite, filepath.Join(root, "climate.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	fail := map[int]bool{}
	for _, y := range ctFailFor {
		fail[y] = true
	}
	return &env{
		lake:    lk,
		store:   st,
		dataDir: filepath.Join(root, "data"),
		deps: Deps{
			Lake:    lk,
			Catalog: st,
			Extractors: []extract.Extractor{
				&fileExtractor{src: schema.WorldBank, body: wbCSV},
				&fileExtractor{src: schema.ClimateTrace, body: ctCSV, failFor: fail},
			},
			Dataset: "climate_test",
			WorkDir: root,
		},
	}
}

func (e *env) run(t *testing.T, opts graph.PresetOptions, ys ...int) *runner.Summary {
	t.Helper()
	opts.DataDir = e.dataDir
	g, err := graph.Build(years.MustSet(ys...), graph.FullTemplates(opts))
	require.NoError(t, err)
	sum, err := runner.New(New(e.deps), runner.Options{Concurrency: 2}).Run(context.Background(), g)
	require.NoError(t, err)
	return sum
}

func TestFullPipeline_AllYears(t *testing.T) {
	e := newEnv(t)
	sum := e.run(t, graph.PresetOptions{}, 2022, 2023)
	require.Empty(t, sum.Failed())
	assert.Equal(t, model.RunStatusSucceeded, sum.Status)

	o, _ := sum.Outcome(graph.CombineID)
	assert.Equal(t, 4, o.Metadata["rows"])
	assert.Equal(t, 2, o.Metadata["dropped_world_bank"], "FRA has no emissions row")
	assert.Equal(t, 2, o.Metadata["dropped_climate_trace"], "DEU has no economic row")
	assert.Equal(t, combine.Stats{Matched: 2, DroppedA: 1, DroppedB: 1},
		o.Metadata["joins"].(map[int]combine.Stats)[2023])

	for _, y := range []int{2022, 2023} {
		recs, err := partition.ReadCombined(e.lake.Path(partition.CombinedKey(y)))
		require.NoError(t, err)
		require.Len(t, recs, 2)
		assert.Equal(t, "KEN", recs[0].Country)
		assert.Equal(t, "USA", recs[1].Country)
		assert.Equal(t, y, recs[0].Year)
		assert.Nil(t, recs[0].Economic[3], "'..' is missing, not zero")
	}

	tables, err := e.store.ListTables(context.Background(), "climate_test")
	require.NoError(t, err)
	assert.Len(t, tables, 5)

	combined, err := e.store.GetTable(context.Background(), "climate_test", graph.CombinedTableName)
	require.NoError(t, err)
	assert.Equal(t, int64(4), combined.Rows)
	assert.Contains(t, combined.URI, "processed/combined/*/data.parquet")
	assert.Equal(t, model.FormatParquet, combined.Format)
	assert.True(t, combined.Autodetect)

	wb, err := e.store.GetTable(context.Background(), "climate_test", "world_bank_data_2022")
	require.NoError(t, err)
	assert.Equal(t, int64(3), wb.Rows)
	assert.NotEmpty(t, wb.Checksum)
	assert.Len(t, wb.Columns, len(schema.MustFor(schema.WorldBank).Columns()))
}

func TestFullPipeline_MissingSourceYearStillCombinesOthers(t *testing.T) {
	e := newEnv(t, 2023)
	sum := e.run(t, graph.PresetOptions{}, 2022, 2023)

	o, _ := sum.Outcome("extract_climate_trace_data_2023")
	assert.Equal(t, graph.StateFailed, o.State)
	o, _ = sum.Outcome("process_climate_trace_data_2023")
	assert.Equal(t, graph.StateUpstreamFailed, o.State)

	o, _ = sum.Outcome(graph.CombineID)
	require.Equal(t, graph.StateSucceeded, o.State)
	assert.Equal(t, []int{2022}, o.Metadata["years"])
	assert.Contains(t, o.Metadata["skipped"], "2023")
	assert.Equal(t, model.RunStatusPartial, sum.Status)

	_, err := os.Stat(e.lake.Path(partition.CombinedKey(2022)))
	assert.NoError(t, err)
	_, err = os.Stat(e.lake.Path(partition.CombinedKey(2023)))
	assert.True(t, os.IsNotExist(err))

	combined, err := e.store.GetTable(context.Background(), "climate_test", graph.CombinedTableName)
	require.NoError(t, err)
	assert.Equal(t, int64(2), combined.Rows)
}

func TestFullPipeline_RerunIgnoresPartitionsOfEarlierRun(t *testing.T) {
	e := newEnv(t)
	e.run(t, graph.PresetOptions{}, 2022, 2023)
	require.FileExists(t, e.lake.Path(partition.CanonicalKey(schema.ClimateTrace, 2023)))
	before, err := os.ReadFile(e.lake.Path(partition.CombinedKey(2023)))
	require.NoError(t, err)

	e.deps.Extractors[1].(*fileExtractor).failFor = map[int]bool{2023: true}
	sum := e.run(t, graph.PresetOptions{}, 2022, 2023)

	o, _ := sum.Outcome("process_climate_trace_data_2023")
	assert.Equal(t, graph.StateUpstreamFailed, o.State)
	o, _ = sum.Outcome(graph.CombineID)
	require.Equal(t, graph.StateSucceeded, o.State)
	assert.Equal(t, []int{2022}, o.Metadata["years"])
	assert.Contains(t, o.Metadata["skipped"].(map[string]string)["2023"], "create_ct_bq_table_2023")
	assert.Equal(t, model.RunStatusPartial, sum.Status)

	after, err := os.ReadFile(e.lake.Path(partition.CombinedKey(2023)))
	require.NoError(t, err)
	assert.Equal(t, before, after, "combined 2023 is not rewritten")
}

func TestFullPipeline_Aggregate(t *testing.T) {
	e := newEnv(t)
	sum := e.run(t, graph.PresetOptions{Aggregate: true}, 2021, 2022)
	require.Empty(t, sum.Failed())

	recs, err := partition.ReadCombined(e.lake.Path(partition.AggregateKey))
	require.NoError(t, err)
	assert.Len(t, recs, 4)

	combined, err := e.store.GetTable(context.Background(), "climate_test", graph.CombinedTableName)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(combined.URI, partition.AggregateKey))
	assert.NotEmpty(t, combined.Checksum)
}

func TestCombine_NoYearCombined(t *testing.T) {
	e := newEnv(t)
	h := New(e.deps)
	g, err := graph.Build(years.MustSet(2022), graph.ProcessingTemplates(graph.PresetOptions{}))
	require.NoError(t, err)
	n, _ := g.Node(graph.CombineID)

	_, err = h.Run(context.Background(), n)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNothingCombined)
}

func TestTransformFile_Idempotent(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "raw.csv")
	require.NoError(t, os.WriteFile(in, []byte(years.Expand(ctCSV, 2022)), 0o644))

	out := filepath.Join(dir, "out.parquet")
	stats, err := TransformFile(context.Background(), schema.ClimateTrace, 2022, in, out)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.RowsKept)
	first, err := os.ReadFile(out)
	require.NoError(t, err)

	_, err = TransformFile(context.Background(), schema.ClimateTrace, 2022, in, out)
	require.NoError(t, err)
	second, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestTransformFile_MissingColumn(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "raw.csv")
	require.NoError(t, os.WriteFile(in, []byte("country,year,co2\nKEN,2022,1\n"), 0o644))

	out := filepath.Join(dir, "out.parquet")
	_, err := TransformFile(context.Background(), schema.ClimateTrace, 2022, in, out)
	require.Error(t, err)
	assert.ErrorIs(t, err, schema.ErrMissingColumn)
	assert.NoFileExists(t, out)
}

func TestCombineFiles(t *testing.T) {
	dir := t.TempDir()
	paths := map[schema.Source]string{}
	for src, body := range map[schema.Source]string{schema.WorldBank: wbCSV, schema.ClimateTrace: ctCSV} {
		in := filepath.Join(dir, string(src)+".csv")
		require.NoError(t, os.WriteFile(in, []byte(years.Expand(body, 2020)), 0o644))
		paths[src] = filepath.Join(dir, string(src)+".parquet")
		_, err := TransformFile(context.Background(), src, 2020, in, paths[src])
		require.NoError(t, err)
	}

	out := filepath.Join(dir, "combined.parquet")
	stats, err := CombineFiles(paths[schema.WorldBank], paths[schema.ClimateTrace], 2020, out)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Matched)
	assert.Equal(t, 1, stats.DroppedA)
	assert.Equal(t, 1, stats.DroppedB)

	first, err := os.ReadFile(out)
	require.NoError(t, err)
	for range 3 {
		_, err = CombineFiles(paths[schema.WorldBank], paths[schema.ClimateTrace], 2020, out)
		require.NoError(t, err)
		again, err := os.ReadFile(out)
		require.NoError(t, err)
		assert.Equal(t, first, again, "combined output is byte-identical across runs")
	}
}

func TestRun_UnknownKind(t *testing.T) {
	_, err := New(Deps{}).Run(context.Background(), &graph.StageNode{ID: "x", Kind: "bogus"})
	assert.Error(t, err)
}
