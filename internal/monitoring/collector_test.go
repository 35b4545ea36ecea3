package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/climate-pipeline/internal/model"
	"github.com/sells-group/climate-pipeline/internal/store"
)

// fakeLedger implements RunLedger over in-memory runs, newest first.
type fakeLedger struct {
	runs    []model.Run
	stages  map[string][]model.StageRun
	listErr error
}

func (f *fakeLedger) ListRuns(_ context.Context, filter store.RunFilter) ([]model.Run, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []model.Run
	for _, r := range f.runs {
		if !filter.CreatedAfter.IsZero() && r.CreatedAt.Before(filter.CreatedAfter) {
			continue
		}
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		out = append(out, r)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func (f *fakeLedger) ListStages(_ context.Context, runID string) ([]model.StageRun, error) {
	return f.stages[runID], nil
}

func newTestCollector(l *fakeLedger) *Collector {
	c := NewCollector(l)
	c.now = func() time.Time { return collectedAt }
	return c
}

func TestCollector_Collect(t *testing.T) {
	finished := func(d time.Duration) *time.Time { return recent(d) }
	l := &fakeLedger{
		runs: []model.Run{
			{ID: "r5", Status: model.RunStatusRunning, CreatedAt: collectedAt.Add(-time.Hour)},
			{ID: "r4", Status: model.RunStatusPartial, CreatedAt: collectedAt.Add(-3 * time.Hour), FinishedAt: finished(2 * time.Hour)},
			{ID: "r3", Status: model.RunStatusFailed, CreatedAt: collectedAt.Add(-5 * time.Hour), FinishedAt: finished(5 * time.Hour)},
			{ID: "r2", Status: model.RunStatusSucceeded, CreatedAt: collectedAt.Add(-8 * time.Hour), FinishedAt: finished(7 * time.Hour)},
			{ID: "r1", Status: model.RunStatusFailed, CreatedAt: collectedAt.Add(-48 * time.Hour)},
		},
		stages: map[string][]model.StageRun{
			"r4": {
				{Kind: "extract", Year: 2023, Status: model.StageStatusFailed},
				{Kind: "transfer", Year: 2023, Status: model.StageStatusUpstreamFailed},
				{Kind: "combine", Status: model.StageStatusSucceeded},
			},
			"r3": {
				{Kind: "extract", Year: 2021, Status: model.StageStatusFailed},
				{Kind: "combine", Status: model.StageStatusFailed},
			},
		},
	}

	snap, err := newTestCollector(l).Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Equal(t, 4, snap.RunsTotal)
	assert.Equal(t, 1, snap.RunsSucceeded)
	assert.Equal(t, 1, snap.RunsPartial)
	assert.Equal(t, 1, snap.RunsFailed)
	assert.Equal(t, 1, snap.RunsRunning)
	assert.InDelta(t, 1.0/3.0, snap.RunFailRate, 0.001)
	assert.Equal(t, map[string]int{"extract": 2, "combine": 1}, snap.StageFailures)
	assert.Equal(t, []int{2021, 2023}, snap.FailedYears)
	require.NotNil(t, snap.LastSuccessAt)
	assert.Equal(t, collectedAt.Add(-2*time.Hour), *snap.LastSuccessAt)
	assert.Equal(t, 24, snap.LookbackHours)
}

func TestCollector_Collect_Empty(t *testing.T) {
	snap, err := newTestCollector(&fakeLedger{}).Collect(context.Background(), 24)
	require.NoError(t, err)
	assert.Zero(t, snap.RunsTotal)
	assert.Zero(t, snap.RunFailRate)
	assert.Nil(t, snap.StageFailures)
	assert.Nil(t, snap.LastSuccessAt)
}

func TestCollector_Collect_ListError(t *testing.T) {
	_, err := newTestCollector(&fakeLedger{listErr: errors.New("db down")}).Collect(context.Background(), 24)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monitoring: list runs")
}

func TestCollector_Collect_SQLiteStore(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open(ctx, store.DriverSQLite, t.TempDir()+"/climate.db", nil)
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	run, err := st.CreateRun(ctx, "full", []int{2022})
	require.NoError(t, err)
	sr, err := st.StartStage(ctx, run.ID, "extract_world_bank_data_2022", "extract", 2022)
	require.NoError(t, err)
	require.NoError(t, st.FinishStage(ctx, sr.ID, store.StageResult{Status: model.StageStatusFailed, Attempts: 1, Error: "boom"}))
	require.NoError(t, st.FinishRun(ctx, run.ID, model.RunStatusFailed, "boom"))

	snap, err := NewCollector(st).Collect(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.RunsFailed)
	assert.Equal(t, map[string]int{"extract": 1}, snap.StageFailures)
	assert.Nil(t, snap.LastSuccessAt)
}
