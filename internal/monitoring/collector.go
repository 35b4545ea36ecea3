// Package monitoring watches the run ledger and raises alerts when runs fail
// too often or the warehouse goes stale.
package monitoring

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/climate-pipeline/internal/model"
	"github.com/sells-group/climate-pipeline/internal/store"
)

// Snapshot holds a point-in-time view of pipeline health.
type Snapshot struct {
	// Runs created within the lookback window.
	RunsTotal     int     `json:"runs_total"`
	RunsSucceeded int     `json:"runs_succeeded"`
	RunsPartial   int     `json:"runs_partial"`
	RunsFailed    int     `json:"runs_failed"`
	RunsRunning   int     `json:"runs_running"`
	RunFailRate   float64 `json:"run_fail_rate"`

	// Failed stages of those runs, by stage kind.
	StageFailures map[string]int `json:"stage_failures,omitempty"`
	// FailedYears lists years with at least one failed stage.
	FailedYears []int `json:"failed_years,omitempty"`

	// LastSuccessAt is the finish time of the latest succeeded or partial
	// run, regardless of the window.
	LastSuccessAt *time.Time `json:"last_success_at,omitempty"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// RunLedger is the subset of store.Store the collector reads.
type RunLedger interface {
	ListRuns(ctx context.Context, filter store.RunFilter) ([]model.Run, error)
	ListStages(ctx context.Context, runID string) ([]model.StageRun, error)
}

// Collector gathers snapshots from the run ledger.
type Collector struct {
	ledger RunLedger
	now    func() time.Time
}

// NewCollector creates a new snapshot collector.
func NewCollector(ledger RunLedger) *Collector {
	return &Collector{ledger: ledger, now: time.Now}
}

// Collect gathers a snapshot over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*Snapshot, error) {
	now := c.now().UTC()
	snap := &Snapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	runs, err := c.ledger.ListRuns(ctx, store.RunFilter{
		CreatedAfter: cutoff,
		Limit:        10000,
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	failedYears := make(map[int]bool)
	snap.RunsTotal = len(runs)
	for _, r := range runs {
		switch r.Status {
		case model.RunStatusSucceeded:
			snap.RunsSucceeded++
			continue
		case model.RunStatusPartial:
			snap.RunsPartial++
		case model.RunStatusFailed:
			snap.RunsFailed++
		case model.RunStatusRunning:
			snap.RunsRunning++
			continue
		}

		stages, err := c.ledger.ListStages(ctx, r.ID)
		if err != nil {
			return nil, eris.Wrapf(err, "monitoring: list stages of run %s", r.ID)
		}
		for _, s := range stages {
			if s.Status != model.StageStatusFailed {
				continue
			}
			if snap.StageFailures == nil {
				snap.StageFailures = make(map[string]int)
			}
			snap.StageFailures[s.Kind]++
			if s.Year != 0 && !failedYears[s.Year] {
				failedYears[s.Year] = true
				snap.FailedYears = append(snap.FailedYears, s.Year)
			}
		}
	}
	sort.Ints(snap.FailedYears)

	finished := snap.RunsSucceeded + snap.RunsPartial + snap.RunsFailed
	if finished > 0 {
		snap.RunFailRate = float64(snap.RunsFailed) / float64(finished)
	}

	last, err := c.lastSuccess(ctx)
	if err != nil {
		return nil, err
	}
	snap.LastSuccessAt = last

	return snap, nil
}

func (c *Collector) lastSuccess(ctx context.Context) (*time.Time, error) {
	var last *time.Time
	for _, status := range []model.RunStatus{model.RunStatusSucceeded, model.RunStatusPartial} {
		runs, err := c.ledger.ListRuns(ctx, store.RunFilter{Status: status, Limit: 1})
		if err != nil {
			return nil, eris.Wrapf(err, "monitoring: latest %s run", status)
		}
		if len(runs) == 0 || runs[0].FinishedAt == nil {
			continue
		}
		if last == nil || runs[0].FinishedAt.After(*last) {
			t := *runs[0].FinishedAt
			last = &t
		}
	}
	return last, nil
}
