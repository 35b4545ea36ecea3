package model

import "time"

// RunStatus is the overall state of a pipeline run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
	// RunStatusPartial marks a run whose final stages succeeded although
	// some upstream branches failed.
	RunStatusPartial RunStatus = "partial"
)

// IsTerminal reports whether the run has finished.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed || s == RunStatusPartial
}

// Run is one execution of a pipeline graph.
type Run struct {
	ID         string     `json:"id"`
	Pipeline   string     `json:"pipeline"`
	Years      []int      `json:"years"`
	Status     RunStatus  `json:"status"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// StageStatus is the recorded outcome of one stage of a run.
type StageStatus string

const (
	StageStatusRunning        StageStatus = "running"
	StageStatusSucceeded      StageStatus = "succeeded"
	StageStatusFailed         StageStatus = "failed"
	StageStatusUpstreamFailed StageStatus = "upstream_failed"
)

// StageRun records a stage execution within a run.
type StageRun struct {
	ID         string         `json:"id"`
	RunID      string         `json:"run_id"`
	StageID    string         `json:"stage_id"`
	Kind       string         `json:"kind"`
	Year       int            `json:"year,omitempty"`
	Status     StageStatus    `json:"status"`
	Attempts   int            `json:"attempts"`
	Error      string         `json:"error,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
}

// Duration returns the elapsed time of a finished stage, or zero.
func (s StageRun) Duration() time.Duration {
	if s.FinishedAt == nil {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}
