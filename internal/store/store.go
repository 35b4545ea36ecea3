// Package store persists the table catalog and the run ledger.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/climate-pipeline/internal/model"
)

// ErrNotFound is returned (wrapped) when a run, stage or table does not exist.
var ErrNotFound = errors.New("store: not found")

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status   model.RunStatus `json:"status,omitempty"`
	Pipeline string          `json:"pipeline,omitempty"`
	Limit    int             `json:"limit,omitempty"`
	Offset   int             `json:"offset,omitempty"`

	// CreatedAfter, when set, keeps runs created at or after this instant.
	CreatedAfter time.Time `json:"created_after,omitempty"`
}

// StageResult is the outcome recorded when a stage finishes.
type StageResult struct {
	Status   model.StageStatus
	Attempts int
	Error    string
	Metadata map[string]any
}

// Store defines the persistence interface for the catalog and run ledger.
type Store interface {
	// Catalog
	RegisterTable(ctx context.Context, t model.Table) error
	GetTable(ctx context.Context, dataset, name string) (*model.Table, error)
	ListTables(ctx context.Context, dataset string) ([]model.Table, error)

	// Runs
	CreateRun(ctx context.Context, pipeline string, years []int) (*model.Run, error)
	FinishRun(ctx context.Context, runID string, status model.RunStatus, errMsg string) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Stages
	StartStage(ctx context.Context, runID, stageID, kind string, year int) (*model.StageRun, error)
	FinishStage(ctx context.Context, stageRunID string, res StageResult) error
	SkipStage(ctx context.Context, runID, stageID, kind string, year int, reason string) error
	ListStages(ctx context.Context, runID string) ([]model.StageRun, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Drivers accepted by Open.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Open connects to the configured backend and applies migrations.
func Open(ctx context.Context, driver, dsn string, poolCfg *PoolConfig) (Store, error) {
	var (
		s   Store
		err error
	)
	switch driver {
	case DriverSQLite, "":
		s, err = NewSQLite(dsn)
	case DriverPostgres:
		s, err = NewPostgres(ctx, dsn, poolCfg)
	default:
		return nil, eris.Errorf("store: unknown driver %q (valid: sqlite, postgres)", driver)
	}
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func notFound(entity, id string) error {
	return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
}
