package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/climate-pipeline/internal/db"
	"github.com/sells-group/climate-pipeline/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool db.Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresWithPool wraps an existing pool.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS catalog_tables (
	dataset       TEXT NOT NULL,
	name          TEXT NOT NULL,
	uri           TEXT NOT NULL,
	format        TEXT NOT NULL,
	autodetect    BOOLEAN NOT NULL DEFAULT true,
	columns       JSONB NOT NULL,
	row_count     BIGINT NOT NULL DEFAULT 0,
	checksum      TEXT NOT NULL DEFAULT '',
	registered_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (dataset, name)
);

CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	pipeline    TEXT NOT NULL,
	years       JSONB NOT NULL,
	status      TEXT NOT NULL DEFAULT 'running',
	error       TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	finished_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS stage_runs (
	id          TEXT PRIMARY KEY,
	run_id      TEXT NOT NULL REFERENCES runs(id),
	stage_id    TEXT NOT NULL,
	kind        TEXT NOT NULL,
	year        INTEGER NOT NULL DEFAULT 0,
	status      TEXT NOT NULL,
	attempts    INTEGER NOT NULL DEFAULT 0,
	error       TEXT NOT NULL DEFAULT '',
	metadata    JSONB,
	started_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	finished_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_stage_runs_run_id ON stage_runs(run_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// --- Catalog ---

var catalogUpsert = db.UpsertConfig{
	Table:        "catalog_tables",
	Columns:      []string{"dataset", "name", "uri", "format", "autodetect", "columns", "row_count", "checksum", "registered_at"},
	ConflictKeys: []string{"dataset", "name"},
}

func (s *PostgresStore) RegisterTable(ctx context.Context, t model.Table) error {
	cols, err := json.Marshal(t.Columns)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal columns")
	}
	if t.RegisteredAt.IsZero() {
		t.RegisteredAt = time.Now().UTC()
	}
	_, err = db.Upsert(ctx, s.pool, catalogUpsert,
		t.Dataset, t.Name, t.URI, t.Format, t.Autodetect, cols, t.Rows, t.Checksum, t.RegisteredAt,
	)
	return eris.Wrapf(err, "postgres: register table %s", t.QualifiedName())
}

const pgTableCols = `dataset, name, uri, format, autodetect, columns, row_count, checksum, registered_at`

func (s *PostgresStore) GetTable(ctx context.Context, dataset, name string) (*model.Table, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+pgTableCols+` FROM catalog_tables WHERE dataset = $1 AND name = $2`,
		dataset, name,
	)
	t, err := scanPgTable(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("table", dataset+"."+name)
	}
	return t, err
}

func (s *PostgresStore) ListTables(ctx context.Context, dataset string) ([]model.Table, error) {
	query := `SELECT ` + pgTableCols + ` FROM catalog_tables`
	var args []any
	if dataset != "" {
		query += ` WHERE dataset = $1`
		args = append(args, dataset)
	}
	query += ` ORDER BY dataset, name`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list tables")
	}
	defer rows.Close()

	var out []model.Table
	for rows.Next() {
		t, err := scanPgTable(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list tables iterate")
}

// --- Runs ---

func (s *PostgresStore) CreateRun(ctx context.Context, pipeline string, years []int) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	yearsJSON, err := json.Marshal(years)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal years")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO runs (id, pipeline, years, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		id, pipeline, yearsJSON, string(model.RunStatusRunning), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}

	return &model.Run{
		ID:        id,
		Pipeline:  pipeline,
		Years:     append([]int(nil), years...),
		Status:    model.RunStatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *PostgresStore) FinishRun(ctx context.Context, runID string, status model.RunStatus, errMsg string) error {
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, error = $2, updated_at = $3, finished_at = $4 WHERE id = $5`,
		string(status), errMsg, now, now, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return notFound("run", runID)
	}
	return nil
}

const pgRunCols = `id, pipeline, years, status, error, created_at, updated_at, finished_at`

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pgRunCols+` FROM runs WHERE id = $1`, runID)
	r, err := scanPgRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("run", runID)
	}
	return r, err
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT ` + pgRunCols + ` FROM runs WHERE 1=1`
	var args []any
	argN := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argN)
		args = append(args, string(filter.Status))
		argN++
	}
	if filter.Pipeline != "" {
		query += fmt.Sprintf(` AND pipeline = $%d`, argN)
		args = append(args, filter.Pipeline)
		argN++
	}
	if !filter.CreatedAfter.IsZero() {
		query += fmt.Sprintf(` AND created_at >= $%d`, argN)
		args = append(args, filter.CreatedAfter)
		argN++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argN)
	args = append(args, limit)
	argN++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argN)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanPgRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

// --- Stages ---

func (s *PostgresStore) StartStage(ctx context.Context, runID, stageID, kind string, year int) (*model.StageRun, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO stage_runs (id, run_id, stage_id, kind, year, status, started_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		id, runID, stageID, kind, year, string(model.StageStatusRunning), now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: start stage %s for run %s", stageID, runID)
	}
	return &model.StageRun{
		ID:        id,
		RunID:     runID,
		StageID:   stageID,
		Kind:      kind,
		Year:      year,
		Status:    model.StageStatusRunning,
		StartedAt: now,
	}, nil
}

func (s *PostgresStore) FinishStage(ctx context.Context, stageRunID string, res StageResult) error {
	var meta []byte
	if len(res.Metadata) > 0 {
		var err error
		if meta, err = json.Marshal(res.Metadata); err != nil {
			return eris.Wrap(err, "postgres: marshal stage metadata")
		}
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE stage_runs SET status = $1, attempts = $2, error = $3, metadata = $4, finished_at = $5 WHERE id = $6`,
		string(res.Status), res.Attempts, res.Error, meta, time.Now().UTC(), stageRunID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish stage %s", stageRunID)
	}
	if tag.RowsAffected() == 0 {
		return notFound("stage", stageRunID)
	}
	return nil
}

func (s *PostgresStore) SkipStage(ctx context.Context, runID, stageID, kind string, year int, reason string) error {
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO stage_runs (id, run_id, stage_id, kind, year, status, error, started_at, finished_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		uuid.New().String(), runID, stageID, kind, year, string(model.StageStatusUpstreamFailed), reason, now, now,
	)
	return eris.Wrapf(err, "postgres: skip stage %s for run %s", stageID, runID)
}

func (s *PostgresStore) ListStages(ctx context.Context, runID string) ([]model.StageRun, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, run_id, stage_id, kind, year, status, attempts, error, metadata, started_at, finished_at
		 FROM stage_runs WHERE run_id = $1 ORDER BY started_at, stage_id`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list stages for run %s", runID)
	}
	defer rows.Close()

	var out []model.StageRun
	for rows.Next() {
		var (
			sr     model.StageRun
			status string
			meta   []byte
		)
		if err := rows.Scan(&sr.ID, &sr.RunID, &sr.StageID, &sr.Kind, &sr.Year, &status,
			&sr.Attempts, &sr.Error, &meta, &sr.StartedAt, &sr.FinishedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan stage")
		}
		sr.Status = model.StageStatus(status)
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &sr.Metadata); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal stage metadata")
			}
		}
		out = append(out, sr)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list stages iterate")
}

func scanPgTable(row pgx.Row) (*model.Table, error) {
	var (
		t    model.Table
		cols []byte
	)
	err := row.Scan(&t.Dataset, &t.Name, &t.URI, &t.Format, &t.Autodetect, &cols, &t.Rows, &t.Checksum, &t.RegisteredAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan table")
	}
	if err := json.Unmarshal(cols, &t.Columns); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal columns")
	}
	return &t, nil
}

func scanPgRun(row pgx.Row) (*model.Run, error) {
	var (
		r      model.Run
		years  []byte
		status string
	)
	err := row.Scan(&r.ID, &r.Pipeline, &years, &status, &r.Error, &r.CreatedAt, &r.UpdatedAt, &r.FinishedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan run")
	}
	r.Status = model.RunStatus(status)
	if err := json.Unmarshal(years, &r.Years); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal years")
	}
	return &r, nil
}
