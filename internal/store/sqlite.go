package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/climate-pipeline/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS catalog_tables (
	dataset       TEXT NOT NULL,
	name          TEXT NOT NULL,
	uri           TEXT NOT NULL,
	format        TEXT NOT NULL,
	autodetect    INTEGER NOT NULL DEFAULT 1,
	columns       TEXT NOT NULL,
	row_count     INTEGER NOT NULL DEFAULT 0,
	checksum      TEXT NOT NULL DEFAULT '',
	registered_at DATETIME NOT NULL,
	PRIMARY KEY (dataset, name)
);

CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	pipeline    TEXT NOT NULL,
	years       TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'running',
	error       TEXT NOT NULL DEFAULT '',
	created_at  DATETIME NOT NULL,
	updated_at  DATETIME NOT NULL,
	finished_at DATETIME
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
	metadata    TEXT,
	started_at  DATETIME NOT NULL,
	finished_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_stage_runs_run_id ON stage_runs(run_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Catalog ---

func (s *SQLiteStore) RegisterTable(ctx context.Context, t model.Table) error {
	cols, err := json.Marshal(t.Columns)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal columns")
	}
	if t.RegisteredAt.IsZero() {
		t.RegisteredAt = time.Now().UTC()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO catalog_tables (dataset, name, uri, format, autodetect, columns, row_count, checksum, registered_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (dataset, name) DO UPDATE SET
		   uri = excluded.uri, format = excluded.format, autodetect = excluded.autodetect,
		   columns = excluded.columns, row_count = excluded.row_count, checksum = excluded.checksum,
		   registered_at = excluded.registered_at`,
		t.Dataset, t.Name, t.URI, t.Format, t.Autodetect, string(cols), t.Rows, t.Checksum, t.RegisteredAt,
	)
	return eris.Wrapf(err, "sqlite: register table %s", t.QualifiedName())
}

const sqliteTableCols = `dataset, name, uri, format, autodetect, columns, row_count, checksum, registered_at`

func (s *SQLiteStore) GetTable(ctx context.Context, dataset, name string) (*model.Table, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteTableCols+` FROM catalog_tables WHERE dataset = ? AND name = ?`,
		dataset, name,
	)
	t, err := scanSQLiteTable(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("table", dataset+"."+name)
	}
	return t, err
}

func (s *SQLiteStore) ListTables(ctx context.Context, dataset string) ([]model.Table, error) {
	query := `SELECT ` + sqliteTableCols + ` FROM catalog_tables`
	var args []any
	if dataset != "" {
		query += ` WHERE dataset = ?`
		args = append(args, dataset)
	}
	query += ` ORDER BY dataset, name`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list tables")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Table
	for rows.Next() {
		t, err := scanSQLiteTable(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list tables iterate")
}

// --- Runs ---

func (s *SQLiteStore) CreateRun(ctx context.Context, pipeline string, years []int) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	yearsJSON, err := json.Marshal(years)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal years")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, pipeline, years, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, pipeline, string(yearsJSON), string(model.RunStatusRunning), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
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

func (s *SQLiteStore) FinishRun(ctx context.Context, runID string, status model.RunStatus, errMsg string) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, updated_at = ?, finished_at = ? WHERE id = ?`,
		string(status), errMsg, now, now, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

const sqliteRunCols = `id, pipeline, years, status, error, created_at, updated_at, finished_at`

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteRunCols+` FROM runs WHERE id = ?`, runID)
	r, err := scanSQLiteRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("run", runID)
	}
	return r, err
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT ` + sqliteRunCols + ` FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Pipeline != "" {
		query += ` AND pipeline = ?`
		args = append(args, filter.Pipeline)
	}
	if !filter.CreatedAfter.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, filter.CreatedAfter.UTC())
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []model.Run
	for rows.Next() {
		r, err := scanSQLiteRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

// --- Stages ---

func (s *SQLiteStore) StartStage(ctx context.Context, runID, stageID, kind string, year int) (*model.StageRun, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO stage_runs (id, run_id, stage_id, kind, year, status, started_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, runID, stageID, kind, year, string(model.StageStatusRunning), now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: start stage %s for run %s", stageID, runID)
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

func (s *SQLiteStore) FinishStage(ctx context.Context, stageRunID string, res StageResult) error {
	meta, err := marshalMetadata(res.Metadata)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal stage metadata")
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE stage_runs SET status = ?, attempts = ?, error = ?, metadata = ?, finished_at = ? WHERE id = ?`,
		string(res.Status), res.Attempts, res.Error, meta, time.Now().UTC(), stageRunID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish stage %s", stageRunID)
	}
	return checkRowsAffected(result, "stage", stageRunID)
}

func (s *SQLiteStore) SkipStage(ctx context.Context, runID, stageID, kind string, year int, reason string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO stage_runs (id, run_id, stage_id, kind, year, status, error, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), runID, stageID, kind, year, string(model.StageStatusUpstreamFailed), reason, now, now,
	)
	return eris.Wrapf(err, "sqlite: skip stage %s for run %s", stageID, runID)
}

func (s *SQLiteStore) ListStages(ctx context.Context, runID string) ([]model.StageRun, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, stage_id, kind, year, status, attempts, error, metadata, started_at, finished_at
		 FROM stage_runs WHERE run_id = ? ORDER BY started_at, stage_id`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list stages for run %s", runID)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.StageRun
	for rows.Next() {
		var (
			sr       model.StageRun
			meta     sql.NullString
			finished sql.NullTime
		)
		if err := rows.Scan(&sr.ID, &sr.RunID, &sr.StageID, &sr.Kind, &sr.Year, &sr.Status,
			&sr.Attempts, &sr.Error, &meta, &sr.StartedAt, &finished); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan stage")
		}
		if meta.Valid && meta.String != "" {
			if err := json.Unmarshal([]byte(meta.String), &sr.Metadata); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal stage metadata")
			}
		}
		if finished.Valid {
			t := finished.Time
			sr.FinishedAt = &t
		}
		out = append(out, sr)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list stages iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return notFound(entity, id)
	}
	return nil
}

func marshalMetadata(m map[string]any) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSQLiteTable(row scannable) (*model.Table, error) {
	var (
		t    model.Table
		cols string
	)
	err := row.Scan(&t.Dataset, &t.Name, &t.URI, &t.Format, &t.Autodetect, &cols, &t.Rows, &t.Checksum, &t.RegisteredAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan table")
	}
	if err := json.Unmarshal([]byte(cols), &t.Columns); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal columns")
	}
	return &t, nil
}

func scanSQLiteRun(row scannable) (*model.Run, error) {
	var (
		r        model.Run
		years    string
		finished sql.NullTime
	)
	err := row.Scan(&r.ID, &r.Pipeline, &years, &r.Status, &r.Error, &r.CreatedAt, &r.UpdatedAt, &finished)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}
	if err := json.Unmarshal([]byte(years), &r.Years); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal years")
	}
	if finished.Valid {
		t := finished.Time
		r.FinishedAt = &t
	}
	return &r, nil
}
