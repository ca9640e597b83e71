package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/stadtlabor/wohnlage/internal/model"
	"github.com/stadtlabor/wohnlage/pkg/nominatim"
	"github.com/stadtlabor/wohnlage/pkg/ors"
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
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	seed       INTEGER NOT NULL,
	status     TEXT NOT NULL DEFAULT 'queued',
	report     TEXT,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS geocode_cache (
	key       TEXT PRIMARY KEY,
	result    TEXT NOT NULL,
	cached_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS route_cache (
	key       TEXT PRIMARY KEY,
	route     TEXT NOT NULL,
	cached_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS assignments (
	run_id        TEXT NOT NULL REFERENCES runs(id),
	address_id    TEXT NOT NULL,
	cluster       INTEGER NOT NULL,
	centroid_dist REAL NOT NULL,
	PRIMARY KEY (run_id, address_id)
);

CREATE TABLE IF NOT EXISTS baselines (
	id         TEXT PRIMARY KEY,
	version    INTEGER NOT NULL UNIQUE,
	run_id     TEXT NOT NULL,
	stats      TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_assignments_run_id ON assignments(run_id);
CREATE INDEX IF NOT EXISTS idx_baselines_version ON baselines(version);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, seed int64) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, seed, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, seed, string(model.RunStatusQueued), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}

	return &model.Run{
		ID:        id,
		Seed:      seed,
		Status:    model.RunStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run status %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) UpdateRunReport(ctx context.Context, runID string, report *model.RunReport) error {
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal report")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET report = ?, status = ?, updated_at = ? WHERE id = ?`,
		string(reportJSON), string(model.RunStatusComplete), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run report %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, seed, status, report, created_at, updated_at FROM runs WHERE id = ?`,
		runID,
	)
	return scanRun(row)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, seed, status, report, created_at, updated_at FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
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
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) GetGeocode(ctx context.Context, key string) (*nominatim.Result, bool, error) {
	var resultJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT result FROM geocode_cache WHERE key = ?`, key,
	).Scan(&resultJSON)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrap(err, "sqlite: get geocode")
	}

	var r nominatim.Result
	if err := json.Unmarshal([]byte(resultJSON), &r); err != nil {
		return nil, false, eris.Wrap(err, "sqlite: unmarshal geocode")
	}
	return &r, true, nil
}

func (s *SQLiteStore) PutGeocode(ctx context.Context, key string, r *nominatim.Result) error {
	resultJSON, err := json.Marshal(r)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal geocode")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO geocode_cache (key, result, cached_at) VALUES (?, ?, ?)
		 ON CONFLICT (key) DO UPDATE SET result = excluded.result, cached_at = excluded.cached_at`,
		key, string(resultJSON), time.Now().UTC(),
	)
	return eris.Wrap(err, "sqlite: put geocode")
}

func (s *SQLiteStore) PutGeocodeBatch(ctx context.Context, entries map[string]*nominatim.Result) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin geocode batch")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO geocode_cache (key, result, cached_at) VALUES (?, ?, ?)
		 ON CONFLICT (key) DO UPDATE SET result = excluded.result, cached_at = excluded.cached_at`,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare geocode batch")
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for key, r := range entries {
		resultJSON, err := json.Marshal(r)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal geocode")
		}
		if _, err := stmt.ExecContext(ctx, key, string(resultJSON), now); err != nil {
			return eris.Wrapf(err, "sqlite: put geocode %s", key)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit geocode batch")
}

func (s *SQLiteStore) GetRoute(ctx context.Context, key string) (*ors.Route, bool, error) {
	var routeJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT route FROM route_cache WHERE key = ?`, key,
	).Scan(&routeJSON)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrap(err, "sqlite: get route")
	}

	var r ors.Route
	if err := json.Unmarshal([]byte(routeJSON), &r); err != nil {
		return nil, false, eris.Wrap(err, "sqlite: unmarshal route")
	}
	return &r, true, nil
}

func (s *SQLiteStore) PutRoute(ctx context.Context, key string, r *ors.Route) error {
	routeJSON, err := json.Marshal(r)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal route")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO route_cache (key, route, cached_at) VALUES (?, ?, ?)
		 ON CONFLICT (key) DO UPDATE SET route = excluded.route, cached_at = excluded.cached_at`,
		key, string(routeJSON), time.Now().UTC(),
	)
	return eris.Wrap(err, "sqlite: put route")
}

func (s *SQLiteStore) ReplaceAssignments(ctx context.Context, runID string, assignments []model.ClusterAssignment) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin replace assignments")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM assignments WHERE run_id = ?`, runID); err != nil {
		return eris.Wrapf(err, "sqlite: clear assignments for run %s", runID)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO assignments (run_id, address_id, cluster, centroid_dist) VALUES (?, ?, ?, ?)`,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare assignment insert")
	}
	defer stmt.Close()

	for _, a := range assignments {
		if _, err := stmt.ExecContext(ctx, runID, a.AddressID, a.Cluster, a.CentroidDist); err != nil {
			return eris.Wrapf(err, "sqlite: insert assignment %s", a.AddressID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit assignments")
}

func (s *SQLiteStore) GetAssignments(ctx context.Context, runID string) ([]model.ClusterAssignment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT address_id, cluster, centroid_dist FROM assignments WHERE run_id = ? ORDER BY address_id`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get assignments for run %s", runID)
	}
	defer rows.Close()

	var out []model.ClusterAssignment
	for rows.Next() {
		var a model.ClusterAssignment
		if err := rows.Scan(&a.AddressID, &a.Cluster, &a.CentroidDist); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan assignment")
		}
		out = append(out, a)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: assignments iterate")
}

func (s *SQLiteStore) SaveBaseline(ctx context.Context, b *model.BaselinePopulation) error {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}

	statsJSON, err := json.Marshal(b.Stats)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal baseline stats")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO baselines (id, version, run_id, stats, created_at) VALUES (?, ?, ?, ?, ?)`,
		b.ID, b.Version, b.RunID, string(statsJSON), b.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: save baseline version %d", b.Version)
}

func (s *SQLiteStore) GetBaseline(ctx context.Context, version int) (*model.BaselinePopulation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, version, run_id, stats, created_at FROM baselines WHERE version = ?`,
		version,
	)
	return scanBaseline(row)
}

func (s *SQLiteStore) LatestBaseline(ctx context.Context) (*model.BaselinePopulation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, version, run_id, stats, created_at FROM baselines ORDER BY version DESC LIMIT 1`,
	)
	return scanBaseline(row)
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var reportJSON sql.NullString

	err := row.Scan(&r.ID, &r.Seed, &r.Status, &reportJSON, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.New("run not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}

	if reportJSON.Valid {
		r.Report = &model.RunReport{}
		if err := json.Unmarshal([]byte(reportJSON.String), r.Report); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal report")
		}
	}
	return &r, nil
}

func scanBaseline(row scannable) (*model.BaselinePopulation, error) {
	var b model.BaselinePopulation
	var statsJSON string

	err := row.Scan(&b.ID, &b.Version, &b.RunID, &statsJSON, &b.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan baseline")
	}
	if err := json.Unmarshal([]byte(statsJSON), &b.Stats); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal baseline stats")
	}
	return &b, nil
}
