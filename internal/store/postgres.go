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

	"github.com/stadtlabor/wohnlage/internal/db"
	"github.com/stadtlabor/wohnlage/internal/model"
	"github.com/stadtlabor/wohnlage/pkg/nominatim"
	"github.com/stadtlabor/wohnlage/pkg/ors"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection.
// The route cache dominates traffic: every address/amenity pair goes
// through get_route first.
var preparedStatements = map[string]string{
	"insert_run":        `INSERT INTO runs (id, seed, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
	"update_run_status": `UPDATE runs SET status = $1, updated_at = $2 WHERE id = $3`,
	"update_run_report": `UPDATE runs SET report = $1, status = $2, updated_at = $3 WHERE id = $4`,
	"get_run":           `SELECT id, seed, status, report, created_at, updated_at FROM runs WHERE id = $1`,
	"get_geocode":       `SELECT result FROM geocode_cache WHERE key = $1`,
	"put_geocode":       `INSERT INTO geocode_cache (key, result, cached_at) VALUES ($1, $2, $3) ON CONFLICT (key) DO UPDATE SET result = $2, cached_at = $3`,
	"get_route":         `SELECT route FROM route_cache WHERE key = $1`,
	"put_route":         `INSERT INTO route_cache (key, route, cached_at) VALUES ($1, $2, $3) ON CONFLICT (key) DO UPDATE SET route = $2, cached_at = $3`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
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

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool, used by tests.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	seed       BIGINT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'queued',
	report     JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS geocode_cache (
	key       TEXT PRIMARY KEY,
	result    JSONB NOT NULL,
	cached_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS route_cache (
	key       TEXT PRIMARY KEY,
	route     JSONB NOT NULL,
	cached_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS assignments (
	run_id        TEXT NOT NULL REFERENCES runs(id),
	address_id    TEXT NOT NULL,
	cluster       INTEGER NOT NULL,
	centroid_dist DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (run_id, address_id)
);

CREATE TABLE IF NOT EXISTS baselines (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	version    INTEGER NOT NULL UNIQUE,
	run_id     TEXT NOT NULL,
	stats      JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_assignments_run_id ON assignments(run_id);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, seed int64) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, seed, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		id, seed, string(model.RunStatusQueued), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}

	return &model.Run{
		ID:        id,
		Seed:      seed,
		Status:    model.RunStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *PostgresStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run status %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) UpdateRunReport(ctx context.Context, runID string, report *model.RunReport) error {
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal report")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET report = $1, status = $2, updated_at = $3 WHERE id = $4`,
		reportJSON, string(model.RunStatusComplete), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run report %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	var r model.Run
	var reportNull *[]byte

	err := s.pool.QueryRow(ctx,
		`SELECT id, seed, status, report, created_at, updated_at FROM runs WHERE id = $1`,
		runID,
	).Scan(&r.ID, &r.Seed, &r.Status, &reportNull, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}

	if reportNull != nil {
		r.Report = &model.RunReport{}
		if err := json.Unmarshal(*reportNull, r.Report); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal report")
		}
	}
	return &r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, seed, status, report, created_at, updated_at FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		var r model.Run
		var reportNull *[]byte

		if err := rows.Scan(&r.ID, &r.Seed, &r.Status, &reportNull, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		if reportNull != nil {
			r.Report = &model.RunReport{}
			if err := json.Unmarshal(*reportNull, r.Report); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal report")
			}
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) GetGeocode(ctx context.Context, key string) (*nominatim.Result, bool, error) {
	var resultJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT result FROM geocode_cache WHERE key = $1`, key,
	).Scan(&resultJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, eris.Wrap(err, "postgres: get geocode")
	}

	var r nominatim.Result
	if err := json.Unmarshal(resultJSON, &r); err != nil {
		return nil, false, eris.Wrap(err, "postgres: unmarshal geocode")
	}
	return &r, true, nil
}

func (s *PostgresStore) PutGeocode(ctx context.Context, key string, r *nominatim.Result) error {
	resultJSON, err := json.Marshal(r)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal geocode")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO geocode_cache (key, result, cached_at) VALUES ($1, $2, $3)
		 ON CONFLICT (key) DO UPDATE SET result = $2, cached_at = $3`,
		key, resultJSON, time.Now().UTC(),
	)
	return eris.Wrap(err, "postgres: put geocode")
}

func (s *PostgresStore) PutGeocodeBatch(ctx context.Context, entries map[string]*nominatim.Result) error {
	if len(entries) == 0 {
		return nil
	}

	now := time.Now().UTC()
	rows := make([][]any, 0, len(entries))
	for key, r := range entries {
		resultJSON, err := json.Marshal(r)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal geocode")
		}
		rows = append(rows, []any{key, resultJSON, now})
	}

	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "geocode_cache",
		Columns:      []string{"key", "result", "cached_at"},
		ConflictKeys: []string{"key"},
	}, rows)
	return eris.Wrap(err, "postgres: put geocode batch")
}

func (s *PostgresStore) GetRoute(ctx context.Context, key string) (*ors.Route, bool, error) {
	var routeJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT route FROM route_cache WHERE key = $1`, key,
	).Scan(&routeJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, eris.Wrap(err, "postgres: get route")
	}

	var r ors.Route
	if err := json.Unmarshal(routeJSON, &r); err != nil {
		return nil, false, eris.Wrap(err, "postgres: unmarshal route")
	}
	return &r, true, nil
}

func (s *PostgresStore) PutRoute(ctx context.Context, key string, r *ors.Route) error {
	routeJSON, err := json.Marshal(r)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal route")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO route_cache (key, route, cached_at) VALUES ($1, $2, $3)
		 ON CONFLICT (key) DO UPDATE SET route = $2, cached_at = $3`,
		key, routeJSON, time.Now().UTC(),
	)
	return eris.Wrap(err, "postgres: put route")
}

func (s *PostgresStore) ReplaceAssignments(ctx context.Context, runID string, assignments []model.ClusterAssignment) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin replace assignments")
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM assignments WHERE run_id = $1`, runID); err != nil {
		return eris.Wrapf(err, "postgres: clear assignments for run %s", runID)
	}

	rows := make([][]any, len(assignments))
	for i, a := range assignments {
		rows[i] = []any{runID, a.AddressID, a.Cluster, a.CentroidDist}
	}
	if _, err := db.CopyFrom(ctx, tx, "assignments",
		[]string{"run_id", "address_id", "cluster", "centroid_dist"}, rows); err != nil {
		return eris.Wrapf(err, "postgres: copy assignments for run %s", runID)
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit assignments")
}

func (s *PostgresStore) GetAssignments(ctx context.Context, runID string) ([]model.ClusterAssignment, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT address_id, cluster, centroid_dist FROM assignments WHERE run_id = $1 ORDER BY address_id`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get assignments for run %s", runID)
	}
	defer rows.Close()

	var out []model.ClusterAssignment
	for rows.Next() {
		var a model.ClusterAssignment
		if err := rows.Scan(&a.AddressID, &a.Cluster, &a.CentroidDist); err != nil {
			return nil, eris.Wrap(err, "postgres: scan assignment")
		}
		out = append(out, a)
	}
	return out, eris.Wrap(rows.Err(), "postgres: assignments iterate")
}

func (s *PostgresStore) SaveBaseline(ctx context.Context, b *model.BaselinePopulation) error {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}

	statsJSON, err := json.Marshal(b.Stats)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal baseline stats")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO baselines (id, version, run_id, stats, created_at) VALUES ($1, $2, $3, $4, $5)`,
		b.ID, b.Version, b.RunID, statsJSON, b.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: save baseline version %d", b.Version)
}

func (s *PostgresStore) GetBaseline(ctx context.Context, version int) (*model.BaselinePopulation, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, version, run_id, stats, created_at FROM baselines WHERE version = $1`,
		version,
	)
	return scanPgBaseline(row)
}

func (s *PostgresStore) LatestBaseline(ctx context.Context) (*model.BaselinePopulation, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, version, run_id, stats, created_at FROM baselines ORDER BY version DESC LIMIT 1`,
	)
	return scanPgBaseline(row)
}

func scanPgBaseline(row pgx.Row) (*model.BaselinePopulation, error) {
	var b model.BaselinePopulation
	var statsJSON []byte

	err := row.Scan(&b.ID, &b.Version, &b.RunID, &statsJSON, &b.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: scan baseline")
	}
	if err := json.Unmarshal(statsJSON, &b.Stats); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal baseline stats")
	}
	return &b, nil
}
