package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stadtlabor/wohnlage/internal/model"
	"github.com/stadtlabor/wohnlage/pkg/nominatim"
	"github.com/stadtlabor/wohnlage/pkg/ors"
)

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPostgresWithPool(mock), mock
}

func TestPostgres_CreateRun(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO runs`).
		WithArgs(pgxmock.AnyArg(), int64(42), "queued", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	run, err := s.CreateRun(context.Background(), 42)
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, model.RunStatusQueued, run.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_UpdateRunStatus_NotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE runs SET status`).
		WithArgs("failed", pgxmock.AnyArg(), "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateRunStatus(context.Background(), "missing", model.RunStatusFailed)
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_GetRun(t *testing.T) {
	s, mock := newMockStore(t)

	report := &model.RunReport{ChosenK: 3, Addresses: 50, Clustered: 48}
	reportJSON, err := json.Marshal(report)
	require.NoError(t, err)
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT id, seed, status, report, created_at, updated_at FROM runs`).
		WithArgs("run-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "seed", "status", "report", "created_at", "updated_at"}).
			AddRow("run-1", int64(42), model.RunStatusComplete, &reportJSON, now, now))

	run, err := s.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	require.NotNil(t, run.Report)
	assert.Equal(t, 3, run.Report.ChosenK)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_GeocodeCache(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT result FROM geocode_cache`).
		WithArgs("key-1").
		WillReturnError(pgx.ErrNoRows)

	_, ok, err := s.GetGeocode(context.Background(), "key-1")
	require.NoError(t, err)
	assert.False(t, ok)

	resultJSON, err := json.Marshal(&nominatim.Result{Lat: 52.41, Lon: 12.55, Matched: true})
	require.NoError(t, err)
	mock.ExpectQuery(`SELECT result FROM geocode_cache`).
		WithArgs("key-2").
		WillReturnRows(pgxmock.NewRows([]string{"result"}).AddRow(resultJSON))

	got, ok, err := s.GetGeocode(context.Background(), "key-2")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.Matched)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_PutRoute(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO route_cache`).
		WithArgs("a|b", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.PutRoute(context.Background(), "a|b", &ors.Route{DistanceM: 534})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_ReplaceAssignments(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM assignments`).
		WithArgs("run-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 3))
	mock.ExpectCopyFrom(pgx.Identifier{"assignments"},
		[]string{"run_id", "address_id", "cluster", "centroid_dist"}).
		WillReturnResult(2)
	mock.ExpectCommit()

	err := s.ReplaceAssignments(context.Background(), "run-1", []model.ClusterAssignment{
		{AddressID: "addr-0001", Cluster: 0, CentroidDist: 0.5},
		{AddressID: "addr-0002", Cluster: 1, CentroidDist: 1.3},
	})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_LatestBaseline_Empty(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT id, version, run_id, stats, created_at FROM baselines`).
		WillReturnError(pgx.ErrNoRows)

	b, err := s.LatestBaseline(context.Background())
	require.NoError(t, err)
	assert.Nil(t, b)
	assert.NoError(t, mock.ExpectationsWereMet())
}
