package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stadtlabor/wohnlage/internal/model"
	"github.com/stadtlabor/wohnlage/pkg/nominatim"
	"github.com/stadtlabor/wohnlage/pkg/ors"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLite_RunLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run, err := s.CreateRun(ctx, 42)
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, model.RunStatusQueued, run.Status)
	assert.Equal(t, int64(42), run.Seed)

	require.NoError(t, s.UpdateRunStatus(ctx, run.ID, model.RunStatusRunning))

	report := &model.RunReport{ChosenK: 4, ElbowK: 4, SilhouetteK: 4, Addresses: 120, Clustered: 115}
	require.NoError(t, s.UpdateRunReport(ctx, run.ID, report))

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, got.Status)
	require.NotNil(t, got.Report)
	assert.Equal(t, 4, got.Report.ChosenK)
	assert.Equal(t, 115, got.Report.Clustered)
}

func TestSQLite_RunNotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.UpdateRunStatus(ctx, "missing", model.RunStatusRunning)
	assert.Error(t, err)
	_, err = s.GetRun(ctx, "missing")
	assert.Error(t, err)
}

func TestSQLite_ListRunsFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a, err := s.CreateRun(ctx, 1)
	require.NoError(t, err)
	_, err = s.CreateRun(ctx, 2)
	require.NoError(t, err)
	require.NoError(t, s.UpdateRunStatus(ctx, a.ID, model.RunStatusFailed))

	failed, err := s.ListRuns(ctx, RunFilter{Status: model.RunStatusFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, a.ID, failed[0].ID)

	all, err := s.ListRuns(ctx, RunFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSQLite_GeocodeCache(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, ok, err := s.GetGeocode(ctx, "deadbeef")
	require.NoError(t, err)
	assert.False(t, ok)

	hit := &nominatim.Result{Lat: 52.41, Lon: 12.55, Matched: true}
	require.NoError(t, s.PutGeocode(ctx, "deadbeef", hit))

	got, ok, err := s.GetGeocode(ctx, "deadbeef")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, hit.Lat, got.Lat)
	assert.True(t, got.Matched)

	// Overwrites, including match -> no-match.
	miss := &nominatim.Result{Matched: false}
	require.NoError(t, s.PutGeocode(ctx, "deadbeef", miss))
	got, ok, err = s.GetGeocode(ctx, "deadbeef")
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, got.Matched)
}

func TestSQLite_GeocodeBatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutGeocodeBatch(ctx, nil))
	require.NoError(t, s.PutGeocodeBatch(ctx, map[string]*nominatim.Result{
		"k1": {Lat: 52.41, Lon: 12.55, Matched: true},
		"k2": {Matched: false},
	}))

	_, ok, err := s.GetGeocode(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, ok)
	got, ok, err := s.GetGeocode(ctx, "k2")
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, got.Matched)
}

func TestSQLite_RouteCache(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, ok, err := s.GetRoute(ctx, "a|b")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.PutRoute(ctx, "a|b", &ors.Route{DistanceM: 712.4, Geometry: `{"type":"LineString"}`}))

	got, ok, err := s.GetRoute(ctx, "a|b")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 712.4, got.DistanceM)
	assert.NotEmpty(t, got.Geometry)
}

func TestSQLite_ReplaceAssignmentsOverwrites(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run, err := s.CreateRun(ctx, 7)
	require.NoError(t, err)

	first := []model.ClusterAssignment{
		{AddressID: "addr-0001", Cluster: 0, CentroidDist: 0.4},
		{AddressID: "addr-0002", Cluster: 1, CentroidDist: 1.2},
		{AddressID: "addr-0003", Cluster: 0, CentroidDist: 0.9},
	}
	require.NoError(t, s.ReplaceAssignments(ctx, run.ID, first))

	// A repeated run replaces everything, including rows that no
	// longer exist.
	second := []model.ClusterAssignment{
		{AddressID: "addr-0001", Cluster: 2, CentroidDist: 0.1},
	}
	require.NoError(t, s.ReplaceAssignments(ctx, run.ID, second))

	got, err := s.GetAssignments(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 2, got[0].Cluster)
}

func TestSQLite_Baselines(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	none, err := s.LatestBaseline(ctx)
	require.NoError(t, err)
	assert.Nil(t, none)

	b1 := &model.BaselinePopulation{
		Version: 1,
		RunID:   "run-1",
		Stats: map[string]model.CriterionStats{
			"school_min_distance_m": {Mean: 412.5, StdDev: 180.1},
		},
	}
	require.NoError(t, s.SaveBaseline(ctx, b1))
	assert.NotEmpty(t, b1.ID)

	b2 := &model.BaselinePopulation{Version: 2, RunID: "run-2", Stats: map[string]model.CriterionStats{
		"school_min_distance_m": {Mean: 400, StdDev: 175},
	}}
	require.NoError(t, s.SaveBaseline(ctx, b2))

	// Versions are immutable once written.
	dup := &model.BaselinePopulation{Version: 1, RunID: "run-3", Stats: b1.Stats}
	assert.Error(t, s.SaveBaseline(ctx, dup))

	got, err := s.GetBaseline(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 412.5, got.Stats["school_min_distance_m"].Mean)

	latest, err := s.LatestBaseline(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, 2, latest.Version)
}
