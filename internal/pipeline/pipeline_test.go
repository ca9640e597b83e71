package pipeline

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stadtlabor/wohnlage/internal/config"
	"github.com/stadtlabor/wohnlage/internal/geo"
	"github.com/stadtlabor/wohnlage/internal/model"
	"github.com/stadtlabor/wohnlage/internal/store"
	"github.com/stadtlabor/wohnlage/pkg/nominatim"
	"github.com/stadtlabor/wohnlage/pkg/ors"
)

// fakeRouter scales the straight-line distance by a detour factor, a
// good stand-in for street routing on a grid.
type fakeRouter struct{}

func (fakeRouter) RouteDistance(_ context.Context, origin, dest geo.Coord) (*ors.Route, error) {
	return &ors.Route{
		DistanceM: geo.Haversine(origin, dest) * 1.3,
		Geometry:  `{"type":"LineString","coordinates":[]}`,
	}, nil
}

// fakeGeocoder resolves every query to a fixed point near the center
// neighborhood and records what it was asked.
type fakeGeocoder struct {
	queries []nominatim.Query
}

func (g *fakeGeocoder) Geocode(_ context.Context, q nominatim.Query) (*nominatim.Result, error) {
	g.queries = append(g.queries, q)
	return &nominatim.Result{Lat: 52.4104, Lon: 12.5503, Matched: true}, nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Extract: config.ExtractConfig{
			RadiiM:     []float64{500, 800, 1000},
			PrefilterM: 2000,
			Workers:    4,
		},
		Transit: config.TransitConfig{
			MorningWindow: "06:00-09:00",
			EveningWindow: "16:00-19:00",
			Statistic:     "median",
		},
		Standardize: config.StandardizeConfig{Mode: "sample"},
		Cluster: config.ClusterConfig{
			KMin: 2, KMax: 4, Restarts: 5, Seed: 42, MaxIter: 100,
		},
		Validate: config.ValidateConfig{
			SpatialNeighbors:   3,
			CoherenceThreshold: 0.5,
		},
		Output: config.OutputConfig{Path: filepath.Join(t.TempDir(), "scores.csv")},
	}
}

func newPipelineStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "pipeline.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

// twoNeighborhoods builds addresses in a well-served center and an
// underserved periphery, with amenities concentrated in the center.
func twoNeighborhoods() Inputs {
	coord := func(lat, lon float64) *geo.Coord { return &geo.Coord{Lat: lat, Lon: lon} }

	var addrs []model.Address
	for i := 0; i < 5; i++ {
		addrs = append(addrs, model.Address{
			ID:    fmt.Sprintf("center-%d", i),
			Label: fmt.Sprintf("Hauptstraße %d", i+1),
			Coord: coord(52.4100+float64(i)*0.0005, 12.5500+float64(i)*0.0005),
		})
	}
	for i := 0; i < 5; i++ {
		addrs = append(addrs, model.Address{
			ID:    fmt.Sprintf("edge-%d", i),
			Label: fmt.Sprintf("Feldweg %d", i+1),
			Coord: coord(52.4350+float64(i)*0.0005, 12.5800+float64(i)*0.0005),
		})
	}

	amenities := []model.AmenityPoint{
		{Category: model.CategoryKita, Name: "Kita Sonnenschein", Coord: geo.Coord{Lat: 52.4105, Lon: 12.5505}},
		{Category: model.CategoryKita, Name: "Kita Regenbogen", Coord: geo.Coord{Lat: 52.4310, Lon: 12.5750}},
		{Category: model.CategorySchool, Name: "Grundschule Nord", Coord: geo.Coord{Lat: 52.4110, Lon: 12.5510}},
		{Category: model.CategorySchool, Name: "Oberschule Süd", Coord: geo.Coord{Lat: 52.4300, Lon: 12.5700}},
		{Category: model.CategoryRetail, Name: "Markt am Platz", Coord: geo.Coord{Lat: 52.4102, Lon: 12.5498}},
		{Category: model.CategoryRetail, Name: "Discounter Ost", Coord: geo.Coord{Lat: 52.4330, Lon: 12.5820}},
		{Category: model.CategoryStop, Name: "Zentrum", StopID: "zentrum", Coord: geo.Coord{Lat: 52.4103, Lon: 12.5502}},
		{Category: model.CategoryStop, Name: "Siedlung", StopID: "siedlung", Coord: geo.Coord{Lat: 52.4345, Lon: 12.5795}},
	}

	var schedule []model.Departure
	for _, stop := range []string{"zentrum", "siedlung"} {
		for _, minute := range []int{6 * 60, 6*60 + 20, 6*60 + 40, 7 * 60, 16 * 60, 16*60 + 30, 17 * 60} {
			schedule = append(schedule, model.Departure{StopID: stop, Time: minute})
		}
	}

	return Inputs{Addresses: addrs, Amenities: amenities, Schedule: schedule}
}

func TestPipeline_EndToEnd(t *testing.T) {
	cfg := testConfig(t)
	st := newPipelineStore(t)
	p := New(cfg, st, nil, fakeRouter{}, config.Weights{})

	in := twoNeighborhoods()
	report, err := p.Run(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, 10, report.Addresses)
	assert.Equal(t, 10, report.Clustered)
	assert.Zero(t, report.Excluded.Total)
	assert.GreaterOrEqual(t, report.ChosenK, 2)
	assert.LessOrEqual(t, report.ChosenK, 4)
	assert.NotEmpty(t, report.Candidates)
	assert.NotEmpty(t, report.Coherence)

	// Assignments landed in the store under the run that produced them.
	runs, err := st.ListRuns(context.Background(), store.RunFilter{Status: model.RunStatusComplete})
	require.NoError(t, err)
	require.Len(t, runs, 1)

	assignments, err := st.GetAssignments(context.Background(), runs[0].ID)
	require.NoError(t, err)
	assert.Len(t, assignments, 10)

	// Output CSV has one row per address plus the header.
	f, err := os.Open(cfg.Output.Path)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	assert.Len(t, records, 11)
}

func TestPipeline_ReferenceLabels(t *testing.T) {
	cfg := testConfig(t)
	st := newPipelineStore(t)
	p := New(cfg, st, nil, fakeRouter{}, config.Weights{})

	in := twoNeighborhoods()
	in.ReferenceLabels = map[string]string{}
	for _, a := range in.Addresses {
		zone := "center"
		if a.ID[0] == 'e' {
			zone = "edge"
		}
		in.ReferenceLabels[a.ID] = zone
	}

	report, err := p.Run(context.Background(), in)
	require.NoError(t, err)
	require.NotNil(t, report.AdjustedRand)
	assert.GreaterOrEqual(t, *report.AdjustedRand, -1.0)
	assert.LessOrEqual(t, *report.AdjustedRand, 1.0)
}

func TestPipeline_WeightedScores(t *testing.T) {
	cfg := testConfig(t)
	st := newPipelineStore(t)
	weights := config.Weights{Version: 3, Criteria: map[string]float64{
		"kita_min_distance_m":   1,
		"school_min_distance_m": 1,
		"retail_min_distance_m": 1,
	}}
	p := New(cfg, st, nil, fakeRouter{}, weights)

	report, err := p.Run(context.Background(), twoNeighborhoods())
	require.NoError(t, err)
	assert.Equal(t, 3, report.WeightsVersion)

	f, err := os.Open(cfg.Output.Path)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, "weighted_score", records[0][len(records[0])-1])

	// The weight configuration lands next to the result CSV.
	sidecar := strings.TrimSuffix(cfg.Output.Path, ".csv") + ".weights.yaml"
	data, err := os.ReadFile(sidecar)
	require.NoError(t, err)
	assert.Contains(t, string(data), "version: 3")
	assert.Contains(t, string(data), "kita_min_distance_m")
}

func TestPipeline_AllExcludedFailsWithDiagnostic(t *testing.T) {
	cfg := testConfig(t)
	st := newPipelineStore(t)
	p := New(cfg, st, nil, fakeRouter{}, config.Weights{})

	in := twoNeighborhoods()
	for i := range in.Addresses {
		in.Addresses[i].Coord = nil
		in.Addresses[i].Street = ""
	}

	_, err := p.Run(context.Background(), in)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing_coordinate")

	runs, listErr := st.ListRuns(context.Background(), store.RunFilter{Status: model.RunStatusFailed})
	require.NoError(t, listErr)
	assert.Len(t, runs, 1)
}

func TestPipeline_BaselineMode(t *testing.T) {
	cfg := testConfig(t)
	cfg.Standardize.Mode = "baseline"
	st := newPipelineStore(t)
	p := New(cfg, st, nil, fakeRouter{}, config.Weights{})

	// No baseline recorded yet: the run must fail rather than silently
	// fall back to sample statistics.
	_, err := p.Run(context.Background(), twoNeighborhoods())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "baseline")
}

func TestPipeline_GeocodesStopsWithoutCoordinates(t *testing.T) {
	cfg := testConfig(t)
	st := newPipelineStore(t)
	g := &fakeGeocoder{}
	p := New(cfg, st, g, fakeRouter{}, config.Weights{})

	in := twoNeighborhoods()
	in.Amenities = append(in.Amenities, model.AmenityPoint{
		Category:   model.CategoryStop,
		Name:       "Neustadt",
		StopID:     "neustadt",
		Attributes: map[string]string{"stop_kind": "bus_stop"},
	})
	for _, minute := range []int{6 * 60, 6*60 + 20, 6*60 + 40, 7 * 60, 16 * 60, 16*60 + 30, 17 * 60} {
		in.Schedule = append(in.Schedule, model.Departure{StopID: "neustadt", Time: minute})
	}

	report, err := p.Run(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, 10, report.Clustered)

	// Addresses already carried coordinates, so the only geocoding
	// request is the stop, phrased as a POI.
	require.Len(t, g.queries, 1)
	assert.Equal(t, "Neustadt", g.queries[0].Name)
	assert.Equal(t, "bus_stop", g.queries[0].StopKind)
}

func TestPipeline_DropsUngeocodedStopsWithoutGeocoder(t *testing.T) {
	cfg := testConfig(t)
	st := newPipelineStore(t)
	p := New(cfg, st, nil, fakeRouter{}, config.Weights{})

	in := twoNeighborhoods()
	in.Amenities = append(in.Amenities, model.AmenityPoint{
		Category: model.CategoryStop,
		Name:     "Geisterhaltestelle",
		StopID:   "geist",
	})

	report, err := p.Run(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, 10, report.Clustered)
}

type failingAssignmentStore struct{ store.Store }

func (s failingAssignmentStore) ReplaceAssignments(context.Context, string, []model.ClusterAssignment) error {
	return errors.New("disk full")
}

func TestPipeline_PersistFailureMarksRunFailed(t *testing.T) {
	cfg := testConfig(t)
	base := newPipelineStore(t)
	p := New(cfg, failingAssignmentStore{base}, nil, fakeRouter{}, config.Weights{})

	_, err := p.Run(context.Background(), twoNeighborhoods())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "save assignments")

	runs, listErr := base.ListRuns(context.Background(), store.RunFilter{Status: model.RunStatusFailed})
	require.NoError(t, listErr)
	assert.Len(t, runs, 1)
}

func TestPipeline_NoAddresses(t *testing.T) {
	cfg := testConfig(t)
	st := newPipelineStore(t)
	p := New(cfg, st, nil, fakeRouter{}, config.Weights{})

	_, err := p.Run(context.Background(), Inputs{})
	assert.Error(t, err)
}
