package extract

import (
	"context"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stadtlabor/wohnlage/internal/amenity"
	"github.com/stadtlabor/wohnlage/internal/geo"
	"github.com/stadtlabor/wohnlage/internal/model"
	"github.com/stadtlabor/wohnlage/pkg/ors"
)

// fakeRouter dispatches on the origin coordinate.
type fakeRouter struct {
	routes map[geo.Coord]*ors.Route
}

func (f *fakeRouter) RouteDistance(_ context.Context, origin, _ geo.Coord) (*ors.Route, error) {
	if r, ok := f.routes[origin]; ok {
		return r, nil
	}
	return nil, eris.New("no path")
}

var (
	addrA = geo.Coord{Lat: 52.4100, Lon: 12.5520}
	addrB = geo.Coord{Lat: 52.4140, Lon: 12.5520}
	addrC = geo.Coord{Lat: 52.4180, Lon: 12.5520}
	shop  = geo.Coord{Lat: 52.4120, Lon: 12.5520}
)

func retailExtractor(router ors.Client) *DistanceDensity {
	ix := amenity.NewIndex(model.CategoryRetail, []model.AmenityPoint{
		{Category: model.CategoryRetail, Name: "shop", Coord: shop},
	})
	return NewDistanceDensity(ix, router, []float64{500, 1000}, 2000)
}

// One retail point: A routes to it at 400 m, B at 900 m, C cannot be
// routed at all.
func TestDistanceDensity_CountsAndMissing(t *testing.T) {
	d := retailExtractor(&fakeRouter{routes: map[geo.Coord]*ors.Route{
		addrA: {DistanceM: 400, Geometry: `{"type":"LineString"}`},
		addrB: {DistanceM: 900},
	}})

	resA, err := d.Extract(context.Background(), model.Address{ID: "a", Coord: &addrA})
	require.NoError(t, err)
	assert.Equal(t, model.Some(400), resA.Values["retail_min_distance_m"])
	assert.Equal(t, model.Some(1), resA.Values["retail_count_within_500m"])
	assert.Equal(t, model.Some(1), resA.Values["retail_count_within_1000m"])
	assert.Contains(t, resA.RouteGeometry["retail_min_distance_m"], "LineString")

	resB, err := d.Extract(context.Background(), model.Address{ID: "b", Coord: &addrB})
	require.NoError(t, err)
	assert.Equal(t, model.Some(900), resB.Values["retail_min_distance_m"])
	assert.Equal(t, model.Some(0), resB.Values["retail_count_within_500m"])
	assert.Equal(t, model.Some(1), resB.Values["retail_count_within_1000m"])

	resC, err := d.Extract(context.Background(), model.Address{ID: "c", Coord: &addrC})
	require.NoError(t, err)
	// Routing failure is missing, distinguishable from zero nearby.
	assert.Equal(t, model.Missing(model.MissingRouteDistance), resC.Values["retail_min_distance_m"])
	assert.Equal(t, model.Missing(model.MissingRouteDistance), resC.Values["retail_count_within_500m"])
	assert.Equal(t, model.Missing(model.MissingRouteDistance), resC.Values["retail_count_within_1000m"])
}

func TestDistanceDensity_MissingCoordinate(t *testing.T) {
	d := retailExtractor(&fakeRouter{})

	res, err := d.Extract(context.Background(), model.Address{ID: "x"})
	require.NoError(t, err)
	assert.Equal(t, model.Missing(model.MissingCoordinate), res.Values["retail_min_distance_m"])
}

func TestDistanceDensity_EmptyCategory(t *testing.T) {
	ix := amenity.NewIndex(model.CategoryKita, nil)
	d := NewDistanceDensity(ix, &fakeRouter{}, []float64{500}, 2000)

	res, err := d.Extract(context.Background(), model.Address{ID: "a", Coord: &addrA})
	require.NoError(t, err)
	assert.Equal(t, model.Missing(model.MissingCriterion), res.Values["kita_min_distance_m"])
	assert.Equal(t, model.Missing(model.MissingCriterion), res.Values["kita_count_within_500m"])
}

// An address far outside the prefilter radius still gets routed
// against the whole category.
func TestDistanceDensity_PrefilterFallback(t *testing.T) {
	farAway := geo.Coord{Lat: 52.5000, Lon: 12.5520} // ~9.8 km from the shop
	d := retailExtractor(&fakeRouter{routes: map[geo.Coord]*ors.Route{
		farAway: {DistanceM: 10500},
	}})

	res, err := d.Extract(context.Background(), model.Address{ID: "far", Coord: &farAway})
	require.NoError(t, err)
	assert.Equal(t, model.Some(10500), res.Values["retail_min_distance_m"])
	assert.Equal(t, model.Some(0), res.Values["retail_count_within_1000m"])
}

func TestDistanceDensity_CriteriaNames(t *testing.T) {
	d := retailExtractor(&fakeRouter{})

	var names []string
	for _, c := range d.Criteria() {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{
		"retail_min_distance_m",
		"retail_count_within_500m",
		"retail_count_within_1000m",
	}, names)
}
