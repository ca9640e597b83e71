package amenity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stadtlabor/wohnlage/internal/geo"
	"github.com/stadtlabor/wohnlage/internal/model"
)

// Points around the Brandenburg an der Havel Altstadt. Offsets of
// 0.001 degrees latitude are roughly 111 m.
func testPoints() []model.AmenityPoint {
	return []model.AmenityPoint{
		{Category: model.CategorySchool, Name: "near", Coord: geo.Coord{Lat: 52.4110, Lon: 12.5520}},
		{Category: model.CategorySchool, Name: "mid", Coord: geo.Coord{Lat: 52.4150, Lon: 12.5520}},
		{Category: model.CategorySchool, Name: "far", Coord: geo.Coord{Lat: 52.4300, Lon: 12.5520}},
		{Category: model.CategoryRetail, Name: "other-category", Coord: geo.Coord{Lat: 52.4110, Lon: 12.5520}},
	}
}

var origin = geo.Coord{Lat: 52.4100, Lon: 12.5520}

func TestNewIndex_SkipsOtherCategories(t *testing.T) {
	ix := NewIndex(model.CategorySchool, testPoints())
	assert.Equal(t, 3, ix.Len())
}

func TestNearest_OrdersByDistance(t *testing.T) {
	ix := NewIndex(model.CategorySchool, testPoints())

	cands, err := ix.Nearest(origin, 2)
	require.NoError(t, err)
	require.Len(t, cands, 2)
	assert.Equal(t, "near", cands[0].Point.Name)
	assert.Equal(t, "mid", cands[1].Point.Name)
	assert.InDelta(t, 111, cands[0].DistanceM, 5)
}

func TestNearest_EmptyCategory(t *testing.T) {
	ix := NewIndex(model.CategoryKita, testPoints())

	_, err := ix.Nearest(origin, 1)
	assert.ErrorIs(t, err, ErrNoAmenities)
}

func TestWithin_FiltersByHaversine(t *testing.T) {
	ix := NewIndex(model.CategorySchool, testPoints())

	// "near" is ~111 m away, "mid" ~556 m, "far" ~2226 m.
	cands, err := ix.Within(origin, 600)
	require.NoError(t, err)
	require.Len(t, cands, 2)
	assert.Equal(t, "near", cands[0].Point.Name)
	assert.Equal(t, "mid", cands[1].Point.Name)
}

func TestCountWithin_MonotonicInRadius(t *testing.T) {
	ix := NewIndex(model.CategorySchool, testPoints())

	prev := 0
	for _, r := range []float64{100, 200, 600, 1000, 3000} {
		n, err := ix.CountWithin(origin, r)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, n, prev, "count must not decrease as radius grows")
		prev = n
	}
	assert.Equal(t, 3, prev)
}

func TestAll_ReturnsEverythingSorted(t *testing.T) {
	ix := NewIndex(model.CategorySchool, testPoints())

	cands, err := ix.All(origin)
	require.NoError(t, err)
	require.Len(t, cands, 3)
	assert.True(t, cands[0].DistanceM <= cands[1].DistanceM)
	assert.True(t, cands[1].DistanceM <= cands[2].DistanceM)
}
