package loader

import (
	"path/filepath"
	"testing"

	shp "github.com/jonas-p/go-shp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stadtlabor/wohnlage/internal/model"
)

func TestLoadAmenityShapefile_Points(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kitas.shp")

	w, err := shp.Create(path, shp.POINT)
	require.NoError(t, err)
	w.SetFields([]shp.Field{shp.StringField("NAME", 40)})
	w.Write(&shp.Point{X: 12.5521, Y: 52.4133})
	w.WriteAttribute(0, 0, "Kita Sonnenschein")
	w.Write(&shp.Point{X: 12.5600, Y: 52.4200})
	w.WriteAttribute(1, 0, "Kita Havelblick")
	w.Close()

	points, err := LoadAmenityShapefile(path, model.CategoryKita, "NAME")
	require.NoError(t, err)
	require.Len(t, points, 2)

	assert.Equal(t, model.CategoryKita, points[0].Category)
	assert.Equal(t, "Kita Sonnenschein", points[0].Name)
	assert.InDelta(t, 52.4133, points[0].Coord.Lat, 1e-9)
	assert.InDelta(t, 12.5521, points[0].Coord.Lon, 1e-9)
}

func TestLoadAmenityShapefile_PolygonUsesBBoxCenter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gruen.shp")

	w, err := shp.Create(path, shp.POLYGON)
	require.NoError(t, err)
	w.SetFields([]shp.Field{shp.StringField("NAME", 40)})
	poly := &shp.Polygon{
		Box:       shp.Box{MinX: 12.54, MinY: 52.40, MaxX: 12.56, MaxY: 52.42},
		NumParts:  1,
		NumPoints: 4,
		Parts:     []int32{0},
		Points: []shp.Point{
			{X: 12.54, Y: 52.40},
			{X: 12.56, Y: 52.40},
			{X: 12.56, Y: 52.42},
			{X: 12.54, Y: 52.42},
		},
	}
	w.Write(poly)
	w.WriteAttribute(0, 0, "Stadtpark")
	w.Close()

	points, err := LoadAmenityShapefile(path, model.CategoryRetail, "NAME")
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.InDelta(t, 52.41, points[0].Coord.Lat, 1e-6)
	assert.InDelta(t, 12.55, points[0].Coord.Lon, 1e-6)
}

func TestLoadAmenityShapefile_MissingFile(t *testing.T) {
	_, err := LoadAmenityShapefile(filepath.Join(t.TempDir(), "nope.shp"), model.CategoryKita, "NAME")
	assert.Error(t, err)
}
