package loader

import (
	"strings"

	shp "github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/stadtlabor/wohnlage/internal/geo"
	"github.com/stadtlabor/wohnlage/internal/model"
)

// LoadAmenityShapefile reads point amenities from a shapefile.
// Polygon features are reduced to their bounding-box center, which
// stands in for the area centroid the routing step targets.
func LoadAmenityShapefile(path string, category model.Category, nameField string) ([]model.AmenityPoint, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "loader: open shapefile %s", path)
	}
	defer func() { _ = reader.Close() }()

	fields := reader.Fields()
	nameIdx := -1
	for i, f := range fields {
		name := strings.TrimRight(f.String(), "\x00")
		if strings.EqualFold(name, nameField) {
			nameIdx = i
			break
		}
	}

	var points []model.AmenityPoint
	var skipped int
	for reader.Next() {
		_, shape := reader.Shape()

		var coord *geo.Coord
		switch s := shape.(type) {
		case *shp.Point:
			coord = &geo.Coord{Lat: s.Y, Lon: s.X}
		case *shp.PointZ:
			coord = &geo.Coord{Lat: s.Y, Lon: s.X}
		default:
			if shape != nil {
				box := shape.BBox()
				coord = &geo.Coord{
					Lat: (box.MinY + box.MaxY) / 2,
					Lon: (box.MinX + box.MaxX) / 2,
				}
			}
		}
		if coord == nil {
			skipped++
			continue
		}

		name := ""
		if nameIdx >= 0 {
			name = strings.TrimSpace(strings.TrimRight(reader.Attribute(nameIdx), "\x00"))
		}

		points = append(points, model.AmenityPoint{
			Category: category,
			Name:     name,
			Coord:    *coord,
		})
	}

	if skipped > 0 {
		zap.L().Debug("shapefile records without geometry skipped",
			zap.String("path", path),
			zap.Int("skipped", skipped),
		)
	}
	return points, nil
}
