// Package amenity builds per-category spatial indexes over amenity
// points and answers nearest-point and radius queries against them.
package amenity

import (
	"math"
	"sort"

	"github.com/dhconnelly/rtreego"
	"github.com/rotisserie/eris"

	"github.com/stadtlabor/wohnlage/internal/geo"
	"github.com/stadtlabor/wohnlage/internal/model"
)

// ErrNoAmenities is returned when a category has zero points. Callers
// must treat it as missing data, not as zero distance.
var ErrNoAmenities = eris.New("amenity: category has no points")

// metersPerDegreeLat is the approximate north-south extent of one
// degree of latitude, used to size R-tree search rectangles. Matches
// within a meter anywhere in the city.
const metersPerDegreeLat = 111320

// Candidate pairs an amenity point with its straight-line distance
// from the query coordinate.
type Candidate struct {
	Point model.AmenityPoint
	// DistanceM is the haversine distance in meters. Walking
	// distances come from routing, not from here.
	DistanceM float64
}

type treeItem struct {
	rect  rtreego.Rect
	index int
}

func (t treeItem) Bounds() rtreego.Rect {
	return t.rect
}

// Index answers spatial queries for one amenity category. It is
// immutable after construction and safe for concurrent readers.
type Index struct {
	category model.Category
	tree     *rtreego.Rtree
	points   []model.AmenityPoint
}

// NewIndex builds an index over the given points. Points of other
// categories are skipped.
func NewIndex(category model.Category, points []model.AmenityPoint) *Index {
	ix := &Index{
		category: category,
		tree:     rtreego.NewTree(2, 25, 50),
	}
	for _, p := range points {
		if p.Category != category {
			continue
		}
		ix.points = append(ix.points, p)
		rect := rtreego.Point{p.Coord.Lat, p.Coord.Lon}.ToRect(1e-6)
		ix.tree.Insert(treeItem{rect: rect, index: len(ix.points) - 1})
	}
	return ix
}

// Category returns the amenity category this index covers.
func (ix *Index) Category() model.Category {
	return ix.category
}

// Len returns the number of indexed points.
func (ix *Index) Len() int {
	return len(ix.points)
}

// Nearest returns up to n points ordered by ascending great-circle
// distance from c. Returns ErrNoAmenities for an empty category.
func (ix *Index) Nearest(c geo.Coord, n int) ([]Candidate, error) {
	if len(ix.points) == 0 {
		return nil, ErrNoAmenities
	}
	// Over-fetch from the R-tree: its nearest-neighbor ordering is
	// Euclidean in degrees, which distorts east-west distances at
	// this latitude, so re-rank by haversine.
	fetch := n * 4
	if fetch > len(ix.points) {
		fetch = len(ix.points)
	}
	spatials := ix.tree.NearestNeighbors(fetch, rtreego.Point{c.Lat, c.Lon})

	cands := make([]Candidate, 0, len(spatials))
	for _, s := range spatials {
		item := s.(treeItem)
		p := ix.points[item.index]
		cands = append(cands, Candidate{Point: p, DistanceM: geo.Haversine(c, p.Coord)})
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].DistanceM < cands[j].DistanceM })
	if len(cands) > n {
		cands = cands[:n]
	}
	return cands, nil
}

// Within returns every point within radiusM meters of c, ordered by
// ascending distance. Returns ErrNoAmenities for an empty category.
func (ix *Index) Within(c geo.Coord, radiusM float64) ([]Candidate, error) {
	if len(ix.points) == 0 {
		return nil, ErrNoAmenities
	}

	rect := searchRect(c, radiusM)
	var cands []Candidate
	for _, s := range ix.tree.SearchIntersect(rect) {
		item := s.(treeItem)
		p := ix.points[item.index]
		if d := geo.Haversine(c, p.Coord); d <= radiusM {
			cands = append(cands, Candidate{Point: p, DistanceM: d})
		}
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].DistanceM < cands[j].DistanceM })
	return cands, nil
}

// CountWithin counts points within radiusM meters of c.
func (ix *Index) CountWithin(c geo.Coord, radiusM float64) (int, error) {
	cands, err := ix.Within(c, radiusM)
	if err != nil {
		return 0, err
	}
	return len(cands), nil
}

// All returns every indexed point with its distance from c, ordered
// by ascending distance.
func (ix *Index) All(c geo.Coord) ([]Candidate, error) {
	if len(ix.points) == 0 {
		return nil, ErrNoAmenities
	}
	cands := make([]Candidate, 0, len(ix.points))
	for _, p := range ix.points {
		cands = append(cands, Candidate{Point: p, DistanceM: geo.Haversine(c, p.Coord)})
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].DistanceM < cands[j].DistanceM })
	return cands, nil
}

// searchRect builds a bounding rectangle in degrees that fully covers
// the radius around c.
func searchRect(c geo.Coord, radiusM float64) rtreego.Rect {
	latTol := radiusM / metersPerDegreeLat
	lonTol := radiusM / (metersPerDegreeLat * math.Cos(c.Lat*math.Pi/180))
	rect, err := rtreego.NewRect(
		rtreego.Point{c.Lat - latTol, c.Lon - lonTol},
		[]float64{2 * latTol, 2 * lonTol},
	)
	if err != nil {
		// Only reachable with non-positive lengths; radius is validated upstream.
		return rtreego.Point{c.Lat, c.Lon}.ToRect(latTol)
	}
	return rect
}
