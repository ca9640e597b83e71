package validate

import (
	"sort"

	"github.com/dhconnelly/rtreego"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/stadtlabor/wohnlage/internal/geo"
)

// Placement is one clustered address with its map position.
type Placement struct {
	AddressID string
	Coord     geo.Coord
	Cluster   int
}

type placedItem struct {
	rect  rtreego.Rect
	index int
}

func (p placedItem) Bounds() rtreego.Rect {
	return p.rect
}

// CoherenceResult reports, per cluster, the mean fraction of each
// member's k nearest spatial neighbors that share its cluster label.
type CoherenceResult struct {
	// PerCluster maps cluster id to mean neighbor agreement in [0,1].
	PerCluster map[int]float64
	// Dispersed lists clusters whose agreement fell below the
	// threshold, ascending.
	Dispersed []int
}

// SpatialCoherence measures whether clusters form contiguous areas on
// the map. An amenity-based clustering is expected to be roughly
// spatial since nearby addresses see the same amenities; a dispersed
// cluster hints at a degenerate or noisy criterion dominating it.
func SpatialCoherence(placements []Placement, neighbors int, threshold float64) (*CoherenceResult, error) {
	if neighbors < 1 {
		return nil, eris.Errorf("validate: neighbor count must be positive, got %d", neighbors)
	}
	if len(placements) <= neighbors {
		return nil, eris.Errorf("validate: %d placements cannot support %d neighbors", len(placements), neighbors)
	}

	tree := rtreego.NewTree(2, 25, 50)
	for i, p := range placements {
		rect := rtreego.Point{p.Coord.Lat, p.Coord.Lon}.ToRect(1e-6)
		tree.Insert(placedItem{rect: rect, index: i})
	}

	agreeSum := make(map[int]float64)
	counts := make(map[int]int)
	for i, p := range placements {
		// Fetch extra then re-rank by haversine; degree-space ordering
		// distorts east-west distances. +1 drops the point itself.
		fetch := (neighbors + 1) * 4
		if fetch > len(placements) {
			fetch = len(placements)
		}
		found := tree.NearestNeighbors(fetch, rtreego.Point{p.Coord.Lat, p.Coord.Lon})

		type ranked struct {
			index int
			dist  float64
		}
		var near []ranked
		for _, s := range found {
			item := s.(placedItem)
			if item.index == i {
				continue
			}
			near = append(near, ranked{item.index, geo.Haversine(p.Coord, placements[item.index].Coord)})
		}
		sort.Slice(near, func(a, b int) bool { return near[a].dist < near[b].dist })
		if len(near) > neighbors {
			near = near[:neighbors]
		}

		agree := 0
		for _, n := range near {
			if placements[n.index].Cluster == p.Cluster {
				agree++
			}
		}
		agreeSum[p.Cluster] += float64(agree) / float64(len(near))
		counts[p.Cluster]++
	}

	res := &CoherenceResult{PerCluster: make(map[int]float64, len(agreeSum))}
	for c, sum := range agreeSum {
		mean := sum / float64(counts[c])
		res.PerCluster[c] = mean
		if mean < threshold {
			res.Dispersed = append(res.Dispersed, c)
		}
	}
	sort.Ints(res.Dispersed)

	if len(res.Dispersed) > 0 {
		zap.L().Warn("spatially dispersed clusters detected",
			zap.Ints("clusters", res.Dispersed),
			zap.Float64("threshold", threshold),
		)
	}
	return res, nil
}
