package extract

import (
	"context"
	"fmt"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/stadtlabor/wohnlage/internal/amenity"
	"github.com/stadtlabor/wohnlage/internal/model"
	"github.com/stadtlabor/wohnlage/pkg/ors"
)

// DistanceDensity extracts the nearest walking distance to one
// amenity category plus density counts within the configured radii.
// Distances are routed, never straight-line: the haversine index only
// pre-selects routing candidates.
type DistanceDensity struct {
	index      *amenity.Index
	router     ors.Client
	radii      []float64
	prefilterM float64
}

// NewDistanceDensity builds the extractor for one category index.
// Radii are sorted ascending; prefilterM is the candidate-selection
// radius (straight-line).
func NewDistanceDensity(index *amenity.Index, router ors.Client, radii []float64, prefilterM float64) *DistanceDensity {
	sorted := append([]float64(nil), radii...)
	sort.Float64s(sorted)
	return &DistanceDensity{
		index:      index,
		router:     router,
		radii:      sorted,
		prefilterM: prefilterM,
	}
}

func (d *DistanceDensity) Name() string {
	return string(d.index.Category()) + "_distance_density"
}

// distanceCriterion is the nearest-distance column name, e.g.
// "school_min_distance_m".
func (d *DistanceDensity) distanceCriterion() string {
	return fmt.Sprintf("%s_min_distance_m", d.index.Category())
}

// countCriterion is the density column name for one radius, e.g.
// "school_count_within_500m".
func (d *DistanceDensity) countCriterion(radius float64) string {
	return fmt.Sprintf("%s_count_within_%dm", d.index.Category(), int(radius))
}

func (d *DistanceDensity) Criteria() []model.Criterion {
	out := []model.Criterion{{
		Name:     d.distanceCriterion(),
		Unit:     "m",
		Category: d.index.Category(),
		Kind:     model.AggNearestDistance,
	}}
	for _, r := range d.radii {
		out = append(out, model.Criterion{
			Name:     d.countCriterion(r),
			Unit:     "count",
			Category: d.index.Category(),
			Kind:     model.AggRadiusCount,
		})
	}
	return out
}

// Extract routes the address against every candidate of the category
// and derives the minimum distance plus per-radius counts from the
// routed distances. An address with no successful route gets missing
// markers, never zeros; zero nearby amenities and failed routing must
// stay distinguishable downstream.
func (d *DistanceDensity) Extract(ctx context.Context, addr model.Address) (Result, error) {
	criteria := d.Criteria()

	if addr.Coord == nil {
		return missingAll(criteria, model.MissingCoordinate), nil
	}

	candidates, err := d.index.Within(*addr.Coord, d.prefilterM)
	if eris.Is(err, amenity.ErrNoAmenities) {
		return missingAll(criteria, model.MissingCriterion), nil
	}
	if err != nil {
		return Result{}, err
	}
	if len(candidates) == 0 {
		// Nothing within the prefilter radius: route against all
		// points of the category so peripheral addresses still get a
		// nearest distance.
		candidates, err = d.index.All(*addr.Coord)
		if err != nil {
			return Result{}, err
		}
	}

	var (
		routed    int
		minDist   float64
		minGeom   string
		haveMin   bool
		counts    = make([]int, len(d.radii))
		routeFail int
	)
	for _, cand := range candidates {
		if ctx.Err() != nil {
			return Result{}, eris.Wrap(ctx.Err(), "extract: cancelled")
		}

		route, rErr := d.router.RouteDistance(ctx, *addr.Coord, cand.Point.Coord)
		if rErr != nil {
			routeFail++
			continue
		}
		routed++

		for i, radius := range d.radii {
			if route.DistanceM <= radius {
				counts[i]++
			}
		}
		if !haveMin || route.DistanceM < minDist {
			minDist = route.DistanceM
			minGeom = route.Geometry
			haveMin = true
		}
	}

	if routeFail > 0 {
		zap.L().Debug("route lookups failed",
			zap.String("address", addr.ID),
			zap.String("category", string(d.index.Category())),
			zap.Int("failed", routeFail),
			zap.Int("routed", routed),
		)
	}

	// No candidate could be routed at all: the criteria are missing,
	// not zero.
	if !haveMin {
		return missingAll(criteria, model.MissingRouteDistance), nil
	}

	values := map[string]model.Value{
		d.distanceCriterion(): model.Some(minDist),
	}
	for i, radius := range d.radii {
		values[d.countCriterion(radius)] = model.Some(float64(counts[i]))
	}

	res := Result{Values: values}
	if minGeom != "" {
		res.RouteGeometry = map[string]string{d.distanceCriterion(): minGeom}
	}
	return res, nil
}
