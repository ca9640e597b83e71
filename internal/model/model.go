// Package model defines the domain types shared across the scoring
// pipeline: addresses, amenity points, criteria and cluster output.
package model

import (
	"time"

	"github.com/stadtlabor/wohnlage/internal/geo"
)

// Category identifies an amenity class.
type Category string

const (
	CategoryKita   Category = "kita"
	CategorySchool Category = "school"
	CategoryRetail Category = "retail"
	CategoryStop   Category = "stop"
)

// AggregationKind names how a criterion is derived from raw points.
type AggregationKind string

const (
	// AggNearestDistance is the walking distance to the nearest amenity.
	AggNearestDistance AggregationKind = "nearest_distance"
	// AggRadiusCount counts amenities within a fixed radius.
	AggRadiusCount AggregationKind = "radius_count"
	// AggCustomIndex is a computed index, e.g. transit headway.
	AggCustomIndex AggregationKind = "custom_index"
)

// Address is one residential address under evaluation.
type Address struct {
	ID string `json:"id"`
	// Label is the display address, e.g. "Steinstraße 12a".
	Label string `json:"label"`
	// Street and HouseNumber are kept separately for geocoding
	// queries; the house number includes any suffix letter.
	Street      string `json:"street,omitempty"`
	HouseNumber string `json:"house_number,omitempty"`
	// MergeKey is the normalized street+number key used to join
	// datasets, lower-cased with collapsed whitespace.
	MergeKey string `json:"merge_key"`
	// Coord is nil until the address has been geocoded.
	Coord *geo.Coord `json:"coord,omitempty"`
	// Criteria maps criterion name to its raw observed value.
	Criteria map[string]Value `json:"criteria,omitempty"`
	// RouteGeometry holds the GeoJSON LineString of the route to the
	// nearest amenity, keyed by criterion name.
	RouteGeometry map[string]string `json:"route_geometry,omitempty"`
}

// AmenityPoint is one amenity location. Point sets are immutable
// inputs for a run.
type AmenityPoint struct {
	Category Category  `json:"category"`
	Name     string    `json:"name"`
	Coord    geo.Coord `json:"coord"`
	// StopID links transit stops to their schedule entries.
	StopID string `json:"stop_id,omitempty"`
	// Attributes carries source columns such as is_med_center.
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Criterion describes one registered scoring dimension.
type Criterion struct {
	Name string `json:"name"`
	Unit string `json:"unit"`
	// Category groups criteria by amenity class for exclusion
	// accounting.
	Category Category        `json:"category"`
	Kind     AggregationKind `json:"kind"`
	Weight   float64         `json:"weight"`
}

// ClusterAssignment is the clustering result for one address.
type ClusterAssignment struct {
	AddressID    string  `json:"address_id"`
	Cluster      int     `json:"cluster"`
	CentroidDist float64 `json:"centroid_dist"`
}

// CriterionStats holds the reference mean and standard deviation used
// for z-scoring one criterion.
type CriterionStats struct {
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	// Degenerate marks a zero-variance column; its z-scores are
	// defined as 0 for every row.
	Degenerate bool `json:"degenerate,omitempty"`
}

// BaselinePopulation freezes per-criterion statistics from a prior
// run so later runs can standardize against a stable reference.
type BaselinePopulation struct {
	ID        string                    `json:"id"`
	Version   int                       `json:"version"`
	RunID     string                    `json:"run_id"`
	CreatedAt time.Time                 `json:"created_at"`
	Stats     map[string]CriterionStats `json:"stats"`
}

// Departure is one scheduled transit departure at a stop.
type Departure struct {
	StopID    string `json:"stop_id"`
	Direction string `json:"direction"`
	// Time is minutes after midnight; schedules carry no dates.
	Time int `json:"time"`
}
