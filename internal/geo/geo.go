// Package geo holds the small amount of coordinate math the pipeline
// needs: great-circle distances and coordinate rounding for cache keys.
package geo

import (
	"fmt"
	"math"
)

// earthRadiusM is the mean earth radius in meters.
const earthRadiusM = 6371000

// Coord is a WGS84 coordinate.
type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Haversine returns the great-circle distance between two coordinates
// in meters.
func Haversine(a, b Coord) float64 {
	phi1 := radians(a.Lat)
	phi2 := radians(b.Lat)
	dPhi := radians(b.Lat - a.Lat)
	dLambda := radians(b.Lon - a.Lon)

	h := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	return earthRadiusM * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// CacheKey renders a coordinate pair as a stable cache key, rounded to
// five decimal places (~1 m). Requests for near-identical endpoints
// collapse onto one cached route.
func CacheKey(origin, dest Coord) string {
	return fmt.Sprintf("%.5f,%.5f|%.5f,%.5f", origin.Lat, origin.Lon, dest.Lat, dest.Lon)
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}
