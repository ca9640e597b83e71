package pipeline

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/stadtlabor/wohnlage/internal/geo"
	"github.com/stadtlabor/wohnlage/internal/model"
	"github.com/stadtlabor/wohnlage/pkg/nominatim"
)

// GeocodeAddresses fills coordinates for addresses that have none.
// Unmatched addresses keep a nil Coord and are reported, not dropped.
// Returns the number matched and the ids left without coordinates.
func GeocodeAddresses(ctx context.Context, geocoder nominatim.Client, addrs []model.Address) (int, []string, error) {
	var matched int
	var unmatched []string

	for i := range addrs {
		if addrs[i].Coord != nil {
			continue
		}
		if addrs[i].Street == "" {
			unmatched = append(unmatched, addrs[i].ID)
			continue
		}

		res, err := geocoder.Geocode(ctx, nominatim.Query{
			Street:      addrs[i].Street,
			HouseNumber: addrs[i].HouseNumber,
		})
		if err != nil {
			return matched, unmatched, eris.Wrapf(err, "pipeline: geocode %s", addrs[i].ID)
		}
		if !res.Matched {
			unmatched = append(unmatched, addrs[i].ID)
			continue
		}
		addrs[i].Coord = &geo.Coord{Lat: res.Lat, Lon: res.Lon}
		matched++
	}

	if len(unmatched) > 0 {
		zap.L().Warn("addresses without coordinates after geocoding",
			zap.Int("count", len(unmatched)),
		)
	}
	return matched, unmatched, nil
}

// GeocodeStops fills coordinates for transit stops missing them, using
// the POI phrasing instead of a street address.
func GeocodeStops(ctx context.Context, geocoder nominatim.Client, stops []model.AmenityPoint, kind string) ([]model.AmenityPoint, error) {
	var out []model.AmenityPoint
	var dropped int

	for _, s := range stops {
		if s.Coord != (geo.Coord{}) {
			out = append(out, s)
			continue
		}

		res, err := geocoder.Geocode(ctx, nominatim.Query{Name: s.Name, StopKind: kind})
		if err != nil {
			return nil, eris.Wrapf(err, "pipeline: geocode stop %q", s.Name)
		}
		if !res.Matched {
			dropped++
			continue
		}
		s.Coord = geo.Coord{Lat: res.Lat, Lon: res.Lon}
		out = append(out, s)
	}

	if dropped > 0 {
		zap.L().Warn("stops dropped after failed geocoding", zap.Int("count", dropped))
	}
	return out, nil
}
