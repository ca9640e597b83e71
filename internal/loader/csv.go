package loader

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	geom "github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkt"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/charmap"

	"github.com/stadtlabor/wohnlage/internal/geo"
	"github.com/stadtlabor/wohnlage/internal/model"
)

// CSVOptions configures dataset CSV parsing.
type CSVOptions struct {
	Delimiter rune // default ','
	// Latin1 decodes Windows-1252 exports; default is UTF-8.
	Latin1 bool
	// AttributeFilter keeps only rows whose column equals a truthy
	// value ("true", "1", "yes", "y"), e.g. is_med_center for the
	// medical-center dataset.
	AttributeFilter string
}

// German source column names shared across the municipal exports.
const (
	colStreet     = "Straßenname"
	colStreetAlt  = "Straßennamen"
	colHouseNo    = "Hsnr"
	colHouseNoSfx = "HsnrZus"
	colStopName   = "Name_Haltestelle"
	colStopKind   = "Kategorie"
	colStopID     = "Stop_ID"
)

type table struct {
	header map[string]int
	rows   [][]string
}

func (t *table) get(row []string, col string) string {
	idx, ok := t.header[strings.ToLower(col)]
	if !ok || idx >= len(row) {
		return ""
	}
	return cleanCell(row[idx])
}

func (t *table) has(col string) bool {
	_, ok := t.header[strings.ToLower(col)]
	return ok
}

func readTable(path string, opts CSVOptions) (*table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "loader: open %s", path)
	}
	defer f.Close()

	var r io.Reader = f
	if opts.Latin1 {
		r = charmap.Windows1252.NewDecoder().Reader(f)
	}

	reader := csv.NewReader(r)
	if opts.Delimiter != 0 {
		reader.Comma = opts.Delimiter
	}
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, eris.Wrapf(err, "loader: read %s", path)
	}
	if len(records) == 0 {
		return nil, eris.Errorf("loader: %s is empty", path)
	}

	header := make(map[string]int, len(records[0]))
	for i, name := range records[0] {
		header[strings.ToLower(strings.TrimSpace(name))] = i
	}
	return &table{header: header, rows: records[1:]}, nil
}

// parseCoord extracts a coordinate from lat/lon columns, falling back
// to a WKT "POINT (lon lat)" geometry column. Returns nil when the
// row carries neither — the address stays ungeocoded.
func (t *table) parseCoord(row []string) *geo.Coord {
	latS, lonS := t.get(row, "lat"), t.get(row, "lon")
	if latS != "" && lonS != "" {
		lat, latErr := strconv.ParseFloat(latS, 64)
		lon, lonErr := strconv.ParseFloat(lonS, 64)
		if latErr == nil && lonErr == nil {
			return &geo.Coord{Lat: lat, Lon: lon}
		}
	}

	if g := t.get(row, "geometry"); strings.HasPrefix(g, "POINT") {
		parsed, err := wkt.Unmarshal(g)
		if err == nil {
			if pt, ok := parsed.(*geom.Point); ok {
				return &geo.Coord{Lat: pt.Y(), Lon: pt.X()}
			}
		}
	}
	return nil
}

// LoadAddresses reads a geocoded address CSV. Rows without
// coordinates are kept with a nil Coord; the pipeline reports them as
// excluded instead of dropping them here.
func LoadAddresses(path string, opts CSVOptions) ([]model.Address, error) {
	t, err := readTable(path, opts)
	if err != nil {
		return nil, err
	}

	var addrs []model.Address
	for i, row := range t.rows {
		street := t.get(row, colStreet)
		if street == "" {
			street = t.get(row, colStreetAlt)
		}
		hn := t.get(row, colHouseNo)
		sfx := t.get(row, colHouseNoSfx)

		id := t.get(row, "id")
		if id == "" {
			id = fmt.Sprintf("addr-%04d", i+1)
		}

		label := strings.TrimSpace(street + " " + hn + sfx)
		addrs = append(addrs, model.Address{
			ID:          id,
			Label:       label,
			Street:      street,
			HouseNumber: hn + sfx,
			MergeKey:    MergeKey(street, hn, sfx),
			Coord:       t.parseCoord(row),
			Criteria:    make(map[string]model.Value),
		})
	}

	zap.L().Info("addresses loaded", zap.String("path", path), zap.Int("count", len(addrs)))
	return addrs, nil
}

func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes", "y":
		return true
	}
	return false
}

// stopKind maps the German stop category column onto the POI phrasing
// the geocoder understands. Anything that is not a tram stop is
// treated as a bus stop.
func stopKind(raw string) string {
	v := strings.ToLower(raw)
	if strings.Contains(v, "tram") || strings.Contains(v, "straßenbahn") {
		return "tram_stop"
	}
	return "bus_stop"
}

// LoadAmenities reads a geocoded amenity CSV for one category. Rows
// without coordinates are skipped, except transit stops, which are
// kept for name-based geocoding downstream; an optional attribute
// filter keeps only flagged rows.
func LoadAmenities(path string, category model.Category, opts CSVOptions) ([]model.AmenityPoint, error) {
	t, err := readTable(path, opts)
	if err != nil {
		return nil, err
	}

	var points []model.AmenityPoint
	var skipped int
	for _, row := range t.rows {
		if opts.AttributeFilter != "" && !truthy(t.get(row, opts.AttributeFilter)) {
			continue
		}

		coord := t.parseCoord(row)
		if coord == nil && category != model.CategoryStop {
			skipped++
			continue
		}

		name := t.get(row, colStopName)
		if name == "" {
			// Amenity exports carry one Name_* column per dataset
			// (Name_Arztpraxis, Name_Apotheke, ...); take the first
			// non-empty one.
			for col, idx := range t.header {
				if strings.HasPrefix(col, "name_") && idx < len(row) {
					if v := cleanCell(row[idx]); v != "" {
						name = v
						break
					}
				}
			}
		}

		p := model.AmenityPoint{
			Category: category,
			Name:     name,
		}
		if coord != nil {
			p.Coord = *coord
		}
		if category == model.CategoryStop {
			p.StopID = t.get(row, colStopID)
			if p.StopID == "" {
				p.StopID = StopMergeKey(name)
			}
			p.Attributes = map[string]string{"stop_kind": stopKind(t.get(row, colStopKind))}
		}
		points = append(points, p)
	}

	if skipped > 0 {
		zap.L().Warn("amenity rows without coordinates skipped",
			zap.String("path", path),
			zap.String("category", string(category)),
			zap.Int("skipped", skipped),
		)
	}
	zap.L().Info("amenities loaded",
		zap.String("path", path),
		zap.String("category", string(category)),
		zap.Int("count", len(points)),
	)
	return points, nil
}

// LoadReferenceLabels reads an external label CSV (address id →
// label), e.g. rent-index zones, for diagnostic cluster comparison.
func LoadReferenceLabels(path string, opts CSVOptions) (map[string]string, error) {
	t, err := readTable(path, opts)
	if err != nil {
		return nil, err
	}
	if !t.has("id") || !t.has("label") {
		return nil, eris.Errorf("loader: %s needs id and label columns", path)
	}

	labels := make(map[string]string, len(t.rows))
	for _, row := range t.rows {
		id := t.get(row, "id")
		if id == "" {
			continue
		}
		labels[id] = t.get(row, "label")
	}
	return labels, nil
}
