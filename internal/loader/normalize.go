// Package loader reads the municipal source datasets: geocoded
// address/amenity CSVs, amenity shapefiles and transit schedule
// workbooks.
package loader

import "strings"

// MergeKey builds the normalized join key used to match rows across
// datasets: lower-cased street plus house number with suffix glued
// on, collapsed whitespace. "Steinstraße" + "12" + "a" becomes
// "steinstraße 12a".
func MergeKey(street, houseNumber, suffix string) string {
	hn := strings.ToLower(strings.TrimSpace(houseNumber))
	if s := strings.ToLower(strings.TrimSpace(suffix)); s != "" && s != "nan" {
		hn += s
	}
	key := strings.ToLower(strings.TrimSpace(street)) + " " + hn
	return strings.Join(strings.Fields(key), " ")
}

// StopMergeKey builds the join key for transit stops. Stop names get
// a "haltestelle" prefix when the source name lacks one, matching the
// address-side convention.
func StopMergeKey(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	if !strings.Contains(n, "haltestelle") {
		n = "haltestelle " + n
	}
	return strings.Join(strings.Fields(n), " ")
}

// cleanCell trims a CSV cell and maps the literal "nan" some exports
// carry to the empty string.
func cleanCell(v string) string {
	v = strings.TrimSpace(v)
	if strings.EqualFold(v, "nan") {
		return ""
	}
	return v
}
