package model

import "encoding/json"

// MissingReason classifies why a criterion value is absent. Missing
// values travel through the pipeline as explicit markers; they are
// never coerced to zero.
type MissingReason string

const (
	// MissingCoordinate marks an address that was never geocoded.
	MissingCoordinate MissingReason = "missing_coordinate"
	// MissingRouteDistance marks a failed or unavailable routing lookup.
	MissingRouteDistance MissingReason = "missing_route_distance"
	// MissingCriterion marks an empty amenity category or failed lookup.
	MissingCriterion MissingReason = "missing_criterion"
	// DegenerateCriterion marks a zero-variance column after standardization.
	DegenerateCriterion MissingReason = "degenerate_criterion"
	// InsufficientSample marks aggregates over too few observations,
	// e.g. a headway window with fewer than two departures.
	InsufficientSample MissingReason = "insufficient_sample"
)

// Value is a criterion observation: either a float or a typed missing
// marker.
type Value struct {
	Float  float64
	Reason MissingReason
}

// Some wraps a present observation.
func Some(f float64) Value {
	return Value{Float: f}
}

// Missing constructs a missing marker with the given reason.
func Missing(reason MissingReason) Value {
	return Value{Reason: reason}
}

// IsMissing reports whether the value carries no observation.
func (v Value) IsMissing() bool {
	return v.Reason != ""
}

type valueJSON struct {
	Value   *float64      `json:"value,omitempty"`
	Missing MissingReason `json:"missing,omitempty"`
}

// MarshalJSON encodes present values as {"value": x} and missing ones
// as {"missing": reason}.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.IsMissing() {
		return json.Marshal(valueJSON{Missing: v.Reason})
	}
	f := v.Float
	return json.Marshal(valueJSON{Value: &f})
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw valueJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Value != nil {
		*v = Some(*raw.Value)
		return nil
	}
	*v = Missing(raw.Missing)
	return nil
}
