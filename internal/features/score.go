package features

import (
	"github.com/rotisserie/eris"

	"github.com/stadtlabor/wohnlage/internal/config"
)

// MinMax rescales a column to [0,1]. A constant column maps to 0.5
// for every row so the weighted sum stays bounded.
func MinMax(values []float64) []float64 {
	if len(values) == 0 {
		return nil
	}
	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	out := make([]float64, len(values))
	if hi == lo {
		for i := range out {
			out[i] = 0.5
		}
		return out
	}
	for i, v := range values {
		out[i] = (v - lo) / (hi - lo)
	}
	return out
}

// WeightedScore collapses the standardized matrix into one composite
// score per row using the configured criterion weights. Each column is
// min-max rescaled to [0,1] first so criteria with wide z-score ranges
// do not dominate the sum; the composite therefore lands in [0,1] too.
// Criteria without a weight entry contribute nothing; an all-zero
// weight set is an error since every score would be zero.
func WeightedScore(s *Standardized, weights config.Weights) ([]float64, error) {
	var total float64
	perColumn := make([]float64, len(s.Criteria))
	for j, c := range s.Criteria {
		w := weights.Criteria[c.Name]
		perColumn[j] = w
		total += w
	}
	if total == 0 {
		return nil, eris.Errorf("features: weights version %d assigns no weight to any registered criterion", weights.Version)
	}

	rescaled := make([][]float64, len(s.Criteria))
	for j := range s.Criteria {
		col := make([]float64, len(s.Rows))
		for i, row := range s.Rows {
			col[i] = row[j]
		}
		rescaled[j] = MinMax(col)
	}

	scores := make([]float64, len(s.Rows))
	for i := range s.Rows {
		var sum float64
		for j := range s.Criteria {
			sum += perColumn[j] * rescaled[j][i]
		}
		scores[i] = sum / total
	}
	return scores, nil
}
