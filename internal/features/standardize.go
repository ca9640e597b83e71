package features

import (
	"math"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/stadtlabor/wohnlage/internal/model"
)

// Standardized is the z-scored cluster input. Rows holds one dense
// vector per included matrix row, in the order of Included.
type Standardized struct {
	Criteria []model.Criterion
	Included []int
	Rows     [][]float64
	Stats    map[string]model.CriterionStats
	// Degenerate lists criterion names whose reference stddev was zero.
	Degenerate []string
}

// SampleStats computes per-criterion mean and standard deviation over
// the included rows. The population stddev matches what a later
// baseline-relative run will divide by.
func SampleStats(m *Matrix, included []int) map[string]model.CriterionStats {
	stats := make(map[string]model.CriterionStats, len(m.Criteria))
	for j, c := range m.Criteria {
		var sum, sumSq float64
		for _, i := range included {
			v := m.Rows[i].Values[j].Float
			sum += v
			sumSq += v * v
		}
		n := float64(len(included))
		if n == 0 {
			stats[c.Name] = model.CriterionStats{Degenerate: true}
			continue
		}
		mean := sum / n
		variance := sumSq/n - mean*mean
		if variance < 0 {
			variance = 0
		}
		sd := math.Sqrt(variance)
		stats[c.Name] = model.CriterionStats{Mean: mean, StdDev: sd, Degenerate: sd == 0}
	}
	return stats
}

// Standardize z-scores the included rows against the given reference
// statistics. Pass SampleStats output for sample-relative mode or a
// stored baseline's stats for baseline-relative mode. A zero-stddev
// column yields 0 for every row and is flagged degenerate rather than
// producing NaN.
func Standardize(m *Matrix, included []int, stats map[string]model.CriterionStats) (*Standardized, error) {
	out := &Standardized{
		Criteria: m.Criteria,
		Included: included,
		Rows:     make([][]float64, 0, len(included)),
		Stats:    stats,
	}

	for _, c := range m.Criteria {
		st, ok := stats[c.Name]
		if !ok {
			return nil, eris.Errorf("features: no reference stats for criterion %q", c.Name)
		}
		if st.Degenerate || st.StdDev == 0 {
			out.Degenerate = append(out.Degenerate, c.Name)
		}
	}
	if len(out.Degenerate) > 0 {
		zap.L().Warn("degenerate criteria carry no information",
			zap.Strings("criteria", out.Degenerate),
		)
	}

	for _, i := range included {
		row := make([]float64, len(m.Criteria))
		for j, c := range m.Criteria {
			v := m.Rows[i].Values[j]
			if v.IsMissing() {
				return nil, eris.Errorf("features: missing value for %q in cluster input row %s", c.Name, m.Rows[i].AddressID)
			}
			st := stats[c.Name]
			if st.Degenerate || st.StdDev == 0 {
				row[j] = 0
				continue
			}
			row[j] = (v.Float - st.Mean) / st.StdDev
		}
		out.Rows = append(out.Rows, row)
	}
	return out, nil
}
