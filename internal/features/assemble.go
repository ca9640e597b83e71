// Package features assembles per-address criterion values into a
// feature matrix and standardizes it for clustering.
package features

import (
	"sort"

	"go.uber.org/zap"

	"github.com/stadtlabor/wohnlage/internal/model"
)

// Row is one address's criterion values, parallel to Matrix.Criteria.
type Row struct {
	AddressID string
	Values    []model.Value
}

// Matrix is the assembled feature table: one row per address, one
// column per registered criterion. Rows with missing entries are kept
// here; exclusion happens explicitly in ClusterInput so no address
// vanishes without trace.
type Matrix struct {
	Criteria []model.Criterion
	Rows     []Row
}

// Assemble joins extracted criterion values into a matrix keyed by
// address id. A criterion absent from an address's map (extractor
// never ran) is recorded as missing, not skipped.
func Assemble(addrs []model.Address, criteria []model.Criterion) *Matrix {
	m := &Matrix{Criteria: criteria}
	for _, addr := range addrs {
		row := Row{AddressID: addr.ID, Values: make([]model.Value, len(criteria))}
		for i, c := range criteria {
			v, ok := addr.Criteria[c.Name]
			if !ok {
				v = model.Missing(model.MissingCriterion)
			}
			row.Values[i] = v
		}
		m.Rows = append(m.Rows, row)
	}
	return m
}

// ClusterInput splits the matrix into rows usable for clustering
// (no missing entries) and an exclusion report covering the rest.
// Included returns indexes into m.Rows.
func ClusterInput(m *Matrix) (included []int, report model.ExclusionReport) {
	report.ByReason = make(map[model.MissingReason]int)
	report.ByCategory = make(map[string]int)

	for i, row := range m.Rows {
		var firstReason model.MissingReason
		missingPerCategory := make(map[model.Category]int)
		totalPerCategory := make(map[model.Category]int)

		for j, v := range row.Values {
			cat := m.Criteria[j].Category
			totalPerCategory[cat]++
			if v.IsMissing() {
				missingPerCategory[cat]++
				if firstReason == "" {
					firstReason = v.Reason
				}
			}
		}

		if firstReason == "" {
			included = append(included, i)
			continue
		}

		report.Total++
		report.ByReason[firstReason]++
		report.AddressIDs = append(report.AddressIDs, row.AddressID)
		// Flag categories the address has no data for at all.
		for cat, miss := range missingPerCategory {
			if miss == totalPerCategory[cat] {
				report.ByCategory[string(cat)]++
			}
		}
	}

	sort.Strings(report.AddressIDs)
	if report.Total > 0 {
		zap.L().Info("addresses excluded from cluster input",
			zap.Int("excluded", report.Total),
			zap.Int("included", len(included)),
		)
	}
	return included, report
}
