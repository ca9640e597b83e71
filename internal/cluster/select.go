package cluster

import (
	"math"

	"github.com/stadtlabor/wohnlage/internal/model"
)

// Silhouette returns the mean silhouette coefficient over all rows.
// Rows in singleton clusters contribute 0, matching the usual
// convention. Returns 0 when fewer than two clusters exist.
func Silhouette(rows [][]float64, labels []int, k int) float64 {
	if k < 2 || len(rows) < 2 {
		return 0
	}

	counts := make([]int, k)
	for _, l := range labels {
		counts[l]++
	}

	var total float64
	for i, row := range rows {
		if counts[labels[i]] < 2 {
			continue
		}

		// Mean distance to every cluster.
		sums := make([]float64, k)
		for j, other := range rows {
			if i == j {
				continue
			}
			sums[labels[j]] += math.Sqrt(sqDist(row, other))
		}

		a := sums[labels[i]] / float64(counts[labels[i]]-1)
		b := math.Inf(1)
		for c := 0; c < k; c++ {
			if c == labels[i] || counts[c] == 0 {
				continue
			}
			if m := sums[c] / float64(counts[c]); m < b {
				b = m
			}
		}

		if denom := math.Max(a, b); denom > 0 {
			total += (b - a) / denom
		}
	}
	return total / float64(len(rows))
}

// ElbowK picks the k with the largest second difference of inertia
// across the sweep: the point where adding another cluster stops
// paying off. Diagnostics must be sorted ascending by K. Needs at
// least three candidates; otherwise the smallest k wins.
func ElbowK(diags []model.KDiagnostic) int {
	if len(diags) == 0 {
		return 0
	}
	if len(diags) < 3 {
		return diags[0].K
	}
	bestK, bestDrop := diags[1].K, math.Inf(-1)
	for i := 1; i < len(diags)-1; i++ {
		second := diags[i-1].Inertia - 2*diags[i].Inertia + diags[i+1].Inertia
		if second > bestDrop {
			bestDrop = second
			bestK = diags[i].K
		}
	}
	return bestK
}

// SilhouetteK picks the k with the highest mean silhouette, ties going
// to the smaller k.
func SilhouetteK(diags []model.KDiagnostic) int {
	if len(diags) == 0 {
		return 0
	}
	best := diags[0]
	for _, d := range diags[1:] {
		if d.Silhouette > best.Silhouette {
			best = d
		}
	}
	return best.K
}

// ChooseK reconciles the two heuristics: when they agree that k is
// final; when they disagree the silhouette wins, since the elbow's
// second difference is noisy on flat inertia curves.
func ChooseK(diags []model.KDiagnostic) (chosen, elbow, silhouette int) {
	elbow = ElbowK(diags)
	silhouette = SilhouetteK(diags)
	chosen = silhouette
	if elbow == silhouette {
		chosen = elbow
	}
	return chosen, elbow, silhouette
}
