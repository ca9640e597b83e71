// Package validate computes clustering quality metrics: internal
// indices, external agreement against reference labels, and spatial
// coherence of the resulting clusters.
package validate

import (
	"math"

	"github.com/rotisserie/eris"
)

func euclid(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

// DaviesBouldin computes the Davies-Bouldin index: the mean over
// clusters of the worst-case ratio of intra-cluster scatter to
// centroid separation. Lower is better; coincident centroids make the
// index unbounded, so those pairs are skipped.
func DaviesBouldin(rows [][]float64, labels []int, centroids [][]float64) (float64, error) {
	k := len(centroids)
	if k < 2 {
		return 0, eris.Errorf("validate: davies-bouldin needs at least 2 clusters, got %d", k)
	}
	if len(rows) != len(labels) {
		return 0, eris.Errorf("validate: %d rows but %d labels", len(rows), len(labels))
	}

	scatter := make([]float64, k)
	counts := make([]int, k)
	for i, row := range rows {
		scatter[labels[i]] += euclid(row, centroids[labels[i]])
		counts[labels[i]]++
	}
	for c := range scatter {
		if counts[c] > 0 {
			scatter[c] /= float64(counts[c])
		}
	}

	var total float64
	var clusters int
	for i := 0; i < k; i++ {
		if counts[i] == 0 {
			continue
		}
		worst := 0.0
		for j := 0; j < k; j++ {
			if j == i || counts[j] == 0 {
				continue
			}
			sep := euclid(centroids[i], centroids[j])
			if sep == 0 {
				continue
			}
			if r := (scatter[i] + scatter[j]) / sep; r > worst {
				worst = r
			}
		}
		total += worst
		clusters++
	}
	if clusters == 0 {
		return 0, eris.New("validate: no populated clusters")
	}
	return total / float64(clusters), nil
}

// AdjustedRand computes the adjusted Rand index between a clustering
// and reference labels over the same rows. 1 is perfect agreement, 0
// is chance level. Label values need not align between the two
// partitions.
func AdjustedRand(labels, reference []int) (float64, error) {
	if len(labels) != len(reference) {
		return 0, eris.Errorf("validate: %d labels but %d reference labels", len(labels), len(reference))
	}
	if len(labels) < 2 {
		return 0, eris.New("validate: adjusted rand needs at least 2 rows")
	}

	// Contingency table keyed by (cluster, reference) pair.
	table := make(map[[2]int]int)
	rowSum := make(map[int]int)
	colSum := make(map[int]int)
	for i := range labels {
		table[[2]int{labels[i], reference[i]}]++
		rowSum[labels[i]]++
		colSum[reference[i]]++
	}

	choose2 := func(n int) float64 { return float64(n) * float64(n-1) / 2 }

	var sumTable, sumRows, sumCols float64
	for _, n := range table {
		sumTable += choose2(n)
	}
	for _, n := range rowSum {
		sumRows += choose2(n)
	}
	for _, n := range colSum {
		sumCols += choose2(n)
	}

	total := choose2(len(labels))
	expected := sumRows * sumCols / total
	maxIndex := (sumRows + sumCols) / 2
	if maxIndex == expected {
		// Both partitions are trivial; agreement is exact by definition.
		return 1, nil
	}
	return (sumTable - expected) / (maxIndex - expected), nil
}
