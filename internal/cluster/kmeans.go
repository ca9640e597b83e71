// Package cluster implements seeded k-means over standardized feature
// vectors plus the k-selection heuristics used to pick a cluster count.
package cluster

import (
	"math"
	"math/rand"

	"github.com/rotisserie/eris"
)

// KMeansResult is one converged clustering of the input rows.
type KMeansResult struct {
	K         int
	Centroids [][]float64
	// Labels assigns each input row to a centroid index.
	Labels []int
	// Distances holds each row's Euclidean distance to its centroid.
	Distances []float64
	// Inertia is the within-cluster sum of squared distances (WCSS).
	Inertia float64
	Iters   int
}

func sqDist(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

// plusPlusInit picks initial centroids with k-means++ weighting: each
// next centroid is drawn proportionally to the squared distance from
// the nearest already-chosen one.
func plusPlusInit(rows [][]float64, k int, rng *rand.Rand) [][]float64 {
	centroids := make([][]float64, 0, k)
	centroids = append(centroids, rows[rng.Intn(len(rows))])

	dists := make([]float64, len(rows))
	for len(centroids) < k {
		var total float64
		last := centroids[len(centroids)-1]
		for i, row := range rows {
			d := sqDist(row, last)
			if len(centroids) == 1 || d < dists[i] {
				dists[i] = d
			}
			total += dists[i]
		}
		if total == 0 {
			// All remaining rows coincide with a centroid; duplicate one.
			centroids = append(centroids, rows[rng.Intn(len(rows))])
			continue
		}
		target := rng.Float64() * total
		var acc float64
		picked := len(rows) - 1
		for i, d := range dists {
			acc += d
			if acc >= target {
				picked = i
				break
			}
		}
		centroids = append(centroids, rows[picked])
	}

	// Centroids move during iteration; copy so the input stays intact.
	out := make([][]float64, k)
	for i, c := range centroids {
		out[i] = append([]float64(nil), c...)
	}
	return out
}

// kmeansOnce runs Lloyd's algorithm from one k-means++ seeding.
func kmeansOnce(rows [][]float64, k, maxIter int, rng *rand.Rand) KMeansResult {
	centroids := plusPlusInit(rows, k, rng)
	labels := make([]int, len(rows))
	dists := make([]float64, len(rows))

	var iters int
	for iters = 0; iters < maxIter; iters++ {
		changed := false
		for i, row := range rows {
			best, bestD := 0, math.Inf(1)
			for c, centroid := range centroids {
				if d := sqDist(row, centroid); d < bestD {
					best, bestD = c, d
				}
			}
			if labels[i] != best {
				labels[i] = best
				changed = true
			}
			dists[i] = bestD
		}
		if !changed && iters > 0 {
			break
		}

		counts := make([]int, k)
		sums := make([][]float64, k)
		for c := range sums {
			sums[c] = make([]float64, len(rows[0]))
		}
		for i, row := range rows {
			counts[labels[i]]++
			for j, v := range row {
				sums[labels[i]][j] += v
			}
		}
		for c := range centroids {
			if counts[c] == 0 {
				// Re-seed an emptied centroid on the farthest row.
				far, farD := 0, -1.0
				for i := range rows {
					if dists[i] > farD {
						far, farD = i, dists[i]
					}
				}
				copy(centroids[c], rows[far])
				continue
			}
			for j := range centroids[c] {
				centroids[c][j] = sums[c][j] / float64(counts[c])
			}
		}
	}

	var inertia float64
	out := make([]float64, len(rows))
	for i, row := range rows {
		d := sqDist(row, centroids[labels[i]])
		inertia += d
		out[i] = math.Sqrt(d)
	}
	return KMeansResult{
		K:         k,
		Centroids: centroids,
		Labels:    append([]int(nil), labels...),
		Distances: out,
		Inertia:   inertia,
		Iters:     iters,
	}
}

// KMeans clusters rows into k groups. It restarts the whole algorithm
// `restarts` times from fresh k-means++ seedings and keeps the run
// with the lowest inertia. The same seed always yields the same
// result.
func KMeans(rows [][]float64, k, restarts, maxIter int, seed int64) (KMeansResult, error) {
	if k < 1 {
		return KMeansResult{}, eris.Errorf("cluster: k must be positive, got %d", k)
	}
	if len(rows) < k {
		return KMeansResult{}, eris.Errorf("cluster: %d rows cannot form %d clusters", len(rows), k)
	}
	if restarts < 1 {
		restarts = 1
	}
	if maxIter < 1 {
		maxIter = 1
	}

	rng := rand.New(rand.NewSource(seed))
	best := kmeansOnce(rows, k, maxIter, rng)
	for r := 1; r < restarts; r++ {
		if res := kmeansOnce(rows, k, maxIter, rng); res.Inertia < best.Inertia {
			best = res
		}
	}
	return best, nil
}
