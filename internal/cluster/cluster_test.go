package cluster

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stadtlabor/wohnlage/internal/model"
)

// threeBlobs generates three tight, well-separated 2D clusters.
func threeBlobs(perBlob int, seed int64) ([][]float64, []int) {
	rng := rand.New(rand.NewSource(seed))
	centers := [][2]float64{{0, 0}, {10, 0}, {0, 10}}
	var rows [][]float64
	var truth []int
	for c, center := range centers {
		for i := 0; i < perBlob; i++ {
			rows = append(rows, []float64{
				center[0] + rng.NormFloat64()*0.3,
				center[1] + rng.NormFloat64()*0.3,
			})
			truth = append(truth, c)
		}
	}
	return rows, truth
}

func TestKMeans_RecoversBlobs(t *testing.T) {
	rows, truth := threeBlobs(20, 7)
	res, err := KMeans(rows, 3, 5, 100, 42)
	require.NoError(t, err)
	require.Len(t, res.Labels, len(rows))

	// Every blob must map to exactly one label.
	blobLabel := map[int]int{}
	for i, l := range res.Labels {
		if prev, ok := blobLabel[truth[i]]; ok {
			assert.Equal(t, prev, l, "blob split across clusters at row %d", i)
		} else {
			blobLabel[truth[i]] = l
		}
	}
	assert.Len(t, blobLabel, 3)
}

func TestKMeans_Deterministic(t *testing.T) {
	rows, _ := threeBlobs(15, 3)
	a, err := KMeans(rows, 3, 5, 100, 99)
	require.NoError(t, err)
	b, err := KMeans(rows, 3, 5, 100, 99)
	require.NoError(t, err)
	assert.Equal(t, a.Labels, b.Labels)
	assert.Equal(t, a.Inertia, b.Inertia)
}

func TestKMeans_TooFewRows(t *testing.T) {
	_, err := KMeans([][]float64{{1}, {2}}, 3, 1, 10, 1)
	assert.Error(t, err)
}

func TestKMeans_InertiaDecreasesWithK(t *testing.T) {
	rows, _ := threeBlobs(20, 11)
	prev := -1.0
	for k := 2; k <= 6; k++ {
		res, err := KMeans(rows, k, 5, 100, 42)
		require.NoError(t, err)
		if prev >= 0 {
			assert.LessOrEqual(t, res.Inertia, prev+1e-9, "inertia rose at k=%d", k)
		}
		prev = res.Inertia
	}
}

func TestSilhouette_SeparatedBeatsMixed(t *testing.T) {
	rows, truth := threeBlobs(10, 5)

	good := Silhouette(rows, truth, 3)
	assert.Greater(t, good, 0.8)

	// Alternating labels ignore the geometry entirely.
	bad := make([]int, len(rows))
	for i := range bad {
		bad[i] = i % 3
	}
	assert.Less(t, Silhouette(rows, bad, 3), good)
}

func TestChooseK(t *testing.T) {
	diags := []model.KDiagnostic{
		{K: 2, Inertia: 100, Silhouette: 0.40},
		{K: 3, Inertia: 30, Silhouette: 0.70},
		{K: 4, Inertia: 25, Silhouette: 0.55},
		{K: 5, Inertia: 22, Silhouette: 0.50},
	}
	chosen, elbow, sil := ChooseK(diags)
	assert.Equal(t, 3, elbow)
	assert.Equal(t, 3, sil)
	assert.Equal(t, 3, chosen)
}

func TestChooseK_SilhouetteWinsDisagreement(t *testing.T) {
	diags := []model.KDiagnostic{
		{K: 2, Inertia: 100, Silhouette: 0.80},
		{K: 3, Inertia: 30, Silhouette: 0.60},
		{K: 4, Inertia: 28, Silhouette: 0.55},
	}
	chosen, elbow, sil := ChooseK(diags)
	assert.Equal(t, 3, elbow)
	assert.Equal(t, 2, sil)
	assert.Equal(t, 2, chosen)
}

func TestSilhouetteK_TieGoesToSmallerK(t *testing.T) {
	diags := []model.KDiagnostic{
		{K: 2, Inertia: 50, Silhouette: 0.6},
		{K: 3, Inertia: 40, Silhouette: 0.6},
	}
	assert.Equal(t, 2, SilhouetteK(diags))
}

func TestSweep(t *testing.T) {
	rows, _ := threeBlobs(15, 13)
	res, err := Sweep(context.Background(), rows, Params{
		KMin: 2, KMax: 6, Restarts: 5, MaxIter: 100, Seed: 42,
	})
	require.NoError(t, err)

	assert.Equal(t, 3, res.ChosenK)
	assert.Len(t, res.Candidates, 5)
	assert.Equal(t, res.ChosenK, res.Chosen.K)
	assert.Len(t, res.Chosen.Labels, len(rows))
	assert.Len(t, res.Chosen.Distances, len(rows))
}

func TestSweep_CapsKMaxToRows(t *testing.T) {
	rows := [][]float64{{0, 0}, {0, 0.1}, {10, 10}}
	res, err := Sweep(context.Background(), rows, Params{
		KMin: 2, KMax: 15, Restarts: 2, MaxIter: 50, Seed: 1,
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, res.ChosenK, 3)
}

func TestSweep_RejectsBadParams(t *testing.T) {
	rows := [][]float64{{0}, {1}, {2}}
	_, err := Sweep(context.Background(), rows, Params{KMin: 1, KMax: 3})
	assert.Error(t, err)
	_, err = Sweep(context.Background(), rows, Params{KMin: 3, KMax: 2})
	assert.Error(t, err)
	_, err = Sweep(context.Background(), nil, Params{KMin: 2, KMax: 3})
	assert.Error(t, err)
}
