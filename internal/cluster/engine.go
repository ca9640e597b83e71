package cluster

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/stadtlabor/wohnlage/internal/model"
)

// Params controls the k sweep.
type Params struct {
	KMin     int
	KMax     int
	Restarts int
	MaxIter  int
	Seed     int64
}

// SweepResult bundles the chosen clustering with the per-k diagnostics
// that justified the choice.
type SweepResult struct {
	Chosen      KMeansResult
	ChosenK     int
	ElbowK      int
	SilhouetteK int
	Candidates  []model.KDiagnostic
}

// Sweep runs k-means for every k in [KMin, KMax], records inertia and
// silhouette per candidate, and picks k by the elbow/silhouette
// reconciliation. Each k gets its own deterministic seed derived from
// Params.Seed so the sweep is reproducible end to end.
func Sweep(ctx context.Context, rows [][]float64, p Params) (*SweepResult, error) {
	if p.KMin < 2 {
		return nil, eris.Errorf("cluster: k_min must be at least 2, got %d", p.KMin)
	}
	if p.KMax < p.KMin {
		return nil, eris.Errorf("cluster: k_max %d below k_min %d", p.KMax, p.KMin)
	}
	if len(rows) == 0 {
		return nil, eris.New("cluster: no rows to cluster")
	}

	kMax := p.KMax
	if kMax > len(rows) {
		kMax = len(rows)
		zap.L().Warn("capping k_max to row count",
			zap.Int("k_max", p.KMax),
			zap.Int("rows", len(rows)),
		)
	}
	if kMax < p.KMin {
		return nil, eris.Errorf("cluster: only %d rows, need at least %d for k_min", len(rows), p.KMin)
	}

	results := make(map[int]KMeansResult, kMax-p.KMin+1)
	var diags []model.KDiagnostic
	for k := p.KMin; k <= kMax; k++ {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "cluster: sweep cancelled")
		}

		res, err := KMeans(rows, k, p.Restarts, p.MaxIter, p.Seed+int64(k))
		if err != nil {
			return nil, eris.Wrapf(err, "cluster: k=%d", k)
		}
		sil := Silhouette(rows, res.Labels, k)
		results[k] = res
		diags = append(diags, model.KDiagnostic{K: k, Inertia: res.Inertia, Silhouette: sil})

		zap.L().Debug("k-means candidate",
			zap.Int("k", k),
			zap.Float64("inertia", res.Inertia),
			zap.Float64("silhouette", sil),
			zap.Int("iterations", res.Iters),
		)
	}

	chosen, elbow, sil := ChooseK(diags)
	zap.L().Info("cluster count selected",
		zap.Int("chosen_k", chosen),
		zap.Int("elbow_k", elbow),
		zap.Int("silhouette_k", sil),
	)

	return &SweepResult{
		Chosen:      results[chosen],
		ChosenK:     chosen,
		ElbowK:      elbow,
		SilhouetteK: sil,
		Candidates:  diags,
	}, nil
}
