package pipeline

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/stadtlabor/wohnlage/internal/features"
	"github.com/stadtlabor/wohnlage/internal/model"
)

// RecordBaseline extracts criteria for the given inputs and freezes
// the resulting per-criterion statistics as a new baseline version.
// Later runs in baseline mode standardize against it, so scores stay
// comparable while the address list evolves.
func (p *Pipeline) RecordBaseline(ctx context.Context, in Inputs, version int) (*model.BaselinePopulation, error) {
	if version < 1 {
		return nil, eris.Errorf("pipeline: baseline version must be positive, got %d", version)
	}
	if len(in.Addresses) == 0 {
		return nil, eris.New("pipeline: no addresses for baseline")
	}

	log := zap.L().With(zap.Int("baseline_version", version))

	run, err := p.store.CreateRun(ctx, p.cfg.Cluster.Seed)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: create baseline run")
	}
	if err := p.store.UpdateRunStatus(ctx, run.ID, model.RunStatusRunning); err != nil {
		return nil, eris.Wrap(err, "pipeline: mark baseline run running")
	}

	baseline, err := p.computeBaseline(ctx, log, in, version, run.ID)
	if err != nil {
		if statusErr := p.store.UpdateRunStatus(ctx, run.ID, model.RunStatusFailed); statusErr != nil {
			log.Warn("pipeline: failed to mark baseline run failed", zap.Error(statusErr))
		}
		return nil, err
	}

	if err := p.store.SaveBaseline(ctx, baseline); err != nil {
		return nil, err
	}
	if err := p.store.UpdateRunStatus(ctx, run.ID, model.RunStatusComplete); err != nil {
		return nil, eris.Wrap(err, "pipeline: mark baseline run complete")
	}

	log.Info("pipeline: baseline recorded",
		zap.String("run_id", run.ID),
		zap.Int("criteria", len(baseline.Stats)),
	)
	return baseline, nil
}

func (p *Pipeline) computeBaseline(ctx context.Context, log *zap.Logger, in Inputs, version int, runID string) (*model.BaselinePopulation, error) {
	if p.geocoder != nil {
		if _, _, err := GeocodeAddresses(ctx, p.geocoder, in.Addresses); err != nil {
			return nil, err
		}
	}

	registry, err := p.buildRegistry(log, in)
	if err != nil {
		return nil, err
	}
	criteria := registry.Criteria()
	if len(criteria) == 0 {
		return nil, eris.New("pipeline: no criteria could be registered for baseline")
	}
	if err := registry.Run(ctx, in.Addresses, p.cfg.Extract.Workers); err != nil {
		return nil, err
	}

	matrix := features.Assemble(in.Addresses, criteria)
	included, exclusion := features.ClusterInput(matrix)
	if len(included) == 0 {
		return nil, emptyInputError(exclusion)
	}

	return &model.BaselinePopulation{
		Version: version,
		RunID:   runID,
		Stats:   features.SampleStats(matrix, included),
	}, nil
}
