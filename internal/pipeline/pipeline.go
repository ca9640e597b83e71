// Package pipeline orchestrates a scoring run: geocoding, criterion
// extraction, standardization, clustering, validation and output.
package pipeline

import (
	"context"
	"strconv"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/stadtlabor/wohnlage/internal/amenity"
	"github.com/stadtlabor/wohnlage/internal/cluster"
	"github.com/stadtlabor/wohnlage/internal/config"
	"github.com/stadtlabor/wohnlage/internal/extract"
	"github.com/stadtlabor/wohnlage/internal/features"
	"github.com/stadtlabor/wohnlage/internal/geo"
	"github.com/stadtlabor/wohnlage/internal/model"
	"github.com/stadtlabor/wohnlage/internal/store"
	"github.com/stadtlabor/wohnlage/internal/validate"
	"github.com/stadtlabor/wohnlage/pkg/nominatim"
	"github.com/stadtlabor/wohnlage/pkg/ors"
)

// Pipeline wires the run phases together.
type Pipeline struct {
	cfg      *config.Config
	store    store.Store
	geocoder nominatim.Client
	router   ors.Client
	weights  config.Weights
}

// Inputs are the loaded datasets for one run. Amenities holds all
// categories together; the pipeline splits them into per-category
// indexes.
type Inputs struct {
	Addresses []model.Address
	Amenities []model.AmenityPoint
	Schedule  []model.Departure
	// ReferenceLabels maps address id to an external zone label for
	// adjusted-Rand validation. Optional.
	ReferenceLabels map[string]string
}

// New creates a Pipeline with all dependencies. A zero-valued weights
// struct disables composite scoring.
func New(cfg *config.Config, st store.Store, geocoder nominatim.Client, router ors.Client, weights config.Weights) *Pipeline {
	return &Pipeline{
		cfg:      cfg,
		store:    st,
		geocoder: geocoder,
		router:   router,
		weights:  weights,
	}
}

// result carries the clustering artifacts alongside the report so the
// persist step can write assignments and the output CSV.
type result struct {
	report      *model.RunReport
	assignments []model.ClusterAssignment
	table       *outputTable
}

// Run executes the full pipeline and returns the diagnostic report.
// Failures mark the run failed in the store before returning.
func (p *Pipeline) Run(ctx context.Context, in Inputs) (*model.RunReport, error) {
	log := zap.L().With(zap.Int("addresses", len(in.Addresses)))
	log.Info("pipeline: starting run")

	run, err := p.store.CreateRun(ctx, p.cfg.Cluster.Seed)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: create run")
	}
	log = log.With(zap.String("run_id", run.ID))

	if err := p.store.UpdateRunStatus(ctx, run.ID, model.RunStatusRunning); err != nil {
		return nil, eris.Wrap(err, "pipeline: mark run running")
	}

	res, err := p.execute(ctx, log, in)
	if err != nil {
		return nil, p.failRun(ctx, log, run.ID, err)
	}

	if err := p.store.ReplaceAssignments(ctx, run.ID, res.assignments); err != nil {
		return nil, p.failRun(ctx, log, run.ID, eris.Wrap(err, "pipeline: save assignments"))
	}
	if p.cfg.Output.Path != "" {
		if err := res.table.write(p.cfg.Output.Path); err != nil {
			return nil, p.failRun(ctx, log, run.ID, err)
		}
		if p.weights.Version > 0 {
			if err := p.writeWeights(p.cfg.Output.Path); err != nil {
				return nil, p.failRun(ctx, log, run.ID, err)
			}
		}
	}
	if err := p.store.UpdateRunReport(ctx, run.ID, res.report); err != nil {
		return nil, p.failRun(ctx, log, run.ID, eris.Wrap(err, "pipeline: save report"))
	}

	log.Info("pipeline: run complete",
		zap.Int("chosen_k", res.report.ChosenK),
		zap.Int("clustered", res.report.Clustered),
		zap.Int("excluded", res.report.Excluded.Total),
	)
	return res.report, nil
}

// failRun marks the run failed so it never lingers in status running,
// then passes err through.
func (p *Pipeline) failRun(ctx context.Context, log *zap.Logger, runID string, err error) error {
	if statusErr := p.store.UpdateRunStatus(ctx, runID, model.RunStatusFailed); statusErr != nil {
		log.Warn("pipeline: failed to mark run failed", zap.Error(statusErr))
	}
	return err
}

func (p *Pipeline) execute(ctx context.Context, log *zap.Logger, in Inputs) (*result, error) {
	if len(in.Addresses) == 0 {
		return nil, eris.New("pipeline: no addresses to score")
	}

	if p.geocoder != nil {
		matched, unmatched, err := GeocodeAddresses(ctx, p.geocoder, in.Addresses)
		if err != nil {
			return nil, err
		}
		log.Info("pipeline: geocoding done",
			zap.Int("matched", matched),
			zap.Int("unmatched", len(unmatched)),
		)
	}
	amenities, err := p.resolveStopCoords(ctx, log, in.Amenities)
	if err != nil {
		return nil, err
	}
	in.Amenities = amenities

	registry, err := p.buildRegistry(log, in)
	if err != nil {
		return nil, err
	}
	criteria := registry.Criteria()
	if len(criteria) == 0 {
		return nil, eris.New("pipeline: no criteria could be registered, all amenity datasets are empty")
	}

	if err := registry.Run(ctx, in.Addresses, p.cfg.Extract.Workers); err != nil {
		return nil, err
	}

	matrix := features.Assemble(in.Addresses, criteria)
	included, exclusion := features.ClusterInput(matrix)
	if len(included) == 0 {
		return nil, emptyInputError(exclusion)
	}

	stats, err := p.referenceStats(ctx, matrix, included)
	if err != nil {
		return nil, err
	}
	std, err := features.Standardize(matrix, included, stats)
	if err != nil {
		return nil, err
	}

	sweep, err := cluster.Sweep(ctx, std.Rows, cluster.Params{
		KMin:     p.cfg.Cluster.KMin,
		KMax:     p.cfg.Cluster.KMax,
		Restarts: p.cfg.Cluster.Restarts,
		MaxIter:  p.cfg.Cluster.MaxIter,
		Seed:     p.cfg.Cluster.Seed,
	})
	if err != nil {
		return nil, err
	}

	report := &model.RunReport{
		ChosenK:     sweep.ChosenK,
		ElbowK:      sweep.ElbowK,
		SilhouetteK: sweep.SilhouetteK,
		Candidates:  sweep.Candidates,
		Excluded:    exclusion,
		Degenerate:  std.Degenerate,
		Addresses:   len(in.Addresses),
		Clustered:   len(included),
	}

	if db, err := validate.DaviesBouldin(std.Rows, sweep.Chosen.Labels, sweep.Chosen.Centroids); err == nil {
		report.DaviesBouldin = db
	} else {
		log.Warn("pipeline: davies-bouldin unavailable", zap.Error(err))
	}

	assignments := make([]model.ClusterAssignment, len(included))
	byID := make(map[string]model.ClusterAssignment, len(included))
	for i, rowIdx := range included {
		a := model.ClusterAssignment{
			AddressID:    matrix.Rows[rowIdx].AddressID,
			Cluster:      sweep.Chosen.Labels[i],
			CentroidDist: sweep.Chosen.Distances[i],
		}
		assignments[i] = a
		byID[a.AddressID] = a
	}

	p.validateClusters(log, in, matrix, included, sweep, report)

	var scores map[string]float64
	if p.weights.Version > 0 {
		values, err := features.WeightedScore(std, p.weights)
		if err != nil {
			return nil, err
		}
		scores = make(map[string]float64, len(values))
		for i, rowIdx := range included {
			scores[matrix.Rows[rowIdx].AddressID] = values[i]
		}
		report.WeightsVersion = p.weights.Version
	}

	return &result{
		report:      report,
		assignments: assignments,
		table: &outputTable{
			matrix:      matrix,
			addresses:   in.Addresses,
			std:         std,
			assignments: byID,
			scores:      scores,
		},
	}, nil
}

// resolveStopCoords geocodes transit stops that come without
// coordinates, using the stop-name POI phrasing. Stops that cannot be
// resolved are dropped before the index is built; everything else
// passes through untouched.
func (p *Pipeline) resolveStopCoords(ctx context.Context, log *zap.Logger, points []model.AmenityPoint) ([]model.AmenityPoint, error) {
	resolved := points[:0:0]
	pending := make(map[string][]model.AmenityPoint)
	var dropped int
	for _, pt := range points {
		if pt.Category != model.CategoryStop || pt.Coord != (geo.Coord{}) {
			resolved = append(resolved, pt)
			continue
		}
		if p.geocoder == nil {
			dropped++
			continue
		}
		kind := pt.Attributes["stop_kind"]
		if kind == "" {
			kind = "bus_stop"
		}
		pending[kind] = append(pending[kind], pt)
	}
	if dropped > 0 {
		log.Warn("pipeline: stops without coordinates dropped, no geocoder configured",
			zap.Int("count", dropped),
		)
	}
	for kind, stops := range pending {
		geocoded, err := GeocodeStops(ctx, p.geocoder, stops, kind)
		if err != nil {
			return nil, err
		}
		resolved = append(resolved, geocoded...)
	}
	return resolved, nil
}

// buildRegistry assembles the extractor set from the available
// datasets. A category with zero points is skipped with a warning
// instead of marking every address missing and emptying the run.
func (p *Pipeline) buildRegistry(log *zap.Logger, in Inputs) (*extract.Registry, error) {
	registry := extract.NewRegistry()

	var stopIndex *amenity.Index
	for _, cat := range []model.Category{
		model.CategoryKita,
		model.CategorySchool,
		model.CategoryRetail,
		model.CategoryStop,
	} {
		index := amenity.NewIndex(cat, in.Amenities)
		if index.Len() == 0 {
			log.Warn("pipeline: amenity category has no points, skipping",
				zap.String("category", string(cat)),
			)
			continue
		}
		if cat == model.CategoryStop {
			stopIndex = index
		}
		dd := extract.NewDistanceDensity(index, p.router, p.cfg.Extract.RadiiM, p.cfg.Extract.PrefilterM)
		if err := registry.Register(dd); err != nil {
			return nil, err
		}
	}

	if stopIndex != nil && len(in.Schedule) > 0 {
		windows, err := p.transitWindows()
		if err != nil {
			return nil, err
		}
		tf := extract.NewTransitFrequency(stopIndex, in.Schedule, windows, p.cfg.Transit.Statistic)
		if err := registry.Register(tf); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func (p *Pipeline) transitWindows() ([]extract.Window, error) {
	var windows []extract.Window
	for _, w := range []struct{ name, span string }{
		{"morning", p.cfg.Transit.MorningWindow},
		{"evening", p.cfg.Transit.EveningWindow},
	} {
		if w.span == "" {
			continue
		}
		parsed, err := extract.ParseWindow(w.name, w.span)
		if err != nil {
			return nil, err
		}
		windows = append(windows, parsed)
	}
	return windows, nil
}

// referenceStats picks the z-score reference population: the run's own
// sample, or a frozen baseline from the store.
func (p *Pipeline) referenceStats(ctx context.Context, m *features.Matrix, included []int) (map[string]model.CriterionStats, error) {
	if p.cfg.Standardize.Mode != "baseline" {
		return features.SampleStats(m, included), nil
	}

	var baseline *model.BaselinePopulation
	var err error
	if p.cfg.Standardize.BaselineID == "" {
		baseline, err = p.store.LatestBaseline(ctx)
	} else {
		var version int
		version, err = strconv.Atoi(p.cfg.Standardize.BaselineID)
		if err != nil {
			return nil, eris.Wrapf(err, "pipeline: baseline id %q", p.cfg.Standardize.BaselineID)
		}
		baseline, err = p.store.GetBaseline(ctx, version)
	}
	if err != nil {
		return nil, err
	}
	if baseline == nil {
		return nil, eris.New("pipeline: baseline mode configured but no baseline is recorded")
	}
	zap.L().Info("pipeline: standardizing against baseline",
		zap.Int("version", baseline.Version),
		zap.String("baseline_run", baseline.RunID),
	)
	return baseline.Stats, nil
}

// validateClusters runs the optional diagnostics: spatial coherence
// and, when reference labels cover the clustered rows, adjusted Rand.
// Both are advisory; failure degrades the report, not the run.
func (p *Pipeline) validateClusters(log *zap.Logger, in Inputs, m *features.Matrix, included []int, sweep *cluster.SweepResult, report *model.RunReport) {
	coords := make(map[string]*model.Address, len(in.Addresses))
	for i := range in.Addresses {
		coords[in.Addresses[i].ID] = &in.Addresses[i]
	}

	var placements []validate.Placement
	for i, rowIdx := range included {
		addr := coords[m.Rows[rowIdx].AddressID]
		if addr == nil || addr.Coord == nil {
			continue
		}
		placements = append(placements, validate.Placement{
			AddressID: addr.ID,
			Coord:     *addr.Coord,
			Cluster:   sweep.Chosen.Labels[i],
		})
	}
	if coh, err := validate.SpatialCoherence(placements, p.cfg.Validate.SpatialNeighbors, p.cfg.Validate.CoherenceThreshold); err == nil {
		report.Coherence = coh.PerCluster
		report.Dispersed = coh.Dispersed
	} else {
		log.Warn("pipeline: spatial coherence unavailable", zap.Error(err))
	}

	if len(in.ReferenceLabels) == 0 {
		return
	}
	// Reference labels are strings; map them to dense ints over the
	// rows both partitions cover.
	labelIDs := make(map[string]int)
	var labels, reference []int
	for i, rowIdx := range included {
		ref, ok := in.ReferenceLabels[m.Rows[rowIdx].AddressID]
		if !ok {
			continue
		}
		id, ok := labelIDs[ref]
		if !ok {
			id = len(labelIDs)
			labelIDs[ref] = id
		}
		labels = append(labels, sweep.Chosen.Labels[i])
		reference = append(reference, id)
	}
	if ari, err := validate.AdjustedRand(labels, reference); err == nil {
		report.AdjustedRand = &ari
	} else {
		log.Warn("pipeline: adjusted rand unavailable", zap.Error(err))
	}
}

// emptyInputError explains which exclusion emptied the cluster input,
// so a run that dies here names the dataset to fix.
func emptyInputError(report model.ExclusionReport) error {
	var dominant model.MissingReason
	var max int
	for reason, n := range report.ByReason {
		if n > max {
			dominant, max = reason, n
		}
	}
	return eris.Errorf(
		"pipeline: no addresses left for clustering: all %d excluded, dominant reason %q (%d addresses)",
		report.Total, dominant, max,
	)
}
