// Package extract turns amenity indexes, routing results and
// schedule data into per-address criterion values. Criteria are a
// registered set of named extractors, not free-form columns; a new
// criterion means a new Extractor implementation.
package extract

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/stadtlabor/wohnlage/internal/model"
)

// Result is the output of one extractor for one address.
type Result struct {
	// Values maps criterion name to the observed value or a typed
	// missing marker.
	Values map[string]model.Value
	// RouteGeometry holds GeoJSON LineStrings for nearest-distance
	// criteria, keyed by criterion name.
	RouteGeometry map[string]string
}

// Extractor computes a fixed set of criteria for an address. Data
// problems (unroutable address, empty category) are missing values in
// the Result; the error return is for infrastructure failures only.
type Extractor interface {
	Name() string
	Criteria() []model.Criterion
	Extract(ctx context.Context, addr model.Address) (Result, error)
}

// Registry holds the extractors of a run in registration order.
type Registry struct {
	extractors []Extractor
	names      map[string]bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{names: make(map[string]bool)}
}

// Register adds an extractor. Duplicate extractor or criterion names
// are configuration mistakes and rejected.
func (r *Registry) Register(e Extractor) error {
	if r.names[e.Name()] {
		return eris.Errorf("extract: duplicate extractor %q", e.Name())
	}
	for _, c := range e.Criteria() {
		if r.names[c.Name] {
			return eris.Errorf("extract: duplicate criterion %q", c.Name)
		}
		r.names[c.Name] = true
	}
	r.names[e.Name()] = true
	r.extractors = append(r.extractors, e)
	return nil
}

// Criteria returns all registered criterion definitions in order.
func (r *Registry) Criteria() []model.Criterion {
	var out []model.Criterion
	for _, e := range r.extractors {
		out = append(out, e.Criteria()...)
	}
	return out
}

// Run applies every extractor to every address, writing values into
// addr.Criteria. Addresses are independent, so extraction runs on a
// bounded worker pool; each worker owns one address and the indexes
// are read-only.
func (r *Registry) Run(ctx context.Context, addrs []model.Address, workers int) error {
	if workers < 1 {
		workers = 1
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i := range addrs {
		addr := &addrs[i]
		g.Go(func() error {
			for _, e := range r.extractors {
				res, err := e.Extract(ctx, *addr)
				if err != nil {
					return eris.Wrapf(err, "extract: %s for address %s", e.Name(), addr.ID)
				}
				if addr.Criteria == nil {
					addr.Criteria = make(map[string]model.Value)
				}
				for name, v := range res.Values {
					addr.Criteria[name] = v
				}
				for name, geometry := range res.RouteGeometry {
					if addr.RouteGeometry == nil {
						addr.RouteGeometry = make(map[string]string)
					}
					addr.RouteGeometry[name] = geometry
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	zap.L().Info("extraction complete",
		zap.Int("addresses", len(addrs)),
		zap.Int("extractors", len(r.extractors)),
	)
	return nil
}

// missingAll builds a Result marking every criterion of the extractor
// missing with one reason.
func missingAll(criteria []model.Criterion, reason model.MissingReason) Result {
	values := make(map[string]model.Value, len(criteria))
	for _, c := range criteria {
		values[c.Name] = model.Missing(reason)
	}
	return Result{Values: values}
}
