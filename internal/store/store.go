// Package store persists runs, cluster assignments, baselines and the
// geocode/route caches behind one interface with SQLite and Postgres
// implementations.
package store

import (
	"context"

	"github.com/stadtlabor/wohnlage/internal/model"
	"github.com/stadtlabor/wohnlage/pkg/nominatim"
	"github.com/stadtlabor/wohnlage/pkg/ors"
)

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status model.RunStatus `json:"status,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for the scoring pipeline.
// Implementations also satisfy nominatim.Cache and ors.Cache so the
// external clients write through the same database.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, seed int64) (*model.Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error
	// UpdateRunReport stores the diagnostic report and marks the run
	// complete.
	UpdateRunReport(ctx context.Context, runID string, report *model.RunReport) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Geocode cache. Non-matches are cached too, so a bad address is
	// only ever sent upstream once.
	GetGeocode(ctx context.Context, key string) (*nominatim.Result, bool, error)
	PutGeocode(ctx context.Context, key string, r *nominatim.Result) error
	PutGeocodeBatch(ctx context.Context, entries map[string]*nominatim.Result) error

	// Route cache
	GetRoute(ctx context.Context, key string) (*ors.Route, bool, error)
	PutRoute(ctx context.Context, key string, r *ors.Route) error

	// Assignments. ReplaceAssignments drops any previous assignments
	// for the run; output is full-overwrite, never append.
	ReplaceAssignments(ctx context.Context, runID string, assignments []model.ClusterAssignment) error
	GetAssignments(ctx context.Context, runID string) ([]model.ClusterAssignment, error)

	// Baselines
	SaveBaseline(ctx context.Context, b *model.BaselinePopulation) error
	GetBaseline(ctx context.Context, version int) (*model.BaselinePopulation, error)
	LatestBaseline(ctx context.Context) (*model.BaselinePopulation, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

var (
	_ nominatim.Cache = Store(nil)
	_ ors.Cache       = Store(nil)
)
