package model

import "time"

// RunStatus tracks pipeline run lifecycle.
type RunStatus string

const (
	RunStatusQueued   RunStatus = "queued"
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Run is one full pipeline execution. Assignments are overwritten,
// never appended, when a run is repeated.
type Run struct {
	ID        string     `json:"id"`
	Status    RunStatus  `json:"status"`
	Seed      int64      `json:"seed"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	Report    *RunReport `json:"report,omitempty"`
}

// KDiagnostic holds the model-selection metrics for one candidate k.
type KDiagnostic struct {
	K          int     `json:"k"`
	Inertia    float64 `json:"inertia"`
	Silhouette float64 `json:"silhouette"`
}

// ExclusionReport accounts for every address kept out of the cluster
// input. Excluded addresses stay in the final output, flagged.
type ExclusionReport struct {
	Total      int                   `json:"total"`
	ByReason   map[MissingReason]int `json:"by_reason,omitempty"`
	ByCategory map[string]int        `json:"by_category,omitempty"`
	AddressIDs []string              `json:"address_ids,omitempty"`
}

// RunReport is the diagnostic report attached to a completed run.
type RunReport struct {
	ChosenK       int             `json:"chosen_k"`
	ElbowK        int             `json:"elbow_k"`
	SilhouetteK   int             `json:"silhouette_k"`
	Candidates    []KDiagnostic   `json:"candidates"`
	DaviesBouldin float64         `json:"davies_bouldin"`
	AdjustedRand  *float64        `json:"adjusted_rand,omitempty"`
	Excluded      ExclusionReport `json:"excluded"`
	// Degenerate lists zero-variance criteria whose z-scores were
	// forced to 0.
	Degenerate []string `json:"degenerate,omitempty"`
	// Coherence is the per-cluster fraction of addresses whose
	// spatial neighbors share the cluster label.
	Coherence map[int]float64 `json:"coherence,omitempty"`
	// Dispersed lists clusters whose coherence fell below the
	// configured threshold.
	Dispersed []int `json:"dispersed,omitempty"`
	// WeightsVersion records the criterion-weight configuration the
	// run was scored with.
	WeightsVersion int `json:"weights_version,omitempty"`
	Addresses      int `json:"addresses"`
	Clustered      int `json:"clustered"`
}
