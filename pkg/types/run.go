// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// RunStatus is the lifecycle state of an analysis run.
type RunStatus string

const (
	RunQueued    RunStatus = "queued"
	RunRunning   RunStatus = "running"
	RunConverged RunStatus = "converged"
	// RunExhausted means the run reached its iteration budget without the
	// top-ranked gaps stabilizing. It is a legitimate terminal state, not
	// an error.
	RunExhausted RunStatus = "exhausted"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunConverged, RunExhausted, RunFailed, RunCancelled:
		return true
	}
	return false
}

// RunConfig holds the per-run tuning knobs.
type RunConfig struct {
	// MaxIterations bounds the Micro→Meso→Meta loop (default 5).
	MaxIterations int `json:"max_iterations" yaml:"max_iterations"`

	// ConvergenceThreshold is the Jaccard similarity at or above which
	// successive iterations' top-ranked gaps count as stable (default 0.70).
	ConvergenceThreshold float64 `json:"convergence_threshold" yaml:"convergence_threshold"`

	// MinClusterSize is the smallest admissible thematic cluster (default 2).
	MinClusterSize int `json:"min_cluster_size" yaml:"min_cluster_size"`

	// MaxClusters caps the number of clusters per iteration (default 5).
	MaxClusters int `json:"max_clusters" yaml:"max_clusters"`

	// GapLimit is how many ranked gaps the convergence test compares
	// between iterations (default 10).
	GapLimit int `json:"gap_limit" yaml:"gap_limit"`

	// FailureThreshold is the Micro failure rate above which an iteration
	// aborts the run instead of proceeding on insufficient data (default 0.3).
	FailureThreshold float64 `json:"failure_threshold" yaml:"failure_threshold"`
}

// WithDefaults fills zero-valued fields with their documented defaults.
func (c RunConfig) WithDefaults() RunConfig {
	if c.MaxIterations <= 0 {
		c.MaxIterations = 5
	}
	if c.ConvergenceThreshold <= 0 {
		c.ConvergenceThreshold = 0.70
	}
	if c.MinClusterSize <= 0 {
		c.MinClusterSize = 2
	}
	if c.MaxClusters <= 0 {
		c.MaxClusters = 5
	}
	if c.GapLimit <= 0 {
		c.GapLimit = 10
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 0.3
	}
	return c
}

// Merge overlays non-zero fields of override onto c.
func (c RunConfig) Merge(override RunConfig) RunConfig {
	if override.MaxIterations > 0 {
		c.MaxIterations = override.MaxIterations
	}
	if override.ConvergenceThreshold > 0 {
		c.ConvergenceThreshold = override.ConvergenceThreshold
	}
	if override.MinClusterSize > 0 {
		c.MinClusterSize = override.MinClusterSize
	}
	if override.MaxClusters > 0 {
		c.MaxClusters = override.MaxClusters
	}
	if override.GapLimit > 0 {
		c.GapLimit = override.GapLimit
	}
	if override.FailureThreshold > 0 {
		c.FailureThreshold = override.FailureThreshold
	}
	return c
}

// Run is one end-to-end multi-iteration analysis session over a paper set.
type Run struct {
	// ID is a UUID assigned when the run is created.
	ID string `json:"id" yaml:"id"`

	// Topic is the research domain or query the run analyzes.
	Topic string `json:"topic" yaml:"topic"`

	// Config holds the per-run tuning knobs.
	Config RunConfig `json:"config" yaml:"config"`

	// Iteration is the current (1-based) iteration number.
	Iteration int `json:"iteration" yaml:"iteration"`

	// Status is the lifecycle state.
	Status RunStatus `json:"status" yaml:"status"`

	// Error is the short taxonomy reason when Status is failed.
	Error string `json:"error,omitempty" yaml:"error,omitempty"`

	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}
