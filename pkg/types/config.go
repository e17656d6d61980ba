// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// HTTPConfig holds shared HTTP settings used by components that make
// network requests.
type HTTPConfig struct {
	// Timeout is the HTTP request timeout.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// UserAgent is the User-Agent header sent with HTTP requests
	// (e.g. "gap-engine/0.1").
	UserAgent string `json:"user_agent" yaml:"user_agent"`
}

// AIConfig holds shared settings for components that call the
// text-generation API.
type AIConfig struct {
	// Model is the AI model identifier (e.g. "claude-sonnet-4-5-20250929").
	Model string `json:"model" yaml:"model"`

	// APIKey is the authentication key for the AI API.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty"`

	// MaxRetries is the number of retry attempts for rate-limited API
	// calls (default 3).
	MaxRetries int `json:"max_retries" yaml:"max_retries"`

	// Timeout bounds one generation call (default 90s).
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
}

// DispatchConfig holds settings for the job dispatcher.
type DispatchConfig struct {
	// AnalysisConcurrency is the concurrency ceiling of the LLM-bound
	// analysis queue (default 4).
	AnalysisConcurrency int `json:"analysis_concurrency" yaml:"analysis_concurrency"`

	// MaxAttempts is how many times a failed job re-executes before it
	// is marked failed (default 3).
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts"`

	// BackoffBase is the first retry delay; delays double per attempt
	// up to BackoffMax.
	BackoffBase time.Duration `json:"backoff_base" yaml:"backoff_base"`
	BackoffMax  time.Duration `json:"backoff_max" yaml:"backoff_max"`
}

// ContextStoreConfig holds settings for the versioned context store.
type ContextStoreConfig struct {
	// DataDir is the base directory holding the version index database
	// and blob payloads.
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// MaxArtifactBytes is the hard per-artifact size limit
	// (default 10 MiB).
	MaxArtifactBytes int64 `json:"max_artifact_bytes" yaml:"max_artifact_bytes"`

	// RetentionAge is the minimum age before superseded versions become
	// eligible for a retention sweep (default 720h).
	RetentionAge time.Duration `json:"retention_age" yaml:"retention_age"`
}

// OrchestratorConfig holds settings for the run controller.
type OrchestratorConfig struct {
	// Run holds the default per-run knobs; a run's own config overrides.
	Run RunConfig `json:"run" yaml:"run"`

	// IterationTimeout bounds the wait for one iteration's micro cohort
	// so a stuck job counts as failed rather than blocking the run
	// (default 30m).
	IterationTimeout time.Duration `json:"iteration_timeout" yaml:"iteration_timeout"`
}

// EngineConfig groups all component configurations.
type EngineConfig struct {
	// DataDir is the base directory for the engine database and blobs.
	DataDir string `json:"data_dir" yaml:"data_dir"`

	AI           AIConfig           `json:"ai" yaml:"ai"`
	Dispatch     DispatchConfig     `json:"dispatch" yaml:"dispatch"`
	ContextStore ContextStoreConfig `json:"context_store" yaml:"context_store"`
	Orchestrator OrchestratorConfig `json:"orchestrator" yaml:"orchestrator"`
}
