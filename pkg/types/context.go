// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// WriteMode selects how a context write combines with the existing
// active version of the same key.
type WriteMode string

const (
	// ModeOverwrite supersedes the active version with the new payload.
	ModeOverwrite WriteMode = "overwrite"

	// ModeAppend merges the new payload into the active version's
	// payload: strings concatenate, arrays concatenate, objects
	// shallow-merge with new keys winning. Incompatible payload types
	// degrade to overwrite.
	ModeAppend WriteMode = "append"
)

// ContextVersion is the metadata row for one immutable version of a
// context artifact keyed by (run, agent, key). At most one version per
// key is active at a time; overwrites deactivate, never delete.
type ContextVersion struct {
	RunID   string `json:"run_id" yaml:"run_id"`
	AgentID string `json:"agent_id" yaml:"agent_id"`
	Key     string `json:"key" yaml:"key"`

	// Version is a monotonically increasing integer per (run, agent, key),
	// never reused even after a logical overwrite.
	Version int `json:"version" yaml:"version"`

	Active    bool   `json:"active" yaml:"active"`
	SizeBytes int64  `json:"size_bytes" yaml:"size_bytes"`

	// Summary is a short payload preview so listings never need to
	// materialize large artifacts.
	Summary string `json:"summary" yaml:"summary"`

	Metadata  map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at" yaml:"created_at"`
}
