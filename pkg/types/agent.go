// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// AgentTier identifies which level of the analysis hierarchy an agent
// belongs to: per-paper extraction, per-iteration clustering, or
// per-iteration synthesis.
type AgentTier string

const (
	TierMicro AgentTier = "micro"
	TierMeso  AgentTier = "meso"
	TierMeta  AgentTier = "meta"
)

// AgentStatus is the lifecycle state of one agent.
// Transitions: pending → active → completed | failed. The pending→active
// transition happens exactly once; one worker owns one agent.
type AgentStatus string

const (
	AgentPending   AgentStatus = "pending"
	AgentActive    AgentStatus = "active"
	AgentCompleted AgentStatus = "completed"
	AgentFailed    AgentStatus = "failed"
)

// Agent is one executed unit of work within a run.
type Agent struct {
	// ID is a UUID assigned when the agent's job is enqueued.
	ID string `json:"id" yaml:"id"`

	// RunID is the owning run.
	RunID string `json:"run_id" yaml:"run_id"`

	// Tier is micro, meso, or meta.
	Tier AgentTier `json:"tier" yaml:"tier"`

	// Iteration is the run iteration this agent executes under.
	Iteration int `json:"iteration" yaml:"iteration"`

	// Status is the lifecycle state.
	Status AgentStatus `json:"status" yaml:"status"`

	// StartedAt is set on the pending→active transition.
	StartedAt time.Time `json:"started_at,omitempty" yaml:"started_at,omitempty"`

	// CompletedAt is set on transition to a terminal state.
	CompletedAt time.Time `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`

	// ExecutionTime is CompletedAt minus StartedAt.
	ExecutionTime time.Duration `json:"execution_time,omitempty" yaml:"execution_time,omitempty"`

	// Error is the failure reason when Status is failed.
	Error string `json:"error,omitempty" yaml:"error,omitempty"`

	// Metadata carries free-form labels, e.g. the paper title a micro
	// agent is working on.
	Metadata map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}
