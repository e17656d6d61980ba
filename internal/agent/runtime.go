// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package agent executes the three analysis tiers. A micro agent
// extracts findings from one paper, a meso agent clusters one
// iteration's micro outputs, and a meta agent ranks gaps and decides
// convergence. Each agent owns its own lifecycle row: only one worker
// holds the claim at a time, a dispatcher retry reclaims a failed
// agent and re-runs the full unit of work, and a failed agent leaves
// no context artifact behind.
package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pdiddy/gap-engine/internal/confidence"
	"github.com/pdiddy/gap-engine/internal/contextstore"
	"github.com/pdiddy/gap-engine/internal/store"
	"github.com/pdiddy/gap-engine/internal/textgen"
	"github.com/pdiddy/gap-engine/pkg/types"
)

// maxExpectedEvidence calibrates the diminishing-returns evidence score:
// ten extracted findings from one paper count as full evidence.
const maxExpectedEvidence = 10

// fallbackProviderConfidence is the provider score assigned to outputs
// produced by the keyword fallback path instead of the text-generation
// collaborator. Low by construction so fallback results classify as
// low confidence.
const fallbackProviderConfidence = 0.3

// Runtime holds the collaborators shared by all agents of a process.
// Construct one at startup and pass it by reference; there is no
// package-level instance.
type Runtime struct {
	store    *store.Store
	contexts *contextstore.Store
	gen      textgen.Generator
	calc     *confidence.Calculator
	logger   *zap.Logger
}

// NewRuntime wires an agent runtime. A nil logger is replaced with a
// no-op one.
func NewRuntime(st *store.Store, contexts *contextstore.Store, gen textgen.Generator, calc *confidence.Calculator, logger *zap.Logger) *Runtime {
	if logger == nil {
		logger = zap.NewNop()
	}
	if calc == nil {
		calc = confidence.NewCalculator()
	}
	return &Runtime{
		store:    st,
		contexts: contexts,
		gen:      gen,
		calc:     calc,
		logger:   logger,
	}
}

// execute drives one agent through its lifecycle: claim it, run fn,
// and record the terminal state. fn must not write context artifacts
// until it is certain to succeed; a failure here records only the
// taxonomy label, never raw provider text.
func (r *Runtime) execute(ctx context.Context, a *types.Agent, fn func(context.Context) error) error {
	if err := r.store.MarkAgentActive(ctx, a.ID); err != nil {
		return fmt.Errorf("claiming agent %s: %w", a.ID, err)
	}
	a.Status = types.AgentActive
	start := time.Now()

	logger := r.logger.With(
		zap.String("run", a.RunID),
		zap.String("agent", a.ID),
		zap.String("tier", string(a.Tier)),
		zap.Int("iteration", a.Iteration),
	)
	logger.Info("agent started")

	if err := fn(ctx); err != nil {
		label := taxonomyLabel(err)
		if markErr := r.store.MarkAgentFailed(ctx, a.ID, label); markErr != nil {
			logger.Error("recording agent failure", zap.Error(markErr))
		}
		if logErr := r.store.LogEvent(ctx, a.RunID, a.ID, "agent_failed", label); logErr != nil {
			logger.Error("logging agent failure", zap.Error(logErr))
		}
		a.Status = types.AgentFailed
		a.Error = label
		logger.Warn("agent failed", zap.String("reason", label), zap.Error(err))
		return err
	}

	if err := r.store.MarkAgentCompleted(ctx, a.ID); err != nil {
		return fmt.Errorf("completing agent %s: %w", a.ID, err)
	}
	a.Status = types.AgentCompleted
	logger.Info("agent completed", zap.Duration("elapsed", time.Since(start)))
	return nil
}

// taxonomyLabel reduces an error to its short classification. Status
// surfaces expose these labels, not provider error text.
func taxonomyLabel(err error) string {
	switch {
	case errors.Is(err, textgen.ErrProviderUnavailable):
		return "provider_unavailable"
	case errors.Is(err, textgen.ErrSafetyBlocked):
		return "safety_blocked"
	case errors.Is(err, textgen.ErrTimeout):
		return "timeout"
	case errors.Is(err, contextstore.ErrSizeLimitExceeded):
		return "size_limit_exceeded"
	case errors.Is(err, contextstore.ErrVersionConflict):
		return "version_conflict"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "internal"
	}
}
