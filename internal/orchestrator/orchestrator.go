// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package orchestrator drives a run through repeated Micro→Meso→Meta
// iterations until the ranked gaps stabilize, the iteration budget runs
// out, or too many extractions fail. The meso tier never starts before
// every admitted micro job of the iteration is terminal; that barrier
// is hard, bounded only by the iteration timeout.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pdiddy/gap-engine/internal/agent"
	"github.com/pdiddy/gap-engine/internal/dispatch"
	"github.com/pdiddy/gap-engine/internal/store"
	"github.com/pdiddy/gap-engine/pkg/types"
)

// Queue names registered on the dispatcher. Analysis carries the
// LLM-bound micro cohort; synthesis carries the per-iteration meso and
// meta singletons.
const (
	QueueAnalysis  = "analysis"
	QueueSynthesis = "synthesis"
)

const defaultIterationTimeout = 30 * time.Minute

// ErrInsufficientData means too many micro extractions failed for the
// iteration's results to mean anything; the run aborts instead of
// clustering noise.
var ErrInsufficientData = errors.New("insufficient data to proceed")

// errRunCancelled stops the iteration loop cleanly after an external
// cancel; it never surfaces to callers.
var errRunCancelled = errors.New("run cancelled")

// Orchestrator is the run controller. Construct one per process and
// share it; all state lives in the store.
type Orchestrator struct {
	store    *store.Store
	runtime  *agent.Runtime
	dispatch *dispatch.Dispatcher
	cfg      types.OrchestratorConfig
	logger   *zap.Logger
}

// New wires an orchestrator. The dispatcher must have the QueueAnalysis
// and QueueSynthesis queues registered.
func New(st *store.Store, rt *agent.Runtime, d *dispatch.Dispatcher, cfg types.OrchestratorConfig, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.IterationTimeout <= 0 {
		cfg.IterationTimeout = defaultIterationTimeout
	}
	return &Orchestrator{
		store:    st,
		runtime:  rt,
		dispatch: d,
		cfg:      cfg,
		logger:   logger,
	}
}

// StartRun records a new run in the queued state. Execute drives it.
func (o *Orchestrator) StartRun(ctx context.Context, topic string, cfg types.RunConfig) (*types.Run, error) {
	run := &types.Run{
		ID:     uuid.NewString(),
		Topic:  topic,
		Config: o.cfg.Run.Merge(cfg).WithDefaults(),
		Status: types.RunQueued,
	}
	if err := o.store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("creating run: %w", err)
	}
	if err := o.store.LogEvent(ctx, run.ID, "", "run_created", topic); err != nil {
		o.logger.Error("logging run creation", zap.Error(err))
	}
	return run, nil
}

// Execute drives one run to a terminal state. It returns nil when the
// run ends in any legitimate terminal state (converged, exhausted,
// cancelled) and an error only for failed runs or infrastructure
// trouble.
func (o *Orchestrator) Execute(ctx context.Context, runID string, papers []*types.Paper) error {
	run, err := o.store.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("loading run: %w", err)
	}
	if len(papers) == 0 {
		o.failRun(ctx, runID, "no papers")
		return fmt.Errorf("run %s has no papers", runID)
	}

	if err := o.store.TransitionRun(ctx, runID, types.RunQueued, types.RunRunning, ""); err != nil {
		return fmt.Errorf("starting run: %w", err)
	}
	logger := o.logger.With(zap.String("run", runID), zap.String("topic", run.Topic))
	logger.Info("run started",
		zap.Int("papers", len(papers)),
		zap.Int("max_iterations", run.Config.MaxIterations))

	for iteration := 1; iteration <= run.Config.MaxIterations; iteration++ {
		if cancelled, err := o.isCancelled(ctx, runID); err != nil {
			return err
		} else if cancelled {
			logger.Info("run cancelled, stopping before iteration", zap.Int("iteration", iteration))
			return nil
		}

		if err := o.store.SetRunIteration(ctx, runID, iteration); err != nil {
			return fmt.Errorf("advancing iteration: %w", err)
		}
		logger.Info("iteration started", zap.Int("iteration", iteration))

		meta, err := o.runIteration(ctx, run, iteration, papers, logger)
		if errors.Is(err, errRunCancelled) {
			logger.Info("run cancelled mid-iteration, in-flight work kept", zap.Int("iteration", iteration))
			return nil
		}
		if err != nil {
			label := "iteration failed"
			if errors.Is(err, ErrInsufficientData) {
				label = "insufficient data"
			}
			o.failRun(ctx, runID, label)
			return err
		}

		if meta.Converged {
			if err := o.store.TransitionRun(ctx, runID, types.RunRunning, types.RunConverged, ""); err != nil {
				return fmt.Errorf("marking run converged: %w", err)
			}
			logger.Info("run converged",
				zap.Int("iteration", iteration),
				zap.Float64("similarity", meta.Similarity))
			return nil
		}
		logger.Info("iteration finished without convergence",
			zap.Int("iteration", iteration),
			zap.Float64("similarity", meta.Similarity))
	}

	// The budget ran out without stabilizing. A legitimate terminal
	// state, not an error.
	if err := o.store.TransitionRun(ctx, runID, types.RunRunning, types.RunExhausted, ""); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil // cancelled in the meantime
		}
		return fmt.Errorf("marking run exhausted: %w", err)
	}
	logger.Info("run exhausted iteration budget")
	return nil
}

// runIteration executes one full Micro→Meso→Meta pass and returns the
// meta output carrying the convergence verdict.
func (o *Orchestrator) runIteration(ctx context.Context, run *types.Run, iteration int, papers []*types.Paper, logger *zap.Logger) (*types.MetaOutput, error) {
	failed, err := o.runMicroCohort(ctx, run, iteration, papers)
	if err != nil {
		return nil, err
	}

	failureRate := float64(failed) / float64(len(papers))
	if failureRate > run.Config.FailureThreshold {
		logger.Warn("micro failure rate exceeds threshold",
			zap.Int("iteration", iteration),
			zap.Float64("failure_rate", failureRate),
			zap.Float64("threshold", run.Config.FailureThreshold))
		o.logEvent(ctx, run.ID, "", "iteration_aborted", fmt.Sprintf("failure rate %.2f", failureRate))
		return nil, fmt.Errorf("%w: %d of %d micro agents failed", ErrInsufficientData, failed, len(papers))
	}

	micros, err := o.store.MicroOutputs(ctx, run.ID, iteration)
	if err != nil {
		return nil, fmt.Errorf("loading micro outputs: %w", err)
	}

	if cancelled, err := o.isCancelled(ctx, run.ID); err != nil {
		return nil, err
	} else if cancelled {
		return nil, errRunCancelled
	}

	if err := o.runMeso(ctx, run, iteration, micros); err != nil {
		// A failed meso job fails the whole run; there is no partial
		// clustering worth keeping.
		return nil, fmt.Errorf("meso tier: %w", err)
	}
	return o.runMeta(ctx, run, iteration)
}

// runMicroCohort enqueues one micro job per paper and waits for every
// job to reach a terminal state. The wait is bounded by the iteration
// timeout; a job still running at the deadline counts as failed for
// this iteration. Returns the number of failed jobs.
func (o *Orchestrator) runMicroCohort(ctx context.Context, run *types.Run, iteration int, papers []*types.Paper) (int, error) {
	agents := make([]*types.Agent, len(papers))
	for i, paper := range papers {
		agents[i] = &types.Agent{
			ID:        uuid.NewString(),
			RunID:     run.ID,
			Tier:      types.TierMicro,
			Iteration: iteration,
			Metadata:  map[string]string{"paper": paper.ID, "title": paper.Title},
		}
	}
	if err := o.store.CreateAgents(ctx, agents); err != nil {
		return 0, fmt.Errorf("creating micro agents: %w", err)
	}

	jobs := make([]*dispatch.Job, len(papers))
	for i, paper := range papers {
		a, p := agents[i], paper
		job, err := o.dispatch.Submit(ctx, QueueAnalysis, a.ID, func(ctx context.Context, report func(int)) error {
			report(10)
			_, err := o.runtime.RunMicro(ctx, a, p)
			return err
		})
		if err != nil {
			return 0, fmt.Errorf("submitting micro job: %w", err)
		}
		jobs[i] = job
	}

	// Hard barrier: every admitted job must be terminal before meso.
	barrierCtx, cancel := context.WithTimeout(ctx, o.cfg.IterationTimeout)
	defer cancel()

	var failed atomic.Int64
	g := new(errgroup.Group)
	for _, job := range jobs {
		job := job
		g.Go(func() error {
			if err := job.Wait(barrierCtx); err != nil {
				failed.Add(1)
			}
			return nil
		})
	}
	g.Wait()

	if err := ctx.Err(); err != nil {
		return int(failed.Load()), err
	}
	return int(failed.Load()), nil
}

func (o *Orchestrator) runMeso(ctx context.Context, run *types.Run, iteration int, micros []*types.MicroOutput) error {
	a := &types.Agent{
		ID:        uuid.NewString(),
		RunID:     run.ID,
		Tier:      types.TierMeso,
		Iteration: iteration,
	}
	if err := o.store.CreateAgents(ctx, []*types.Agent{a}); err != nil {
		return fmt.Errorf("creating meso agent: %w", err)
	}

	job, err := o.dispatch.Submit(ctx, QueueSynthesis, a.ID, func(ctx context.Context, report func(int)) error {
		report(10)
		_, err := o.runtime.RunMeso(ctx, a, micros, run.Config)
		return err
	})
	if err != nil {
		return fmt.Errorf("submitting meso job: %w", err)
	}
	return job.Wait(ctx)
}

func (o *Orchestrator) runMeta(ctx context.Context, run *types.Run, iteration int) (*types.MetaOutput, error) {
	meso, err := o.store.MesoOutput(ctx, run.ID, iteration)
	if err != nil {
		return nil, fmt.Errorf("loading meso output: %w", err)
	}

	prev, err := o.store.MetaOutput(ctx, run.ID, iteration-1)
	if errors.Is(err, store.ErrNotFound) {
		prev = nil // iteration 1: convergence is defined false
	} else if err != nil {
		return nil, fmt.Errorf("loading previous meta output: %w", err)
	}

	a := &types.Agent{
		ID:        uuid.NewString(),
		RunID:     run.ID,
		Tier:      types.TierMeta,
		Iteration: iteration,
	}
	if err := o.store.CreateAgents(ctx, []*types.Agent{a}); err != nil {
		return nil, fmt.Errorf("creating meta agent: %w", err)
	}

	job, err := o.dispatch.Submit(ctx, QueueSynthesis, a.ID, func(ctx context.Context, report func(int)) error {
		report(10)
		_, err := o.runtime.RunMeta(ctx, a, meso, prev, run.Config)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("submitting meta job: %w", err)
	}
	if err := job.Wait(ctx); err != nil {
		return nil, fmt.Errorf("meta tier: %w", err)
	}
	return o.store.MetaOutput(ctx, run.ID, iteration)
}

// Cancel marks a run cancelled. In-flight agents finish and keep their
// context writes; no further iteration is scheduled.
func (o *Orchestrator) Cancel(ctx context.Context, runID string) error {
	err := o.store.TransitionRun(ctx, runID, types.RunRunning, types.RunCancelled, "")
	if errors.Is(err, store.ErrConflict) {
		err = o.store.TransitionRun(ctx, runID, types.RunQueued, types.RunCancelled, "")
	}
	if err != nil {
		return fmt.Errorf("cancelling run %s: %w", runID, err)
	}
	o.logEvent(ctx, runID, "", "run_cancelled", "")
	return nil
}

// RunStatus is the polling view of one run.
type RunStatus struct {
	Run    *types.Run                                    `json:"run" yaml:"run"`
	Agents map[types.AgentTier]map[types.AgentStatus]int `json:"agents" yaml:"agents"`
}

// Status reports the run's state and per-tier agent counts for its
// current iteration.
func (o *Orchestrator) Status(ctx context.Context, runID string) (*RunStatus, error) {
	run, err := o.store.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("loading run: %w", err)
	}

	status := &RunStatus{
		Run:    run,
		Agents: make(map[types.AgentTier]map[types.AgentStatus]int),
	}
	for _, tier := range []types.AgentTier{types.TierMicro, types.TierMeso, types.TierMeta} {
		counts, err := o.store.CountAgents(ctx, runID, run.Iteration, tier)
		if err != nil {
			return nil, fmt.Errorf("counting %s agents: %w", tier, err)
		}
		status.Agents[tier] = counts
	}
	return status, nil
}

// Results returns the newest meta output of the run: the ranked gaps,
// patterns, frontiers, and directions. Available once at least one
// iteration's meta job has completed.
func (o *Orchestrator) Results(ctx context.Context, runID string) (*types.MetaOutput, error) {
	run, err := o.store.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("loading run: %w", err)
	}
	for iteration := run.Iteration; iteration >= 1; iteration-- {
		meta, err := o.store.MetaOutput(ctx, runID, iteration)
		if err == nil {
			return meta, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("loading meta output: %w", err)
		}
	}
	return nil, store.ErrNotFound
}

func (o *Orchestrator) isCancelled(ctx context.Context, runID string) (bool, error) {
	run, err := o.store.GetRun(ctx, runID)
	if err != nil {
		return false, fmt.Errorf("checking cancellation: %w", err)
	}
	return run.Status == types.RunCancelled, nil
}

func (o *Orchestrator) failRun(ctx context.Context, runID, reason string) {
	if err := o.store.TransitionRun(ctx, runID, types.RunRunning, types.RunFailed, reason); err != nil {
		if !errors.Is(err, store.ErrConflict) {
			o.logger.Error("marking run failed", zap.String("run", runID), zap.Error(err))
		}
	}
	o.logEvent(ctx, runID, "", "run_failed", reason)
}

func (o *Orchestrator) logEvent(ctx context.Context, runID, agentID, kind, detail string) {
	if err := o.store.LogEvent(ctx, runID, agentID, kind, detail); err != nil {
		o.logger.Error("logging event", zap.String("kind", kind), zap.Error(err))
	}
}
