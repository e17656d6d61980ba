// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package store

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/gap-engine/pkg/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestRun(t *testing.T, s *Store) *types.Run {
	t.Helper()
	run := &types.Run{
		ID:     uuid.NewString(),
		Topic:  "graph neural networks",
		Config: types.RunConfig{}.WithDefaults(),
		Status: types.RunQueued,
	}
	require.NoError(t, s.CreateRun(context.Background(), run))
	return run
}

func TestRunRoundTrip(t *testing.T) {
	s := newTestStore(t)
	run := newTestRun(t, s)

	got, err := s.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.ID, got.ID)
	assert.Equal(t, run.Topic, got.Topic)
	assert.Equal(t, types.RunQueued, got.Status)
	assert.Equal(t, 5, got.Config.MaxIterations)
	assert.InDelta(t, 0.70, got.Config.ConvergenceThreshold, 1e-9)
}

func TestGetRunNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetRun(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTransitionRunCAS(t *testing.T) {
	s := newTestStore(t)
	run := newTestRun(t, s)
	ctx := context.Background()

	require.NoError(t, s.TransitionRun(ctx, run.ID, types.RunQueued, types.RunRunning, ""))

	// A stale transition from the old status loses.
	err := s.TransitionRun(ctx, run.ID, types.RunQueued, types.RunFailed, "stale")
	assert.ErrorIs(t, err, ErrConflict)

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, types.RunRunning, got.Status)
	assert.Empty(t, got.Error)
}

func TestTransitionRunNotFound(t *testing.T) {
	s := newTestStore(t)
	err := s.TransitionRun(context.Background(), "missing", types.RunQueued, types.RunRunning, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTerminalRunRetainsError(t *testing.T) {
	s := newTestStore(t)
	run := newTestRun(t, s)
	ctx := context.Background()

	require.NoError(t, s.TransitionRun(ctx, run.ID, types.RunQueued, types.RunRunning, ""))
	require.NoError(t, s.TransitionRun(ctx, run.ID, types.RunRunning, types.RunFailed, "insufficient data"))

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, types.RunFailed, got.Status)
	assert.Equal(t, "insufficient data", got.Error)
}

func TestAgentLifecycle(t *testing.T) {
	s := newTestStore(t)
	run := newTestRun(t, s)
	ctx := context.Background()

	agent := &types.Agent{
		ID:        uuid.NewString(),
		RunID:     run.ID,
		Tier:      types.TierMicro,
		Iteration: 1,
		Metadata:  map[string]string{"paper": "attention-is-all-you-need"},
	}
	require.NoError(t, s.CreateAgents(ctx, []*types.Agent{agent}))

	got, err := s.GetAgent(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, types.AgentPending, got.Status)
	assert.Equal(t, "attention-is-all-you-need", got.Metadata["paper"])

	require.NoError(t, s.MarkAgentActive(ctx, agent.ID))
	require.NoError(t, s.MarkAgentCompleted(ctx, agent.ID))

	got, err = s.GetAgent(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, types.AgentCompleted, got.Status)
	assert.False(t, got.StartedAt.IsZero())
	assert.False(t, got.CompletedAt.IsZero())
	assert.GreaterOrEqual(t, int64(got.ExecutionTime), int64(0))
}

func TestMarkAgentActiveIsAtMostOnce(t *testing.T) {
	s := newTestStore(t)
	run := newTestRun(t, s)
	ctx := context.Background()

	agent := &types.Agent{ID: uuid.NewString(), RunID: run.ID, Tier: types.TierMicro, Iteration: 1}
	require.NoError(t, s.CreateAgents(ctx, []*types.Agent{agent}))

	// Many workers race to claim the agent; exactly one wins.
	const workers = 8
	var wg sync.WaitGroup
	wins := make(chan struct{}, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.MarkAgentActive(ctx, agent.ID); err == nil {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	var count int
	for range wins {
		count++
	}
	assert.Equal(t, 1, count)
}

func TestAgentFailureRetainsReason(t *testing.T) {
	s := newTestStore(t)
	run := newTestRun(t, s)
	ctx := context.Background()

	agent := &types.Agent{ID: uuid.NewString(), RunID: run.ID, Tier: types.TierMicro, Iteration: 1}
	require.NoError(t, s.CreateAgents(ctx, []*types.Agent{agent}))
	require.NoError(t, s.MarkAgentActive(ctx, agent.ID))
	require.NoError(t, s.MarkAgentFailed(ctx, agent.ID, "provider unavailable"))

	got, err := s.GetAgent(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, types.AgentFailed, got.Status)
	assert.Equal(t, "provider unavailable", got.Error)

	// Terminal states admit no further transitions.
	err = s.MarkAgentCompleted(ctx, agent.ID)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestMarkAgentActiveReclaimsFailed(t *testing.T) {
	s := newTestStore(t)
	run := newTestRun(t, s)
	ctx := context.Background()

	agent := &types.Agent{ID: uuid.NewString(), RunID: run.ID, Tier: types.TierMicro, Iteration: 1}
	require.NoError(t, s.CreateAgents(ctx, []*types.Agent{agent}))
	require.NoError(t, s.MarkAgentActive(ctx, agent.ID))
	require.NoError(t, s.MarkAgentFailed(ctx, agent.ID, "timeout"))

	// A retry reclaims the failed agent and clears the old failure.
	require.NoError(t, s.MarkAgentActive(ctx, agent.ID))

	got, err := s.GetAgent(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, types.AgentActive, got.Status)
	assert.Empty(t, got.Error)
	assert.True(t, got.CompletedAt.IsZero())

	// An active agent cannot be claimed again, and a completed one is
	// never reactivated.
	assert.ErrorIs(t, s.MarkAgentActive(ctx, agent.ID), ErrConflict)
	require.NoError(t, s.MarkAgentCompleted(ctx, agent.ID))
	assert.ErrorIs(t, s.MarkAgentActive(ctx, agent.ID), ErrConflict)
}

func TestCountAgents(t *testing.T) {
	s := newTestStore(t)
	run := newTestRun(t, s)
	ctx := context.Background()

	var agents []*types.Agent
	for i := 0; i < 4; i++ {
		agents = append(agents, &types.Agent{
			ID: uuid.NewString(), RunID: run.ID, Tier: types.TierMicro, Iteration: 1,
		})
	}
	require.NoError(t, s.CreateAgents(ctx, agents))

	require.NoError(t, s.MarkAgentActive(ctx, agents[0].ID))
	require.NoError(t, s.MarkAgentCompleted(ctx, agents[0].ID))
	require.NoError(t, s.MarkAgentActive(ctx, agents[1].ID))
	require.NoError(t, s.MarkAgentFailed(ctx, agents[1].ID, "boom"))

	counts, err := s.CountAgents(ctx, run.ID, 1, types.TierMicro)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[types.AgentCompleted])
	assert.Equal(t, 1, counts[types.AgentFailed])
	assert.Equal(t, 2, counts[types.AgentPending])
}

func TestMicroOutputsPerIteration(t *testing.T) {
	s := newTestStore(t)
	run := newTestRun(t, s)
	ctx := context.Background()

	for iter := 1; iter <= 2; iter++ {
		agent := &types.Agent{ID: uuid.NewString(), RunID: run.ID, Tier: types.TierMicro, Iteration: iter}
		require.NoError(t, s.CreateAgents(ctx, []*types.Agent{agent}))
		out := &types.MicroOutput{
			PaperID:    "paper-1",
			Confidence: 0.5 + float64(iter)/10,
			Gaps:       []types.ResearchGap{{Type: types.GapEmpirical, Description: "needs replication"}},
		}
		require.NoError(t, s.SaveOutput(ctx, agent, out))
	}

	outs, err := s.MicroOutputs(ctx, run.ID, 2)
	require.NoError(t, err)
	require.Len(t, outs, 1)
	assert.InDelta(t, 0.7, outs[0].Confidence, 1e-9)
	assert.Len(t, outs[0].Gaps, 1)
}

func TestMesoAndMetaOutputs(t *testing.T) {
	s := newTestStore(t)
	run := newTestRun(t, s)
	ctx := context.Background()

	meso := &types.Agent{ID: uuid.NewString(), RunID: run.ID, Tier: types.TierMeso, Iteration: 1}
	meta := &types.Agent{ID: uuid.NewString(), RunID: run.ID, Tier: types.TierMeta, Iteration: 1}
	require.NoError(t, s.CreateAgents(ctx, []*types.Agent{meso, meta}))

	require.NoError(t, s.SaveOutput(ctx, meso, &types.MesoOutput{
		Clusters: []types.Cluster{{Theme: "efficiency", PaperIDs: []string{"a", "b"}}},
	}))
	require.NoError(t, s.SaveOutput(ctx, meta, &types.MetaOutput{
		Iteration:  1,
		RankedGaps: []types.RankedGap{{Description: "long-context scaling", Score: types.GapScore{Total: 0.8}}},
	}))

	gotMeso, err := s.MesoOutput(ctx, run.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, "efficiency", gotMeso.Clusters[0].Theme)

	gotMeta, err := s.MetaOutput(ctx, run.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, "long-context scaling", gotMeta.RankedGaps[0].Description)

	// The previous iteration of a fresh run does not exist yet.
	_, err = s.MetaOutput(ctx, run.ID, 2)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEventsAppendOrder(t *testing.T) {
	s := newTestStore(t)
	run := newTestRun(t, s)
	ctx := context.Background()

	require.NoError(t, s.LogEvent(ctx, run.ID, "", "run_started", ""))
	require.NoError(t, s.LogEvent(ctx, run.ID, "agent-1", "agent_completed", "micro"))
	require.NoError(t, s.LogEvent(ctx, run.ID, "", "iteration_finished", "iteration=1"))

	events, err := s.Events(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "run_started", events[0].Kind)
	assert.Equal(t, "agent-1", events[1].AgentID)
	assert.Equal(t, "iteration_finished", events[2].Kind)
}

func TestSetRunIteration(t *testing.T) {
	s := newTestStore(t)
	run := newTestRun(t, s)
	ctx := context.Background()

	require.NoError(t, s.SetRunIteration(ctx, run.ID, 3))
	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Iteration)

	assert.ErrorIs(t, s.SetRunIteration(ctx, "missing", 1), ErrNotFound)
}
