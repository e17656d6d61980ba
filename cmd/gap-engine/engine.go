// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/gap-engine/internal/agent"
	"github.com/pdiddy/gap-engine/internal/blob"
	"github.com/pdiddy/gap-engine/internal/confidence"
	"github.com/pdiddy/gap-engine/internal/contextstore"
	"github.com/pdiddy/gap-engine/internal/dispatch"
	"github.com/pdiddy/gap-engine/internal/orchestrator"
	"github.com/pdiddy/gap-engine/internal/store"
	"github.com/pdiddy/gap-engine/internal/textgen"
	"github.com/pdiddy/gap-engine/pkg/types"
)

// engine bundles the wired components one command needs. Commands that
// only inspect state use openStore/openContexts instead.
type engine struct {
	store    *store.Store
	contexts *contextstore.Store
	orch     *orchestrator.Orchestrator
}

func (e *engine) Close() {
	e.contexts.Close()
	e.store.Close()
}

// buildEngine constructs the full pipeline: storage, context store,
// text-generation client, dispatcher, and orchestrator. Everything is
// dependency-injected from here; no package holds a singleton.
func buildEngine(cmd *cobra.Command, logger *zap.Logger) (*engine, error) {
	dir := dataDir(cmd)

	st, err := store.NewStore(dir)
	if err != nil {
		return nil, err
	}

	blobs, err := blob.NewFS(filepath.Join(dir, "blobs"))
	if err != nil {
		st.Close()
		return nil, err
	}
	cs, err := contextstore.New(types.ContextStoreConfig{DataDir: dir}, blobs)
	if err != nil {
		st.Close()
		return nil, err
	}

	model, _ := cmd.Flags().GetString("model")
	if model == "" {
		model = viper.GetString("ai.model")
	}
	if model == "" {
		model = "claude-sonnet-4-5-20250929"
	}
	gen := textgen.NewClaudeBackend(types.AIConfig{
		Model:  model,
		APIKey: loadedSecrets.Get("anthropic-api-key", viper.GetString("ai.api_key")),
	})

	rt := agent.NewRuntime(st, cs, gen, confidence.NewCalculator(), logger)

	concurrency, _ := cmd.Flags().GetInt("concurrency")
	if concurrency <= 0 {
		concurrency = viper.GetInt("dispatch.analysis_concurrency")
	}
	if concurrency <= 0 {
		concurrency = 4
	}
	d := dispatch.New(logger, dispatch.Config{
		MaxAttempts: viper.GetInt("dispatch.max_attempts"),
		BackoffBase: viper.GetDuration("dispatch.backoff_base"),
		BackoffMax:  viper.GetDuration("dispatch.backoff_max"),
	})
	d.AddQueue(orchestrator.QueueAnalysis, concurrency)
	d.AddQueue(orchestrator.QueueSynthesis, 1)

	iterTimeout, _ := cmd.Flags().GetDuration("iteration-timeout")
	if iterTimeout <= 0 {
		iterTimeout = viper.GetDuration("orchestrator.iteration_timeout")
	}
	orch := orchestrator.New(st, rt, d, types.OrchestratorConfig{
		IterationTimeout: iterTimeout,
	}, logger)

	return &engine{store: st, contexts: cs, orch: orch}, nil
}

// openStore opens just the engine database, for inspection commands.
func openStore(cmd *cobra.Command) (*store.Store, error) {
	return store.NewStore(dataDir(cmd))
}

// openContexts opens just the context store, for inspection commands.
func openContexts(cmd *cobra.Command) (*contextstore.Store, error) {
	dir := dataDir(cmd)
	blobs, err := blob.NewFS(filepath.Join(dir, "blobs"))
	if err != nil {
		return nil, err
	}
	return contextstore.New(types.ContextStoreConfig{DataDir: dir}, blobs)
}

// loadPapers reads the paper set from a YAML file: a list of records
// with id, title, authors, date, abstract, and optional full_text.
func loadPapers(path string) ([]*types.Paper, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading papers file %s: %w", path, err)
	}
	var papers []*types.Paper
	if err := yaml.Unmarshal(data, &papers); err != nil {
		return nil, fmt.Errorf("parsing papers file %s: %w", path, err)
	}
	for i, p := range papers {
		if p.ID == "" {
			return nil, fmt.Errorf("paper %d in %s has no id", i, path)
		}
	}
	return papers, nil
}

// runConfigFromFlags collects the per-run tuning knobs.
func runConfigFromFlags(cmd *cobra.Command) types.RunConfig {
	maxIter, _ := cmd.Flags().GetInt("max-iterations")
	threshold, _ := cmd.Flags().GetFloat64("convergence-threshold")
	failure, _ := cmd.Flags().GetFloat64("failure-threshold")
	minCluster, _ := cmd.Flags().GetInt("min-cluster-size")
	maxClusters, _ := cmd.Flags().GetInt("max-clusters")
	gapLimit, _ := cmd.Flags().GetInt("gap-limit")
	return types.RunConfig{
		MaxIterations:        maxIter,
		ConvergenceThreshold: threshold,
		FailureThreshold:     failure,
		MinClusterSize:       minCluster,
		MaxClusters:          maxClusters,
		GapLimit:             gapLimit,
	}
}
