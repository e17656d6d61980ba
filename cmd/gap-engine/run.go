// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var runCmd = &cobra.Command{
	Use:   "run [papers.yaml]",
	Short: "Start and drive a gap analysis run over a paper set",
	Long: `Run loads a paper set from a YAML file and drives a full analysis run:
per-paper extraction (micro), thematic clustering (meso), and gap ranking
with a convergence test (meta), iterating until the top-ranked gaps
stabilize or the iteration budget runs out.

The run id is printed immediately; progress can be polled from another
terminal with "gap-engine status <run-id>".`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	logger, err := newLogger(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	papers, err := loadPapers(args[0])
	if err != nil {
		return err
	}
	if len(papers) == 0 {
		return fmt.Errorf("papers file %s is empty", args[0])
	}

	topic, _ := cmd.Flags().GetString("topic")
	if topic == "" {
		return fmt.Errorf("--topic is required")
	}

	eng, err := buildEngine(cmd, logger)
	if err != nil {
		return err
	}
	defer eng.Close()

	ctx := context.Background()
	run, err := eng.orch.StartRun(ctx, topic, runConfigFromFlags(cmd))
	if err != nil {
		return err
	}
	fmt.Printf("run %s started (%d papers)\n", run.ID, len(papers))

	// SIGINT cancels the run: in-flight agents finish and keep their
	// writes, no new iteration is scheduled.
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sig)
	go func() {
		if _, ok := <-sig; !ok {
			return
		}
		fmt.Fprintln(os.Stderr, "cancelling run, letting in-flight agents finish...")
		if err := eng.orch.Cancel(ctx, run.ID); err != nil {
			logger.Warn("cancelling run", zap.Error(err))
		}
	}()

	if err := eng.orch.Execute(ctx, run.ID, papers); err != nil {
		return fmt.Errorf("run %s: %w", run.ID, err)
	}

	final, err := eng.store.GetRun(context.Background(), run.ID)
	if err != nil {
		return err
	}
	fmt.Printf("run %s finished: %s after %d iteration(s)\n", run.ID, final.Status, final.Iteration)

	if meta, err := eng.orch.Results(context.Background(), run.ID); err == nil {
		printResults(meta)
	}
	return nil
}

func init() {
	runCmd.Flags().String("topic", "", "research domain or query the run analyzes (required)")
	runCmd.Flags().String("model", "", "AI model identifier for extraction and synthesis")
	runCmd.Flags().Int("concurrency", 0, "concurrency ceiling of the analysis queue (default 4)")
	runCmd.Flags().Int("max-iterations", 0, "iteration budget (default 5)")
	runCmd.Flags().Float64("convergence-threshold", 0, "Jaccard similarity at which the run converges (default 0.70)")
	runCmd.Flags().Float64("failure-threshold", 0, "micro failure rate that aborts an iteration (default 0.3)")
	runCmd.Flags().Int("min-cluster-size", 0, "smallest admissible thematic cluster (default 2)")
	runCmd.Flags().Int("max-clusters", 0, "cluster count cap per iteration (default 5)")
	runCmd.Flags().Int("gap-limit", 0, "how many top gaps the convergence test compares (default 10)")
	runCmd.Flags().Duration("iteration-timeout", 0, "bound on one iteration's micro cohort (default 30m)")

	rootCmd.AddCommand(runCmd)
}
