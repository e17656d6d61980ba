// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pdiddy/gap-engine/internal/orchestrator"
	"github.com/pdiddy/gap-engine/pkg/types"
)

var statusCmd = &cobra.Command{
	Use:   "status [run-id]",
	Short: "Show a run's state and per-tier agent counts",
	Long: `Status reports the run's lifecycle state, current iteration, and per-tier
agent counts for that iteration. Without a run id it lists all runs.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	st, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	jsonOutput, _ := cmd.Flags().GetBool("json")

	if len(args) == 0 {
		runs, err := st.ListRuns(ctx)
		if err != nil {
			return err
		}
		if jsonOutput {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(runs)
		}
		if len(runs) == 0 {
			fmt.Println("No runs found.")
			return nil
		}
		fmt.Printf("%-36s  %-10s  %-4s  %s\n", "Run", "Status", "Iter", "Topic")
		for _, r := range runs {
			fmt.Printf("%-36s  %-10s  %-4d  %s\n", r.ID, r.Status, r.Iteration, r.Topic)
		}
		return nil
	}

	// Status inspection reads the store only; no live pipeline needed.
	orch := orchestrator.New(st, nil, nil, types.OrchestratorConfig{}, nil)

	status, err := orch.Status(ctx, args[0])
	if err != nil {
		return err
	}
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	}

	run := status.Run
	fmt.Printf("run:       %s\n", run.ID)
	fmt.Printf("topic:     %s\n", run.Topic)
	fmt.Printf("status:    %s\n", run.Status)
	fmt.Printf("iteration: %d of %d\n", run.Iteration, run.Config.MaxIterations)
	if run.Error != "" {
		fmt.Printf("error:     %s\n", run.Error)
	}
	for _, tier := range []types.AgentTier{types.TierMicro, types.TierMeso, types.TierMeta} {
		counts := status.Agents[tier]
		if len(counts) == 0 {
			continue
		}
		fmt.Printf("%-5s      pending=%d active=%d completed=%d failed=%d\n", tier,
			counts[types.AgentPending], counts[types.AgentActive],
			counts[types.AgentCompleted], counts[types.AgentFailed])
	}
	return nil
}

func init() {
	statusCmd.Flags().Bool("json", false, "emit JSON instead of a table")
	rootCmd.AddCommand(statusCmd)
}
