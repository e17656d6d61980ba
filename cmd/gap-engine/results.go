// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pdiddy/gap-engine/internal/orchestrator"
	"github.com/pdiddy/gap-engine/pkg/types"
)

var resultsCmd = &cobra.Command{
	Use:   "results [run-id]",
	Short: "Show a run's ranked gaps, patterns, and directions",
	Long: `Results prints the newest completed iteration's synthesis: ranked research
gaps with their sub-scores, cross-domain patterns, research frontiers, and
recommended directions. Available once at least one iteration's meta agent
has completed, even for runs still in progress.`,
	Args: cobra.ExactArgs(1),
	RunE: runResults,
}

func runResults(cmd *cobra.Command, args []string) error {
	st, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer st.Close()

	orch := orchestrator.New(st, nil, nil, types.OrchestratorConfig{}, nil)
	meta, err := orch.Results(context.Background(), args[0])
	if err != nil {
		return err
	}

	if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(meta)
	}

	printResults(meta)
	return nil
}

func printResults(meta *types.MetaOutput) {
	fmt.Printf("iteration %d  converged=%v  similarity=%.2f  confidence=%.2f\n\n",
		meta.Iteration, meta.Converged, meta.Similarity, meta.Confidence)

	fmt.Printf("%-4s  %-5s  %-15s  %s\n", "Rank", "Score", "Type", "Gap")
	fmt.Println(strings.Repeat("-", 90))
	for i, g := range meta.RankedGaps {
		desc := g.Description
		if len(desc) > 60 {
			desc = desc[:57] + "..."
		}
		fmt.Printf("%-4d  %.2f   %-15s  %s\n", i+1, g.Score.Total, g.Type, desc)
	}

	if len(meta.Patterns) > 0 {
		fmt.Println("\npatterns:")
		for _, p := range meta.Patterns {
			fmt.Printf("  [%s] %s\n", p.Type, p.Description)
		}
	}
	if len(meta.Frontiers) > 0 {
		fmt.Println("\nfrontiers:")
		for _, f := range meta.Frontiers {
			fmt.Printf("  - %s\n", f)
		}
	}
	if len(meta.Directions) > 0 {
		fmt.Println("\ndirections:")
		for _, d := range meta.Directions {
			fmt.Printf("  - %s\n", d)
		}
	}
}

func init() {
	resultsCmd.Flags().Bool("json", false, "emit JSON instead of a table")
	rootCmd.AddCommand(resultsCmd)
}
