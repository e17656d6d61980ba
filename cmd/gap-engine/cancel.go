// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pdiddy/gap-engine/internal/orchestrator"
	"github.com/pdiddy/gap-engine/pkg/types"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel [run-id]",
	Short: "Cancel a queued or running run",
	Long: `Cancel marks a run cancelled. In-flight agents are allowed to finish and
keep their context writes, but no further iteration is scheduled.`,
	Args: cobra.ExactArgs(1),
	RunE: runCancel,
}

func runCancel(cmd *cobra.Command, args []string) error {
	st, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer st.Close()

	orch := orchestrator.New(st, nil, nil, types.OrchestratorConfig{}, nil)
	if err := orch.Cancel(context.Background(), args[0]); err != nil {
		return err
	}
	fmt.Printf("run %s cancelled\n", args[0])
	return nil
}

func init() {
	rootCmd.AddCommand(cancelCmd)
}
