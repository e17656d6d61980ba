// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/gap-engine/internal/contextstore"
)

var contextsCmd = &cobra.Command{
	Use:   "contexts [run-id]",
	Short: "List, dump, or sweep a run's context artifacts",
	Long: `Contexts inspects the versioned artifacts agents wrote during a run.
By default it lists artifact metadata without materializing payloads.
Narrow with --agent and --key; --version selects one historical version;
--dump prints the payload as YAML.

--history lists every version of one key, including superseded ones.
--sweep-older-than physically deletes superseded (inactive) versions
older than the given age; active versions are never swept.`,
	Args: cobra.ExactArgs(1),
	RunE: runContexts,
}

func runContexts(cmd *cobra.Command, args []string) error {
	cs, err := openContexts(cmd)
	if err != nil {
		return err
	}
	defer cs.Close()

	ctx := context.Background()
	runID := args[0]

	if sweepAge, _ := cmd.Flags().GetDuration("sweep-older-than"); sweepAge > 0 {
		n, err := cs.Sweep(ctx, sweepAge)
		if err != nil {
			return err
		}
		fmt.Printf("swept %d superseded version(s) older than %s\n", n, sweepAge)
		return nil
	}

	agentID, _ := cmd.Flags().GetString("agent")
	key, _ := cmd.Flags().GetString("key")

	if history, _ := cmd.Flags().GetBool("history"); history {
		if agentID == "" || key == "" {
			return fmt.Errorf("--history requires --agent and --key")
		}
		versions, err := cs.History(ctx, runID, agentID, key)
		if err != nil {
			return err
		}
		fmt.Printf("%-8s  %-7s  %-10s  %-25s  %s\n", "Version", "Active", "Size", "Created", "Summary")
		for _, v := range versions {
			fmt.Printf("%-8d  %-7v  %-10d  %-25s  %s\n",
				v.Version, v.Active, v.SizeBytes, v.CreatedAt.Format(time.RFC3339), oneLine(v.Summary, 40))
		}
		return nil
	}

	version, _ := cmd.Flags().GetInt("version")
	dump, _ := cmd.Flags().GetBool("dump")

	artifacts, err := cs.Read(ctx, contextstore.ReadOptions{
		RunID:       runID,
		AgentID:     agentID,
		Key:         key,
		Version:     version,
		SummaryOnly: !dump,
	})
	if err != nil {
		return err
	}
	if len(artifacts) == 0 {
		fmt.Println("No context artifacts found.")
		return nil
	}

	if dump {
		for _, a := range artifacts {
			var payload any
			if err := json.Unmarshal(a.Data, &payload); err != nil {
				return fmt.Errorf("decoding artifact %s v%d: %w", a.Key, a.Version, err)
			}
			out, err := yaml.Marshal(map[string]any{
				"agent":   a.AgentID,
				"key":     a.Key,
				"version": a.Version,
				"payload": payload,
			})
			if err != nil {
				return err
			}
			os.Stdout.Write(out)
			fmt.Println("---")
		}
		return nil
	}

	fmt.Printf("%-36s  %-24s  %-8s  %-10s  %s\n", "Agent", "Key", "Version", "Size", "Summary")
	for _, a := range artifacts {
		fmt.Printf("%-36s  %-24s  %-8d  %-10d  %s\n",
			a.AgentID, a.Key, a.Version, a.SizeBytes, oneLine(a.Summary, 40))
	}
	return nil
}

func oneLine(s string, max int) string {
	out := make([]rune, 0, max)
	for _, r := range s {
		if r == '\n' || r == '\r' || r == '\t' {
			r = ' '
		}
		out = append(out, r)
		if len(out) == max {
			break
		}
	}
	return string(out)
}

func init() {
	contextsCmd.Flags().String("agent", "", "filter by agent id")
	contextsCmd.Flags().String("key", "", "filter by context key")
	contextsCmd.Flags().Int("version", 0, "read one specific version (requires --agent and --key)")
	contextsCmd.Flags().Bool("dump", false, "print payloads as YAML instead of metadata")
	contextsCmd.Flags().Bool("history", false, "list all versions of one key, superseded included")
	contextsCmd.Flags().Duration("sweep-older-than", 0, "delete superseded versions older than this age")

	rootCmd.AddCommand(contextsCmd)
}
