// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package main is the entry point for the gap-engine CLI: a recursive
// multi-agent pipeline that analyzes a set of research papers and
// produces ranked research gaps, cross-cutting patterns, and
// recommended directions through iterative refinement.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/pdiddy/gap-engine/internal/secrets"
)

// version is set at build time via ldflags.
var version = "dev"

// loadedSecrets holds API keys loaded from .secrets/ at startup.
var loadedSecrets secrets.Secrets

// rootCmd is the base command for the gap-engine CLI.
var rootCmd = &cobra.Command{
	Use:   "gap-engine",
	Short: "Multi-agent research gap analysis engine",
	Long: `gap-engine analyzes a set of research papers against a topic and produces
ranked research gaps, cross-cutting patterns, and recommended directions.

A run fans per-paper extraction agents out to a bounded worker pool (micro
tier), clusters their outputs by theme (meso tier), ranks candidate gaps
(meta tier), and repeats until successive iterations' top gaps stabilize
or the iteration budget runs out.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		s, err := secrets.Load(".secrets/")
		if err != nil {
			return err
		}
		loadedSecrets = s
		if len(s) > 0 {
			fmt.Fprintf(os.Stderr, "Loaded secrets: %v\n", s.Names())
		}
		return nil
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default: ./gap-engine.yaml or ~/.config/gap-engine/config.yaml)")
	rootCmd.PersistentFlags().String("data-dir", "", "base directory for the engine database and context blobs (default: data)")
	rootCmd.PersistentFlags().Bool("verbose", false, "enable debug logging")
}

func initConfig() {
	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("gap-engine")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "gap-engine"))
		}
	}

	viper.SetEnvPrefix("GAP_ENGINE")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// newLogger builds the process logger. Every command constructs exactly
// one and passes it down; there is no global logger.
func newLogger(cmd *cobra.Command) (*zap.Logger, error) {
	verbose, _ := cmd.Flags().GetBool("verbose")
	if verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stderr"}
	return cfg.Build()
}

func dataDir(cmd *cobra.Command) string {
	dir, _ := cmd.Flags().GetString("data-dir")
	if dir == "" {
		dir = viper.GetString("data_dir")
	}
	if dir == "" {
		dir = "data"
	}
	return dir
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
