package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/draftgate/draftgate/config"
)

var (
	version    = "0.1.0"
	configPath string

	rootCmd = &cobra.Command{
		Use:   "draftgate",
		Short: "Governance mediation for autonomous agents",
		Long: `Draftgate - Governance Mediation Core

Draftgate forces every agent mutation through a staged review loop: the
agent works in an isolated overlay, its changes become diffable draft
artifacts, a capability policy engine decides what it was allowed to
do, and a human approves or rejects before anything touches the real
target. Every decision lands in a tamper-evident audit log.`,
		Version: version,
	}
)

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.SetVersionTemplate(`Draftgate {{.Version}} - Governance Mediation Core
`)
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file path")
}

// loadConfig reads the configured file, or defaults when none is given.
func loadConfig() (*config.Config, error) {
	if configPath == "" {
		return config.Default(), nil
	}
	return config.Load(configPath)
}
