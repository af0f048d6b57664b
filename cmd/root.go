// Package cmd implements the recall CLI: the session-start and
// session-end hooks, the serve and mcp surfaces, and the maintenance
// verbs around the memory store.
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/recall/internal/config"
)

const version = "0.2.0"

// configPathEnv overrides the config file location, for tests and
// multi-profile setups.
const configPathEnv = "RECALL_CONFIG"

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "recall",
	Short: "Session continuity and memory retrieval for coding agents",
	Long: `recall carries context across coding sessions: user preferences,
recent agent activity, learned patterns and where the last session
left off. Wire "recall load" into the session-start hook and
"recall finalize" into session end; the other commands manage the
memory store behind them.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			slog.SetLogLoggerLevel(slog.LevelDebug)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(loadCmd())
	rootCmd.AddCommand(finalizeCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(mcpCmd())
	rootCmd.AddCommand(eventsCmd())
	rootCmd.AddCommand(memoryCmd())
	rootCmd.AddCommand(snapshotCmd())
	rootCmd.AddCommand(pruneCmd())
	rootCmd.AddCommand(backupCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(doctorCmd())
	rootCmd.AddCommand(onboardCmd())
}

// Execute runs the CLI and exits nonzero on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

// resolveConfigPath returns the active config file location. The
// RECALL_CONFIG env var wins; otherwise the file lives under the
// default home dir.
func resolveConfigPath() string {
	if p := os.Getenv(configPathEnv); p != "" {
		return config.ExpandHome(p)
	}
	return filepath.Join(config.ExpandHome("~/.recall"), config.DefaultFileName)
}
