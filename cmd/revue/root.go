package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "revue",
	Short: "Resilient multi-agent code review",
	Long: `Revue runs a roster of Claude review agents against a change,
survives the failures that come with calling an external model many
times, and merges every agent's findings into one decision.

Core capabilities:
- Runs agents in parallel under a bounded worker pool
- Isolates persistently-failing agents behind circuit breakers
- Enforces token and wall-clock budgets across the whole run
- Checkpoints progress so interrupted runs resume without repeating work
- Merges findings into approve / needs-changes / block verdicts`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(reviewCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(agentsCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
