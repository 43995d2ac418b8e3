package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/revuehq/revue/internal/config"
)

var agentsInit bool

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "Show the review agent roster",
	Long: `List the agents that will run on 'revue review'.

The roster comes from .revue/agents.yaml when present, otherwise the
built-in default roster is used. Use --init to write the default roster
to the project so it can be customized.`,
	RunE: runAgents,
}

func init() {
	agentsCmd.Flags().BoolVar(&agentsInit, "init", false, "Write the default roster to .revue/agents.yaml")
}

func runAgents(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}

	path := config.RosterPath(cwd)

	if agentsInit {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("roster already exists at %s", path)
		}
		if err := config.SaveRoster(path, config.DefaultRoster()); err != nil {
			return fmt.Errorf("write roster: %w", err)
		}
		fmt.Printf("%s Wrote default roster to %s\n", color.GreenString("✓"), path)
		return nil
	}

	roster, err := config.LoadRosterOrDefault(cwd)
	if err != nil {
		return err
	}

	source := path
	if _, err := os.Stat(path); os.IsNotExist(err) {
		source = "(built-in defaults)"
	}
	fmt.Printf("Roster: %s\n\n", source)

	for _, a := range roster.Agents {
		marker := color.GreenString("●")
		suffix := ""
		if a.Disabled {
			marker = color.New(color.Faint).Sprint("○")
			suffix = " (disabled)"
		}
		mode := "phased"
		if a.SingleShot {
			mode = "single-shot"
		}
		fmt.Printf("%s %s%s\n", marker, a.Name, suffix)
		fmt.Printf("    focus: %s\n", a.Focus)
		fmt.Printf("    mode: %s\n", mode)
		if a.Model != "" {
			fmt.Printf("    model: %s\n", a.Model)
		}
		if a.MaxTokens > 0 {
			fmt.Printf("    max tokens: %s\n", formatNumber(a.MaxTokens))
		}
	}
	return nil
}
