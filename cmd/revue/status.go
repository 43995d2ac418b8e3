package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/revuehq/revue/internal/state"
)

var statusLimit int

var statusCmd = &cobra.Command{
	Use:   "status [run-id]",
	Short: "Show recent review runs",
	Long: `Display recent review runs from the project history.

Without arguments, lists the most recent runs with their verdicts.
With a run ID, shows that run's per-agent outcomes.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().IntVar(&statusLimit, "limit", 10, "Number of runs to list")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}

	dbPath := state.ProjectDBPath(cwd)
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fmt.Println("No review history. Run 'revue review' to start.")
		return nil
	}

	db, err := state.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	if len(args) == 1 {
		return displayRun(db, args[0])
	}
	return displayRecentRuns(db)
}

func displayRecentRuns(db *state.DB) error {
	runs, err := db.ListRecentRuns(statusLimit)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}
	if len(runs) == 0 {
		fmt.Println("No review history. Run 'revue review' to start.")
		return nil
	}

	fmt.Println("Recent runs:")
	for _, r := range runs {
		verdict := r.Verdict
		if verdict == "" {
			verdict = "(in flight)"
		}
		fmt.Printf("  %s  %-22s  %d findings, %s tokens, %s (%s ago)\n",
			r.ID, colorVerdictString(verdict), r.FindingCount,
			formatNumber(r.TokensUsed), formatDuration(r.Duration),
			formatDuration(time.Since(r.StartedAt)))
	}
	return nil
}

func displayRun(db *state.DB, runID string) error {
	run, err := db.GetRun(runID)
	if err != nil {
		return fmt.Errorf("run %s not found", runID)
	}

	fmt.Printf("Run %s\n", run.ID)
	fmt.Printf("  Verdict: %s\n", colorVerdictString(run.Verdict))
	fmt.Printf("  Stop reason: %s\n", run.StopReason)
	fmt.Printf("  Tokens: %s\n", formatNumber(run.TokensUsed))
	fmt.Printf("  Duration: %s\n", formatDuration(run.Duration))
	fmt.Printf("  Started: %s ago\n", formatDuration(time.Since(run.StartedAt)))

	outcomes, err := db.ListAgentOutcomes(runID)
	if err != nil {
		return fmt.Errorf("list agent outcomes: %w", err)
	}
	if len(outcomes) == 0 {
		return nil
	}

	fmt.Println("\nAgents:")
	for _, o := range outcomes {
		line := fmt.Sprintf("  %-16s %-24s %d findings, %s tokens",
			o.Agent, o.Status, o.FindingCount, formatNumber(o.TokensUsed))
		if o.Attempts > 1 {
			line += fmt.Sprintf(", %d attempts", o.Attempts)
		}
		fmt.Println(line)
		if o.Error != "" {
			fmt.Printf("      %s\n", o.Error)
		}
	}
	return nil
}

func colorVerdictString(verdict string) string {
	switch verdict {
	case "approve":
		return color.GreenString(verdict)
	case "approve_with_warnings":
		return color.YellowString(verdict)
	case "needs_changes", "block":
		return color.RedString(verdict)
	default:
		return verdict
	}
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		h := int(d.Hours())
		m := int(d.Minutes()) % 60
		if m > 0 {
			return fmt.Sprintf("%dh%dm", h, m)
		}
		return fmt.Sprintf("%dh", h)
	}
	days := int(d.Hours()) / 24
	return fmt.Sprintf("%dd", days)
}

// formatNumber formats a number with commas.
func formatNumber(n int64) string {
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}

	// Add commas every 3 digits from the right
	var result strings.Builder
	offset := len(s) % 3
	if offset > 0 {
		result.WriteString(s[:offset])
		if len(s) > offset {
			result.WriteString(",")
		}
	}
	for i := offset; i < len(s); i += 3 {
		result.WriteString(s[i : i+3])
		if i+3 < len(s) {
			result.WriteString(",")
		}
	}
	return result.String()
}
