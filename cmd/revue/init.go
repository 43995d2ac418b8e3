package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/revuehq/revue/internal/config"
)

var (
	initForce      bool
	initWithRoster bool
)

var initCmd = &cobra.Command{
	Use:   "init [directory]",
	Short: "Initialize a Revue project",
	Long: `Initialize a directory for use with Revue.

This command sets up everything needed to run reviews:
  - Creates the .revue directory structure (logs, checkpoints, signals)
  - Updates .gitignore so run artifacts stay out of version control
  - Optionally writes the default agent roster for customization

The directory argument is optional and defaults to the current directory.

Examples:
  revue init                # Initialize current directory
  revue init ./myproject    # Initialize specific directory
  revue init --with-roster  # Also write .revue/agents.yaml`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Reinitialize even if already set up")
	initCmd.Flags().BoolVar(&initWithRoster, "with-roster", false, "Write the default agent roster")
}

func runInit(cmd *cobra.Command, args []string) error {
	targetDir := "."
	if len(args) > 0 {
		targetDir = args[0]
	}

	absPath, err := filepath.Abs(targetDir)
	if err != nil {
		return fmt.Errorf("resolving absolute path: %w", err)
	}
	if err := os.MkdirAll(absPath, 0755); err != nil {
		return fmt.Errorf("creating directory %s: %w", absPath, err)
	}

	fmt.Printf("Initializing Revue in %s...\n\n", absPath)

	revueDir := filepath.Join(absPath, ".revue")
	if _, err := os.Stat(revueDir); err == nil && !initForce {
		fmt.Println("Directory already initialized. Use --force to reinitialize.")
		return nil
	}

	if key := os.Getenv("ANTHROPIC_API_KEY"); key == "" {
		printStatus("⚠", "ANTHROPIC_API_KEY not set (you can set it later)", color.FgYellow)
	} else {
		printStatus("✓", "ANTHROPIC_API_KEY is set", color.FgGreen)
	}

	for _, sub := range []string{"logs", "checkpoints", "signals"} {
		if err := os.MkdirAll(filepath.Join(revueDir, sub), 0755); err != nil {
			return fmt.Errorf("creating .revue/%s directory: %w", sub, err)
		}
	}
	printStatus("✓", "Created .revue directory structure", color.FgGreen)

	if err := updateGitignore(absPath); err != nil {
		return fmt.Errorf("updating .gitignore: %w", err)
	}
	printStatus("✓", "Updated .gitignore with Revue entries", color.FgGreen)

	if initWithRoster {
		rosterPath := config.RosterPath(absPath)
		if _, err := os.Stat(rosterPath); os.IsNotExist(err) || initForce {
			if err := config.SaveRoster(rosterPath, config.DefaultRoster()); err != nil {
				return fmt.Errorf("writing roster: %w", err)
			}
			printStatus("✓", "Created .revue/agents.yaml with the default roster", color.FgGreen)
		}
	}

	if err := createProjectConfig(absPath); err != nil {
		return fmt.Errorf("creating project config: %w", err)
	}
	printStatus("✓", "Created .revue.yaml template", color.FgGreen)

	fmt.Printf("\n%s Revue initialization complete!\n\n", color.GreenString("✓"))
	fmt.Println("Next steps:")
	if os.Getenv("ANTHROPIC_API_KEY") == "" {
		fmt.Println("  1. Set your API key:")
		fmt.Println("     export ANTHROPIC_API_KEY=your-key-here")
		fmt.Println()
	}
	fmt.Println("  2. Review your working tree:")
	fmt.Println("     revue review")
	fmt.Println()
	fmt.Println("  3. Learn more:")
	fmt.Println("     revue --help")

	return nil
}

// updateGitignore adds Revue entries to .gitignore if not present
func updateGitignore(repoPath string) error {
	gitignorePath := filepath.Join(repoPath, ".gitignore")

	var existingContent string
	if data, err := os.ReadFile(gitignorePath); err == nil {
		existingContent = string(data)
	}

	revueEntries := []string{
		".revue/logs/",
		".revue/checkpoints/",
		".revue/signals/",
		".revue/state.db*",
	}

	needsUpdate := false
	for _, entry := range revueEntries {
		if !strings.Contains(existingContent, entry) {
			needsUpdate = true
			break
		}
	}
	if !needsUpdate {
		return nil
	}

	var newContent strings.Builder
	newContent.WriteString(existingContent)
	if len(existingContent) > 0 && !strings.HasSuffix(existingContent, "\n") {
		newContent.WriteString("\n")
	}

	newContent.WriteString("\n# Revue\n")
	for _, entry := range revueEntries {
		if !strings.Contains(existingContent, entry) {
			newContent.WriteString(entry + "\n")
		}
	}

	return os.WriteFile(gitignorePath, []byte(newContent.String()), 0644)
}

// createProjectConfig creates a .revue.yaml template
func createProjectConfig(repoPath string) error {
	configPath := filepath.Join(repoPath, ".revue.yaml")

	// Don't overwrite an existing project config
	if _, err := os.Stat(configPath); err == nil {
		return nil
	}

	template := `# Revue Project Configuration
# This file overrides defaults from ~/.config/revue/config.yaml

# defaults:
#   token_budget: 200000
#   time_budget: 10m
#   concurrency: 2
#   sequential: false

# breaker:
#   failure_threshold: 3
#   window: 60s
#   reset_timeout: 30s

# retry:
#   base_delay: 1s
#   max_delay: 30s
#   max_retries: 3
`

	return os.WriteFile(configPath, []byte(template), 0644)
}

// printStatus prints a status line with color
func printStatus(symbol, message string, colorAttr color.Attribute) {
	c := color.New(colorAttr)
	fmt.Printf("%s %s\n", c.Sprint(symbol), message)
}
