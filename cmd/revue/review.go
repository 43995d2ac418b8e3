package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/revuehq/revue/internal/agent"
	"github.com/revuehq/revue/internal/api"
	"github.com/revuehq/revue/internal/breaker"
	"github.com/revuehq/revue/internal/budget"
	"github.com/revuehq/revue/internal/checkpoint"
	"github.com/revuehq/revue/internal/config"
	"github.com/revuehq/revue/internal/orchestrator"
	"github.com/revuehq/revue/internal/phase"
	runsignal "github.com/revuehq/revue/internal/signal"
	"github.com/revuehq/revue/internal/state"
	"github.com/revuehq/revue/pkg/models"
)

var (
	reviewDiffFile    string
	reviewSequential  bool
	reviewResume      bool
	reviewTokenBudget int64
	reviewTimeBudget  time.Duration
	reviewConcurrency int
	reviewAgents      []string
	reviewModel       string
	reviewJSON        bool
	reviewQuiet       bool
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Review the current change with the agent roster",
	Long: `Run every enabled roster agent against the change under review.

By default the change is the working tree diff against HEAD. Use --diff
to review a patch file instead, or --diff - to read one from stdin.

The run stops early when the token or time budget is exhausted; findings
collected up to that point still produce a verdict. An interrupted run
(Ctrl-C, or a stop file in .revue/signals) checkpoints its progress and
can be continued with --resume.

Exit status is 0 for approve and approve_with_warnings, 1 for
needs_changes and block, 2 for orchestration errors.`,
	RunE: runReview,
}

func init() {
	reviewCmd.Flags().StringVar(&reviewDiffFile, "diff", "", "Review a patch file instead of the git diff (- for stdin)")
	reviewCmd.Flags().BoolVar(&reviewSequential, "sequential", false, "Run agents one at a time")
	reviewCmd.Flags().BoolVar(&reviewResume, "resume", false, "Continue from the last checkpoint for the same inputs")
	reviewCmd.Flags().Int64Var(&reviewTokenBudget, "budget", 0, "Token budget for the run (0 uses the configured default)")
	reviewCmd.Flags().DurationVar(&reviewTimeBudget, "time-budget", 0, "Wall-clock budget for the run (0 uses the configured default)")
	reviewCmd.Flags().IntVar(&reviewConcurrency, "concurrency", 0, "Parallel agent limit (0 uses the configured default)")
	reviewCmd.Flags().StringSliceVar(&reviewAgents, "agents", nil, "Run only these roster agents")
	reviewCmd.Flags().StringVar(&reviewModel, "model", "", "Override the default model")
	reviewCmd.Flags().BoolVar(&reviewJSON, "json", false, "Emit the aggregate result as JSON")
	reviewCmd.Flags().BoolVar(&reviewQuiet, "quiet", false, "Suppress progress output")
}

func runReview(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	content, err := loadReviewContent(cwd)
	if err != nil {
		return err
	}
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("nothing to review: the diff is empty")
	}

	roster, err := config.LoadRosterOrDefault(cwd)
	if err != nil {
		return err
	}
	tasks, err := buildTasks(roster, cfg, content)
	if err != nil {
		return err
	}

	client, err := newAPIClient(cfg)
	if err != nil {
		return err
	}

	// Ctrl-C and the stop file both cancel the run; the scheduler
	// checkpoints before the cancellation surfaces.
	ctx, cancelSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancelSignals()
	ctx, stopWatcher, err := runsignal.WatchContext(ctx, cwd)
	if err != nil {
		return fmt.Errorf("start stop-signal watcher: %w", err)
	}
	defer stopWatcher.Close()

	logger := orchestrator.NewDebugLoggerForRepo(cwd)
	defer logger.Close()

	emitter := orchestrator.NewEventEmitter(64)
	progressDone := make(chan struct{})
	go printProgress(emitter, progressDone)

	tracker := budget.New(budget.Config{
		MaxTokens:   pickInt64(reviewTokenBudget, cfg.Defaults.TokenBudget),
		MaxDuration: pickDuration(reviewTimeBudget, cfg.Defaults.TimeBudget),
	})

	sched, err := orchestrator.New(orchestrator.Config{
		Executor:    agent.NewLLMExecutor(client),
		Budget:      tracker,
		Checkpoints: checkpoint.NewStore(checkpointDir(cwd)),
		Breaker: breaker.Config{
			FailureThreshold: cfg.Breaker.FailureThreshold,
			Window:           cfg.Breaker.Window,
			ResetTimeout:     cfg.Breaker.ResetTimeout,
			SuccessThreshold: cfg.Breaker.SuccessThreshold,
		},
		Backoff: phase.BackoffPolicy{
			BaseDelay:  cfg.Retry.BaseDelay,
			MaxDelay:   cfg.Retry.MaxDelay,
			MaxRetries: cfg.Retry.MaxRetries,
			Jitter:     cfg.Retry.Jitter,
		},
		MaxConcurrency: pickInt(reviewConcurrency, cfg.Defaults.Concurrency),
		MaxIterations:  cfg.Defaults.MaxIterations,
		Sequential:     reviewSequential || cfg.Defaults.Sequential,
		Resume:         reviewResume,
		Logger:         logger,
		Events:         emitter,
	})
	if err != nil {
		return err
	}

	started := time.Now()
	recordRunStart(cwd, sched.TraceID(), started)

	aggregate, runErr := sched.Run(ctx, tasks)
	emitter.Close()
	<-progressDone

	recordRunEnd(cwd, aggregate, started)

	if reviewJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(aggregate); err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
	} else {
		printDecision(aggregate)
	}

	if runErr != nil {
		fmt.Fprintf(os.Stderr, "\nRun interrupted: %v\n", runErr)
		fmt.Fprintln(os.Stderr, "Progress was checkpointed; continue with 'revue review --resume'.")
		os.Exit(2)
	}

	switch aggregate.Decision.Verdict {
	case models.VerdictNeedsChanges, models.VerdictBlock:
		os.Exit(1)
	}
	return nil
}

// loadReviewContent returns the material under review: an explicit patch
// file, stdin, or the working tree diff against HEAD.
func loadReviewContent(cwd string) (string, error) {
	switch reviewDiffFile {
	case "":
		out, err := gitDiff(cwd)
		if err != nil {
			return "", err
		}
		return out, nil
	case "-":
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("read diff from stdin: %w", err)
		}
		return string(data), nil
	default:
		data, err := os.ReadFile(reviewDiffFile)
		if err != nil {
			return "", fmt.Errorf("read diff file: %w", err)
		}
		return string(data), nil
	}
}

// gitDiff returns the working tree diff against HEAD, including staged
// changes.
func gitDiff(cwd string) (string, error) {
	cmd := exec.Command("git", "diff", "HEAD")
	cmd.Dir = cwd
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git diff failed (use --diff to review a patch file): %w", err)
	}
	return string(out), nil
}

// buildTasks turns the enabled roster agents into scheduler tasks,
// honoring the --agents filter.
func buildTasks(roster *config.Roster, cfg *config.Config, content string) ([]models.AgentTask, error) {
	var filter map[string]bool
	if len(reviewAgents) > 0 {
		filter = make(map[string]bool, len(reviewAgents))
		for _, name := range reviewAgents {
			filter[name] = true
		}
	}

	var tasks []models.AgentTask
	for _, a := range roster.Enabled() {
		if filter != nil && !filter[a.Name] {
			continue
		}
		model := a.Model
		if reviewModel != "" {
			model = reviewModel
		} else if model == "" {
			model = cfg.Anthropic.Model
		}
		tasks = append(tasks, models.AgentTask{
			Agent:      a.Name,
			Focus:      a.Focus,
			Model:      model,
			Content:    content,
			MaxTokens:  a.MaxTokens,
			SingleShot: a.SingleShot,
		})
	}
	if len(tasks) == 0 {
		return nil, fmt.Errorf("no agents to run (check the roster and --agents filter)")
	}
	return tasks, nil
}

func newAPIClient(cfg *config.Config) (*api.Client, error) {
	clientCfg := api.ClientConfig{
		Model:         anthropic.Model(cfg.Anthropic.Model),
		UseAWSBedrock: cfg.Anthropic.UseBedrock,
		AWSRegion:     cfg.Anthropic.AWSRegion,
		AWSProfile:    cfg.Anthropic.AWSProfile,
	}
	if !cfg.Anthropic.UseBedrock {
		key, err := config.GetAPIKey(cfg)
		if err != nil {
			return nil, fmt.Errorf("%w\n\nSet it with:\n  export ANTHROPIC_API_KEY=your-key-here\nor: revue config anthropic.api_key <key>", err)
		}
		clientCfg.APIKey = key
	}
	return api.NewClient(clientCfg)
}

func checkpointDir(cwd string) string {
	return filepath.Join(cwd, ".revue", "checkpoints")
}

// printProgress consumes scheduler events and renders them as colored
// one-liners until the emitter is closed.
func printProgress(emitter *orchestrator.EventEmitter, done chan<- struct{}) {
	defer close(done)
	for ev := range emitter.Events() {
		if reviewQuiet {
			continue
		}
		switch ev.Type {
		case orchestrator.EventTaskStarted:
			fmt.Printf("%s %s\n", color.CyanString("▸"), ev.Agent)
		case orchestrator.EventTaskCompleted:
			fmt.Printf("%s %s (%s tokens)\n", color.GreenString("✓"), ev.Agent, formatNumber(ev.TokensUsed))
		case orchestrator.EventTaskFailed:
			fmt.Printf("%s %s: %s\n", color.RedString("✗"), ev.Agent, ev.Message)
		case orchestrator.EventTaskSkipped:
			fmt.Printf("%s %s skipped: %s\n", color.YellowString("⊘"), ev.Agent, ev.Message)
		case orchestrator.EventBudgetWarning:
			fmt.Printf("%s %s\n", color.YellowString("⚠"), ev.Message)
		}
	}
}

// printDecision renders the merged decision.
func printDecision(agg *orchestrator.AggregateResult) {
	fmt.Println()
	fmt.Printf("Verdict: %s\n", colorVerdict(agg.Decision.Verdict))
	fmt.Printf("Run %s: %d/%d agents completed, %s tokens, %s\n",
		agg.TraceID, agg.Completed(), len(agg.Results),
		formatNumber(agg.TokensUsed()), formatDuration(agg.Duration))
	if agg.StopReason != orchestrator.StopCompleted {
		fmt.Printf("Stopped early: %s (partial report)\n", agg.StopReason)
	}

	if len(agg.Decision.MustFix) > 0 {
		fmt.Printf("\n%s\n", color.RedString("Must fix:"))
		for _, f := range agg.Decision.MustFix {
			printFinding(f)
		}
	}
	if len(agg.Decision.ShouldFix) > 0 {
		fmt.Printf("\n%s\n", color.YellowString("Should fix:"))
		for _, f := range agg.Decision.ShouldFix {
			printFinding(f)
		}
	}
	if len(agg.Decision.Notes) > 0 {
		fmt.Println("\nNotes:")
		for _, n := range agg.Decision.Notes {
			fmt.Printf("  - %s\n", n)
		}
	}
}

func printFinding(f models.Finding) {
	fmt.Printf("  [%s] %s (%s, confidence %.0f%%)\n", f.Severity, f.Title, f.Agent, f.Confidence*100)
	if f.Recommendation != "" {
		fmt.Printf("      %s\n", f.Recommendation)
	}
}

func colorVerdict(v models.Verdict) string {
	switch v {
	case models.VerdictApprove:
		return color.GreenString(string(v))
	case models.VerdictApproveWithWarnings:
		return color.YellowString(string(v))
	default:
		return color.RedString(string(v))
	}
}

// recordRunStart writes the in-flight run row. Best effort: history must
// never fail a review.
func recordRunStart(cwd, traceID string, started time.Time) {
	db, err := state.OpenProject(cwd)
	if err != nil {
		return
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return
	}
	db.CreateRun(&state.Run{ID: traceID, StartedAt: started})
}

// recordRunEnd persists the final outcome and per-agent rows.
func recordRunEnd(cwd string, agg *orchestrator.AggregateResult, started time.Time) {
	if agg == nil {
		return
	}
	db, err := state.OpenProject(cwd)
	if err != nil {
		return
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return
	}

	findingCount := len(agg.Decision.MustFix) + len(agg.Decision.ShouldFix)
	db.FinishRun(&state.Run{
		ID:           agg.TraceID,
		InputsHash:   agg.InputsHash,
		Verdict:      string(agg.Decision.Verdict),
		StopReason:   string(agg.StopReason),
		TokensUsed:   agg.TokensUsed(),
		FindingCount: findingCount,
		Duration:     agg.Duration,
		StartedAt:    started,
	})

	for _, r := range agg.Results {
		if r == nil {
			continue
		}
		db.RecordAgentOutcome(&state.AgentOutcome{
			RunID:        agg.TraceID,
			Agent:        r.Agent,
			Status:       string(r.Status),
			FindingCount: len(r.Findings),
			TokensUsed:   r.TokensUsed,
			Attempts:     r.Attempts,
			Error:        r.Error,
		})
	}
}

func pickInt64(flag, def int64) int64 {
	if flag > 0 {
		return flag
	}
	return def
}

func pickInt(flag, def int) int {
	if flag > 0 {
		return flag
	}
	return def
}

func pickDuration(flag, def time.Duration) time.Duration {
	if flag > 0 {
		return flag
	}
	return def
}
