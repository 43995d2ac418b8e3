package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/revuehq/revue/internal/agent"
	"github.com/revuehq/revue/internal/api"
	"github.com/revuehq/revue/internal/breaker"
	"github.com/revuehq/revue/internal/budget"
	"github.com/revuehq/revue/internal/checkpoint"
	"github.com/revuehq/revue/internal/phase"
	"github.com/revuehq/revue/pkg/models"
)

// DefaultMaxConcurrency is the default worker pool size for parallel runs.
const DefaultMaxConcurrency = 2

// Config contains configuration options for the Scheduler.
type Config struct {
	// Executor runs agent phases. Required.
	Executor agent.Executor
	// Budget tracks run-wide token and time consumption.
	// If nil, an unlimited tracker is created.
	Budget *budget.Tracker
	// Checkpoints persists run progress. If nil, checkpointing is disabled.
	Checkpoints *checkpoint.Store
	// Breaker configures the per-agent circuit breakers.
	Breaker breaker.Config
	// MaxConcurrency bounds the worker pool in parallel mode.
	// Defaults to DefaultMaxConcurrency.
	MaxConcurrency int
	// Sequential runs tasks one at a time, in order. Used when the call
	// provider enforces strict per-account rate limits.
	Sequential bool
	// RateLimitRetries caps scheduler-level retries of a whole task on
	// rate-limit-class errors. Defaults to 3.
	RateLimitRetries int
	// Backoff is the retry delay policy, shared by the scheduler's
	// rate-limit retries and the per-task phase machines.
	Backoff phase.BackoffPolicy
	// Transitions is the phase table for multi-phase tasks.
	// Defaults to phase.DefaultTransitions().
	Transitions phase.TransitionTable
	// MaxIterations caps phase transitions per task.
	MaxIterations int
	// Resume loads an existing checkpoint for the same inputs hash and
	// skips agents it records as completed.
	Resume bool
	// Policy computes the merged decision. Defaults to PriorityPolicy.
	Policy MergePolicy
	// Logger receives debug output. Optional.
	Logger *DebugLogger
	// Events receives progress events. Optional.
	Events *EventEmitter
	// TraceID identifies the run. Generated if empty.
	TraceID string
}

// Scheduler runs a set of independent agent tasks under a bounded
// concurrency limit, wiring every task through its own circuit breaker
// and the shared budget tracker, persisting progress after each
// completion, and merging all results into one decision.
//
// The budget tracker and checkpoint store are the only state shared
// across concurrently-running tasks; breakers and phase machines are
// per-agent and never shared.
type Scheduler struct {
	cfg     Config
	traceID string

	breakersMu sync.Mutex
	breakers   map[string]*breaker.Breaker

	// mu protects the checkpoint bookkeeping below.
	mu         sync.Mutex
	inputsHash string
	completed  map[string]checkpoint.ResultSummary
	failed     []string
	current    string
	resumed    map[string]checkpoint.ResultSummary
}

// New creates a Scheduler. The executor is required.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if cfg.Budget == nil {
		cfg.Budget = budget.New(budget.Config{})
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = DefaultMaxConcurrency
	}
	if cfg.RateLimitRetries <= 0 {
		cfg.RateLimitRetries = 3
	}
	if cfg.Backoff == (phase.BackoffPolicy{}) {
		cfg.Backoff = phase.DefaultBackoffPolicy()
	}
	if cfg.Transitions == nil {
		cfg.Transitions = phase.DefaultTransitions()
	}
	if cfg.Policy == nil {
		cfg.Policy = PriorityPolicy{}
	}

	traceID := cfg.TraceID
	if traceID == "" {
		traceID = uuid.New().String()[:8]
	}
	if cfg.Logger != nil {
		setPackageLogger(cfg.Logger)
	}

	return &Scheduler{
		cfg:       cfg,
		traceID:   traceID,
		breakers:  make(map[string]*breaker.Breaker),
		completed: make(map[string]checkpoint.ResultSummary),
		resumed:   make(map[string]checkpoint.ResultSummary),
	}, nil
}

// TraceID returns the run's trace identifier.
func (s *Scheduler) TraceID() string {
	return s.traceID
}

// BreakerState returns the circuit state for an agent, for diagnostics.
func (s *Scheduler) BreakerState(agentName string) breaker.State {
	return s.breakerFor(agentName).State()
}

// Run executes all tasks and merges their results into one decision.
//
// Task-level failures never abort sibling tasks; the returned error is
// non-nil only for orchestrator-level interruptions (cancellation), and
// even then the aggregate carries the partial results with an explicit
// stop reason. On cancellation a best-effort checkpoint is saved before
// the error propagates; tasks interrupted mid-flight are recorded as
// neither completed nor failed, so a resumed run re-runs them.
func (s *Scheduler) Run(ctx context.Context, tasks []models.AgentTask) (*AggregateResult, error) {
	start := time.Now()

	s.mu.Lock()
	s.inputsHash = inputsHash(tasks)
	hash := s.inputsHash
	s.mu.Unlock()

	debugLog("[scheduler] run %s starting: %d tasks, hash=%s, sequential=%v",
		s.traceID, len(tasks), hash, s.cfg.Sequential)

	s.cfg.Budget.OnThreshold(func(threshold float64, snap budget.Snapshot) {
		debugLog("[scheduler] budget warning: %.0f%% used (%d tokens)", threshold*100, snap.TokensUsed)
		s.emit(Event{
			Type:       EventBudgetWarning,
			Message:    fmt.Sprintf("budget at %.0f%%", threshold*100),
			TokensUsed: snap.TokensUsed,
		})
	})

	if s.cfg.Resume {
		s.loadResumeState(hash)
	}

	results := make([]*models.AgentResult, len(tasks))
	if s.cfg.Sequential {
		s.runSequential(ctx, tasks, results)
	} else {
		s.runParallel(ctx, tasks, results)
	}

	aggregate := &AggregateResult{
		TraceID:    s.traceID,
		InputsHash: hash,
		Results:    results,
		Decision:   s.cfg.Policy.Compute(results),
		Budget:     s.cfg.Budget.Snapshot(),
		Duration:   time.Since(start),
	}

	if err := ctx.Err(); err != nil {
		// Persist what we have before the cancellation propagates.
		aggregate.StopReason = StopCancelled
		s.saveCheckpoint()
		s.emit(Event{Type: EventRunDone, Message: string(StopCancelled), Error: err})
		return aggregate, fmt.Errorf("run cancelled: %w", err)
	}

	aggregate.StopReason = s.stopReason(results)
	if aggregate.StopReason == StopCompleted && s.allCompleted(results) {
		s.deleteCheckpoint(hash)
	}

	debugLog("[scheduler] run %s done: %s, verdict=%s, tokens=%d",
		s.traceID, aggregate.StopReason, aggregate.Decision.Verdict, aggregate.TokensUsed())
	s.emit(Event{Type: EventRunDone, Message: string(aggregate.StopReason), TokensUsed: aggregate.TokensUsed()})
	return aggregate, nil
}

// runSequential executes tasks one at a time, in order.
func (s *Scheduler) runSequential(ctx context.Context, tasks []models.AgentTask, results []*models.AgentResult) {
	for i := range tasks {
		if ctx.Err() != nil {
			return
		}
		results[i] = s.process(ctx, tasks[i])
	}
}

// runParallel executes tasks on a bounded worker pool. Result slots are
// indexed by submission order, not completion order, so the aggregate is
// deterministic regardless of completion race.
func (s *Scheduler) runParallel(ctx context.Context, tasks []models.AgentTask, results []*models.AgentResult) {
	indexCh := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < s.cfg.MaxConcurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range indexCh {
				if ctx.Err() != nil {
					continue
				}
				results[i] = s.process(ctx, tasks[i])
			}
		}()
	}

feed:
	for i := range tasks {
		select {
		case <-ctx.Done():
			break feed
		case indexCh <- i:
		}
	}
	close(indexCh)
	wg.Wait()
}

// process runs one task through its gates: resume skip, circuit breaker,
// budget, then execution with scheduler-level rate-limit retries.
func (s *Scheduler) process(ctx context.Context, task models.AgentTask) *models.AgentResult {
	if summary, ok := s.resumedSummary(task.Agent); ok {
		debugLog("[scheduler] agent %s already completed in checkpoint, skipping", task.Agent)
		return &models.AgentResult{
			Agent:      task.Agent,
			Status:     summary.Status,
			Findings:   summary.Findings,
			Summary:    summary.Summary,
			TokensUsed: summary.TokensUsed,
		}
	}

	br := s.breakerFor(task.Agent)

	// Gate 1: circuit breaker. An open circuit synthesizes a failure
	// result immediately; no external call is made.
	if !br.CanExecute() {
		debugLog("[scheduler] agent %s skipped: circuit open", task.Agent)
		s.emit(Event{Type: EventTaskSkipped, Agent: task.Agent, Message: "circuit open"})
		res := &models.AgentResult{
			Agent:  task.Agent,
			Status: models.ResultSkippedCircuitOpen,
			Error:  fmt.Sprintf("circuit breaker open for agent %s", task.Agent),
		}
		s.recordOutcome(task.Agent, res)
		return res
	}

	// Gate 2: budget. Once exhausted, no new external calls start.
	if s.cfg.Budget.IsExhausted() {
		debugLog("[scheduler] agent %s skipped: budget exhausted", task.Agent)
		s.emit(Event{Type: EventTaskSkipped, Agent: task.Agent, Message: "budget exhausted"})
		res := &models.AgentResult{
			Agent:  task.Agent,
			Status: models.ResultSkippedBudget,
			Error:  "run budget exhausted before task started",
		}
		s.recordOutcome(task.Agent, res)
		return res
	}

	s.setCurrent(task.Agent)
	s.emit(Event{Type: EventTaskStarted, Agent: task.Agent})

	start := time.Now()
	res := s.executeWithRateLimitRetry(ctx, task, br)
	if res == nil {
		// Interrupted mid-flight: absent from both completed and failed
		// lists so a resume attempt re-runs this agent.
		s.setCurrent("")
		return nil
	}
	res.Duration = time.Since(start)

	s.setCurrent("")
	s.recordOutcome(task.Agent, res)

	if res.Status == models.ResultCompleted {
		s.emit(Event{Type: EventTaskCompleted, Agent: task.Agent, TokensUsed: res.TokensUsed})
	} else {
		s.emit(Event{Type: EventTaskFailed, Agent: task.Agent, Message: res.Error})
	}
	return res
}

// executeWithRateLimitRetry retries the whole task on rate-limit-class
// errors. This is distinct from the phase machine's transient retries:
// the provider is pushing back on call volume, so the entire call is
// backed off and re-run from a fresh machine.
func (s *Scheduler) executeWithRateLimitRetry(ctx context.Context, task models.AgentTask, br *breaker.Breaker) *models.AgentResult {
	var attempts int
	for {
		res, err := s.executeTask(ctx, task, br)
		attempts++

		if err == nil {
			if res != nil {
				res.Attempts = attempts
			}
			return res
		}
		if ctx.Err() != nil {
			return nil
		}
		if !api.IsRateLimited(err) || attempts > s.cfg.RateLimitRetries {
			return &models.AgentResult{
				Agent:    task.Agent,
				Status:   models.ResultFailed,
				Attempts: attempts,
				Error:    err.Error(),
			}
		}

		debugLog("[scheduler] agent %s rate limited (attempt %d), backing off", task.Agent, attempts)
		if waitErr := s.cfg.Backoff.Wait(ctx, attempts-1); waitErr != nil {
			return nil
		}
	}
}

// executeTask drives one task through its phase machine. The executor is
// consulted once per phase; failures are recorded on the breaker per
// attempt so persistent brokenness opens the circuit even inside one task.
func (s *Scheduler) executeTask(ctx context.Context, task models.AgentTask, br *breaker.Breaker) (*models.AgentResult, error) {
	table := s.cfg.Transitions
	if task.SingleShot {
		table = singleShotTransitions()
	}

	machine, err := phase.NewMachine(phase.Config{
		Agent:         task.Agent,
		Table:         table,
		MaxIterations: s.cfg.MaxIterations,
		Backoff:       s.cfg.Backoff,
	})
	if err != nil {
		return nil, fmt.Errorf("agent %s: %w", task.Agent, err)
	}

	var (
		findings []models.Finding
		tokens   int64
		summary  string
	)

	final, err := machine.Run(ctx, func(ctx context.Context, current phase.Phase) (phase.Phase, error) {
		if !br.CanExecute() {
			return "", phase.Transient(fmt.Errorf("circuit open for agent %s", task.Agent))
		}

		out, execErr := s.cfg.Executor.Execute(ctx, task, current)
		if execErr != nil {
			if ctx.Err() == nil {
				br.RecordFailure()
			}
			return "", execErr
		}
		br.RecordSuccess()

		findings = append(findings, out.Findings...)
		tokens += out.TokensUsed
		s.cfg.Budget.Record(out.TokensUsed)
		if out.Summary != "" {
			summary = out.Summary
		}
		return out.Next, nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		if api.IsRateLimited(err) {
			return nil, err
		}
		return &models.AgentResult{
			Agent:      task.Agent,
			Status:     models.ResultFailed,
			Findings:   findings,
			TokensUsed: tokens,
			Error:      err.Error(),
		}, nil
	}

	res := &models.AgentResult{
		Agent:      task.Agent,
		Findings:   findings,
		Summary:    summary,
		TokensUsed: tokens,
	}
	switch final {
	case phase.PhaseDone:
		res.Status = models.ResultCompleted
	default:
		res.Status = models.ResultFailed
		if lastErr := machine.LastErr(); lastErr != nil {
			res.Error = lastErr.Error()
		} else {
			res.Error = fmt.Sprintf("agent stopped in phase %s", final)
		}
	}
	return res, nil
}

// singleShotTransitions is the one-hop table for single-shot tasks.
func singleShotTransitions() phase.TransitionTable {
	return phase.TransitionTable{
		phase.PhaseIntake: {phase.PhaseDone, phase.PhaseFailed},
		phase.PhaseDone:   {},
		phase.PhaseFailed: {},
	}
}

// breakerFor returns the circuit breaker for an agent, creating it on
// first use. Breakers live for the whole orchestrator run.
func (s *Scheduler) breakerFor(agentName string) *breaker.Breaker {
	s.breakersMu.Lock()
	defer s.breakersMu.Unlock()

	br, ok := s.breakers[agentName]
	if !ok {
		br = breaker.New(s.cfg.Breaker)
		s.breakers[agentName] = br
	}
	return br
}

// setCurrent records the agent currently in flight for checkpointing.
func (s *Scheduler) setCurrent(agentName string) {
	s.mu.Lock()
	s.current = agentName
	s.mu.Unlock()
}

// recordOutcome updates the checkpoint bookkeeping and persists a
// checkpoint when enabled.
func (s *Scheduler) recordOutcome(agentName string, res *models.AgentResult) {
	s.mu.Lock()
	if res.Status == models.ResultCompleted {
		s.completed[agentName] = checkpoint.ResultSummary{
			Status:       res.Status,
			FindingCount: len(res.Findings),
			TokensUsed:   res.TokensUsed,
			Summary:      res.Summary,
			Findings:     res.Findings,
		}
	} else {
		s.failed = append(s.failed, agentName)
	}
	s.mu.Unlock()

	s.saveCheckpoint()
}

// saveCheckpoint persists the current progress. Best effort: failures
// are logged, never fatal to the run.
func (s *Scheduler) saveCheckpoint() {
	if s.cfg.Checkpoints == nil {
		return
	}

	s.mu.Lock()
	completed := make(map[string]checkpoint.ResultSummary, len(s.completed))
	for k, v := range s.completed {
		completed[k] = v
	}
	failed := append([]string(nil), s.failed...)
	cp := &checkpoint.Checkpoint{
		TraceID:      s.traceID,
		InputsHash:   s.inputsHash,
		Completed:    completed,
		Failed:       failed,
		CurrentAgent: s.current,
		Budget:       s.cfg.Budget.Snapshot(),
	}
	s.mu.Unlock()

	if err := s.cfg.Checkpoints.Save(cp); err != nil {
		debugLog("[scheduler] checkpoint save failed: %v", err)
		return
	}
	s.emit(Event{Type: EventCheckpointSaved, Message: cp.InputsHash})
}

// deleteCheckpoint removes the checkpoint after a fully-successful run.
func (s *Scheduler) deleteCheckpoint(hash string) {
	if s.cfg.Checkpoints == nil {
		return
	}
	if err := s.cfg.Checkpoints.Delete(hash); err != nil {
		debugLog("[scheduler] checkpoint delete failed: %v", err)
	}
}

// loadResumeState restores completed-agent summaries from an existing
// checkpoint for the same inputs hash. The recorded token usage is
// carried forward into the budget so a resumed run cannot overspend.
func (s *Scheduler) loadResumeState(hash string) {
	if s.cfg.Checkpoints == nil {
		return
	}

	cp, err := s.cfg.Checkpoints.Load(hash)
	if err != nil {
		debugLog("[scheduler] no checkpoint to resume: %v", err)
		return
	}

	s.mu.Lock()
	for agentName, summary := range cp.Completed {
		s.resumed[agentName] = summary
		s.completed[agentName] = summary
	}
	s.mu.Unlock()

	if cp.Budget.TokensUsed > 0 {
		s.cfg.Budget.Record(cp.Budget.TokensUsed)
	}
	debugLog("[scheduler] resumed from checkpoint %s: %d agents already complete",
		hash, len(cp.Completed))
}

// resumedSummary returns the checkpointed summary for an agent, if the
// run is resuming and the agent already completed.
func (s *Scheduler) resumedSummary(agentName string) (checkpoint.ResultSummary, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	summary, ok := s.resumed[agentName]
	return summary, ok
}

// stopReason derives the run's stop reason from the results and budget.
func (s *Scheduler) stopReason(results []*models.AgentResult) StopReason {
	for _, r := range results {
		if r != nil && r.Status == models.ResultSkippedBudget {
			return StopBudgetExhausted
		}
	}
	if s.cfg.Budget.IsExhausted() {
		return StopBudgetExhausted
	}
	return StopCompleted
}

// allCompleted reports whether every slot holds a completed result.
func (s *Scheduler) allCompleted(results []*models.AgentResult) bool {
	for _, r := range results {
		if r == nil || r.Status != models.ResultCompleted {
			return false
		}
	}
	return true
}

func (s *Scheduler) emit(event Event) {
	if s.cfg.Events != nil {
		s.cfg.Events.Emit(event)
	}
}

// inputsHash derives the checkpoint key for a task set: order-independent
// over agent identities and over the reviewed content.
func inputsHash(tasks []models.AgentTask) string {
	agents := make([]string, len(tasks))
	contents := make([]string, len(tasks))
	for i, t := range tasks {
		agents[i] = t.Agent
		contents[i] = t.Content
	}
	sort.Strings(contents)
	return checkpoint.ComputeInputsHash(agents, strings.Join(contents, "\x00"))
}
