package phase

import (
	"context"
	"fmt"
	"sync"
)

// DefaultMaxIterations is the default ceiling on phase transitions for a
// single run, preventing runaway analyze/synthesize cycling.
const DefaultMaxIterations = 10

// Config contains configuration for a Machine.
type Config struct {
	// Agent is the identity of the agent this machine drives.
	Agent string
	// Initial is the starting phase. Defaults to PhaseIntake.
	Initial Phase
	// Table is the transition table. Defaults to DefaultTransitions().
	Table TransitionTable
	// MaxIterations caps successful transitions per run.
	// Defaults to DefaultMaxIterations.
	MaxIterations int
	// Backoff is the retry policy for transient failures.
	Backoff BackoffPolicy
}

// Machine validates phase transitions against a declared table and drives
// a single workflow through its phases. All transitions are serialized
// behind one mutex; the phase action itself runs outside the lock, so an
// action may fan out concurrent sub-operations while transitions stay
// strictly ordered.
type Machine struct {
	cfg Config

	mu         sync.Mutex
	current    Phase
	iterations int
	retries    int
	lastErr    error
}

// NewMachine creates a Machine for the given configuration. The table is
// validated so the current phase is always a key in it; the terminal
// phases failed and stopped_retry_exhausted are added if absent.
func NewMachine(cfg Config) (*Machine, error) {
	if cfg.Table == nil {
		cfg.Table = DefaultTransitions()
	} else {
		// Copy so adding the implicit terminal keys below never mutates a
		// table shared by concurrently-constructed machines.
		table := make(TransitionTable, len(cfg.Table))
		for from, targets := range cfg.Table {
			table[from] = append([]Phase(nil), targets...)
		}
		cfg.Table = table
	}
	if cfg.Initial == "" {
		cfg.Initial = PhaseIntake
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if cfg.Backoff == (BackoffPolicy{}) {
		cfg.Backoff = DefaultBackoffPolicy()
	}

	// The machine can stop in these phases regardless of the declared
	// workflow, so they must exist as terminal keys.
	if _, ok := cfg.Table[PhaseStoppedRetryExhausted]; !ok {
		cfg.Table[PhaseStoppedRetryExhausted] = []Phase{}
	}
	if _, ok := cfg.Table[PhaseFailed]; !ok {
		cfg.Table[PhaseFailed] = []Phase{}
	}

	if _, ok := cfg.Table[cfg.Initial]; !ok {
		return nil, fmt.Errorf("initial phase %q is not in the transition table", cfg.Initial)
	}
	if err := cfg.Table.Validate(); err != nil {
		return nil, fmt.Errorf("invalid transition table: %w", err)
	}

	return &Machine{cfg: cfg, current: cfg.Initial}, nil
}

// Current returns the machine's current phase.
func (m *Machine) Current() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Iterations returns the number of successful transitions so far.
func (m *Machine) Iterations() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.iterations
}

// Retries returns the transient retry count for the current phase.
func (m *Machine) Retries() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.retries
}

// LastErr returns the last classified error recorded by the machine.
func (m *Machine) LastErr() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Agent returns the identity of the agent this machine drives.
func (m *Machine) Agent() string {
	return m.cfg.Agent
}

// CanTransitionTo reports whether the table allows moving from the
// current phase to next, without mutating any state.
func (m *Machine) CanTransitionTo(next Phase) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg.Table.Allows(m.current, next)
}

// TransitionTo moves the machine to the next phase. It succeeds iff the
// transition table allows the edge from the current phase; on success the
// current phase changes and the iteration count increments. On failure
// the machine is provably unchanged and the returned error names the
// attempted edge and the valid edges from the current phase.
func (m *Machine) TransitionTo(next Phase) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transitionLocked(next)
}

func (m *Machine) transitionLocked(next Phase) error {
	if !m.cfg.Table.Allows(m.current, next) {
		err := &InvalidTransitionError{
			From:    m.current,
			To:      next,
			Allowed: m.cfg.Table.Allowed(m.current),
		}
		m.lastErr = Structural(err)
		return err
	}
	m.current = next
	m.iterations++
	return nil
}

// Reset returns the machine to its initial phase and clears the retry and
// iteration counters. Configuration is held constant.
func (m *Machine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = m.cfg.Initial
	m.iterations = 0
	m.retries = 0
	m.lastErr = nil
}

// Action executes one phase and returns the phase the workflow should
// move to next. The action body may run concurrent sub-operations; the
// machine only serializes the transitions between phases.
type Action func(ctx context.Context, current Phase) (Phase, error)

// Run drives the machine from its current phase until a terminal phase is
// reached, executing action once per phase.
//
// Failures raised by the action are classified: structural failures
// surface immediately with the machine's state preserved for diagnostics;
// transient failures are retried with exponential backoff and jitter, and
// exhausting the retry cap parks the machine in stopped_retry_exhausted
// instead of returning the raw failure. Exceeding the iteration ceiling
// is fatal and distinct from both.
func (m *Machine) Run(ctx context.Context, action Action) (Phase, error) {
	for {
		m.mu.Lock()
		current := m.current
		if m.cfg.Table.Terminal(current) {
			m.mu.Unlock()
			return current, nil
		}
		if m.iterations >= m.cfg.MaxIterations {
			m.lastErr = ErrIterationLimit
			m.mu.Unlock()
			return current, fmt.Errorf("agent %s at phase %s: %w", m.cfg.Agent, current, ErrIterationLimit)
		}
		m.mu.Unlock()

		next, err := action(ctx, current)
		if err != nil {
			done, runErr := m.handleFailure(ctx, current, err)
			if done {
				return m.Current(), runErr
			}
			continue
		}

		m.mu.Lock()
		m.retries = 0
		if tErr := m.transitionLocked(next); tErr != nil {
			m.mu.Unlock()
			return current, fmt.Errorf("agent %s requested invalid phase: %w", m.cfg.Agent, tErr)
		}
		m.mu.Unlock()
	}
}

// handleFailure classifies an action failure and decides whether the run
// is over. It returns done=false when the action should be retried.
func (m *Machine) handleFailure(ctx context.Context, current Phase, err error) (done bool, runErr error) {
	if ctx.Err() != nil {
		return true, ctx.Err()
	}

	class := Classify(err)

	m.mu.Lock()
	m.lastErr = err
	if class == ClassStructural {
		m.mu.Unlock()
		return true, fmt.Errorf("agent %s failed structurally at phase %s: %w", m.cfg.Agent, current, err)
	}

	if m.retries >= m.cfg.Backoff.MaxRetries {
		// Park in the terminal retry-exhausted phase rather than raising.
		// The underlying failure stays available through LastErr.
		m.current = PhaseStoppedRetryExhausted
		m.lastErr = fmt.Errorf("agent %s at phase %s after %d attempts: %w: %v",
			m.cfg.Agent, current, m.cfg.Backoff.MaxRetries+1, ErrRetryExhausted, err)
		m.mu.Unlock()
		return true, nil
	}
	m.retries++
	attempt := m.retries - 1
	m.mu.Unlock()

	if waitErr := m.cfg.Backoff.Wait(ctx, attempt); waitErr != nil {
		return true, waitErr
	}
	return false, nil
}
