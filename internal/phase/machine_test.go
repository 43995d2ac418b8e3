package phase

import (
	"context"
	"errors"
	"testing"
	"time"
)

// fastBackoff keeps retry waits negligible in tests.
func fastBackoff(maxRetries int) BackoffPolicy {
	return BackoffPolicy{
		BaseDelay:  time.Microsecond,
		MaxDelay:   time.Millisecond,
		MaxRetries: maxRetries,
		Jitter:     time.Microsecond,
	}
}

func newTestMachine(t *testing.T) *Machine {
	t.Helper()
	m, err := NewMachine(Config{Agent: "security", Backoff: fastBackoff(3)})
	if err != nil {
		t.Fatalf("failed to create machine: %v", err)
	}
	return m
}

func TestNewMachineDefaults(t *testing.T) {
	m := newTestMachine(t)

	if m.Current() != PhaseIntake {
		t.Errorf("expected initial phase %q, got %q", PhaseIntake, m.Current())
	}
	if m.Iterations() != 0 {
		t.Errorf("expected 0 iterations, got %d", m.Iterations())
	}
}

func TestNewMachineRejectsUnknownInitial(t *testing.T) {
	_, err := NewMachine(Config{Initial: Phase("warmup")})
	if err == nil {
		t.Fatal("expected error for initial phase missing from table")
	}
}

func TestNewMachineRejectsDanglingTarget(t *testing.T) {
	table := TransitionTable{
		PhaseIntake: {Phase("nowhere")},
	}
	_, err := NewMachine(Config{Table: table})
	if err == nil {
		t.Fatal("expected error for transition target missing from table")
	}
}

func TestTransitionToValid(t *testing.T) {
	m := newTestMachine(t)

	if err := m.TransitionTo(PhaseAnalyze); err != nil {
		t.Fatalf("expected valid transition, got error: %v", err)
	}
	if m.Current() != PhaseAnalyze {
		t.Errorf("expected phase %q, got %q", PhaseAnalyze, m.Current())
	}
	if m.Iterations() != 1 {
		t.Errorf("expected 1 iteration, got %d", m.Iterations())
	}
}

func TestTransitionToInvalidLeavesStateUnchanged(t *testing.T) {
	m := newTestMachine(t)

	err := m.TransitionTo(PhaseDone)
	if err == nil {
		t.Fatal("expected invalid transition error")
	}

	var invalid *InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidTransitionError, got %T", err)
	}
	if invalid.From != PhaseIntake || invalid.To != PhaseDone {
		t.Errorf("expected edge intake -> done in error, got %s -> %s", invalid.From, invalid.To)
	}
	if len(invalid.Allowed) == 0 {
		t.Error("expected error to name the valid edges")
	}

	if m.Current() != PhaseIntake {
		t.Errorf("expected phase unchanged at %q, got %q", PhaseIntake, m.Current())
	}
	if m.Iterations() != 0 {
		t.Errorf("expected iterations unchanged at 0, got %d", m.Iterations())
	}
}

func TestTransitionTableExhaustive(t *testing.T) {
	table := DefaultTransitions()

	for from, allowed := range table {
		allowedSet := make(map[Phase]bool)
		for _, p := range allowed {
			allowedSet[p] = true
		}

		for to := range table {
			m, err := NewMachine(Config{Initial: from, Table: DefaultTransitions(), Backoff: fastBackoff(1)})
			if err != nil {
				t.Fatalf("failed to create machine at %q: %v", from, err)
			}

			err = m.TransitionTo(to)
			if allowedSet[to] && err != nil {
				t.Errorf("expected %s -> %s to succeed, got %v", from, to, err)
			}
			if !allowedSet[to] && err == nil {
				t.Errorf("expected %s -> %s to be rejected", from, to)
			}
			if !allowedSet[to] && m.Current() != from {
				t.Errorf("failed transition mutated phase: %q -> %q", from, m.Current())
			}
		}
	}
}

func TestCanTransitionToDoesNotMutate(t *testing.T) {
	m := newTestMachine(t)

	if !m.CanTransitionTo(PhaseAnalyze) {
		t.Error("expected intake -> analyze to be allowed")
	}
	if m.CanTransitionTo(PhaseDone) {
		t.Error("expected intake -> done to be rejected")
	}
	if m.Current() != PhaseIntake || m.Iterations() != 0 {
		t.Error("CanTransitionTo must not mutate state")
	}
}

func TestReset(t *testing.T) {
	m := newTestMachine(t)

	if err := m.TransitionTo(PhaseAnalyze); err != nil {
		t.Fatalf("transition failed: %v", err)
	}
	m.Reset()

	if m.Current() != PhaseIntake {
		t.Errorf("expected reset to initial phase, got %q", m.Current())
	}
	if m.Iterations() != 0 || m.Retries() != 0 {
		t.Error("expected reset to clear counters")
	}
	if m.LastErr() != nil {
		t.Error("expected reset to clear last error")
	}
}

func TestRunHappyPath(t *testing.T) {
	m := newTestMachine(t)

	steps := map[Phase]Phase{
		PhaseIntake:     PhaseAnalyze,
		PhaseAnalyze:    PhaseSynthesize,
		PhaseSynthesize: PhaseDone,
	}

	final, err := m.Run(context.Background(), func(ctx context.Context, current Phase) (Phase, error) {
		return steps[current], nil
	})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if final != PhaseDone {
		t.Errorf("expected final phase %q, got %q", PhaseDone, final)
	}
	if m.Iterations() != 3 {
		t.Errorf("expected 3 iterations, got %d", m.Iterations())
	}
}

func TestRunStructuralFailureFailsFast(t *testing.T) {
	m := newTestMachine(t)

	attempts := 0
	_, err := m.Run(context.Background(), func(ctx context.Context, current Phase) (Phase, error) {
		attempts++
		return "", Structural(errors.New("bad envelope"))
	})
	if err == nil {
		t.Fatal("expected structural failure to surface")
	}
	if attempts != 1 {
		t.Errorf("expected exactly 1 attempt for structural failure, got %d", attempts)
	}
	// Prior state is preserved for diagnostics.
	if m.Current() != PhaseIntake {
		t.Errorf("expected phase preserved at %q, got %q", PhaseIntake, m.Current())
	}
}

func TestRunTransientRetryThenSuccess(t *testing.T) {
	m := newTestMachine(t)

	attempts := 0
	final, err := m.Run(context.Background(), func(ctx context.Context, current Phase) (Phase, error) {
		if current == PhaseIntake {
			attempts++
			if attempts <= 2 {
				return "", Transient(errors.New("connection reset"))
			}
			return PhaseAnalyze, nil
		}
		if current == PhaseAnalyze {
			return PhaseSynthesize, nil
		}
		return PhaseDone, nil
	})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if final != PhaseDone {
		t.Errorf("expected final phase %q, got %q", PhaseDone, final)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts at intake, got %d", attempts)
	}
}

func TestRunTransientRetryExhaustion(t *testing.T) {
	maxRetries := 3
	m, err := NewMachine(Config{Agent: "perf", Backoff: fastBackoff(maxRetries)})
	if err != nil {
		t.Fatalf("failed to create machine: %v", err)
	}

	attempts := 0
	final, err := m.Run(context.Background(), func(ctx context.Context, current Phase) (Phase, error) {
		attempts++
		return "", Transient(errors.New("timeout"))
	})
	if err != nil {
		t.Fatalf("retry exhaustion should park, not raise: %v", err)
	}
	if final != PhaseStoppedRetryExhausted {
		t.Errorf("expected final phase %q, got %q", PhaseStoppedRetryExhausted, final)
	}
	// Exactly max_retries+1 total attempts, never more, never fewer.
	if attempts != maxRetries+1 {
		t.Errorf("expected %d attempts, got %d", maxRetries+1, attempts)
	}
	if !errors.Is(m.LastErr(), ErrRetryExhausted) {
		t.Errorf("expected last error to wrap ErrRetryExhausted, got %v", m.LastErr())
	}
}

func TestRunInvalidRequestedPhase(t *testing.T) {
	m := newTestMachine(t)

	_, err := m.Run(context.Background(), func(ctx context.Context, current Phase) (Phase, error) {
		return PhaseDone, nil // intake -> done is not a valid edge
	})
	if err == nil {
		t.Fatal("expected error for invalid requested phase")
	}

	var invalid *InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidTransitionError, got %T: %v", err, err)
	}
	if m.Current() != PhaseIntake {
		t.Errorf("expected prior state preserved, got %q", m.Current())
	}
}

func TestRunIterationCeiling(t *testing.T) {
	m, err := NewMachine(Config{Agent: "loopy", MaxIterations: 4, Backoff: fastBackoff(1)})
	if err != nil {
		t.Fatalf("failed to create machine: %v", err)
	}

	// Cycle analyze <-> synthesize forever.
	_, err = m.Run(context.Background(), func(ctx context.Context, current Phase) (Phase, error) {
		switch current {
		case PhaseIntake:
			return PhaseAnalyze, nil
		case PhaseAnalyze:
			return PhaseSynthesize, nil
		default:
			return PhaseAnalyze, nil
		}
	})
	if !errors.Is(err, ErrIterationLimit) {
		t.Fatalf("expected ErrIterationLimit, got %v", err)
	}
}

func TestRunCancelledContext(t *testing.T) {
	m := newTestMachine(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Run(ctx, func(ctx context.Context, current Phase) (Phase, error) {
		return "", Transient(errors.New("network blip"))
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
