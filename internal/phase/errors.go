package phase

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// FailureClass distinguishes failures worth retrying from failures that
// should fail fast. It is an explicit tag, never inferred from error
// subclassing at call sites.
type FailureClass int

const (
	// ClassStructural marks failures caused by invalid output or state:
	// schema validation failures, unparseable response envelopes, or an
	// invalid requested next phase. Retrying cannot help.
	ClassStructural FailureClass = iota
	// ClassTransient marks failures plausibly caused by a temporary
	// environment condition (network, connection, timeout). These are
	// retried with bounded backoff.
	ClassTransient
)

// String returns a human-readable representation of the class.
func (c FailureClass) String() string {
	switch c {
	case ClassStructural:
		return "structural"
	case ClassTransient:
		return "transient"
	default:
		return "unknown"
	}
}

// ClassifiedError tags an underlying error with a failure class.
type ClassifiedError struct {
	Class FailureClass
	Err   error
}

// Error implements the error interface.
func (e *ClassifiedError) Error() string {
	return fmt.Sprintf("%s failure: %v", e.Class, e.Err)
}

// Unwrap returns the underlying error.
func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// Structural wraps an error as a structural (fail fast) failure.
func Structural(err error) error {
	return &ClassifiedError{Class: ClassStructural, Err: err}
}

// Transient wraps an error as a transient (retryable) failure.
func Transient(err error) error {
	return &ClassifiedError{Class: ClassTransient, Err: err}
}

// Classify determines the failure class of an error. Explicit tags win;
// timeout and network errors are transient; everything else is treated
// as structural so unknown failures fail fast instead of burning retries.
func Classify(err error) FailureClass {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTransient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return ClassTransient
	}

	return ClassStructural
}

// InvalidTransitionError reports a transition that is not present in the
// table's allowed set for the current phase. It names the attempted edge
// and the full set of valid edges so the caller can diagnose the request.
type InvalidTransitionError struct {
	From    Phase
	To      Phase
	Allowed []Phase
}

// Error implements the error interface.
func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition %s -> %s (valid from %s: %v)", e.From, e.To, e.From, e.Allowed)
}

// ErrIterationLimit is returned when a machine exceeds its iteration
// ceiling. It is distinct from budget exhaustion.
var ErrIterationLimit = errors.New("phase iteration limit exceeded")

// ErrRetryExhausted is returned when transient retries are exhausted and
// the machine stops in the stopped_retry_exhausted phase.
var ErrRetryExhausted = errors.New("transient retries exhausted")
