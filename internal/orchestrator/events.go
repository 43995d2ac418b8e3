package orchestrator

import (
	"log"
	"sync/atomic"
	"time"
)

// EventType represents the type of scheduler event.
type EventType string

const (
	// EventTaskStarted indicates an agent task has started execution.
	EventTaskStarted EventType = "task_started"
	// EventTaskCompleted indicates an agent task completed successfully.
	EventTaskCompleted EventType = "task_completed"
	// EventTaskFailed indicates an agent task failed.
	EventTaskFailed EventType = "task_failed"
	// EventTaskSkipped indicates an agent task was skipped without an
	// external call (circuit open or budget exhausted).
	EventTaskSkipped EventType = "task_skipped"
	// EventBudgetWarning indicates a budget warning threshold was crossed.
	EventBudgetWarning EventType = "budget_warning"
	// EventCheckpointSaved indicates a checkpoint was persisted.
	EventCheckpointSaved EventType = "checkpoint_saved"
	// EventRunDone indicates the entire run is complete.
	EventRunDone EventType = "run_done"
)

// Event represents an event emitted by the scheduler.
type Event struct {
	// Type is the kind of event.
	Type EventType
	// Agent is the identity of the related agent, if applicable.
	Agent string
	// Message provides additional context about the event.
	Message string
	// Error contains error details for failure events.
	Error error
	// Timestamp is when the event occurred.
	Timestamp time.Time
	// TokensUsed is the current total tokens used, for progress events.
	TokensUsed int64
}

// EventEmitter handles event emission for the scheduler.
// It provides a simple, thread-safe way to emit events to subscribers.
type EventEmitter struct {
	events       chan Event
	droppedCount atomic.Uint64
}

// NewEventEmitter creates a new EventEmitter with the given buffer size.
func NewEventEmitter(bufferSize int) *EventEmitter {
	return &EventEmitter{
		events: make(chan Event, bufferSize),
	}
}

// Emit sends an event to the events channel.
// If the channel is full, it tries with a timeout before dropping the event.
func (e *EventEmitter) Emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case e.events <- event:
		return
	default:
		// Channel full, try with timeout
	}

	select {
	case e.events <- event:
		return
	case <-time.After(100 * time.Millisecond):
		count := e.droppedCount.Add(1)
		if count%10 == 1 { // Log every 10th drop to avoid spam
			log.Printf("[scheduler] WARNING: Event channel full, dropped event (total dropped: %d): type=%s", count, event.Type)
		}
	}
}

// DroppedCount returns the total number of events that have been dropped.
func (e *EventEmitter) DroppedCount() uint64 {
	return e.droppedCount.Load()
}

// Events returns a read-only channel of events for subscribers.
func (e *EventEmitter) Events() <-chan Event {
	return e.events
}

// Close closes the events channel.
// This should be called once the run is complete.
func (e *EventEmitter) Close() {
	close(e.events)
}
