package pancake

import (
	"encoding/json"
	"time"
)

// RunEvents provides hooks for observability and monitoring.
// All callbacks are optional - only set the ones you need.
// Event handlers are called synchronously but wrapped in panic recovery,
// so a panicking handler won't break the run.
//
// Example:
//
//	events := &pancake.RunEvents{
//	    OnStepComplete: func(runID, name string, attempts int, duration time.Duration) {
//	        log.Printf("run %s: %s completed in %v (%d attempts)", runID, name, duration, attempts)
//	    },
//	    OnAttemptFailed: func(runID, name string, attempt int, err error) {
//	        log.Printf("run %s: %s attempt %d failed: %v", runID, name, attempt, err)
//	    },
//	}
type RunEvents struct {
	// Run lifecycle
	OnRunStart    func(runID string, input any)
	OnRunComplete func(runID string, result json.RawMessage)
	OnRunFailed   func(runID string, err error)

	// Step lifecycle. OnStepReplayed fires when a recorded result is
	// reused instead of re-executing the activity.
	OnStepStart    func(runID, name string)
	OnStepComplete func(runID, name string, attempts int, duration time.Duration)
	OnStepReplayed func(runID, name string)

	// Attempt lifecycle. Every attempt outcome is reported here even
	// though only the final one reaches the history log.
	OnAttemptFailed func(runID, name string, attempt int, err error)
	OnRetry         func(runID, name string, attempt int, backoff time.Duration)

	// Status broadcast
	OnEmitDropped func(runID string, err error)
}

// emitEvent safely calls an event handler, catching any panics.
func emitEvent(events *RunEvents, handler func()) {
	if events == nil || handler == nil {
		return
	}
	defer func() {
		// Catch panics from event handlers - never break the run
		_ = recover()
	}()
	handler()
}
