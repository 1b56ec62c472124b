package pancake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// RunIDPrefix namespaces workflow run ids derived from order ids.
const RunIDPrefix = "pancake-run-"

// RunID derives the deterministic run id for an order. Starting the same
// order twice therefore targets the same run.
func RunID(orderID string) string {
	return RunIDPrefix + orderID
}

// Engine drives workflow runs against a history store and a dispatcher.
type Engine struct {
	store      HistoryStore
	dispatcher Dispatcher
	lock       Lock
	emitter    StatusEmitter
	events     *RunEvents
	policy     RetryPolicy
}

// EngineOptions configures optional engine behavior.
type EngineOptions struct {
	// Lock enforces single-writer per run. Defaults to an in-process
	// MemoryLock; use PostgresLock when several processes share a store.
	Lock Lock

	// Emitter broadcasts best-effort status events. Defaults to NopEmitter.
	Emitter StatusEmitter

	// Events receives lifecycle callbacks. Optional.
	Events *RunEvents

	// RetryPolicy overrides DefaultRetryPolicy for all activities.
	RetryPolicy *RetryPolicy
}

// NewEngine creates a new workflow engine.
func NewEngine(store HistoryStore, dispatcher Dispatcher, opts EngineOptions) *Engine {
	e := &Engine{
		store:      store,
		dispatcher: dispatcher,
		lock:       opts.Lock,
		emitter:    opts.Emitter,
		events:     opts.Events,
		policy:     DefaultRetryPolicy(),
	}
	if e.lock == nil {
		e.lock = NewMemoryLock()
	}
	if e.emitter == nil {
		e.emitter = NopEmitter{}
	}
	if opts.RetryPolicy != nil {
		e.policy = *opts.RetryPolicy
	}
	// Every step gets at least one attempt; a zero-attempt policy would
	// record steps that never ran.
	if e.policy.MaxAttempts < 1 {
		e.policy.MaxAttempts = 1
	}
	return e
}

// StartRun registers a run for the order, or attaches to the existing
// one. It does not drive the run; pair with Execute or ResumeAll.
func (e *Engine) StartRun(ctx context.Context, order OrderRequest) (*StartResult, error) {
	if order.OrderID == "" {
		return nil, NewInputError("order without order id")
	}

	input, err := json.Marshal(order)
	if err != nil {
		return nil, fmt.Errorf("marshal order: %w", err)
	}

	runID := RunID(order.OrderID)
	created, err := e.store.CreateRun(ctx, runID, input)
	if err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}

	status := StatusRunning
	if !created {
		rec, err := e.store.GetRun(ctx, runID)
		if err != nil {
			return nil, fmt.Errorf("get run: %w", err)
		}
		if rec != nil {
			status = rec.Status
		}
	} else {
		e.emitStatus(runID, order.OrderID, MilestoneReceived, "order received")
	}

	return &StartResult{
		RunID:    runID,
		Status:   string(status),
		Attached: !created,
	}, nil
}

// Execute starts the order's run if needed and drives it to completion,
// returning the run's final result payload.
func (e *Engine) Execute(ctx context.Context, order OrderRequest) (json.RawMessage, error) {
	if _, err := e.StartRun(ctx, order); err != nil {
		return nil, err
	}
	return e.executeRun(ctx, RunID(order.OrderID), order)
}

// executeRun drives one run under the single-writer lock. If the run is
// already terminal it returns the stored outcome without re-executing
// anything.
func (e *Engine) executeRun(ctx context.Context, runID string, order OrderRequest) (json.RawMessage, error) {
	if e.events != nil && e.events.OnRunStart != nil {
		emitEvent(e.events, func() {
			e.events.OnRunStart(runID, order)
		})
	}

	token, err := e.lock.Acquire(ctx, runID, MaxExecutionDuration)
	if err != nil {
		return nil, err
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = e.lock.Release(releaseCtx, runID, token)
	}()

	rec, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	if rec == nil {
		return nil, ErrRunNotFound
	}

	switch rec.Status {
	case StatusCompleted:
		return rec.Result, nil
	case StatusFailed:
		return nil, rec.Failure.ToError(runID)
	}

	// The execution budget is measured from first start, not from this
	// resume, so a crash-looping run cannot extend it indefinitely.
	deadline := rec.CreatedAt.Add(MaxExecutionDuration)
	runCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	r := &run{
		id:      runID,
		order:   order,
		engine:  e,
		history: rec.History,
	}

	result, runErr := r.execute(runCtx)
	if runErr != nil {
		if ctx.Err() != nil {
			// Caller cancellation: leave the run running for a later resume.
			return nil, ctx.Err()
		}
		if errors.Is(runErr, context.DeadlineExceeded) {
			runErr = NewTimeoutError(runID, MaxExecutionDuration)
		}
		failure := FailureFromError(runErr)
		if err := e.store.SetResult(ctx, runID, StatusFailed, nil, failure); err != nil {
			return nil, fmt.Errorf("record failure: %w", err)
		}
		if e.events != nil && e.events.OnRunFailed != nil {
			emitEvent(e.events, func() {
				e.events.OnRunFailed(runID, runErr)
			})
		}
		e.emitStatus(runID, order.OrderID, MilestoneFailed, TruncateError(runErr))
		return nil, runErr
	}

	if err := e.store.SetResult(ctx, runID, StatusCompleted, result, nil); err != nil {
		return nil, fmt.Errorf("record result: %w", err)
	}
	if e.events != nil && e.events.OnRunComplete != nil {
		emitEvent(e.events, func() {
			e.events.OnRunComplete(runID, result)
		})
	}
	e.emitStatus(runID, order.OrderID, MilestoneCompleted, MsgOrderCompleted)
	return result, nil
}

// ResumeAll finds runs left in running state, typically after a crash,
// and drives each to completion by replaying its history. Runs locked by
// another process are skipped. Returns the number of runs resumed.
func (e *Engine) ResumeAll(ctx context.Context) (int, error) {
	result, err := e.store.Query(ctx, RunFilter{
		Status: []RunStatus{StatusRunning},
		Limit:  1000,
	})
	if err != nil {
		return 0, fmt.Errorf("query running: %w", err)
	}

	resumed := 0
	for _, rec := range result.Runs {
		var order OrderRequest
		if err := json.Unmarshal(rec.Input, &order); err != nil {
			return resumed, fmt.Errorf("unmarshal input of run '%s': %w", rec.ID, err)
		}
		if _, err := e.executeRun(ctx, rec.ID, order); err != nil {
			if errors.Is(err, ErrRunLocked) {
				continue
			}
			if ctx.Err() != nil {
				return resumed, ctx.Err()
			}
			// Terminal failure is a resolved run, not a resume error.
		}
		resumed++
	}
	return resumed, nil
}

// RunResult returns the stored outcome of a run. A run still in progress
// reports ErrRunInProgress.
func (e *Engine) RunResult(ctx context.Context, runID string) (json.RawMessage, error) {
	rec, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	if rec == nil {
		return nil, ErrRunNotFound
	}
	switch rec.Status {
	case StatusRunning:
		return nil, ErrRunInProgress
	case StatusFailed:
		return nil, rec.Failure.ToError(runID)
	}
	return rec.Result, nil
}

// emitStatus broadcasts one status event without blocking the run.
// Failures are reported through OnEmitDropped and otherwise ignored.
func (e *Engine) emitStatus(runID, orderID, status, message string) {
	emitter := e.emitter
	if emitter == nil {
		return
	}
	event := StatusEvent{Status: status, Message: message, OrderID: orderID}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), EmitTimeout)
		defer cancel()
		if err := emitter.Emit(ctx, event); err != nil {
			if e.events != nil && e.events.OnEmitDropped != nil {
				emitEvent(e.events, func() {
					e.events.OnEmitDropped(runID, err)
				})
			}
		}
	}()
}
