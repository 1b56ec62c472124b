package pancake

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// run is the execution state of one workflow run. The cursor walks the
// history log during replay; once it passes the end of recorded history,
// every further step executes for real.
type run struct {
	id      string
	order   OrderRequest
	engine  *Engine
	history []ActivityRecord
	cursor  int
}

// step resolves one logical step: during replay it returns the recorded
// outcome, otherwise it dispatches the activity with retry and appends
// the outcome to history before returning it.
func (r *run) step(ctx context.Context, activity, queue string, input any, timeout time.Duration) (json.RawMessage, error) {
	idx := r.cursor
	r.cursor++

	if idx < len(r.history) {
		rec := r.history[idx]
		if rec.ActivityName != activity {
			return nil, NewReplayMismatchError(r.id, idx, rec.ActivityName, activity)
		}
		if r.engine.events != nil && r.engine.events.OnStepReplayed != nil {
			emitEvent(r.engine.events, func() {
				r.engine.events.OnStepReplayed(r.id, activity)
			})
		}
		if rec.Failure != nil {
			return nil, rec.Failure.ToError(activity)
		}
		return rec.Result, nil
	}

	// Past recorded history: execute for real. A canceled context must
	// not be mistaken for an activity failure.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("marshal input for %s: %w", activity, err)
	}

	if r.engine.events != nil && r.engine.events.OnStepStart != nil {
		emitEvent(r.engine.events, func() {
			r.engine.events.OnStepStart(r.id, activity)
		})
	}

	start := time.Now()
	result, attempts, execErr := r.engine.executeWithRetry(ctx, r.id, activity, queue, payload, timeout)
	if execErr != nil && ctx.Err() != nil {
		// Cancellation is not a step outcome; leave history untouched so
		// a resumed run re-executes from here.
		return nil, ctx.Err()
	}

	rec := ActivityRecord{
		StepIndex:    idx,
		ActivityName: activity,
		QueueName:    queue,
		Input:        payload,
		AttemptCount: attempts,
		Result:       result,
		Failure:      FailureFromError(execErr),
		CompletedAt:  time.Now(),
	}
	if err := r.engine.store.Append(ctx, r.id, rec); err != nil {
		return nil, fmt.Errorf("append step %d: %w", idx, err)
	}

	if r.engine.events != nil && r.engine.events.OnStepComplete != nil {
		emitEvent(r.engine.events, func() {
			r.engine.events.OnStepComplete(r.id, activity, attempts, time.Since(start))
		})
	}

	if execErr != nil {
		return nil, execErr
	}
	return result, nil
}

// execute drives the order through the fixed activity sequence and
// returns the run's final result payload.
//
// The sequence is deterministic in the order input and recorded history:
// analyze, inventory check, then either kitchen execution followed by a
// completion notice, or a rejection notice when ingredients are missing.
func (r *run) execute(ctx context.Context) (json.RawMessage, error) {
	r.engine.emitStatus(r.id, r.order.OrderID, MilestoneAnalyzing, "analyzing order")

	rawIngredients, err := r.step(ctx, ActivityAnalyzeOrder, QueueAnalyze,
		AnalyzeOrderInput{CustomerOrder: r.order.CustomerOrder}, DefaultActivityTimeout)
	if err != nil {
		return nil, err
	}

	var ingredients Ingredients
	if err := json.Unmarshal(rawIngredients, &ingredients); err != nil {
		return nil, NewActivityError(ActivityAnalyzeOrder, KindValidation, "malformed ingredient list: "+err.Error())
	}
	if err := ingredients.Validate(); err != nil {
		return nil, err
	}

	r.engine.emitStatus(r.id, r.order.OrderID, MilestoneInventory, "checking inventory")

	rawDecision, err := r.step(ctx, ActivityInventoryCheck, QueueInventory,
		InventoryCheckInput{OrderID: r.order.OrderID, Ingredients: ingredients}, DefaultActivityTimeout)
	if err != nil {
		return nil, err
	}

	var decision InventoryDecision
	if err := json.Unmarshal(rawDecision, &decision); err != nil {
		return nil, NewActivityError(ActivityInventoryCheck, KindValidation, "malformed decision: "+err.Error())
	}
	if err := decision.Validate(); err != nil {
		return nil, err
	}

	if decision.Decision == DecisionNoMake {
		r.engine.emitStatus(r.id, r.order.OrderID, MilestoneRejected, MsgInsufficientIngredients)

		if _, err := r.step(ctx, ActivityNotify, QueueNotification,
			NotifyInput{OrderID: r.order.OrderID, Message: MsgInsufficientIngredients}, NotifyTimeout); err != nil {
			return nil, err
		}
		return rawDecision, nil
	}

	r.engine.emitStatus(r.id, r.order.OrderID, MilestoneMaking, "making order")

	rawExecuted, err := r.step(ctx, ActivityExecuteOrder, QueueKitchen,
		ExecuteOrderInput{OrderID: r.order.OrderID, Ingredients: ingredients}, DefaultActivityTimeout)
	if err != nil {
		return nil, err
	}

	if _, err := r.step(ctx, ActivityNotify, QueueNotification,
		NotifyInput{OrderID: r.order.OrderID, Message: MsgOrderCompleted}, NotifyTimeout); err != nil {
		return nil, err
	}

	return rawExecuted, nil
}
