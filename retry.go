package pancake

import (
	"context"
	"encoding/json"
	"time"
)

// executeWithRetry dispatches one activity call and retries per policy.
// It returns the successful result and the number of attempts made. The
// final error, if any, carries the last attempt's failure.
func (e *Engine) executeWithRetry(ctx context.Context, runID, activity, queue string, input json.RawMessage, timeout time.Duration) (json.RawMessage, int, error) {
	var lastErr error

	for attempt := 1; attempt <= e.policy.MaxAttempts; attempt++ {
		pending, err := e.dispatcher.Schedule(ctx, queue, activity, input, timeout)
		if err != nil {
			return nil, attempt, err
		}

		result, err := pending.Await(ctx)
		if err == nil {
			return result, attempt, nil
		}
		if ctx.Err() != nil {
			return nil, attempt, ctx.Err()
		}
		lastErr = err

		if e.events != nil && e.events.OnAttemptFailed != nil {
			emitEvent(e.events, func() {
				e.events.OnAttemptFailed(runID, activity, attempt, err)
			})
		}

		if !e.policy.Retryable(KindOf(err)) {
			return nil, attempt, err
		}
		if attempt == e.policy.MaxAttempts {
			break
		}

		backoff := e.policy.Backoff(attempt)
		if e.events != nil && e.events.OnRetry != nil {
			emitEvent(e.events, func() {
				e.events.OnRetry(runID, activity, attempt, backoff)
			})
		}

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, attempt, ctx.Err()
		}
	}

	return nil, e.policy.MaxAttempts, lastErr
}
