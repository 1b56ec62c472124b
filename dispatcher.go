package pancake

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// ActivityFunc is a worker-side activity implementation.
type ActivityFunc func(ctx context.Context, input json.RawMessage) (json.RawMessage, error)

// PendingCall is the handle for one scheduled activity invocation.
type PendingCall interface {
	// Await blocks until the worker reports an outcome or the call's
	// timeout elapses, whichever comes first.
	Await(ctx context.Context) (json.RawMessage, error)
}

// Dispatcher routes a named activity to a worker pool identified by queue
// name. It does not interpret payloads; its only side effect is delivery.
type Dispatcher interface {
	// Schedule hands the call to the named queue. If no worker is polling
	// the queue, the call stays pending until one appears or the timeout
	// elapses, surfacing a TimeoutError from Await.
	Schedule(ctx context.Context, queue, activity string, input json.RawMessage, timeout time.Duration) (PendingCall, error)
}

// callEnvelope is the wire form of a dispatched call.
type callEnvelope struct {
	CallID   string          `json:"call_id"`
	Activity string          `json:"activity"`
	Input    json.RawMessage `json:"input"`
}

// callResult is the wire form of a worker-reported outcome.
type callResult struct {
	Result  json.RawMessage `json:"result,omitempty"`
	Failure *FailureInfo    `json:"failure,omitempty"`
}

// runHandler executes one activity handler and converts the outcome to
// the wire form. Missing handlers are reported as failures, not dropped.
func runHandler(ctx context.Context, handlers map[string]ActivityFunc, env callEnvelope) callResult {
	fn, ok := handlers[env.Activity]
	if !ok {
		return callResult{Failure: &FailureInfo{
			Kind:    KindActivity,
			Message: "no handler registered for activity '" + env.Activity + "'",
		}}
	}
	result, err := fn(ctx, env.Input)
	if err != nil {
		return callResult{Failure: FailureFromError(err)}
	}
	return callResult{Result: result}
}

// LocalDispatcher routes calls over in-process channels. Each queue is an
// unbuffered channel: a call is delivered only when a worker goroutine is
// actively receiving, which gives the same at-least-one-available
// semantics as the networked dispatcher.
type LocalDispatcher struct {
	mu     sync.Mutex
	queues map[string]chan *localCall
}

type localCall struct {
	envelope callEnvelope
	deadline time.Time
	reply    chan callResult
}

// NewLocalDispatcher creates a new LocalDispatcher.
func NewLocalDispatcher() *LocalDispatcher {
	return &LocalDispatcher{
		queues: make(map[string]chan *localCall),
	}
}

func (d *LocalDispatcher) queue(name string) chan *localCall {
	d.mu.Lock()
	defer d.mu.Unlock()

	q, ok := d.queues[name]
	if !ok {
		q = make(chan *localCall)
		d.queues[name] = q
	}
	return q
}

// Schedule hands the call to the named queue.
func (d *LocalDispatcher) Schedule(ctx context.Context, queue, activity string, input json.RawMessage, timeout time.Duration) (PendingCall, error) {
	call := &localCall{
		envelope: callEnvelope{Activity: activity, Input: input},
		deadline: time.Now().Add(timeout),
		reply:    make(chan callResult, 1),
	}

	q := d.queue(queue)
	go func() {
		select {
		case q <- call:
		case <-time.After(time.Until(call.deadline)):
			// Never picked up; Await's own deadline reports the timeout.
		case <-ctx.Done():
		}
	}()

	return &localPending{queue: queue, timeout: timeout, call: call}, nil
}

type localPending struct {
	queue   string
	timeout time.Duration
	call    *localCall
}

// Await blocks until the worker replies or the deadline passes.
func (p *localPending) Await(ctx context.Context) (json.RawMessage, error) {
	select {
	case res := <-p.call.reply:
		if res.Failure != nil {
			return nil, res.Failure.ToError(p.call.envelope.Activity)
		}
		return res.Result, nil
	case <-time.After(time.Until(p.call.deadline)):
		return nil, NewTimeoutError(p.queue, p.timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ServeQueue runs a pool of worker goroutines polling the named queue
// until ctx is done. Calls are load-balanced across whichever goroutines
// are currently receiving.
func (d *LocalDispatcher) ServeQueue(ctx context.Context, queue string, concurrency int, handlers map[string]ActivityFunc) {
	if concurrency <= 0 {
		concurrency = 1
	}
	q := d.queue(queue)
	for i := 0; i < concurrency; i++ {
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case call := <-q:
					callCtx, cancel := context.WithDeadline(ctx, call.deadline)
					call.reply <- runHandler(callCtx, handlers, call.envelope)
					cancel()
				}
			}
		}()
	}
}

// Ensure LocalDispatcher implements Dispatcher.
var _ Dispatcher = (*LocalDispatcher)(nil)
