package pancake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// TaskSubjectPrefix is the NATS subject prefix for activity dispatch.
// The full subject for a queue is TaskSubjectPrefix + queue name.
const TaskSubjectPrefix = "PANCAKE.TaskQueue."

// NATSDispatcher routes calls to worker pools over NATS request/reply.
// Workers subscribe with a queue group named after the task queue, so
// NATS load-balances calls across the pool.
type NATSDispatcher struct {
	nc *nats.Conn
}

// NewNATSDispatcher creates a dispatcher on an established connection.
// The dispatcher does not own the connection; the caller closes it.
func NewNATSDispatcher(nc *nats.Conn) *NATSDispatcher {
	return &NATSDispatcher{nc: nc}
}

// Schedule publishes the call to the queue's subject and returns a handle
// for the reply.
func (d *NATSDispatcher) Schedule(ctx context.Context, queue, activity string, input json.RawMessage, timeout time.Duration) (PendingCall, error) {
	env := callEnvelope{
		CallID:   uuid.NewString(),
		Activity: activity,
		Input:    input,
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}

	return &natsPending{
		nc:       d.nc,
		subject:  TaskSubjectPrefix + queue,
		queue:    queue,
		activity: activity,
		data:     data,
		deadline: time.Now().Add(timeout),
		timeout:  timeout,
	}, nil
}

type natsPending struct {
	nc       *nats.Conn
	subject  string
	queue    string
	activity string
	data     []byte
	deadline time.Time
	timeout  time.Duration
}

// Await performs the request/reply exchange. When no worker is subscribed
// to the queue NATS reports no responders immediately; we keep retrying
// until the deadline so a late-starting worker can still pick up the call.
func (p *natsPending) Await(ctx context.Context) (json.RawMessage, error) {
	for {
		remaining := time.Until(p.deadline)
		if remaining <= 0 {
			return nil, NewTimeoutError(p.queue, p.timeout)
		}

		reqCtx, cancel := context.WithTimeout(ctx, remaining)
		msg, err := p.nc.RequestWithContext(reqCtx, p.subject, p.data)
		cancel()

		if err != nil {
			if errors.Is(err, nats.ErrNoResponders) {
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(time.Second):
					continue
				}
			}
			if errors.Is(err, context.DeadlineExceeded) {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				return nil, NewTimeoutError(p.queue, p.timeout)
			}
			if errors.Is(err, context.Canceled) {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("request on %s: %w", p.subject, err)
		}

		var res callResult
		if err := json.Unmarshal(msg.Data, &res); err != nil {
			return nil, fmt.Errorf("unmarshal reply: %w", err)
		}
		if res.Failure != nil {
			return nil, res.Failure.ToError(p.activity)
		}
		return res.Result, nil
	}
}

// Ensure NATSDispatcher implements Dispatcher.
var _ Dispatcher = (*NATSDispatcher)(nil)
