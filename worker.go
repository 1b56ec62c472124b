package pancake

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// Worker polls one task queue over NATS and executes registered
// activities. Multiple workers on the same queue form a pool; NATS queue
// groups deliver each call to exactly one of them.
type Worker struct {
	nc       *nats.Conn
	queue    string
	id       string
	handlers map[string]ActivityFunc
}

// NewWorker creates a worker for the named queue.
func NewWorker(nc *nats.Conn, queue string) *Worker {
	return &Worker{
		nc:       nc,
		queue:    queue,
		id:       uuid.NewString(),
		handlers: make(map[string]ActivityFunc),
	}
}

// ID returns the worker's unique identifier.
func (w *Worker) ID() string {
	return w.id
}

// Queue returns the task queue this worker serves.
func (w *Worker) Queue() string {
	return w.queue
}

// Register binds an activity name to its implementation.
// Must be called before Start.
func (w *Worker) Register(activity string, fn ActivityFunc) {
	w.handlers[activity] = fn
}

// Start subscribes to the queue and serves calls until ctx is done,
// then drains the subscription so in-flight calls finish.
func (w *Worker) Start(ctx context.Context) error {
	subject := TaskSubjectPrefix + w.queue

	sub, err := w.nc.QueueSubscribe(subject, w.queue, func(msg *nats.Msg) {
		w.handle(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}

	log.Printf("worker %s polling queue %q", w.id, w.queue)
	<-ctx.Done()

	if err := sub.Drain(); err != nil {
		return fmt.Errorf("drain %s: %w", subject, err)
	}
	return nil
}

func (w *Worker) handle(ctx context.Context, msg *nats.Msg) {
	var env callEnvelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		log.Printf("worker %s: bad envelope on %s: %v", w.id, msg.Subject, err)
		return
	}

	res := runHandler(ctx, w.handlers, env)

	data, err := json.Marshal(res)
	if err != nil {
		log.Printf("worker %s: marshal result for call %s: %v", w.id, env.CallID, err)
		return
	}
	if err := msg.Respond(data); err != nil {
		log.Printf("worker %s: respond for call %s: %v", w.id, env.CallID, err)
	}
}
