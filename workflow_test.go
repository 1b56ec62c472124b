package pancake

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var testIngredients = Ingredients{
	Items: []IngredientItem{
		{Name: "flour", Amount: 150, Unit: "g"},
		{Name: "milk", Amount: 200, Unit: "ml"},
	},
}

var fastRetry = RetryPolicy{
	InitialInterval: time.Millisecond,
	MaxInterval:     5 * time.Millisecond,
	MaxAttempts:     3,
	NonRetryable:    []ErrorKind{KindValidation, KindAuth},
}

// testHandlers wires counting stub handlers for all four queues onto a
// local dispatcher. Individual handlers can be overridden before serving.
type testHandlers struct {
	analyze   ActivityFunc
	inventory ActivityFunc
	kitchen   ActivityFunc
	notify    ActivityFunc

	analyzeCalls   atomic.Int32
	inventoryCalls atomic.Int32
	kitchenCalls   atomic.Int32
	notifyCalls    atomic.Int32

	lastNotifyMessage atomic.Value
}

func defaultHandlers() *testHandlers {
	h := &testHandlers{}
	h.analyze = func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
		return json.Marshal(testIngredients)
	}
	h.inventory = func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
		return json.Marshal(InventoryDecision{
			Decision:  DecisionMake,
			Available: []string{"flour", "milk"},
			Missing:   []string{},
		})
	}
	h.kitchen = func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
		var in ExecuteOrderInput
		if err := json.Unmarshal(input, &in); err != nil {
			return nil, err
		}
		return json.Marshal(in.Ingredients)
	}
	h.notify = func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
		return json.Marshal(map[string]string{"acknowledgement": "ok"})
	}
	return h
}

func (h *testHandlers) serve(t *testing.T, d *LocalDispatcher) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	d.ServeQueue(ctx, QueueAnalyze, 1, map[string]ActivityFunc{
		ActivityAnalyzeOrder: func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
			h.analyzeCalls.Add(1)
			return h.analyze(ctx, input)
		},
	})
	d.ServeQueue(ctx, QueueInventory, 1, map[string]ActivityFunc{
		ActivityInventoryCheck: func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
			h.inventoryCalls.Add(1)
			return h.inventory(ctx, input)
		},
	})
	d.ServeQueue(ctx, QueueKitchen, 1, map[string]ActivityFunc{
		ActivityExecuteOrder: func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
			h.kitchenCalls.Add(1)
			return h.kitchen(ctx, input)
		},
	})
	d.ServeQueue(ctx, QueueNotification, 1, map[string]ActivityFunc{
		ActivityNotify: func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
			h.notifyCalls.Add(1)
			var in NotifyInput
			if err := json.Unmarshal(input, &in); err == nil {
				h.lastNotifyMessage.Store(in.Message)
			}
			return h.notify(ctx, input)
		},
	})
}

func newTestEngine(t *testing.T, h *testHandlers) (*Engine, *MemoryHistory) {
	t.Helper()
	store := NewMemoryHistory()
	dispatcher := NewLocalDispatcher()
	h.serve(t, dispatcher)
	policy := fastRetry
	engine := NewEngine(store, dispatcher, EngineOptions{RetryPolicy: &policy})
	return engine, store
}

func testOrder(id string) OrderRequest {
	return OrderRequest{
		OrderID:       id,
		CustomerOrder: "two classic pancakes",
		CustomerName:  "Ada",
	}
}

func TestCompletedOrderRun(t *testing.T) {
	h := defaultHandlers()
	engine, store := newTestEngine(t, h)
	ctx := context.Background()

	result, err := engine.Execute(ctx, testOrder("order-1"))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	var got Ingredients
	if err := json.Unmarshal(result, &got); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if len(got.Items) != 2 || got.Items[0].Name != "flour" {
		t.Errorf("result = %+v, want kitchen echo of %+v", got, testIngredients)
	}

	run, _ := store.GetRun(ctx, RunID("order-1"))
	if run == nil {
		t.Fatal("run not stored")
	}
	if run.Status != StatusCompleted {
		t.Errorf("status = %q, want %q", run.Status, StatusCompleted)
	}
	if len(run.History) != 4 {
		t.Fatalf("history length = %d, want 4", len(run.History))
	}

	wantOrder := []string{ActivityAnalyzeOrder, ActivityInventoryCheck, ActivityExecuteOrder, ActivityNotify}
	for i, name := range wantOrder {
		if run.History[i].ActivityName != name {
			t.Errorf("history[%d] = %q, want %q", i, run.History[i].ActivityName, name)
		}
		if run.History[i].StepIndex != i {
			t.Errorf("history[%d].StepIndex = %d, want %d", i, run.History[i].StepIndex, i)
		}
	}

	if msg := h.lastNotifyMessage.Load(); msg != MsgOrderCompleted {
		t.Errorf("notify message = %v, want %q", msg, MsgOrderCompleted)
	}
}

func TestInsufficientIngredientsRun(t *testing.T) {
	h := defaultHandlers()
	h.inventory = func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
		return json.Marshal(InventoryDecision{
			Decision:  DecisionNoMake,
			Available: []string{"flour"},
			Missing:   []string{"milk"},
		})
	}
	engine, store := newTestEngine(t, h)
	ctx := context.Background()

	result, err := engine.Execute(ctx, testOrder("order-2"))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	var decision InventoryDecision
	if err := json.Unmarshal(result, &decision); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if decision.Decision != DecisionNoMake {
		t.Errorf("decision = %q, want %q", decision.Decision, DecisionNoMake)
	}
	if len(decision.Missing) != 1 || decision.Missing[0] != "milk" {
		t.Errorf("missing = %v, want [milk]", decision.Missing)
	}

	if n := h.kitchenCalls.Load(); n != 0 {
		t.Errorf("kitchen invoked %d times on rejected order", n)
	}
	if msg := h.lastNotifyMessage.Load(); msg != MsgInsufficientIngredients {
		t.Errorf("notify message = %v, want %q", msg, MsgInsufficientIngredients)
	}

	run, _ := store.GetRun(ctx, RunID("order-2"))
	if run.Status != StatusCompleted {
		t.Errorf("status = %q, want %q (rejection is a completed run)", run.Status, StatusCompleted)
	}
	if len(run.History) != 3 {
		t.Errorf("history length = %d, want 3", len(run.History))
	}
}

func TestIdempotentStart(t *testing.T) {
	h := defaultHandlers()
	engine, _ := newTestEngine(t, h)
	ctx := context.Background()

	first, err := engine.StartRun(ctx, testOrder("order-3"))
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	if first.Attached {
		t.Error("first start reported attached")
	}
	if first.RunID != RunID("order-3") {
		t.Errorf("run id = %q, want %q", first.RunID, RunID("order-3"))
	}

	second, err := engine.StartRun(ctx, testOrder("order-3"))
	if err != nil {
		t.Fatalf("second StartRun: %v", err)
	}
	if !second.Attached {
		t.Error("second start did not attach to existing run")
	}
	if second.RunID != first.RunID {
		t.Errorf("second run id = %q, want %q", second.RunID, first.RunID)
	}
}

func TestStartRunRequiresOrderID(t *testing.T) {
	h := defaultHandlers()
	engine, _ := newTestEngine(t, h)

	_, err := engine.StartRun(context.Background(), OrderRequest{CustomerOrder: "pancakes"})
	if err == nil {
		t.Fatal("expected error for missing order id")
	}
	if !errors.Is(err, ErrInvalidInput) {
		t.Errorf("err = %v, want ErrInvalidInput", err)
	}
	if KindOf(err) != KindValidation {
		t.Errorf("kind = %q, want %q", KindOf(err), KindValidation)
	}
	// An intake rejection is not an activity failure.
	if errors.Is(err, ErrActivityFailed) {
		t.Error("intake rejection reported as activity failure")
	}
}

func TestReplaySkipsRecordedSteps(t *testing.T) {
	h := defaultHandlers()
	engine, store := newTestEngine(t, h)
	ctx := context.Background()

	order := testOrder("order-4")
	runID := RunID(order.OrderID)
	input, _ := json.Marshal(order)
	if _, err := store.CreateRun(ctx, runID, input); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	// Simulate a crash after the first two steps were recorded.
	ingredientsJSON, _ := json.Marshal(testIngredients)
	decisionJSON, _ := json.Marshal(InventoryDecision{
		Decision: DecisionMake, Available: []string{"flour", "milk"}, Missing: []string{},
	})
	seed := []ActivityRecord{
		{StepIndex: 0, ActivityName: ActivityAnalyzeOrder, QueueName: QueueAnalyze, AttemptCount: 1, Result: ingredientsJSON, CompletedAt: time.Now()},
		{StepIndex: 1, ActivityName: ActivityInventoryCheck, QueueName: QueueInventory, AttemptCount: 1, Result: decisionJSON, CompletedAt: time.Now()},
	}
	for _, rec := range seed {
		if err := store.Append(ctx, runID, rec); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	if _, err := engine.Execute(ctx, order); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if n := h.analyzeCalls.Load(); n != 0 {
		t.Errorf("analyze re-executed %d times during replay", n)
	}
	if n := h.inventoryCalls.Load(); n != 0 {
		t.Errorf("inventory re-executed %d times during replay", n)
	}
	if n := h.kitchenCalls.Load(); n != 1 {
		t.Errorf("kitchen executed %d times, want 1", n)
	}

	run, _ := store.GetRun(ctx, runID)
	if run.Status != StatusCompleted {
		t.Errorf("status = %q, want %q", run.Status, StatusCompleted)
	}
	if len(run.History) != 4 {
		t.Errorf("history length = %d, want 4", len(run.History))
	}
}

func TestResumeReexecutesUnrecordedStep(t *testing.T) {
	h := defaultHandlers()
	engine, store := newTestEngine(t, h)
	ctx := context.Background()

	order := testOrder("order-16")
	runID := RunID(order.OrderID)
	input, _ := json.Marshal(order)
	if _, err := store.CreateRun(ctx, runID, input); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	// A crash hit after the analyze side effect but before its append:
	// nothing was recorded, so resume must run the step again.
	ingredientsJSON, _ := json.Marshal(testIngredients)
	if err := store.Append(ctx, runID, ActivityRecord{
		StepIndex: 0, ActivityName: ActivityAnalyzeOrder, QueueName: QueueAnalyze,
		AttemptCount: 1, Result: ingredientsJSON, CompletedAt: time.Now(),
	}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	if _, err := engine.Execute(ctx, order); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if n := h.analyzeCalls.Load(); n != 0 {
		t.Errorf("recorded analyze re-executed %d times", n)
	}
	if n := h.inventoryCalls.Load(); n != 1 {
		t.Errorf("unrecorded inventory executed %d times, want 1", n)
	}
}

func TestReplayMismatchDetected(t *testing.T) {
	h := defaultHandlers()
	engine, store := newTestEngine(t, h)
	ctx := context.Background()

	order := testOrder("order-5")
	runID := RunID(order.OrderID)
	input, _ := json.Marshal(order)
	if _, err := store.CreateRun(ctx, runID, input); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if err := store.Append(ctx, runID, ActivityRecord{
		StepIndex: 0, ActivityName: "bogus_activity", QueueName: QueueAnalyze,
		AttemptCount: 1, Result: json.RawMessage(`{}`), CompletedAt: time.Now(),
	}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	_, err := engine.Execute(ctx, order)
	if !errors.Is(err, ErrReplayMismatch) {
		t.Fatalf("err = %v, want ErrReplayMismatch", err)
	}
}

func TestTerminalRunShortCircuits(t *testing.T) {
	h := defaultHandlers()
	engine, _ := newTestEngine(t, h)
	ctx := context.Background()

	order := testOrder("order-6")
	if _, err := engine.Execute(ctx, order); err != nil {
		t.Fatalf("first Execute: %v", err)
	}
	before := h.analyzeCalls.Load()

	result, err := engine.Execute(ctx, order)
	if err != nil {
		t.Fatalf("second Execute: %v", err)
	}
	if len(result) == 0 {
		t.Error("second Execute returned empty result")
	}
	if h.analyzeCalls.Load() != before {
		t.Error("terminal run re-executed activities")
	}
}

func TestNonRetryableFailureIsTerminal(t *testing.T) {
	h := defaultHandlers()
	h.analyze = func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
		return nil, NewActivityError(ActivityAnalyzeOrder, KindValidation, "unparseable order")
	}
	engine, store := newTestEngine(t, h)
	ctx := context.Background()

	_, err := engine.Execute(ctx, testOrder("order-7"))
	if err == nil {
		t.Fatal("expected failure")
	}
	if !errors.Is(err, ErrActivityFailed) {
		t.Errorf("err = %v, want ErrActivityFailed", err)
	}
	if KindOf(err) != KindValidation {
		t.Errorf("kind = %q, want %q", KindOf(err), KindValidation)
	}
	if n := h.analyzeCalls.Load(); n != 1 {
		t.Errorf("analyze attempted %d times, want 1 (validation is non-retryable)", n)
	}

	run, _ := store.GetRun(ctx, RunID("order-7"))
	if run.Status != StatusFailed {
		t.Errorf("status = %q, want %q", run.Status, StatusFailed)
	}
	if run.Failure == nil || run.Failure.Kind != KindValidation {
		t.Errorf("stored failure = %+v, want validation kind", run.Failure)
	}
	if len(run.History) != 1 {
		t.Errorf("history length = %d, want 1 (terminal failure is recorded)", len(run.History))
	}
	if run.History[0].Failure == nil {
		t.Error("recorded step has no failure")
	}
}

func TestTransientFailureRetried(t *testing.T) {
	h := defaultHandlers()
	var attempts atomic.Int32
	h.inventory = func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
		if attempts.Add(1) < 3 {
			return nil, NewActivityError(ActivityInventoryCheck, KindConnection, "db unreachable")
		}
		return json.Marshal(InventoryDecision{
			Decision: DecisionMake, Available: []string{"flour", "milk"}, Missing: []string{},
		})
	}
	engine, store := newTestEngine(t, h)
	ctx := context.Background()

	if _, err := engine.Execute(ctx, testOrder("order-8")); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	run, _ := store.GetRun(ctx, RunID("order-8"))
	if run.Status != StatusCompleted {
		t.Fatalf("status = %q, want %q", run.Status, StatusCompleted)
	}
	if got := run.History[1].AttemptCount; got != 3 {
		t.Errorf("inventory AttemptCount = %d, want 3", got)
	}
	// Only the final outcome reaches history, never per-attempt records.
	if len(run.History) != 4 {
		t.Errorf("history length = %d, want 4", len(run.History))
	}
}

func TestRetriesExhaustedIsTerminal(t *testing.T) {
	h := defaultHandlers()
	h.inventory = func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
		return nil, NewActivityError(ActivityInventoryCheck, KindConnection, "db unreachable")
	}
	engine, store := newTestEngine(t, h)
	ctx := context.Background()

	_, err := engine.Execute(ctx, testOrder("order-17"))
	if err == nil {
		t.Fatal("expected failure after exhausted retries")
	}
	if !errors.Is(err, ErrActivityFailed) {
		t.Errorf("err = %v, want ErrActivityFailed", err)
	}
	if KindOf(err) != KindConnection {
		t.Errorf("kind = %q, want %q", KindOf(err), KindConnection)
	}
	if n := h.inventoryCalls.Load(); n != 3 {
		t.Errorf("inventory attempted %d times, want exactly 3", n)
	}

	run, _ := store.GetRun(ctx, RunID("order-17"))
	if run.Status != StatusFailed {
		t.Errorf("status = %q, want %q", run.Status, StatusFailed)
	}
	if len(run.History) != 2 {
		t.Fatalf("history length = %d, want 2", len(run.History))
	}
	if got := run.History[1].AttemptCount; got != 3 {
		t.Errorf("inventory AttemptCount = %d, want 3", got)
	}
	if run.History[1].Failure == nil || run.History[1].Failure.Kind != KindConnection {
		t.Errorf("recorded failure = %+v, want connection kind", run.History[1].Failure)
	}
}

func TestZeroMaxAttemptsClampedToOne(t *testing.T) {
	h := defaultHandlers()
	store := NewMemoryHistory()
	dispatcher := NewLocalDispatcher()
	h.serve(t, dispatcher)

	policy := RetryPolicy{
		InitialInterval: time.Millisecond,
		MaxInterval:     time.Millisecond,
		MaxAttempts:     0,
	}
	engine := NewEngine(store, dispatcher, EngineOptions{RetryPolicy: &policy})

	result, err := engine.Execute(context.Background(), testOrder("order-18"))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(result) == 0 {
		t.Error("empty result")
	}
	if n := h.analyzeCalls.Load(); n != 1 {
		t.Errorf("analyze attempted %d times, want 1", n)
	}

	run, _ := store.GetRun(context.Background(), RunID("order-18"))
	if got := run.History[0].AttemptCount; got != 1 {
		t.Errorf("AttemptCount = %d, want 1", got)
	}
}

func TestRunResultStates(t *testing.T) {
	h := defaultHandlers()
	engine, _ := newTestEngine(t, h)
	ctx := context.Background()

	if _, err := engine.RunResult(ctx, RunID("nope")); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("err = %v, want ErrRunNotFound", err)
	}

	order := testOrder("order-9")
	if _, err := engine.StartRun(ctx, order); err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	if _, err := engine.RunResult(ctx, RunID("order-9")); !errors.Is(err, ErrRunInProgress) {
		t.Errorf("err = %v, want ErrRunInProgress", err)
	}

	if _, err := engine.Execute(ctx, order); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	result, err := engine.RunResult(ctx, RunID("order-9"))
	if err != nil {
		t.Fatalf("RunResult: %v", err)
	}
	if len(result) == 0 {
		t.Error("empty result for completed run")
	}
}

func TestCancellationLeavesRunResumable(t *testing.T) {
	h := defaultHandlers()
	h.analyze = func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	engine, store := newTestEngine(t, h)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := engine.Execute(ctx, testOrder("order-10"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}

	run, _ := store.GetRun(context.Background(), RunID("order-10"))
	if run.Status != StatusRunning {
		t.Errorf("status = %q, want %q (cancellation must not finalize)", run.Status, StatusRunning)
	}
	if len(run.History) != 0 {
		t.Errorf("history length = %d, want 0 (no outcome was reached)", len(run.History))
	}
}

func TestResumeAllDrivesRunningRuns(t *testing.T) {
	h := defaultHandlers()
	engine, store := newTestEngine(t, h)
	ctx := context.Background()

	for _, id := range []string{"order-11", "order-12"} {
		if _, err := engine.StartRun(ctx, testOrder(id)); err != nil {
			t.Fatalf("StartRun %s: %v", id, err)
		}
	}

	resumed, err := engine.ResumeAll(ctx)
	if err != nil {
		t.Fatalf("ResumeAll: %v", err)
	}
	if resumed != 2 {
		t.Errorf("resumed = %d, want 2", resumed)
	}

	for _, id := range []string{"order-11", "order-12"} {
		run, _ := store.GetRun(ctx, RunID(id))
		if run.Status != StatusCompleted {
			t.Errorf("run %s status = %q, want %q", id, run.Status, StatusCompleted)
		}
	}
}

func TestRunLockedRejectsConcurrentDriver(t *testing.T) {
	h := defaultHandlers()
	store := NewMemoryHistory()
	dispatcher := NewLocalDispatcher()
	h.serve(t, dispatcher)

	lock := NewMemoryLock()
	policy := fastRetry
	engine := NewEngine(store, dispatcher, EngineOptions{Lock: lock, RetryPolicy: &policy})
	ctx := context.Background()

	order := testOrder("order-13")
	if _, err := engine.StartRun(ctx, order); err != nil {
		t.Fatalf("StartRun: %v", err)
	}

	// Another process holds the run's lock.
	token, err := lock.Acquire(ctx, RunID("order-13"), time.Minute)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	if _, err := engine.Execute(ctx, order); !errors.Is(err, ErrRunLocked) {
		t.Fatalf("err = %v, want ErrRunLocked", err)
	}

	if err := lock.Release(ctx, RunID("order-13"), token); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, err := engine.Execute(ctx, order); err != nil {
		t.Fatalf("Execute after release: %v", err)
	}
}

func TestStatusEventsEmitted(t *testing.T) {
	h := defaultHandlers()
	store := NewMemoryHistory()
	dispatcher := NewLocalDispatcher()
	h.serve(t, dispatcher)

	emitter := &recordingEmitter{}
	policy := fastRetry
	engine := NewEngine(store, dispatcher, EngineOptions{Emitter: emitter, RetryPolicy: &policy})

	if _, err := engine.Execute(context.Background(), testOrder("order-14")); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	// Emission is asynchronous and best-effort.
	deadline := time.Now().Add(time.Second)
	for {
		statuses := emitter.statuses()
		if contains(statuses, MilestoneCompleted) {
			if !contains(statuses, MilestoneReceived) || !contains(statuses, MilestoneMaking) {
				t.Errorf("statuses = %v, want received and making milestones", statuses)
			}
			for _, e := range emitter.all() {
				if e.OrderID != "order-14" {
					t.Errorf("event order id = %q, want order-14", e.OrderID)
				}
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("completed milestone never emitted, got %v", statuses)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []StatusEvent
}

func (r *recordingEmitter) Emit(ctx context.Context, event StatusEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingEmitter) statuses() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Status
	}
	return out
}

func (r *recordingEmitter) all() []StatusEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]StatusEvent(nil), r.events...)
}

func contains(ss []string, want string) bool {
	for _, s := range ss {
		if s == want {
			return true
		}
	}
	return false
}

func TestMalformedAnalyzeResultFailsRun(t *testing.T) {
	h := defaultHandlers()
	h.analyze = func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(`{"ingredients":[{"ingredient_name":"flour","amount":-5,"unit":"g"}]}`), nil
	}
	engine, store := newTestEngine(t, h)

	_, err := engine.Execute(context.Background(), testOrder("order-15"))
	if err == nil {
		t.Fatal("expected failure for negative amount")
	}
	if KindOf(err) != KindValidation {
		t.Errorf("kind = %q, want %q", KindOf(err), KindValidation)
	}
	if !strings.Contains(err.Error(), "negative amount") {
		t.Errorf("err = %v, want negative amount message", err)
	}

	run, _ := store.GetRun(context.Background(), RunID("order-15"))
	if run.Status != StatusFailed {
		t.Errorf("status = %q, want %q", run.Status, StatusFailed)
	}
}
