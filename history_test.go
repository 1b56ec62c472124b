package pancake

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestCreateRunIsIdempotent(t *testing.T) {
	store := NewMemoryHistory()
	ctx := context.Background()

	created, err := store.CreateRun(ctx, "run-1", json.RawMessage(`{"a":1}`))
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if !created {
		t.Error("first create reported created=false")
	}

	created, err = store.CreateRun(ctx, "run-1", json.RawMessage(`{"a":2}`))
	if err != nil {
		t.Fatalf("second CreateRun: %v", err)
	}
	if created {
		t.Error("second create reported created=true")
	}

	// The original input survives the duplicate create.
	run, _ := store.GetRun(ctx, "run-1")
	if string(run.Input) != `{"a":1}` {
		t.Errorf("input = %s, want original payload", run.Input)
	}
}

func TestAppendRejectsDuplicateIndex(t *testing.T) {
	store := NewMemoryHistory()
	ctx := context.Background()
	store.CreateRun(ctx, "run-2", nil)

	rec := ActivityRecord{
		StepIndex:    0,
		ActivityName: ActivityAnalyzeOrder,
		QueueName:    QueueAnalyze,
		AttemptCount: 1,
		Result:       json.RawMessage(`{}`),
		CompletedAt:  time.Now(),
	}
	if err := store.Append(ctx, "run-2", rec); err != nil {
		t.Fatalf("Append: %v", err)
	}

	err := store.Append(ctx, "run-2", rec)
	if !errors.Is(err, ErrDuplicateStep) {
		t.Fatalf("err = %v, want ErrDuplicateStep", err)
	}

	history, _ := store.Load(ctx, "run-2")
	if len(history) != 1 {
		t.Errorf("history length = %d, want 1", len(history))
	}
}

func TestAppendRejectsGap(t *testing.T) {
	store := NewMemoryHistory()
	ctx := context.Background()
	store.CreateRun(ctx, "run-3", nil)

	err := store.Append(ctx, "run-3", ActivityRecord{
		StepIndex:    2,
		ActivityName: ActivityNotify,
		QueueName:    QueueNotification,
		AttemptCount: 1,
		CompletedAt:  time.Now(),
	})
	if err == nil {
		t.Fatal("expected error for gapped step index")
	}
}

func TestAppendUnknownRun(t *testing.T) {
	store := NewMemoryHistory()

	err := store.Append(context.Background(), "ghost", ActivityRecord{
		ActivityName: ActivityNotify,
		CompletedAt:  time.Now(),
	})
	if !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("err = %v, want ErrRunNotFound", err)
	}
}

func TestSetResultUnknownRun(t *testing.T) {
	store := NewMemoryHistory()

	err := store.SetResult(context.Background(), "ghost", StatusCompleted, nil, nil)
	if !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("err = %v, want ErrRunNotFound", err)
	}
}

func TestQueryFiltersByStatus(t *testing.T) {
	store := NewMemoryHistory()
	ctx := context.Background()

	store.CreateRun(ctx, "run-a", nil)
	store.CreateRun(ctx, "run-b", nil)
	store.CreateRun(ctx, "run-c", nil)
	store.SetResult(ctx, "run-b", StatusCompleted, json.RawMessage(`{}`), nil)
	store.SetResult(ctx, "run-c", StatusFailed, nil, &FailureInfo{Kind: KindTimeout, Message: "too slow"})

	result, err := store.Query(ctx, RunFilter{Status: []RunStatus{StatusRunning}})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if result.Total != 1 || len(result.Runs) != 1 {
		t.Fatalf("got %d/%d runs, want 1/1", len(result.Runs), result.Total)
	}
	if result.Runs[0].ID != "run-a" {
		t.Errorf("run id = %q, want run-a", result.Runs[0].ID)
	}

	result, _ = store.Query(ctx, RunFilter{Status: []RunStatus{StatusCompleted, StatusFailed}})
	if result.Total != 2 {
		t.Errorf("terminal total = %d, want 2", result.Total)
	}
}

func TestQueryPagination(t *testing.T) {
	store := NewMemoryHistory()
	ctx := context.Background()

	for _, id := range []string{"p1", "p2", "p3", "p4"} {
		store.CreateRun(ctx, id, nil)
	}

	result, err := store.Query(ctx, RunFilter{Limit: 2})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(result.Runs) != 2 {
		t.Errorf("page size = %d, want 2", len(result.Runs))
	}
	if result.Total != 4 {
		t.Errorf("total = %d, want 4", result.Total)
	}

	result, _ = store.Query(ctx, RunFilter{Offset: 10})
	if len(result.Runs) != 0 {
		t.Errorf("past-end page size = %d, want 0", len(result.Runs))
	}
}

func TestCountByStatus(t *testing.T) {
	store := NewMemoryHistory()
	ctx := context.Background()

	store.CreateRun(ctx, "c1", nil)
	store.CreateRun(ctx, "c2", nil)
	store.SetResult(ctx, "c2", StatusCompleted, nil, nil)

	count, err := store.CountByStatus(ctx, StatusRunning)
	if err != nil {
		t.Fatalf("CountByStatus: %v", err)
	}
	if count != 1 {
		t.Errorf("running count = %d, want 1", count)
	}

	count, _ = store.CountByStatus(ctx, StatusRunning, StatusCompleted)
	if count != 2 {
		t.Errorf("combined count = %d, want 2", count)
	}
}

func TestGetRunReturnsCopy(t *testing.T) {
	store := NewMemoryHistory()
	ctx := context.Background()
	store.CreateRun(ctx, "run-copy", nil)
	store.Append(ctx, "run-copy", ActivityRecord{
		StepIndex: 0, ActivityName: ActivityAnalyzeOrder, QueueName: QueueAnalyze,
		AttemptCount: 1, CompletedAt: time.Now(),
	})

	run, _ := store.GetRun(ctx, "run-copy")
	run.History[0].ActivityName = "mutated"
	run.Status = StatusFailed

	fresh, _ := store.GetRun(ctx, "run-copy")
	if fresh.History[0].ActivityName != ActivityAnalyzeOrder {
		t.Error("mutating a returned record leaked into the store")
	}
	if fresh.Status != StatusRunning {
		t.Error("mutating a returned run leaked into the store")
	}
}
