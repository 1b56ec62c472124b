// Package pancake provides a durable order-fulfillment workflow engine.
//
// A customer order passes through a fixed sequence of remote activities
// (analyze, inventory check, kitchen execution, notification), each
// dispatched to an independently-scalable worker pool via a named task
// queue. Completed activity results are appended to a durable history log
// before the state machine advances, so a crashed or restarted run resumes
// by replaying its history without re-executing side-effecting steps.
//
// Key features:
//   - Crash resilience: every completed activity is persisted before the run advances
//   - Deterministic replay: identical history yields identical scheduled activities
//   - Per-activity retry: bounded attempts with non-retryable error classification
//   - Idempotent starts: one run per order id, duplicate starts attach
//   - Best-effort status broadcast that never blocks or fails a step
//
// Example:
//
//	engine := pancake.NewEngine(store, dispatcher, pancake.EngineOptions{
//	    Lock: lock,
//	})
//	result, err := engine.Execute(ctx, pancake.OrderRequest{
//	    OrderID:       "order-123",
//	    CustomerOrder: "two classic pancakes",
//	    CustomerName:  "Ada",
//	})
package pancake

import (
	"encoding/json"
	"time"
)

// OrderRequest is the initial input of a workflow run.
type OrderRequest struct {
	OrderID             string `json:"order_id"`
	CustomerOrder       string `json:"customer_order"`
	CustomerName        string `json:"customer_name"`
	SpecialInstructions string `json:"special_instructions,omitempty"`
}

// IngredientItem is one required ingredient with its amount in a standard unit.
type IngredientItem struct {
	Name   string  `json:"ingredient_name"`
	Amount float64 `json:"amount"`
	Unit   string  `json:"unit"`
}

// Ingredients is the ordered ingredient list flowing between activities.
// It moves by value: each activity returns a new list, never mutates its input.
type Ingredients struct {
	Items []IngredientItem `json:"ingredients"`
}

// standardUnits are the only units accepted past validation.
var standardUnits = map[string]bool{"g": true, "kg": true, "ml": true, "l": true}

// Validate rejects negative amounts and non-standard units at the
// dispatcher boundary, before payloads reach the state machine.
func (in Ingredients) Validate() error {
	for _, item := range in.Items {
		if item.Name == "" {
			return NewActivityError(ActivityAnalyzeOrder, KindValidation, "ingredient with empty name")
		}
		if item.Amount < 0 {
			return NewActivityError(ActivityAnalyzeOrder, KindValidation, "negative amount for ingredient '"+item.Name+"'")
		}
		if !standardUnits[item.Unit] {
			return NewActivityError(ActivityAnalyzeOrder, KindValidation, "unit '"+item.Unit+"' is not a standard unit (g, kg, ml, l)")
		}
	}
	return nil
}

// Inventory decision values.
const (
	DecisionMake   = "make"
	DecisionNoMake = "no_make"
)

// InventoryDecision is produced once per run by the inventory check step.
type InventoryDecision struct {
	Decision  string   `json:"decision"`
	Available []string `json:"available_ingredients"`
	Missing   []string `json:"missing_ingredients"`
}

// Validate rejects malformed decisions before they drive the branch.
func (d InventoryDecision) Validate() error {
	if d.Decision != DecisionMake && d.Decision != DecisionNoMake {
		return NewActivityError(ActivityInventoryCheck, KindValidation, "decision '"+d.Decision+"' is not 'make' or 'no_make'")
	}
	return nil
}

// Typed activity input payloads, validated at the dispatcher boundary.
type (
	// AnalyzeOrderInput is the payload of the analyze_order activity.
	AnalyzeOrderInput struct {
		CustomerOrder string `json:"customer_order"`
	}

	// InventoryCheckInput is the payload of the inventory_check activity.
	InventoryCheckInput struct {
		OrderID     string      `json:"order_id"`
		Ingredients Ingredients `json:"ingredients"`
	}

	// ExecuteOrderInput is the payload of the execute_order activity.
	ExecuteOrderInput struct {
		OrderID     string      `json:"order_id"`
		Ingredients Ingredients `json:"ingredients"`
	}

	// NotifyInput is the payload of the notify activity.
	NotifyInput struct {
		OrderID string `json:"order_id"`
		Message string `json:"message"`
	}
)

// FailureInfo is the wire and storage form of a terminal activity failure.
type FailureInfo struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// ActivityRecord is one completed step in a run's history.
// Immutable once appended - history is append-only; replay never rewrites an entry.
type ActivityRecord struct {
	StepIndex    int             `json:"stepIndex"`
	ActivityName string          `json:"activityName"`
	QueueName    string          `json:"queueName"`
	Input        json.RawMessage `json:"input"`
	AttemptCount int             `json:"attemptCount"`
	Result       json.RawMessage `json:"result,omitempty"`
	Failure      *FailureInfo    `json:"failure,omitempty"`
	CompletedAt  time.Time       `json:"completedAt"`
}

// RunRecord is a workflow run as stored.
type RunRecord struct {
	ID        string           `json:"id"`
	Status    RunStatus        `json:"status"`
	Input     json.RawMessage  `json:"input"`
	Result    json.RawMessage  `json:"result,omitempty"`
	Failure   *FailureInfo     `json:"failure,omitempty"`
	History   []ActivityRecord `json:"history,omitempty"`
	CreatedAt time.Time        `json:"createdAt"`
	UpdatedAt time.Time        `json:"updatedAt"`
}

// RunFilter is used to query runs.
type RunFilter struct {
	Status        []RunStatus
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
	UpdatedAfter  *time.Time
	Offset        int
	Limit         int
}

// RunQueryResult is the result of a run query.
type RunQueryResult struct {
	Runs  []RunRecord
	Total int
}

// RetryPolicy configures retry behavior for one activity invocation.
// Backoff doubles each attempt, capped at MaxInterval.
type RetryPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxAttempts     int
	NonRetryable    []ErrorKind
}

// DefaultRetryPolicy mirrors the production policy: three attempts,
// one second initial backoff capped at ten seconds, validation and auth
// failures never retried.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialInterval: 1 * time.Second,
		MaxInterval:     10 * time.Second,
		MaxAttempts:     3,
		NonRetryable:    []ErrorKind{KindValidation, KindAuth},
	}
}

// Backoff returns the sleep before the attempt following attempt n (1-based).
// Monotonically non-decreasing up to MaxInterval.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	d := p.InitialInterval
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxInterval > 0 && d >= p.MaxInterval {
			return p.MaxInterval
		}
	}
	if p.MaxInterval > 0 && d > p.MaxInterval {
		return p.MaxInterval
	}
	return d
}

// Retryable reports whether a failure of the given kind may be retried.
func (p RetryPolicy) Retryable(kind ErrorKind) bool {
	for _, k := range p.NonRetryable {
		if k == kind {
			return false
		}
	}
	return true
}

// StartResult is returned by Engine.StartRun.
type StartResult struct {
	RunID    string `json:"run_id"`
	Status   string `json:"status"`
	Attached bool   `json:"attached"`
}
