package pancake

import (
	"context"
	"encoding/json"
)

// HistoryStore is the interface for run persistence.
//
// History is append-only: Append must be atomic and at-most-once per
// logical step index, rejecting duplicates with ErrDuplicateStep so a
// retried append cannot record a step twice. Appends for different run
// ids never interfere; appends for the same run id are serialized by
// the store.
type HistoryStore interface {
	// IsProductionSafe returns true if this store is safe for production use.
	IsProductionSafe() bool

	// CreateRun inserts a new run in running state. If a run with this id
	// already exists, it reports created=false and leaves it untouched,
	// so starting a run is idempotent per id.
	CreateRun(ctx context.Context, runID string, input json.RawMessage) (created bool, err error)

	// Append adds one completed activity record to a run's history.
	// The record's StepIndex must be the next free index; an existing
	// index fails with ErrDuplicateStep.
	Append(ctx context.Context, runID string, rec ActivityRecord) error

	// Load retrieves a run's history ordered by step index.
	Load(ctx context.Context, runID string) ([]ActivityRecord, error)

	// GetRun retrieves the full run record including history.
	GetRun(ctx context.Context, runID string) (*RunRecord, error)

	// SetResult records a run's terminal status and outcome.
	SetResult(ctx context.Context, runID string, status RunStatus, result json.RawMessage, failure *FailureInfo) error

	// Query retrieves runs matching the filter.
	Query(ctx context.Context, filter RunFilter) (*RunQueryResult, error)

	// CountByStatus counts runs by status.
	CountByStatus(ctx context.Context, statuses ...RunStatus) (int, error)
}
