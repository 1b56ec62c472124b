package pancake

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// MemoryHistory implements HistoryStore using in-memory maps.
// WARNING: Not production safe - use only for testing.
type MemoryHistory struct {
	mu   sync.RWMutex
	runs map[string]*RunRecord
}

// NewMemoryHistory creates a new MemoryHistory.
func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{
		runs: make(map[string]*RunRecord),
	}
}

// IsProductionSafe returns false - MemoryHistory is not production safe.
func (s *MemoryHistory) IsProductionSafe() bool {
	return false
}

// CreateRun inserts a new run in running state, or attaches to an existing one.
func (s *MemoryHistory) CreateRun(ctx context.Context, runID string, input json.RawMessage) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[runID]; ok {
		return false, nil
	}
	now := time.Now()
	s.runs[runID] = &RunRecord{
		ID:        runID,
		Status:    StatusRunning,
		Input:     input,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return true, nil
}

// Append adds one completed activity record to a run's history.
func (s *MemoryHistory) Append(ctx context.Context, runID string, rec ActivityRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok {
		return ErrRunNotFound
	}
	if rec.StepIndex < len(run.History) {
		return NewDuplicateStepError(runID, rec.StepIndex)
	}
	if rec.StepIndex > len(run.History) {
		return fmt.Errorf("history gap: run '%s' has %d records, append targets step %d", runID, len(run.History), rec.StepIndex)
	}
	run.History = append(run.History, rec)
	run.UpdatedAt = time.Now()
	return nil
}

// Load retrieves a run's history ordered by step index.
func (s *MemoryHistory) Load(ctx context.Context, runID string) ([]ActivityRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[runID]
	if !ok {
		return nil, nil
	}
	out := make([]ActivityRecord, len(run.History))
	copy(out, run.History)
	return out, nil
}

// GetRun retrieves the full run record.
func (s *MemoryHistory) GetRun(ctx context.Context, runID string) (*RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if run, ok := s.runs[runID]; ok {
		// Return a copy to avoid race conditions
		cp := *run
		cp.History = make([]ActivityRecord, len(run.History))
		copy(cp.History, run.History)
		return &cp, nil
	}
	return nil, nil
}

// SetResult records a run's terminal status and outcome.
func (s *MemoryHistory) SetResult(ctx context.Context, runID string, status RunStatus, result json.RawMessage, failure *FailureInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok {
		return ErrRunNotFound
	}
	run.Status = status
	run.Result = result
	run.Failure = failure
	run.UpdatedAt = time.Now()
	return nil
}

// Query retrieves runs matching the filter.
func (s *MemoryHistory) Query(ctx context.Context, filter RunFilter) (*RunQueryResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var runs []RunRecord
	for _, run := range s.runs {
		if len(filter.Status) > 0 {
			found := false
			for _, st := range filter.Status {
				if run.Status == st {
					found = true
					break
				}
			}
			if !found {
				continue
			}
		}

		if filter.CreatedAfter != nil && run.CreatedAt.Before(*filter.CreatedAfter) {
			continue
		}
		if filter.CreatedBefore != nil && run.CreatedAt.After(*filter.CreatedBefore) {
			continue
		}
		if filter.UpdatedAfter != nil && run.UpdatedAt.Before(*filter.UpdatedAfter) {
			continue
		}

		runs = append(runs, *run)
	}

	total := len(runs)

	if filter.Offset > 0 && filter.Offset < len(runs) {
		runs = runs[filter.Offset:]
	} else if filter.Offset >= len(runs) {
		runs = nil
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	if len(runs) > limit {
		runs = runs[:limit]
	}

	return &RunQueryResult{
		Runs:  runs,
		Total: total,
	}, nil
}

// CountByStatus counts runs by status.
func (s *MemoryHistory) CountByStatus(ctx context.Context, statuses ...RunStatus) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, run := range s.runs {
		for _, st := range statuses {
			if run.Status == st {
				count++
				break
			}
		}
	}
	return count, nil
}

// Ensure MemoryHistory implements HistoryStore.
var _ HistoryStore = (*MemoryHistory)(nil)
