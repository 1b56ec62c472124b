package pancake

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies activity failures for retry decisions.
type ErrorKind string

const (
	// KindValidation marks malformed input - non-retryable, terminal.
	KindValidation ErrorKind = "validation"
	// KindAuth marks rejected credentials - non-retryable by default.
	KindAuth ErrorKind = "auth"
	// KindRateLimit marks throttling by a collaborator - retryable.
	KindRateLimit ErrorKind = "rate_limit"
	// KindConnection marks transport failures - retryable.
	KindConnection ErrorKind = "connection"
	// KindTimeout marks an exceeded schedule or await deadline - retryable.
	KindTimeout ErrorKind = "timeout"
	// KindActivity marks a worker-reported business failure.
	KindActivity ErrorKind = "activity"
)

// Sentinel errors for errors.Is() support
var (
	ErrActivityFailed  = errors.New("activity failed")
	ErrScheduleTimeout = errors.New("schedule timeout")
	ErrRunLocked       = errors.New("run locked")
	ErrDuplicateStep   = errors.New("duplicate step")
	ErrRunNotFound     = errors.New("run not found")
	ErrRunInProgress   = errors.New("run in progress")
	ErrReplayMismatch  = errors.New("replay mismatch")
	ErrInvalidInput    = errors.New("invalid input")
)

// Error codes for engine errors
const (
	ErrCodeActivityFailed  = "ACTIVITY_FAILED"
	ErrCodeScheduleTimeout = "SCHEDULE_TIMEOUT"
	ErrCodeRunLocked       = "RUN_LOCKED"
	ErrCodeDuplicateStep   = "DUPLICATE_STEP"
	ErrCodeReplayMismatch  = "REPLAY_MISMATCH"
	ErrCodeInvalidInput    = "INVALID_INPUT"
)

// EngineError is the base error type for all engine errors.
type EngineError struct {
	Code    string
	Message string
	Cause   error
}

func (e *EngineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *EngineError) Unwrap() error {
	return e.Cause
}

// ActivityError is a classified activity failure, either reported by a
// worker or raised at the payload validation boundary.
type ActivityError struct {
	EngineError
	ActivityName string
	Kind         ErrorKind
}

// NewActivityError creates a new ActivityError.
func NewActivityError(activity string, kind ErrorKind, msg string) *ActivityError {
	return &ActivityError{
		EngineError: EngineError{
			Code:    ErrCodeActivityFailed,
			Message: fmt.Sprintf("activity '%s' failed (%s): %s", activity, kind, msg),
		},
		ActivityName: activity,
		Kind:         kind,
	}
}

func (e *ActivityError) Is(target error) bool {
	return target == ErrActivityFailed
}

// InputError marks a malformed request rejected at the intake boundary,
// before any activity is scheduled.
type InputError struct {
	EngineError
}

// NewInputError creates a new InputError.
func NewInputError(msg string) *InputError {
	return &InputError{
		EngineError: EngineError{
			Code:    ErrCodeInvalidInput,
			Message: msg,
		},
	}
}

func (e *InputError) Is(target error) bool {
	return target == ErrInvalidInput
}

// TimeoutError is raised when a schedule+await round trip exceeds its deadline.
type TimeoutError struct {
	EngineError
	QueueName string
	Timeout   time.Duration
}

// NewTimeoutError creates a new TimeoutError.
func NewTimeoutError(queue string, timeout time.Duration) *TimeoutError {
	return &TimeoutError{
		EngineError: EngineError{
			Code:    ErrCodeScheduleTimeout,
			Message: fmt.Sprintf("no result from queue '%s' within %s", queue, timeout),
		},
		QueueName: queue,
		Timeout:   timeout,
	}
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrScheduleTimeout
}

// RunLockedError is raised when a run is already being driven by another process.
type RunLockedError struct {
	EngineError
	RunID string
}

// NewRunLockedError creates a new RunLockedError.
func NewRunLockedError(runID string) *RunLockedError {
	return &RunLockedError{
		EngineError: EngineError{
			Code:    ErrCodeRunLocked,
			Message: fmt.Sprintf("run '%s' is locked by another process", runID),
		},
		RunID: runID,
	}
}

func (e *RunLockedError) Is(target error) bool {
	return target == ErrRunLocked
}

// DuplicateStepError is raised when an append targets an already-recorded
// step index. History is at-most-once per logical step.
type DuplicateStepError struct {
	EngineError
	RunID     string
	StepIndex int
}

// NewDuplicateStepError creates a new DuplicateStepError.
func NewDuplicateStepError(runID string, stepIndex int) *DuplicateStepError {
	return &DuplicateStepError{
		EngineError: EngineError{
			Code:    ErrCodeDuplicateStep,
			Message: fmt.Sprintf("run '%s' already has a record at step %d", runID, stepIndex),
		},
		RunID:     runID,
		StepIndex: stepIndex,
	}
}

func (e *DuplicateStepError) Is(target error) bool {
	return target == ErrDuplicateStep
}

// ReplayMismatchError is raised when a recorded step does not match the
// activity the state machine derives at that index. It indicates a
// non-deterministic workflow change, never normal operation.
type ReplayMismatchError struct {
	EngineError
	RunID     string
	StepIndex int
	Recorded  string
	Derived   string
}

// NewReplayMismatchError creates a new ReplayMismatchError.
func NewReplayMismatchError(runID string, stepIndex int, recorded, derived string) *ReplayMismatchError {
	return &ReplayMismatchError{
		EngineError: EngineError{
			Code:    ErrCodeReplayMismatch,
			Message: fmt.Sprintf("run '%s' step %d recorded '%s' but state machine derived '%s'", runID, stepIndex, recorded, derived),
		},
		RunID:     runID,
		StepIndex: stepIndex,
		Recorded:  recorded,
		Derived:   derived,
	}
}

func (e *ReplayMismatchError) Is(target error) bool {
	return target == ErrReplayMismatch
}

// KindOf extracts the retry classification of an error.
func KindOf(err error) ErrorKind {
	var actErr *ActivityError
	if errors.As(err, &actErr) {
		return actErr.Kind
	}
	var inErr *InputError
	if errors.As(err, &inErr) {
		return KindValidation
	}
	var toErr *TimeoutError
	if errors.As(err, &toErr) {
		return KindTimeout
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindActivity
}

// TruncateError truncates an error message to MaxErrorLength.
func TruncateError(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if len(msg) <= MaxErrorLength {
		return msg
	}
	marker := "... [TRUNCATED]"
	return msg[:MaxErrorLength-len(marker)] + marker
}

// FailureFromError converts a terminal error to its storage/wire form.
func FailureFromError(err error) *FailureInfo {
	if err == nil {
		return nil
	}
	return &FailureInfo{
		Kind:    KindOf(err),
		Message: TruncateError(err),
	}
}

// ToError reconstructs the terminal error recorded for an activity.
func (f *FailureInfo) ToError(activity string) error {
	if f == nil {
		return nil
	}
	return &ActivityError{
		EngineError: EngineError{
			Code:    ErrCodeActivityFailed,
			Message: f.Message,
		},
		ActivityName: activity,
		Kind:         f.Kind,
	}
}
