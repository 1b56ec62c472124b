package pancake

import "time"

// Task queue names. Each activity type is served by its own worker pool.
const (
	QueueAnalyze      = "analyze-order"
	QueueInventory    = "inventory"
	QueueKitchen      = "kitchen"
	QueueNotification = "notification"
)

// Activity names as they appear on the wire and in history.
const (
	ActivityAnalyzeOrder   = "analyze_order"
	ActivityInventoryCheck = "inventory_check"
	ActivityExecuteOrder   = "execute_order"
	ActivityNotify         = "notify"
)

// Customer-facing notification messages.
const (
	MsgOrderCompleted          = "order completed"
	MsgInsufficientIngredients = "insufficient ingredients"
)

// Hard limits - non-configurable by design
const (
	// MaxExecutionDuration is the maximum wall-clock time for a run (15 minutes).
	MaxExecutionDuration = 15 * time.Minute

	// MaxErrorLength is the maximum length of error messages stored in history (2KB).
	MaxErrorLength = 2048

	// DefaultActivityTimeout bounds a single schedule+await round trip.
	DefaultActivityTimeout = 30 * time.Second

	// NotifyTimeout is shorter: the notifier has no failure path modeled.
	NotifyTimeout = 10 * time.Second

	// EmitTimeout bounds a best-effort status broadcast.
	EmitTimeout = 5 * time.Second
)

// RunStatus represents the state of a workflow run.
type RunStatus string

const (
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
)

// Milestones published through the status emitter.
const (
	MilestoneReceived  = "received"
	MilestoneAnalyzing = "analyzing"
	MilestoneInventory = "inventory_check"
	MilestoneMaking    = "making"
	MilestoneRejected  = "rejected"
	MilestoneCompleted = "completed"
	MilestoneFailed    = "failed"
)
