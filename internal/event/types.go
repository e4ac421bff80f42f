package event

import "time"

// Event is the interface that all events must implement.
type Event interface {
	// EventType returns a string identifier for this event type.
	// Convention: "category.action" (e.g., "task.assigned", "response.submitted")
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// Event type identifiers.
const (
	TypeTaskCreated       = "task.created"
	TypeTaskAssigned      = "task.assigned"
	TypeTaskReclaimed     = "task.reclaimed"
	TypeTaskCompleted     = "task.completed"
	TypeTaskRetired       = "task.retired"
	TypeQueueDepthChanged = "queue.depth_changed"
	TypeResponseSubmitted = "response.submitted"
	TypeResponseEvaluated = "response.evaluated"
	TypeSweepCompleted    = "sweep.completed"
	TypeWorkersScaled     = "evaluator.workers_scaled"
)

// baseEvent provides common fields for all events.
type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

func newBaseEvent(eventType string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
	}
}

// -----------------------------------------------------------------------------
// Task Lifecycle Events
// -----------------------------------------------------------------------------

// TaskCreatedEvent is emitted when a task enters the store as Pending.
type TaskCreatedEvent struct {
	baseEvent
	TaskID   string
	TrackID  string
	Language string
	Category string
	Type     string
}

// NewTaskCreatedEvent creates a TaskCreatedEvent.
func NewTaskCreatedEvent(taskID, trackID, language, category, taskType string) TaskCreatedEvent {
	return TaskCreatedEvent{
		baseEvent: newBaseEvent(TypeTaskCreated),
		TaskID:    taskID,
		TrackID:   trackID,
		Language:  language,
		Category:  category,
		Type:      taskType,
	}
}

// TaskAssignedEvent is emitted when TryAssign succeeds.
type TaskAssignedEvent struct {
	baseEvent
	TaskID    string
	SessionID string
	ExpiresAt time.Time
}

// NewTaskAssignedEvent creates a TaskAssignedEvent.
func NewTaskAssignedEvent(taskID, sessionID string, expiresAt time.Time) TaskAssignedEvent {
	return TaskAssignedEvent{
		baseEvent: newBaseEvent(TypeTaskAssigned),
		TaskID:    taskID,
		SessionID: sessionID,
		ExpiresAt: expiresAt,
	}
}

// TaskReclaimedEvent is emitted when an expired assignment returns to Pending.
type TaskReclaimedEvent struct {
	baseEvent
	TaskID string
}

// NewTaskReclaimedEvent creates a TaskReclaimedEvent.
func NewTaskReclaimedEvent(taskID string) TaskReclaimedEvent {
	return TaskReclaimedEvent{
		baseEvent: newBaseEvent(TypeTaskReclaimed),
		TaskID:    taskID,
	}
}

// TaskCompletedEvent is emitted when the assignment holder finalizes a task.
type TaskCompletedEvent struct {
	baseEvent
	TaskID    string
	SessionID string
}

// NewTaskCompletedEvent creates a TaskCompletedEvent.
func NewTaskCompletedEvent(taskID, sessionID string) TaskCompletedEvent {
	return TaskCompletedEvent{
		baseEvent: newBaseEvent(TypeTaskCompleted),
		TaskID:    taskID,
		SessionID: sessionID,
	}
}

// TaskRetiredEvent is emitted on administrative removal.
type TaskRetiredEvent struct {
	baseEvent
	TaskID string
}

// NewTaskRetiredEvent creates a TaskRetiredEvent.
func NewTaskRetiredEvent(taskID string) TaskRetiredEvent {
	return TaskRetiredEvent{
		baseEvent: newBaseEvent(TypeTaskRetired),
		TaskID:    taskID,
	}
}

// QueueDepthChangedEvent carries the pending and assigned counts observed
// right after a state transition.
type QueueDepthChangedEvent struct {
	baseEvent
	Pending  int
	Assigned int
}

// NewQueueDepthChangedEvent creates a QueueDepthChangedEvent.
func NewQueueDepthChangedEvent(pending, assigned int) QueueDepthChangedEvent {
	return QueueDepthChangedEvent{
		baseEvent: newBaseEvent(TypeQueueDepthChanged),
		Pending:   pending,
		Assigned:  assigned,
	}
}

// -----------------------------------------------------------------------------
// Response Events
// -----------------------------------------------------------------------------

// ResponseSubmittedEvent is emitted once a response is persisted.
type ResponseSubmittedEvent struct {
	baseEvent
	ResponseID string
	TaskID     string
	SessionID  string
	LatencyMS  int64
}

// NewResponseSubmittedEvent creates a ResponseSubmittedEvent.
func NewResponseSubmittedEvent(responseID, taskID, sessionID string, latencyMS int64) ResponseSubmittedEvent {
	return ResponseSubmittedEvent{
		baseEvent:  newBaseEvent(TypeResponseSubmitted),
		ResponseID: responseID,
		TaskID:     taskID,
		SessionID:  sessionID,
		LatencyMS:  latencyMS,
	}
}

// ResponseEvaluatedEvent is emitted when the evaluator settles a response.
type ResponseEvaluatedEvent struct {
	baseEvent
	ResponseID string
	TaskID     string
	SessionID  string
	Outcome    string  // "accepted" or "rejected"
	Score      float64 // 0..1
	Level      string  // high, medium, low, spam
	Reason     string  // why the score moved or the response was rejected
}

// NewResponseEvaluatedEvent creates a ResponseEvaluatedEvent.
func NewResponseEvaluatedEvent(responseID, taskID, sessionID, outcome string, score float64, level, reason string) ResponseEvaluatedEvent {
	return ResponseEvaluatedEvent{
		baseEvent:  newBaseEvent(TypeResponseEvaluated),
		ResponseID: responseID,
		TaskID:     taskID,
		SessionID:  sessionID,
		Outcome:    outcome,
		Score:      score,
		Level:      level,
		Reason:     reason,
	}
}

// -----------------------------------------------------------------------------
// Background Events
// -----------------------------------------------------------------------------

// SweepCompletedEvent summarizes one evaluator pass.
type SweepCompletedEvent struct {
	baseEvent
	Reclaimed int
	Evaluated int
	Accepted  int
	Rejected  int
	Failed    int
	Duration  time.Duration
}

// NewSweepCompletedEvent creates a SweepCompletedEvent.
func NewSweepCompletedEvent(reclaimed, evaluated, accepted, rejected, failed int, duration time.Duration) SweepCompletedEvent {
	return SweepCompletedEvent{
		baseEvent: newBaseEvent(TypeSweepCompleted),
		Reclaimed: reclaimed,
		Evaluated: evaluated,
		Accepted:  accepted,
		Rejected:  rejected,
		Failed:    failed,
		Duration:  duration,
	}
}

// WorkersScaledEvent is emitted when the evaluator pool is resized.
type WorkersScaledEvent struct {
	baseEvent
	Action string // "scale_up" or "scale_down"
	From   int
	To     int
	Reason string
}

// NewWorkersScaledEvent creates a WorkersScaledEvent.
func NewWorkersScaledEvent(action string, from, to int, reason string) WorkersScaledEvent {
	return WorkersScaledEvent{
		baseEvent: newBaseEvent(TypeWorkersScaled),
		Action:    action,
		From:      from,
		To:        to,
		Reason:    reason,
	}
}
