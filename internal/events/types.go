package events

import (
	"time"
)

// Event is the base interface for all events.
type Event interface {
	EventType() string
	TaskID() string
}

// Topic constants
const (
	TopicTask     = "task"
	TopicWorkflow = "workflow"
	TopicError    = "error"
)

// Event type constants
const (
	EventTypeTaskStarted       = "task_started"
	EventTypeTaskCompleted     = "task_completed"
	EventTypeTaskFailed        = "task_failed"
	EventTypeErrorHandled      = "error_handled"
	EventTypeWorkflowCompleted = "workflow_completed"
	EventTypeWorkflowCancelled = "workflow_cancelled"
)

// TaskStartedEvent is published when a task is dispatched to its agent.
type TaskStartedEvent struct {
	WorkflowID string
	ID         string
	Agent      string
	Kind       string
	Timestamp  time.Time
}

func (e TaskStartedEvent) EventType() string { return EventTypeTaskStarted }
func (e TaskStartedEvent) TaskID() string    { return e.ID }

// TaskCompletedEvent is published when a task completes successfully.
type TaskCompletedEvent struct {
	WorkflowID string
	ID         string
	Agent      string
	Recovered  bool // True when the result needed retries or the fallback
	Duration   time.Duration
	Timestamp  time.Time
}

func (e TaskCompletedEvent) EventType() string { return EventTypeTaskCompleted }
func (e TaskCompletedEvent) TaskID() string    { return e.ID }

// TaskFailedEvent is published when a task reaches terminal failure.
type TaskFailedEvent struct {
	WorkflowID string
	ID         string
	Agent      string
	Err        error
	Duration   time.Duration
	Timestamp  time.Time
}

func (e TaskFailedEvent) EventType() string { return EventTypeTaskFailed }
func (e TaskFailedEvent) TaskID() string    { return e.ID }

// ErrorHandledEvent is published by the error handler once per handled
// failure, after retry and fallback policy have run their course.
type ErrorHandledEvent struct {
	OperationKey string // Logical operation key, typically the agent name
	Task         string
	Category     string
	Severity     string
	Recovered    bool
	Attempts     int
	Err          error
	Timestamp    time.Time
}

func (e ErrorHandledEvent) EventType() string { return EventTypeErrorHandled }
func (e ErrorHandledEvent) TaskID() string    { return e.Task }

// WorkflowCompletedEvent is published when a workflow run reaches a terminal
// status, whether completed, partially failed, or cancelled.
type WorkflowCompletedEvent struct {
	WorkflowID string
	Status     string
	Completed  int
	Failed     int
	Pending    int
	Duration   time.Duration
	Timestamp  time.Time
}

func (e WorkflowCompletedEvent) EventType() string { return EventTypeWorkflowCompleted }
func (e WorkflowCompletedEvent) TaskID() string    { return "" }

// WorkflowCancelledEvent is published when a cancellation request is accepted.
type WorkflowCancelledEvent struct {
	WorkflowID string
	Timestamp  time.Time
}

func (e WorkflowCancelledEvent) EventType() string { return EventTypeWorkflowCancelled }
func (e WorkflowCancelledEvent) TaskID() string    { return "" }
