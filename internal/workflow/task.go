package workflow

import (
	"time"
)

// TaskStatus represents the current state of a task.
type TaskStatus int

const (
	TaskPending   TaskStatus = iota // Waiting for dependencies
	TaskRunning                     // Currently executing
	TaskCompleted                   // Finished successfully
	TaskFailed                      // Finished with error
)

// String returns the lowercase name used in logs and audit rows.
func (s TaskStatus) String() string {
	switch s {
	case TaskPending:
		return "pending"
	case TaskRunning:
		return "running"
	case TaskCompleted:
		return "completed"
	case TaskFailed:
		return "failed"
	}
	return "unknown"
}

// Terminal reports whether the status is completed or failed.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// Kind classifies a task for logging and metrics. It has no scheduling meaning.
type Kind string

const (
	KindAnalyze   Kind = "analyze"
	KindDesign    Kind = "design"
	KindImplement Kind = "implement"
	KindValidate  Kind = "validate"
	KindTest      Kind = "test"
	KindReview    Kind = "review"
)

// Task represents a unit of work assigned to one named agent capability.
type Task struct {
	ID        string         // Unique identifier, stable for the run
	Kind      Kind           // Informational classification
	Agent     string         // Capability name, resolved by the gateway
	Input     map[string]any // Payload; values may be resolver references
	DependsOn []string       // Task IDs that must complete first
	Priority  int            // Tie-break hint among ready tasks

	Status    TaskStatus
	Result    map[string]any // Set exactly once, on transition to completed
	Err       error          // Set exactly once, on transition to failed
	StartedAt time.Time
	EndedAt   time.Time
}

// Ready reports whether every dependency ID is present in completed.
// A task with no dependencies is immediately ready.
func (t *Task) Ready(completed map[string]bool) bool {
	for _, depID := range t.DependsOn {
		if !completed[depID] {
			return false
		}
	}
	return true
}

// Clone returns a deep-enough copy for handing snapshots to callers.
// Input and Result maps are shared; the scheduler never mutates them after
// a task reaches a terminal status.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}

	cp := *t
	if t.DependsOn != nil {
		cp.DependsOn = append([]string(nil), t.DependsOn...)
	}
	return &cp
}

// Duration returns the wall-clock execution time, or zero if the task never ran.
func (t *Task) Duration() time.Duration {
	if t.StartedAt.IsZero() || t.EndedAt.IsZero() {
		return 0
	}
	return t.EndedAt.Sub(t.StartedAt)
}
