package workflow

import (
	"fmt"
)

// MalformedWorkflowError reports a definition rejected at submission time:
// duplicate or empty task IDs, dangling dependency references, or cycles.
// Fatal to that submission only.
type MalformedWorkflowError struct {
	WorkflowID string
	TaskID     string // Offending task, when identifiable
	Reason     string
}

func (e *MalformedWorkflowError) Error() string {
	if e.TaskID != "" {
		return fmt.Sprintf("malformed workflow %q: task %q: %s", e.WorkflowID, e.TaskID, e.Reason)
	}
	return fmt.Sprintf("malformed workflow %q: %s", e.WorkflowID, e.Reason)
}

// ValidationError reports bad task input. Never retried: re-sending a
// malformed request cannot succeed.
type ValidationError struct {
	TaskID string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for task %q: %s", e.TaskID, e.Reason)
}

// CancelledError marks a task failed because its workflow was explicitly
// stopped. Any result that arrives after cancellation is discarded.
type CancelledError struct {
	WorkflowID string
	TaskID     string
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("workflow %q cancelled while task %q was pending or in flight", e.WorkflowID, e.TaskID)
}

// StalledError reports a run that can make no further progress: nothing is
// active, nothing is ready, but pending tasks remain. This happens when an
// upstream failure blocks every remaining dependency chain.
type StalledError struct {
	WorkflowID string
	PendingIDs []string
}

func (e *StalledError) Error() string {
	return fmt.Sprintf("workflow %q stalled with %d tasks permanently pending: %v", e.WorkflowID, len(e.PendingIDs), e.PendingIDs)
}
