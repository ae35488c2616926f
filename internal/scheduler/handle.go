package scheduler

import (
	"context"
	"time"

	"github.com/taskweave/taskweave/internal/workflow"
)

// Handle observes and controls one workflow run.
type Handle struct {
	r *run
}

// RunID returns the unique run identifier assigned at submission.
func (h *Handle) RunID() string {
	return h.r.id
}

// WorkflowID returns the submitted definition's ID.
func (h *Handle) WorkflowID() string {
	return h.r.def.ID
}

// Status returns the run's current status.
func (h *Handle) Status() workflow.Status {
	h.r.mu.Lock()
	defer h.r.mu.Unlock()
	return h.r.status
}

// Done returns a channel closed when the run reaches a terminal status.
func (h *Handle) Done() <-chan struct{} {
	return h.r.done
}

// Cancel requests cancellation. Idempotent: safe on an already-cancelled or
// already-finished run.
func (h *Handle) Cancel() {
	h.r.requestCancel()
}

// Wait blocks until the run finishes or ctx expires, then returns the final
// summary. The run keeps executing if ctx expires; only Cancel stops it.
func (h *Handle) Wait(ctx context.Context) (*Summary, error) {
	select {
	case <-h.r.done:
		return h.Summary(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TaskReport is one task's final (or current) state in a summary.
type TaskReport struct {
	ID        string
	Agent     string
	Kind      workflow.Kind
	Status    workflow.TaskStatus
	Result    map[string]any
	Err       error
	Recovered bool
	StartedAt time.Time
	EndedAt   time.Time
}

// Summary is the caller-facing breakdown of a run: overall status plus
// per-task status, result, and error. A caller always gets this, never a
// bare error with no context.
type Summary struct {
	RunID      string
	WorkflowID string
	Name       string
	Status     workflow.Status
	Detail     error // Workflow-level condition, e.g. a stall report
	Tasks      []TaskReport
	StartedAt  time.Time
	EndedAt    time.Time
}

// Summary snapshots the run's current state. Safe to call while the run is
// still in progress.
func (h *Handle) Summary() *Summary {
	r := h.r
	r.mu.Lock()
	defer r.mu.Unlock()

	s := &Summary{
		RunID:      r.id,
		WorkflowID: r.def.ID,
		Name:       r.def.Name,
		Status:     r.status,
		Detail:     r.detail,
		StartedAt:  r.startedAt,
		EndedAt:    r.endedAt,
		Tasks:      make([]TaskReport, 0, len(r.order)),
	}
	for _, id := range r.order {
		task := r.tasks[id]
		s.Tasks = append(s.Tasks, TaskReport{
			ID:        task.ID,
			Agent:     task.Agent,
			Kind:      task.Kind,
			Status:    task.Status,
			Result:    task.Result,
			Err:       task.Err,
			Recovered: r.recovered[task.ID],
			StartedAt: task.StartedAt,
			EndedAt:   task.EndedAt,
		})
	}
	return s
}
