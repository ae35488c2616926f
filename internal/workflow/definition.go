package workflow

import (
	"fmt"
	"strings"

	"github.com/gammazero/toposort"
)

// Status represents the overall state of a workflow run.
type Status int

const (
	StatusCreated Status = iota
	StatusRunning
	StatusCompleted
	StatusPartiallyFailed
	StatusCancelled
)

// String returns the lowercase name used in logs and audit rows.
func (s Status) String() string {
	switch s {
	case StatusCreated:
		return "created"
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusPartiallyFailed:
		return "partially-failed"
	case StatusCancelled:
		return "cancelled"
	}
	return "unknown"
}

// Terminal reports whether the workflow run has finished.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusPartiallyFailed || s == StatusCancelled
}

// Definition describes a directed acyclic graph of tasks sharing one
// run-scoped result context.
type Definition struct {
	ID          string
	Name        string
	Description string
	Tasks       []*Task        // Insertion order is used only for deterministic iteration
	Parallel    bool           // Advisory; true parallelism comes from the graph
	Context     map[string]any // Initial key/values visible to variable resolution
}

// Validate checks the definition for duplicate task IDs, dangling dependency
// references, and cycles. Returns a topological order of task IDs on success,
// or a *MalformedWorkflowError describing the first problem found.
// Runs once at submission; a definition that passes never partially executes
// due to graph shape.
func (d *Definition) Validate() ([]string, error) {
	if len(d.Tasks) == 0 {
		return nil, &MalformedWorkflowError{WorkflowID: d.ID, Reason: "definition contains no tasks"}
	}

	byID := make(map[string]*Task, len(d.Tasks))
	for _, task := range d.Tasks {
		if task.ID == "" {
			return nil, &MalformedWorkflowError{WorkflowID: d.ID, Reason: "task with empty ID"}
		}
		if _, exists := byID[task.ID]; exists {
			return nil, &MalformedWorkflowError{
				WorkflowID: d.ID,
				TaskID:     task.ID,
				Reason:     fmt.Sprintf("duplicate task ID %q", task.ID),
			}
		}
		byID[task.ID] = task
	}

	for _, task := range d.Tasks {
		for _, depID := range task.DependsOn {
			if _, exists := byID[depID]; !exists {
				return nil, &MalformedWorkflowError{
					WorkflowID: d.ID,
					TaskID:     task.ID,
					Reason:     fmt.Sprintf("task %q depends on non-existent task %q", task.ID, depID),
				}
			}
		}
	}

	// Build edges for topological sort. Tasks with no dependencies get an
	// edge from nil so they appear in the sorted output.
	var edges []toposort.Edge
	for _, task := range d.Tasks {
		if len(task.DependsOn) == 0 {
			edges = append(edges, toposort.Edge{nil, task.ID})
			continue
		}
		for _, depID := range task.DependsOn {
			edges = append(edges, toposort.Edge{depID, task.ID})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, &MalformedWorkflowError{
			WorkflowID: d.ID,
			Reason:     fmt.Sprintf("dependency graph contains a cycle: %v", err),
		}
	}

	order := make([]string, 0, len(d.Tasks))
	for _, id := range sorted {
		if id != nil {
			order = append(order, id.(string))
		}
	}

	if len(order) != len(d.Tasks) {
		missing := []string{}
		found := make(map[string]bool, len(order))
		for _, id := range order {
			found[id] = true
		}
		for _, task := range d.Tasks {
			if !found[task.ID] {
				missing = append(missing, task.ID)
			}
		}
		return nil, &MalformedWorkflowError{
			WorkflowID: d.ID,
			Reason:     fmt.Sprintf("topological sort lost %d tasks: %s", len(missing), strings.Join(missing, ", ")),
		}
	}

	return order, nil
}

// Task returns the task with the given ID, or nil if not present.
func (d *Definition) Task(id string) *Task {
	for _, task := range d.Tasks {
		if task.ID == id {
			return task
		}
	}
	return nil
}
