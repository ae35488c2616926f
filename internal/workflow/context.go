package workflow

import (
	"sync"
)

// Context is the run-scoped result store shared across concurrent task
// executions. It is additive-only: a task's result is written exactly once,
// on its terminal transition, and never modified afterwards. Task IDs are
// unique per run, so concurrent completions never race on the same key.
type Context struct {
	mu      sync.RWMutex
	values  map[string]any            // Initial key/values from the definition
	results map[string]map[string]any // Task ID -> result payload
}

// NewContext creates a run context seeded with the definition's initial values.
func NewContext(initial map[string]any) *Context {
	values := make(map[string]any, len(initial))
	for k, v := range initial {
		values[k] = v
	}
	return &Context{
		values:  values,
		results: make(map[string]map[string]any),
	}
}

// SetResult records a completed task's result. The first write for a task ID
// wins; later writes are ignored, preserving the append-only invariant.
func (c *Context) SetResult(taskID string, result map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.results[taskID]; exists {
		return
	}
	c.results[taskID] = result
}

// Result returns the result recorded for taskID, if any.
func (c *Context) Result(taskID string) (map[string]any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result, ok := c.results[taskID]
	return result, ok
}

// Value returns an initial context value by key.
func (c *Context) Value(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	v, ok := c.values[key]
	return v, ok
}

// CompletedIDs returns the set of task IDs with recorded results.
func (c *Context) CompletedIDs() map[string]bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ids := make(map[string]bool, len(c.results))
	for id := range c.results {
		ids[id] = true
	}
	return ids
}
