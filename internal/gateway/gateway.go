// Package gateway dispatches tasks to named external agent capabilities.
// The engine knows an agent only by name; this package owns the binding from
// name to transport. Failures are always surfaced as typed errors -- the
// production path never substitutes a fabricated success for an unreachable
// agent. Synthetic results belong to test doubles in _test files only.
package gateway

import (
	"context"
	"fmt"

	"github.com/taskweave/taskweave/internal/workflow"
)

// Invoker sends a task to a named agent and returns its result payload.
// Implementations must be safe for concurrent use: the scheduler invokes
// independent ready tasks in parallel.
type Invoker interface {
	Invoke(ctx context.Context, agent string, kind workflow.Kind, input map[string]any) (map[string]any, error)
}

// InvocationError reports a failed remote invocation: unreachable agent,
// timeout, or non-success response status.
type InvocationError struct {
	Agent      string
	StatusCode int // Zero when the call never produced an HTTP response
	Err        error
}

func (e *InvocationError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("agent %q returned status %d: %v", e.Agent, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("invoking agent %q: %v", e.Agent, e.Err)
}

func (e *InvocationError) Unwrap() error { return e.Err }

// UnknownAgentError reports a task addressed to an agent with no configured
// endpoint. Retrying cannot help, so the error handler treats it as
// non-recoverable.
type UnknownAgentError struct {
	Agent string
}

func (e *UnknownAgentError) Error() string {
	return fmt.Sprintf("no endpoint configured for agent %q", e.Agent)
}
