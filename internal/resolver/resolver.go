// Package resolver substitutes references to other tasks' results and to the
// definition's initial context values into a task's input payload before
// dispatch. References are typed values chosen at compile time, not runtime
// string pattern matches: a Ref names a task (or initial context key) and a
// dotted field path into the referenced payload.
package resolver

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/taskweave/taskweave/internal/workflow"
)

// Ref is a typed reference to a field of another task's result.
// Field uses gjson dotted-path syntax ("summary", "files.0.path"); an empty
// Field refers to the whole result payload.
type Ref struct {
	Task  string
	Field string
}

// Token returns the literal form of the reference, used verbatim when the
// referenced result is unavailable.
func (r Ref) Token() string {
	if r.Field == "" {
		return fmt.Sprintf("${%s}", r.Task)
	}
	return fmt.Sprintf("${%s.%s}", r.Task, r.Field)
}

// ParseRef parses a "taskID.field.path" expression into a Ref.
// The first segment is the task ID; the remainder, if any, is the field path.
func ParseRef(expr string) (Ref, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return Ref{}, fmt.Errorf("empty reference expression")
	}

	task, field, _ := strings.Cut(expr, ".")
	if task == "" {
		return Ref{}, fmt.Errorf("reference %q has no task ID", expr)
	}
	return Ref{Task: task, Field: field}, nil
}

// Resolve walks the input payload and replaces every Ref with the referenced
// value from the run context, returning a new payload of identical shape.
// Non-reference values pass through unchanged.
//
// A Ref to a task without a recorded result resolves to its literal token
// string instead of raising: the scheduler guarantees referenced tasks are
// dependencies and therefore already completed, so an unresolved reference is
// a caller bug that should degrade to a logging artifact, not kill the run.
func Resolve(input map[string]any, ctx *workflow.Context) map[string]any {
	if input == nil {
		return nil
	}

	out := make(map[string]any, len(input))
	for key, value := range input {
		out[key] = resolveValue(value, ctx)
	}
	return out
}

func resolveValue(value any, ctx *workflow.Context) any {
	switch v := value.(type) {
	case Ref:
		return lookup(v, ctx)
	case *Ref:
		if v == nil {
			return nil
		}
		return lookup(*v, ctx)
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, nested := range v {
			out[key] = resolveValue(nested, ctx)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, nested := range v {
			out[i] = resolveValue(nested, ctx)
		}
		return out
	default:
		return value
	}
}

// lookup extracts the referenced value: a task's result payload, or an
// initial context value when no task by that name has a recorded result.
// Task results shadow initial values, and task IDs are validated unique, so
// the resolution order is unambiguous.
func lookup(ref Ref, ctx *workflow.Context) any {
	if result, ok := ctx.Result(ref.Task); ok {
		if ref.Field == "" {
			return result
		}
		return extract(result, ref)
	}

	if value, ok := ctx.Value(ref.Task); ok {
		if ref.Field == "" {
			return value
		}
		return extract(value, ref)
	}

	return ref.Token()
}

// extract evaluates the ref's field path over the payload with gjson, so
// nested maps, arrays, and scalars all resolve with the same dotted syntax.
func extract(payload any, ref Ref) any {
	raw, err := json.Marshal(payload)
	if err != nil {
		return ref.Token()
	}

	field := gjson.GetBytes(raw, ref.Field)
	if !field.Exists() {
		return ref.Token()
	}
	return field.Value()
}
