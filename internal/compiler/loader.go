package compiler

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/taskweave/taskweave/internal/resolver"
	"github.com/taskweave/taskweave/internal/workflow"
)

// refKey marks a reference to another task's result in a definition file.
const refKey = "$ref"

// fileDefinition is the YAML shape of a workflow definition file.
type fileDefinition struct {
	ID          string         `yaml:"id"`
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Parallel    bool           `yaml:"parallel"`
	Context     map[string]any `yaml:"context"`
	Tasks       []fileTask     `yaml:"tasks"`
}

type fileTask struct {
	ID        string         `yaml:"id"`
	Kind      string         `yaml:"kind"`
	Agent     string         `yaml:"agent"`
	DependsOn []string       `yaml:"depends_on"`
	Priority  int            `yaml:"priority"`
	Input     map[string]any `yaml:"input"`
}

// LoadFile reads a workflow definition from a YAML file. Reference
// expressions written as {$ref: "taskID.field.path"} become typed references
// at load time, so the resolver never pattern-matches strings at run time.
// The definition is not validated here; submission validates the graph.
func LoadFile(path string) (*workflow.Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading workflow definition: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML workflow definition.
func Parse(data []byte) (*workflow.Definition, error) {
	var fd fileDefinition
	if err := yaml.Unmarshal(data, &fd); err != nil {
		return nil, fmt.Errorf("parsing workflow definition: %w", err)
	}

	def := &workflow.Definition{
		ID:          fd.ID,
		Name:        fd.Name,
		Description: fd.Description,
		Parallel:    fd.Parallel,
		Context:     fd.Context,
	}

	for _, ft := range fd.Tasks {
		input, err := convertRefs(ft.Input)
		if err != nil {
			return nil, fmt.Errorf("task %q: %w", ft.ID, err)
		}

		inputMap, _ := input.(map[string]any)
		def.Tasks = append(def.Tasks, &workflow.Task{
			ID:        ft.ID,
			Kind:      workflow.Kind(ft.Kind),
			Agent:     ft.Agent,
			DependsOn: ft.DependsOn,
			Priority:  ft.Priority,
			Input:     inputMap,
		})
	}

	return def, nil
}

// convertRefs walks a decoded payload and rewrites {$ref: "..."} maps into
// resolver.Ref values. yaml.v3 decodes nested maps as map[string]any, so the
// walk only needs maps and slices.
func convertRefs(value any) (any, error) {
	switch v := value.(type) {
	case map[string]any:
		if expr, ok := v[refKey]; ok && len(v) == 1 {
			s, ok := expr.(string)
			if !ok {
				return nil, fmt.Errorf("%s value must be a string, got %T", refKey, expr)
			}
			ref, err := resolver.ParseRef(s)
			if err != nil {
				return nil, err
			}
			return ref, nil
		}

		out := make(map[string]any, len(v))
		for key, nested := range v {
			converted, err := convertRefs(nested)
			if err != nil {
				return nil, err
			}
			out[key] = converted
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, nested := range v {
			converted, err := convertRefs(nested)
			if err != nil {
				return nil, err
			}
			out[i] = converted
		}
		return out, nil
	default:
		return value, nil
	}
}
