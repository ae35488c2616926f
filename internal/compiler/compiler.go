// Package compiler turns a caller's request into a workflow definition. It
// is a swappable collaborator of the scheduler: the engine only requires the
// produced definition be acyclic with valid dependency references, and none
// of the decomposition heuristics leak into scheduling.
package compiler

import (
	"strings"

	"github.com/google/uuid"

	"github.com/taskweave/taskweave/internal/resolver"
	"github.com/taskweave/taskweave/internal/workflow"
)

// Compiler produces a workflow definition from a free-text request.
type Compiler interface {
	Compile(request string) (*workflow.Definition, error)
}

// KeywordCompiler is a deliberately simple heuristic classifier: it scans the
// request for signal words and assembles a pipeline over the standard agent
// roles. It exists so the engine has a default front end; anything smarter
// should implement Compiler and replace it.
type KeywordCompiler struct{}

// NewKeywordCompiler creates the default heuristic compiler.
func NewKeywordCompiler() *KeywordCompiler {
	return &KeywordCompiler{}
}

// Compile decomposes the request into a scout -> architect -> developer -> qa
// chain, extended with a guardian review step when the request touches
// security-sensitive ground. Task inputs reference upstream results with
// typed references, never template strings.
func (c *KeywordCompiler) Compile(request string) (*workflow.Definition, error) {
	lower := strings.ToLower(request)

	def := &workflow.Definition{
		ID:          "wf-" + uuid.NewString()[:8],
		Name:        summarize(request),
		Description: request,
		Parallel:    true,
	}

	def.Tasks = append(def.Tasks, &workflow.Task{
		ID:    "scout",
		Kind:  workflow.KindAnalyze,
		Agent: "scout",
		Input: map[string]any{"request": request},
	})

	needsDesign := !containsAny(lower, "typo", "rename", "comment only")
	prev := "scout"
	if needsDesign {
		def.Tasks = append(def.Tasks, &workflow.Task{
			ID:        "architect",
			Kind:      workflow.KindDesign,
			Agent:     "architect",
			DependsOn: []string{"scout"},
			Input: map[string]any{
				"request":  request,
				"findings": resolver.Ref{Task: "scout", Field: "summary"},
			},
		})
		prev = "architect"
	}

	def.Tasks = append(def.Tasks, &workflow.Task{
		ID:        "developer",
		Kind:      workflow.KindImplement,
		Agent:     "developer",
		DependsOn: []string{prev},
		Input: map[string]any{
			"request": request,
			"plan":    resolver.Ref{Task: prev},
		},
	})

	def.Tasks = append(def.Tasks, &workflow.Task{
		ID:        "qa",
		Kind:      workflow.KindTest,
		Agent:     "qa",
		DependsOn: []string{"developer"},
		Input: map[string]any{
			"changes": resolver.Ref{Task: "developer", Field: "changes"},
		},
	})

	if containsAny(lower, "security", "auth", "credential", "secret", "vulnerab") {
		def.Tasks = append(def.Tasks, &workflow.Task{
			ID:        "guardian",
			Kind:      workflow.KindReview,
			Agent:     "guardian",
			DependsOn: []string{"developer"},
			Priority:  1,
			Input: map[string]any{
				"changes": resolver.Ref{Task: "developer", Field: "changes"},
			},
		})
	}

	return def, nil
}

func containsAny(s string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

// summarize produces a short workflow name from the request text.
func summarize(request string) string {
	fields := strings.Fields(request)
	if len(fields) > 8 {
		fields = fields[:8]
	}
	name := strings.Join(fields, " ")
	if name == "" {
		name = "untitled workflow"
	}
	return name
}
