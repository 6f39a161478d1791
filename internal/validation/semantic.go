package validation

import (
	"encoding/json"
	"fmt"

	"github.com/agentc2/wfrt/internal/engine"
	"github.com/agentc2/wfrt/internal/expressions"
	"github.com/agentc2/wfrt/pkg/schema"
)

// CodeForwardReference marks a template that names a step which does not
// run before the referencing step.
const CodeForwardReference = "FORWARD_REFERENCE"

// DefinitionChecker is satisfied by *engine.Engine.
type DefinitionChecker interface {
	CheckDefinition(def *schema.WorkflowDefinition, visit engine.StepVisitor) []*schema.FlowError
}

// validateSemantic reports id, type and config problems through the engine's
// step registry, and warns about templates that reference steps which are
// not earlier in the enclosing lists.
func validateSemantic(checker DefinitionChecker, def *schema.WorkflowDefinition) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	issues := checker.CheckDefinition(def, func(path string, step *schema.StepDefinition, visible map[string]bool) {
		for _, ref := range stepReferences(step) {
			if visible[ref] {
				continue
			}
			result.AddWarning(issuePath(path), CodeForwardReference,
				fmt.Sprintf("step %q references %q, which does not run before it", step.ID, ref))
		}
	})
	for _, fe := range issues {
		result.AddError(issuePath(fe.Path), fe.Code, fe.Message)
	}
	return result
}

// stepReferences lists the root variables a step's own templates use.
// Nested step lists are skipped; they are visited on their own.
func stepReferences(step *schema.StepDefinition) []string {
	sources := []any{step.InputMapping}

	switch step.Type {
	case schema.StepTypeBranch, schema.StepTypeParallel:
	case schema.StepTypeForEach:
		var cfg schema.ForEachConfig
		if schema.DecodeConfig(step, &cfg) == nil && cfg.CollectionPath != "" {
			path := cfg.CollectionPath
			if !expressions.IsTemplate(path) {
				path = "{{" + path + "}}"
			}
			sources = append(sources, path)
		}
	default:
		var cfg map[string]any
		if len(step.Config) > 0 && json.Unmarshal(step.Config, &cfg) == nil {
			sources = append(sources, cfg)
		}
	}
	return expressions.References(sources)
}

func issuePath(path string) string {
	if path == "" {
		return "/"
	}
	return path
}
