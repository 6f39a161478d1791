package validation

import (
	"context"
	"encoding/json"

	"github.com/agentc2/wfrt/internal/engine"
	"github.com/agentc2/wfrt/pkg/schema"
)

// Validator runs the validation pipeline:
//  1. structural (JSON Schema)
//  2. semantic (ids, step types, configs, conditions, forward references)
//  3. composition (workflow invocation cycles across stored workflows)
//
// Structural errors skip the later stages, as do semantic errors for the
// composition stage.
type Validator struct {
	structural *JSONSchemaValidator
	checker    DefinitionChecker
	workflows  engine.WorkflowLookup
}

// New creates a Validator. workflows may be nil to skip the composition
// stage.
func New(checker DefinitionChecker, workflows engine.WorkflowLookup) (*Validator, error) {
	jsv, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &Validator{structural: jsv, checker: checker, workflows: workflows}, nil
}

// Validate checks a decoded definition.
func (v *Validator) Validate(ctx context.Context, def *schema.WorkflowDefinition) *schema.ValidationResult {
	result := v.structural.ValidateDefinition(def)
	if !result.Valid() {
		return result
	}
	v.deep(ctx, def, result)
	return result
}

// ValidateDocument checks a YAML or JSON definition document and returns
// the decoded definition when it is structurally sound.
func (v *Validator) ValidateDocument(ctx context.Context, data []byte) (*schema.WorkflowDefinition, *schema.ValidationResult) {
	result := &schema.ValidationResult{}
	raw, err := schema.DocumentJSON(data)
	if err != nil {
		result.AddError("/", schema.ErrorCode(err), err.Error())
		return nil, result
	}
	result.Merge(v.structural.ValidateDocument(raw))
	if !result.Valid() {
		return nil, result
	}

	var def schema.WorkflowDefinition
	if err := json.Unmarshal(raw, &def); err != nil {
		result.AddError("/", schema.ErrCodeDefinition, "decode definition: "+err.Error())
		return nil, result
	}
	v.deep(ctx, &def, result)
	return &def, result
}

func (v *Validator) deep(ctx context.Context, def *schema.WorkflowDefinition, result *schema.ValidationResult) {
	result.Merge(validateSemantic(v.checker, def))
	if result.Valid() && v.workflows != nil {
		result.Merge(validateComposition(ctx, v.checker, v.workflows, def))
	}
}
