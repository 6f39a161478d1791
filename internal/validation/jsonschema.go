package validation

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/agentc2/wfrt/pkg/schema"
)

const workflowSchemaURL = "https://agentc2.dev/schemas/workflow.json"

// workflowSchemaJSON describes the shape of a workflow definition document.
// Step configs are only checked for presence here; each step type validates
// its own config in the semantic stage.
const workflowSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://agentc2.dev/schemas/workflow.json",
  "type": "object",
  "required": ["steps"],
  "properties": {
    "id": { "type": "string" },
    "name": { "type": "string" },
    "description": { "type": "string" },
    "steps": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/step" }
    },
    "output": { "type": "object" },
    "metadata": { "type": "object" }
  },
  "additionalProperties": false,
  "$defs": {
    "duration": {
      "type": "string",
      "pattern": "^([0-9]+(\\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$"
    },
    "step": {
      "type": "object",
      "required": ["id", "type"],
      "properties": {
        "id": { "type": "string", "minLength": 1 },
        "type": {
          "type": "string",
          "enum": ["transform", "branch", "parallel", "foreach", "agent", "tool", "workflow", "human", "delay"]
        },
        "name": { "type": "string" },
        "inputMapping": { "type": "object" },
        "config": { "type": "object" },
        "timeout": { "$ref": "#/$defs/duration" }
      },
      "additionalProperties": false,
      "if": {
        "properties": {
          "type": { "enum": ["branch", "parallel", "foreach", "agent", "tool", "workflow", "delay"] }
        },
        "required": ["type"]
      },
      "then": { "required": ["config"] }
    }
  }
}`

// JSONSchemaValidator checks definition documents against the workflow
// JSON Schema (draft 2020-12). It is safe for concurrent use.
type JSONSchemaValidator struct {
	workflowSchema *jsonschema.Schema
}

// NewJSONSchemaValidator compiles the workflow schema.
func NewJSONSchemaValidator() (*JSONSchemaValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(workflowSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal workflow schema: %w", err)
	}
	if err := c.AddResource(workflowSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("add workflow schema resource: %w", err)
	}
	compiled, err := c.Compile(workflowSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile workflow schema: %w", err)
	}
	return &JSONSchemaValidator{workflowSchema: compiled}, nil
}

// ValidateDocument checks raw JSON. Unknown fields are reported here, before
// decoding would silently drop them.
func (v *JSONSchemaValidator) ValidateDocument(raw []byte) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(raw)))
	if err != nil {
		result.AddError("/", schema.ErrCodeValidation, "definition is not valid JSON: "+err.Error())
		return result
	}
	v.check(doc, result)
	return result
}

// ValidateDefinition checks an already decoded definition.
func (v *JSONSchemaValidator) ValidateDefinition(def *schema.WorkflowDefinition) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	if def == nil {
		result.AddError("/", schema.ErrCodeValidation, "workflow definition is nil")
		return result
	}
	b, err := json.Marshal(def)
	if err != nil {
		result.AddError("/", schema.ErrCodeValidation, "failed to serialize workflow definition: "+err.Error())
		return result
	}
	return v.ValidateDocument(b)
}

func (v *JSONSchemaValidator) check(doc any, result *schema.ValidationResult) {
	err := v.workflowSchema.Validate(doc)
	if err == nil {
		return
	}
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		result.AddError("/", schema.ErrCodeValidation, err.Error())
		return
	}
	for _, vi := range collectViolations(verr) {
		result.AddError(vi.path, schema.ErrCodeValidation, vi.message)
	}
}

type violation struct {
	path    string
	message string
}

// collectViolations walks a ValidationError tree and returns its leaves
// with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []violation {
	if len(verr.Causes) == 0 {
		return []violation{{
			path:    "/" + strings.Join(verr.InstanceLocation, "/"),
			message: verr.Error(),
		}}
	}
	var out []violation
	for _, cause := range verr.Causes {
		out = append(out, collectViolations(cause)...)
	}
	return out
}
