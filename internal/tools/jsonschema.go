package tools

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/agentc2/wfrt/pkg/schema"
)

// schemaCache compiles JSON Schemas once per distinct document.
type schemaCache struct {
	mu    sync.RWMutex
	cache map[string]*jsonschema.Schema
}

func newSchemaCache() *schemaCache {
	return &schemaCache{cache: make(map[string]*jsonschema.Schema)}
}

func (c *schemaCache) get(schemaBytes []byte) (*jsonschema.Schema, error) {
	key := string(schemaBytes)

	c.mu.RLock()
	if cached, ok := c.cache[key]; ok {
		c.mu.RUnlock()
		return cached, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if cached, ok := c.cache[key]; ok {
		return cached, nil
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(key))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	// Each schema gets its own compiler and URL so resources never collide.
	url := fmt.Sprintf("wfrt://tool-schema/%d", len(c.cache))
	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat()
	if err := compiler.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	c.cache[key] = compiled
	return compiled, nil
}

// validate checks data against schemaBytes. A nil result means valid.
func (c *schemaCache) validate(schemaBytes []byte, data any) *schema.FlowError {
	compiled, err := c.get(schemaBytes)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "invalid schema: %v", err).WithCause(err)
	}
	doc, err := toJSONValue(data)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize data").WithCause(err)
	}
	if err := compiled.Validate(doc); err != nil {
		return violationError(err)
	}
	return nil
}

// toJSONValue round-trips v through JSON so numbers become json.Number,
// which the validator requires.
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

func violationError(err error) *schema.FlowError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}
	violations := Violations(verr)
	msg := verr.Error()
	switch len(violations) {
	case 0:
	case 1:
		msg = violations[0]
	default:
		msg = fmt.Sprintf("validation failed with %d errors", len(violations))
	}
	return schema.NewError(schema.ErrCodeValidation, msg).
		WithDetails(map[string]any{"violations": violations})
}

// Violations flattens a validation error tree into "location: message"
// strings, one per leaf.
func Violations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		return []string{fmt.Sprintf("/%s: %s", strings.Join(verr.InstanceLocation, "/"), verr.Error())}
	}
	var out []string
	for _, cause := range verr.Causes {
		out = append(out, Violations(cause)...)
	}
	return out
}
