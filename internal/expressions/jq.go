package expressions

import (
	"context"
	"sync"

	"github.com/itchyny/gojq"

	"github.com/agentc2/wfrt/pkg/schema"
)

// JQEngine runs jq filters over step data with GoJQ. It backs the transform
// step's optional filter and the json.query tool.
// Thread-safe: compiled *Code objects are cached and reused across goroutines.
type JQEngine struct {
	mu    sync.RWMutex
	cache map[string]*gojq.Code
}

// NewJQEngine creates a new GoJQ engine.
func NewJQEngine() *JQEngine {
	return &JQEngine{
		cache: make(map[string]*gojq.Code),
	}
}

// Name returns the engine identifier.
func (e *JQEngine) Name() string {
	return "jq"
}

// Check compiles a filter without running it.
func (e *JQEngine) Check(filter string) error {
	_, err := e.getOrCompile(filter)
	return err
}

// Run evaluates filter against data. A single result is returned as-is,
// several are collected into []any and none yields nil.
func (e *JQEngine) Run(ctx context.Context, filter string, data any) (any, error) {
	code, err := e.getOrCompile(filter)
	if err != nil {
		return nil, err
	}

	iter := code.RunWithContext(ctx, Normalize(data))

	var results []any
	for {
		val, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := val.(error); isErr {
			if halt, ok := err.(*gojq.HaltError); ok && halt.Value() == nil {
				break
			}
			return nil, schema.NewErrorf(schema.ErrCodeExecution,
				"jq evaluation failed for %q: %s", filter, err.Error()).
				WithCause(err).
				WithDetails(map[string]any{"filter": filter})
		}
		results = append(results, val)
	}

	switch len(results) {
	case 0:
		return nil, nil
	case 1:
		return results[0], nil
	default:
		return results, nil
	}
}

// getOrCompile returns a cached compiled code or compiles and caches a new one.
func (e *JQEngine) getOrCompile(filter string) (*gojq.Code, error) {
	if filter == "" {
		return nil, schema.NewError(schema.ErrCodeDefinition, "empty jq filter")
	}

	e.mu.RLock()
	if code, ok := e.cache[filter]; ok {
		e.mu.RUnlock()
		return code, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	// Double-check after acquiring write lock.
	if code, ok := e.cache[filter]; ok {
		return code, nil
	}

	query, err := gojq.Parse(filter)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeDefinition,
			"jq parse error in %q: %s", filter, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"filter": filter})
	}

	code, err := gojq.Compile(query,
		// No process environment: $ENV and env are empty.
		gojq.WithEnvironLoader(func() []string { return nil }),
	)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeDefinition,
			"jq compile error in %q: %s", filter, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"filter": filter})
	}

	e.cache[filter] = code
	return code, nil
}
