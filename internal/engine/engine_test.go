package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentc2/wfrt/pkg/schema"
)

// --- Fakes ---

type toolFn func(ctx context.Context, args map[string]any) (any, error)

// fakeTools is a ToolInvoker backed by per-tool functions that counts calls.
type fakeTools struct {
	mu    sync.Mutex
	fns   map[string]toolFn
	calls map[string]int
	args  map[string][]map[string]any
}

func newFakeTools(fns map[string]toolFn) *fakeTools {
	return &fakeTools{fns: fns, calls: map[string]int{}, args: map[string][]map[string]any{}}
}

func (f *fakeTools) Invoke(ctx context.Context, toolID string, args map[string]any) (any, error) {
	f.mu.Lock()
	f.calls[toolID]++
	f.args[toolID] = append(f.args[toolID], args)
	fn := f.fns[toolID]
	f.mu.Unlock()
	if fn == nil {
		return nil, fmt.Errorf("unknown tool %q", toolID)
	}
	return fn(ctx, args)
}

func (f *fakeTools) Calls(toolID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[toolID]
}

// fakeAgents records prompts and answers with a fixed reply per slug.
type fakeAgents struct {
	mu      sync.Mutex
	replies map[string]any
	prompts []string
}

func (f *fakeAgents) Invoke(_ context.Context, agentSlug, prompt string) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	reply, ok := f.replies[agentSlug]
	if !ok {
		return nil, fmt.Errorf("agent %q unavailable", agentSlug)
	}
	return reply, nil
}

// --- Definition helpers ---

func raw(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func stepOf(id string, typ schema.StepType, mapping map[string]any, cfg any) schema.StepDefinition {
	s := schema.StepDefinition{ID: id, Type: typ, InputMapping: mapping}
	if cfg != nil {
		s.Config = raw(cfg)
	}
	return s
}

func transform(id string, mapping map[string]any) schema.StepDefinition {
	return stepOf(id, schema.StepTypeTransform, mapping, nil)
}

func tool(id, toolID string, mapping map[string]any) schema.StepDefinition {
	return stepOf(id, schema.StepTypeTool, mapping, schema.ToolConfig{ToolID: toolID})
}

func human(id string, mapping map[string]any) schema.StepDefinition {
	return stepOf(id, schema.StepTypeHuman, mapping, nil)
}

func defOf(steps ...schema.StepDefinition) *schema.WorkflowDefinition {
	return &schema.WorkflowDefinition{Steps: steps}
}

func newTestEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	e, err := New(cfg)
	require.NoError(t, err)
	return e
}

func execute(t *testing.T, e *Engine, def *schema.WorkflowDefinition, input map[string]any) *schema.ExecutionResult {
	t.Helper()
	res := e.ExecuteWorkflowDefinition(context.Background(), ExecuteParams{Definition: def, Input: input})
	require.NotNil(t, res)
	return res
}

func requireSuccess(t *testing.T, res *schema.ExecutionResult) {
	t.Helper()
	require.Equal(t, schema.RunStatusSuccess, res.Status, "error: %v", res.Error)
}

// --- Engine ---

func TestExecute_TransformMapsInput(t *testing.T) {
	e := newTestEngine(t, Config{})
	def := defOf(transform("transform", map[string]any{"value": "{{input.value}}"}))

	res := execute(t, e, def, map[string]any{"value": 42})

	requireSuccess(t, res)
	assert.Equal(t, map[string]any{"value": 42}, res.Output)
	assert.Nil(t, res.Error)
	assert.Empty(t, res.Suspended)
}

func TestExecute_TransformIsPureFunctionOfInput(t *testing.T) {
	e := newTestEngine(t, Config{})
	def := defOf(transform("shape", map[string]any{
		"name":  "{{input.user.name}}",
		"greet": "hello {{input.user.name}}",
		"tags":  []any{"{{input.tags.0}}", "fixed"},
	}))
	input := map[string]any{"user": map[string]any{"name": "ada"}, "tags": []any{"x", "y"}}

	first := execute(t, e, def, input)
	second := execute(t, e, def, input)

	requireSuccess(t, first)
	assert.Equal(t, first.Output, second.Output)
	assert.Equal(t, map[string]any{
		"name":  "ada",
		"greet": "hello ada",
		"tags":  []any{"x", "fixed"},
	}, first.Output)
}

func TestExecute_InputIsNotMutated(t *testing.T) {
	e := newTestEngine(t, Config{})
	items := []any{1, 2}
	input := map[string]any{"items": items}
	def := defOf(
		transform("copy", map[string]any{"items": "{{input.items}}"}),
	)

	res := execute(t, e, def, input)
	requireSuccess(t, res)

	out := res.Output.(map[string]any)["items"].([]any)
	out[0] = 99
	assert.Equal(t, 1, items[0])
}

func TestExecute_ContextVisibility(t *testing.T) {
	e := newTestEngine(t, Config{})
	def := defOf(
		transform("a", map[string]any{"value": "A"}),
		transform("b", map[string]any{
			"earlier": "{{a.value}}",
			"forward": "{{c.value}}",
			"text":    "[{{c.value}}]",
		}),
		stepOf("route", schema.StepTypeBranch, nil, schema.BranchConfig{
			DefaultBranch: []schema.StepDefinition{
				transform("inner", map[string]any{"outer": "{{b.earlier}}", "input": "{{input.n}}"}),
			},
		}),
		transform("c", map[string]any{"value": "C"}),
		transform("out", map[string]any{"b": "{{b}}", "nested": "{{route.result}}", "inner": "{{inner}}"}),
	)

	res := execute(t, e, def, map[string]any{"n": 1})

	requireSuccess(t, res)
	out := res.Output.(map[string]any)
	assert.Equal(t, map[string]any{"earlier": "A", "forward": nil, "text": "[]"}, out["b"])
	assert.Equal(t, map[string]any{"outer": "A", "input": 1}, out["nested"])
	assert.Nil(t, out["inner"], "nested step outputs stay in their own scope")
}

func TestExecute_OutputMapping(t *testing.T) {
	e := newTestEngine(t, Config{})
	def := defOf(
		transform("a", map[string]any{"v": 1}),
		transform("b", map[string]any{"v": 2}),
	)
	def.Output = map[string]any{"first": "{{a.v}}", "second": "{{b.v}}", "echo": "{{input.x}}"}

	res := execute(t, e, def, map[string]any{"x": "y"})

	requireSuccess(t, res)
	assert.Equal(t, map[string]any{"first": 1, "second": 2, "echo": "y"}, res.Output)
}

func TestExecute_DefinitionErrors(t *testing.T) {
	e := newTestEngine(t, Config{})

	tests := []struct {
		name string
		def  *schema.WorkflowDefinition
		step string
		path string
	}{
		{"nil definition", nil, "", ""},
		{"no steps", defOf(), "", ""},
		{"missing id", defOf(transform("", nil)), "", ""},
		{"duplicate id", defOf(transform("a", nil), transform("a", nil)), "a", "a"},
		{"reserved id", defOf(transform("input", nil)), "input", "input"},
		{"unknown type", defOf(stepOf("x", "teleport", nil, nil)), "x", "x"},
		{"agent without slug", defOf(stepOf("ask", schema.StepTypeAgent, nil, schema.AgentConfig{})), "ask", "ask"},
		{"tool without id", defOf(stepOf("t", schema.StepTypeTool, nil, nil)), "t", "t"},
		{"foreach without path", defOf(stepOf("loop", schema.StepTypeForEach, nil, schema.ForEachConfig{
			Steps: []schema.StepDefinition{transform("s", nil)},
		})), "loop", "loop"},
		{"bad condition", defOf(stepOf("route", schema.StepTypeBranch, nil, schema.BranchConfig{
			Branches: []schema.ConditionalBranch{{ID: "yes", Condition: "input.flag ==="}},
		})), "route", "route"},
		{"unknown language", defOf(stepOf("route", schema.StepTypeBranch, nil, schema.BranchConfig{
			Language: "lua",
			Branches: []schema.ConditionalBranch{{ID: "yes", Condition: "true"}},
		})), "route", "route"},
		{"bad delay", defOf(stepOf("wait", schema.StepTypeDelay, nil, schema.DelayConfig{Duration: "soon"})), "wait", "wait"},
		{"malformed config", defOf(schema.StepDefinition{ID: "t", Type: schema.StepTypeTool, Config: json.RawMessage(`[1]`)}), "t", "t"},
		{"nested unknown type", defOf(stepOf("route", schema.StepTypeBranch, nil, schema.BranchConfig{
			Branches: []schema.ConditionalBranch{{ID: "yes", Condition: "true", Steps: []schema.StepDefinition{
				stepOf("bad", "", nil, nil),
			}}},
		})), "bad", "route/yes/bad"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := execute(t, e, tt.def, nil)

			require.Equal(t, schema.RunStatusFailed, res.Status)
			require.NotNil(t, res.Error)
			assert.Equal(t, schema.ErrCodeDefinition, res.Error.Code)
			assert.Equal(t, tt.step, res.Error.StepID)
			assert.Equal(t, tt.path, res.Error.Path)
		})
	}
}

func TestCheckDefinition_CollectsAllIssues(t *testing.T) {
	e := newTestEngine(t, Config{})
	def := defOf(
		transform("a", nil),
		transform("a", nil),
		stepOf("x", "teleport", nil, nil),
		stepOf("loop", schema.StepTypeForEach, nil, schema.ForEachConfig{
			CollectionPath: "input.items",
			Steps:          []schema.StepDefinition{tool("t", "", nil)},
		}),
	)

	issues := e.CheckDefinition(def, nil)

	require.Len(t, issues, 3)
	assert.Equal(t, "a", issues[0].Path)
	assert.Equal(t, "x", issues[1].Path)
	assert.Equal(t, "loop/0/t", issues[2].Path)
}

func TestCheckDefinition_VisitorSeesVisibleKeys(t *testing.T) {
	e := newTestEngine(t, Config{})
	def := defOf(
		transform("a", nil),
		stepOf("loop", schema.StepTypeForEach, nil, schema.ForEachConfig{
			CollectionPath: "input.items",
			ItemVar:        "row",
			Steps:          []schema.StepDefinition{transform("inner", nil)},
		}),
		transform("b", nil),
	)

	visible := map[string]map[string]bool{}
	issues := e.CheckDefinition(def, func(path string, _ *schema.StepDefinition, v map[string]bool) {
		visible[path] = v
	})

	require.Empty(t, issues)
	assert.Equal(t, map[string]bool{"input": true}, visible["a"])
	assert.Equal(t, map[string]bool{"input": true, "a": true, "row": true, "index": true}, visible["loop/0/inner"])
	assert.Equal(t, map[string]bool{"input": true, "a": true, "loop": true}, visible["b"])
}

func TestExecute_EmitsRunAndStepEvents(t *testing.T) {
	app := &mockAppender{}
	e := newTestEngine(t, Config{Events: app})
	def := defOf(transform("a", map[string]any{"v": 1}))

	res := e.ExecuteWorkflowDefinition(context.Background(), ExecuteParams{RunID: "run-1", Definition: def})

	requireSuccess(t, res)
	assert.Equal(t, []string{
		schema.EventRunStarted,
		schema.EventStepStarted,
		schema.EventStepCompleted,
		schema.EventRunCompleted,
	}, app.Types())
	for _, ev := range app.Events() {
		assert.Equal(t, "run-1", ev.RunID)
	}
}

func TestExecute_AnonymousRunEmitsNothing(t *testing.T) {
	app := &mockAppender{}
	e := newTestEngine(t, Config{Events: app})

	res := execute(t, e, defOf(transform("a", nil)), nil)

	requireSuccess(t, res)
	assert.Empty(t, app.Events())
}

func TestExecute_PanickingToolFailsStep(t *testing.T) {
	tools := newFakeTools(map[string]toolFn{
		"explode": func(context.Context, map[string]any) (any, error) { panic("kaboom") },
	})
	e := newTestEngine(t, Config{Tools: tools})

	res := execute(t, e, defOf(tool("boom", "explode", nil)), nil)

	require.Equal(t, schema.RunStatusFailed, res.Status)
	assert.Equal(t, "boom", res.Error.StepID)
	assert.Contains(t, res.Error.Message, "kaboom")
}

func TestRegistry_Types(t *testing.T) {
	e := newTestEngine(t, Config{})
	types := e.Registry().Types()
	assert.ElementsMatch(t, schema.StepTypes, types)
}
