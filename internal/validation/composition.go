package validation

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/agentc2/wfrt/internal/engine"
	"github.com/agentc2/wfrt/pkg/schema"
)

// rootKey stands in for a definition that has neither id nor name.
const rootKey = "(definition)"

type visitState int

const (
	unvisited visitState = iota
	visiting
	visited
)

type workflowRef struct {
	path   string
	target string
}

// composition finds static workflow invocation cycles by DFS over the
// workflowId edges of the definition and the stored workflows it reaches.
type composition struct {
	ctx     context.Context
	checker DefinitionChecker
	lookup  engine.WorkflowLookup
	state   map[string]visitState
	stack   []string
	result  *schema.ValidationResult
}

func validateComposition(ctx context.Context, checker DefinitionChecker, lookup engine.WorkflowLookup, def *schema.WorkflowDefinition) *schema.ValidationResult {
	c := &composition{
		ctx:     ctx,
		checker: checker,
		lookup:  lookup,
		state:   make(map[string]visitState),
		result:  &schema.ValidationResult{},
	}
	key := def.ID
	if key == "" {
		key = def.Name
	}
	if key == "" {
		key = rootKey
	}
	c.visit(key, def, "")
	return c.result
}

// visit walks def's references. origin is the root step path through which
// def was reached; issues are reported there.
func (c *composition) visit(key string, def *schema.WorkflowDefinition, origin string) {
	c.state[key] = visiting
	c.stack = append(c.stack, key)
	root := len(c.stack) == 1

	for _, ref := range c.references(def) {
		at := origin
		if root {
			at = ref.path
		}
		child, err := c.lookup.Resolve(c.ctx, ref.target)
		if err != nil {
			if root {
				c.unresolved(at, ref.target, err)
			}
			continue
		}
		childKey := child.ID
		if childKey == "" {
			childKey = ref.target
		}

		switch c.state[childKey] {
		case visiting:
			start := slices.Index(c.stack, childKey)
			cycle := append(slices.Clone(c.stack[start:]), childKey)
			c.result.AddError(issuePath(at), schema.ErrCodeCyclicInvocation,
				fmt.Sprintf("workflow cycle: %s", strings.Join(cycle, " -> ")))
		case unvisited:
			c.visit(childKey, child, at)
		}
	}

	c.stack = c.stack[:len(c.stack)-1]
	c.state[key] = visited
}

func (c *composition) unresolved(at, target string, err error) {
	if schema.ErrorCode(err) == schema.ErrCodeNotFound {
		c.result.AddWarning(issuePath(at), schema.ErrCodeNotFound,
			fmt.Sprintf("workflow %q is not stored", target))
		return
	}
	code := schema.ErrCodeStore
	if fe, ok := schema.AsFlowError(err); ok {
		code = fe.Code
	}
	c.result.AddError(issuePath(at), code,
		fmt.Sprintf("resolve workflow %q: %s", target, err.Error()))
}

func (c *composition) references(def *schema.WorkflowDefinition) []workflowRef {
	var refs []workflowRef
	c.checker.CheckDefinition(def, func(path string, step *schema.StepDefinition, _ map[string]bool) {
		if step.Type != schema.StepTypeWorkflow {
			return
		}
		var cfg schema.SubWorkflowConfig
		if schema.DecodeConfig(step, &cfg) == nil && cfg.WorkflowID != "" {
			refs = append(refs, workflowRef{path: path, target: cfg.WorkflowID})
		}
	})
	return refs
}
