package engine

import (
	"maps"

	"github.com/agentc2/wfrt/pkg/schema"
)

// StepVisitor observes each well-formed step during CheckDefinition.
// visible holds the context keys the step's templates may reference.
type StepVisitor func(path string, step *schema.StepDefinition, visible map[string]bool)

// ValidateDefinition reports the first problem in def, or nil.
func (e *Engine) ValidateDefinition(def *schema.WorkflowDefinition) error {
	if issues := e.CheckDefinition(def, nil); len(issues) > 0 {
		return issues[0]
	}
	return nil
}

// CheckDefinition walks every step list of def, recursing into nested
// lists, and returns all definition errors found. Each error carries the
// offending step and its path.
func (e *Engine) CheckDefinition(def *schema.WorkflowDefinition, visit StepVisitor) []*schema.FlowError {
	if def == nil {
		return []*schema.FlowError{schema.NewError(schema.ErrCodeDefinition, "workflow definition is required")}
	}
	if len(def.Steps) == 0 {
		return []*schema.FlowError{schema.NewError(schema.ErrCodeDefinition, "workflow must have at least one step")}
	}
	c := &checker{engine: e, visit: visit}
	c.list(def.Steps, "", map[string]bool{"input": true})
	return c.issues
}

type checker struct {
	engine *Engine
	visit  StepVisitor
	issues []*schema.FlowError
}

func (c *checker) add(err error, step *schema.StepDefinition, path string) {
	fe, ok := schema.AsFlowError(err)
	if !ok {
		fe = schema.NewError(schema.ErrCodeDefinition, err.Error()).WithCause(err)
	} else {
		cp := *fe
		fe = &cp
	}
	if fe.StepID == "" {
		fe.WithStep(step.ID)
	}
	if fe.Path == "" {
		fe.WithPath(path)
	}
	c.issues = append(c.issues, fe)
}

func (c *checker) list(steps []schema.StepDefinition, prefix string, inherited map[string]bool) {
	visible := maps.Clone(inherited)
	seen := make(map[string]bool, len(steps))

	for i := range steps {
		step := &steps[i]
		path := joinPath(prefix, step.ID)

		switch {
		case step.ID == "":
			c.issues = append(c.issues, schema.NewErrorf(schema.ErrCodeDefinition,
				"step %d in %q has no id", i, prefixOrRoot(prefix)).WithPath(prefix))
			continue
		case step.ID == "input":
			c.add(schema.NewError(schema.ErrCodeDefinition, `step id "input" is reserved`), step, path)
			continue
		case seen[step.ID]:
			c.add(schema.NewErrorf(schema.ErrCodeDefinition, "duplicate step id %q", step.ID), step, path)
			continue
		}
		seen[step.ID] = true

		ex, ok := c.engine.registry.Get(step.Type)
		if !ok {
			c.add(schema.NewErrorf(schema.ErrCodeDefinition, "unknown step type %q", step.Type), step, path)
			visible[step.ID] = true
			continue
		}
		nested, err := ex.Validate(step)
		if err != nil {
			c.add(err, step, path)
			visible[step.ID] = true
			continue
		}
		if c.visit != nil {
			c.visit(path, step, maps.Clone(visible))
		}
		for _, n := range nested {
			inner := maps.Clone(visible)
			for _, v := range n.Vars {
				inner[v] = true
			}
			c.list(n.Steps, joinPath(path, n.Segment), inner)
		}
		visible[step.ID] = true
	}
}

func prefixOrRoot(prefix string) string {
	if prefix == "" {
		return "steps"
	}
	return prefix
}
