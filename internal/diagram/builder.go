package diagram

import (
	"encoding/json"
	"strings"

	"github.com/agentc2/wfrt/internal/store"
	"github.com/agentc2/wfrt/pkg/schema"
)

// Build constructs a Model from a definition. When events is non-empty the
// step statuses they record are overlaid on the nodes.
func Build(def *schema.WorkflowDefinition, events []*store.Event) (*Model, error) {
	if def == nil || len(def.Steps) == 0 {
		return nil, schema.NewError(schema.ErrCodeDefinition, "diagram: workflow has no steps")
	}

	b := &builder{loops: make(map[string]bool)}
	nodes, edges := b.list(def.Steps, "")

	model := &Model{Title: titleFromDef(def)}
	model.Nodes = append(model.Nodes, &Node{ID: startID, Label: "Start", Kind: NodeKindStart})
	model.Nodes = append(model.Nodes, nodes...)
	model.Nodes = append(model.Nodes, &Node{ID: endID, Label: "End", Kind: NodeKindEnd})

	model.Edges = append(model.Edges, Edge{From: startID, To: nodes[0].ID})
	model.Edges = append(model.Edges, edges...)
	model.Edges = append(model.Edges, Edge{From: nodes[len(nodes)-1].ID, To: endID})

	if len(events) > 0 {
		b.overlay(model.Nodes, b.statuses(events))
	}
	return model, nil
}

type builder struct {
	loops map[string]bool // paths of foreach steps
}

// list maps one step list to nodes chained in declaration order.
func (b *builder) list(steps []schema.StepDefinition, prefix string) ([]*Node, []Edge) {
	nodes := make([]*Node, 0, len(steps))
	var edges []Edge
	for i := range steps {
		step := &steps[i]
		node := b.node(step, joinPath(prefix, step.ID))
		if len(nodes) > 0 {
			edges = append(edges, Edge{From: nodes[len(nodes)-1].ID, To: node.ID})
		}
		nodes = append(nodes, node)
	}
	return nodes, edges
}

func (b *builder) node(step *schema.StepDefinition, path string) *Node {
	label := step.ID
	if step.Name != "" {
		label = step.Name
	}
	node := &Node{ID: path, Label: label, Kind: kindOf(step.Type), Detail: detail(step)}

	switch step.Type {
	case schema.StepTypeBranch:
		var cfg schema.BranchConfig
		if schema.DecodeConfig(step, &cfg) != nil {
			return node
		}
		for _, arm := range cfg.Branches {
			node.Children = append(node.Children, b.subGraph(arm.ID, arm.Condition, arm.Steps, joinPath(path, arm.ID)))
		}
		if len(cfg.DefaultBranch) > 0 {
			node.Children = append(node.Children, b.subGraph("default", "", cfg.DefaultBranch, joinPath(path, "default")))
		}

	case schema.StepTypeParallel:
		var cfg schema.ParallelConfig
		if schema.DecodeConfig(step, &cfg) != nil {
			return node
		}
		for _, br := range cfg.Branches {
			node.Children = append(node.Children, b.subGraph(br.ID, "", br.Steps, joinPath(path, br.ID)))
		}

	case schema.StepTypeForEach:
		var cfg schema.ForEachConfig
		if schema.DecodeConfig(step, &cfg) != nil {
			return node
		}
		b.loops[path] = true
		// Iterations run under <path>/<index>; the body is drawn once as index 0.
		node.Children = append(node.Children, b.subGraph("each", "", cfg.Steps, joinPath(path, "0")))
	}
	return node
}

func (b *builder) subGraph(label, guard string, steps []schema.StepDefinition, prefix string) *SubGraph {
	nodes, edges := b.list(steps, prefix)
	return &SubGraph{Label: label, Guard: guard, Nodes: nodes, Edges: edges}
}

// statuses folds the step events into the latest status per diagram path.
// Loop iterations collapse onto the body drawn for index 0, where the most
// severe status across iterations wins.
func (b *builder) statuses(events []*store.Event) map[string]*StatusOverlay {
	out := make(map[string]*StatusOverlay)
	for _, ev := range events {
		status := statusOf(ev.Type)
		if status == "" {
			continue
		}
		var payload struct {
			Path  string `json:"path"`
			Error string `json:"error"`
		}
		_ = json.Unmarshal(ev.Payload, &payload)
		path := payload.Path
		if path == "" {
			path = ev.StepID
		}
		path, iterated := b.collapse(path)

		cur, ok := out[path]
		if !ok {
			cur = &StatusOverlay{}
			out[path] = cur
		}
		if status == "running" {
			cur.Runs++
		}
		switch {
		case !iterated, cur.Status == "", cur.Status == "running":
			cur.Status = status
		case severity(status) > severity(cur.Status):
			cur.Status = status
		}
		if payload.Error != "" {
			cur.Error = payload.Error
		}
	}
	return out
}

// collapse maps a runtime path onto the drawn one and reports whether it
// lies inside a loop body.
func (b *builder) collapse(path string) (string, bool) {
	parts := strings.Split(path, "/")
	iterated := false
	for i := 1; i < len(parts); i++ {
		if b.loops[strings.Join(parts[:i], "/")] && isIndex(parts[i]) {
			parts[i] = "0"
			iterated = true
		}
	}
	return strings.Join(parts, "/"), iterated
}

func (b *builder) overlay(nodes []*Node, statuses map[string]*StatusOverlay) {
	for _, n := range nodes {
		if s, ok := statuses[n.ID]; ok {
			n.Status = s
		}
		for _, sg := range n.Children {
			b.overlay(sg.Nodes, statuses)
		}
	}
}

func statusOf(eventType string) string {
	switch eventType {
	case schema.EventStepStarted:
		return "running"
	case schema.EventStepCompleted, schema.EventStepReplayed:
		return "completed"
	case schema.EventStepFailed:
		return "failed"
	case schema.EventStepSuspended:
		return "suspended"
	default:
		return ""
	}
}

func severity(status string) int {
	switch status {
	case "failed":
		return 3
	case "suspended":
		return 2
	case "completed":
		return 1
	default:
		return 0
	}
}

func kindOf(t schema.StepType) NodeKind {
	switch t {
	case schema.StepTypeBranch:
		return NodeKindBranch
	case schema.StepTypeParallel:
		return NodeKindParallel
	case schema.StepTypeForEach:
		return NodeKindLoop
	case schema.StepTypeHuman, schema.StepTypeDelay:
		return NodeKindWait
	default:
		return NodeKindTask
	}
}

const invalidConfig = "(invalid config)"

// detail summarizes what a step calls or waits for. A config that does not
// decode, or lacks the field the summary names, is marked invalid.
func detail(step *schema.StepDefinition) string {
	named := func(cfg any, field func() string) string {
		if err := schema.DecodeConfig(step, cfg); err != nil || field() == "" {
			return string(step.Type) + " " + invalidConfig
		}
		return string(step.Type) + " " + field()
	}

	switch step.Type {
	case schema.StepTypeAgent:
		var cfg schema.AgentConfig
		return named(&cfg, func() string { return cfg.AgentSlug })
	case schema.StepTypeTool:
		var cfg schema.ToolConfig
		return named(&cfg, func() string { return cfg.ToolID })
	case schema.StepTypeWorkflow:
		var cfg schema.SubWorkflowConfig
		return named(&cfg, func() string { return cfg.WorkflowID })
	case schema.StepTypeForEach:
		var cfg schema.ForEachConfig
		return named(&cfg, func() string { return cfg.CollectionPath })
	case schema.StepTypeDelay:
		var cfg schema.DelayConfig
		switch err := schema.DecodeConfig(step, &cfg); {
		case err != nil, cfg.Until == "" && cfg.Duration == "":
			return "delay " + invalidConfig
		case cfg.Until != "":
			return "delay until " + cfg.Until
		default:
			return "delay " + cfg.Duration
		}
	default:
		return string(step.Type)
	}
}

func titleFromDef(def *schema.WorkflowDefinition) string {
	switch {
	case def.Name != "":
		return def.Name
	case def.ID != "":
		return def.ID
	default:
		return "Workflow"
	}
}

func joinPath(prefix, id string) string {
	if prefix == "" {
		return id
	}
	return prefix + "/" + id
}

func isIndex(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

