// Package diagram renders workflow definitions, optionally overlaid with a
// run's step statuses, as Mermaid flowcharts or plain-text box diagrams.
package diagram

// NodeKind classifies a diagram node by its step type.
type NodeKind string

const (
	NodeKindTask     NodeKind = "task" // agent, tool, workflow and transform steps
	NodeKindBranch   NodeKind = "branch"
	NodeKindParallel NodeKind = "parallel"
	NodeKindLoop     NodeKind = "loop"
	NodeKindWait     NodeKind = "wait" // human and delay steps
	NodeKindStart    NodeKind = "start"
	NodeKindEnd      NodeKind = "end"
)

// Model is the intermediate representation used by all renderers.
type Model struct {
	Title string
	Nodes []*Node
	Edges []Edge
}

// Node is a single step. ID is the step's path.
type Node struct {
	ID       string
	Label    string
	Detail   string
	Kind     NodeKind
	Status   *StatusOverlay
	Children []*SubGraph // branch arms, parallel branches, loop body
}

// SubGraph holds the nested step list of a control-flow node. Guard is the
// condition that selects a branch arm.
type SubGraph struct {
	Label string
	Guard string
	Nodes []*Node
	Edges []Edge
}

// StatusOverlay carries the recorded state of a step.
type StatusOverlay struct {
	Status string
	Runs   int // executions seen, >1 inside loops
	Error  string
}

// Edge connects two nodes in execution order.
type Edge struct {
	From  string
	To    string
	Label string
}

const (
	startID = "__start__"
	endID   = "__end__"
)
