package diagram

import (
	"fmt"
	"strings"
)

// RenderMermaid renders a Model as a Mermaid flowchart.
func RenderMermaid(model *Model) string {
	var b strings.Builder

	b.WriteString("graph TD\n")
	if model.Title != "" {
		fmt.Fprintf(&b, "    %%%% %s\n", model.Title)
	}

	for _, node := range model.Nodes {
		writeMermaidNode(&b, node, "    ")
	}
	for _, edge := range model.Edges {
		writeMermaidEdge(&b, edge, "    ")
	}

	b.WriteString("\n")
	b.WriteString("    classDef completed fill:#2d6a2d,stroke:#1a4a1a,color:#fff\n")
	b.WriteString("    classDef failed fill:#8b1a1a,stroke:#5c0e0e,color:#fff\n")
	b.WriteString("    classDef running fill:#1a5276,stroke:#0e3a52,color:#fff\n")
	b.WriteString("    classDef suspended fill:#b7791a,stroke:#8a5c14,color:#fff\n")

	writeMermaidClasses(&b, model.Nodes)
	return b.String()
}

func writeMermaidNode(b *strings.Builder, node *Node, indent string) {
	fmt.Fprintf(b, "%s%s\n", indent, mermaidNodeDef(node))

	for _, sg := range node.Children {
		fmt.Fprintf(b, "%ssubgraph %s[%q]\n", indent, mermaidSafeID(node.ID+"_"+sg.Label), node.Label+": "+sg.Label)
		for _, sub := range sg.Nodes {
			writeMermaidNode(b, sub, indent+"    ")
		}
		for _, edge := range sg.Edges {
			writeMermaidEdge(b, edge, indent+"    ")
		}
		fmt.Fprintf(b, "%send\n", indent)

		if len(sg.Nodes) > 0 {
			label := sg.Guard
			if label == "" {
				label = sg.Label
			}
			writeMermaidEdge(b, Edge{From: node.ID, To: sg.Nodes[0].ID, Label: label}, indent)
		}
	}
}

func writeMermaidEdge(b *strings.Builder, edge Edge, indent string) {
	label := ""
	if edge.Label != "" {
		label = fmt.Sprintf("|%q|", edge.Label)
	}
	fmt.Fprintf(b, "%s%s -->%s %s\n", indent, mermaidSafeID(edge.From), label, mermaidSafeID(edge.To))
}

func writeMermaidClasses(b *strings.Builder, nodes []*Node) {
	for _, node := range nodes {
		if node.Status != nil {
			if cls := mermaidStatusClass(node.Status.Status); cls != "" {
				fmt.Fprintf(b, "    class %s %s\n", mermaidSafeID(node.ID), cls)
			}
		}
		for _, sg := range node.Children {
			writeMermaidClasses(b, sg.Nodes)
		}
	}
}

// mermaidNodeDef returns a node definition shaped by kind.
func mermaidNodeDef(node *Node) string {
	id := mermaidSafeID(node.ID)
	label := node.Label
	if node.Detail != "" {
		label += " (" + node.Detail + ")"
	}

	switch node.Kind {
	case NodeKindBranch:
		return fmt.Sprintf("%s{%q}", id, label)
	case NodeKindWait:
		return fmt.Sprintf("%s([%q])", id, label)
	case NodeKindParallel, NodeKindLoop:
		return fmt.Sprintf("%s[[%q]]", id, label)
	case NodeKindStart, NodeKindEnd:
		return fmt.Sprintf("%s((%q))", id, label)
	default:
		return fmt.Sprintf("%s[%q]", id, label)
	}
}

var mermaidIDReplacer = strings.NewReplacer("/", "__", ".", "_", "-", "_", " ", "_")

// mermaidSafeID converts a step path to a Mermaid identifier.
func mermaidSafeID(id string) string {
	return mermaidIDReplacer.Replace(id)
}

func mermaidStatusClass(status string) string {
	switch status {
	case "completed", "failed", "running", "suspended":
		return status
	default:
		return ""
	}
}
