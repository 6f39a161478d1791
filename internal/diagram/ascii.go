package diagram

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

func statusTag(s *StatusOverlay) string {
	if s == nil {
		return ""
	}
	tag := ""
	switch s.Status {
	case "completed":
		tag = "[OK]"
	case "failed":
		tag = "[FAIL]"
	case "running":
		tag = "[RUN]"
	case "suspended":
		tag = "[WAIT]"
	}
	if tag != "" && s.Runs > 1 {
		tag += fmt.Sprintf(" x%d", s.Runs)
	}
	return tag
}

// RenderASCII renders a Model as a vertical stack of boxes. Nested step
// lists are listed below their parent, indented.
func RenderASCII(model *Model) string {
	var b strings.Builder

	if model.Title != "" {
		fmt.Fprintf(&b, "=== %s ===\n\n", model.Title)
	}

	for i, node := range model.Nodes {
		for _, line := range makeBox(node) {
			b.WriteString(line)
			b.WriteByte('\n')
		}
		for _, sg := range node.Children {
			renderSubGraph(&b, sg, "    ")
		}
		if i < len(model.Nodes)-1 {
			b.WriteString("       │\n")
			b.WriteString("       ▼\n")
		}
	}
	return b.String()
}

// makeBox draws a node's label, detail and status inside a box.
func makeBox(node *Node) []string {
	content := []string{node.Label}
	if node.Detail != "" && node.Detail != node.Label {
		content = append(content, node.Detail)
	}
	if tag := statusTag(node.Status); tag != "" {
		content = append(content, tag)
	}

	width := 0
	for _, line := range content {
		width = max(width, utf8.RuneCountInString(line))
	}

	lines := make([]string, 0, len(content)+2)
	lines = append(lines, "┌"+strings.Repeat("─", width+2)+"┐")
	for _, line := range content {
		pad := strings.Repeat(" ", width-utf8.RuneCountInString(line))
		lines = append(lines, "│ "+line+pad+" │")
	}
	lines = append(lines, "└"+strings.Repeat("─", width+2)+"┘")
	return lines
}

func renderSubGraph(b *strings.Builder, sg *SubGraph, indent string) {
	if sg.Guard != "" {
		fmt.Fprintf(b, "%s[%s] when %s\n", indent, sg.Label, sg.Guard)
	} else {
		fmt.Fprintf(b, "%s[%s]\n", indent, sg.Label)
	}
	for i, node := range sg.Nodes {
		arrow := "─→ "
		if i == 0 {
			arrow = "   "
		}
		line := indent + "  " + arrow + node.Label
		if node.Detail != "" && node.Detail != node.Label {
			line += " (" + node.Detail + ")"
		}
		if tag := statusTag(node.Status); tag != "" {
			line += " " + tag
		}
		b.WriteString(line + "\n")
		for _, child := range node.Children {
			renderSubGraph(b, child, indent+"      ")
		}
	}
}
