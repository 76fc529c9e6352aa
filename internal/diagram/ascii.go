package diagram

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// statusTag returns a short ASCII indicator for an overlay state.
func statusTag(state string) string {
	switch state {
	case StateDone:
		return "[OK]"
	case StateFailed:
		return "[FAIL]"
	case StateCurrent:
		return "[NEXT]"
	case StatePending:
		return "[PEND]"
	case StateExited:
		return "[SKIP]"
	default:
		return ""
	}
}

// RenderASCII renders a DiagramModel as a vertical chain of boxes.
func RenderASCII(model *DiagramModel) string {
	var b strings.Builder

	if model.Title != "" {
		b.WriteString(fmt.Sprintf("=== %s ===\n\n", model.Title))
	}

	for i, node := range model.Nodes {
		box := makeBox(node)
		for _, line := range box.lines {
			b.WriteString(line)
			b.WriteByte('\n')
		}
		if i < len(model.Nodes)-1 {
			renderConnector(&b)
		}
	}

	var branches []Edge
	for _, edge := range model.Edges {
		if edge.Branch {
			branches = append(branches, edge)
		}
	}
	if len(branches) > 0 {
		b.WriteString("\n--- branches (informational) ---\n")
		for _, edge := range branches {
			b.WriteString(fmt.Sprintf("  %s ─→ %s (%s)\n", edge.From, edge.To, edge.Label))
		}
	}

	return b.String()
}

// asciiBox holds the rendered lines of a single box.
type asciiBox struct {
	lines []string
	width int
}

// makeBox creates an ASCII box for a node.
func makeBox(node *Node) asciiBox {
	contentLines := []string{firstLine(node.Label)}
	if node.Detail != "" {
		contentLines = append(contentLines, node.Detail)
	}

	if node.Status != nil {
		tag := statusTag(node.Status.State)
		if node.Status.Executions > 1 {
			tag = fmt.Sprintf("%s x%d", tag, node.Status.Executions)
		}
		if tag != "" {
			contentLines = append(contentLines, tag)
		}
		if node.Status.Error != "" {
			contentLines = append(contentLines, firstLine(node.Status.Error))
		}
	}

	maxLen := 0
	for _, line := range contentLines {
		if n := utf8.RuneCountInString(line); n > maxLen {
			maxLen = n
		}
	}
	width := maxLen + 4 // 2 border + 2 padding

	lines := make([]string, 0, len(contentLines)+2)
	lines = append(lines, "┌"+strings.Repeat("─", width-2)+"┐")
	for _, content := range contentLines {
		padded := content + strings.Repeat(" ", maxLen-utf8.RuneCountInString(content))
		lines = append(lines, "│ "+padded+" │")
	}
	lines = append(lines, "└"+strings.Repeat("─", width-2)+"┘")

	return asciiBox{lines: lines, width: width}
}

// firstLine returns only the first line of a multi-line label.
func firstLine(s string) string {
	if i := strings.Index(s, "\n"); i >= 0 {
		return s[:i]
	}
	return s
}

// renderConnector draws a vertical connector between boxes.
func renderConnector(b *strings.Builder) {
	b.WriteString("    │\n")
	b.WriteString("    ▼\n")
}
