// Package diagram renders sequences as flowcharts, optionally overlaid with
// one enrollment's progress.
package diagram

import "fmt"

// NodeKind classifies a diagram node by its step type.
type NodeKind string

const (
	NodeKindEmail     NodeKind = "email"
	NodeKindWait      NodeKind = "wait"
	NodeKindCondition NodeKind = "condition"
	NodeKindStart     NodeKind = "start"
	NodeKindEnd       NodeKind = "end"
)

// Overlay states.
const (
	StateDone    = "done"
	StateFailed  = "failed"
	StateCurrent = "current"
	StatePending = "pending"
	StateExited  = "exited"
)

// DiagramModel is the intermediate representation used by all renderers.
// Sequences advance linearly, so Nodes are already in walk order.
type DiagramModel struct {
	Title string
	Nodes []*Node
	Edges []Edge
}

// Node represents one step, or the virtual start and end.
type Node struct {
	ID     string
	Label  string
	Detail string // delay and send window
	Kind   NodeKind
	Status *StatusOverlay
}

// StatusOverlay carries one enrollment's state for a node.
type StatusOverlay struct {
	State      string
	Executions int
	Error      string
}

// Edge connects two nodes. Branch edges document a condition's then/else
// targets; the walk itself never follows them.
type Edge struct {
	From   string
	To     string
	Label  string
	Branch bool
}

// Render dispatches to the renderer named by format ("mermaid" or "ascii").
func Render(model *DiagramModel, format string) (string, error) {
	switch format {
	case "", "mermaid":
		return RenderMermaid(model), nil
	case "ascii":
		return RenderASCII(model), nil
	default:
		return "", fmt.Errorf("diagram: unsupported format %q (want mermaid or ascii)", format)
	}
}
