package diagram

import (
	"fmt"
	"strings"

	"github.com/omnivurse/crm-eco-sub011/internal/store"
	"github.com/omnivurse/crm-eco-sub011/pkg/schema"
)

const (
	startID = "__start__"
	endID   = "__end__"
)

// Build constructs a DiagramModel from a sequence. When enr is set, its
// executions are overlaid onto the steps they ran.
func Build(seq *store.Sequence, enr *store.Enrollment, execs []*store.StepExecution) (*DiagramModel, error) {
	if seq == nil {
		return nil, fmt.Errorf("diagram: nil sequence")
	}
	if enr != nil && enr.SequenceID != seq.ID {
		return nil, fmt.Errorf("diagram: enrollment %s belongs to sequence %s, not %s", enr.ID, enr.SequenceID, seq.ID)
	}

	nodes := make([]*Node, 0, len(seq.Steps)+2)
	nodes = append(nodes, &Node{ID: startID, Label: "Start", Kind: NodeKindStart})

	byOrder := make(map[int]string, len(seq.Steps))
	for _, step := range seq.Steps {
		node := stepToNode(step)
		byOrder[step.Order] = node.ID
		nodes = append(nodes, node)
	}
	nodes = append(nodes, &Node{ID: endID, Label: "End", Kind: NodeKindEnd})

	if enr != nil {
		overlayStatus(nodes, seq, enr, execs)
	}

	return &DiagramModel{
		Title: titleFromSequence(seq),
		Nodes: nodes,
		Edges: buildEdges(nodes, seq, byOrder),
	}, nil
}

func nodeID(step *store.Step) string {
	return fmt.Sprintf("step_%d", step.Order)
}

// stepToNode maps a sequence step to a diagram Node.
func stepToNode(step *store.Step) *Node {
	return &Node{
		ID:     nodeID(step),
		Label:  nodeLabel(step),
		Detail: nodeDetail(step),
		Kind:   stepTypeToKind(step.Type),
	}
}

func stepTypeToKind(st schema.StepType) NodeKind {
	switch st {
	case schema.StepTypeWait:
		return NodeKindWait
	case schema.StepTypeCondition:
		return NodeKindCondition
	default:
		return NodeKindEmail
	}
}

// nodeLabel creates a human-readable label for a step.
func nodeLabel(step *store.Step) string {
	switch step.Type {
	case schema.StepTypeEmail:
		if step.Email != nil && step.Email.Subject != "" {
			return fmt.Sprintf("%d. Email: %s", step.Order, step.Email.Subject)
		}
		return fmt.Sprintf("%d. Email", step.Order)
	case schema.StepTypeWait:
		return fmt.Sprintf("%d. Wait", step.Order)
	case schema.StepTypeCondition:
		return fmt.Sprintf("%d. If %s", step.Order, conditionText(step.Condition))
	default:
		return fmt.Sprintf("%d. %s", step.Order, step.Type)
	}
}

func conditionText(cfg *schema.ConditionConfig) string {
	if cfg == nil {
		return "?"
	}
	switch cfg.Type {
	case schema.ConditionEmailOpened:
		return "email opened"
	case schema.ConditionLinkClicked:
		return "link clicked"
	case schema.ConditionFieldValue:
		if cfg.Operator == schema.OperatorIsEmpty || cfg.Operator == schema.OperatorIsNotEmpty {
			return fmt.Sprintf("%s %s", cfg.Field, strings.ReplaceAll(string(cfg.Operator), "_", " "))
		}
		return fmt.Sprintf("%s %s %s", cfg.Field, strings.ReplaceAll(string(cfg.Operator), "_", " "), cfg.Value)
	case schema.ConditionExpression:
		return cfg.Expression
	default:
		return string(cfg.Type)
	}
}

// nodeDetail summarizes when the step becomes due.
func nodeDetail(step *store.Step) string {
	var parts []string
	if d := FormatDelay(step.Delay); d != "" {
		parts = append(parts, "after "+d)
	}
	if step.Email != nil && step.Email.SendTime != "" {
		parts = append(parts, "at "+step.Email.SendTime)
	}
	return strings.Join(parts, ", ")
}

// FormatDelay renders a delay compactly, e.g. "2d 4h". Zero yields "".
func FormatDelay(d schema.Delay) string {
	var parts []string
	if d.Days > 0 {
		parts = append(parts, fmt.Sprintf("%dd", d.Days))
	}
	if d.Hours > 0 {
		parts = append(parts, fmt.Sprintf("%dh", d.Hours))
	}
	if d.Minutes > 0 {
		parts = append(parts, fmt.Sprintf("%dm", d.Minutes))
	}
	return strings.Join(parts, " ")
}

// overlayStatus marks executed, current and pending steps for one enrollment.
func overlayStatus(nodes []*Node, seq *store.Sequence, enr *store.Enrollment, execs []*store.StepExecution) {
	byStep := make(map[string]*StatusOverlay, len(seq.Steps))
	for _, ex := range execs {
		ov, ok := byStep[ex.StepID]
		if !ok {
			ov = &StatusOverlay{}
			byStep[ex.StepID] = ov
		}
		ov.Executions++
		// The latest execution decides the state.
		if ex.Status == schema.ExecutionFailed {
			ov.State = StateFailed
			ov.Error = ex.Error
		} else {
			ov.State = StateDone
			ov.Error = ""
		}
	}

	for i, step := range seq.Steps {
		node := nodes[i+1]
		ov := byStep[step.ID]
		isCurrent := step.ID == enr.CurrentStepID && !enr.Status.IsTerminal()
		switch {
		case isCurrent && ov != nil && ov.State == StateFailed:
			// Retrying: keep the failure visible.
		case isCurrent:
			if ov == nil {
				ov = &StatusOverlay{}
			}
			ov.State = StateCurrent
		case ov == nil && enr.Status == schema.EnrollmentExited:
			ov = &StatusOverlay{State: StateExited}
		case ov == nil:
			ov = &StatusOverlay{State: StatePending}
		}
		node.Status = ov
	}

	end := nodes[len(nodes)-1]
	if enr.Status == schema.EnrollmentCompleted {
		end.Status = &StatusOverlay{State: StateDone}
	}
}

// buildEdges links steps in order and adds the documented branch targets of
// condition steps.
func buildEdges(nodes []*Node, seq *store.Sequence, byOrder map[int]string) []Edge {
	edges := make([]Edge, 0, len(nodes))
	for i := 0; i < len(nodes)-1; i++ {
		edges = append(edges, Edge{From: nodes[i].ID, To: nodes[i+1].ID})
	}

	for _, step := range seq.Steps {
		if step.Type != schema.StepTypeCondition || step.Condition == nil {
			continue
		}
		if to, ok := byOrder[step.Condition.ThenStep]; ok && step.Condition.ThenStep > 0 {
			edges = append(edges, Edge{From: nodeID(step), To: to, Label: "then", Branch: true})
		}
		if to, ok := byOrder[step.Condition.ElseStep]; ok && step.Condition.ElseStep > 0 {
			edges = append(edges, Edge{From: nodeID(step), To: to, Label: "else", Branch: true})
		}
	}
	return edges
}

// titleFromSequence generates a diagram title from sequence metadata.
func titleFromSequence(seq *store.Sequence) string {
	if seq.Name != "" {
		return seq.Name
	}
	return "Sequence " + seq.ID
}
