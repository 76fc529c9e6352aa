package diagram

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnivurse/crm-eco-sub011/internal/store"
	"github.com/omnivurse/crm-eco-sub011/pkg/schema"
)

// --- Test sequence builders ---

func welcomeSequence() *store.Sequence {
	return &store.Sequence{
		ID:   "seq-1",
		Name: "Welcome",
		Steps: []*store.Step{
			{ID: "st-1", Order: 1, Type: schema.StepTypeEmail, Email: &schema.EmailConfig{Subject: "Hi {{contact.first_name}}"}},
			{ID: "st-2", Order: 2, Type: schema.StepTypeWait, Delay: schema.Delay{Days: 2, Hours: 3}},
			{ID: "st-3", Order: 3, Type: schema.StepTypeEmail, Delay: schema.Delay{Days: 1},
				Email: &schema.EmailConfig{Subject: "Follow up", SendTime: "09:00"}},
		},
	}
}

func branchingSequence() *store.Sequence {
	return &store.Sequence{
		ID: "seq-2",
		Steps: []*store.Step{
			{ID: "st-1", Order: 1, Type: schema.StepTypeEmail, Email: &schema.EmailConfig{Subject: "Intro"}},
			{ID: "st-2", Order: 2, Type: schema.StepTypeCondition,
				Condition: &schema.ConditionConfig{Type: schema.ConditionEmailOpened, ThenStep: 4, ElseStep: 3}},
			{ID: "st-3", Order: 3, Type: schema.StepTypeEmail, Email: &schema.EmailConfig{Subject: "Resend"}},
			{ID: "st-4", Order: 4, Type: schema.StepTypeEmail, Email: &schema.EmailConfig{Subject: "Next"}},
		},
	}
}

func findNode(nodes []*Node, id string) *Node {
	for _, n := range nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}

// --- Tests ---

func TestBuild_Linear(t *testing.T) {
	model, err := Build(welcomeSequence(), nil, nil)
	require.NoError(t, err)

	assert.Equal(t, "Welcome", model.Title)
	require.Len(t, model.Nodes, 5)
	assert.Equal(t, NodeKindStart, model.Nodes[0].Kind)
	assert.Equal(t, NodeKindEnd, model.Nodes[4].Kind)

	email := findNode(model.Nodes, "step_1")
	require.NotNil(t, email)
	assert.Equal(t, NodeKindEmail, email.Kind)
	assert.Equal(t, "1. Email: Hi {{contact.first_name}}", email.Label)
	assert.Empty(t, email.Detail)

	wait := findNode(model.Nodes, "step_2")
	require.NotNil(t, wait)
	assert.Equal(t, NodeKindWait, wait.Kind)
	assert.Equal(t, "after 2d 3h", wait.Detail)

	assert.Equal(t, "after 1d, at 09:00", findNode(model.Nodes, "step_3").Detail)

	require.Len(t, model.Edges, 4)
	for _, e := range model.Edges {
		assert.False(t, e.Branch)
	}
	assert.Equal(t, Edge{From: startID, To: "step_1"}, model.Edges[0])
	assert.Equal(t, Edge{From: "step_3", To: endID}, model.Edges[3])

	for _, n := range model.Nodes {
		assert.Nil(t, n.Status, n.ID)
	}
}

func TestBuild_BranchEdges(t *testing.T) {
	model, err := Build(branchingSequence(), nil, nil)
	require.NoError(t, err)

	assert.Equal(t, "Sequence seq-2", model.Title)
	cond := findNode(model.Nodes, "step_2")
	require.NotNil(t, cond)
	assert.Equal(t, NodeKindCondition, cond.Kind)
	assert.Equal(t, "2. If email opened", cond.Label)

	var branches []Edge
	for _, e := range model.Edges {
		if e.Branch {
			branches = append(branches, e)
		}
	}
	assert.Equal(t, []Edge{
		{From: "step_2", To: "step_4", Label: "then", Branch: true},
		{From: "step_2", To: "step_3", Label: "else", Branch: true},
	}, branches)
}

func TestBuild_NilSequence(t *testing.T) {
	_, err := Build(nil, nil, nil)
	assert.Error(t, err)
}

func TestBuild_ForeignEnrollment(t *testing.T) {
	_, err := Build(welcomeSequence(), &store.Enrollment{ID: "e1", SequenceID: "other"}, nil)
	assert.ErrorContains(t, err, "belongs to sequence other")
}

func TestBuild_StatusOverlay(t *testing.T) {
	enr := &store.Enrollment{ID: "e1", SequenceID: "seq-1", Status: schema.EnrollmentActive, CurrentStepID: "st-2", CurrentStepOrder: 2}
	execs := []*store.StepExecution{
		{StepID: "st-1", Status: schema.ExecutionFailed, Error: "smtp down"},
		{StepID: "st-1", Status: schema.ExecutionSuccess},
	}

	model, err := Build(welcomeSequence(), enr, execs)
	require.NoError(t, err)

	first := findNode(model.Nodes, "step_1").Status
	require.NotNil(t, first)
	assert.Equal(t, StateDone, first.State)
	assert.Equal(t, 2, first.Executions)
	assert.Empty(t, first.Error)

	assert.Equal(t, StateCurrent, findNode(model.Nodes, "step_2").Status.State)
	assert.Equal(t, StatePending, findNode(model.Nodes, "step_3").Status.State)
	assert.Nil(t, findNode(model.Nodes, endID).Status)
}

func TestBuild_StatusOverlay_RetryingStep(t *testing.T) {
	enr := &store.Enrollment{ID: "e1", SequenceID: "seq-1", Status: schema.EnrollmentActive, CurrentStepID: "st-1", CurrentStepOrder: 1}
	execs := []*store.StepExecution{{StepID: "st-1", Status: schema.ExecutionFailed, Error: "template error"}}

	model, err := Build(welcomeSequence(), enr, execs)
	require.NoError(t, err)

	ov := findNode(model.Nodes, "step_1").Status
	assert.Equal(t, StateFailed, ov.State)
	assert.Equal(t, "template error", ov.Error)
}

func TestBuild_StatusOverlay_Terminal(t *testing.T) {
	tests := []struct {
		name      string
		status    schema.EnrollmentStatus
		wantRest  string
		endStatus bool
	}{
		{"completed", schema.EnrollmentCompleted, StatePending, true},
		{"exited", schema.EnrollmentExited, StateExited, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enr := &store.Enrollment{ID: "e1", SequenceID: "seq-1", Status: tt.status, CurrentStepID: "st-2"}
			execs := []*store.StepExecution{{StepID: "st-1", Status: schema.ExecutionSuccess}}

			model, err := Build(welcomeSequence(), enr, execs)
			require.NoError(t, err)

			assert.Equal(t, StateDone, findNode(model.Nodes, "step_1").Status.State)
			assert.Equal(t, tt.wantRest, findNode(model.Nodes, "step_2").Status.State)
			if tt.endStatus {
				require.NotNil(t, findNode(model.Nodes, endID).Status)
				assert.Equal(t, StateDone, findNode(model.Nodes, endID).Status.State)
			} else {
				assert.Nil(t, findNode(model.Nodes, endID).Status)
			}
		})
	}
}

func TestConditionText(t *testing.T) {
	tests := []struct {
		cfg  *schema.ConditionConfig
		want string
	}{
		{nil, "?"},
		{&schema.ConditionConfig{Type: schema.ConditionLinkClicked}, "link clicked"},
		{&schema.ConditionConfig{Type: schema.ConditionFieldValue, Field: "status", Operator: schema.OperatorEquals, Value: "won"}, "status equals won"},
		{&schema.ConditionConfig{Type: schema.ConditionFieldValue, Field: "phone", Operator: schema.OperatorIsNotEmpty}, "phone is not empty"},
		{&schema.ConditionConfig{Type: schema.ConditionExpression, Expression: "record.score > 10"}, "record.score > 10"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, conditionText(tt.cfg))
	}
}

func TestFormatDelay(t *testing.T) {
	assert.Equal(t, "", FormatDelay(schema.Delay{}))
	assert.Equal(t, "30m", FormatDelay(schema.Delay{Minutes: 30}))
	assert.Equal(t, "1d 2h 3m", FormatDelay(schema.Delay{Days: 1, Hours: 2, Minutes: 3}))
}
