package diagram

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnivurse/crm-eco-sub011/internal/store"
	"github.com/omnivurse/crm-eco-sub011/pkg/schema"
)

func TestRenderMermaidLinear(t *testing.T) {
	model, err := Build(welcomeSequence(), nil, nil)
	require.NoError(t, err)

	output := RenderMermaid(model)

	assert.Contains(t, output, "graph TD")
	assert.Contains(t, output, "%% Welcome")

	// Email nodes are rectangles, waits are stadiums.
	assert.Contains(t, output, `step_1["1. Email: Hi #123;#123;contact.first_name#125;#125;"]`)
	assert.Contains(t, output, `step_2(["2. Wait<br/>after 2d 3h"])`)

	assert.Contains(t, output, "__start__((")
	assert.Contains(t, output, "__end__((")
	assert.Contains(t, output, "__start__ --> step_1")
	assert.Contains(t, output, "step_3 --> __end__")

	assert.Contains(t, output, "classDef done")
	assert.Contains(t, output, "classDef current")
	assert.NotContains(t, output, "class step_")
}

func TestRenderMermaidCondition(t *testing.T) {
	model, err := Build(branchingSequence(), nil, nil)
	require.NoError(t, err)

	output := RenderMermaid(model)

	assert.Contains(t, output, `step_2{"2. If email opened"}`)
	assert.Contains(t, output, "step_2 -.->|then| step_4")
	assert.Contains(t, output, "step_2 -.->|else| step_3")
}

func TestRenderMermaidStatusClasses(t *testing.T) {
	enr := &store.Enrollment{ID: "e1", SequenceID: "seq-1", Status: schema.EnrollmentActive, CurrentStepID: "st-2"}
	execs := []*store.StepExecution{{StepID: "st-1", Status: schema.ExecutionSuccess}}

	model, err := Build(welcomeSequence(), enr, execs)
	require.NoError(t, err)

	output := RenderMermaid(model)
	assert.Contains(t, output, "class step_1 done")
	assert.Contains(t, output, "class step_2 current")
	assert.Contains(t, output, "class step_3 pending")
}

func TestMermaidEscapeLabel(t *testing.T) {
	assert.Equal(t, "say #quot;hi#quot;", mermaidEscapeLabel("say \"hi\"\nsecond line"))
	assert.Equal(t, "step_a_b", mermaidSafeID("step.a-b"))
}

func TestRender(t *testing.T) {
	model, err := Build(welcomeSequence(), nil, nil)
	require.NoError(t, err)

	out, err := Render(model, "")
	require.NoError(t, err)
	assert.Equal(t, RenderMermaid(model), out)

	out, err = Render(model, "ascii")
	require.NoError(t, err)
	assert.Equal(t, RenderASCII(model), out)

	_, err = Render(model, "svg")
	assert.ErrorContains(t, err, "unsupported format")
}
