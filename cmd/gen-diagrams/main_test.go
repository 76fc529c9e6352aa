package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate_ExampleSequences(t *testing.T) {
	out := t.TempDir()

	n, err := generate(filepath.Join("..", "..", "examples", "sequences"), out)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	md, err := os.ReadFile(filepath.Join(out, "trial-nurture.md"))
	require.NoError(t, err)
	assert.Contains(t, string(md), "```mermaid\ngraph TD")
	assert.Contains(t, string(md), "step_3 -.->|then| step_5")

	txt, err := os.ReadFile(filepath.Join(out, "win-back.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(txt), "=== Win-back ===")
	assert.Contains(t, string(txt), "1. If status not equals churned")
	assert.Contains(t, string(txt), "after 7d 12h")
}

func TestGenerate_InvalidDefinition(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "bad.yaml"), []byte("name: Bad\norganization_id: org\nsteps:\n  - step_order: 1\n    step_type: email\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "notes.txt"), []byte("ignored"), 0o644))

	n, err := generate(src, t.TempDir())
	assert.Error(t, err)
	assert.Zero(t, n)
}
