package expressions

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnivurse/crm-eco-sub011/pkg/schema"
)

func TestRender_ResolvesNestedPath(t *testing.T) {
	out, err := Render("Hi {{contact.first_name}}", map[string]any{
		"contact": map[string]any{"first_name": "John"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Hi John", out)
}

func TestRender_MissingLeftVerbatim(t *testing.T) {
	out, err := Render("Hi {{contact.missing}}", map[string]any{
		"contact": map[string]any{},
	})
	require.NoError(t, err)
	assert.Equal(t, "Hi {{contact.missing}}", out)
}

func TestRender_WhitespaceTolerant(t *testing.T) {
	out, err := Render("{{  contact.first_name }} / {{contact.first_name}}", map[string]any{
		"contact": map[string]any{"first_name": "Ada"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Ada / Ada", out)
}

func TestRender_ValueTypes(t *testing.T) {
	data := map[string]any{
		"contact": map[string]any{
			"score":   float64(42),
			"ratio":   0.25,
			"count":   7,
			"vip":     true,
			"nothing": nil,
			"address": map[string]any{"city": "Lima", "zip": "15001"},
			"tags":    []any{"a", "b"},
		},
	}
	tests := []struct {
		tpl  string
		want string
	}{
		{"{{contact.score}}", "42"},
		{"{{contact.ratio}}", "0.25"},
		{"{{contact.count}}", "7"},
		{"{{contact.vip}}", "true"},
		{"[{{contact.nothing}}]", "[]"},
		{"{{contact.address.city}}", "Lima"},
		{"{{contact.address}}", `{"city":"Lima","zip":"15001"}`},
		{"{{contact.tags}}", `["a","b"]`},
	}
	for _, tt := range tests {
		t.Run(tt.tpl, func(t *testing.T) {
			out, err := Render(tt.tpl, data)
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestRender_SinglePass(t *testing.T) {
	out, err := Render("{{contact.bio}}", map[string]any{
		"contact": map[string]any{"bio": "I love {{contact.bio}}", "name": "x"},
	})
	require.NoError(t, err)
	assert.Equal(t, "I love {{contact.bio}}", out)
}

func TestRender_PathThroughScalarIsUnresolved(t *testing.T) {
	out, err := Render("{{contact.email.domain}}", map[string]any{
		"contact": map[string]any{"email": "a@b.co"},
	})
	require.NoError(t, err)
	assert.Equal(t, "{{contact.email.domain}}", out)
}

func TestRender_NonPathTokensVerbatim(t *testing.T) {
	for _, tpl := range []string{"{{}}", "{{ a b }}", "{{#if x}}", "{{.x}}", "{{x..y}}", "unclosed {{contact.name"} {
		out, err := Render(tpl, map[string]any{"contact": map[string]any{"name": "n"}, "x": "v"})
		require.NoError(t, err)
		assert.Equal(t, tpl, out)
	}
}

func TestRender_StrayBracesDoNotHideTokens(t *testing.T) {
	data := map[string]any{"contact": map[string]any{"first_name": "John"}}

	tests := []struct {
		name string
		tpl  string
		want string
	}{
		{"unclosed opener before token", "Save {{50% today, {{contact.first_name}}!", "Save {{50% today, John!"},
		{"triple braces", "Hi {{{contact.first_name}}}", "Hi {John}"},
		{"non-path then token", "{{ a b }} {{contact.first_name}}", "{{ a b }} John"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Render(tt.tpl, data)
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestRender_NoTokens(t *testing.T) {
	out, err := Render("plain text", nil)
	require.NoError(t, err)
	assert.Equal(t, "plain text", out)
}

func TestRender_RejectsDeepPath(t *testing.T) {
	path := strings.Repeat("a.", MaxPathDepth) + "a"
	_, err := Render("{{"+path+"}}", map[string]any{})
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeRender))
}

func TestRender_AcceptsMaxDepth(t *testing.T) {
	path := strings.TrimSuffix(strings.Repeat("a.", MaxPathDepth), ".")
	_, err := Render("{{"+path+"}}", map[string]any{})
	require.NoError(t, err)
}

func TestRender_RejectsLongPath(t *testing.T) {
	_, err := Render("{{"+strings.Repeat("x", MaxPathLength+1)+"}}", map[string]any{})
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeRender))
}

func TestResolveAndStringify(t *testing.T) {
	data := map[string]any{"contact": map[string]any{"score": float64(42.5), "tags": []any{"a"}}}

	v, ok := Resolve(data, "contact.score")
	require.True(t, ok)
	s, err := Stringify(v)
	require.NoError(t, err)
	assert.Equal(t, "42.5", s)

	_, ok = Resolve(data, "contact.missing")
	assert.False(t, ok)
	_, ok = Resolve(data, "contact..score")
	assert.False(t, ok)

	s, err = Stringify(nil)
	require.NoError(t, err)
	assert.Equal(t, "", s)
}
