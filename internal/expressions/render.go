package expressions

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/omnivurse/crm-eco-sub011/pkg/schema"
)

// Merge-field path bounds.
const (
	MaxPathDepth  = 8
	MaxPathLength = 256
)

// Render substitutes {{ path.to.field }} tokens in template with values from data.
//
// Paths are dot-delimited and resolved by sequential map lookup. Tokens whose
// path does not resolve are written back verbatim. When the text between a
// "{{" and the next "}}" is not a path, only the first brace is emitted and
// scanning resumes at the second, so "{{{name}}}" renders as "{value}".
// Substituted values are never rescanned. A path longer than
// MaxPathLength bytes or deeper than MaxPathDepth segments is an error.
func Render(template string, data map[string]any) (string, error) {
	if !strings.Contains(template, "{{") {
		return template, nil
	}

	var out strings.Builder
	out.Grow(len(template))

	i := 0
	for i < len(template) {
		idx := strings.Index(template[i:], "{{")
		if idx == -1 {
			out.WriteString(template[i:])
			break
		}
		out.WriteString(template[i : i+idx])
		start := i + idx + 2

		end := strings.Index(template[start:], "}}")
		if end == -1 {
			out.WriteString(template[i+idx:])
			break
		}
		end += start
		path := strings.TrimSpace(template[start:end])
		if !isPath(path) {
			out.WriteByte('{')
			i = start - 1
			continue
		}
		token := template[i+idx : end+2]
		i = end + 2

		if len(path) > MaxPathLength {
			return "", schema.NewErrorf(schema.ErrCodeRender,
				"merge field path exceeds %d bytes", MaxPathLength).
				WithDetails(map[string]any{"length": len(path)})
		}
		segments := strings.Split(path, ".")
		if len(segments) > MaxPathDepth {
			return "", schema.NewErrorf(schema.ErrCodeRender,
				"merge field %q exceeds depth %d", path, MaxPathDepth)
		}

		val, ok := lookup(data, segments)
		if !ok {
			out.WriteString(token)
			continue
		}
		s, err := stringify(val)
		if err != nil {
			return "", schema.NewErrorf(schema.ErrCodeRender, "merge field %q: %s", path, err.Error()).WithCause(err)
		}
		out.WriteString(s)
	}

	return out.String(), nil
}

// isPath reports whether s looks like a dotted identifier path.
func isPath(s string) bool {
	if s == "" || s[0] == '.' || s[len(s)-1] == '.' || strings.Contains(s, "..") {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '_', r == '-', r == '.':
		default:
			return false
		}
	}
	return true
}

// Resolve looks up a dotted path in data.
func Resolve(data map[string]any, path string) (any, bool) {
	if !isPath(path) {
		return nil, false
	}
	return lookup(data, strings.Split(path, "."))
}

// Stringify formats v the way Render substitutes it.
func Stringify(v any) (string, error) {
	return stringify(v)
}

func lookup(data map[string]any, segments []string) (any, bool) {
	var cur any = data
	for _, seg := range segments {
		switch m := cur.(type) {
		case map[string]any:
			v, ok := m[seg]
			if !ok {
				return nil, false
			}
			cur = v
		case map[string]string:
			v, ok := m[seg]
			if !ok {
				return nil, false
			}
			cur = v
		default:
			return nil, false
		}
	}
	return cur, true
}

func stringify(v any) (string, error) {
	switch val := v.(type) {
	case nil:
		return "", nil
	case string:
		return val, nil
	case bool:
		return strconv.FormatBool(val), nil
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), nil
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32), nil
	case int:
		return strconv.Itoa(val), nil
	case int64:
		return strconv.FormatInt(val, 10), nil
	case json.Number:
		return val.String(), nil
	case map[string]any, []any, map[string]string, []string:
		b, err := json.Marshal(val)
		if err != nil {
			return "", err
		}
		return string(b), nil
	default:
		return fmt.Sprint(val), nil
	}
}
