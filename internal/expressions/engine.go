package expressions

import (
	"context"

	"github.com/omnivurse/crm-eco-sub011/pkg/schema"
)

// Engine evaluates condition expressions against an enrollment's data.
// Three implementations: CEL (default), Expr, and GoJQ.
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// DefaultEngine is used when a condition names no engine.
const DefaultEngine = "cel"

// Registry looks engines up by name.
type Registry struct {
	engines map[string]Engine
}

// NewRegistry builds a registry holding the CEL, Expr, and GoJQ engines.
func NewRegistry() (*Registry, error) {
	celEngine, err := NewCELEngine()
	if err != nil {
		return nil, err
	}
	r := &Registry{engines: make(map[string]Engine, 3)}
	r.Register(celEngine)
	r.Register(NewExprEngine())
	r.Register(NewGoJQEngine())
	return r, nil
}

// Register adds or replaces an engine under its own name.
func (r *Registry) Register(e Engine) {
	r.engines[e.Name()] = e
}

// Get returns the named engine. An empty name selects DefaultEngine.
func (r *Registry) Get(name string) (Engine, error) {
	if name == "" {
		name = DefaultEngine
	}
	e, ok := r.engines[name]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeCondition, "unknown expression engine %q", name)
	}
	return e, nil
}

// EvaluateBool evaluates expression with the named engine and requires a boolean result.
func (r *Registry) EvaluateBool(ctx context.Context, engine, expression string, data map[string]any) (bool, error) {
	e, err := r.Get(engine)
	if err != nil {
		return false, err
	}
	out, err := e.Evaluate(ctx, expression, data)
	if err != nil {
		return false, err
	}
	b, ok := out.(bool)
	if !ok {
		return false, schema.NewErrorf(schema.ErrCodeCondition,
			"%s expression %q returned %T, want bool", e.Name(), expression, out)
	}
	return b, nil
}
