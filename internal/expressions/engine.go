// Package expressions evaluates condition-node expressions against the
// accumulated execution state.
package expressions

import "context"

// Scope variable names available to every expression:
//
//	input    — the caller-supplied launch payload
//	nodes    — node outputs keyed by node id
//	workflow — run metadata (workflow_id, name, execution_id)
const (
	ScopeInput    = "input"
	ScopeNodes    = "nodes"
	ScopeWorkflow = "workflow"
)

// Engine evaluates an expression against a data scope.
// Three implementations: Expr (default), CEL, and GoJQ.
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// Registry selects an engine by the language tag on a condition node.
type Registry struct {
	engines  map[string]Engine
	fallback Engine
}

// NewRegistry creates a registry with all three engines registered.
// The expr engine is the default for an empty language tag.
func NewRegistry() (*Registry, error) {
	exprEng := NewExprEngine()
	celEng, err := NewCELEngine()
	if err != nil {
		return nil, err
	}
	jqEng := NewGoJQEngine()

	return &Registry{
		engines: map[string]Engine{
			exprEng.Name(): exprEng,
			celEng.Name():  celEng,
			jqEng.Name():   jqEng,
		},
		fallback: exprEng,
	}, nil
}

// ForLanguage returns the engine for the given language tag, or the default
// engine when the tag is empty or unknown. Unknown tags are rejected earlier
// by node config validation; the fallback keeps evaluation total.
func (r *Registry) ForLanguage(lang string) Engine {
	if e, ok := r.engines[lang]; ok {
		return e
	}
	return r.fallback
}
