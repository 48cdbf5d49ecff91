package api

import (
	"context"
)

// ExecutionContext is handed to the condition evaluator and the chain
// executor. Variables holds the graph scope overlaid with the node scope;
// the remaining fields are the fixed engine bindings.
type ExecutionContext struct {
	RouteID      string
	NodeID       string
	NodeState    NodeState
	TransitionID string
	Button       string
	Principal    string
	Count        int
	Documents    []DocumentRef
	Variables    Variables
}

// Bindings flattens the context into a single mapping: the merged
// variables plus the fixed bindings under their reserved names.
func (ec *ExecutionContext) Bindings() Variables {
	out := ec.Variables.Clone()
	out[BindingRouteID] = ec.RouteID
	out[BindingNodeID] = ec.NodeID
	out[BindingNodeState] = string(ec.NodeState)
	out[BindingTransition] = ec.TransitionID
	out[BindingButton] = ec.Button
	out[BindingPrincipal] = ec.Principal
	out[BindingCount] = float64(ec.Count)
	docs := make([]DocumentRef, len(ec.Documents))
	copy(docs, ec.Documents)
	out[BindingDocuments] = docs
	if len(docs) > 0 {
		out[BindingDocument] = docs[0]
	} else {
		out[BindingDocument] = nil
	}
	return out
}

// ConditionEvaluator evaluates transition guards. Implementations must
// return an error wrapping ErrNonBooleanGuard when the expression does not
// produce a boolean. An empty expression is never passed in.
type ConditionEvaluator interface {
	Evaluate(ctx context.Context, expression string, ec *ExecutionContext) (bool, error)
}

// ChainExecutor runs a named chain of business operations and returns the
// updated variable mapping. Only keys already declared in the node or graph
// scope are persisted by the engine.
type ChainExecutor interface {
	Run(ctx context.Context, chainID string, ec *ExecutionContext) (Variables, error)
}

// ConditionFunc adapts a function to ConditionEvaluator.
type ConditionFunc func(ctx context.Context, expression string, ec *ExecutionContext) (bool, error)

func (f ConditionFunc) Evaluate(ctx context.Context, expression string, ec *ExecutionContext) (bool, error) {
	return f(ctx, expression, ec)
}

// ChainFunc adapts a function to ChainExecutor.
type ChainFunc func(ctx context.Context, chainID string, ec *ExecutionContext) (Variables, error)

func (f ChainFunc) Run(ctx context.Context, chainID string, ec *ExecutionContext) (Variables, error) {
	return f(ctx, chainID, ec)
}

type principalKey struct{}

// WithPrincipal attaches the acting principal to ctx. The engine binds it
// into every execution context built while serving the call.
func WithPrincipal(ctx context.Context, principal string) context.Context {
	return context.WithValue(ctx, principalKey{}, principal)
}

// PrincipalFromContext returns the principal attached by WithPrincipal.
func PrincipalFromContext(ctx context.Context) string {
	p, _ := ctx.Value(principalKey{}).(string)
	return p
}
