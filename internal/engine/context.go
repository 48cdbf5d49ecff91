package engine

import (
	"sort"

	"github.com/petrijr/docroute/pkg/api"
)

// buildContext assembles the input handed to the evaluator and the chain
// executor: a copy of the graph scope overlaid by the node scope, plus the
// fixed bindings.
func buildContext(r *api.Route, n *api.Node, transitionID, principal string) *api.ExecutionContext {
	vars := r.Variables.Snapshot()
	for name, v := range n.Variables.Snapshot() {
		vars[name] = v
	}
	return &api.ExecutionContext{
		RouteID:      r.ID,
		NodeID:       n.ID,
		NodeState:    n.State,
		TransitionID: transitionID,
		Button:       n.Button,
		Principal:    principal,
		Count:        n.Count,
		Documents:    append([]api.DocumentRef(nil), r.Documents...),
		Variables:    vars,
	}
}

// writeBack applies updated to the two scopes. A name declared by the node
// goes to the node scope, otherwise to the graph scope if declared there;
// anything else is dropped. Names are applied in sorted order so that a
// coercion failure is reported deterministically.
func writeBack(graph, node *api.VariableScope, updated api.Variables) (graphChanged, nodeChanged bool, err error) {
	names := make([]string, 0, len(updated))
	for name := range updated {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		var target *api.VariableScope
		switch {
		case node.Has(name):
			target = node
		case graph.Has(name):
			target = graph
		default:
			continue
		}
		changed, err := target.Set(name, updated[name])
		if err != nil {
			return graphChanged, nodeChanged, err
		}
		if !changed {
			continue
		}
		if target == node {
			nodeChanged = true
		} else {
			graphChanged = true
		}
	}
	return graphChanged, nodeChanged, nil
}
