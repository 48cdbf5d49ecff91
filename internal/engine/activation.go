package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/petrijr/docroute/internal/persistence"
	"github.com/petrijr/docroute/pkg/api"
)

// activation carries the state of one engine call over one route. It is
// not safe for concurrent use; the engine assumes at most one in-flight
// activation per route and relies on store versions to detect violations.
type activation struct {
	e         *engineImpl
	ctx       context.Context
	route     *api.Route
	principal string
	steps     int
}

func (e *engineImpl) newActivation(ctx context.Context, r *api.Route) *activation {
	return &activation{
		e:         e,
		ctx:       ctx,
		route:     r,
		principal: api.PrincipalFromContext(ctx),
	}
}

// start moves a ready route to running and enters it.
func (a *activation) start() error {
	r := a.route
	if r.State != api.RouteReady {
		return fmt.Errorf("%w: route %s is %s", api.ErrRouteNotRunning, r.ID, r.State)
	}
	r.State = api.RouteRunning
	r.Err = nil
	if err := a.saveRoute(); err != nil {
		return err
	}
	a.e.observer.OnRouteStart(a.ctx, r)
	if err := a.record(api.RouteEvent{Type: api.EventRouteStarted}); err != nil {
		return err
	}

	if r.Kind == api.KindSerial {
		_, err := a.serialRunner().Run(a.ctx)
		return err
	}
	for _, n := range r.StartNodes() {
		if n.State != api.NodeReady {
			continue
		}
		if _, err := a.runNode(n); err != nil {
			return err
		}
	}
	return nil
}

// resume re-enters every running or suspended node of a running route and
// follows transitions a failed activation chose but did not complete.
// Suspended nodes without a recorded completion stay suspended.
func (a *activation) resume() error {
	if a.route.Kind == api.KindSerial {
		_, err := a.serialRunner().Run(a.ctx)
		return err
	}
	for _, n := range a.route.Nodes {
		if !interrupted(n) {
			continue
		}
		if _, err := a.runNode(n); err != nil {
			return err
		}
	}
	return nil
}

// interrupted reports whether n still has work left from an earlier
// activation.
func interrupted(n *api.Node) bool {
	switch n.State {
	case api.NodeRunning, api.NodeSuspended:
		return true
	case api.NodeDone:
		return n.HasPending()
	default:
		return false
	}
}

// runSingle enters one node. Serial routes always go through their runner
// so that strict ordering holds.
func (a *activation) runSingle(n *api.Node) error {
	if a.route.Kind == api.KindSerial {
		_, err := a.serialRunner().Run(a.ctx)
		return err
	}
	_, err := a.runNode(n)
	return err
}

func (a *activation) serialRunner() *StepRunner {
	steps := make([]Runnable, len(a.route.Nodes))
	for i, n := range a.route.Nodes {
		steps[i] = &nodeStep{a: a, n: n}
	}
	return &StepRunner{Steps: steps}
}

// nodeStep adapts a node to the Runnable contract.
type nodeStep struct {
	a *activation
	n *api.Node
}

func (s *nodeStep) Run(ctx context.Context) (bool, error) { return s.a.runNode(s.n) }
func (s *nodeStep) IsDone() bool                          { return s.n.State == api.NodeDone }

// runNode is the node contract: it returns true when the node waits for an
// external completion. Re-running a waiting node without a completion
// returns true again and executes nothing.
func (a *activation) runNode(n *api.Node) (bool, error) {
	if err := a.ctx.Err(); err != nil {
		return false, err
	}
	began := a.e.clock()

	switch n.State {
	case api.NodeCanceled:
		return false, fmt.Errorf("%w: node %s is canceled", api.ErrRouteNotRunning, n.ID)

	case api.NodeSuspended:
		if !n.TaskCompleted {
			return true, nil
		}
		if err := a.setState(n, api.NodeRunning); err != nil {
			return false, a.nodeFailed(n, err, began)
		}

	case api.NodeRunning:
		// Entered by an arriving edge, or left running by an interrupted
		// activation.

	case api.NodeDone:
		if n.HasPending() {
			return false, a.followPending(n)
		}
		if err := a.activate(n); err != nil {
			return false, a.nodeFailed(n, err, began)
		}

	case api.NodeMerged:
		if !n.JoinComplete() {
			return false, nil
		}
		fallthrough

	default:
		if err := a.activate(n); err != nil {
			return false, a.nodeFailed(n, err, began)
		}
	}

	if !n.InputDone {
		if err := a.runInput(n); err != nil {
			return false, a.nodeFailed(n, err, began)
		}
	}
	if n.Waits() && !n.TaskCompleted {
		return a.suspend(n)
	}

	if err := a.complete(n, began); err != nil {
		return false, a.nodeFailed(n, err, began)
	}
	return false, a.followPending(n)
}

// activate starts a new activation of n: running, counter incremented,
// completion cleared. The input chain runs separately so that a node
// interrupted before it succeeded runs it again on re-entry.
func (a *activation) activate(n *api.Node) error {
	a.steps++
	if a.steps > a.e.maxActivations {
		return &api.DefinitionError{
			RouteID: a.route.ID,
			NodeID:  n.ID,
			Reason:  fmt.Sprintf("more than %d node activations in one call", a.e.maxActivations),
		}
	}

	if n.State == api.NodeDone {
		if err := n.SetState(api.NodeReady); err != nil {
			return err
		}
	}
	if err := n.SetState(api.NodeRunning); err != nil {
		return err
	}
	n.Count++
	n.TaskCompleted = false
	n.Button = ""
	n.Fired = nil
	n.Pending = nil
	n.InputDone = n.InputChain == ""
	for i := range n.Transitions {
		n.Transitions[i].Evaluated = false
		n.Transitions[i].Result = false
	}
	if err := a.saveNode(n); err != nil {
		return err
	}

	a.e.observer.OnNodeStart(a.ctx, a.route, n)
	return a.record(api.RouteEvent{Type: api.EventNodeStarted, NodeID: n.ID, Detail: "count=" + strconv.Itoa(n.Count)})
}

func (a *activation) runInput(n *api.Node) error {
	if n.InputChain != "" {
		if err := a.runChain(n, n.InputChain, ""); err != nil {
			return err
		}
	}
	n.InputDone = true
	return a.saveNode(n)
}

func (a *activation) suspend(n *api.Node) (bool, error) {
	if err := a.setState(n, api.NodeSuspended); err != nil {
		return false, err
	}
	a.e.observer.OnNodeSuspended(a.ctx, a.route, n)
	if err := a.record(api.RouteEvent{Type: api.EventNodeSuspended, NodeID: n.ID}); err != nil {
		return false, err
	}
	return true, nil
}

// recordCompletion stores the outcome of a suspended node's task.
func (a *activation) recordCompletion(n *api.Node, result api.TaskResult) error {
	graphChanged, _, err := writeBack(&a.route.Variables, &n.Variables, result.Variables)
	if err != nil {
		return fmt.Errorf("task result for node %s: %w", n.ID, err)
	}
	n.Button = result.Button
	n.TaskCompleted = true
	if err := a.saveNode(n); err != nil {
		return err
	}
	if graphChanged {
		if err := a.saveRoute(); err != nil {
			return err
		}
	}

	detail := "button=" + result.Button
	if result.Actor != "" {
		detail += " actor=" + result.Actor
	}
	return a.record(api.RouteEvent{Type: api.EventTaskCompleted, NodeID: n.ID, Detail: detail})
}

// complete runs the output chain, evaluates the transitions and marks the
// node done. The transitions to fire are saved with the node as Pending so
// that they survive a failure before they reach their targets.
func (a *activation) complete(n *api.Node, began time.Time) error {
	if n.OutputChain != "" {
		if err := a.runChain(n, n.OutputChain, ""); err != nil {
			return err
		}
	}

	var pending []string
	if a.route.Kind == api.KindGraph && !n.Stop {
		satisfied, err := a.evaluateTransitions(n)
		if err != nil {
			return err
		}
		if len(satisfied) == 0 {
			return &api.DefinitionError{
				RouteID: a.route.ID,
				NodeID:  n.ID,
				Reason:  "no outgoing transition is satisfied",
			}
		}
		if !n.FanOut {
			satisfied = satisfied[:1]
		}
		for _, i := range satisfied {
			pending = append(pending, n.Transitions[i].ID)
		}
	}

	if err := n.SetState(api.NodeDone); err != nil {
		return err
	}
	n.Pending = pending
	if err := a.saveNode(n); err != nil {
		return err
	}
	a.e.observer.OnNodeCompleted(a.ctx, a.route, n, nil, a.e.clock().Sub(began))
	return a.record(api.RouteEvent{Type: api.EventNodeCompleted, NodeID: n.ID})
}

// evaluateTransitions evaluates every guard in declared order, records the
// results and returns the indexes of the satisfied transitions.
func (a *activation) evaluateTransitions(n *api.Node) ([]int, error) {
	var satisfied []int
	for i := range n.Transitions {
		t := &n.Transitions[i]
		ok := true
		if strings.TrimSpace(t.Condition) != "" {
			ec := buildContext(a.route, n, t.ID, a.principal)
			res, err := a.e.evaluator.Evaluate(a.ctx, t.Condition, ec)
			if err != nil {
				if errors.Is(err, api.ErrNonBooleanGuard) {
					return nil, &api.DefinitionError{
						RouteID:      a.route.ID,
						NodeID:       n.ID,
						TransitionID: t.ID,
						Reason:       fmt.Sprintf("guard %q is not boolean", t.Condition),
						Err:          err,
					}
				}
				return nil, &api.ExecutionError{
					RouteID:      a.route.ID,
					NodeID:       n.ID,
					TransitionID: t.ID,
					Expression:   t.Condition,
					Err:          err,
				}
			}
			ok = res
		}
		t.Evaluated = true
		t.Result = ok
		if err := a.record(api.RouteEvent{
			Type:         api.EventTransitionEvaluated,
			NodeID:       n.ID,
			TransitionID: t.ID,
			Detail:       strconv.FormatBool(ok),
		}); err != nil {
			return nil, err
		}
		if ok {
			satisfied = append(satisfied, i)
		}
	}
	return satisfied, nil
}

// followPending fires the pending transitions of a done node in declared
// order, depth first.
func (a *activation) followPending(n *api.Node) error {
	for n.State == api.NodeDone && n.HasPending() {
		t, ok := n.Transition(n.Pending[0])
		if !ok {
			return &api.DefinitionError{
				RouteID:      a.route.ID,
				NodeID:       n.ID,
				TransitionID: n.Pending[0],
				Reason:       "pending transition is not declared",
			}
		}
		target, err := a.traverse(n, t)
		if err != nil {
			return err
		}
		if target == nil {
			continue
		}
		if _, err := a.runNode(target); err != nil {
			return err
		}
	}
	return nil
}

// traverse fires one transition out of from: its chain runs, the edge
// arrives at the target and only then is it dropped from the pending list.
// It returns the target when it is ready to run.
func (a *activation) traverse(from *api.Node, t api.Transition) (*api.Node, error) {
	if t.Chain != "" {
		if err := a.runChain(from, t.Chain, t.ID); err != nil {
			return nil, err
		}
	}

	target, ok := a.route.Node(t.Target)
	if !ok {
		return nil, &api.DefinitionError{
			RouteID:      a.route.ID,
			NodeID:       from.ID,
			TransitionID: t.ID,
			Reason:       fmt.Sprintf("unknown target node %q", t.Target),
		}
	}

	if err := a.record(api.RouteEvent{
		Type:         api.EventTransitionTaken,
		NodeID:       from.ID,
		TransitionID: t.ID,
		Detail:       t.Target,
	}); err != nil {
		return nil, err
	}

	// A loop back to from re-activates it, which clears its pending list
	// together with any edges still queued behind this one.
	rest := append([]string(nil), from.Pending[1:]...)
	from.Pending = rest
	run, err := a.arrive(target, api.EdgeKey(from.ID, t.ID))
	if err != nil {
		return nil, err
	}
	if target != from {
		if err := a.saveNode(from); err != nil {
			return nil, err
		}
	} else if len(rest) > 0 {
		a.e.logger.WarnContext(a.ctx, "pending_transitions_dropped",
			slog.String("route_id", a.route.ID),
			slog.String("node", from.ID),
			slog.Any("transitions", rest),
		)
	}

	if !run {
		return nil, nil
	}
	return target, nil
}

// arrive applies an arriving edge to target and persists the result.
// Merge nodes collect edges until every declared incoming edge has fired;
// other nodes are activated at once. It reports whether target should run
// now.
func (a *activation) arrive(target *api.Node, edge string) (bool, error) {
	switch target.State {
	case api.NodeRunning, api.NodeSuspended:
		// Already part of the current activation.
		return false, nil
	case api.NodeCanceled:
		return false, fmt.Errorf("%w: node %s is canceled", api.ErrRouteNotRunning, target.ID)
	}

	if target.Merge {
		if target.State == api.NodeDone {
			if err := target.SetState(api.NodeReady); err != nil {
				return false, err
			}
			target.Fired = nil
		}
		if !target.HasFired(edge) {
			target.Fired = append(target.Fired, edge)
		}
		if !target.JoinComplete() {
			if err := target.SetState(api.NodeMerged); err != nil {
				return false, err
			}
			return false, a.saveNode(target)
		}
	}

	if err := a.activate(target); err != nil {
		return false, err
	}
	return true, nil
}

// runChain executes chainID with the node's context and writes the result
// back into the declared scopes.
func (a *activation) runChain(n *api.Node, chainID, transitionID string) error {
	ec := buildContext(a.route, n, transitionID, a.principal)
	out, err := a.e.chains.Run(a.ctx, chainID, ec)
	if err != nil {
		return &api.ExecutionError{
			RouteID:      a.route.ID,
			NodeID:       n.ID,
			TransitionID: transitionID,
			ChainID:      chainID,
			Err:          err,
		}
	}

	graphChanged, nodeChanged, err := writeBack(&a.route.Variables, &n.Variables, out)
	if err != nil {
		return &api.ExecutionError{
			RouteID:      a.route.ID,
			NodeID:       n.ID,
			TransitionID: transitionID,
			ChainID:      chainID,
			Err:          err,
		}
	}
	if nodeChanged {
		if err := a.saveNode(n); err != nil {
			return err
		}
	}
	if graphChanged {
		if err := a.saveRoute(); err != nil {
			return err
		}
	}
	return nil
}

// settle marks the route done once nothing is running or waiting. A merge
// node still collecting edges at that point can never fire.
func (a *activation) settle() error {
	r := a.route
	if r.State != api.RouteRunning {
		return nil
	}
	if r.HasActiveNodes() {
		if r.Err != nil {
			r.Err = nil
			return a.saveRoute()
		}
		return nil
	}
	if pending := r.NodesIn(api.NodeMerged); len(pending) > 0 {
		return &api.DefinitionError{
			RouteID: r.ID,
			NodeID:  pending[0].ID,
			Reason:  fmt.Sprintf("merge node is unreachable: %d of %d incoming transitions fired", len(pending[0].Fired), len(pending[0].Incoming)),
		}
	}

	r.State = api.RouteDone
	r.Err = nil
	if err := a.saveRoute(); err != nil {
		return err
	}
	a.e.observer.OnRouteDone(a.ctx, r)
	return a.record(api.RouteEvent{Type: api.EventRouteDone})
}

// fail records err on the route. The route keeps its last persisted state.
// A failure to save the error is logged and does not replace err.
func (a *activation) fail(err error) {
	r := a.route
	a.e.observer.OnRouteFailed(a.ctx, r, err)
	if api.IsConcurrencyError(err) {
		return
	}
	r.Err = err
	if saveErr := a.saveRoute(); saveErr != nil {
		a.e.logger.ErrorContext(a.ctx, "route_error_not_saved",
			slog.String("route_id", r.ID),
			slog.Any("error", err),
			slog.Any("save_error", saveErr),
		)
	}
}

func (a *activation) nodeFailed(n *api.Node, err error, began time.Time) error {
	a.e.observer.OnNodeCompleted(a.ctx, a.route, n, err, a.e.clock().Sub(began))
	ev := api.RouteEvent{Type: api.EventNodeFailed, NodeID: n.ID, Detail: err.Error()}
	if recErr := a.record(ev); recErr != nil {
		a.e.logger.ErrorContext(a.ctx, "route_event_not_recorded",
			slog.String("route_id", a.route.ID),
			slog.String("node", n.ID),
			slog.String("event", string(ev.Type)),
			slog.Any("error", err),
			slog.Any("record_error", recErr),
		)
	}
	return err
}

func (a *activation) setState(n *api.Node, to api.NodeState) error {
	if err := n.SetState(to); err != nil {
		return err
	}
	return a.saveNode(n)
}

func (a *activation) saveNode(n *api.Node) error {
	if err := a.e.routes.SaveNode(a.ctx, a.route.ID, n); err != nil {
		return a.storeError(n.ID, err)
	}
	return nil
}

func (a *activation) saveRoute() error {
	a.route.UpdatedAt = a.e.clock()
	if err := a.e.routes.SaveRoute(a.ctx, a.route); err != nil {
		return a.storeError("", err)
	}
	return nil
}

func (a *activation) storeError(nodeID string, err error) error {
	if errors.Is(err, persistence.ErrConflict) {
		return &api.ConcurrencyError{RouteID: a.route.ID, NodeID: nodeID, Err: err}
	}
	if nodeID != "" {
		return fmt.Errorf("save node %s of route %s: %w", nodeID, a.route.ID, err)
	}
	return fmt.Errorf("save route %s: %w", a.route.ID, err)
}

func (a *activation) record(ev api.RouteEvent) error {
	ev.RouteID = a.route.ID
	ev.ModelID = a.route.ModelID
	if ev.At.IsZero() {
		ev.At = a.e.clock()
	}
	return a.e.events.AppendEvent(a.ctx, ev)
}
