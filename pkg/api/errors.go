package api

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrModelNotFound      = errors.New("route model not found")
	ErrModelAlreadyExists = errors.New("route model already registered")
	ErrRouteNotFound      = errors.New("route not found")
	ErrNodeNotFound       = errors.New("node not found")

	// ErrRouteNotRunning is returned for triggers aimed at routes that are
	// done, canceled or not started yet.
	ErrRouteNotRunning = errors.New("route is not running")

	// ErrNodeNotWaiting is returned when a completion trigger targets a node
	// that is not suspended.
	ErrNodeNotWaiting = errors.New("node is not waiting for completion")

	// ErrNonBooleanGuard must be returned (wrapped) by a ConditionEvaluator
	// when an expression yields anything but a boolean.
	ErrNonBooleanGuard = errors.New("guard did not evaluate to a boolean")
)

// DefinitionError reports a malformed route: an unreachable merge node, a
// non-stop node without any satisfied transition, a non-boolean guard, or a
// model that fails validation. It is never retried.
type DefinitionError struct {
	RouteID      string
	NodeID       string
	TransitionID string
	Reason       string
	Err          error
}

func (e *DefinitionError) Error() string {
	var b strings.Builder
	b.WriteString("route definition error")
	if e.RouteID != "" {
		b.WriteString(" route=" + e.RouteID)
	}
	if e.NodeID != "" {
		b.WriteString(" node=" + e.NodeID)
	}
	if e.TransitionID != "" {
		b.WriteString(" transition=" + e.TransitionID)
	}
	b.WriteString(": " + e.Reason)
	if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

func (e *DefinitionError) Unwrap() error { return e.Err }

// ExecutionError wraps a failure raised by the chain executor or the
// condition evaluator. ChainID or Expression names what failed.
type ExecutionError struct {
	RouteID      string
	NodeID       string
	TransitionID string
	ChainID      string
	Expression   string
	Err          error
}

func (e *ExecutionError) Error() string {
	what := "chain " + e.ChainID
	if e.ChainID == "" {
		what = fmt.Sprintf("expression %q", e.Expression)
	}
	msg := fmt.Sprintf("route %s node %s: %s failed", e.RouteID, e.NodeID, what)
	if e.TransitionID != "" {
		msg += " (transition " + e.TransitionID + ")"
	}
	return msg + ": " + e.Err.Error()
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// ConcurrencyError reports a save conflict surfaced by the store, typically
// two triggers resuming the same node at once.
type ConcurrencyError struct {
	RouteID string
	NodeID  string
	Err     error
}

func (e *ConcurrencyError) Error() string {
	if e.NodeID == "" {
		return fmt.Sprintf("concurrent update of route %s: %v", e.RouteID, e.Err)
	}
	return fmt.Sprintf("concurrent update of route %s node %s: %v", e.RouteID, e.NodeID, e.Err)
}

func (e *ConcurrencyError) Unwrap() error { return e.Err }

// IsDefinitionError reports whether err carries a DefinitionError.
func IsDefinitionError(err error) bool {
	var d *DefinitionError
	return errors.As(err, &d)
}

// IsExecutionError reports whether err carries an ExecutionError.
func IsExecutionError(err error) bool {
	var e *ExecutionError
	return errors.As(err, &e)
}

// IsConcurrencyError reports whether err carries a ConcurrencyError.
func IsConcurrencyError(err error) bool {
	var c *ConcurrencyError
	return errors.As(err, &c)
}
