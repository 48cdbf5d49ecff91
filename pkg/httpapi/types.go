package httpapi

import (
	"errors"
	"time"

	"github.com/petrijr/docroute/pkg/api"
)

var ErrInvalidJSON = errors.New("invalid JSON body")

// ErrorResponse is returned for every failed request. RouteID is set when
// the failure happened while driving an existing route.
type ErrorResponse struct {
	Error   string `json:"error"`
	Status  int    `json:"status"`
	RouteID string `json:"routeId,omitempty"`
}

type HealthResponse struct {
	Status string `json:"status"`
}

// StartRouteRequest creates a route from a registered model. With Run set
// to false the route is only created and stays ready.
type StartRouteRequest struct {
	ModelID   string            `json:"modelId" binding:"required"`
	Documents []api.DocumentRef `json:"documents"`
	Run       *bool             `json:"run"`
}

// CompleteTaskRequest is the body of a task completion.
type CompleteTaskRequest struct {
	Button    string        `json:"button"`
	Variables api.Variables `json:"variables"`
	Actor     string        `json:"actor"`
	Comment   string        `json:"comment"`
}

type TransitionResponse struct {
	ID        string `json:"id"`
	Target    string `json:"target"`
	Condition string `json:"condition,omitempty"`
	Evaluated bool   `json:"evaluated"`
	Result    bool   `json:"result"`
}

type NodeResponse struct {
	ID            string               `json:"id"`
	Title         string               `json:"title,omitempty"`
	State         api.NodeState        `json:"state"`
	Count         int                  `json:"count"`
	TaskCompleted bool                 `json:"taskCompleted"`
	Button        string               `json:"button,omitempty"`
	Variables     api.Variables        `json:"variables"`
	Transitions   []TransitionResponse `json:"transitions,omitempty"`
}

type RouteResponse struct {
	ID        string            `json:"id"`
	ModelID   string            `json:"modelId"`
	Name      string            `json:"name,omitempty"`
	Kind      api.RouteKind     `json:"kind"`
	State     api.RouteState    `json:"state"`
	Variables api.Variables     `json:"variables"`
	Documents []api.DocumentRef `json:"documents"`
	Nodes     []NodeResponse    `json:"nodes"`
	Error     string            `json:"error,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

type RoutesListResponse struct {
	Routes []RouteResponse `json:"routes"`
	Count  int             `json:"count"`
}

type EventResponse struct {
	Type         api.EventType `json:"type"`
	NodeID       string        `json:"nodeId,omitempty"`
	TransitionID string        `json:"transitionId,omitempty"`
	Detail       string        `json:"detail,omitempty"`
	At           time.Time     `json:"at"`
}

type EventsResponse struct {
	RouteID string          `json:"routeId"`
	Events  []EventResponse `json:"events"`
}

func newRouteResponse(r *api.Route) RouteResponse {
	out := RouteResponse{
		ID:        r.ID,
		ModelID:   r.ModelID,
		Name:      r.Name,
		Kind:      r.Kind,
		State:     r.State,
		Variables: r.Variables.Snapshot(),
		Documents: append([]api.DocumentRef{}, r.Documents...),
		Nodes:     make([]NodeResponse, 0, len(r.Nodes)),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}
	for _, n := range r.Nodes {
		nr := NodeResponse{
			ID:            n.ID,
			Title:         n.Title,
			State:         n.State,
			Count:         n.Count,
			TaskCompleted: n.TaskCompleted,
			Button:        n.Button,
			Variables:     n.Variables.Snapshot(),
		}
		for _, t := range n.Transitions {
			nr.Transitions = append(nr.Transitions, TransitionResponse{
				ID:        t.ID,
				Target:    t.Target,
				Condition: t.Condition,
				Evaluated: t.Evaluated,
				Result:    t.Result,
			})
		}
		out.Nodes = append(out.Nodes, nr)
	}
	return out
}
