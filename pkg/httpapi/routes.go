package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/petrijr/docroute/pkg/api"
)

func (s *Server) registerModel(c *gin.Context) {
	var model api.RouteModel
	if err := c.ShouldBindJSON(&model); err != nil {
		badRequest(c, err)
		return
	}
	if err := s.engine.RegisterModel(model); err != nil {
		s.fail(c, err, "")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"modelId": model.ID})
}

func (s *Server) listRoutes(c *gin.Context) {
	routes, err := s.engine.ListRoutes(c.Request.Context(), api.RouteListOptions{
		ModelID: c.Query("model"),
		State:   api.RouteState(c.Query("state")),
	})
	if err != nil {
		s.fail(c, err, "")
		return
	}

	out := RoutesListResponse{
		Routes: make([]RouteResponse, 0, len(routes)),
		Count:  len(routes),
	}
	for _, r := range routes {
		out.Routes = append(out.Routes, newRouteResponse(r))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) startRoute(c *gin.Context) {
	var req StartRouteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	ctx := c.Request.Context()
	var (
		r   *api.Route
		err error
	)
	if req.Run != nil && !*req.Run {
		r, err = s.engine.CreateInstance(ctx, req.ModelID, req.Documents)
	} else {
		r, err = s.engine.Start(ctx, req.ModelID, req.Documents)
	}
	s.respond(c, http.StatusCreated, r, err)
}

func (s *Server) getRoute(c *gin.Context) {
	r, err := s.engine.GetRoute(c.Request.Context(), c.Param("routeID"))
	s.respond(c, http.StatusOK, r, err)
}

func (s *Server) getState(c *gin.Context) {
	routeID := c.Param("routeID")
	snap, err := s.engine.GetState(c.Request.Context(), routeID)
	if err != nil {
		s.fail(c, err, routeID)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) getHistory(c *gin.Context) {
	routeID := c.Param("routeID")
	ctx := c.Request.Context()

	// History of an unknown route is empty; report it as missing instead.
	if _, err := s.engine.GetRoute(ctx, routeID); err != nil {
		s.fail(c, err, routeID)
		return
	}
	events, err := s.engine.History(ctx, routeID)
	if err != nil {
		s.fail(c, err, routeID)
		return
	}

	out := EventsResponse{
		RouteID: routeID,
		Events:  make([]EventResponse, 0, len(events)),
	}
	for _, ev := range events {
		out.Events = append(out.Events, EventResponse{
			Type:         ev.Type,
			NodeID:       ev.NodeID,
			TransitionID: ev.TransitionID,
			Detail:       ev.Detail,
			At:           ev.At,
		})
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) runRoute(c *gin.Context) {
	r, err := s.engine.Run(c.Request.Context(), c.Param("routeID"))
	s.respond(c, http.StatusOK, r, err)
}

func (s *Server) runNode(c *gin.Context) {
	r, err := s.engine.RunNode(c.Request.Context(), c.Param("routeID"), c.Param("nodeID"))
	s.respond(c, http.StatusOK, r, err)
}

func (s *Server) completeTask(c *gin.Context) {
	var req CompleteTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	actor := req.Actor
	if actor == "" {
		actor = api.PrincipalFromContext(c.Request.Context())
	}
	r, err := s.engine.CompleteTask(c.Request.Context(), c.Param("routeID"), c.Param("nodeID"), api.TaskResult{
		Button:    req.Button,
		Variables: req.Variables,
		Actor:     actor,
		Comment:   req.Comment,
	})
	s.respond(c, http.StatusOK, r, err)
}

func (s *Server) cancelRoute(c *gin.Context) {
	r, err := s.engine.Cancel(c.Request.Context(), c.Param("routeID"))
	s.respond(c, http.StatusOK, r, err)
}

// respond writes r with status, or the error mapped to its status code.
func (s *Server) respond(c *gin.Context, status int, r *api.Route, err error) {
	if err != nil {
		routeID := c.Param("routeID")
		if r != nil {
			routeID = r.ID
		}
		s.fail(c, err, routeID)
		return
	}
	c.JSON(status, newRouteResponse(r))
}
