package httpapi

import (
	"errors"
	"log/slog"
	"net/http"

	glog "github.com/gin-contrib/slog"
	"github.com/gin-gonic/gin"

	"github.com/petrijr/docroute/pkg/api"
)

// PrincipalHeader carries the acting principal. It is bound as the
// principal of every execution context built while serving the request.
const PrincipalHeader = "X-Principal"

// Config controls how the HTTP surface is built.
type Config struct {
	// Logger receives access logs. Nil means slog.Default().
	Logger *slog.Logger
}

// Server exposes an api.Engine over HTTP.
type Server struct {
	engine api.Engine
	logger *slog.Logger
}

// NewServer creates a new HTTP API server for eng.
func NewServer(eng api.Engine, cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		engine: eng,
		logger: logger,
	}
}

// SetupRoutes configures and returns the HTTP router with all API endpoints
func (s *Server) SetupRoutes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(glog.SetLogger(
		glog.WithLogger(func(c *gin.Context, l *slog.Logger) *slog.Logger {
			return s.logger
		}),
	))
	router.Use(principalMiddleware)

	router.GET("/health", s.handleHealth)

	router.POST("/models", s.registerModel)

	routes := router.Group("/routes")
	{
		routes.GET("", s.listRoutes)
		routes.POST("", s.startRoute)
		routes.GET("/:routeID", s.getRoute)
		routes.GET("/:routeID/state", s.getState)
		routes.GET("/:routeID/events", s.getHistory)
		routes.POST("/:routeID/run", s.runRoute)
		routes.POST("/:routeID/cancel", s.cancelRoute)
		routes.POST("/:routeID/nodes/:nodeID/run", s.runNode)
		routes.POST("/:routeID/nodes/:nodeID/complete", s.completeTask)
	}

	return router
}

func principalMiddleware(c *gin.Context) {
	if p := c.GetHeader(PrincipalHeader); p != "" {
		c.Request = c.Request.WithContext(api.WithPrincipal(c.Request.Context(), p))
	}
	c.Next()
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// statusFor maps engine errors to HTTP status codes. Typed errors are
// checked before sentinels because chain failures may wrap coercion
// errors.
func statusFor(err error) int {
	switch {
	case api.IsConcurrencyError(err):
		return http.StatusConflict
	case api.IsDefinitionError(err):
		return http.StatusUnprocessableEntity
	case api.IsExecutionError(err):
		return http.StatusInternalServerError
	case errors.Is(err, api.ErrModelNotFound),
		errors.Is(err, api.ErrRouteNotFound),
		errors.Is(err, api.ErrNodeNotFound):
		return http.StatusNotFound
	case errors.Is(err, api.ErrModelAlreadyExists),
		errors.Is(err, api.ErrRouteNotRunning),
		errors.Is(err, api.ErrNodeNotWaiting):
		return http.StatusConflict
	case errors.Is(err, api.ErrValueKindMismatch),
		errors.Is(err, api.ErrUndeclaredVariable),
		errors.Is(err, api.ErrUnknownKind):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(c *gin.Context, err error, routeID string) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.ErrorContext(c.Request.Context(), "request_failed",
			slog.String("path", c.FullPath()),
			slog.String("route_id", routeID),
			slog.Any("error", err),
		)
	}
	c.JSON(status, ErrorResponse{
		Error:   err.Error(),
		Status:  status,
		RouteID: routeID,
	})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Error:  ErrInvalidJSON.Error() + ": " + err.Error(),
		Status: http.StatusBadRequest,
	})
}
