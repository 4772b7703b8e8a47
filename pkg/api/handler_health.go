package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/jarvislabs/jarvisd/pkg/database"
	"github.com/jarvislabs/jarvisd/pkg/version"
)

// healthHandler handles GET /health — liveness, no dependencies checked.
func (s *Server) healthHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":  "healthy",
		"version": version.Full(),
	})
}

// readyHandler handles GET /ready — readiness: database reachable and the
// dispatcher loop alive.
func (s *Server) readyHandler(c *echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	dbHealth, err := database.Health(ctx, s.router.Default().DB.DB())
	dispatch := s.dispatcher.Health()

	body := map[string]any{
		"database":   dbHealth,
		"dispatcher": dispatch,
		"version":    version.Full(),
	}
	if err != nil || !dispatch.Running {
		body["status"] = "unready"
		return c.JSON(http.StatusServiceUnavailable, body)
	}
	body["status"] = "ready"
	return c.JSON(http.StatusOK, body)
}
