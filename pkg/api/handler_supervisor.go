package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/jarvislabs/jarvisd/pkg/services"
)

// dispatchHandler handles POST /supervisor. The task is accepted, a run is
// created, and execution continues in the background; the response always
// says "running" and points at the stream.
func (s *Server) dispatchHandler(c *echo.Context) error {
	var req dispatchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Task == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "task is required")
	}

	ws := workspaceFrom(c)
	user, err := s.currentUser(c)
	if err != nil {
		return mapServiceError(err)
	}

	idemKey := c.Request().Header.Get("Idempotency-Key")
	if cached, ok := s.idem.Get(ws.Schema, user.ID, idemKey); ok {
		return c.JSON(http.StatusOK, cached)
	}

	result, err := ws.Supervisor.Dispatch(c.Request().Context(), user, req.Task)
	if err != nil {
		return mapServiceError(err)
	}

	s.idem.Put(ws.Schema, user.ID, idemKey, result)
	return c.JSON(http.StatusOK, result)
}

// cancelHandler handles POST /supervisor/:id/cancel.
func (s *Server) cancelHandler(c *echo.Context) error {
	runID := c.Param("id")
	if runID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "run id is required")
	}

	ws := workspaceFrom(c)
	user, err := s.currentUser(c)
	if err != nil {
		return mapServiceError(err)
	}

	result, err := ws.Supervisor.Cancel(c.Request().Context(), runID, user.ID, services.IsAdmin(user))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, result)
}
