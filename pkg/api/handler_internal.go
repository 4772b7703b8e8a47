package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/jarvislabs/jarvisd/pkg/supervisor"
)

// resumeHandler handles POST /jarvis/internal/runs/:id/resume — the worker
// completion webhook. Idempotent: repeated deliveries for the same run are
// skipped once the run left WAITING.
func (s *Server) resumeHandler(c *echo.Context) error {
	runID := c.Param("id")
	if runID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "run id is required")
	}

	var req resumeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	ws := workspaceFrom(c)
	result, err := ws.Resumer.Resume(c.Request().Context(), runID, supervisor.ResumeRequest{
		JobID:    req.JobID,
		WorkerID: req.WorkerID,
		Status:   req.Status,
		Summary:  req.ResultSummary,
		Error:    req.Error,
	})
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, result)
}
