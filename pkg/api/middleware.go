package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/jarvislabs/jarvisd/pkg/app"
	"github.com/jarvislabs/jarvisd/pkg/config"
	"github.com/jarvislabs/jarvisd/pkg/tenant"
)

// workspaceContextKey stores the resolved tenant workspace on the request.
const workspaceContextKey = "workspace"

// securityHeaders returns middleware that sets standard security response headers.
func securityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Frame-Options", "DENY")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			return next(c)
		}
	}
}

// requestLogger logs one line per request.
func requestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			start := time.Now()
			err := next(c)
			slog.Info("http request",
				"method", c.Request().Method,
				"path", c.Request().URL.Path,
				"status", c.Response().Status,
				"duration_ms", time.Since(start).Milliseconds())
			return err
		}
	}
}

// tenantMiddleware resolves the request's workspace from the tenant header.
// With routing enabled, a request without the header is a deployment bug in
// the caller, surfaced as a 500 rather than silently served from the default
// schema.
func (s *Server) tenantMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			ws, err := s.router.Resolve(c.Request().Context(), c.Request().Header.Get(config.TenantHeader))
			if err != nil {
				if errors.Is(err, tenant.ErrMissingTenant) {
					return echo.NewHTTPError(http.StatusInternalServerError, "tenant header required")
				}
				if errors.Is(err, tenant.ErrInvalidTenant) {
					return echo.NewHTTPError(http.StatusBadRequest, "invalid tenant identifier")
				}
				slog.Error("tenant resolution failed", "error", err)
				return echo.NewHTTPError(http.StatusInternalServerError, "tenant resolution failed")
			}
			c.Set(workspaceContextKey, ws)
			return next(c)
		}
	}
}

// workspaceFrom returns the workspace resolved by tenantMiddleware.
func workspaceFrom(c *echo.Context) *app.Workspace {
	ws, _ := c.Get(workspaceContextKey).(*app.Workspace)
	return ws
}
