package api

import (
	echo "github.com/labstack/echo/v5"

	"github.com/jarvislabs/jarvisd/ent"
)

// extractPrincipal extracts the caller identity from proxy headers.
// Priority: X-Forwarded-User (oauth2-proxy) > X-Forwarded-Email (oauth2-proxy) >
// X-Remote-User (kube-rbac-proxy) > "api-client"
func extractPrincipal(c *echo.Context) string {
	if user := c.Request().Header.Get("X-Forwarded-User"); user != "" {
		return user
	}
	if email := c.Request().Header.Get("X-Forwarded-Email"); email != "" {
		return email
	}
	if user := c.Request().Header.Get("X-Remote-User"); user != "" {
		return user
	}
	return "api-client"
}

// currentUser resolves the request principal to a user row in the request's
// tenant, creating it on first sight.
func (s *Server) currentUser(c *echo.Context) (*ent.User, error) {
	ws := workspaceFrom(c)
	return ws.Users.GetOrCreateByEmail(c.Request().Context(), extractPrincipal(c))
}
