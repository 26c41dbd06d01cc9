package gateway

import (
	"net/http"
	"strings"

	echo "github.com/labstack/echo/v5"
)

// apiKeyAuth requires the shared API key as either a bearer Authorization
// header or a `token` query parameter — the latter exists because
// browser WebSocket clients cannot set custom headers on the upgrade
// request.
func apiKeyAuth(apiKey string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			if apiKey == "" {
				return next(c)
			}

			if token := c.QueryParam("token"); token != "" && token == apiKey {
				return next(c)
			}

			header := c.Request().Header.Get("Authorization")
			if strings.HasPrefix(header, "Bearer ") && strings.TrimPrefix(header, "Bearer ") == apiKey {
				return next(c)
			}

			return echo.NewHTTPError(http.StatusUnauthorized, "invalid or missing API key")
		}
	}
}
