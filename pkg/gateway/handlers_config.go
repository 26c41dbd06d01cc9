package gateway

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

func (s *Server) getConfigHandler(c *echo.Context) error {
	cfg, err := s.manager.ConfigService(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, cfg.Load())
}

func (s *Server) putConfigHandler(c *echo.Context) error {
	svc, err := s.manager.ConfigService(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}

	var cfg ProjectConfig
	if err := c.Bind(&cfg); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := svc.Save(cfg); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]bool{"success": true})
}

type syncPermissionsRequest struct {
	Permissions []string `json:"permissions"`
}

func (s *Server) syncPermissionsHandler(c *echo.Context) error {
	svc, err := s.manager.ConfigService(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}

	var req syncPermissionsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	if err := svc.SyncPermissions(req.Permissions); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	cfg := svc.Load()
	cfg.Permissions = req.Permissions
	if err := svc.Save(cfg); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) setupReadinessHandler(c *echo.Context) error {
	svc, err := s.manager.ConfigService(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, svc.Readiness())
}
