package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
	echo "github.com/labstack/echo/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/avt-project/avt/pkg/version"
)

// Server is the gateway's HTTP/WebSocket facade: one Echo instance
// exposing project CRUD and lifecycle, config, documents, governance,
// quality, research, and job endpoints, all scoped per-project by an
// :id path parameter, plus a cross-project dashboard and the WS
// upgrade.
type Server struct {
	echo       *echo.Echo
	httpServer *http.Server
	manager    *ProjectManager
	conns      *ConnectionManager
	apiKey     string
}

// NewServer builds a gateway Server and registers its routes.
func NewServer(manager *ProjectManager, conns *ConnectionManager, apiKey string) *Server {
	e := echo.New()
	s := &Server{echo: e, manager: manager, conns: conns, apiKey: apiKey}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.echo.GET("/health", s.healthHandler)
	s.echo.GET("/metrics", s.metricsHandler)

	api := s.echo.Group("/api", apiKeyAuth(s.apiKey))

	api.GET("/ws", s.wsHandler)

	projects := api.Group("/projects")
	projects.GET("", s.listProjectsHandler)
	projects.POST("", s.addProjectHandler)
	projects.GET("/:id", s.getProjectHandler)
	projects.DELETE("/:id", s.removeProjectHandler)
	projects.POST("/:id/start", s.startProjectHandler)
	projects.POST("/:id/stop", s.stopProjectHandler)
	projects.GET("/:id/health", s.projectHealthHandler)
	projects.GET("/:id/dashboard", s.dashboardHandler)

	projects.GET("/:id/config", s.getConfigHandler)
	projects.PUT("/:id/config", s.putConfigHandler)
	projects.POST("/:id/config/sync-permissions", s.syncPermissionsHandler)
	projects.GET("/:id/setup/readiness", s.setupReadinessHandler)

	projects.GET("/:id/documents", s.listDocumentsHandler)
	projects.POST("/:id/documents", s.createDocumentHandler)
	projects.POST("/:id/documents/ingest", s.ingestDocumentsHandler)
	projects.POST("/:id/documents/format", s.formatDocumentsHandler)

	projects.GET("/:id/governance/tasks", s.governedTasksHandler)
	projects.GET("/:id/governance/status", s.governanceStatusHandler)
	projects.POST("/:id/governance/decisions", s.submitDecisionHandler)
	projects.GET("/:id/governance/decisions", s.decisionHistoryHandler)

	projects.GET("/:id/quality/findings", s.allFindingsHandler)
	projects.POST("/:id/quality/findings/:finding_id/dismiss", s.dismissFindingHandler)
	projects.GET("/:id/quality/gates", s.checkGatesHandler)

	projects.GET("/:id/research/prompts", s.researchPromptsHandler)
	projects.PUT("/:id/research/prompts/:prompt_id", s.saveResearchPromptHandler)
	projects.DELETE("/:id/research/prompts/:prompt_id", s.deleteResearchPromptHandler)
	projects.POST("/:id/research/prompts/:prompt_id/run", s.createResearchBriefHandler)
	projects.GET("/:id/research/briefs", s.listResearchBriefsHandler)
	projects.GET("/:id/research/briefs/*", s.getResearchBriefHandler)

	projects.POST("/:id/jobs", s.submitJobHandler)
	projects.GET("/:id/jobs", s.listJobsHandler)
	projects.GET("/:id/jobs/:job_id", s.getJobHandler)
	projects.POST("/:id/jobs/:job_id/cancel", s.cancelJobHandler)
}

// Start runs the HTTP server on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.echo}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server and every project poller.
func (s *Server) Shutdown(ctx context.Context) error {
	s.conns.Shutdown()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) healthHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.Full(),
	})
}

func (s *Server) metricsHandler(c *echo.Context) error {
	projectsRegistered.Set(float64(len(s.manager.List())))
	promhttp.Handler().ServeHTTP(c.Response(), c.Request())
	return nil
}

func (s *Server) wsHandler(c *echo.Context) error {
	projectID := c.QueryParam("project_id")
	if projectID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "project_id query parameter required")
	}

	conn, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		return err
	}
	s.conns.HandleConnection(c.Request().Context(), projectID, conn)
	return nil
}

func (s *Server) projectOr404(c *echo.Context) (*Project, error) {
	p := s.manager.Get(c.Param("id"))
	if p == nil {
		return nil, echo.NewHTTPError(http.StatusNotFound, "project not found")
	}
	return p, nil
}

func (s *Server) listProjectsHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, s.manager.List())
}

type addProjectRequest struct {
	Name string `json:"name" validate:"required,min=1,max=128"`
	Path string `json:"path" validate:"required,min=1"`
}

func (s *Server) addProjectHandler(c *echo.Context) error {
	var req addProjectRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	p, err := s.manager.Add(req.Name, req.Path)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, p)
}

func (s *Server) getProjectHandler(c *echo.Context) error {
	p, err := s.projectOr404(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (s *Server) removeProjectHandler(c *echo.Context) error {
	if _, err := s.projectOr404(c); err != nil {
		return err
	}
	if err := s.manager.Remove(c.Param("id")); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) startProjectHandler(c *echo.Context) error {
	if _, err := s.projectOr404(c); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 30*time.Second)
	defer cancel()
	if err := s.manager.Start(ctx, c.Param("id")); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, s.manager.Get(c.Param("id")))
}

func (s *Server) stopProjectHandler(c *echo.Context) error {
	if _, err := s.projectOr404(c); err != nil {
		return err
	}
	s.manager.Stop(c.Param("id"))
	return c.JSON(http.StatusOK, s.manager.Get(c.Param("id")))
}

func (s *Server) projectHealthHandler(c *echo.Context) error {
	if _, err := s.projectOr404(c); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s.manager.Health(c.Param("id")))
}

// callMCPTool is the shared path for every handler that forwards a
// request to one of a project's three MCP servers.
func (s *Server) callMCPTool(c *echo.Context, server, tool string, args map[string]interface{}) error {
	projectID := c.Param("id")
	client := s.manager.MCPClientFor(projectID)
	if client == nil || !client.IsConnected() {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "project is not running")
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 60*time.Second)
	defer cancel()
	result, err := client.CallTool(ctx, server, tool, args)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, fmt.Sprintf("mcp call failed: %s", err))
	}
	return c.JSON(http.StatusOK, result)
}
