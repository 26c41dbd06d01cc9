package gateway

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

func validTier(tier string) bool { return tier == "vision" || tier == "architecture" }

func (s *Server) listDocumentsHandler(c *echo.Context) error {
	tier := c.QueryParam("tier")
	if !validTier(tier) {
		return echo.NewHTTPError(http.StatusBadRequest, "tier must be 'vision' or 'architecture'")
	}
	svc, err := s.manager.ConfigService(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"docs": svc.ListDocs(tier)})
}

type createDocRequest struct {
	Tier    string `json:"tier"`
	Name    string `json:"name"`
	Content string `json:"content"`
}

func (s *Server) createDocumentHandler(c *echo.Context) error {
	var req createDocRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if !validTier(req.Tier) {
		return echo.NewHTTPError(http.StatusBadRequest, "tier must be 'vision' or 'architecture'")
	}

	svc, err := s.manager.ConfigService(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}

	doc, err := svc.CreateDoc(req.Tier, req.Name, req.Content)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{"doc": doc})
}

type ingestDocumentsRequest struct {
	Tier string `json:"tier"`
}

func (s *Server) ingestDocumentsHandler(c *echo.Context) error {
	var req ingestDocumentsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if !validTier(req.Tier) {
		return echo.NewHTTPError(http.StatusBadRequest, "tier must be 'vision' or 'architecture'")
	}
	return s.callMCPTool(c, "knowledge-graph", "ingest_documents", map[string]interface{}{"tier": req.Tier})
}

type formatDocumentRequest struct {
	Tier       string `json:"tier"`
	RawContent string `json:"rawContent"`
}

const maxFormatContentBytes = 100_000

func (s *Server) formatDocumentsHandler(c *echo.Context) error {
	var req formatDocumentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if len(req.RawContent) > maxFormatContentBytes {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "content exceeds 100KB limit")
	}

	projectID := c.Param("id")
	runner := s.manager.JobRunnerFor(projectID)
	if runner == nil {
		return c.JSON(http.StatusOK, map[string]interface{}{"success": false, "error": "project is not running"})
	}

	job := runner.Submit(projectID, "format-document", req.RawContent)
	return c.JSON(http.StatusAccepted, map[string]interface{}{"success": true, "jobId": job.ID})
}
