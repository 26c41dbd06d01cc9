package gateway

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

func (s *Server) allFindingsHandler(c *echo.Context) error {
	args := map[string]interface{}{}
	if status := c.QueryParam("status"); status != "" {
		args["status"] = status
	}
	return s.callMCPTool(c, "quality", "get_all_findings", args)
}

type dismissFindingRequest struct {
	Justification string `json:"justification"`
	DismissedBy   string `json:"dismissedBy"`
}

func (s *Server) dismissFindingHandler(c *echo.Context) error {
	var req dismissFindingRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	findingID := c.Param("finding_id")
	client := s.manager.MCPClientFor(c.Param("id"))
	if client == nil || !client.IsConnected() {
		return c.JSON(http.StatusOK, map[string]interface{}{"success": false, "findingId": findingID, "error": "project is not running"})
	}

	_, err := client.CallTool(c.Request().Context(), "quality", "record_dismissal", map[string]interface{}{
		"finding_id":    findingID,
		"justification": req.Justification,
		"dismissed_by":  req.DismissedBy,
	})
	if err != nil {
		return c.JSON(http.StatusOK, map[string]interface{}{"success": false, "findingId": findingID, "error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"success": true, "findingId": findingID})
}

func (s *Server) checkGatesHandler(c *echo.Context) error {
	return s.callMCPTool(c, "quality", "check_all_gates", nil)
}
