package gateway

import (
	echo "github.com/labstack/echo/v5"
)

func (s *Server) governedTasksHandler(c *echo.Context) error {
	return s.callMCPTool(c, "governance", "list_governed_tasks", nil)
}

func (s *Server) governanceStatusHandler(c *echo.Context) error {
	return s.callMCPTool(c, "governance", "get_governance_status", nil)
}

func (s *Server) decisionHistoryHandler(c *echo.Context) error {
	return s.callMCPTool(c, "governance", "get_decision_history", nil)
}

type submitDecisionRequest struct {
	TaskID   string `json:"taskId"`
	Decision string `json:"decision"`
	Reason   string `json:"reason,omitempty"`
}

func (s *Server) submitDecisionHandler(c *echo.Context) error {
	var req submitDecisionRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	return s.callMCPTool(c, "governance", "submit_decision", map[string]interface{}{
		"task_id":  req.TaskID,
		"decision": req.Decision,
		"reason":   req.Reason,
	})
}
