package gateway

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"
)

// GovernanceStats summarizes decision counts for the dashboard.
type GovernanceStats struct {
	TotalDecisions     int `json:"totalDecisions"`
	Approved           int `json:"approved"`
	Blocked            int `json:"blocked"`
	Pending            int `json:"pending"`
	PendingReviews     int `json:"pendingReviews"`
	TotalGovernedTasks int `json:"totalGovernedTasks"`
}

// DashboardData is the aggregate view the dashboard endpoint returns:
// filesystem-derived fields are always populated; MCP-sourced fields
// are populated only when the project's MCP client is connected, and a
// failed individual MCP call degrades just that field rather than the
// whole response.
type DashboardData struct {
	ConnectionStatus      string                  `json:"connectionStatus"`
	ServerPorts           map[string]int          `json:"serverPorts"`
	Agents                []Agent                 `json:"agents"`
	VisionStandards       []interface{}           `json:"visionStandards"`
	ArchitecturalElements []interface{}           `json:"architecturalElements"`
	Tasks                 TaskCounts              `json:"tasks"`
	SessionPhase          string                  `json:"sessionPhase"`
	GovernedTasks         []interface{}           `json:"governedTasks"`
	GovernanceStats       GovernanceStats         `json:"governanceStats"`
	SetupReadiness        SetupReadiness          `json:"setupReadiness"`
	ProjectConfig         ProjectConfig           `json:"projectConfig"`
	VisionDocs            []Document              `json:"visionDocs"`
	ArchitectureDocs      []Document              `json:"architectureDocs"`
	ResearchPrompts       []ResearchPrompt        `json:"researchPrompts"`
	ResearchBriefs        []ResearchBrief         `json:"researchBriefs"`
	SessionState          SessionState            `json:"sessionState"`
	HookGovernanceStatus  *HookGovernanceStatus   `json:"hookGovernanceStatus"`
	Findings              []interface{}           `json:"findings,omitempty"`
	QualityGateResults    map[string]interface{}  `json:"qualityGateResults,omitempty"`
	DecisionHistory       []interface{}           `json:"decisionHistory,omitempty"`
}

func (s *Server) dashboardHandler(c *echo.Context) error {
	projectID := c.Param("id")
	p := s.manager.Get(projectID)
	if p == nil {
		return echo.NewHTTPError(http.StatusNotFound, "project not found")
	}

	fileSvc, err := s.manager.FileServiceFor(projectID)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	cfgSvc, err := s.manager.ConfigService(projectID)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}

	client := s.manager.MCPClientFor(projectID)
	connected := client != nil && client.IsConnected()

	data := DashboardData{
		ConnectionStatus:      connectionStatusLabel(connected),
		ServerPorts:           map[string]int{"kg": p.KGPort(), "quality": p.QualityPort(), "governance": p.GovernancePort()},
		Agents:                fileSvc.DetectAgents(),
		VisionStandards:       []interface{}{},
		ArchitecturalElements: []interface{}{},
		Tasks:                 fileSvc.CountTasks(),
		SessionPhase:          fileSvc.ReadSessionState().Phase,
		GovernedTasks:         []interface{}{},
		SetupReadiness:        cfgSvc.Readiness(),
		ProjectConfig:         cfgSvc.Load(),
		VisionDocs:            cfgSvc.ListDocs("vision"),
		ArchitectureDocs:      cfgSvc.ListDocs("architecture"),
		ResearchPrompts:       cfgSvc.ListResearchPrompts(),
		ResearchBriefs:        cfgSvc.ListResearchBriefs(),
		SessionState:          fileSvc.ReadSessionState(),
		HookGovernanceStatus:  fileSvc.ReadHookGovernanceStatus(),
	}

	if connected {
		s.enrichFromMCP(c.Request().Context(), client, &data)
	}

	return c.JSON(http.StatusOK, data)
}

func connectionStatusLabel(connected bool) string {
	if connected {
		return "connected"
	}
	return "disconnected"
}

// enrichFromMCP populates the live-data fields of the dashboard,
// tolerating any individual tool-call failure by leaving that one field
// at its zero value rather than failing the whole response.
func (s *Server) enrichFromMCP(parent context.Context, client *MCPClient, data *DashboardData) {
	ctx, cancel := context.WithTimeout(parent, 15*time.Second)
	defer cancel()

	if vision, err := client.CallTool(ctx, "knowledge-graph", "get_entities_by_tier", map[string]interface{}{"tier": "vision"}); err == nil {
		data.VisionStandards = entitiesFromResult(vision)
	}
	if arch, err := client.CallTool(ctx, "knowledge-graph", "get_entities_by_tier", map[string]interface{}{"tier": "architecture"}); err == nil {
		data.ArchitecturalElements = entitiesFromResult(arch)
	}

	if status, err := client.CallTool(ctx, "governance", "get_governance_status", nil); err == nil {
		if m, ok := status.(map[string]interface{}); ok {
			data.GovernanceStats = governanceStatsFromMap(m)
		}
	}
	if tasks, err := client.CallTool(ctx, "governance", "list_governed_tasks", nil); err == nil {
		if m, ok := tasks.(map[string]interface{}); ok {
			if list, ok := m["governed_tasks"].([]interface{}); ok {
				data.GovernedTasks = list
			}
		}
	}
	if history, err := client.CallTool(ctx, "governance", "get_decision_history", nil); err == nil {
		if m, ok := history.(map[string]interface{}); ok {
			if list, ok := m["decisions"].([]interface{}); ok {
				data.DecisionHistory = list
			}
		}
	}

	if findings, err := client.CallTool(ctx, "quality", "get_all_findings", nil); err == nil {
		if m, ok := findings.(map[string]interface{}); ok {
			if list, ok := m["findings"].([]interface{}); ok {
				data.Findings = list
			}
		}
	}
	if gates, err := client.CallTool(ctx, "quality", "check_all_gates", nil); err == nil {
		if m, ok := gates.(map[string]interface{}); ok {
			data.QualityGateResults = m
		}
	}
}

func entitiesFromResult(result interface{}) []interface{} {
	switch v := result.(type) {
	case []interface{}:
		return v
	case map[string]interface{}:
		if entities, ok := v["entities"].([]interface{}); ok {
			return entities
		}
	}
	return []interface{}{}
}

func governanceStatsFromMap(m map[string]interface{}) GovernanceStats {
	return GovernanceStats{
		TotalDecisions:     intFromMap(m, "total_decisions"),
		Approved:           intFromMap(m, "approved"),
		Blocked:            intFromMap(m, "blocked"),
		Pending:            intFromMap(m, "pending"),
		PendingReviews:     intFromMap(m, "pending_reviews"),
		TotalGovernedTasks: intFromMap(m, "total_governed_tasks"),
	}
}

func intFromMap(m map[string]interface{}, key string) int {
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}
