package gateway

import (
	"fmt"
	"net/http"

	echo "github.com/labstack/echo/v5"
)

func (s *Server) researchPromptsHandler(c *echo.Context) error {
	svc, err := s.manager.ConfigService(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"prompts": svc.ListResearchPrompts()})
}

func (s *Server) saveResearchPromptHandler(c *echo.Context) error {
	svc, err := s.manager.ConfigService(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}

	var prompt ResearchPrompt
	if err := c.Bind(&prompt); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	prompt.ID = c.Param("prompt_id")

	if err := svc.SaveResearchPrompt(prompt); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"success": true, "prompt": prompt})
}

func (s *Server) deleteResearchPromptHandler(c *echo.Context) error {
	svc, err := s.manager.ConfigService(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}

	promptID := c.Param("prompt_id")
	deleted, err := svc.DeleteResearchPrompt(promptID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !deleted {
		return echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("research prompt %s not found", promptID))
	}
	return c.JSON(http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) listResearchBriefsHandler(c *echo.Context) error {
	svc, err := s.manager.ConfigService(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"briefs": svc.ListResearchBriefs()})
}

func (s *Server) getResearchBriefHandler(c *echo.Context) error {
	svc, err := s.manager.ConfigService(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}

	briefPath := c.Param("*")
	content, err := svc.ReadResearchBrief(briefPath)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"briefPath": briefPath, "content": content})
}

func (s *Server) createResearchBriefHandler(c *echo.Context) error {
	// Runs a saved research prompt (named by the route's :prompt_id) as a
	// background job, mirroring the reference "run research prompt" flow
	// rather than directly writing brief content.
	projectID := c.Param("id")
	promptID := c.Param("prompt_id")

	svc, err := s.manager.ConfigService(projectID)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}

	prompt, ok := svc.FindResearchPrompt(promptID)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("research prompt %s not found", promptID))
	}

	runner := s.manager.JobRunnerFor(projectID)
	if runner == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "project is not running")
	}

	job := runner.Submit(projectID, "research", fmt.Sprintf("Execute the research prompt in .avt/research-prompts/%s.md", prompt.ID))
	return c.JSON(http.StatusAccepted, map[string]interface{}{"success": true, "jobId": job.ID})
}
