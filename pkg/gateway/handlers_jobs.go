package gateway

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

type submitJobRequest struct {
	Prompt string `json:"prompt"`
	Kind   string `json:"agentType"`
}

func (s *Server) submitJobHandler(c *echo.Context) error {
	var req submitJobRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	projectID := c.Param("id")
	runner := s.manager.JobRunnerFor(projectID)
	if runner == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "project is not running")
	}

	job := runner.Submit(projectID, req.Kind, req.Prompt)
	return c.JSON(http.StatusAccepted, map[string]interface{}{"job": job})
}

func (s *Server) listJobsHandler(c *echo.Context) error {
	runner := s.manager.JobRunnerFor(c.Param("id"))
	if runner == nil {
		return c.JSON(http.StatusOK, map[string]interface{}{"jobs": []Job{}})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"jobs": runner.List()})
}

func (s *Server) getJobHandler(c *echo.Context) error {
	runner := s.manager.JobRunnerFor(c.Param("id"))
	if runner == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "project is not running")
	}
	job := runner.Get(c.Param("job_id"))
	if job == nil {
		return echo.NewHTTPError(http.StatusNotFound, "job not found")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"job": job})
}

func (s *Server) cancelJobHandler(c *echo.Context) error {
	runner := s.manager.JobRunnerFor(c.Param("id"))
	if runner == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "project is not running")
	}
	if !runner.Cancel(c.Param("job_id")) {
		return echo.NewHTTPError(http.StatusBadRequest, "job cannot be cancelled (not found or already completed)")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"success": true, "jobId": c.Param("job_id")})
}
