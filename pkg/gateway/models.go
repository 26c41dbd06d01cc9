// Package gateway implements the multi-tenant HTTP/WebSocket facade: a
// project registry with port-slot allocation, an MCP SSE client talking
// to each project's knowledge-graph/quality/governance servers, a
// single-concurrency per-project job runner, and a WebSocket connection
// manager driven by a per-project polling loop.
package gateway

import "time"

// ProjectStatus is the lifecycle state of a registered project.
type ProjectStatus string

const (
	ProjectStatusStopped  ProjectStatus = "stopped"
	ProjectStatusStarting ProjectStatus = "starting"
	ProjectStatusRunning  ProjectStatus = "running"
	ProjectStatusError    ProjectStatus = "error"
)

// Project is one registry entry: a slug id, a display name, its
// filesystem path, its allocated port slot, and its base MCP port.
type Project struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Path        string        `json:"path"`
	Slot        int           `json:"slot"`
	MCPBasePort int           `json:"mcp_base_port"`
	Status      ProjectStatus `json:"status"`
	Token       string        `json:"token,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
}

// portsPerProject is how many consecutive TCP ports one project's three
// MCP servers (knowledge-graph, quality, governance) occupy.
const portsPerProject = 3

// mcpBasePort is the first port handed out to slot 0.
const mcpBasePort = 3101

// KGPort, QualityPort, and GovernancePort return the three MCP server
// ports this project was allocated, in fixed offset order.
func (p Project) KGPort() int         { return p.MCPBasePort }
func (p Project) QualityPort() int    { return p.MCPBasePort + 1 }
func (p Project) GovernancePort() int { return p.MCPBasePort + 2 }

// JobStatus is the lifecycle state of a background job.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Job is one unit of LLM CLI work submitted against a project.
type Job struct {
	ID          string     `json:"id"`
	ProjectID   string     `json:"project_id"`
	Kind        string     `json:"kind"`
	Prompt      string     `json:"prompt"`
	Status      JobStatus  `json:"status"`
	Result      string     `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
	SubmittedAt time.Time  `json:"submitted_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// PollSnapshot holds the three fields (governance status, governed tasks,
// job statuses) the polling loop compares by value to decide whether a
// broadcast is due — mirroring the reference gateway's "broadcast only
// on change" rule.
type PollSnapshot struct {
	GovernanceStatus map[string]interface{} `json:"governance_status"`
	GovernedTasks    []interface{}          `json:"governed_tasks"`
	JobStatuses      map[string]JobStatus   `json:"job_statuses"`
}
