package gateway

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// projectState holds the live, in-memory collaborators for one started
// project: its MCP client and its job runner. Nothing here is persisted
// directly — Registry is the durable source of truth for project
// metadata.
type projectState struct {
	mcp   *MCPClient
	jobs  *JobRunner
	watch *hotFileWatcher
}

// ProjectManager is the orchestration layer tying the project Registry,
// the per-project MCP server subprocess supervisor, MCP clients, job
// runners, and the WebSocket connection manager together. It is the
// gateway's ProjectStatusSource.
type ProjectManager struct {
	registry     *Registry
	supervisor   *ProjectSupervisor
	conns        *ConnectionManager
	jobTransport func(project Project) JobTransport
	avtRoot      string

	mu     sync.Mutex
	states map[string]*projectState

	// pollGroup collapses concurrent PollSnapshot calls for the same
	// project into a single in-flight MCP round-trip, so a burst of
	// WebSocket poll ticks across several clients watching the same
	// project doesn't multiply governance-status/task-list MCP calls.
	pollGroup singleflight.Group
}

// NewProjectManager builds a ProjectManager. jobTransport constructs the
// LLM CLI transport for a given project (letting callers vary the model
// or binary per project); avtRoot is the directory jobs are persisted
// under (one subdirectory per project).
func NewProjectManager(registry *Registry, supervisor *ProjectSupervisor, conns *ConnectionManager, avtRoot string, jobTransport func(Project) JobTransport) *ProjectManager {
	return &ProjectManager{
		registry:     registry,
		supervisor:   supervisor,
		conns:        conns,
		jobTransport: jobTransport,
		avtRoot:      avtRoot,
		states:       map[string]*projectState{},
	}
}

// Add registers a new project by name/path.
func (m *ProjectManager) Add(name, path string) (*Project, error) {
	return m.registry.Add(name, path)
}

// List returns all registered projects.
func (m *ProjectManager) List() []Project { return m.registry.List() }

// Get returns one registered project, or nil.
func (m *ProjectManager) Get(id string) *Project { return m.registry.Get(id) }

// Remove stops (if running) and deregisters a project.
func (m *ProjectManager) Remove(id string) error {
	m.Stop(id)
	return m.registry.Remove(id)
}

// ConfigService builds the project-config service for a registered
// project, independent of whether it is currently running.
func (m *ProjectManager) ConfigService(id string) (*ProjectConfigService, error) {
	p := m.registry.Get(id)
	if p == nil {
		return nil, fmt.Errorf("project %q not found", id)
	}
	return NewProjectConfigService(p.Path), nil
}

// FileServiceFor builds the filesystem-facts reader for a registered
// project.
func (m *ProjectManager) FileServiceFor(id string) (*FileService, error) {
	p := m.registry.Get(id)
	if p == nil {
		return nil, fmt.Errorf("project %q not found", id)
	}
	return NewFileService(p.Path), nil
}

// Start launches a project's three MCP server subprocesses, connects an
// MCP client to them, builds its job runner, and wires job updates into
// the WebSocket broadcaster. A token is generated on first start and
// persisted for reuse on subsequent starts.
func (m *ProjectManager) Start(ctx context.Context, id string) error {
	p := m.registry.Get(id)
	if p == nil {
		return fmt.Errorf("project %q not found", id)
	}

	m.mu.Lock()
	if _, running := m.states[id]; running {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	if p.Token == "" {
		token, err := generateToken()
		if err != nil {
			return fmt.Errorf("generating project token: %w", err)
		}
		if err := m.registry.SetToken(id, token); err != nil {
			return err
		}
		p.Token = token
	}

	_ = m.registry.SetStatus(id, ProjectStatusStarting)

	if err := m.supervisor.Start(*p); err != nil {
		_ = m.registry.SetStatus(id, ProjectStatusError)
		return fmt.Errorf("starting mcp servers: %w", err)
	}

	client := NewMCPClient(serverURL(p.KGPort()), serverURL(p.QualityPort()), serverURL(p.GovernancePort()))
	if err := client.Connect(ctx); err != nil {
		m.supervisor.Stop(id)
		_ = m.registry.SetStatus(id, ProjectStatusError)
		return fmt.Errorf("connecting to mcp servers: %w", err)
	}

	runner, err := NewJobRunner(m.jobsDirFor(id), m.jobTransport(*p), func(job Job) {
		m.broadcastJobUpdate(id, job)
	})
	if err != nil {
		client.Disconnect()
		m.supervisor.Stop(id)
		_ = m.registry.SetStatus(id, ProjectStatusError)
		return fmt.Errorf("starting job runner: %w", err)
	}

	watch := startHotFileWatcher(id, p.Path, m.conns)

	m.mu.Lock()
	m.states[id] = &projectState{mcp: client, jobs: runner, watch: watch}
	projectsRunning.Set(float64(len(m.states)))
	m.mu.Unlock()

	return m.registry.SetStatus(id, ProjectStatusRunning)
}

// jobsDirFor returns where a project's job records are persisted: under
// the gateway's own state root rather than inside the project's
// repository, so job history survives a project being re-added at a
// different path and never ends up committed alongside the user's code.
func (m *ProjectManager) jobsDirFor(projectID string) string {
	return filepath.Join(m.avtRoot, "jobs", projectID)
}

func serverURL(port int) string {
	u := url.URL{Scheme: "http", Host: "127.0.0.1:" + strconv.Itoa(port)}
	return u.String()
}

func generateToken() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// Stop tears down a project's job runner, MCP client, and MCP server
// subprocesses, in that order.
func (m *ProjectManager) Stop(id string) {
	m.mu.Lock()
	state, ok := m.states[id]
	if ok {
		delete(m.states, id)
		projectsRunning.Set(float64(len(m.states)))
	}
	m.mu.Unlock()

	if !ok {
		return
	}

	state.watch.close()
	state.jobs.Close()
	state.mcp.Disconnect()
	m.supervisor.Stop(id)
	_ = m.registry.SetStatus(id, ProjectStatusStopped)
}

// Health reports the project's subprocess liveness and MCP connectivity.
func (m *ProjectManager) Health(id string) map[string]interface{} {
	procHealth := m.supervisor.CheckHealth(id)

	m.mu.Lock()
	state, connected := m.states[id]
	m.mu.Unlock()

	mcpConnected := connected && state.mcp.IsConnected()
	return map[string]interface{}{
		"processes":     procHealth,
		"mcp_connected": mcpConnected,
	}
}

// JobRunnerFor returns the job runner for a started project, or nil if
// the project isn't currently running.
func (m *ProjectManager) JobRunnerFor(id string) *JobRunner {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.states[id]
	if !ok {
		return nil
	}
	return state.jobs
}

// MCPClientFor returns the MCP client for a started project, or nil.
func (m *ProjectManager) MCPClientFor(id string) *MCPClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.states[id]
	if !ok {
		return nil
	}
	return state.mcp
}

func (m *ProjectManager) broadcastJobUpdate(projectID string, job Job) {
	if m.conns == nil {
		return
	}
	jobUpdatesBroadcastTotal.WithLabelValues(projectID).Inc()
	m.conns.broadcast(projectID, jobUpdatePayload(projectID, job))
}

func jobUpdatePayload(projectID string, job Job) []byte {
	payload, err := json.Marshal(map[string]interface{}{
		"type":       "job_status",
		"project_id": projectID,
		"job_id":     job.ID,
		"status":     job.Status,
	})
	if err != nil {
		return nil
	}
	return payload
}

// PollSnapshot implements ProjectStatusSource by pulling governance
// status and task list from a project's MCP client and its job statuses
// from its job runner. A project with no running MCP client returns an
// empty snapshot rather than erroring — the poll loop degrades quietly.
func (m *ProjectManager) PollSnapshot(ctx context.Context, projectID string) (PollSnapshot, error) {
	v, err, _ := m.pollGroup.Do(projectID, func() (interface{}, error) {
		return m.pollSnapshot(ctx, projectID)
	})
	if err != nil {
		return PollSnapshot{}, err
	}
	return v.(PollSnapshot), nil
}

func (m *ProjectManager) pollSnapshot(ctx context.Context, projectID string) (PollSnapshot, error) {
	m.mu.Lock()
	state, ok := m.states[projectID]
	m.mu.Unlock()
	if !ok {
		return PollSnapshot{}, nil
	}

	snapshot := PollSnapshot{JobStatuses: map[string]JobStatus{}}

	for _, job := range state.jobs.List() {
		snapshot.JobStatuses[job.ID] = job.Status
	}

	if state.mcp.IsConnected() {
		pollCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		if status, err := state.mcp.CallTool(pollCtx, "governance", "get_governance_status", nil); err == nil {
			if m, ok := status.(map[string]interface{}); ok {
				snapshot.GovernanceStatus = m
			}
		}
		if tasks, err := state.mcp.CallTool(pollCtx, "governance", "list_governed_tasks", nil); err == nil {
			if list, ok := tasks.([]interface{}); ok {
				snapshot.GovernedTasks = list
			}
		}
	}

	return snapshot, nil
}

// StopAll stops every running project concurrently, returning once all
// have finished tearing down their subprocesses and connections.
func (m *ProjectManager) StopAll() {
	var g errgroup.Group
	for _, p := range m.List() {
		id := p.ID
		g.Go(func() error {
			m.Stop(id)
			return nil
		})
	}
	_ = g.Wait()
}
