package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

const wsWriteTimeout = 5 * time.Second

// pollInterval is how often a project with at least one connection is
// polled for governance/task/job deltas.
const pollInterval = 5 * time.Second

// Connection is a single WebSocket client subscribed to one project's
// event stream.
type Connection struct {
	ID        string
	ProjectID string
	conn      *websocket.Conn
	ctx       context.Context
	cancel    context.CancelFunc
}

// ConnectionManager tracks WebSocket connections per project and runs
// one background poll loop per project with at least one connection,
// broadcasting the full snapshot whenever it differs by value from the
// last poll.
type ConnectionManager struct {
	mu          sync.RWMutex
	connections map[string]*Connection     // connection id -> connection
	byProject   map[string]map[string]bool // project id -> set of connection ids

	pollers   map[string]context.CancelFunc // project id -> poll loop stop
	pollersMu sync.Mutex

	statusSource ProjectStatusSource
}

// ProjectStatusSource fetches the data a poll tick broadcasts; the
// gateway wires this to its per-project MCP client and job runner.
type ProjectStatusSource interface {
	PollSnapshot(ctx context.Context, projectID string) (PollSnapshot, error)
}

// NewConnectionManager builds a ConnectionManager polling through source.
func NewConnectionManager(source ProjectStatusSource) *ConnectionManager {
	return &ConnectionManager{
		connections:  map[string]*Connection{},
		byProject:    map[string]map[string]bool{},
		pollers:      map[string]context.CancelFunc{},
		statusSource: source,
	}
}

// HandleConnection registers conn under projectID and blocks reading
// client frames (ping/pong only) until the socket closes, starting the
// project's poll loop if this is its first connection.
func (m *ConnectionManager) HandleConnection(parentCtx context.Context, projectID string, conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(parentCtx)
	c := &Connection{ID: uuid.NewString(), ProjectID: projectID, conn: conn, ctx: ctx, cancel: cancel}

	m.register(c)
	defer m.unregister(c)

	for {
		if _, _, err := conn.Read(ctx); err != nil {
			return
		}
	}
}

func (m *ConnectionManager) register(c *Connection) {
	m.mu.Lock()
	m.connections[c.ID] = c
	if m.byProject[c.ProjectID] == nil {
		m.byProject[c.ProjectID] = map[string]bool{}
	}
	m.byProject[c.ProjectID][c.ID] = true
	isFirst := len(m.byProject[c.ProjectID]) == 1
	active := len(m.byProject[c.ProjectID])
	m.mu.Unlock()

	wsConnectionsActive.WithLabelValues(c.ProjectID).Set(float64(active))

	if isFirst {
		m.startPoller(c.ProjectID)
	}
}

func (m *ConnectionManager) unregister(c *Connection) {
	m.mu.Lock()
	delete(m.connections, c.ID)
	conns := m.byProject[c.ProjectID]
	delete(conns, c.ID)
	empty := len(conns) == 0
	remaining := len(conns)
	if empty {
		delete(m.byProject, c.ProjectID)
	}
	m.mu.Unlock()

	wsConnectionsActive.WithLabelValues(c.ProjectID).Set(float64(remaining))

	c.cancel()
	_ = c.conn.Close(websocket.StatusNormalClosure, "")

	if empty {
		m.stopPoller(c.ProjectID)
	}
}

// ActiveConnections returns the number of connections on a project.
func (m *ConnectionManager) ActiveConnections(projectID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byProject[projectID])
}

// broadcast sends payload to every connection registered for projectID.
// Disconnects are handled lazily: a send failure is logged and the
// connection is left for its own read loop to notice and clean up.
func (m *ConnectionManager) broadcast(projectID string, payload []byte) {
	m.mu.RLock()
	ids := m.byProject[projectID]
	conns := make([]*Connection, 0, len(ids))
	for id := range ids {
		if c, ok := m.connections[id]; ok {
			conns = append(conns, c)
		}
	}
	m.mu.RUnlock()

	for _, c := range conns {
		writeCtx, cancel := context.WithTimeout(c.ctx, wsWriteTimeout)
		err := c.conn.Write(writeCtx, websocket.MessageText, payload)
		cancel()
		if err != nil {
			slog.Warn("gateway: websocket send failed", "connection_id", c.ID, "project_id", projectID, "error", err)
		}
	}
}

// startPoller launches the per-project poll loop, stopped via
// stopPoller or the manager's own shutdown.
func (m *ConnectionManager) startPoller(projectID string) {
	m.pollersMu.Lock()
	if _, exists := m.pollers[projectID]; exists {
		m.pollersMu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.pollers[projectID] = cancel
	m.pollersMu.Unlock()

	go m.pollLoop(ctx, projectID)
}

func (m *ConnectionManager) stopPoller(projectID string) {
	m.pollersMu.Lock()
	cancel, exists := m.pollers[projectID]
	if exists {
		delete(m.pollers, projectID)
	}
	m.pollersMu.Unlock()
	if exists {
		cancel()
	}
}

func (m *ConnectionManager) pollLoop(ctx context.Context, projectID string) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	var last *PollSnapshot

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snapshot, err := m.statusSource.PollSnapshot(ctx, projectID)
			if err != nil {
				pollFailuresTotal.WithLabelValues(projectID, "snapshot_error").Inc()
				slog.Warn("gateway: poll failed", "project_id", projectID, "error", err)
				continue
			}

			if last != nil && reflect.DeepEqual(*last, snapshot) {
				continue
			}
			last = &snapshot

			payload, err := json.Marshal(map[string]interface{}{
				"type":              "status.delta",
				"project_id":        projectID,
				"governance_status": snapshot.GovernanceStatus,
				"governed_tasks":    snapshot.GovernedTasks,
				"job_statuses":      snapshot.JobStatuses,
			})
			if err != nil {
				continue
			}
			m.broadcast(projectID, payload)
		}
	}
}

// Kick forces an immediate poll-and-broadcast for a project outside its
// regular tick, used when a hot file (the holistic flag, the context
// router) changes and a client shouldn't have to wait out the poll
// interval to see it. A no-op if nobody is connected to the project.
func (m *ConnectionManager) Kick(ctx context.Context, projectID string) {
	if m.ActiveConnections(projectID) == 0 {
		return
	}

	snapshot, err := m.statusSource.PollSnapshot(ctx, projectID)
	if err != nil {
		slog.Warn("gateway: kick poll failed", "project_id", projectID, "error", err)
		return
	}

	payload, err := json.Marshal(map[string]interface{}{
		"type":              "status.delta",
		"project_id":        projectID,
		"governance_status": snapshot.GovernanceStatus,
		"governed_tasks":    snapshot.GovernedTasks,
		"job_statuses":      snapshot.JobStatuses,
	})
	if err != nil {
		return
	}
	m.broadcast(projectID, payload)
}

// Shutdown stops every running poll loop.
func (m *ConnectionManager) Shutdown() {
	m.pollersMu.Lock()
	defer m.pollersMu.Unlock()
	for id, cancel := range m.pollers {
		cancel()
		delete(m.pollers, id)
	}
}
