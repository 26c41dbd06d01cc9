package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStatusSource struct {
	snapshot PollSnapshot
	err      error
}

func (f *fakeStatusSource) PollSnapshot(ctx context.Context, projectID string) (PollSnapshot, error) {
	return f.snapshot, f.err
}

func newWSTestServer(t *testing.T, manager *ConnectionManager, projectID string) (*httptest.Server, string) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		manager.HandleConnection(r.Context(), projectID, conn)
	}))
	return srv, "ws" + srv.URL[len("http"):]
}

func waitForActiveConnections(t *testing.T, m *ConnectionManager, projectID string, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m.ActiveConnections(projectID) == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("ActiveConnections(%s) never reached %d", projectID, want)
}

func TestHandleConnectionRegistersAndUnregisters(t *testing.T) {
	manager := NewConnectionManager(&fakeStatusSource{})
	defer manager.Shutdown()
	srv, wsURL := newWSTestServer(t, manager, "proj-1")
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)

	waitForActiveConnections(t, manager, "proj-1", 1)

	conn.Close(websocket.StatusNormalClosure, "")
	waitForActiveConnections(t, manager, "proj-1", 0)
}

func TestBroadcastDeliversToRegisteredConnections(t *testing.T) {
	manager := NewConnectionManager(&fakeStatusSource{})
	defer manager.Shutdown()
	srv, wsURL := newWSTestServer(t, manager, "proj-1")
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	waitForActiveConnections(t, manager, "proj-1", 1)

	manager.broadcast("proj-1", []byte(`{"type":"job_status"}`))

	readCtx, readCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer readCancel()
	_, data, err := conn.Read(readCtx)
	require.NoError(t, err)

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &payload))
	assert.Equal(t, "job_status", payload["type"])
}

func TestBroadcastToUnknownProjectIsNoOp(t *testing.T) {
	manager := NewConnectionManager(&fakeStatusSource{})
	defer manager.Shutdown()
	manager.broadcast("no-such-project", []byte(`{}`))
}

func TestStartPollerIsIdempotentPerProject(t *testing.T) {
	manager := NewConnectionManager(&fakeStatusSource{})
	defer manager.Shutdown()

	manager.startPoller("proj-1")
	manager.pollersMu.Lock()
	first := manager.pollers["proj-1"]
	count := len(manager.pollers)
	manager.pollersMu.Unlock()
	require.NotNil(t, first)
	assert.Equal(t, 1, count)

	manager.startPoller("proj-1")
	manager.pollersMu.Lock()
	assert.Equal(t, 1, len(manager.pollers))
	manager.pollersMu.Unlock()

	manager.stopPoller("proj-1")
	manager.pollersMu.Lock()
	_, exists := manager.pollers["proj-1"]
	manager.pollersMu.Unlock()
	assert.False(t, exists)
}

func TestShutdownStopsAllPollers(t *testing.T) {
	manager := NewConnectionManager(&fakeStatusSource{})
	manager.startPoller("proj-1")
	manager.startPoller("proj-2")

	manager.Shutdown()

	manager.pollersMu.Lock()
	defer manager.pollersMu.Unlock()
	assert.Empty(t, manager.pollers)
}
