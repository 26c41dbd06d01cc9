package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadSessionIDParsesDataLine(t *testing.T) {
	reader := bufio.NewReader(strings.NewReader("event: endpoint\ndata: /messages/?session_id=abc123\n\n"))
	id, err := readSessionID(reader)
	require.NoError(t, err)
	assert.Equal(t, "abc123", id)
}

func TestReadSessionIDErrorsOnClosedStream(t *testing.T) {
	reader := bufio.NewReader(strings.NewReader(""))
	_, err := readSessionID(reader)
	assert.Error(t, err)
}

func TestUnwrapToolResultPrefersStructuredContent(t *testing.T) {
	result := map[string]interface{}{
		"structuredContent": map[string]interface{}{"result": []interface{}{"a", "b"}},
	}
	got := unwrapToolResult(result)
	assert.Equal(t, []interface{}{"a", "b"}, got)
}

func TestUnwrapToolResultFallsBackToStructuredContentItself(t *testing.T) {
	result := map[string]interface{}{
		"structuredContent": map[string]interface{}{"foo": "bar"},
	}
	got := unwrapToolResult(result)
	assert.Equal(t, map[string]interface{}{"foo": "bar"}, got)
}

func TestUnwrapToolResultParsesJSONTextContent(t *testing.T) {
	result := map[string]interface{}{
		"content": []interface{}{
			map[string]interface{}{"type": "text", "text": `{"ok":true}`},
		},
	}
	got := unwrapToolResult(result)
	assert.Equal(t, map[string]interface{}{"ok": true}, got)
}

func TestUnwrapToolResultReturnsPlainTextWhenNotJSON(t *testing.T) {
	result := map[string]interface{}{
		"content": []interface{}{
			map[string]interface{}{"type": "text", "text": "plain result"},
		},
	}
	got := unwrapToolResult(result)
	assert.Equal(t, "plain result", got)
}

func TestUnwrapToolResultReturnsRawWhenNoKnownShape(t *testing.T) {
	result := map[string]interface{}{"other": "value"}
	got := unwrapToolResult(result)
	assert.Equal(t, result, got)
}

// fakeMCPServer is a minimal FastMCP-shaped SSE+JSON-RPC server for
// exercising MCPConnection's handshake and tool-call round trip.
type fakeMCPServer struct {
	mu      sync.Mutex
	outbox  chan string
	fixture map[string]json.RawMessage
}

func newFakeMCPServer() *fakeMCPServer {
	return &fakeMCPServer{
		outbox:  make(chan string, 16),
		fixture: map[string]json.RawMessage{},
	}
}

func (f *fakeMCPServer) setFixture(method string, result interface{}) {
	raw, _ := json.Marshal(result)
	f.mu.Lock()
	f.fixture[method] = raw
	f.mu.Unlock()
}

func (f *fakeMCPServer) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "no flush support", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "data: /messages/?session_id=test-session\n\n")
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-f.outbox:
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", frame)
			flusher.Flush()
		}
	}
}

func (f *fakeMCPServer) handleMessages(w http.ResponseWriter, r *http.Request) {
	var req jsonRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusAccepted)

	if req.Method == "notifications/initialized" {
		return
	}

	f.mu.Lock()
	result, ok := f.fixture[req.Method]
	f.mu.Unlock()
	if !ok {
		result = json.RawMessage(`{}`)
	}

	resp := jsonRPCResponse{ID: req.ID, Result: result}
	raw, _ := json.Marshal(resp)
	f.outbox <- string(raw)
}

func newConnectedTestConnection(t *testing.T) (*MCPConnection, *fakeMCPServer, func()) {
	t.Helper()
	fake := newFakeMCPServer()
	mux := http.NewServeMux()
	mux.HandleFunc("/sse", fake.handleSSE)
	mux.HandleFunc("/messages/", fake.handleMessages)
	srv := httptest.NewServer(mux)

	conn := NewMCPConnection(srv.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, conn.Connect(ctx))

	return conn, fake, func() {
		conn.Disconnect()
		srv.Close()
	}
}

func TestMCPConnectionConnectPerformsHandshake(t *testing.T) {
	conn, _, cleanup := newConnectedTestConnection(t)
	defer cleanup()
	assert.True(t, conn.initialized)
}

func TestMCPConnectionCallToolUnwrapsStructuredContent(t *testing.T) {
	conn, fake, cleanup := newConnectedTestConnection(t)
	defer cleanup()

	fake.setFixture("tools/call", map[string]interface{}{
		"structuredContent": map[string]interface{}{"result": map[string]interface{}{"entities": []interface{}{"e1"}}},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	result, err := conn.CallTool(ctx, "get_entities_by_tier", map[string]interface{}{"tier": "vision"})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"entities": []interface{}{"e1"}}, result)
}

func TestMCPConnectionCallToolBeforeConnectErrors(t *testing.T) {
	conn := NewMCPConnection("http://127.0.0.1:0")
	_, err := conn.CallTool(context.Background(), "anything", nil)
	assert.Error(t, err)
}

func TestMCPClientConnectFailsWhenOneServerUnreachable(t *testing.T) {
	fake := newFakeMCPServer()
	mux := http.NewServeMux()
	mux.HandleFunc("/sse", fake.handleSSE)
	mux.HandleFunc("/messages/", fake.handleMessages)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewMCPClient(srv.URL, srv.URL, "http://127.0.0.1:1")
	err := client.Connect(context.Background())
	require.Error(t, err)
	assert.False(t, client.IsConnected())
}

func TestMCPClientCallToolDispatchesToNamedServer(t *testing.T) {
	fakeKG := newFakeMCPServer()
	muxKG := http.NewServeMux()
	muxKG.HandleFunc("/sse", fakeKG.handleSSE)
	muxKG.HandleFunc("/messages/", fakeKG.handleMessages)
	srvKG := httptest.NewServer(muxKG)
	defer srvKG.Close()

	fakeQuality := newFakeMCPServer()
	muxQuality := http.NewServeMux()
	muxQuality.HandleFunc("/sse", fakeQuality.handleSSE)
	muxQuality.HandleFunc("/messages/", fakeQuality.handleMessages)
	srvQuality := httptest.NewServer(muxQuality)
	defer srvQuality.Close()

	fakeGovernance := newFakeMCPServer()
	muxGovernance := http.NewServeMux()
	muxGovernance.HandleFunc("/sse", fakeGovernance.handleSSE)
	muxGovernance.HandleFunc("/messages/", fakeGovernance.handleMessages)
	srvGovernance := httptest.NewServer(muxGovernance)
	defer srvGovernance.Close()

	fakeKG.setFixture("tools/call", map[string]interface{}{"structuredContent": map[string]interface{}{"result": "kg-result"}})

	client := NewMCPClient(srvKG.URL, srvQuality.URL, srvGovernance.URL)
	require.NoError(t, client.Connect(context.Background()))
	defer client.Disconnect()

	result, err := client.CallTool(context.Background(), "knowledge-graph", "get_entities_by_tier", nil)
	require.NoError(t, err)
	assert.Equal(t, "kg-result", result)

	_, err = client.CallTool(context.Background(), "not-a-server", "x", nil)
	assert.Error(t, err)
}
