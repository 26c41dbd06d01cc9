package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// mcpRequestTimeout bounds how long a single tools/call JSON-RPC round
// trip may take before the caller gives up.
const mcpRequestTimeout = 30 * time.Second

type jsonRPCRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int         `json:"id,omitempty"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

type jsonRPCResponse struct {
	ID     int             `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Message string `json:"message"`
	} `json:"error"`
}

type pendingCall struct {
	resultCh chan json.RawMessage
	errCh    chan error
}

// MCPConnection is one long-lived SSE connection to a single FastMCP
// server: GET /sse establishes a session id, then JSON-RPC requests are
// POSTed to /messages/?session_id=<id> and their responses arrive as
// `event: message` SSE frames matched back to the request by id.
type MCPConnection struct {
	baseURL      string
	httpClient   *http.Client
	messagesURL  string
	initialized  bool
	nextID       int
	mu           sync.Mutex
	pending      map[int]*pendingCall
	cancelReader context.CancelFunc
}

// NewMCPConnection builds an unconnected client for baseURL.
func NewMCPConnection(baseURL string) *MCPConnection {
	return &MCPConnection{
		baseURL:    baseURL,
		httpClient: &http.Client{},
		nextID:     1,
		pending:    map[int]*pendingCall{},
	}
}

// Connect opens the SSE stream, reads the session id from the first
// data line, starts the background event reader, and performs the MCP
// initialize/initialized handshake.
func (c *MCPConnection) Connect(ctx context.Context) error {
	streamCtx, cancel := context.WithCancel(context.Background())

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, c.baseURL+"/sse", nil)
	if err != nil {
		cancel()
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		cancel()
		return fmt.Errorf("SSE connection failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		cancel()
		resp.Body.Close()
		return fmt.Errorf("SSE connection failed (status %d)", resp.StatusCode)
	}

	reader := bufio.NewReader(resp.Body)

	sessionID, err := readSessionID(reader)
	if err != nil {
		cancel()
		resp.Body.Close()
		return err
	}
	c.messagesURL = fmt.Sprintf("%s/messages/?session_id=%s", c.baseURL, sessionID)
	c.cancelReader = func() {
		cancel()
		resp.Body.Close()
	}

	go c.eventReader(reader)

	if err := c.initialize(ctx); err != nil {
		c.Disconnect()
		return err
	}
	return nil
}

// readSessionID scans SSE lines until a `data: ...session_id=<id>` line
// appears.
func readSessionID(reader *bufio.Reader) (string, error) {
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if line == "" {
				return "", fmt.Errorf("SSE stream ended before session ID: %w", err)
			}
		}
		line = strings.TrimRight(line, "\r\n")
		if strings.HasPrefix(line, "data:") {
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if idx := strings.Index(data, "session_id="); idx >= 0 {
				return data[idx+len("session_id="):], nil
			}
		}
		if err != nil {
			return "", fmt.Errorf("SSE stream ended before session ID: %w", err)
		}
	}
}

// eventReader is the background goroutine that reads `event: message`
// SSE frames and resolves pending requests by id. It runs until the
// stream closes or Disconnect cancels it.
func (c *MCPConnection) eventReader(reader *bufio.Reader) {
	currentEvent := ""
	for {
		line, err := reader.ReadString('\n')
		trimmed := strings.TrimRight(line, "\r\n")

		switch {
		case strings.HasPrefix(trimmed, "event:"):
			currentEvent = strings.TrimSpace(strings.TrimPrefix(trimmed, "event:"))
		case strings.HasPrefix(trimmed, "data:") && currentEvent == "message":
			dataStr := strings.TrimSpace(strings.TrimPrefix(trimmed, "data:"))
			var rpcResp jsonRPCResponse
			if jsonErr := json.Unmarshal([]byte(dataStr), &rpcResp); jsonErr != nil {
				slog.Warn("mcp: failed to parse SSE data", "error", jsonErr)
			} else {
				c.handleResponse(rpcResp)
			}
			currentEvent = ""
		}

		if err != nil {
			if err != io.EOF {
				slog.Warn("mcp: SSE reader error", "error", err)
			}
			c.rejectAllPending(fmt.Errorf("connection closed"))
			return
		}
	}
}

func (c *MCPConnection) handleResponse(resp jsonRPCResponse) {
	c.mu.Lock()
	call, ok := c.pending[resp.ID]
	if ok {
		delete(c.pending, resp.ID)
	}
	c.mu.Unlock()

	if !ok {
		return
	}
	if resp.Error != nil {
		call.errCh <- fmt.Errorf("%s", resp.Error.Message)
		return
	}
	call.resultCh <- resp.Result
}

func (c *MCPConnection) rejectAllPending(err error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = map[int]*pendingCall{}
	c.mu.Unlock()

	for _, call := range pending {
		call.errCh <- err
	}
}

func (c *MCPConnection) initialize(ctx context.Context) error {
	_, err := c.sendRequest(ctx, "initialize", map[string]interface{}{
		"protocolVersion": "2024-11-05",
		"capabilities":    map[string]interface{}{},
		"clientInfo":      map[string]interface{}{"name": "avt-gateway", "version": "0.1.0"},
	})
	if err != nil {
		return err
	}

	notif := jsonRPCRequest{JSONRPC: "2.0", Method: "notifications/initialized"}
	raw, _ := json.Marshal(notif)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.messagesURL, strings.NewReader(string(raw)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()

	c.initialized = true
	return nil
}

// CallTool invokes tools/call for name with args and unwraps the MCP
// structuredContent/content envelope, matching the reference client's
// result-unwrapping rules.
func (c *MCPConnection) CallTool(ctx context.Context, name string, args map[string]interface{}) (interface{}, error) {
	if !c.initialized {
		return nil, fmt.Errorf("mcp connection not initialized")
	}

	raw, err := c.sendRequest(ctx, "tools/call", map[string]interface{}{"name": name, "arguments": args})
	if err != nil {
		return nil, err
	}

	var result map[string]interface{}
	if err := json.Unmarshal(raw, &result); err != nil {
		var passthrough interface{}
		_ = json.Unmarshal(raw, &passthrough)
		return passthrough, nil
	}
	return unwrapToolResult(result), nil
}

func unwrapToolResult(result map[string]interface{}) interface{} {
	if sc, ok := result["structuredContent"].(map[string]interface{}); ok {
		if r, ok := sc["result"]; ok {
			return r
		}
		return sc
	}
	if content, ok := result["content"].([]interface{}); ok {
		for _, item := range content {
			block, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			if block["type"] == "text" {
				if text, ok := block["text"].(string); ok && text != "" {
					var parsed interface{}
					if json.Unmarshal([]byte(text), &parsed) == nil {
						return parsed
					}
					return text
				}
			}
		}
	}
	return result
}

func (c *MCPConnection) sendRequest(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	if c.messagesURL == "" {
		return nil, fmt.Errorf("not connected")
	}

	c.mu.Lock()
	id := c.nextID
	c.nextID++
	call := &pendingCall{resultCh: make(chan json.RawMessage, 1), errCh: make(chan error, 1)}
	c.pending[id] = call
	c.mu.Unlock()

	reqBody := jsonRPCRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}
	raw, err := json.Marshal(reqBody)
	if err != nil {
		c.dropPending(id)
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.messagesURL, strings.NewReader(string(raw)))
	if err != nil {
		c.dropPending(id)
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.dropPending(id)
		return nil, err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		c.dropPending(id)
		return nil, fmt.Errorf("POST failed with status %d", resp.StatusCode)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, mcpRequestTimeout)
	defer cancel()

	select {
	case result := <-call.resultCh:
		return result, nil
	case err := <-call.errCh:
		return nil, err
	case <-timeoutCtx.Done():
		c.dropPending(id)
		return nil, fmt.Errorf("request %s timed out after %s", method, mcpRequestTimeout)
	}
}

func (c *MCPConnection) dropPending(id int) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// Disconnect closes the SSE stream and rejects all pending calls.
func (c *MCPConnection) Disconnect() {
	if c.cancelReader != nil {
		c.cancelReader()
	}
	c.initialized = false
	c.rejectAllPending(fmt.Errorf("connection closed"))
}

// MCPClient manages the three named server connections (knowledge-graph,
// quality, governance) a project's gateway state needs.
type MCPClient struct {
	KG         *MCPConnection
	Quality    *MCPConnection
	Governance *MCPConnection
	connected  bool
}

// NewMCPClient builds an MCPClient targeting the three server URLs.
func NewMCPClient(kgURL, qualityURL, governanceURL string) *MCPClient {
	return &MCPClient{
		KG:         NewMCPConnection(kgURL),
		Quality:    NewMCPConnection(qualityURL),
		Governance: NewMCPConnection(governanceURL),
	}
}

// Connect dials all three servers. If any fail, every connection already
// established is torn down and an error naming the failures is
// returned — the gateway requires all three servers up, matching the
// reference implementation's "all servers must be running" contract.
func (m *MCPClient) Connect(ctx context.Context) error {
	type attempt struct {
		name string
		conn *MCPConnection
		err  error
	}
	attempts := []attempt{
		{name: "knowledge-graph", conn: m.KG},
		{name: "quality", conn: m.Quality},
		{name: "governance", conn: m.Governance},
	}

	var failed []string
	for i := range attempts {
		if err := attempts[i].conn.Connect(ctx); err != nil {
			attempts[i].err = err
			failed = append(failed, attempts[i].name)
		}
	}

	if len(failed) > 0 {
		m.Disconnect()
		return fmt.Errorf("mcp servers unavailable: %s", strings.Join(failed, ", "))
	}

	m.connected = true
	return nil
}

// IsConnected reports whether all three servers were successfully dialed.
func (m *MCPClient) IsConnected() bool { return m.connected }

// Disconnect tears down all three connections.
func (m *MCPClient) Disconnect() {
	m.KG.Disconnect()
	m.Quality.Disconnect()
	m.Governance.Disconnect()
	m.connected = false
}

// CallTool dispatches to the named server's connection.
func (m *MCPClient) CallTool(ctx context.Context, server, tool string, args map[string]interface{}) (interface{}, error) {
	var conn *MCPConnection
	switch server {
	case "knowledge-graph":
		conn = m.KG
	case "quality":
		conn = m.Quality
	case "governance":
		conn = m.Governance
	default:
		return nil, fmt.Errorf("unknown mcp server %q", server)
	}
	return conn.CallTool(ctx, tool, args)
}
