package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Server serves one Registry over the legacy FastMCP SSE transport: one
// GET /sse stream per connected client, with JSON-RPC requests arriving
// via POST /messages/?session_id=<id> and responses flowing back as SSE
// frames on the matching stream.
type Server struct {
	name     string
	version  string
	registry *Registry

	mu       sync.Mutex
	sessions map[string]*session
}

type session struct {
	outbox chan []byte
}

// NewServer builds a Server. name/version are reported in the
// initialize handshake's serverInfo.
func NewServer(name, version string, registry *Registry) *Server {
	return &Server{name: name, version: version, registry: registry, sessions: map[string]*session{}}
}

// Handler returns the http.Handler to mount at the server's root: it
// answers GET /sse and POST /messages/.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/sse", s.handleSSE)
	mux.HandleFunc("/messages/", s.handleMessages)
	return mux
}

func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	sessionID := uuid.NewString()
	sess := &session{outbox: make(chan []byte, 32)}

	s.mu.Lock()
	s.sessions[sessionID] = sess
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.sessions, sessionID)
		s.mu.Unlock()
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	fmt.Fprintf(w, "data: /messages/?session_id=%s\n\n", sessionID)
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-sess.outbox:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", frame)
			flusher.Flush()
		}
	}
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")

	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	s.mu.Unlock()
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}

	var req jsonRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request", http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusAccepted)

	if req.Method == "notifications/initialized" {
		return
	}

	go s.dispatch(r.Context(), sess, req)
}

func (s *Server) dispatch(ctx context.Context, sess *session, req jsonRPCRequest) {
	resp := jsonRPCResponse{JSONRPC: "2.0", ID: req.ID}

	switch req.Method {
	case "initialize":
		resp.Result = map[string]interface{}{
			"protocolVersion": "2024-11-05",
			"capabilities":    map[string]interface{}{"tools": map[string]interface{}{}},
			"serverInfo":      map[string]interface{}{"name": s.name, "version": s.version},
		}
	case "tools/list":
		resp.Result = map[string]interface{}{"tools": s.registry.list()}
	case "tools/call":
		result, err := s.callTool(ctx, req.Params)
		if err != nil {
			resp.Result = toolCallResult{Content: []contentBlock{{Type: "text", Text: err.Error()}}, IsError: true}
		} else {
			raw, marshalErr := json.Marshal(result)
			text := ""
			if marshalErr == nil {
				text = string(raw)
			}
			resp.Result = toolCallResult{
				Content:           []contentBlock{{Type: "text", Text: text}},
				StructuredContent: map[string]interface{}{"result": result},
			}
		}
	default:
		resp.Error = &rpcError{Code: -32601, Message: "method not found: " + req.Method}
	}

	frame, err := json.Marshal(resp)
	if err != nil {
		slog.Error("mcpserver: failed to marshal response", "error", err)
		return
	}

	select {
	case sess.outbox <- frame:
	case <-time.After(5 * time.Second):
		slog.Warn("mcpserver: dropped response, client not draining outbox", "method", req.Method)
	}
}

func (s *Server) callTool(ctx context.Context, rawParams json.RawMessage) (interface{}, error) {
	var params ToolsCallParams
	if err := json.Unmarshal(rawParams, &params); err != nil {
		return nil, fmt.Errorf("malformed tools/call params: %w", err)
	}

	tool, ok := s.registry.get(params.Name)
	if !ok {
		return nil, fmt.Errorf("unknown tool %q", params.Name)
	}
	return tool.Handler(ctx, params.Arguments)
}
