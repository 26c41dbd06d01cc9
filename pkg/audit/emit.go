package audit

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Emitter appends audit events to an append-only JSONL file. Emission must
// never block or fail the caller: every error is logged and swallowed.
type Emitter struct {
	path string
	mu   sync.Mutex
}

// NewEmitter builds an emitter writing to path, creating its parent
// directory eagerly.
func NewEmitter(path string) *Emitter {
	if dir := filepath.Dir(path); dir != "." {
		_ = os.MkdirAll(dir, 0o755)
	}
	return &Emitter{path: path}
}

// Emit appends one event. sessionID may be empty for events with no
// session affinity.
func (e *Emitter) Emit(eventType string, data map[string]interface{}, source, sessionID string) {
	now := time.Now().UTC()
	event := Event{
		Ts:        float64(now.UnixNano()) / 1e9,
		TsISO:     now.Format("2006-01-02T15:04:05Z"),
		Type:      eventType,
		Source:    source,
		SessionID: sessionID,
		Data:      data,
	}

	line, err := json.Marshal(event)
	if err != nil {
		slog.Error("audit emit: marshal event", "type", eventType, "error", err)
		return
	}
	line = append(line, '\n')

	e.mu.Lock()
	defer e.mu.Unlock()

	f, err := os.OpenFile(e.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		slog.Error("audit emit: open events file", "path", e.path, "error", err)
		return
	}
	defer f.Close()

	if _, err := f.Write(line); err != nil {
		slog.Error("audit emit: append event", "path", e.path, "error", err)
	}
}
