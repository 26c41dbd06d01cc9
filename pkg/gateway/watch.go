package gateway

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// hotFileWatcher watches a single running project's two highest-churn,
// poll-unfriendly files — the holistic-flag directory and the context
// router — and kicks an immediate broadcast on change instead of making
// WebSocket clients wait out the poll interval to see a gate flip or a
// router reload.
type hotFileWatcher struct {
	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
}

// startHotFileWatcher begins watching projectPath's .avt/pipeline
// directory (holistic-flag set/clear) and .avt/context/context-router.json
// (router regeneration), debouncing bursts of events into a single kick.
// Returns nil if the watcher cannot be created; a missing watcher degrades
// to poll-only staleness rather than failing project startup.
func startHotFileWatcher(projectID, projectPath string, conns *ConnectionManager) *hotFileWatcher {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Warn("gateway: fsnotify watcher unavailable, falling back to poll-only", "project_id", projectID, "error", err)
		return nil
	}

	holisticDir := filepath.Join(projectPath, ".avt", "pipeline")
	contextDir := filepath.Join(projectPath, ".avt", "context")
	for _, dir := range []string{holisticDir, contextDir} {
		if err := w.Add(dir); err != nil {
			slog.Debug("gateway: fsnotify add failed, directory may not exist yet", "path", dir, "error", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	go watchLoop(ctx, w, projectID, conns)

	return &hotFileWatcher{watcher: w, cancel: cancel}
}

func watchLoop(ctx context.Context, w *fsnotify.Watcher, projectID string, conns *ConnectionManager) {
	var debounce *time.Timer
	kick := func() {
		kickCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		conns.Kick(kickCtx, projectID)
	}

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return
		case _, ok := <-w.Events:
			if !ok {
				return
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(200*time.Millisecond, kick)
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			slog.Warn("gateway: fsnotify error", "project_id", projectID, "error", err)
		}
	}
}

func (h *hotFileWatcher) close() {
	if h == nil {
		return
	}
	h.cancel()
	_ = h.watcher.Close()
}
