package gateway

import (
	"database/sql"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// TaskCounts summarizes task briefs found on disk.
type TaskCounts struct {
	Active int `json:"active"`
	Total  int `json:"total"`
}

// Agent is one agent definition detected under .claude/agents/.
type Agent struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Role   string `json:"role"`
	Status string `json:"status"`
}

// SessionState reflects the project's .avt/session-state.md file.
type SessionState struct {
	Phase           string   `json:"phase"`
	LastCheckpoint  string   `json:"lastCheckpoint,omitempty"`
	ActiveWorktrees []string `json:"activeWorktrees,omitempty"`
}

// HookGovernanceStatus summarizes the governance database's
// interception activity, read directly since the gateway process
// doesn't otherwise hold a handle on a project's governance store.
type HookGovernanceStatus struct {
	TotalInterceptions  int                 `json:"totalInterceptions"`
	LastInterceptionAt  string              `json:"lastInterceptionAt,omitempty"`
	RecentInterceptions []GovernedTaskBrief `json:"recentInterceptions"`
}

// GovernedTaskBrief is a minimal task record for the dashboard's recent
// interceptions list.
type GovernedTaskBrief struct {
	Timestamp string `json:"timestamp"`
	Subject   string `json:"subject"`
}

// FileService reads the filesystem-derived dashboard fields that are
// always available, independent of whether a project's MCP servers are
// connected.
type FileService struct {
	projectDir string
	avtRoot    string
}

// NewFileService builds a FileService rooted at projectDir.
func NewFileService(projectDir string) *FileService {
	return &FileService{projectDir: projectDir, avtRoot: filepath.Join(projectDir, ".avt")}
}

// ReadSessionState parses .avt/session-state.md's phase/checkpoint/worktree
// markers.
func (f *FileService) ReadSessionState() SessionState {
	raw, err := os.ReadFile(filepath.Join(f.avtRoot, "session-state.md"))
	if err != nil {
		return SessionState{Phase: "inactive"}
	}

	state := SessionState{Phase: "inactive"}
	for _, line := range strings.Split(string(raw), "\n") {
		switch {
		case strings.HasPrefix(line, "## Phase:"):
			state.Phase = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(line, "## Phase:")))
		case strings.HasPrefix(line, "## Checkpoint:"):
			state.LastCheckpoint = strings.TrimSpace(strings.TrimPrefix(line, "## Checkpoint:"))
		case strings.HasPrefix(line, "- worktree:"):
			state.ActiveWorktrees = append(state.ActiveWorktrees, strings.TrimSpace(strings.TrimPrefix(line, "- worktree:")))
		}
	}
	return state
}

// CountTasks counts total and "active" task briefs under
// .avt/task-briefs/.
func (f *FileService) CountTasks() TaskCounts {
	dir := filepath.Join(f.avtRoot, "task-briefs")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return TaskCounts{}
	}

	var counts TaskCounts
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		counts.Total++
		raw, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		content := strings.ToLower(string(raw))
		if strings.Contains(content, "status: active") {
			counts.Active++
		}
	}
	return counts
}

// DetectAgents lists agent definitions under .claude/agents/.
func (f *FileService) DetectAgents() []Agent {
	dir := filepath.Join(f.projectDir, ".claude", "agents")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return []Agent{}
	}

	agents := []Agent{}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ".md")
		agents = append(agents, Agent{
			ID:     name,
			Name:   titleCaseHyphenated(name),
			Role:   name,
			Status: "idle",
		})
	}
	return agents
}

func titleCaseHyphenated(name string) string {
	parts := strings.Split(name, "-")
	for i, p := range parts {
		if p == "" {
			continue
		}
		parts[i] = strings.ToUpper(p[:1]) + p[1:]
	}
	return strings.Join(parts, " ")
}

// ReadHookGovernanceStatus queries .avt/governance.db directly for a
// quick interception summary, returning nil if the store doesn't exist
// or lacks the expected table (e.g. before first governed task).
func (f *FileService) ReadHookGovernanceStatus() *HookGovernanceStatus {
	dbPath := filepath.Join(f.avtRoot, "governance.db")
	if _, err := os.Stat(dbPath); err != nil {
		return nil
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil
	}
	defer db.Close()

	var tableName string
	err = db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name='governed_tasks'`).Scan(&tableName)
	if err != nil {
		return nil
	}

	var total int
	if err := db.QueryRow(`SELECT COUNT(*) FROM governed_tasks`).Scan(&total); err != nil {
		return nil
	}

	rows, err := db.Query(`SELECT created_at, subject FROM governed_tasks ORDER BY created_at DESC LIMIT 5`)
	if err != nil {
		return nil
	}
	defer rows.Close()

	status := &HookGovernanceStatus{TotalInterceptions: total, RecentInterceptions: []GovernedTaskBrief{}}
	for rows.Next() {
		var rec GovernedTaskBrief
		if err := rows.Scan(&rec.Timestamp, &rec.Subject); err != nil {
			continue
		}
		status.RecentInterceptions = append(status.RecentInterceptions, rec)
	}
	if len(status.RecentInterceptions) > 0 {
		status.LastInterceptionAt = status.RecentInterceptions[0].Timestamp
	}
	return status
}
