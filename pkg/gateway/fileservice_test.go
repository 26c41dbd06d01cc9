package gateway

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadSessionStateDefaultsToInactiveWhenMissing(t *testing.T) {
	fs := NewFileService(t.TempDir())
	state := fs.ReadSessionState()
	assert.Equal(t, "inactive", state.Phase)
}

func TestReadSessionStateParsesMarkers(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".avt"), 0o755))
	content := "## Phase: Implementation\n## Checkpoint: wired gateway routes\n- worktree: feature/gateway\n- worktree: feature/audit\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".avt", "session-state.md"), []byte(content), 0o644))

	fs := NewFileService(dir)
	state := fs.ReadSessionState()
	assert.Equal(t, "implementation", state.Phase)
	assert.Equal(t, "wired gateway routes", state.LastCheckpoint)
	assert.Equal(t, []string{"feature/gateway", "feature/audit"}, state.ActiveWorktrees)
}

func TestCountTasksCountsActiveCaseInsensitively(t *testing.T) {
	dir := t.TempDir()
	briefsDir := filepath.Join(dir, ".avt", "task-briefs")
	require.NoError(t, os.MkdirAll(briefsDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(briefsDir, "a.md"), []byte("Status: ACTIVE\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(briefsDir, "b.md"), []byte("status: done\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(briefsDir, "ignore.txt"), []byte("status: active"), 0o644))

	fs := NewFileService(dir)
	counts := fs.CountTasks()
	assert.Equal(t, 2, counts.Total)
	assert.Equal(t, 1, counts.Active)
}

func TestCountTasksReturnsZeroWhenDirMissing(t *testing.T) {
	fs := NewFileService(t.TempDir())
	assert.Equal(t, TaskCounts{}, fs.CountTasks())
}

func TestDetectAgentsTitleCasesHyphenatedNames(t *testing.T) {
	dir := t.TempDir()
	agentsDir := filepath.Join(dir, ".claude", "agents")
	require.NoError(t, os.MkdirAll(agentsDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(agentsDir, "code-reviewer.md"), []byte("x"), 0o644))

	fs := NewFileService(dir)
	agents := fs.DetectAgents()
	require.Len(t, agents, 1)
	assert.Equal(t, "code-reviewer", agents[0].ID)
	assert.Equal(t, "Code Reviewer", agents[0].Name)
	assert.Equal(t, "idle", agents[0].Status)
}

func TestReadHookGovernanceStatusReturnsNilWhenDBMissing(t *testing.T) {
	fs := NewFileService(t.TempDir())
	assert.Nil(t, fs.ReadHookGovernanceStatus())
}

func TestReadHookGovernanceStatusReturnsNilWhenTableMissing(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".avt"), 0o755))
	dbPath := filepath.Join(dir, ".avt", "governance.db")
	db, err := sql.Open("sqlite", dbPath)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE unrelated (id INTEGER)`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	fs := NewFileService(dir)
	assert.Nil(t, fs.ReadHookGovernanceStatus())
}

func TestReadHookGovernanceStatusSummarizesRecentInterceptions(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".avt"), 0o755))
	dbPath := filepath.Join(dir, ".avt", "governance.db")
	db, err := sql.Open("sqlite", dbPath)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE governed_tasks (created_at TEXT, subject TEXT)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO governed_tasks (created_at, subject) VALUES
		('2026-01-01T00:00:00Z', 'first'),
		('2026-01-02T00:00:00Z', 'second')`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	fs := NewFileService(dir)
	status := fs.ReadHookGovernanceStatus()
	require.NotNil(t, status)
	assert.Equal(t, 2, status.TotalInterceptions)
	require.Len(t, status.RecentInterceptions, 2)
	assert.Equal(t, "2026-01-02T00:00:00Z", status.LastInterceptionAt)
}
