package taskfile

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	avterrors "github.com/avt-project/avt/pkg/errors"
)

// Manager performs atomic CRUD on one-file-per-task JSON records, guarded
// by a per-task advisory lock file so concurrent agents never interleave
// writes to the same task.
type Manager struct {
	dir         string
	lockTimeout time.Duration
}

// NewManager creates the task directory if needed and returns a Manager
// rooted there.
func NewManager(dir string, lockTimeout time.Duration) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create task dir: %w", err)
	}
	if lockTimeout <= 0 {
		lockTimeout = 5 * time.Second
	}
	return &Manager{dir: dir, lockTimeout: lockTimeout}, nil
}

func (m *Manager) taskPath(id string) string {
	return filepath.Join(m.dir, id+".json")
}

func (m *Manager) lockPath(id string) string {
	return filepath.Join(m.dir, "."+id+".lock")
}

func (m *Manager) withLock(id string, fn func() error) error {
	ctx, cancel := context.WithTimeout(context.Background(), m.lockTimeout)
	defer cancel()

	lock := flock.New(m.lockPath(id))
	locked, err := lock.TryLockContext(ctx, 25*time.Millisecond)
	if err != nil {
		return fmt.Errorf("lock task %s: %w", id, err)
	}
	if !locked {
		return fmt.Errorf("lock task %s: timed out after %s", id, m.lockTimeout)
	}
	defer lock.Unlock() //nolint:errcheck
	return fn()
}

// NewTaskID generates a short random task id, matching the host schema's
// 8-hex-character convention.
func NewTaskID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// CreateTask writes a new task file atomically. CreatedAt/UpdatedAt are
// stamped if unset.
func (m *Manager) CreateTask(t Task) (Task, error) {
	now := float64(time.Now().UnixNano()) / 1e9
	if t.CreatedAt == 0 {
		t.CreatedAt = now
	}
	if t.UpdatedAt == 0 {
		t.UpdatedAt = now
	}
	if t.ActiveForm == "" {
		t.ActiveForm = "Working on " + t.Subject
	}
	if t.Status == "" {
		t.Status = StatusPending
	}
	if err := t.Validate(); err != nil {
		return Task{}, fmt.Errorf("invalid task: %w", err)
	}

	err := m.withLock(t.ID, func() error {
		return m.writeTask(t)
	})
	if err != nil {
		return Task{}, err
	}
	return t, nil
}

func (m *Manager) writeTask(t Task) error {
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	if err := os.WriteFile(m.taskPath(t.ID), data, 0o644); err != nil {
		return fmt.Errorf("write task file: %w", err)
	}
	return nil
}

// ReadTask loads a task by id. Returns avterrors.ErrNotFound if no such
// task file exists.
func (m *Manager) ReadTask(id string) (Task, error) {
	raw, err := os.ReadFile(m.taskPath(id))
	if os.IsNotExist(err) {
		return Task{}, avterrors.ErrNotFound
	}
	if err != nil {
		return Task{}, fmt.Errorf("read task file: %w", err)
	}
	var t Task
	if err := json.Unmarshal(raw, &t); err != nil {
		return Task{}, fmt.Errorf("unmarshal task file: %w", err)
	}
	return t, nil
}

// UpdateTask rewrites an existing task file atomically, bumping UpdatedAt.
func (m *Manager) UpdateTask(t Task) (Task, error) {
	t.UpdatedAt = float64(time.Now().UnixNano()) / 1e9
	err := m.withLock(t.ID, func() error {
		return m.writeTask(t)
	})
	if err != nil {
		return Task{}, err
	}
	return t, nil
}

// AddBlocker idempotently appends blockerID to a task's blockedBy list.
func (m *Manager) AddBlocker(taskID, blockerID string) (Task, error) {
	var result Task
	err := m.withLock(taskID, func() error {
		t, err := m.ReadTask(taskID)
		if err != nil {
			return err
		}
		if !containsString(t.BlockedBy, blockerID) {
			t.BlockedBy = append(t.BlockedBy, blockerID)
			t.UpdatedAt = float64(time.Now().UnixNano()) / 1e9
			if err := m.writeTask(t); err != nil {
				return err
			}
		}
		result = t
		return nil
	})
	return result, err
}

// RemoveBlocker idempotently removes blockerID from a task's blockedBy
// list.
func (m *Manager) RemoveBlocker(taskID, blockerID string) (Task, error) {
	var result Task
	err := m.withLock(taskID, func() error {
		t, err := m.ReadTask(taskID)
		if err != nil {
			return err
		}
		if containsString(t.BlockedBy, blockerID) {
			t.BlockedBy = removeString(t.BlockedBy, blockerID)
			t.UpdatedAt = float64(time.Now().UnixNano()) / 1e9
			if err := m.writeTask(t); err != nil {
				return err
			}
		}
		result = t
		return nil
	})
	return result, err
}

// CompleteTask marks a task completed.
func (m *Manager) CompleteTask(taskID string) (Task, error) {
	var result Task
	err := m.withLock(taskID, func() error {
		t, err := m.ReadTask(taskID)
		if err != nil {
			return err
		}
		t.Status = StatusCompleted
		t.UpdatedAt = float64(time.Now().UnixNano()) / 1e9
		if err := m.writeTask(t); err != nil {
			return err
		}
		result = t
		return nil
	})
	return result, err
}

// ListTasks returns every task file in the directory, best-effort: a task
// file that fails to parse is silently skipped rather than failing the
// whole listing.
func (m *Manager) ListTasks() ([]Task, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("read task dir: %w", err)
	}
	var tasks []Task
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".json") {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(m.dir, name))
		if err != nil {
			continue
		}
		var t Task
		if err := json.Unmarshal(raw, &t); err != nil {
			continue
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// GetPendingUnblockedTasks returns every task that is pending, has no
// blockers, and has no owner — i.e. available for an agent to pick up.
func (m *Manager) GetPendingUnblockedTasks() ([]Task, error) {
	all, err := m.ListTasks()
	if err != nil {
		return nil, err
	}
	var out []Task
	for _, t := range all {
		if t.Status == StatusPending && len(t.BlockedBy) == 0 && t.Owner == "" {
			out = append(out, t)
		}
	}
	return out, nil
}

func containsString(xs []string, x string) bool {
	for _, s := range xs {
		if s == x {
			return true
		}
	}
	return false
}

func removeString(xs []string, x string) []string {
	out := xs[:0]
	for _, s := range xs {
		if s != x {
			out = append(out, s)
		}
	}
	return out
}
