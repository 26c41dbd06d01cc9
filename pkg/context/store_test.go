package context

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIncrementCallCounterStartsAtOneAndAccumulates(t *testing.T) {
	s := NewStore(t.TempDir())

	assert.Equal(t, 1, s.IncrementCallCounter("sess-1"))
	assert.Equal(t, 2, s.IncrementCallCounter("sess-1"))
	assert.Equal(t, 3, s.IncrementCallCounter("sess-1"))
	assert.Equal(t, 1, s.IncrementCallCounter("sess-2"))
}

func TestLoadInjectionHistoryMissingFileReturnsNil(t *testing.T) {
	s := NewStore(t.TempDir())
	assert.Nil(t, s.LoadInjectionHistory("sess-1"))
}

func TestRecordInjectionDedupsByRouteID(t *testing.T) {
	s := NewStore(t.TempDir())
	t1 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Minute)

	s.RecordInjection("sess-1", "route-a", t1)
	history := s.RecordInjection("sess-1", "route-a", t2)

	require.Len(t, history, 1)
	assert.Equal(t, "route-a", history[0].RouteID)
	assert.True(t, history[0].Timestamp.Equal(t2))
}

func TestRecordInjectionKeepsDistinctRoutes(t *testing.T) {
	s := NewStore(t.TempDir())
	now := time.Now().UTC()

	s.RecordInjection("sess-1", "route-a", now)
	history := s.RecordInjection("sess-1", "route-b", now)

	require.Len(t, history, 2)
}

func TestSaveAndLoadSessionContextRoundTrips(t *testing.T) {
	s := NewStore(t.TempDir())
	sc := &SessionContext{
		Version:   1,
		SessionID: "sess-1",
		Distillation: Distillation{
			Status:    "ready",
			KeyPoints: []KeyPoint{{ID: "kp-1", Text: "build the thing", Status: "active"}},
		},
	}

	require.NoError(t, s.SaveSessionContext("sess-1", sc))

	loaded := s.LoadSessionContext("sess-1")
	require.NotNil(t, loaded)
	assert.Equal(t, "sess-1", loaded.SessionID)
	assert.Equal(t, "ready", loaded.Distillation.Status)
}

func TestLoadSessionContextRejectsUnreadyDistillation(t *testing.T) {
	s := NewStore(t.TempDir())
	sc := &SessionContext{SessionID: "sess-1", Distillation: Distillation{Status: "pending"}}
	require.NoError(t, s.SaveSessionContext("sess-1", sc))

	assert.Nil(t, s.LoadSessionContext("sess-1"))
}

func TestSessionContextExistsIgnoresDistillationStatus(t *testing.T) {
	s := NewStore(t.TempDir())
	sc := &SessionContext{SessionID: "sess-1", Distillation: Distillation{Status: "pending"}}
	require.NoError(t, s.SaveSessionContext("sess-1", sc))

	assert.True(t, s.SessionContextExists("sess-1"))
	assert.Nil(t, s.LoadSessionContext("sess-1"))
	assert.False(t, s.SessionContextExists("sess-nonexistent"))
}

func TestBumpInjectionCountIncrementsAndStampsTime(t *testing.T) {
	s := NewStore(t.TempDir())
	sc := &SessionContext{SessionID: "sess-1", Distillation: Distillation{Status: "ready"}}
	require.NoError(t, s.SaveSessionContext("sess-1", sc))

	count := s.BumpInjectionCount("sess-1")
	assert.Equal(t, 1, count)

	loaded := s.LoadSessionContext("sess-1")
	require.NotNil(t, loaded)
	assert.Equal(t, 1, loaded.InjectionCount)
	require.NotNil(t, loaded.LastInjectedAt)
}

func TestBumpInjectionCountReturnsZeroWhenFileMissing(t *testing.T) {
	s := NewStore(t.TempDir())
	assert.Equal(t, 0, s.BumpInjectionCount("sess-missing"))
}

func TestLoadRouterMissingFileReturnsNil(t *testing.T) {
	s := NewStore(t.TempDir())
	assert.Nil(t, s.LoadRouter())
}

func TestLoadRouterMalformedReturnsNil(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "context-router.json"), []byte("not json"), 0o644))

	assert.Nil(t, s.LoadRouter())
}
