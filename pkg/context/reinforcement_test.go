package context

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSpawner struct {
	calls []struct {
		sessionID      string
		transcriptPath string
		refresh        bool
	}
}

func (f *fakeSpawner) SpawnDistillation(sessionID, transcriptPath string, refresh bool) {
	f.calls = append(f.calls, struct {
		sessionID      string
		transcriptPath string
		refresh        bool
	}{sessionID, transcriptPath, refresh})
}

func newTestHook(t *testing.T, settings Settings) (*Hook, *Store, *fakeSpawner) {
	store := NewStore(t.TempDir())
	spawner := &fakeSpawner{}
	return NewHook(store, settings, spawner), store, spawner
}

func belowThresholdSettings() Settings {
	s := DefaultSettings()
	s.ToolCallThreshold = 3
	return s
}

func TestProcessBelowThresholdReturnsNil(t *testing.T) {
	hook, _, _ := newTestHook(t, belowThresholdSettings())

	injection := hook.Process(HookInput{SessionID: "sess-1", ToolInput: map[string]interface{}{}})
	assert.Nil(t, injection)
}

func TestProcessDisabledAlwaysReturnsNil(t *testing.T) {
	settings := belowThresholdSettings()
	settings.Enabled = false
	hook, _, _ := newTestHook(t, settings)

	for i := 0; i < 10; i++ {
		assert.Nil(t, hook.Process(HookInput{SessionID: "sess-1"}))
	}
}

func TestProcessAtThresholdWithNoSessionContextSpawnsInitialDistillation(t *testing.T) {
	hook, store, spawner := newTestHook(t, belowThresholdSettings())

	for i := 0; i < 2; i++ {
		hook.Process(HookInput{SessionID: "sess-1", TranscriptPath: "/tmp/transcript.jsonl"})
	}
	injection := hook.Process(HookInput{SessionID: "sess-1", TranscriptPath: "/tmp/transcript.jsonl"})

	assert.Nil(t, injection)
	require.Len(t, spawner.calls, 1)
	assert.False(t, spawner.calls[0].refresh)
	assert.False(t, store.SessionContextExists("sess-1"))
}

func TestProcessLayer1InjectsActiveGoalsAndRespectsDebounce(t *testing.T) {
	hook, store, _ := newTestHook(t, belowThresholdSettings())

	sc := &SessionContext{
		SessionID: "sess-1",
		Distillation: Distillation{
			Status:    "ready",
			KeyPoints: []KeyPoint{{ID: "kp-1", Text: "implement the widget", Status: "active"}},
		},
	}
	require.NoError(t, store.SaveSessionContext("sess-1", sc))

	input := HookInput{SessionID: "sess-1", TranscriptPath: "/tmp/t.jsonl"}
	for i := 0; i < 2; i++ {
		hook.Process(input)
	}
	injection := hook.Process(input)
	require.NotNil(t, injection)
	assert.Contains(t, injection.Text, "implement the widget")

	// Immediately after, still under debounce — no repeat injection even
	// though the call count keeps climbing past threshold.
	second := hook.Process(input)
	assert.Nil(t, second)
}

func TestProcessLayer1SkipsWhenAllGoalsCompletedAndNoDiscoveries(t *testing.T) {
	hook, store, _ := newTestHook(t, belowThresholdSettings())

	sc := &SessionContext{
		SessionID: "sess-1",
		Distillation: Distillation{
			Status:    "ready",
			KeyPoints: []KeyPoint{{ID: "kp-1", Text: "done thing", Status: "completed"}},
		},
	}
	require.NoError(t, store.SaveSessionContext("sess-1", sc))

	input := HookInput{SessionID: "sess-1", ToolInput: map[string]interface{}{}}
	for i := 0; i < 2; i++ {
		hook.Process(input)
	}
	assert.Nil(t, hook.Process(input))
}

func TestProcessFallsThroughToLayer2WhenSessionContextEmpty(t *testing.T) {
	hook, store, _ := newTestHook(t, belowThresholdSettings())

	routerFile := RouterFile{Routes: []Route{
		{ID: "db-route", Keywords: []string{"database", "migration", "schema"}, Context: "Use goose for migrations."},
	}}
	raw, err := json.Marshal(routerFile)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(store.Dir, "context-router.json"), raw, 0o644))

	input := HookInput{
		SessionID: "sess-1",
		ToolInput: map[string]interface{}{"command": "run database migration schema update"},
	}
	for i := 0; i < 2; i++ {
		hook.Process(input)
	}
	injection := hook.Process(input)
	require.NotNil(t, injection)
	assert.Equal(t, "Use goose for migrations.", injection.Text)
}

func TestProcessRespectsMaxInjectionsPerSession(t *testing.T) {
	settings := belowThresholdSettings()
	settings.MaxInjectionsPerSession = 1
	settings.RouteDebounceSeconds = 0
	hook, store, _ := newTestHook(t, settings)

	now := time.Now().UTC()
	store.RecordInjection("sess-1", "prior-route", now)

	routerFile := RouterFile{Routes: []Route{
		{ID: "db-route", Keywords: []string{"database", "migration"}, Context: "ctx"},
	}}
	raw, err := json.Marshal(routerFile)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(store.Dir, "context-router.json"), raw, 0o644))

	input := HookInput{SessionID: "sess-1", ToolInput: map[string]interface{}{"command": "database migration"}}
	for i := 0; i < 5; i++ {
		assert.Nil(t, hook.Process(input))
	}
}

func TestProcessSpawnsRefreshEveryRefreshIntervalInjections(t *testing.T) {
	settings := belowThresholdSettings()
	settings.RefreshInterval = 2
	settings.SessionContextDebounceSeconds = 0
	hook, store, spawner := newTestHook(t, settings)

	sc := &SessionContext{
		SessionID: "sess-1",
		Distillation: Distillation{
			Status:    "ready",
			KeyPoints: []KeyPoint{{ID: "kp-1", Text: "keep going", Status: "active"}},
		},
	}
	require.NoError(t, store.SaveSessionContext("sess-1", sc))

	input := HookInput{SessionID: "sess-1", TranscriptPath: "/tmp/t.jsonl"}
	for i := 0; i < 3; i++ {
		hook.Process(input)
	}
	injection1 := hook.Process(input)
	require.NotNil(t, injection1)
	injection2 := hook.Process(input)
	require.NotNil(t, injection2)

	require.Len(t, spawner.calls, 1)
	assert.True(t, spawner.calls[0].refresh)
}

func TestBuildSessionInjectionOmitsCompletedGoals(t *testing.T) {
	ctx := &SessionContext{
		Distillation: Distillation{
			KeyPoints: []KeyPoint{
				{ID: "kp-1", Text: "done", Status: "completed"},
				{ID: "kp-2", Text: "still working", Status: "active"},
			},
		},
	}
	text := buildSessionInjection(ctx)
	assert.Contains(t, text, "still working")
	assert.NotContains(t, text, "done")
}

func TestBuildSessionInjectionEmptyWhenNothingToShow(t *testing.T) {
	ctx := &SessionContext{Distillation: Distillation{KeyPoints: []KeyPoint{{ID: "kp-1", Status: "completed"}}}}
	assert.Equal(t, "", buildSessionInjection(ctx))
}

func TestBuildSessionInjectionLimitsDiscoveriesToFive(t *testing.T) {
	ctx := &SessionContext{}
	for i := 0; i < 8; i++ {
		ctx.Discoveries = append(ctx.Discoveries, Discovery{Text: "finding"})
	}
	text := buildSessionInjection(ctx)
	assert.Contains(t, text, "Key findings")
	assert.Equal(t, 5, strings.Count(text, "\n- finding"))
}

func TestBuildSessionInjectionLimitsThrashGuidanceToTwo(t *testing.T) {
	ctx := &SessionContext{
		Distillation:     Distillation{KeyPoints: []KeyPoint{{ID: "kp-1", Status: "active", Text: "goal"}}},
		ThrashIndicators: []string{"a", "b", "c"},
	}
	text := buildSessionInjection(ctx)
	assert.Contains(t, text, "Guidance: a; b")
	assert.NotContains(t, text, "; c")
}
