package context

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTranscript(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "transcript.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
	return path
}

func TestExtractOriginalPromptFromPlainStringContent(t *testing.T) {
	path := writeTranscript(t,
		`{"type":"user","message":{"role":"user","content":"build a widget"}}`,
		`{"type":"assistant","message":{"role":"assistant","content":"ok"}}`,
	)
	assert.Equal(t, "build a widget", extractOriginalPrompt(path))
}

func TestExtractOriginalPromptFromContentBlockList(t *testing.T) {
	path := writeTranscript(t,
		`{"type":"user","message":{"role":"user","content":[{"type":"text","text":"build a widget"}]}}`,
	)
	assert.Equal(t, "build a widget", extractOriginalPrompt(path))
}

func TestExtractOriginalPromptSkipsToolResultMessages(t *testing.T) {
	path := writeTranscript(t,
		`{"type":"user","message":{"role":"user","content":[{"type":"tool_result","text":"ignored"}]}}`,
		`{"type":"user","message":{"role":"user","content":"the real prompt"}}`,
	)
	assert.Equal(t, "the real prompt", extractOriginalPrompt(path))
}

func TestExtractOriginalPromptMissingFileReturnsEmpty(t *testing.T) {
	assert.Equal(t, "", extractOriginalPrompt(filepath.Join(t.TempDir(), "missing.jsonl")))
}

func TestExtractRecentTranscriptTruncatesAndOrdersOldestFirst(t *testing.T) {
	long := strings.Repeat("x", 600)
	path := writeTranscript(t,
		`{"type":"assistant","message":{"role":"assistant","content":"first"}}`,
		`{"type":"assistant","message":{"role":"assistant","content":"`+long+`"}}`,
	)
	excerpts := extractRecentTranscript(path)
	require.Len(t, excerpts, 2)
	assert.Equal(t, "first", excerpts[0])
	assert.Len(t, excerpts[1], refreshExcerptMaxRune)
}

func TestExtractDistillationJSONDirectParse(t *testing.T) {
	parsed, ok := extractDistillationJSON(`{"key_points":[{"id":"kp-1","text":"a"}]}`)
	require.True(t, ok)
	assert.Contains(t, parsed, "key_points")
}

func TestExtractDistillationJSONFencedBlock(t *testing.T) {
	raw := "Here you go:\n```json\n{\"constraints\":[\"must not break x\"]}\n```\nDone."
	parsed, ok := extractDistillationJSON(raw)
	require.True(t, ok)
	assert.Contains(t, parsed, "constraints")
}

func TestExtractDistillationJSONBraceSpanFallback(t *testing.T) {
	raw := "some preamble {\"key_decisions\":[\"use postgres\"]} trailing notes"
	parsed, ok := extractDistillationJSON(raw)
	require.True(t, ok)
	assert.Contains(t, parsed, "key_decisions")
}

func TestExtractDistillationJSONUnparseableReturnsFalse(t *testing.T) {
	_, ok := extractDistillationJSON("no json here at all")
	assert.False(t, ok)
}

func TestIsSubstringDuplicateMatchesEitherDirection(t *testing.T) {
	existing := []string{"the cache layer uses redis"}
	assert.True(t, isSubstringDuplicate("redis", existing))
	assert.True(t, isSubstringDuplicate("the cache layer uses redis and memcached", existing))
	assert.False(t, isSubstringDuplicate("the database uses postgres", existing))
}

func TestRunInitialSkipsWhenSessionContextAlreadyExists(t *testing.T) {
	store := NewStore(t.TempDir())
	require.NoError(t, store.SaveSessionContext("sess-1", &SessionContext{SessionID: "sess-1", Distillation: Distillation{Status: "ready"}}))

	d := NewDistiller(store, nil, "haiku", false)
	path := writeTranscript(t, `{"type":"user","message":{"role":"user","content":"new prompt"}}`)
	d.RunInitial(context.Background(), "sess-1", path)

	loaded := store.LoadSessionContext("sess-1")
	require.NotNil(t, loaded)
	assert.Empty(t, loaded.Distillation.KeyPoints)
}

func TestRunInitialUsesFallbackForShortPrompts(t *testing.T) {
	store := NewStore(t.TempDir())
	d := NewDistiller(store, nil, "haiku", false)
	path := writeTranscript(t, `{"type":"user","message":{"role":"user","content":"fix the bug"}}`)

	d.RunInitial(context.Background(), "sess-1", path)

	loaded := store.LoadSessionContext("sess-1")
	require.NotNil(t, loaded)
	assert.Equal(t, "fallback", loaded.Distillation.Status)
	require.Len(t, loaded.Distillation.KeyPoints, 1)
	assert.Equal(t, "fix the bug", loaded.Distillation.KeyPoints[0].Text)
}

func TestRunInitialMockModeProducesFallbackEvenForLongPrompts(t *testing.T) {
	store := NewStore(t.TempDir())
	d := NewDistiller(store, nil, "haiku", true)
	path := writeTranscript(t, `{"type":"user","message":{"role":"user","content":"`+strings.Repeat("detailed requirement ", 60)+`"}}`)

	d.RunInitial(context.Background(), "sess-1", path)

	loaded := store.LoadSessionContext("sess-1")
	require.NotNil(t, loaded)
	assert.Equal(t, "fallback", loaded.Distillation.Status)
}

type fakeDistillTransport struct {
	response string
	err      error
}

func (f fakeDistillTransport) Run(ctx context.Context, prompt, model string) (string, error) {
	return f.response, f.err
}

func TestRunInitialParsesTransportJSONIntoReadyDistillation(t *testing.T) {
	store := NewStore(t.TempDir())
	transport := fakeDistillTransport{response: `{"key_points":[{"id":"kp-1","text":"ship the feature"}],"constraints":["must not break api"],"key_decisions":["use postgres"]}`}
	d := NewDistiller(store, transport, "haiku", false)
	path := writeTranscript(t, `{"type":"user","message":{"role":"user","content":"`+strings.Repeat("a long detailed prompt about the project ", 30)+`"}}`)

	d.RunInitial(context.Background(), "sess-1", path)

	loaded := store.LoadSessionContext("sess-1")
	require.NotNil(t, loaded)
	assert.Equal(t, "ready", loaded.Distillation.Status)
	require.Len(t, loaded.Distillation.KeyPoints, 1)
	assert.Equal(t, "ship the feature", loaded.Distillation.KeyPoints[0].Text)
	assert.Equal(t, []string{"must not break api"}, loaded.Distillation.Constraints)
}

func TestRunRefreshMarksCompletedGoalsAndAddsDiscoveries(t *testing.T) {
	store := NewStore(t.TempDir())
	require.NoError(t, store.SaveSessionContext("sess-1", &SessionContext{
		SessionID: "sess-1",
		Distillation: Distillation{
			Status:    "ready",
			KeyPoints: []KeyPoint{{ID: "kp-1", Text: "build widget", Status: "active"}},
		},
	}))

	transport := fakeDistillTransport{response: `{"completed_goals":["kp-1"],"new_discoveries":[{"text":"found a race condition"}],"thrash_indicators":[]}`}
	d := NewDistiller(store, transport, "haiku", false)
	path := writeTranscript(t, `{"type":"assistant","message":{"role":"assistant","content":"finished the widget"}}`)

	d.RunRefresh(context.Background(), "sess-1", path, 10)

	loaded := store.LoadSessionContext("sess-1")
	require.NotNil(t, loaded)
	assert.Equal(t, "completed", loaded.Distillation.KeyPoints[0].Status)
	require.NotNil(t, loaded.Distillation.KeyPoints[0].CompletedAt)
	require.Len(t, loaded.Discoveries, 1)
	assert.Equal(t, "found a race condition", loaded.Discoveries[0].Text)
}

func TestRunRefreshDedupsDiscoveriesBySubstring(t *testing.T) {
	store := NewStore(t.TempDir())
	require.NoError(t, store.SaveSessionContext("sess-1", &SessionContext{
		SessionID:    "sess-1",
		Distillation: Distillation{Status: "ready"},
		Discoveries:  []Discovery{{Text: "the cache uses redis"}},
	}))

	transport := fakeDistillTransport{response: `{"completed_goals":[],"new_discoveries":[{"text":"redis"}],"thrash_indicators":[]}`}
	d := NewDistiller(store, transport, "haiku", false)
	path := writeTranscript(t, `{"type":"assistant","message":{"role":"assistant","content":"more detail"}}`)

	d.RunRefresh(context.Background(), "sess-1", path, 10)

	loaded := store.LoadSessionContext("sess-1")
	require.NotNil(t, loaded)
	assert.Len(t, loaded.Discoveries, 1)
}

func TestRunRefreshNoOpWhenSessionContextMissing(t *testing.T) {
	store := NewStore(t.TempDir())
	d := NewDistiller(store, fakeDistillTransport{}, "haiku", false)
	path := writeTranscript(t, `{"type":"assistant","message":{"role":"assistant","content":"x"}}`)

	d.RunRefresh(context.Background(), "sess-missing", path, 10)
	assert.False(t, store.SessionContextExists("sess-missing"))
}

func TestBuildDistillationPromptEmbedsOriginalPrompt(t *testing.T) {
	prompt := buildDistillationPrompt("build the thing")
	assert.Contains(t, prompt, "build the thing")
	assert.Contains(t, prompt, "key_points")
}

func TestBuildRefreshPromptEmbedsGoalsAndExcerpts(t *testing.T) {
	ctx := &SessionContext{Distillation: Distillation{KeyPoints: []KeyPoint{{ID: "kp-1", Text: "goal one", Status: "active"}}}}
	prompt := buildRefreshPrompt(ctx, []string{"did some work"})
	assert.Contains(t, prompt, "goal one")
	assert.Contains(t, prompt, "did some work")
	assert.Contains(t, prompt, "completed_goals")
}
