package gateway

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadReturnsDefaultsWhenNoConfigExists(t *testing.T) {
	svc := NewProjectConfigService(t.TempDir())
	cfg := svc.Load()
	assert.Equal(t, 1, cfg.Version)
	assert.True(t, cfg.Settings.AutoGovernance)
	assert.Equal(t, 80, cfg.Settings.CoverageThreshold)
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	svc := NewProjectConfigService(t.TempDir())
	cfg := defaultProjectConfig()
	cfg.SetupComplete = true
	cfg.Languages = []string{"go"}
	cfg.Settings.CoverageThreshold = 95

	require.NoError(t, svc.Save(cfg))

	reloaded := svc.Load()
	assert.True(t, reloaded.SetupComplete)
	assert.Equal(t, []string{"go"}, reloaded.Languages)
	assert.Equal(t, 95, reloaded.Settings.CoverageThreshold)
}

func TestLoadFallsBackToDefaultsOnCorruptFile(t *testing.T) {
	dir := t.TempDir()
	svc := NewProjectConfigService(dir)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".avt"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".avt", "project-config.json"), []byte("{not json"), 0o644))

	cfg := svc.Load()
	assert.Equal(t, defaultProjectConfig(), cfg)
}

func TestReadinessReflectsFilesystemState(t *testing.T) {
	dir := t.TempDir()
	svc := NewProjectConfigService(dir)

	readiness := svc.Readiness()
	assert.False(t, readiness.IsComplete)
	assert.False(t, readiness.HasVisionDocs)

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "docs", "vision"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "docs", "vision", "north-star.md"), []byte("# vision"), 0o644))

	readiness = svc.Readiness()
	assert.True(t, readiness.HasVisionDocs)
	assert.Equal(t, 1, readiness.VisionDocCount)
	assert.False(t, readiness.IsComplete, "still missing architecture docs, config, and kg ingestion")
}

func TestListDocsExcludesReadmeCaseInsensitively(t *testing.T) {
	dir := t.TempDir()
	svc := NewProjectConfigService(dir)
	visionDir := filepath.Join(dir, "docs", "vision")
	require.NoError(t, os.MkdirAll(visionDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(visionDir, "README.md"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(visionDir, "goals.md"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(visionDir, "notes.txt"), []byte("x"), 0o644))

	docs := svc.ListDocs("vision")
	require.Len(t, docs, 1)
	assert.Equal(t, "goals.md", docs[0].Name)
}

func TestCreateDocSanitizesFilename(t *testing.T) {
	dir := t.TempDir()
	svc := NewProjectConfigService(dir)
	doc, err := svc.CreateDoc("vision", "My Cool Doc!!", "# hello")
	require.NoError(t, err)
	assert.Equal(t, "my-cool-doc.md", doc.Name)

	raw, err := os.ReadFile(filepath.Join(dir, doc.Path))
	require.NoError(t, err)
	assert.Equal(t, "# hello", string(raw))
}

func TestSyncPermissionsPreservesOtherKeys(t *testing.T) {
	dir := t.TempDir()
	svc := NewProjectConfigService(dir)
	claudeDir := filepath.Join(dir, ".claude")
	require.NoError(t, os.MkdirAll(claudeDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(claudeDir, "settings.local.json"), []byte(`{"env":{"FOO":"bar"}}`), 0o644))

	require.NoError(t, svc.SyncPermissions([]string{"Bash(go test:*)"}))

	raw, err := os.ReadFile(filepath.Join(claudeDir, "settings.local.json"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), "FOO")
	assert.Contains(t, string(raw), "Bash(go test:*)")
}

func TestResearchPromptCRUD(t *testing.T) {
	svc := NewProjectConfigService(t.TempDir())

	assert.Empty(t, svc.ListResearchPrompts())

	require.NoError(t, svc.SaveResearchPrompt(ResearchPrompt{ID: "p1", Title: "First"}))
	require.NoError(t, svc.SaveResearchPrompt(ResearchPrompt{ID: "p2", Title: "Second"}))
	assert.Len(t, svc.ListResearchPrompts(), 2)

	require.NoError(t, svc.SaveResearchPrompt(ResearchPrompt{ID: "p1", Title: "First Updated"}))
	found, ok := svc.FindResearchPrompt("p1")
	require.True(t, ok)
	assert.Equal(t, "First Updated", found.Title)

	removed, err := svc.DeleteResearchPrompt("p2")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Len(t, svc.ListResearchPrompts(), 1)

	removed, err = svc.DeleteResearchPrompt("does-not-exist")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestListResearchBriefsOrdersMostRecentFirst(t *testing.T) {
	dir := t.TempDir()
	svc := NewProjectConfigService(dir)
	briefsDir := filepath.Join(dir, ".avt", "research-briefs")
	require.NoError(t, os.MkdirAll(briefsDir, 0o755))

	oldPath := filepath.Join(briefsDir, "old.md")
	newPath := filepath.Join(briefsDir, "new.md")
	require.NoError(t, os.WriteFile(oldPath, []byte("old"), 0o644))
	require.NoError(t, os.WriteFile(newPath, []byte("new"), 0o644))

	oldTime := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	newTime := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, os.Chtimes(oldPath, oldTime, oldTime))
	require.NoError(t, os.Chtimes(newPath, newTime, newTime))

	briefs := svc.ListResearchBriefs()
	require.Len(t, briefs, 2)
	assert.Equal(t, "new.md", briefs[0].Name)
	assert.Equal(t, "old.md", briefs[1].Name)
}

func TestReadResearchBriefReturnsContent(t *testing.T) {
	dir := t.TempDir()
	svc := NewProjectConfigService(dir)
	briefsDir := filepath.Join(dir, ".avt", "research-briefs")
	require.NoError(t, os.MkdirAll(briefsDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(briefsDir, "brief.md"), []byte("content here"), 0o644))

	content, err := svc.ReadResearchBrief(".avt/research-briefs/brief.md")
	require.NoError(t, err)
	assert.Equal(t, "content here", content)

	_, err = svc.ReadResearchBrief(".avt/research-briefs/missing.md")
	assert.Error(t, err)
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "my-cool-doc", sanitizeFilename("My Cool Doc!!"))
	assert.Equal(t, "a-b-c", sanitizeFilename("a_b__c"))
}
