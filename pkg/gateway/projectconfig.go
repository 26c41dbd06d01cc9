package gateway

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

// QualityCommands maps a language name to the shell command used for one
// quality concern (test/lint/build/format).
type QualityCommands map[string]string

// QualitySettings is the per-project command table for each quality gate.
type QualitySettings struct {
	TestCommands   QualityCommands `json:"testCommands"`
	LintCommands   QualityCommands `json:"lintCommands"`
	BuildCommands  QualityCommands `json:"buildCommands"`
	FormatCommands QualityCommands `json:"formatCommands"`
}

// QualityGateToggles enables/disables each quality sub-gate.
type QualityGateToggles struct {
	Build    bool `json:"build"`
	Lint     bool `json:"lint"`
	Tests    bool `json:"tests"`
	Coverage bool `json:"coverage"`
	Findings bool `json:"findings"`
}

// ProjectSettings is the mutable per-project behavior configuration.
type ProjectSettings struct {
	MockTests             bool               `json:"mockTests"`
	MockTestsForCostlyOps bool               `json:"mockTestsForCostlyOps"`
	CoverageThreshold     int                `json:"coverageThreshold"`
	AutoGovernance        bool               `json:"autoGovernance"`
	QualityGates          QualityGateToggles `json:"qualityGates"`
	KGAutoCuration        bool               `json:"kgAutoCuration"`
}

// IngestionState tracks when each document tier was last ingested into
// the knowledge graph.
type IngestionState struct {
	LastVisionIngest       *time.Time `json:"lastVisionIngest"`
	LastArchitectureIngest *time.Time `json:"lastArchitectureIngest"`
	VisionDocCount         int        `json:"visionDocCount"`
	ArchitectureDocCount   int        `json:"architectureDocCount"`
}

// ProjectConfig is the on-disk shape of a project's .avt/project-config.json.
type ProjectConfig struct {
	Version       int                    `json:"version"`
	SetupComplete bool                   `json:"setupComplete"`
	Languages     []string               `json:"languages"`
	Metadata      map[string]interface{} `json:"metadata"`
	Settings      ProjectSettings        `json:"settings"`
	Quality       QualitySettings        `json:"quality"`
	Permissions   []string               `json:"permissions"`
	Ingestion     IngestionState         `json:"ingestion"`
}

func defaultQualitySettings() QualitySettings {
	return QualitySettings{
		TestCommands:   QualityCommands{"python": "uv run pytest", "typescript": "npm run test", "javascript": "npm run test"},
		LintCommands:   QualityCommands{"python": "uv run ruff check", "typescript": "npm run lint", "javascript": "npm run lint"},
		BuildCommands:  QualityCommands{"typescript": "npm run build", "javascript": "npm run build"},
		FormatCommands: QualityCommands{"python": "uv run ruff format", "typescript": "npx prettier --write", "javascript": "npx prettier --write"},
	}
}

func defaultProjectConfig() ProjectConfig {
	return ProjectConfig{
		Version:   1,
		Languages: []string{},
		Metadata:  map[string]interface{}{"isOpenSource": false},
		Settings: ProjectSettings{
			CoverageThreshold: 80,
			AutoGovernance:    true,
			QualityGates:      QualityGateToggles{Build: true, Lint: true, Tests: true, Coverage: true, Findings: true},
			KGAutoCuration:    true,
		},
		Quality:     defaultQualitySettings(),
		Permissions: []string{},
	}
}

// SetupReadiness reports whether a project has enough in place (vision
// docs, architecture docs, a saved config, and a completed KG ingest) to
// be considered fully onboarded.
type SetupReadiness struct {
	HasVisionDocs        bool `json:"hasVisionDocs"`
	HasArchitectureDocs  bool `json:"hasArchitectureDocs"`
	HasProjectConfig     bool `json:"hasProjectConfig"`
	HasKGIngestion       bool `json:"hasKgIngestion"`
	IsComplete           bool `json:"isComplete"`
	VisionDocCount       int  `json:"visionDocCount"`
	ArchitectureDocCount int  `json:"architectureDocCount"`
}

// Document is one markdown file in a vision/architecture tier folder.
type Document struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// ResearchPrompt is a saved, runnable research task definition.
type ResearchPrompt struct {
	ID        string `json:"id"`
	Title     string `json:"title,omitempty"`
	ModelHint string `json:"modelHint,omitempty"`
}

// ResearchBrief is a completed research write-up discovered on disk.
type ResearchBrief struct {
	Name       string `json:"name"`
	Path       string `json:"path"`
	ModifiedAt string `json:"modifiedAt"`
}

var filenameSanitize = regexp.MustCompile(`[^a-z0-9]+`)

func sanitizeFilename(name string) string {
	return strings.Trim(filenameSanitize.ReplaceAllString(strings.ToLower(name), "-"), "-")
}

// ProjectConfigService manages one project's configuration file,
// documents, permissions sync, and research prompts/briefs — all
// filesystem-backed, independent of whether the project's MCP servers
// are running.
type ProjectConfigService struct {
	projectDir         string
	avtRoot            string
	docsRoot           string
	configPath         string
	claudeSettingsPath string
}

// NewProjectConfigService builds a config service rooted at projectDir.
func NewProjectConfigService(projectDir string) *ProjectConfigService {
	avtRoot := filepath.Join(projectDir, ".avt")
	return &ProjectConfigService{
		projectDir:         projectDir,
		avtRoot:            avtRoot,
		docsRoot:           filepath.Join(projectDir, "docs"),
		configPath:         filepath.Join(avtRoot, "project-config.json"),
		claudeSettingsPath: filepath.Join(projectDir, ".claude", "settings.local.json"),
	}
}

// Load reads the project config, falling back to defaults for any
// missing top-level section.
func (s *ProjectConfigService) Load() ProjectConfig {
	cfg := defaultProjectConfig()

	raw, err := os.ReadFile(s.configPath)
	if err != nil {
		return cfg
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return defaultProjectConfig()
	}
	return cfg
}

// Save atomically persists the project config.
func (s *ProjectConfigService) Save(cfg ProjectConfig) error {
	if err := os.MkdirAll(s.avtRoot, 0o755); err != nil {
		return err
	}
	return atomicWriteJSON(s.configPath, cfg)
}

// Readiness reports the project's setup-completion checklist.
func (s *ProjectConfigService) Readiness() SetupReadiness {
	visionDir := filepath.Join(s.docsRoot, "vision")
	archDir := filepath.Join(s.docsRoot, "architecture")

	hasVision := s.hasDocs(visionDir)
	hasArch := s.hasDocs(archDir)
	_, statErr := os.Stat(s.configPath)
	hasConfig := statErr == nil

	cfg := s.Load()
	hasIngest := cfg.Ingestion.LastVisionIngest != nil

	return SetupReadiness{
		HasVisionDocs:        hasVision,
		HasArchitectureDocs:  hasArch,
		HasProjectConfig:     hasConfig,
		HasKGIngestion:       hasIngest,
		IsComplete:           hasVision && hasArch && hasConfig && hasIngest,
		VisionDocCount:       s.countDocs(visionDir),
		ArchitectureDocCount: s.countDocs(archDir),
	}
}

// ListDocs lists markdown documents in a tier folder ("vision" or
// "architecture").
func (s *ProjectConfigService) ListDocs(tier string) []Document {
	folder := filepath.Join(s.docsRoot, tier)
	entries, err := os.ReadDir(folder)
	if err != nil {
		return []Document{}
	}

	docs := []Document{}
	for _, e := range entries {
		if e.IsDir() || !isMarkdownDoc(e.Name()) {
			continue
		}
		rel, _ := filepath.Rel(s.projectDir, filepath.Join(folder, e.Name()))
		docs = append(docs, Document{Name: e.Name(), Path: rel})
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Name < docs[j].Name })
	return docs
}

// CreateDoc writes a new markdown document under a tier folder.
func (s *ProjectConfigService) CreateDoc(tier, name, content string) (Document, error) {
	folder := filepath.Join(s.docsRoot, tier)
	if err := os.MkdirAll(folder, 0o755); err != nil {
		return Document{}, err
	}

	filename := sanitizeFilename(name) + ".md"
	path := filepath.Join(folder, filename)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return Document{}, err
	}
	rel, _ := filepath.Rel(s.projectDir, path)
	return Document{Name: filename, Path: rel}, nil
}

// SyncPermissions writes permissions into .claude/settings.local.json,
// preserving any other keys already present in the file.
func (s *ProjectConfigService) SyncPermissions(permissions []string) error {
	if err := os.MkdirAll(filepath.Dir(s.claudeSettingsPath), 0o755); err != nil {
		return err
	}

	settings := map[string]interface{}{}
	if raw, err := os.ReadFile(s.claudeSettingsPath); err == nil {
		_ = json.Unmarshal(raw, &settings)
	}
	settings["permissions"] = map[string]interface{}{"allow": permissions}

	return atomicWriteJSON(s.claudeSettingsPath, settings)
}

// ListResearchPrompts returns the project's saved research prompts.
func (s *ProjectConfigService) ListResearchPrompts() []ResearchPrompt {
	raw, err := os.ReadFile(s.promptsRegistry())
	if err != nil {
		return []ResearchPrompt{}
	}
	var prompts []ResearchPrompt
	if err := json.Unmarshal(raw, &prompts); err != nil {
		return []ResearchPrompt{}
	}
	return prompts
}

// SaveResearchPrompt inserts or updates a prompt by id.
func (s *ProjectConfigService) SaveResearchPrompt(prompt ResearchPrompt) error {
	prompts := s.ListResearchPrompts()
	found := false
	for i := range prompts {
		if prompts[i].ID == prompt.ID {
			prompts[i] = prompt
			found = true
			break
		}
	}
	if !found {
		prompts = append(prompts, prompt)
	}

	if err := os.MkdirAll(s.avtRoot, 0o755); err != nil {
		return err
	}
	return atomicWriteJSON(s.promptsRegistry(), prompts)
}

// DeleteResearchPrompt removes a prompt by id, reporting whether it
// existed.
func (s *ProjectConfigService) DeleteResearchPrompt(id string) (bool, error) {
	prompts := s.ListResearchPrompts()
	kept := prompts[:0]
	removed := false
	for _, p := range prompts {
		if p.ID == id {
			removed = true
			continue
		}
		kept = append(kept, p)
	}
	if !removed {
		return false, nil
	}
	if err := atomicWriteJSON(s.promptsRegistry(), kept); err != nil {
		return false, err
	}
	_ = os.Remove(filepath.Join(s.avtRoot, "research-prompts", id+".md"))
	return true, nil
}

// FindResearchPrompt looks up a prompt by id.
func (s *ProjectConfigService) FindResearchPrompt(id string) (ResearchPrompt, bool) {
	for _, p := range s.ListResearchPrompts() {
		if p.ID == id {
			return p, true
		}
	}
	return ResearchPrompt{}, false
}

// ListResearchBriefs lists completed research briefs, most recently
// modified first.
func (s *ProjectConfigService) ListResearchBriefs() []ResearchBrief {
	briefsDir := filepath.Join(s.avtRoot, "research-briefs")
	entries, err := os.ReadDir(briefsDir)
	if err != nil {
		return []ResearchBrief{}
	}

	briefs := []ResearchBrief{}
	for _, e := range entries {
		if e.IsDir() || !isMarkdownDoc(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		rel, _ := filepath.Rel(s.projectDir, filepath.Join(briefsDir, e.Name()))
		briefs = append(briefs, ResearchBrief{
			Name:       e.Name(),
			Path:       rel,
			ModifiedAt: info.ModTime().UTC().Format(time.RFC3339),
		})
	}
	sort.Slice(briefs, func(i, j int) bool { return briefs[i].ModifiedAt > briefs[j].ModifiedAt })
	return briefs
}

// ReadResearchBrief returns a brief's content given its project-relative
// path.
func (s *ProjectConfigService) ReadResearchBrief(relPath string) (string, error) {
	full := filepath.Join(s.projectDir, relPath)
	raw, err := os.ReadFile(full)
	if err != nil {
		return "", fmt.Errorf("brief not found: %s", relPath)
	}
	return string(raw), nil
}

func (s *ProjectConfigService) promptsRegistry() string {
	return filepath.Join(s.avtRoot, "research-prompts.json")
}

func (s *ProjectConfigService) hasDocs(folder string) bool {
	return s.countDocs(folder) > 0
}

func (s *ProjectConfigService) countDocs(folder string) int {
	entries, err := os.ReadDir(folder)
	if err != nil {
		return 0
	}
	count := 0
	for _, e := range entries {
		if !e.IsDir() && isMarkdownDoc(e.Name()) {
			count++
		}
	}
	return count
}

func isMarkdownDoc(name string) bool {
	return strings.HasSuffix(name, ".md") && strings.ToLower(name) != "readme.md"
}

func atomicWriteJSON(path string, v interface{}) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
