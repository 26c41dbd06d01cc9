package kg

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	h1Pattern      = regexp.MustCompile(`(?m)^#\s+(.+)$`)
	nonAlnumRun    = regexp.MustCompile(`[^a-zA-Z0-9]+`)
	fencedCodeBlock = regexp.MustCompile(`(?s)` + "```" + `[^` + "`" + `]*` + "```")
	whitespaceRun  = regexp.MustCompile(`\s+`)

	titlePrefixes = []string{"Vision Standard:", "Architectural Standard:", "Pattern:", "Component:"}
)

// IngestResult summarizes one folder-level ingestion run.
type IngestResult struct {
	Ingested int
	Entities []string
	Errors   []string
	Skipped  []string
}

// IngestFolder walks every *.md file under folderPath (excluding
// README.md, case-insensitively, recursively) and creates one KG entity
// per parseable document. Re-ingestion deletes the prior entity (as
// caller_role=human) before recreating it.
func IngestFolder(g *Graph, folderPath string, tier Tier) (*IngestResult, error) {
	info, err := os.Stat(folderPath)
	if err != nil || !info.IsDir() {
		return &IngestResult{Errors: []string{fmt.Sprintf("Folder does not exist: %s", folderPath)}}, nil
	}

	var toCreate []Entity
	var errs []string

	err = filepath.Walk(folderPath, func(path string, fi os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if fi.IsDir() {
			return nil
		}
		if !strings.EqualFold(filepath.Ext(path), ".md") {
			return nil
		}
		if strings.EqualFold(filepath.Base(path), "readme.md") {
			return nil
		}
		entity, ok := parseDocument(path, tier)
		if !ok {
			errs = append(errs, fmt.Sprintf("Failed to parse: %s", filepath.Base(path)))
			return nil
		}
		toCreate = append(toCreate, entity)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk ingestion folder: %w", err)
	}

	if len(toCreate) == 0 {
		if len(errs) == 0 {
			errs = []string{"No valid documents found"}
		}
		return &IngestResult{Errors: errs}, nil
	}

	for _, e := range toCreate {
		if _, err := g.GetEntity(e.Name); err == nil {
			if ok, reason := g.DeleteEntity(e.Name, RoleHuman); !ok {
				errs = append(errs, fmt.Sprintf("Could not delete existing entity %s: %s", e.Name, reason))
			}
		}
	}

	created, err := g.CreateEntities(toCreate)
	if err != nil {
		return nil, err
	}

	names := make([]string, len(toCreate))
	for i, e := range toCreate {
		names[i] = e.Name
	}

	return &IngestResult{
		Ingested: created,
		Entities: names,
		Errors:   errs,
		Skipped:  nil,
	}, nil
}

func parseDocument(path string, tier Tier) (Entity, bool) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Entity{}, false
	}
	content := string(raw)

	m := h1Pattern.FindStringSubmatch(content)
	if m == nil {
		return Entity{}, false
	}
	rawTitle := strings.TrimSpace(m[1])

	name := rawTitle
	for _, prefix := range titlePrefixes {
		if len(name) >= len(prefix) && strings.EqualFold(name[:len(prefix)], prefix) {
			name = strings.TrimSpace(name[len(prefix):])
			break
		}
	}

	entityName := strings.ToLower(strings.Trim(nonAlnumRun.ReplaceAllString(name, "_"), "_"))
	if entityName == "" {
		base := filepath.Base(path)
		entityName = strings.ReplaceAll(strings.TrimSuffix(base, filepath.Ext(base)), "-", "_")
	}

	entityType := determineEntityType(content, tier)

	observations := []string{fmt.Sprintf("protection_tier: %s", tier)}
	for _, section := range []struct {
		name string
		key  string
	}{
		{"Statement", "statement"},
		{"Description", "description"},
		{"Rationale", "rationale"},
		{"Type", "document_type"},
		{"Usage", "usage"},
		{"Examples", "examples"},
		{"Dependencies", "dependencies"},
	} {
		if text, ok := extractSection(content, section.name); ok {
			observations = append(observations, fmt.Sprintf("%s: %s", section.key, text))
		}
	}
	observations = append(observations, fmt.Sprintf("title: %s", rawTitle))
	observations = append(observations, fmt.Sprintf("source_file: %s", filepath.Base(path)))

	return Entity{
		Name:         entityName,
		EntityType:   entityType,
		Observations: observations,
	}, true
}

func determineEntityType(content string, tier Tier) EntityKind {
	if tier == TierVision {
		return KindVisionStandard
	}

	contentLower := strings.ToLower(content)

	if typeSection, ok := extractSection(content, "Type"); ok {
		tl := strings.ToLower(typeSection)
		switch {
		case strings.Contains(tl, "pattern"):
			return KindPattern
		case strings.Contains(tl, "component"):
			return KindComponent
		case strings.Contains(tl, "standard"):
			return KindArchitecturalStd
		}
	}

	switch {
	case strings.Contains(contentLower, "pattern"):
		return KindPattern
	case strings.Contains(contentLower, "component"):
		return KindComponent
	default:
		return KindArchitecturalStd
	}
}

func extractSection(content, sectionName string) (string, bool) {
	pattern := regexp.MustCompile(`(?ims)^##\s+` + regexp.QuoteMeta(sectionName) + `\s*\n(.*?)(^##|\z)`)
	m := pattern.FindStringSubmatch(content)
	if m == nil {
		return "", false
	}
	text := strings.TrimSpace(m[1])
	text = fencedCodeBlock.ReplaceAllString(text, "")
	text = whitespaceRun.ReplaceAllString(text, " ")
	text = strings.TrimSpace(text)
	if text == "" {
		return "", false
	}
	return text, true
}
