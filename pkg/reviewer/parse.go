package reviewer

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/avt-project/avt/pkg/governance"
)

var fencedJSONBlock = regexp.MustCompile(`(?s)` + "```" + `(?:json)?\s*\n?(.*?)\n?` + "```")

// extractJSON pulls a JSON object out of text that may carry markdown
// fences or surrounding prose, trying successively looser strategies:
// the whole trimmed string, a fenced code block, then the span from the
// first '{' to the last '}'.
func extractJSON(text string) (string, bool) {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "{") {
		return trimmed, true
	}

	if m := fencedJSONBlock.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1]), true
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start != -1 && end != -1 && end > start {
		return text[start : end+1], true
	}

	return "", false
}

type verdictPayload struct {
	Verdict           string           `json:"verdict"`
	Findings          []findingPayload `json:"findings"`
	Guidance          string           `json:"guidance"`
	StandardsVerified []string         `json:"standards_verified"`
}

type findingPayload struct {
	Tier        string `json:"tier"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
	Suggestion  string `json:"suggestion"`
}

// parseVerdict parses a reviewer transport's raw response into a
// governance.ReviewVerdict, attached to exactly one of decisionID/planID.
// An unparseable or unrecognized response degrades to
// needs_human_review, carrying the raw text as guidance — never an error,
// since a malformed LLM response must still produce a storable verdict.
func parseVerdict(raw string, decisionID, planID *string) governance.ReviewVerdict {
	base := governance.ReviewVerdict{
		ID:         uuid.NewString(),
		DecisionID: decisionID,
		PlanID:     planID,
		Reviewer:   "governance-reviewer",
	}

	jsonStr, ok := extractJSON(raw)
	if !ok {
		return needsHumanFallback(base, raw)
	}

	var payload verdictPayload
	if err := json.Unmarshal([]byte(jsonStr), &payload); err != nil {
		return needsHumanFallback(base, raw)
	}

	verdict := governance.Verdict(payload.Verdict)
	switch verdict {
	case governance.VerdictApproved, governance.VerdictBlocked, governance.VerdictNeedsHumanReview:
	default:
		verdict = governance.VerdictNeedsHumanReview
	}

	findings := make([]governance.Finding, 0, len(payload.Findings))
	for _, f := range payload.Findings {
		tier := f.Tier
		if tier == "" {
			tier = "quality"
		}
		severity := f.Severity
		if severity == "" {
			severity = "logic"
		}
		findings = append(findings, governance.Finding{
			Tier: tier, Severity: severity, Description: f.Description, Suggestion: f.Suggestion,
		})
	}

	base.Verdict = verdict
	base.Findings = findings
	base.Guidance = payload.Guidance
	base.StandardsVerified = payload.StandardsVerified
	return base
}

func needsHumanFallback(base governance.ReviewVerdict, raw string) governance.ReviewVerdict {
	truncated := raw
	if len(truncated) > 1000 {
		truncated = truncated[:1000]
	}
	base.Verdict = governance.VerdictNeedsHumanReview
	base.Guidance = fmt.Sprintf("Could not parse structured review. Raw response:\n%s", truncated)
	return base
}
