package audit

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchDirectivesWildcardMatchesEverything(t *testing.T) {
	directives := []Directive{{ID: "catch-all", Watches: []string{"*"}}}
	matched := matchDirectives([]Anomaly{{Type: "anything"}}, directives)
	assert.Len(t, matched, 1)
}

func TestMatchDirectivesPrefixMatch(t *testing.T) {
	directives := []Directive{{ID: "gov", Watches: []string{"governance_*"}}}
	matched := matchDirectives([]Anomaly{{Type: "governance_block_rate"}}, directives)
	assert.Len(t, matched, 1)
}

func TestMatchDirectivesExactMatch(t *testing.T) {
	directives := []Directive{{ID: "exact", Watches: []string{"event_rate_spike"}}}
	matched := matchDirectives([]Anomaly{{Type: "gate_block_rate"}}, directives)
	assert.Empty(t, matched)
}

func TestMatchDirectivesNoneWhenNoDirectives(t *testing.T) {
	matched := matchDirectives([]Anomaly{{Type: "x"}}, nil)
	assert.Nil(t, matched)
}

func TestBuildHaikuPromptIncludesAnomalyAndDirective(t *testing.T) {
	prompt := buildHaikuPrompt(
		[]Anomaly{{Type: "governance_block_rate", Severity: SeverityWarning, Description: "blocks spiked"}},
		[]Directive{{ID: "gov-health", HaikuQuestion: "is this concerning?"}},
		nil, nil,
	)
	assert.Contains(t, prompt, "governance_block_rate")
	assert.Contains(t, prompt, "blocks spiked")
	assert.Contains(t, prompt, "is this concerning?")
	assert.Contains(t, prompt, `"verdict"`)
}

func TestBuildSonnetPromptIncludesHaikuTriageAndEventSummary(t *testing.T) {
	prompt := buildSonnetPrompt(
		map[string]interface{}{"verdict": "emerging_pattern", "analysis": "noted"},
		[]Anomaly{{Type: "gate_block_rate"}},
		nil,
		[]Event{{Type: "gate.build_attempted", TsISO: "2026-07-31T00:00:00Z"}},
		nil, nil,
	)
	assert.Contains(t, prompt, "emerging_pattern")
	assert.Contains(t, prompt, "gate.build_attempted")
	assert.Contains(t, prompt, "escalate_to_opus")
}

func TestBuildOpusPromptIncludesSessionSummaries(t *testing.T) {
	prompt := buildOpusPrompt(
		map[string]interface{}{"analysis": "x"},
		nil, nil, nil, nil, nil,
		[]SessionSummary{{SessionID: "session-12345678", TotalEvents: 10, ApprovalCount: 8, BlockCount: 2}},
	)
	assert.Contains(t, prompt, "session-")
	assert.Contains(t, prompt, "deep_analysis")
}

func TestSummarizeEventsReportsTotalsAndRecent(t *testing.T) {
	events := []Event{
		{Type: "a", TsISO: "t1", Data: map[string]interface{}{}},
		{Type: "a", TsISO: "t2", Data: map[string]interface{}{}},
		{Type: "b", TsISO: "t3", Data: map[string]interface{}{}},
	}
	summary := summarizeEvents(events, 10)
	assert.True(t, strings.Contains(summary, "Total: 3 events"))
	assert.Contains(t, summary, "a: 2")
	assert.Contains(t, summary, "b: 1")
}

func TestSummarizeEventsEmptyReturnsPlaceholder(t *testing.T) {
	assert.Equal(t, "(no events)", summarizeEvents(nil, 10))
}
