package reviewer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avt-project/avt/pkg/governance"
)

func TestExtractJSONDirect(t *testing.T) {
	raw := `{"verdict":"approved","findings":[],"guidance":"ok","standards_verified":[]}`
	got, ok := extractJSON(raw)
	require.True(t, ok)
	assert.Equal(t, raw, got)
}

func TestExtractJSONFencedBlock(t *testing.T) {
	raw := "Here is my review:\n```json\n{\"verdict\":\"blocked\",\"findings\":[],\"guidance\":\"no\",\"standards_verified\":[]}\n```\nThanks."
	got, ok := extractJSON(raw)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(got, "{"))
	assert.True(t, strings.HasSuffix(got, "}"))
	assert.Contains(t, got, `"verdict":"blocked"`)
}

func TestExtractJSONBraceSpanFallback(t *testing.T) {
	raw := `The model said: {"verdict":"approved","findings":[],"guidance":"fine","standards_verified":[]} -- end of response`
	got, ok := extractJSON(raw)
	require.True(t, ok)
	assert.Equal(t, `{"verdict":"approved","findings":[],"guidance":"fine","standards_verified":[]}`, got)
}

func TestExtractJSONUnrecoverable(t *testing.T) {
	_, ok := extractJSON("I cannot review this right now, sorry.")
	assert.False(t, ok)
}

func TestParseVerdictApproved(t *testing.T) {
	raw := `{"verdict":"approved","findings":[{"tier":"architecture","severity":"high","description":"d","suggestion":"s"}],"guidance":"looks good","standards_verified":["vision"]}`
	decisionID := "dec-1"
	v := parseVerdict(raw, &decisionID, nil)
	require.Equal(t, governance.VerdictApproved, v.Verdict)
	require.Len(t, v.Findings, 1)
	assert.Equal(t, "architecture", v.Findings[0].Tier)
	assert.Equal(t, &decisionID, v.DecisionID)
	assert.Nil(t, v.PlanID)
	assert.NotEmpty(t, v.ID)
}

func TestParseVerdictUnknownVerdictStringDegradesToNeedsHumanReview(t *testing.T) {
	raw := `{"verdict":"maybe","findings":[],"guidance":"uncertain","standards_verified":[]}`
	v := parseVerdict(raw, nil, nil)
	assert.Equal(t, governance.VerdictNeedsHumanReview, v.Verdict)
}

func TestParseVerdictUnparseableDegradesToNeedsHumanReviewWithTruncatedGuidance(t *testing.T) {
	raw := strings.Repeat("garbage ", 500)
	v := parseVerdict(raw, nil, nil)
	assert.Equal(t, governance.VerdictNeedsHumanReview, v.Verdict)
	assert.Contains(t, v.Guidance, "Could not parse structured review")
	assert.Less(t, len(v.Guidance), len(raw))
}

func TestParseVerdictFindingDefaultsFillBlankTierAndSeverity(t *testing.T) {
	raw := `{"verdict":"blocked","findings":[{"tier":"","severity":"","description":"missing test coverage","suggestion":"add tests"}],"guidance":"fix it","standards_verified":[]}`
	v := parseVerdict(raw, nil, nil)
	require.Len(t, v.Findings, 1)
	assert.Equal(t, "quality", v.Findings[0].Tier)
	assert.Equal(t, "logic", v.Findings[0].Severity)
}
