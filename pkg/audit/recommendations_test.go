package audit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateFromAnomalyStartsAtEvidenceOne(t *testing.T) {
	s := newTestStats(t)
	r := NewRecommendations(s)
	rec, err := r.CreateFromAnomaly(context.Background(), "governance_block_rate", "detector", "", "")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.EvidenceCount)
	assert.Equal(t, RecommendationActive, rec.Status)
}

func TestUpdateFromEscalationCreatesWhenNoneActive(t *testing.T) {
	s := newTestStats(t)
	r := NewRecommendations(s)
	rec, err := r.UpdateFromEscalation(context.Background(), "gate_block_rate", "haiku", "tune threshold", "setting_tune", "medium")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.EvidenceCount)
}

func TestUpdateFromEscalationIncrementsEvidenceOnRepeat(t *testing.T) {
	s := newTestStats(t)
	r := NewRecommendations(s)
	ctx := context.Background()

	first, err := r.UpdateFromEscalation(ctx, "gate_block_rate", "haiku", "initial", "setting_tune", "low")
	require.NoError(t, err)

	second, err := r.UpdateFromEscalation(ctx, "gate_block_rate", "haiku", "refined", "setting_tune", "high")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 2, second.EvidenceCount)
	assert.Equal(t, "refined", second.Suggestion)
	assert.Equal(t, "high", second.Confidence)
}

func TestMarkSupersededReplacesActiveRowWithinTierOnly(t *testing.T) {
	s := newTestStats(t)
	r := NewRecommendations(s)
	ctx := context.Background()

	haiku, err := r.UpdateFromEscalation(ctx, "event_rate_spike", "haiku", "haiku suggestion", "general", "low")
	require.NoError(t, err)

	sonnet, err := r.UpdateFromEscalation(ctx, "event_rate_spike", "sonnet", "sonnet suggestion", "general", "medium")
	require.NoError(t, err)

	superseded, err := r.MarkSuperseded(ctx, "event_rate_spike", "haiku", "new haiku suggestion", "general", "low")
	require.NoError(t, err)
	assert.NotEqual(t, haiku.ID, superseded.ID)
	assert.Equal(t, 1, superseded.EvidenceCount)

	active, err := r.activeForTier(ctx, "event_rate_spike", "sonnet")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, sonnet.ID, active.ID)

	list, err := r.ListRecent(ctx, 10)
	require.NoError(t, err)
	var haikuRows int
	for _, rec := range list {
		if rec.Tier == "haiku" && rec.AnomalyType == "event_rate_spike" {
			haikuRows++
		}
	}
	assert.Equal(t, 2, haikuRows) // old (superseded) + new (active)
}
