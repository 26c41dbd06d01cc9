package audit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectorEmptyBatchYieldsNoAnomalies(t *testing.T) {
	s := newTestStats(t)
	d := NewDetector(DefaultThresholds())
	anomalies, err := d.Check(context.Background(), BatchSummary{}, s)
	require.NoError(t, err)
	assert.Empty(t, anomalies)
}

func TestDetectorBelowMinSampleSizeSkipsRateChecks(t *testing.T) {
	s := newTestStats(t)
	d := NewDetector(DefaultThresholds())
	batch := BatchSummary{Total: 2, Approvals: 0, Blocks: 2}
	anomalies, err := d.Check(context.Background(), batch, s)
	require.NoError(t, err)
	assert.Empty(t, anomalies)
}

func TestDetectorGovernanceBlockRateFiresAboveThreshold(t *testing.T) {
	s := newTestStats(t)
	d := NewDetector(DefaultThresholds())
	batch := BatchSummary{Total: 10, Approvals: 2, Blocks: 8}
	anomalies, err := d.Check(context.Background(), batch, s)
	require.NoError(t, err)
	require.Len(t, anomalies, 1)
	assert.Equal(t, "governance_block_rate", anomalies[0].Type)
	assert.Equal(t, SeverityCritical, anomalies[0].Severity)
}

func TestDetectorGateBlockRateFiresAboveThreshold(t *testing.T) {
	s := newTestStats(t)
	d := NewDetector(DefaultThresholds())
	batch := BatchSummary{Total: 8, GateAllows: 2, GateBlocks: 6}
	anomalies, err := d.Check(context.Background(), batch, s)
	require.NoError(t, err)
	require.Len(t, anomalies, 1)
	assert.Equal(t, "gate_block_rate", anomalies[0].Type)
}

func TestDetectorEventRateSpikeComparesAgainstBaseline(t *testing.T) {
	s := newTestStats(t)
	ctx := context.Background()
	require.NoError(t, s.UpdateMetricWindow(ctx, "events_per_hour", 10, 1))

	d := NewDetector(DefaultThresholds())
	batch := BatchSummary{Total: 50}
	anomalies, err := d.Check(ctx, batch, s)
	require.NoError(t, err)
	require.Len(t, anomalies, 1)
	assert.Equal(t, "event_rate_spike", anomalies[0].Type)
}

func TestDetectorWithinThresholdYieldsNoAnomaly(t *testing.T) {
	s := newTestStats(t)
	d := NewDetector(DefaultThresholds())
	batch := BatchSummary{Total: 10, Approvals: 9, Blocks: 1}
	anomalies, err := d.Check(context.Background(), batch, s)
	require.NoError(t, err)
	assert.Empty(t, anomalies)
}
