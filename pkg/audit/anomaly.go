package audit

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Thresholds names every configurable anomaly-detection cutoff. The
// detector is a pure threshold check — no LLM call — run once per
// processor batch.
type Thresholds struct {
	// GovernanceBlockRate is the fraction of governance-relevant events in
	// a batch that may be blocks before a governance_block_rate anomaly
	// fires.
	GovernanceBlockRate float64
	// GateBlockRate is the fraction of *_attempted events in a batch that
	// may be disallowed before a gate_block_rate anomaly fires.
	GateBlockRate float64
	// EventRateSpikeMultiplier is how many times the 24h baseline
	// events-per-hour rate a batch may exceed before an event_rate_spike
	// anomaly fires.
	EventRateSpikeMultiplier float64
	// MinSampleSize is the minimum number of relevant events a batch must
	// contain before a rate-based threshold is evaluated at all — avoids
	// flagging a single block out of one event as a 100% block rate.
	MinSampleSize int
}

// DefaultThresholds mirrors conservative defaults: more than half of
// governance events blocked, more than half of gated attempts disallowed,
// or more than 3x the rolling hourly baseline.
func DefaultThresholds() Thresholds {
	return Thresholds{
		GovernanceBlockRate:      0.5,
		GateBlockRate:            0.5,
		EventRateSpikeMultiplier: 3.0,
		MinSampleSize:            5,
	}
}

// Detector runs Thresholds against one processor batch plus recent
// statistics. No network or LLM calls are made here; escalation (if any)
// happens downstream of detection.
type Detector struct {
	thresholds Thresholds
}

// NewDetector builds a detector with the given thresholds.
func NewDetector(thresholds Thresholds) *Detector {
	return &Detector{thresholds: thresholds}
}

// Check evaluates the batch summary against recent stats and returns any
// anomalies found. Severity >= warning is the escalation cutoff (callers
// filter with Severity.EscalatableSeverity).
func (d *Detector) Check(ctx context.Context, batch BatchSummary, stats *Stats) ([]Anomaly, error) {
	if batch.Total == 0 {
		return nil, nil
	}

	var anomalies []Anomaly

	governanceTotal := batch.Approvals + batch.Blocks
	if governanceTotal >= d.thresholds.MinSampleSize {
		rate := float64(batch.Blocks) / float64(governanceTotal)
		if rate > d.thresholds.GovernanceBlockRate {
			anomalies = append(anomalies, d.newAnomaly(
				"governance_block_rate", severityForRate(rate, d.thresholds.GovernanceBlockRate),
				fmt.Sprintf("governance block rate %.0f%% exceeds threshold %.0f%% over %d events",
					rate*100, d.thresholds.GovernanceBlockRate*100, governanceTotal),
				map[string]float64{"rate": rate, "blocked": float64(batch.Blocks), "total": float64(governanceTotal)},
			))
		}
	}

	gateTotal := batch.GateAllows + batch.GateBlocks
	if gateTotal >= d.thresholds.MinSampleSize {
		rate := float64(batch.GateBlocks) / float64(gateTotal)
		if rate > d.thresholds.GateBlockRate {
			anomalies = append(anomalies, d.newAnomaly(
				"gate_block_rate", severityForRate(rate, d.thresholds.GateBlockRate),
				fmt.Sprintf("quality gate block rate %.0f%% exceeds threshold %.0f%% over %d attempts",
					rate*100, d.thresholds.GateBlockRate*100, gateTotal),
				map[string]float64{"rate": rate, "blocked": float64(batch.GateBlocks), "total": float64(gateTotal)},
			))
		}
	}

	if baseline, err := stats.GetBaselineRate(ctx, "events_per_hour", 24); err == nil && baseline != nil && *baseline > 0 {
		observed := float64(batch.Total)
		if observed > *baseline*d.thresholds.EventRateSpikeMultiplier {
			anomalies = append(anomalies, d.newAnomaly(
				"event_rate_spike", SeverityWarning,
				fmt.Sprintf("event rate %.0f exceeds %.1fx the 24h baseline of %.1f/hour", observed, d.thresholds.EventRateSpikeMultiplier, *baseline),
				map[string]float64{"observed": observed, "baseline": *baseline},
			))
		}
	}

	return anomalies, nil
}

func severityForRate(rate, threshold float64) Severity {
	if rate > threshold*1.5 {
		return SeverityCritical
	}
	return SeverityWarning
}

func (d *Detector) newAnomaly(anomalyType string, severity Severity, description string, metrics map[string]float64) Anomaly {
	return Anomaly{
		ID:           uuid.NewString(),
		Type:         anomalyType,
		Severity:     severity,
		Description:  description,
		MetricValues: metrics,
	}
}
