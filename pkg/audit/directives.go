package audit

import (
	"encoding/json"
	"os"
)

// directivesFile is the on-disk shape of directives.json: a flat array
// of observation directives under a "directives" key.
type directivesFile struct {
	Directives []Directive `json:"directives"`
}

// LoadDirectives reads observation directives from path. A missing file
// or malformed JSON yields an empty directive set rather than an error —
// directives are an optional enrichment of the escalation prompts, never
// a hard dependency.
func LoadDirectives(path string) []Directive {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var doc directivesFile
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil
	}
	return doc.Directives
}

// ThresholdsFromMap builds Thresholds from the audit.thresholds map in
// avt.yaml, starting from DefaultThresholds and overriding only the keys
// present. Unrecognized keys are ignored.
func ThresholdsFromMap(m map[string]float64) Thresholds {
	t := DefaultThresholds()
	if v, ok := m["governance_block_rate"]; ok {
		t.GovernanceBlockRate = v
	}
	if v, ok := m["gate_block_rate"]; ok {
		t.GateBlockRate = v
	}
	if v, ok := m["event_rate_spike_multiplier"]; ok {
		t.EventRateSpikeMultiplier = v
	}
	if v, ok := m["min_sample_size"]; ok {
		t.MinSampleSize = int(v)
	}
	return t
}
