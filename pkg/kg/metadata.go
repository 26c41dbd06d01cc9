package kg

import "strings"

// Metadata prefixes known to the structured-accessor sub-module.
const (
	prefixIntent        = "intent: "
	prefixOutcomeMetric = "outcome_metric: "
	prefixVisionAlign   = "vision_alignment: "
	prefixCompleteness  = "metadata_completeness: "
)

// OutcomeMetric is a parsed outcome_metric observation.
type OutcomeMetric struct {
	Name     string
	Criteria string
	Baseline string
}

// VisionAlignment is a parsed vision_alignment observation.
type VisionAlignment struct {
	VisionEntity string
	Explanation  string
}

// Completeness is the derived richness of an architectural entity's
// metadata.
type Completeness string

const (
	CompletenessFull    Completeness = "full"
	CompletenessPartial Completeness = "partial"
	CompletenessNone    Completeness = "none"
)

// Intent returns the entity's intent observation, if any.
func Intent(observations []string) (string, bool) {
	for _, o := range observations {
		if strings.HasPrefix(o, prefixIntent) {
			return strings.TrimPrefix(o, prefixIntent), true
		}
	}
	return "", false
}

// OutcomeMetrics parses every outcome_metric observation. A metric missing
// its baseline field defaults to "not measured".
func OutcomeMetrics(observations []string) []OutcomeMetric {
	var metrics []OutcomeMetric
	for _, o := range observations {
		if !strings.HasPrefix(o, prefixOutcomeMetric) {
			continue
		}
		raw := strings.TrimPrefix(o, prefixOutcomeMetric)
		parts := strings.Split(raw, "|")
		switch {
		case len(parts) >= 3:
			metrics = append(metrics, OutcomeMetric{
				Name:     strings.TrimSpace(parts[0]),
				Criteria: strings.TrimSpace(parts[1]),
				Baseline: strings.TrimSpace(parts[2]),
			})
		case len(parts) == 2:
			metrics = append(metrics, OutcomeMetric{
				Name:     strings.TrimSpace(parts[0]),
				Criteria: strings.TrimSpace(parts[1]),
				Baseline: "not measured",
			})
		}
	}
	return metrics
}

// VisionAlignments parses every vision_alignment observation.
func VisionAlignments(observations []string) []VisionAlignment {
	var aligns []VisionAlignment
	for _, o := range observations {
		if !strings.HasPrefix(o, prefixVisionAlign) {
			continue
		}
		raw := strings.TrimPrefix(o, prefixVisionAlign)
		name, explanation, _ := strings.Cut(raw, "|")
		aligns = append(aligns, VisionAlignment{
			VisionEntity: strings.TrimSpace(name),
			Explanation:  strings.TrimSpace(explanation),
		})
	}
	return aligns
}

// MetadataCompleteness derives completeness from the presence of intent and
// vision-alignment observations: full requires both, partial requires
// exactly one, none requires neither.
func MetadataCompleteness(observations []string) Completeness {
	_, hasIntent := Intent(observations)
	hasVision := false
	for _, o := range observations {
		if strings.HasPrefix(o, prefixVisionAlign) {
			hasVision = true
			break
		}
	}
	switch {
	case hasIntent && hasVision:
		return CompletenessFull
	case hasIntent || hasVision:
		return CompletenessPartial
	default:
		return CompletenessNone
	}
}

// BuildIntentObservations composes the structured observation set for an
// architectural entity's metadata, ending with the derived completeness
// observation.
func BuildIntentObservations(intent string, metrics []OutcomeMetric, alignments []VisionAlignment) []string {
	var obs []string

	if intent != "" {
		obs = append(obs, prefixIntent+intent)
	}
	for _, m := range metrics {
		baseline := m.Baseline
		if baseline == "" {
			baseline = "not measured"
		}
		obs = append(obs, prefixOutcomeMetric+m.Name+"|"+m.Criteria+"|"+baseline)
	}
	for _, va := range alignments {
		obs = append(obs, prefixVisionAlign+va.VisionEntity+"|"+va.Explanation)
	}

	completeness := CompletenessNone
	switch {
	case intent != "" && len(alignments) > 0:
		completeness = CompletenessFull
	case intent != "" || len(alignments) > 0:
		completeness = CompletenessPartial
	}
	obs = append(obs, prefixCompleteness+string(completeness))

	return obs
}

// StripMetadataObservations removes every known metadata-prefixed
// observation, leaving free-text observations untouched. Useful before
// re-writing an entity's metadata wholesale.
func StripMetadataObservations(observations []string) []string {
	kept := make([]string, 0, len(observations))
	for _, o := range observations {
		if strings.HasPrefix(o, prefixIntent) ||
			strings.HasPrefix(o, prefixOutcomeMetric) ||
			strings.HasPrefix(o, prefixVisionAlign) ||
			strings.HasPrefix(o, prefixCompleteness) {
			continue
		}
		kept = append(kept, o)
	}
	return kept
}
