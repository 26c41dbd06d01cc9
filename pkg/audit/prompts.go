package audit

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// buildHaikuPrompt is tier 1's triage prompt: quick pattern recognition
// over the anomaly batch, matched observation directives, and recent
// statistics.
func buildHaikuPrompt(anomalies []Anomaly, matched []Directive, recentStats map[string]interface{}, recentRecommendations []Recommendation) string {
	var anomalyLines []string
	for _, a := range anomalies {
		anomalyLines = append(anomalyLines, fmt.Sprintf("- [%s] %s: %s", a.Severity, a.Type, a.Description))
		if len(a.MetricValues) > 0 {
			b, _ := json.Marshal(a.MetricValues)
			anomalyLines = append(anomalyLines, fmt.Sprintf("  Metrics: %s", b))
		}
	}

	var directiveLines []string
	for _, d := range matched {
		directiveLines = append(directiveLines, fmt.Sprintf("- **%s**: %s", d.ID, d.HaikuQuestion))
	}

	var recLines []string
	for i, r := range recentRecommendations {
		if i >= 5 {
			break
		}
		suggestion := r.Suggestion
		if suggestion == "" {
			suggestion = "no suggestion"
		}
		recLines = append(recLines, fmt.Sprintf("- [%s] %s: %s (seen %dx)", r.Status, r.AnomalyType, suggestion, r.EvidenceCount))
	}

	statsJSON := "(none available)"
	if len(recentStats) > 0 {
		b, _ := json.MarshalIndent(recentStats, "", "  ")
		statsJSON = string(b)
	}

	return fmt.Sprintf(`You are an audit triage agent. Analyze these anomalies and determine if they need deeper analysis.

## Detected Anomalies
%s

## Questions to Consider (from observation directives)
%s

## Recent Statistics
%s

## Existing Recommendations
%s

## Instructions
Return ONLY a JSON object:
{
  "verdict": "known_pattern" | "emerging_pattern" | "milestone",
  "analysis": "brief explanation of what you see",
  "escalate": true | false,
  "recommendations": [
    {
      "anomaly_type": "the anomaly type",
      "suggestion": "actionable suggestion",
      "category": "setting_tune | prompt_revision | range_adjustment | governance_health | coverage_gap | general"
    }
  ]
}

Rules:
- "known_pattern": anomaly matches an existing recommendation or is a known recurring pattern
- "emerging_pattern": anomaly shows a new trend worth investigating
- "milestone": significant event that warrants strategic analysis
- Set escalate=true ONLY for emerging_pattern or milestone
- Keep analysis under 200 words
- Recommendations should be specific and actionable
- If the anomaly is covered by an existing recommendation with high evidence count, say so`,
		orNone(anomalyLines), orNone(directiveLines), statsJSON, orNone(recLines))
}

// buildSonnetPrompt is tier 2's substantive-analysis prompt.
func buildSonnetPrompt(haikuTriage map[string]interface{}, anomalies []Anomaly, directives []Directive,
	eventWindow []Event, currentSettings map[string]interface{}, existingRecommendations []Recommendation) string {

	var directiveLines []string
	for _, d := range directives {
		directiveLines = append(directiveLines, fmt.Sprintf("- **%s**: %s", d.ID, d.SonnetQuestion))
		trigger := d.OpusTrigger
		if trigger == "" {
			trigger = "none"
		}
		directiveLines = append(directiveLines, fmt.Sprintf("  Opus trigger: %s", trigger))
	}

	anomaliesJSON, _ := json.MarshalIndent(anomalies, "", "  ")
	settingsJSON := "(not available)"
	if len(currentSettings) > 0 {
		b, _ := json.MarshalIndent(currentSettings, "", "  ")
		settingsJSON = string(b)
	}
	recsJSON := "(none)"
	if len(existingRecommendations) > 0 {
		b, _ := json.MarshalIndent(existingRecommendations, "", "  ")
		recsJSON = string(b)
	}

	return fmt.Sprintf(`You are a governance and quality analysis agent. Perform substantive analysis of these audit findings.

## Haiku Triage Result
- Verdict: %v
- Analysis: %v
- Preliminary recommendations: %v

## Anomaly Details
%s

## Analysis Questions (from observation directives)
%s

## Recent Event Activity
%s

## Current Settings
%s

## Existing Recommendations
%s

## Instructions
Return ONLY a JSON object:
{
  "analysis": "detailed analysis (500 words max)",
  "recommendations": [
    {
      "anomaly_type": "the anomaly type this addresses",
      "suggestion": "specific, actionable recommendation",
      "category": "setting_tune" | "prompt_revision" | "range_adjustment" | "governance_health" | "coverage_gap",
      "evidence": "what data supports this recommendation",
      "confidence": "high" | "medium" | "low"
    }
  ],
  "escalate_to_opus": true | false,
  "opus_context": "if escalating, describe the specific strategic question for Opus"
}

Rules:
- Correlate anomalies with settings values and event patterns
- For setting recommendations, specify the current value AND the recommended value
- For prompt recommendations, identify the specific prompt and suggest wording changes
- Set escalate_to_opus=true ONLY if you see a significant milestone or systemic issue
- Check the Opus trigger conditions from each directive to decide escalation
- If superseding an existing recommendation, note which one
- Be constructive: focus on what would improve outcomes, not what is wrong`,
		valueOr(haikuTriage, "verdict", "unknown"), valueOr(haikuTriage, "analysis", "none"),
		haikuTriage["recommendations"], anomaliesJSON, orNone(directiveLines), summarizeEvents(eventWindow, 30), settingsJSON, recsJSON)
}

// buildOpusPrompt is tier 3's strategic deep-dive prompt.
func buildOpusPrompt(sonnetAnalysis map[string]interface{}, anomalies []Anomaly, directives []Directive,
	eventWindow []Event, currentSettings map[string]interface{}, existingRecommendations []Recommendation,
	sessionSummaries []SessionSummary) string {

	var triggerLines []string
	for _, d := range directives {
		trigger := d.OpusTrigger
		if trigger == "" {
			trigger = "none"
		}
		triggerLines = append(triggerLines, fmt.Sprintf("- **%s**: %s", d.ID, trigger))
	}

	var sessionLines []string
	for i, s := range sessionSummaries {
		if i >= 10 {
			break
		}
		id := s.SessionID
		if len(id) > 8 {
			id = id[:8]
		}
		sessionLines = append(sessionLines, fmt.Sprintf("- %s: %d events, %d approved, %d blocked, %d tasks",
			id, s.TotalEvents, s.ApprovalCount, s.BlockCount, s.TaskCount))
	}

	anomaliesJSON, _ := json.MarshalIndent(anomalies, "", "  ")
	sonnetJSON, _ := json.MarshalIndent(sonnetAnalysis, "", "  ")
	settingsJSON := "(not available)"
	if len(currentSettings) > 0 {
		b, _ := json.MarshalIndent(currentSettings, "", "  ")
		settingsJSON = string(b)
	}
	recsJSON := "(none)"
	if len(existingRecommendations) > 0 {
		b, _ := json.MarshalIndent(existingRecommendations, "", "  ")
		recsJSON = string(b)
	}

	strategicQuestion := valueOr(sonnetAnalysis, "opus_context", "Perform a comprehensive analysis of the anomaly patterns.")

	return fmt.Sprintf(`You are a strategic audit analyst performing a deep dive into system behavior patterns.

## Sonnet's Analysis
%s

## Strategic Question
%v

## Anomaly Details
%s

## Directive Trigger Conditions (why this deep dive was triggered)
%s

## Recent Event Activity
%s

## Current Settings (with ranges where applicable)
%s

## Session Summaries (recent)
%s

## Existing Recommendations
%s

## Instructions
Return ONLY a JSON object:
{
  "deep_analysis": "comprehensive strategic analysis (1000 words max)",
  "root_causes": [
    {"description": "root cause description", "evidence": "supporting evidence from the data", "impact": "how this affects system outcomes"}
  ],
  "recommendations": [
    {"anomaly_type": "the anomaly type or 'systemic'", "suggestion": "specific recommendation", "category": "setting_tune" | "prompt_revision" | "range_adjustment" | "governance_health" | "coverage_gap", "evidence": "data supporting this recommendation", "priority": "high" | "medium" | "low", "scope": "which settings/prompts/components are affected"}
  ],
  "setting_range_changes": [
    {"setting": "setting path (e.g., thresholds.governance_block_rate)", "current_range": "current min-max", "recommended_range": "new min-max", "rationale": "why this range should change"}
  ],
  "prompt_assessments": [
    {"prompt_id": "which prompt (e.g., context-reinforcement, agent-definition)", "effectiveness": "high" | "medium" | "low", "issue": "what is not working", "suggestion": "specific wording or approach change"}
  ]
}

Rules:
- Focus on root causes, not symptoms
- For setting changes, specify exact values with evidence
- For range changes, explain why the current range is insufficient
- For prompt assessments, reference specific observed outcomes
- Prioritize recommendations by potential impact
- Be constructive: acknowledge what is working well
- Consider cross-setting interactions and systemic effects`,
		sonnetJSON, strategicQuestion, anomaliesJSON, orNone(triggerLines), summarizeEvents(eventWindow, 30), settingsJSON, orNone(sessionLines), recsJSON)
}

func summarizeEvents(events []Event, maxLines int) string {
	if len(events) == 0 {
		return "(no events)"
	}

	byType := map[string]int{}
	for _, e := range events {
		etype := e.Type
		if etype == "" {
			etype = "unknown"
		}
		byType[etype]++
	}
	types := make([]string, 0, len(byType))
	for t := range byType {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return byType[types[i]] > byType[types[j]] })

	lines := []string{fmt.Sprintf("Total: %d events", len(events))}
	for i, t := range types {
		if i >= maxLines {
			lines = append(lines, fmt.Sprintf("  ... and %d more types", len(types)-maxLines))
			break
		}
		lines = append(lines, fmt.Sprintf("  %s: %d", t, byType[t]))
	}

	lines = append(lines, "", "Recent events (last 5):")
	start := len(events) - 5
	if start < 0 {
		start = 0
	}
	for _, e := range events[start:] {
		dataStr, _ := json.Marshal(e.Data)
		s := string(dataStr)
		if len(s) > 200 {
			s = s[:200] + "..."
		}
		sid := e.SessionID
		if len(sid) > 8 {
			sid = sid[:8]
		}
		lines = append(lines, fmt.Sprintf("  [%s] %s session=%s data=%s", e.Type, e.TsISO, sid, s))
	}

	return strings.Join(lines, "\n")
}

// matchDirectives finds directives whose watch patterns match any anomaly
// type present in the batch. A watch of "*" matches everything; a
// trailing "*" matches by prefix; otherwise it is an exact match.
func matchDirectives(anomalies []Anomaly, directives []Directive) []Directive {
	if len(directives) == 0 {
		return nil
	}

	types := make(map[string]bool, len(anomalies))
	for _, a := range anomalies {
		types[a.Type] = true
	}

	var matched []Directive
	for _, d := range directives {
		for _, watch := range d.Watches {
			if watch == "*" {
				matched = append(matched, d)
				break
			}
			if strings.HasSuffix(watch, "*") {
				prefix := strings.TrimSuffix(watch, "*")
				found := false
				for t := range types {
					if strings.HasPrefix(t, prefix) {
						found = true
						break
					}
				}
				if found {
					matched = append(matched, d)
					break
				}
			} else if types[watch] {
				matched = append(matched, d)
				break
			}
		}
	}
	return matched
}

func orNone(lines []string) string {
	if len(lines) == 0 {
		return "(none)"
	}
	return strings.Join(lines, "\n")
}

func valueOr(m map[string]interface{}, key, fallback string) interface{} {
	if m == nil {
		return fallback
	}
	if v, ok := m[key]; ok {
		return v
	}
	return fallback
}
