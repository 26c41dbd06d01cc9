package reviewer

import (
	"fmt"
	"strings"

	"github.com/avt-project/avt/pkg/governance"
)

func formatStandards(standards []KGEntityView) string {
	if len(standards) == 0 {
		return "(no vision standards found in KG)"
	}
	var b strings.Builder
	for _, s := range standards {
		fmt.Fprintf(&b, "- **%s**: %s\n", s.Name, strings.Join(s.Observations, "; "))
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatArchitecture(architecture []KGEntityView) string {
	if len(architecture) == 0 {
		return "(no architecture entities found in KG)"
	}
	var b strings.Builder
	for _, a := range architecture {
		obs := a.Observations
		if len(obs) > 3 {
			obs = obs[:3]
		}
		fmt.Fprintf(&b, "- **%s** (%s): %s\n", a.Name, a.EntityType, strings.Join(obs, "; "))
	}
	return strings.TrimRight(b.String(), "\n")
}

const verdictJSONSchema = `{
  "verdict": "approved" | "blocked" | "needs_human_review",
  "findings": [
    {
      "tier": "vision" | "architecture" | "quality",
      "severity": "vision_conflict" | "architectural" | "logic",
      "description": "what was found",
      "suggestion": "how to fix it"
    }
  ],
  "guidance": "brief guidance for the agent",
  "standards_verified": ["list of standards that were checked and passed"]
}`

func buildDecisionPrompt(d governance.Decision, vision, architecture []KGEntityView) string {
	var alts strings.Builder
	for _, a := range d.AlternativesConsider {
		fmt.Fprintf(&alts, "  - %s: rejected because %s\n", a.Option, a.ReasonRejected)
	}
	altsText := strings.TrimRight(alts.String(), "\n")
	if altsText == "" {
		altsText = "  (none provided)"
	}

	return fmt.Sprintf(`You are a governance reviewer. Evaluate this decision against the project's vision and architecture standards.

## Vision Standards
%s

## Architecture Patterns
%s

## Decision to Review
- **Agent**: %s
- **Category**: %s
- **Summary**: %s
- **Detail**: %s
- **Components affected**: %s
- **Alternatives considered**:
%s
- **Confidence**: %s

## Instructions
1. Check if this decision CONFLICTS with any vision standard. If yes, verdict is "blocked".
2. Check if this decision deviates from established architecture patterns. If deviation is unjustified, verdict is "blocked".
3. If the decision is a "deviation" or "scope_change" category, verdict should be "needs_human_review".
4. If the decision aligns with standards, verdict is "approved".

Respond with ONLY a JSON object (no markdown, no explanation outside the JSON):
%s`,
		formatStandards(vision), formatArchitecture(architecture),
		d.Agent, d.Category, d.Summary, d.Detail, strings.Join(d.ComponentsAffected, ", "),
		altsText, d.Confidence, verdictJSONSchema)
}

func buildPlanPrompt(planSummary, planContent string, decisions []governance.Decision,
	reviews []governance.ReviewVerdict, vision, architecture []KGEntityView) string {
	var decisionsText strings.Builder
	for _, d := range decisions {
		fmt.Fprintf(&decisionsText, "  - [%s] %s (confidence: %s)\n", d.Category, d.Summary, d.Confidence)
	}
	decisionsOut := strings.TrimRight(decisionsText.String(), "\n")
	if decisionsOut == "" {
		decisionsOut = "(none)"
	}

	var reviewsText strings.Builder
	for _, r := range reviews {
		decisionID := ""
		if r.DecisionID != nil {
			decisionID = *r.DecisionID
		}
		guidance := r.Guidance
		if len(guidance) > 100 {
			guidance = guidance[:100]
		}
		fmt.Fprintf(&reviewsText, "  - Decision %s: %s — %s\n", decisionID, r.Verdict, guidance)
	}
	reviewsOut := strings.TrimRight(reviewsText.String(), "\n")
	if reviewsOut == "" {
		reviewsOut = "(none)"
	}

	return fmt.Sprintf(`You are a governance reviewer. Evaluate this complete plan against vision and architecture standards.

## Vision Standards
%s

## Architecture Patterns
%s

## Prior Decisions for This Task
%s

## Prior Reviews
%s

## Plan to Review
**Summary**: %s

**Full Plan**:
%s

## Instructions
1. Verify the plan aligns with ALL applicable vision standards.
2. Verify the plan follows established architecture patterns.
3. Check that prior decision reviews have been respected (no blocked decisions reimplemented).
4. Identify any gaps, risks, or concerns.

Respond with ONLY a JSON object:
%s`,
		formatStandards(vision), formatArchitecture(architecture), decisionsOut, reviewsOut,
		planSummary, planContent, verdictJSONSchema)
}

func buildCompletionPrompt(summaryOfWork string, filesChanged []string, decisions []governance.Decision,
	reviews []governance.ReviewVerdict, vision []KGEntityView) string {
	var decisionsText strings.Builder
	for _, d := range decisions {
		fmt.Fprintf(&decisionsText, "  - [%s] %s\n", d.Category, d.Summary)
	}
	decisionsOut := strings.TrimRight(decisionsText.String(), "\n")
	if decisionsOut == "" {
		decisionsOut = "(none)"
	}

	var reviewsText strings.Builder
	for _, r := range reviews {
		decisionID := ""
		if r.DecisionID != nil {
			decisionID = *r.DecisionID
		}
		fmt.Fprintf(&reviewsText, "  - Decision %s: %s\n", decisionID, r.Verdict)
	}
	reviewsOut := strings.TrimRight(reviewsText.String(), "\n")
	if reviewsOut == "" {
		reviewsOut = "(none)"
	}

	return fmt.Sprintf(`You are a governance reviewer. Evaluate this completed work.

## Vision Standards
%s

## Decisions Made During This Task
%s

## Review Verdicts
%s

## Completed Work
**Summary**: %s
**Files changed**: %s

## Instructions
1. Check that all decisions were reviewed (no unreviewed decisions).
2. Check that no blocked decisions were implemented anyway.
3. Verify the completed work aligns with vision standards.

Respond with ONLY a JSON object:
%s`,
		formatStandards(vision), decisionsOut, reviewsOut, summaryOfWork,
		strings.Join(filesChanged, ", "), verdictJSONSchema)
}

func buildGroupReviewPrompt(tasks []TaskGroupMember, transcriptExcerpt string, vision, architecture []KGEntityView) string {
	var tasksText strings.Builder
	for i, t := range tasks {
		desc := t.Description
		if len(desc) > 200 {
			desc = desc[:200]
		}
		fmt.Fprintf(&tasksText, "  %d. **%s**: %s\n", i+1, t.Subject, desc)
	}

	return fmt.Sprintf(`You are a governance reviewer performing a HOLISTIC review. You are evaluating multiple tasks as a GROUP, not individually.

## Why This Review Matters

Individual tasks may each look reasonable in isolation. But together, they may represent:
- An unauthorized architectural shift (e.g., 5 tasks that collectively build an ORM layer)
- Scope creep beyond the original intent
- A pattern that conflicts with vision standards when viewed collectively
- Work that duplicates or contradicts existing architecture

Your job is to identify what these tasks COLLECTIVELY represent and whether that collective intent aligns with project standards.

## Vision Standards
%s

## Architecture Patterns
%s

## Tasks Under Review (as a group)
%s

## Agent's Recent Reasoning (from transcript)
%s

## Instructions

1. **COLLECTIVE INTENT**: In one sentence, what do these tasks collectively aim to accomplish?
2. **Vision Check**: Does the collective intent conflict with any vision standard? A single task adding a "model" is fine; five tasks collectively building an ORM layer might violate "No ORM" standards.
3. **Architecture Check**: Does the collective intent introduce a new architectural pattern not present in the established architecture? Is this an unauthorized architectural shift?
4. **Scope Check**: Are these tasks proportional to what was discussed, or do they represent scope creep?
5. **Cross-Task Analysis**: Are any tasks that look fine individually problematic when considered with their siblings?

Respond with ONLY a JSON object (no markdown, no explanation outside the JSON):
%s`,
		formatStandards(vision), formatArchitecture(architecture),
		strings.TrimRight(tasksText.String(), "\n"), transcriptExcerpt, verdictJSONSchema)
}

func buildEvolutionProposalPrompt(p governance.EvolutionProposal, evidence []governance.ExperimentEvidence, target KGEntityView) string {
	var evidenceText strings.Builder
	for _, e := range evidence {
		fmt.Fprintf(&evidenceText, "  - [%s] %s: %s\n", e.Type, e.Source, e.Summary)
	}
	evidenceOut := strings.TrimRight(evidenceText.String(), "\n")
	if evidenceOut == "" {
		evidenceOut = "(no evidence gathered yet)"
	}

	return fmt.Sprintf(`You are a governance reviewer evaluating a proposed EVOLUTION of a protected standard.

## Target Entity
**%s** (%s): %s

## Original Intent
%s

## Proposed Change
%s

## Rationale
%s

## Validation Criteria
%s

## Evidence Gathered
%s

## Instructions
1. Judge whether the evidence actually satisfies the stated validation criteria.
2. A proposal with validation criteria but no matching evidence is "needs_human_review", not "approved".
3. Flag any evidence that contradicts the proposed change rather than supporting it.

Respond with ONLY a JSON object:
%s`,
		target.Name, target.EntityType, strings.Join(target.Observations, "; "),
		p.OriginalIntent, p.ProposedChange, p.Rationale,
		strings.Join(p.ValidationCriteria, "; "), evidenceOut, verdictJSONSchema)
}
