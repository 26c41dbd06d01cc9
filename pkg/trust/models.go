// Package trust implements the finding lifecycle, dismissal audit trail,
// and quality-gate aggregation that gate an agent's work before it is
// trusted to ship.
package trust

import "time"

// Severity ranks a finding's urgency. Ordering (most to least severe) is
// Critical > High > Medium > Low > Info.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// severityRank gives each severity a lower-is-worse rank so thresholds can
// be compared with <=, mirroring the Python original's severity_order dict.
var severityRank = map[Severity]int{
	SeverityCritical: 0,
	SeverityHigh:     1,
	SeverityMedium:   2,
	SeverityLow:      3,
	SeverityInfo:     4,
}

// rank returns sev's severity rank, defaulting unrecognized values to the
// least-severe rank (info), matching severity_order.get(sev, 4).
func (sev Severity) rank() int {
	if r, ok := severityRank[sev]; ok {
		return r
	}
	return severityRank[SeverityInfo]
}

// atLeastAsSevereAs reports whether sev is at least as severe as threshold
// (lower rank number wins).
func (sev Severity) atLeastAsSevereAs(threshold Severity) bool {
	return sev.rank() <= threshold.rank()
}

// FindingStatus is a finding's lifecycle state.
type FindingStatus string

const (
	FindingStatusOpen      FindingStatus = "open"
	FindingStatusDismissed FindingStatus = "dismissed"
)

// Finding is one tool-surfaced issue recorded against a component.
type Finding struct {
	ID                     string        `db:"id" json:"id"`
	Tool                   string        `db:"tool" json:"tool"`
	Severity               Severity      `db:"severity" json:"severity"`
	Component              string        `db:"component" json:"component"`
	Description            string        `db:"description" json:"description"`
	CreatedAt              time.Time     `db:"created_at" json:"created_at"`
	Status                 FindingStatus `db:"status" json:"status"`
	DismissedBy            *string       `db:"dismissed_by" json:"dismissed_by,omitempty"`
	DismissalJustification *string       `db:"dismissal_justification" json:"dismissal_justification,omitempty"`
	DismissedAt            *time.Time    `db:"dismissed_at" json:"dismissed_at,omitempty"`
}

// DismissalRecord is one entry in a finding's dismissal audit trail.
type DismissalRecord struct {
	FindingID     string    `db:"finding_id" json:"finding_id"`
	DismissedBy   string    `db:"dismissed_by" json:"dismissed_by"`
	Justification string    `db:"justification" json:"justification"`
	DismissedAt   time.Time `db:"dismissed_at" json:"dismissed_at"`
}

// DecisionVerdict is the trust engine's classification of a finding.
type DecisionVerdict string

const (
	// TrustBlock is the default posture for any open finding: tool
	// findings are presumed legitimate until a human dismisses them.
	TrustBlock DecisionVerdict = "BLOCK"
	// TrustTrack applies once a finding has been dismissed with a
	// justification; it is tracked but no longer blocks.
	TrustTrack DecisionVerdict = "TRACK"
)

// TrustDecision is the engine's verdict on a single finding, with a
// rationale string a human can read directly.
type TrustDecision struct {
	FindingID string          `json:"finding_id"`
	Decision  DecisionVerdict `json:"decision"`
	Rationale string          `json:"rationale"`
}
