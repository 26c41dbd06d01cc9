// Package audit implements the append-only event pipeline, statistics
// accumulator, anomaly detector, and tiered LLM escalation chain that
// watch the fabric's own governance activity.
package audit

import "time"

// Event is one append-only audit record. Ts is a Unix timestamp (seconds,
// may carry a fractional component); TsISO is the same instant formatted
// for human consumption in tier prompts.
type Event struct {
	Ts        float64                `json:"ts"`
	TsISO     string                 `json:"ts_iso"`
	Type      string                 `json:"type"`
	Source    string                 `json:"source"`
	SessionID string                 `json:"session_id,omitempty"`
	Data      map[string]interface{} `json:"data"`
}

// Checkpoint records where the processor left off in the events file.
type Checkpoint struct {
	ByteOffset      int64   `json:"byte_offset"`
	EventCount      int64   `json:"event_count"`
	LastProcessedTS float64 `json:"last_processed_ts"`
}

// BatchSummary is what StatsAccumulator.IngestEvents hands back for the
// anomaly detector to threshold-check. The approval/block/gate/skip/task
// tallies use the same event-classification rules as the per-session
// summaries, applied across the whole batch.
type BatchSummary struct {
	Total           int
	ByType          map[string]int
	SessionsTouched []string

	Approvals  int
	Blocks     int
	GateAllows int
	GateBlocks int
	Skips      int
	Tasks      int
}

// Severity is an anomaly's urgency. Escalation triggers at Warning or
// above.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Anomaly is one threshold violation the detector surfaced.
type Anomaly struct {
	ID           string                 `json:"id"`
	Type         string                 `json:"type"`
	Severity     Severity               `json:"severity"`
	Description  string                 `json:"description"`
	MetricValues map[string]float64     `json:"metric_values,omitempty"`
	Context      map[string]interface{} `json:"context,omitempty"`
	DetectedAt   time.Time              `json:"detected_at"`
	Escalated    bool                   `json:"escalated"`
}

// EscalatableSeverity reports whether sev is eligible for LLM escalation
// (warning or critical, never info).
func (sev Severity) EscalatableSeverity() bool {
	return sev == SeverityWarning || sev == SeverityCritical
}

// RecommendationStatus is a recommendation row's lifecycle state.
type RecommendationStatus string

const (
	RecommendationActive     RecommendationStatus = "active"
	RecommendationSuperseded RecommendationStatus = "superseded"
)

// Recommendation is one escalation tier's suggestion tied to an anomaly
// type, accumulating evidence across repeated sightings.
type Recommendation struct {
	ID            string               `db:"id" json:"id"`
	AnomalyType   string               `db:"anomaly_type" json:"anomaly_type"`
	Tier          string               `db:"tier" json:"tier"`
	Suggestion    string               `db:"suggestion" json:"suggestion"`
	Category      string               `db:"category" json:"category"`
	Confidence    string               `db:"confidence" json:"confidence"`
	EvidenceCount int                  `db:"evidence_count" json:"evidence_count"`
	Status        RecommendationStatus `db:"status" json:"status"`
	CreatedAt     time.Time            `db:"-" json:"created_at"`
	UpdatedAt     time.Time            `db:"-" json:"updated_at"`
}

// Directive is an observation directive matched against anomaly types to
// decide which questions each escalation tier should answer.
type Directive struct {
	ID             string   `json:"id"`
	Watches        []string `json:"watches"`
	HaikuQuestion  string   `json:"haiku_question"`
	SonnetQuestion string   `json:"sonnet_question"`
	OpusTrigger    string   `json:"opus_trigger"`
}
