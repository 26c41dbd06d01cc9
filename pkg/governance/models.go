// Package governance implements the embedded-SQLite store for decisions,
// reviews, governed tasks, holistic reviews, and evolution proposals.
package governance

import "time"

// DecisionCategory classifies the kind of judgment call a decision record
// captures.
type DecisionCategory string

const (
	CategoryPatternChoice         DecisionCategory = "pattern_choice"
	CategoryComponentDesign       DecisionCategory = "component_design"
	CategoryAPIDesign             DecisionCategory = "api_design"
	CategoryDeviation             DecisionCategory = "deviation"
	CategoryScopeChange           DecisionCategory = "scope_change"
	CategoryArchitectureEvolution DecisionCategory = "architecture_evolution"
	CategoryExperimentProposal    DecisionCategory = "experiment_proposal"
	CategoryExperimentResult      DecisionCategory = "experiment_result"
)

// Confidence is the agent's self-reported confidence in a decision.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Verdict is the reviewer's judgment on a decision or plan.
type Verdict string

const (
	VerdictApproved         Verdict = "approved"
	VerdictBlocked          Verdict = "blocked"
	VerdictNeedsHumanReview Verdict = "needs_human_review"
)

// Alternative is an option the agent considered and rejected.
type Alternative struct {
	Option         string `json:"option"`
	ReasonRejected string `json:"reason_rejected"`
}

// Decision is an agent's recorded judgment call, scoped to a task and
// numbered with a dense per-task sequence.
type Decision struct {
	ID                   string           `db:"id" json:"id"`
	TaskID               string           `db:"task_id" json:"task_id" validate:"required"`
	Sequence             int              `db:"sequence" json:"sequence"`
	Agent                string           `db:"agent" json:"agent" validate:"required"`
	Category             DecisionCategory `db:"category" json:"category" validate:"required,oneof=pattern_choice component_design api_design deviation scope_change architecture_evolution experiment_proposal experiment_result"`
	Summary              string           `db:"summary" json:"summary" validate:"required"`
	Detail               string           `db:"detail" json:"detail"`
	ComponentsAffected   []string         `db:"-" json:"components_affected"`
	AlternativesConsider []Alternative    `db:"-" json:"alternatives_considered"`
	Confidence           Confidence       `db:"confidence" json:"confidence" validate:"required,oneof=low medium high"`
	CreatedAt            time.Time        `db:"created_at" json:"created_at"`
}

// Finding is one reviewer-surfaced issue attached to a ReviewVerdict.
type Finding struct {
	Tier        string `json:"tier"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
	Suggestion  string `json:"suggestion"`
}

// ReviewVerdict is the reviewer's response to either a Decision or a plan
// (exactly one of DecisionID/PlanID is set).
type ReviewVerdict struct {
	ID                 string    `db:"id" json:"id"`
	DecisionID         *string   `db:"decision_id" json:"decision_id,omitempty"`
	PlanID             *string   `db:"plan_id" json:"plan_id,omitempty"`
	Verdict            Verdict   `db:"verdict" json:"verdict"`
	Findings           []Finding `db:"-" json:"findings"`
	Guidance           string    `db:"guidance" json:"guidance"`
	StandardsVerified  []string  `db:"-" json:"standards_verified"`
	Reviewer           string    `db:"reviewer" json:"reviewer"`
	CreatedAt          time.Time `db:"created_at" json:"created_at"`
}

// GovernanceRecord pairs a Decision with its most recent review, if any,
// for history/listing queries.
type GovernanceRecord struct {
	Decision Decision       `json:"decision"`
	Review   *ReviewVerdict `json:"review,omitempty"`
}

// GovernedTaskStatus is the lifecycle state of a governed implementation
// task as tracked by the pipeline.
type GovernedTaskStatus string

const (
	TaskStatusPendingReview   GovernedTaskStatus = "pending_review"
	TaskStatusApproved        GovernedTaskStatus = "approved"
	TaskStatusBlocked         GovernedTaskStatus = "blocked"
	TaskStatusNeedsHumanRvw   GovernedTaskStatus = "needs_human_review"
)

// GovernedTaskRecord tracks one implementation task under governance.
type GovernedTaskRecord struct {
	ImplTaskID     string             `db:"impl_task_id" json:"implementation_task_id"`
	Subject        string             `db:"subject" json:"subject"`
	Description    string             `db:"description" json:"description"`
	Context        string             `db:"context" json:"context"`
	CurrentStatus  GovernedTaskStatus `db:"current_status" json:"current_status"`
	SessionID      string             `db:"session_id" json:"session_id"`
	CreatedAt      time.Time          `db:"created_at" json:"created_at"`
}

// ReviewType names the governance lens a TaskReviewRecord applies.
type ReviewType string

const (
	ReviewTypeGovernance  ReviewType = "governance"
	ReviewTypeSecurity    ReviewType = "security"
	ReviewTypeArchitecture ReviewType = "architecture"
	ReviewTypeCodeQuality ReviewType = "code_quality"
)

// TaskReviewStatus is the lifecycle state of one review attached to a task.
type TaskReviewStatus string

const (
	ReviewStatusPending         TaskReviewStatus = "pending"
	ReviewStatusApproved        TaskReviewStatus = "approved"
	ReviewStatusBlocked         TaskReviewStatus = "blocked"
	ReviewStatusNeedsHumanRvw   TaskReviewStatus = "needs_human_review"
	ReviewStatusCancelled       TaskReviewStatus = "cancelled"
)

// TaskReviewRecord is one review task's governance bookkeeping row.
type TaskReviewRecord struct {
	ID             string           `db:"id" json:"id"`
	ReviewTaskID   string           `db:"review_task_id" json:"review_task_id"`
	ImplTaskID     string           `db:"impl_task_id" json:"implementation_task_id"`
	ReviewType     ReviewType       `db:"review_type" json:"review_type"`
	Status         TaskReviewStatus `db:"status" json:"status"`
	Verdict        *Verdict         `db:"verdict" json:"verdict,omitempty"`
	Findings       []Finding        `db:"-" json:"findings"`
	Guidance       string           `db:"guidance" json:"guidance"`
	Context        string           `db:"context" json:"context"`
	CreatedAt      time.Time        `db:"created_at" json:"created_at"`
}

// HolisticReviewRecord is the single per-session cross-task review.
type HolisticReviewRecord struct {
	ID                string    `db:"id" json:"id"`
	SessionID         string    `db:"session_id" json:"session_id"`
	TaskIDs           []string  `db:"-" json:"task_ids"`
	CollectiveIntent  string    `db:"collective_intent" json:"collective_intent"`
	Verdict           Verdict   `db:"verdict" json:"verdict"`
	Findings          []Finding `db:"-" json:"findings"`
	Guidance          string    `db:"guidance" json:"guidance"`
	StandardsVerified []string  `db:"-" json:"standards_verified"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
}

// EvolutionProposalStatus is the lifecycle state of a proposed change to a
// vision or architecture-tier KG entity.
type EvolutionProposalStatus string

const (
	ProposalStatusProposed        EvolutionProposalStatus = "proposed"
	ProposalStatusExperimenting   EvolutionProposalStatus = "experimenting"
	ProposalStatusValidated       EvolutionProposalStatus = "validated"
	ProposalStatusNeedsMoreEvid   EvolutionProposalStatus = "needs_more_evidence"
	ProposalStatusApproved        EvolutionProposalStatus = "approved"
	ProposalStatusRejected        EvolutionProposalStatus = "rejected"
)

// ExperimentEvidenceType classifies one piece of evidence backing a
// proposal.
type ExperimentEvidenceType string

const (
	EvidenceTestResults ExperimentEvidenceType = "test_results"
	EvidenceBenchmark   ExperimentEvidenceType = "benchmark"
	EvidenceObservation ExperimentEvidenceType = "observation"
	EvidenceMeasurement ExperimentEvidenceType = "measurement"
)

// ComparisonToBaseline is one named metric's experiment-vs-baseline delta.
type ComparisonToBaseline struct {
	Baseline    float64 `json:"baseline"`
	Experiment  float64 `json:"experiment"`
	Improvement float64 `json:"improvement"`
}

// ExperimentEvidence is one observation/measurement backing an
// EvolutionProposal.
type ExperimentEvidence struct {
	Type                 ExperimentEvidenceType          `json:"type"`
	Source               string                          `json:"source"`
	RawOutput             string                          `json:"raw_output"`
	Summary              string                          `json:"summary"`
	Metrics              map[string]float64              `json:"metrics"`
	ComparisonToBaseline map[string]ComparisonToBaseline `json:"comparison_to_baseline"`
	Timestamp            *time.Time                      `json:"timestamp,omitempty"`
}

// EvolutionProposal is a proposed change to a protected KG entity, tracked
// through an evidence-gathering lifecycle before it is approved or
// rejected.
type EvolutionProposal struct {
	ID                 string                  `db:"id" json:"id"`
	TargetEntity       string                  `db:"target_entity" json:"target_entity"`
	OriginalIntent     string                  `db:"original_intent" json:"original_intent"`
	ProposedChange     string                  `db:"proposed_change" json:"proposed_change"`
	Rationale          string                  `db:"rationale" json:"rationale"`
	ValidationCriteria []string                `db:"-" json:"validation_criteria"`
	Evidence           []ExperimentEvidence    `db:"-" json:"evidence"`
	Status             EvolutionProposalStatus `db:"status" json:"status"`
	WorktreeBranch     *string                 `db:"worktree_branch" json:"worktree_branch,omitempty"`
	ProposingAgent     string                  `db:"proposing_agent" json:"proposing_agent"`
	ReviewVerdict      *Verdict                `db:"review_verdict" json:"review_verdict,omitempty"`
	CreatedAt          time.Time               `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time               `db:"updated_at" json:"updated_at"`
}

// Status is the aggregate project-wide decision/review counter returned by
// GetStatus.
type Status struct {
	TotalDecisions   int              `json:"total_decisions"`
	Approved         int              `json:"approved"`
	Blocked          int              `json:"blocked"`
	NeedsHumanReview int              `json:"needs_human_review"`
	Pending          int              `json:"pending"`
	RecentActivity   []ActivitySummary `json:"recent_activity"`
}

// ActivitySummary is one row of the status aggregate's recent-activity feed.
type ActivitySummary struct {
	Summary  string  `json:"summary"`
	Agent    string  `json:"agent"`
	Category string  `json:"category"`
	Verdict  *string `json:"verdict"`
}

// TaskGovernanceStats is the aggregate view over GovernedTaskRecord rows.
type TaskGovernanceStats struct {
	TotalTasks        int `json:"total_tasks"`
	PendingReview     int `json:"pending_review"`
	Approved          int `json:"approved"`
	Blocked           int `json:"blocked"`
	NeedsHumanReview  int `json:"needs_human_review"`
}

// DecisionFilter narrows GetAllDecisions.
type DecisionFilter struct {
	TaskID  string
	Agent   string
	Verdict string
}
