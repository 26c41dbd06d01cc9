package trust

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/avt-project/avt/pkg/governance"
)

// maxEvidenceFutureSkew bounds how far into the future a piece of evidence's
// timestamp may sit before it is rejected as implausible. This is carried
// over as a named magic number from the Python original with no further
// derivation attempted (see Open Question (b) in DESIGN.md).
const maxEvidenceFutureSkew = 30 * 24 * time.Hour

var (
	testResultsPattern = regexp.MustCompile(`(?i)\d+\s+(pass|fail|error|skip)`)
	benchmarkPattern   = regexp.MustCompile(`(?i)\d+(\.\d+)?\s*(ms|s|ns|us|mb|kb|gb|ops|req)\b`)
)

// EvidenceValidationResult is the outcome of validating one piece of
// ExperimentEvidence.
type EvidenceValidationResult struct {
	Valid  bool     `json:"valid"`
	Issues []string `json:"issues"`
}

// EvidenceValidatorOptions configures one validation pass.
type EvidenceValidatorOptions struct {
	// AllowMock short-circuits every check to valid=true, mirroring the
	// GOVERNANCE_MOCK_REVIEW mock-mode wired through every collaborator
	// call site, including this one.
	AllowMock bool
	// ExperimentStart, if set, requires each evidence timestamp to fall
	// after it.
	ExperimentStart *time.Time
	// SourceExists stats a source path; the field is a func so tests and
	// callers outside the evidence's own filesystem can stub it.
	SourceExists func(path string) bool
}

func defaultSourceExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

// ValidateEvidence structurally validates one piece of ExperimentEvidence:
// source existence, timestamp format/range, evidence-type-specific content
// checks, and (for types carrying them) numeric metrics/baseline
// comparisons.
func ValidateEvidence(ev governance.ExperimentEvidence, opts EvidenceValidatorOptions) EvidenceValidationResult {
	if opts.AllowMock {
		return EvidenceValidationResult{Valid: true}
	}

	sourceExists := opts.SourceExists
	if sourceExists == nil {
		sourceExists = defaultSourceExists
	}

	var issues []string

	if ev.Source == "" {
		issues = append(issues, "evidence source is empty")
	} else if !sourceExists(ev.Source) {
		issues = append(issues, fmt.Sprintf("evidence source does not exist: %s", ev.Source))
	}

	if ev.Timestamp != nil {
		now := time.Now().UTC()
		ts := ev.Timestamp.UTC()
		if ts.Sub(now) > maxEvidenceFutureSkew {
			issues = append(issues, "evidence timestamp is more than 30 days in the future")
		}
		if opts.ExperimentStart != nil && ts.Before(opts.ExperimentStart.UTC()) {
			issues = append(issues, "evidence timestamp predates the experiment start")
		}
	}

	switch ev.Type {
	case governance.EvidenceTestResults:
		if !testResultsPattern.MatchString(ev.RawOutput) {
			issues = append(issues, "test_results evidence has no recognizable pass/fail/error/skip count")
		}
	case governance.EvidenceBenchmark:
		if !benchmarkPattern.MatchString(ev.RawOutput) {
			issues = append(issues, "benchmark evidence has no recognizable numeric measurement with units")
		}
	}

	for name, cmp := range ev.ComparisonToBaseline {
		_ = name
		if cmp.Baseline == 0 && cmp.Experiment == 0 && cmp.Improvement == 0 {
			// zero-valued struct: most likely an omitted entry rather than a
			// genuine all-zero measurement; flag for human attention.
			issues = append(issues, fmt.Sprintf("comparison_to_baseline entry %q looks unset", name))
		}
	}

	return EvidenceValidationResult{Valid: len(issues) == 0, Issues: issues}
}

// ValidateEvidenceBatch validates every piece of evidence and is valid iff
// every individual validation is valid.
func ValidateEvidenceBatch(evidence []governance.ExperimentEvidence, opts EvidenceValidatorOptions) EvidenceValidationResult {
	if opts.AllowMock {
		return EvidenceValidationResult{Valid: true}
	}
	var allIssues []string
	for i, ev := range evidence {
		result := ValidateEvidence(ev, opts)
		for _, issue := range result.Issues {
			allIssues = append(allIssues, fmt.Sprintf("evidence[%d]: %s", i, issue))
		}
	}
	return EvidenceValidationResult{Valid: len(allIssues) == 0, Issues: allIssues}
}
