package trust

import "context"

// GateResult is one sub-gate's outcome.
type GateResult struct {
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

// skippedResult is what a disabled gate always reports.
func skippedResult() GateResult {
	return GateResult{Passed: true, Detail: "Skipped (disabled)"}
}

// GateResults is the aggregate outcome of all five sub-gates.
type GateResults struct {
	Build     GateResult `json:"build"`
	Lint      GateResult `json:"lint"`
	Tests     GateResult `json:"tests"`
	Coverage  GateResult `json:"coverage"`
	Findings  GateResult `json:"findings"`
	AllPassed bool       `json:"all_passed"`
}

// GateRunner runs one external-tool gate (build/lint/test/coverage) and
// reports its result. The fabric has no opinion on *which* tool a project
// uses for these — callers supply the runner; see NewAggregator.
type GateRunner func(ctx context.Context) (GateResult, error)

// GateRules says which of the four pluggable gates are enabled for a
// project. The findings gate has no rule of its own: it is disabled by
// simply passing a nil FindingsStore to NewAggregator.
type GateRules struct {
	BuildEnabled    bool
	LintEnabled     bool
	TestsEnabled    bool
	CoverageEnabled bool
}

// findingsStore is the subset of Store the findings gate depends on.
type findingsStore interface {
	GetUnresolvedFindings(ctx context.Context, minSeverity Severity) ([]Finding, error)
}

// Aggregator runs the five sub-gates spec 4.6 names. Build, lint, tests,
// and coverage each shell out to a project-specific external tool — the
// fabric stays tool-agnostic by taking those four as injected GateRunners
// rather than hardwiring any particular build system, linter, test runner,
// or coverage tool. The findings gate is the one gate the fabric owns
// outright: it is wired directly to a Store.
type Aggregator struct {
	rules GateRules

	buildRunner    GateRunner
	lintRunner     GateRunner
	testsRunner    GateRunner
	coverageRunner GateRunner

	findings findingsStore
}

// NewAggregator builds a gate aggregator. Any of the four runners may be
// nil, in which case that gate reports skipped regardless of rules (there
// is nothing configured to run). Pass a nil findings store to disable the
// findings gate.
func NewAggregator(rules GateRules, buildRunner, lintRunner, testsRunner, coverageRunner GateRunner, findings findingsStore) *Aggregator {
	return &Aggregator{
		rules: rules, buildRunner: buildRunner, lintRunner: lintRunner,
		testsRunner: testsRunner, coverageRunner: coverageRunner, findings: findings,
	}
}

// CheckAll runs every sub-gate and returns the aggregate result. A runner
// error is treated as a failing (not skipped) gate, with the error message
// as the detail — a gate that cannot determine its own outcome never
// silently passes.
func (a *Aggregator) CheckAll(ctx context.Context) GateResults {
	results := GateResults{
		Build:    a.runOptional(ctx, a.rules.BuildEnabled, a.buildRunner),
		Lint:     a.runOptional(ctx, a.rules.LintEnabled, a.lintRunner),
		Tests:    a.runOptional(ctx, a.rules.TestsEnabled, a.testsRunner),
		Coverage: a.runOptional(ctx, a.rules.CoverageEnabled, a.coverageRunner),
		Findings: a.runFindingsGate(ctx),
	}
	results.AllPassed = results.Build.Passed && results.Lint.Passed &&
		results.Tests.Passed && results.Coverage.Passed && results.Findings.Passed
	return results
}

func (a *Aggregator) runOptional(ctx context.Context, enabled bool, runner GateRunner) GateResult {
	if !enabled || runner == nil {
		return skippedResult()
	}
	result, err := runner(ctx)
	if err != nil {
		return GateResult{Passed: false, Detail: err.Error()}
	}
	return result
}

// runFindingsGate fails iff there is at least one open finding of severity
// high or above.
func (a *Aggregator) runFindingsGate(ctx context.Context) GateResult {
	if a.findings == nil {
		return skippedResult()
	}
	unresolved, err := a.findings.GetUnresolvedFindings(ctx, SeverityHigh)
	if err != nil {
		return GateResult{Passed: false, Detail: err.Error()}
	}
	if len(unresolved) == 0 {
		return GateResult{Passed: true, Detail: "No unresolved findings at or above high severity"}
	}
	return GateResult{Passed: false, Detail: "Unresolved findings at or above high severity present"}
}
