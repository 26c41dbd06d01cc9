package reviewer

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"github.com/avt-project/avt/pkg/governance"
)

// per-call-site timeouts, matching the reference implementation's
// claude --print invocations.
const (
	decisionTimeout   = 60 * time.Second
	planTimeout       = 120 * time.Second
	groupTimeout      = 120 * time.Second
	completionTimeout = 90 * time.Second
	proposalTimeout   = 90 * time.Second
)

// WrapWithBreaker wraps a Transport in a circuit breaker so a string of
// reviewer failures (subprocess crashes, API outages) trips open and
// fails fast into needs_human_review instead of letting every task queue
// up behind a dead reviewer.
func WrapWithBreaker(t Transport) Transport {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "governance-reviewer",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return breakerTransport{cb: cb, inner: t}
}

type breakerTransport struct {
	cb    *gobreaker.CircuitBreaker
	inner Transport
}

func (b breakerTransport) Run(ctx context.Context, prompt string) (string, error) {
	result, err := b.cb.Execute(func() (interface{}, error) {
		return b.inner.Run(ctx, prompt)
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

func (r *Reviewer) run(ctx context.Context, timeout time.Duration, prompt string) (string, error) {
	if r.mock {
		return mockVerdict(), nil
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	raw, err := r.transport.Run(ctx, prompt)
	if err != nil {
		// a breaker-open or transport-level error still needs to surface
		// as a storable verdict, not an error the caller must special-case
		return needsHumanReviewJSON(err.Error()), nil
	}
	return raw, nil
}

// autoFlagCategories are decision categories that always resolve to
// needs_human_review without consulting the reviewer at all: a deviation
// from the agreed plan or a scope change is, by definition, something a
// human signed up to see, not a judgment call to delegate.
var autoFlagCategories = map[governance.DecisionCategory]bool{
	governance.CategoryDeviation:   true,
	governance.CategoryScopeChange: true,
}

// ReviewDecision evaluates a single decision against vision and
// architecture standards. Deviation and scope_change decisions are
// auto-flagged for human review deterministically, before the reviewer
// transport is ever invoked.
func (r *Reviewer) ReviewDecision(ctx context.Context, d governance.Decision, vision, architecture []KGEntityView) governance.ReviewVerdict {
	if autoFlagCategories[d.Category] {
		return autoFlagVerdict(d)
	}
	prompt := buildDecisionPrompt(d, vision, architecture)
	raw, _ := r.run(ctx, decisionTimeout, prompt)
	return parseVerdict(raw, &d.ID, nil)
}

func autoFlagVerdict(d governance.Decision) governance.ReviewVerdict {
	return governance.ReviewVerdict{
		ID:         uuid.NewString(),
		DecisionID: &d.ID,
		Verdict:    governance.VerdictNeedsHumanReview,
		Guidance:   "Category " + string(d.Category) + " always requires human review.",
		Reviewer:   "governance-reviewer",
	}
}

// ReviewPlan evaluates a complete plan with full accumulated context.
func (r *Reviewer) ReviewPlan(ctx context.Context, taskID, planSummary, planContent string,
	decisions []governance.Decision, reviews []governance.ReviewVerdict, vision, architecture []KGEntityView) governance.ReviewVerdict {
	prompt := buildPlanPrompt(planSummary, planContent, decisions, reviews, vision, architecture)
	raw, _ := r.run(ctx, planTimeout, prompt)
	return parseVerdict(raw, nil, &taskID)
}

// ReviewTaskGroup evaluates a set of tasks holistically, looking for
// collective architectural or scope drift invisible to single-task
// review.
func (r *Reviewer) ReviewTaskGroup(ctx context.Context, tasks []TaskGroupMember, transcriptExcerpt string,
	vision, architecture []KGEntityView) governance.ReviewVerdict {
	prompt := buildGroupReviewPrompt(tasks, transcriptExcerpt, vision, architecture)
	raw, _ := r.run(ctx, groupTimeout, prompt)
	return parseVerdict(raw, nil, nil)
}

// ReviewCompletion evaluates completed work for a final governance check.
func (r *Reviewer) ReviewCompletion(ctx context.Context, taskID, summaryOfWork string, filesChanged []string,
	decisions []governance.Decision, reviews []governance.ReviewVerdict, vision []KGEntityView) governance.ReviewVerdict {
	prompt := buildCompletionPrompt(summaryOfWork, filesChanged, decisions, reviews, vision)
	raw, _ := r.run(ctx, completionTimeout, prompt)
	return parseVerdict(raw, nil, &taskID)
}

// ReviewEvolutionProposal evaluates a proposed change to a protected KG
// entity against the evidence gathered so far. Not present in the
// reference reviewer.py — supplemented per spec §4.5's reviewer-contract
// line naming it as a fifth call site.
func (r *Reviewer) ReviewEvolutionProposal(ctx context.Context, p governance.EvolutionProposal, target KGEntityView) governance.ReviewVerdict {
	prompt := buildEvolutionProposalPrompt(p, p.Evidence, target)
	raw, _ := r.run(ctx, proposalTimeout, prompt)
	return parseVerdict(raw, nil, &p.ID)
}
