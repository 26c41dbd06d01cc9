package reviewer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avt-project/avt/pkg/governance"
)

type fakeTransport struct {
	response string
	err      error
	calls    int
	lastCtx  context.Context
}

func (f *fakeTransport) Run(ctx context.Context, prompt string) (string, error) {
	f.calls++
	f.lastCtx = ctx
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func approvedJSON() string {
	return `{"verdict":"approved","findings":[],"guidance":"fine","standards_verified":["vision"]}`
}

func TestReviewDecisionParsesTransportResponse(t *testing.T) {
	ft := &fakeTransport{response: approvedJSON()}
	r := New(ft, false)

	d := governance.Decision{ID: "dec-1", TaskID: "impl-1", Category: governance.CategoryArchitectureEvolution, Summary: "use sqlite"}
	v := r.ReviewDecision(context.Background(), d, nil, nil)

	assert.Equal(t, 1, ft.calls)
	assert.Equal(t, governance.VerdictApproved, v.Verdict)
	require.NotNil(t, v.DecisionID)
	assert.Equal(t, "dec-1", *v.DecisionID)
	assert.Nil(t, v.PlanID)
}

func TestReviewDecisionAutoFlagsScopeChangeWithoutTransport(t *testing.T) {
	ft := &fakeTransport{response: approvedJSON()}
	r := New(ft, false)

	d := governance.Decision{ID: "dec-2", TaskID: "impl-1", Category: governance.CategoryScopeChange, Summary: "widen scope"}
	v := r.ReviewDecision(context.Background(), d, nil, nil)

	assert.Equal(t, 0, ft.calls, "reviewer transport must not be consulted for an auto-flagged category")
	assert.Equal(t, governance.VerdictNeedsHumanReview, v.Verdict)
	require.NotNil(t, v.DecisionID)
	assert.Equal(t, "dec-2", *v.DecisionID)
}

func TestReviewDecisionAutoFlagsDeviationWithoutTransport(t *testing.T) {
	ft := &fakeTransport{response: approvedJSON()}
	r := New(ft, false)

	d := governance.Decision{ID: "dec-3", TaskID: "impl-1", Category: governance.CategoryDeviation, Summary: "changed approach"}
	v := r.ReviewDecision(context.Background(), d, nil, nil)

	assert.Equal(t, 0, ft.calls, "reviewer transport must not be consulted for an auto-flagged category")
	assert.Equal(t, governance.VerdictNeedsHumanReview, v.Verdict)
}

func TestReviewPlanAttachesPlanID(t *testing.T) {
	ft := &fakeTransport{response: approvedJSON()}
	r := New(ft, false)

	v := r.ReviewPlan(context.Background(), "impl-42", "summary", "content", nil, nil, nil, nil)

	require.NotNil(t, v.PlanID)
	assert.Equal(t, "impl-42", *v.PlanID)
	assert.Nil(t, v.DecisionID)
}

func TestReviewCompletionAttachesPlanIDToTaskID(t *testing.T) {
	ft := &fakeTransport{response: approvedJSON()}
	r := New(ft, false)

	v := r.ReviewCompletion(context.Background(), "impl-9", "did the work", []string{"a.go"}, nil, nil, nil)

	require.NotNil(t, v.PlanID)
	assert.Equal(t, "impl-9", *v.PlanID)
}

func TestReviewTaskGroupHasNoDecisionOrPlanID(t *testing.T) {
	ft := &fakeTransport{response: approvedJSON()}
	r := New(ft, false)

	v := r.ReviewTaskGroup(context.Background(), []TaskGroupMember{{Subject: "s", ImplID: "impl-1"}}, "transcript", nil, nil)

	assert.Nil(t, v.DecisionID)
	assert.Nil(t, v.PlanID)
}

func TestReviewEvolutionProposalAttachesProposalIDAsPlanID(t *testing.T) {
	ft := &fakeTransport{response: approvedJSON()}
	r := New(ft, false)

	p := governance.EvolutionProposal{ID: "prop-1", TargetEntity: "vision:core"}
	v := r.ReviewEvolutionProposal(context.Background(), p, KGEntityView{Name: "vision:core"})

	require.NotNil(t, v.PlanID)
	assert.Equal(t, "prop-1", *v.PlanID)
}

func TestMockModeShortCircuitsWithoutCallingTransport(t *testing.T) {
	ft := &fakeTransport{response: `{"verdict":"blocked","findings":[],"guidance":"should never see this","standards_verified":[]}`}
	r := New(ft, true)

	d := governance.Decision{ID: "dec-1", TaskID: "impl-1"}
	v := r.ReviewDecision(context.Background(), d, nil, nil)

	assert.Equal(t, 0, ft.calls)
	assert.Equal(t, governance.VerdictApproved, v.Verdict)
}

func TestTransportErrorDegradesToNeedsHumanReviewNotError(t *testing.T) {
	ft := &fakeTransport{err: errors.New("subprocess crashed")}
	r := New(ft, false)

	d := governance.Decision{ID: "dec-1", TaskID: "impl-1"}
	v := r.ReviewDecision(context.Background(), d, nil, nil)

	assert.Equal(t, governance.VerdictNeedsHumanReview, v.Verdict)
}

func TestRunAppliesPerCallSiteTimeout(t *testing.T) {
	ft := &fakeTransport{response: approvedJSON()}
	r := New(ft, false)

	_, _ = r.run(context.Background(), decisionTimeout, "prompt")

	deadline, ok := ft.lastCtx.Deadline()
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(decisionTimeout), deadline, 2*time.Second)
}

func TestWrapWithBreakerPassesThroughOnSuccess(t *testing.T) {
	ft := &fakeTransport{response: "ok"}
	wrapped := WrapWithBreaker(ft)

	out, err := wrapped.Run(context.Background(), "prompt")
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
}

func TestWrapWithBreakerPropagatesTransportError(t *testing.T) {
	ft := &fakeTransport{err: errors.New("boom")}
	wrapped := WrapWithBreaker(ft)

	_, err := wrapped.Run(context.Background(), "prompt")
	assert.Error(t, err)
}
