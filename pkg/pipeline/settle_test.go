package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avt-project/avt/pkg/governance"
)

func testConfig() Config {
	return Config{SettleDelay: 10 * time.Millisecond, SettleTolerance: 500 * time.Millisecond, MinTasksForReview: 2}
}

func storeGovernedTask(t *testing.T, store *governance.Store, implID, sessionID string, createdAt time.Time) {
	t.Helper()
	_, err := store.StoreGovernedTask(context.Background(), governance.GovernedTaskRecord{
		ImplTaskID: implID, Subject: "subj-" + implID, CurrentStatus: governance.TaskStatusPendingReview,
		SessionID: sessionID, CreatedAt: createdAt,
	})
	require.NoError(t, err)
}

func TestSettleCheckNonSurvivorExitsWithoutRunningReview(t *testing.T) {
	_, store, graph, flag := newTestHarness(t)
	spawner := &fakeSpawner{}
	rv := newMockReviewer(false, approvedVerdictJSON())

	now := time.Now()
	storeGovernedTask(t, store, "impl-1", "sess-1", now)
	storeGovernedTask(t, store, "impl-2", "sess-1", now.Add(2*time.Second)) // newer than checker's own timestamp

	sc := NewSettleCheck("sess-1", now, store, graph, rv, flag, testConfig(), spawner, "")
	require.NoError(t, sc.Run(context.Background()))

	_, err := store.GetHolisticReviewForSession(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Empty(t, spawner.reviewRunners)
}

func TestSettleCheckSurvivorRunsHolisticReviewAndSpawnsRunners(t *testing.T) {
	_, store, graph, flag := newTestHarness(t)
	spawner := &fakeSpawner{}
	rv := newMockReviewer(false, approvedVerdictJSON())

	require.NoError(t, flag.Set("sess-2"))
	now := time.Now()
	storeGovernedTask(t, store, "impl-1", "sess-2", now)
	storeGovernedTask(t, store, "impl-2", "sess-2", now)

	sc := NewSettleCheck("sess-2", now, store, graph, rv, flag, testConfig(), spawner, "transcript")
	require.NoError(t, sc.Run(context.Background()))

	record, err := store.GetHolisticReviewForSession(context.Background(), "sess-2")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, governance.VerdictApproved, record.Verdict)
	assert.False(t, flag.Exists("sess-2"))
	assert.ElementsMatch(t, []string{"impl-1", "impl-2"}, spawner.reviewRunners)
}

func TestSettleCheckBlockedVerdictKeepsFlagAndSkipsRunners(t *testing.T) {
	_, store, graph, flag := newTestHarness(t)
	spawner := &fakeSpawner{}
	rv := newMockReviewer(false, blockedVerdictJSON())

	require.NoError(t, flag.Set("sess-3"))
	now := time.Now()
	storeGovernedTask(t, store, "impl-1", "sess-3", now)
	storeGovernedTask(t, store, "impl-2", "sess-3", now)

	sc := NewSettleCheck("sess-3", now, store, graph, rv, flag, testConfig(), spawner, "")
	require.NoError(t, sc.Run(context.Background()))

	assert.True(t, flag.Exists("sess-3"))
	assert.Empty(t, spawner.reviewRunners)
}

func TestSettleCheckIdempotencyGuardSkipsWhenHolisticAlreadyExists(t *testing.T) {
	_, store, graph, flag := newTestHarness(t)
	spawner := &fakeSpawner{}
	rv := newMockReviewer(false, approvedVerdictJSON())

	now := time.Now()
	storeGovernedTask(t, store, "impl-1", "sess-4", now)
	storeGovernedTask(t, store, "impl-2", "sess-4", now)
	_, err := store.StoreHolisticReview(context.Background(), governance.HolisticReviewRecord{
		ID: "hr-1", SessionID: "sess-4", Verdict: governance.VerdictApproved,
	})
	require.NoError(t, err)

	sc := NewSettleCheck("sess-4", now, store, graph, rv, flag, testConfig(), spawner, "")
	require.NoError(t, sc.Run(context.Background()))

	assert.Empty(t, spawner.reviewRunners) // another survivor already handled it
}

func TestSettleCheckBelowThresholdSkipsHolisticButRunsIndividualReviews(t *testing.T) {
	_, store, graph, flag := newTestHarness(t)
	spawner := &fakeSpawner{}
	rv := newMockReviewer(false, approvedVerdictJSON())

	require.NoError(t, flag.Set("sess-5"))
	now := time.Now()
	storeGovernedTask(t, store, "impl-1", "sess-5", now)

	sc := NewSettleCheck("sess-5", now, store, graph, rv, flag, testConfig(), spawner, "")
	require.NoError(t, sc.Run(context.Background()))

	record, err := store.GetHolisticReviewForSession(context.Background(), "sess-5")
	require.NoError(t, err)
	assert.Nil(t, record)
	assert.False(t, flag.Exists("sess-5"))
	assert.Equal(t, []string{"impl-1"}, spawner.reviewRunners)
}
