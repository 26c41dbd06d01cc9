package trust

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	avterrors "github.com/avt-project/avt/pkg/errors"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(context.Background(), filepath.Join(t.TempDir(), "trust.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRecordFindingThenGetTrustDecisionDefaultsToBlock(t *testing.T) {
	store := newTestStore(t)
	ok, err := store.RecordFinding(context.Background(), Finding{
		ID: "f-1", Tool: "gosec", Severity: SeverityHigh, Component: "pkg/gateway", Description: "hardcoded secret",
	})
	require.NoError(t, err)
	assert.True(t, ok)

	decision, err := store.GetTrustDecision(context.Background(), "f-1")
	require.NoError(t, err)
	assert.Equal(t, TrustBlock, decision.Decision)
	assert.Contains(t, decision.Rationale, "presumed legitimate")
}

func TestRecordFindingDuplicateIDIsIdempotentNoOp(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	ok, err := store.RecordFinding(ctx, Finding{ID: "f-1", Tool: "gosec", Severity: SeverityLow, Component: "c", Description: "d"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.RecordFinding(ctx, Finding{ID: "f-1", Tool: "gosec", Severity: SeverityCritical, Component: "other", Description: "different"})
	require.NoError(t, err)
	assert.False(t, ok)

	f, err := store.GetFinding(ctx, "f-1")
	require.NoError(t, err)
	assert.Equal(t, SeverityLow, f.Severity) // original row untouched
}

func TestRecordDismissalRequiresNonBlankJustification(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	_, err := store.RecordFinding(ctx, Finding{ID: "f-1", Tool: "t", Severity: SeverityMedium, Component: "c", Description: "d"})
	require.NoError(t, err)

	err = store.RecordDismissal(ctx, "f-1", "alice", "   ")
	assert.True(t, avterrors.IsValidationError(err))

	err = store.RecordDismissal(ctx, "f-1", "alice", "false positive, confirmed by design review")
	require.NoError(t, err)
}

func TestRecordDismissalMovesFindingToTrackAndAppendsHistory(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	_, err := store.RecordFinding(ctx, Finding{ID: "f-1", Tool: "t", Severity: SeverityHigh, Component: "c", Description: "d"})
	require.NoError(t, err)

	require.NoError(t, store.RecordDismissal(ctx, "f-1", "alice", "reviewed, acceptable risk"))

	decision, err := store.GetTrustDecision(ctx, "f-1")
	require.NoError(t, err)
	assert.Equal(t, TrustTrack, decision.Decision)
	assert.Contains(t, decision.Rationale, "alice")

	history, err := store.GetDismissalHistory(ctx, "f-1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "alice", history[0].DismissedBy)

	require.NoError(t, store.RecordDismissal(ctx, "f-1", "bob", "re-confirmed"))
	history, err = store.GetDismissalHistory(ctx, "f-1")
	require.NoError(t, err)
	assert.Len(t, history, 2) // each dismissal appends, doesn't replace
}

func TestGetUnresolvedFindingsFiltersBySeverityThresholdAndStatus(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, seedFinding(ctx, store, "f-crit", SeverityCritical))
	require.NoError(t, seedFinding(ctx, store, "f-high", SeverityHigh))
	require.NoError(t, seedFinding(ctx, store, "f-med", SeverityMedium))
	require.NoError(t, seedFinding(ctx, store, "f-dismissed", SeverityCritical))
	require.NoError(t, store.RecordDismissal(ctx, "f-dismissed", "alice", "acceptable"))

	unresolved, err := store.GetUnresolvedFindings(ctx, SeverityHigh)
	require.NoError(t, err)

	ids := make([]string, 0, len(unresolved))
	for _, f := range unresolved {
		ids = append(ids, f.ID)
	}
	assert.ElementsMatch(t, []string{"f-crit", "f-high"}, ids)
}

func seedFinding(ctx context.Context, store *Store, id string, sev Severity) error {
	_, err := store.RecordFinding(ctx, Finding{ID: id, Tool: "t", Severity: sev, Component: "c", Description: "d"})
	return err
}

func TestGetAllFindingsWithNoFilterReturnsEverything(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, seedFinding(ctx, store, "f-1", SeverityLow))
	require.NoError(t, seedFinding(ctx, store, "f-2", SeverityInfo))
	require.NoError(t, store.RecordDismissal(ctx, "f-2", "alice", "noise"))

	all, err := store.GetAllFindings(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	open, err := store.GetAllFindings(ctx, FindingStatusOpen)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "f-1", open[0].ID)
}
