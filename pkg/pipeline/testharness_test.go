package pipeline

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/avt-project/avt/pkg/governance"
	"github.com/avt-project/avt/pkg/kg"
	"github.com/avt-project/avt/pkg/reviewer"
	"github.com/avt-project/avt/pkg/taskfile"
)

func newTestHarness(t *testing.T) (*taskfile.Manager, *governance.Store, *kg.Graph, *HolisticFlag) {
	t.Helper()
	dir := t.TempDir()

	tasks, err := taskfile.NewManager(filepath.Join(dir, "tasks"), time.Second)
	require.NoError(t, err)

	store, err := governance.Open(context.Background(), filepath.Join(dir, "governance.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	graph, err := kg.NewGraph(filepath.Join(dir, "kg.jsonl"), 1000)
	require.NoError(t, err)

	flag, err := NewHolisticFlag(filepath.Join(dir, "flags"))
	require.NoError(t, err)

	return tasks, store, graph, flag
}

func newMockReviewer(mock bool, response string) *reviewer.Reviewer {
	if mock {
		return reviewer.New(reviewer.MockTransport{}, true)
	}
	return reviewer.New(&fakeTransport{response: response}, false)
}

type fakeTransport struct {
	response string
}

func (f *fakeTransport) Run(context.Context, string) (string, error) {
	return f.response, nil
}

// fakeSpawner records spawn calls instead of actually scheduling goroutines,
// so intercept/settle tests can assert on what would have been spawned
// without racing a background goroutine.
type fakeSpawner struct {
	settleChecks  []string
	reviewRunners []string
}

func (f *fakeSpawner) SpawnSettleCheck(sessionID string, _ time.Time) {
	f.settleChecks = append(f.settleChecks, sessionID)
}

func (f *fakeSpawner) SpawnReviewRunner(implTaskID string) {
	f.reviewRunners = append(f.reviewRunners, implTaskID)
}

func approvedVerdictJSON() string {
	return `{"verdict":"approved","findings":[],"guidance":"fine","standards_verified":[]}`
}

func blockedVerdictJSON() string {
	return `{"verdict":"blocked","findings":[{"tier":"architecture","severity":"high","description":"bad","suggestion":"fix"}],"guidance":"no","standards_verified":[]}`
}
