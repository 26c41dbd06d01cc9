package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avt-project/avt/pkg/taskfile"
)

func TestInterceptSkipsReviewTaskByID(t *testing.T) {
	tasks, store, _, flag := newTestHarness(t)
	spawner := &fakeSpawner{}
	p := New(tasks, store, flag, DefaultConfig(), spawner)

	rt, err := tasks.CreateTask(taskfile.Task{ID: "review-abc", Subject: "[GOVERNANCE] Review: something"})
	require.NoError(t, err)

	err = p.Intercept(context.Background(), TaskCreatedEvent{SessionID: "s1", TaskID: rt.ID})
	require.NoError(t, err)
	assert.Empty(t, spawner.settleChecks)
}

func TestInterceptPairsTaskAndSpawnsSettleCheck(t *testing.T) {
	tasks, store, _, flag := newTestHarness(t)
	spawner := &fakeSpawner{}
	p := New(tasks, store, flag, DefaultConfig(), spawner)

	impl, err := tasks.CreateTask(taskfile.Task{ID: taskfile.NewTaskID(), Subject: "Add the thing"})
	require.NoError(t, err)

	err = p.Intercept(context.Background(), TaskCreatedEvent{SessionID: "sess-1", TaskID: impl.ID, TaskContext: "ctx"})
	require.NoError(t, err)

	require.Equal(t, []string{"sess-1"}, spawner.settleChecks)
	assert.True(t, flag.Exists("sess-1"))

	updated, err := tasks.ReadTask(impl.ID)
	require.NoError(t, err)
	assert.Len(t, updated.BlockedBy, 1)

	governed, err := store.GetGovernedTask(context.Background(), impl.ID)
	require.NoError(t, err)
	assert.Equal(t, "sess-1", governed.SessionID)

	reviews, err := store.GetTaskReviews(context.Background(), impl.ID)
	require.NoError(t, err)
	require.Len(t, reviews, 1)
	assert.Equal(t, updated.BlockedBy[0], reviews[0].ReviewTaskID)
}

func TestInterceptDiscoversTaskWhenIDMissing(t *testing.T) {
	tasks, store, _, flag := newTestHarness(t)
	spawner := &fakeSpawner{}
	p := New(tasks, store, flag, DefaultConfig(), spawner)

	impl, err := tasks.CreateTask(taskfile.Task{ID: taskfile.NewTaskID(), Subject: "Do the migration"})
	require.NoError(t, err)

	err = p.Intercept(context.Background(), TaskCreatedEvent{SessionID: "sess-2", Subject: "Do the migration"})
	require.NoError(t, err)

	governed, err := store.GetGovernedTask(context.Background(), impl.ID)
	require.NoError(t, err)
	assert.Equal(t, impl.ID, governed.ImplTaskID)
}

func TestInterceptSkipsWhenDiscoveredSubjectHasReviewPrefix(t *testing.T) {
	tasks, store, _, flag := newTestHarness(t)
	spawner := &fakeSpawner{}
	p := New(tasks, store, flag, DefaultConfig(), spawner)

	err := p.Intercept(context.Background(), TaskCreatedEvent{SessionID: "sess-3", Subject: "[SECURITY] Review: foo"})
	require.NoError(t, err)
	assert.Empty(t, spawner.settleChecks)
}
