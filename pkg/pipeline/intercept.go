package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	avterrors "github.com/avt-project/avt/pkg/errors"
	"github.com/avt-project/avt/pkg/governance"
	"github.com/avt-project/avt/pkg/taskfile"
)

// TaskCreatedEvent is the hook payload fired on a successful task-creation
// tool call. TaskID may be empty when the hook's tool-result didn't carry
// the new task's id (some host agent versions only surface the subject).
type TaskCreatedEvent struct {
	SessionID   string
	TaskID      string
	Subject     string
	ReviewType  string
	TaskContext string
}

// Pipeline wires the task-file manager, the governance store, and the
// holistic flag together to implement the intercept step.
type Pipeline struct {
	tasks   *taskfile.Manager
	store   *governance.Store
	flag    *HolisticFlag
	cfg     Config
	spawner Spawner
}

// New builds a Pipeline. spawner may be a *Supervisor or a test fake.
func New(tasks *taskfile.Manager, store *governance.Store, flag *HolisticFlag, cfg Config, spawner Spawner) *Pipeline {
	return &Pipeline{tasks: tasks, store: store, flag: flag, cfg: cfg, spawner: spawner}
}

// Intercept implements spec step 4.4's intercept: skip review tasks,
// discover the task id if the hook didn't carry one, pair it with a
// governance review, record governance/task-review rows, gate the session,
// and spawn a settle-check.
func (p *Pipeline) Intercept(ctx context.Context, ev TaskCreatedEvent) error {
	taskID := ev.TaskID
	subject := ev.Subject

	if taskID != "" {
		t, err := p.tasks.ReadTask(taskID)
		if err != nil {
			return fmt.Errorf("intercept: read task %s: %w", taskID, err)
		}
		if taskfile.IsReviewTask(t) {
			return nil
		}
		subject = t.Subject
	} else {
		if hasReviewPrefix(subject) {
			return nil
		}
		found, err := p.discoverTask(subject)
		if err != nil {
			return fmt.Errorf("intercept: discover task for subject %q: %w", subject, err)
		}
		taskID = found.ID
	}

	reviewType := ev.ReviewType
	if reviewType == "" {
		reviewType = string(governance.ReviewTypeGovernance)
	}

	review, err := p.tasks.AddAdditionalReview(taskID, reviewType, ev.TaskContext)
	if err != nil {
		return fmt.Errorf("intercept: create review task: %w", err)
	}

	impl, err := p.tasks.ReadTask(taskID)
	if err != nil {
		return fmt.Errorf("intercept: reread implementation task: %w", err)
	}

	if _, err := p.store.StoreGovernedTask(ctx, governance.GovernedTaskRecord{
		ImplTaskID:    taskID,
		Subject:       impl.Subject,
		Description:   impl.Description,
		Context:       ev.TaskContext,
		CurrentStatus: governance.TaskStatusPendingReview,
		SessionID:     ev.SessionID,
	}); err != nil {
		return fmt.Errorf("intercept: store governed task: %w", err)
	}

	if _, err := p.store.StoreTaskReview(ctx, governance.TaskReviewRecord{
		ID:           uuid.NewString(),
		ReviewTaskID: review.ID,
		ImplTaskID:   taskID,
		ReviewType:   governance.ReviewType(reviewType),
		Status:       governance.ReviewStatusPending,
		Context:      ev.TaskContext,
	}); err != nil {
		return fmt.Errorf("intercept: store task review: %w", err)
	}

	if err := p.flag.Set(ev.SessionID); err != nil {
		return fmt.Errorf("intercept: set holistic flag: %w", err)
	}

	p.spawner.SpawnSettleCheck(ev.SessionID, time.Now())
	return nil
}

// discoverTask scans the task directory for a task matching subject with an
// empty blockedBy, preferring one not yet recorded as governed — spec's
// tie-break when the hook didn't carry the new task's id.
func (p *Pipeline) discoverTask(subject string) (taskfile.Task, error) {
	all, err := p.tasks.ListTasks()
	if err != nil {
		return taskfile.Task{}, err
	}

	var candidates []taskfile.Task
	for _, t := range all {
		if t.Subject == subject && len(t.BlockedBy) == 0 {
			candidates = append(candidates, t)
		}
	}
	if len(candidates) == 0 {
		return taskfile.Task{}, avterrors.ErrNotFound
	}

	for _, c := range candidates {
		if _, err := p.store.GetGovernedTask(context.Background(), c.ID); err != nil {
			// not yet governed — prefer this one
			return c, nil
		}
	}
	return candidates[0], nil
}

func hasReviewPrefix(subject string) bool {
	return taskfile.IsReviewTask(taskfile.Task{Subject: subject})
}
