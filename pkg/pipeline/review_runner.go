package pipeline

import (
	"context"
	"fmt"

	"github.com/avt-project/avt/pkg/governance"
	"github.com/avt-project/avt/pkg/kg"
	"github.com/avt-project/avt/pkg/reviewer"
	"github.com/avt-project/avt/pkg/taskfile"
)

// ReviewRunner is spawned once per implementation task released into
// review, by an approving settle-check or directly when a session never
// reached the holistic-review threshold. It resolves every still-pending
// TaskReviewRecord attached to the task, runs the reviewer, and releases
// (or keeps blocking) the implementation task accordingly.
type ReviewRunner struct {
	implTaskID string

	tasks    *taskfile.Manager
	store    *governance.Store
	graph    *kg.Graph
	reviewer *reviewer.Reviewer
}

// NewReviewRunner builds a runner for one implementation task.
func NewReviewRunner(implTaskID string, tasks *taskfile.Manager, store *governance.Store, graph *kg.Graph, rv *reviewer.Reviewer) *ReviewRunner {
	return &ReviewRunner{implTaskID: implTaskID, tasks: tasks, store: store, graph: graph, reviewer: rv}
}

// Run resolves every pending review attached to the runner's implementation
// task. A review runner never creates new governance records — it only
// resolves ones the intercept step already wrote, satisfying the pipeline's
// loop-prevention invariant.
func (r *ReviewRunner) Run(ctx context.Context) error {
	impl, err := r.tasks.ReadTask(r.implTaskID)
	if err != nil {
		return fmt.Errorf("review-runner: read implementation task: %w", err)
	}

	reviews, err := r.store.GetTaskReviews(ctx, r.implTaskID)
	if err != nil {
		return fmt.Errorf("review-runner: get task reviews: %w", err)
	}

	decisions, err := r.store.GetDecisionsForTask(ctx, r.implTaskID)
	if err != nil {
		return fmt.Errorf("review-runner: get decisions: %w", err)
	}
	pastReviews, err := r.store.GetReviewsForTask(ctx, r.implTaskID)
	if err != nil {
		return fmt.Errorf("review-runner: get past reviews: %w", err)
	}
	vision := viewsFromEntities(r.graph.GetEntitiesByTier(kg.TierVision))
	architecture := viewsFromEntities(r.graph.GetEntitiesByTier(kg.TierArchitecture))

	finalStatus := governance.TaskStatusApproved
	for _, tr := range reviews {
		if tr.Status != governance.ReviewStatusPending {
			continue
		}

		verdict := r.reviewer.ReviewPlan(ctx, r.implTaskID, impl.Subject, impl.Description, decisions, pastReviews, vision, architecture)

		tr.Status = taskReviewStatusFor(verdict.Verdict)
		tr.Verdict = &verdict.Verdict
		tr.Findings = verdict.Findings
		tr.Guidance = verdict.Guidance
		if err := r.store.UpdateTaskReview(ctx, tr); err != nil {
			return fmt.Errorf("review-runner: update task review %s: %w", tr.ID, err)
		}

		if _, err := r.tasks.ReleaseTask(tr.ReviewTaskID, string(verdict.Verdict), verdict.Guidance); err != nil {
			return fmt.Errorf("review-runner: release task %s: %w", tr.ReviewTaskID, err)
		}

		if verdict.Verdict != governance.VerdictApproved {
			finalStatus = governedStatusFor(verdict.Verdict)
		}
	}

	if err := r.store.UpdateGovernedTaskStatus(ctx, r.implTaskID, finalStatus); err != nil {
		return fmt.Errorf("review-runner: update governed task status: %w", err)
	}
	return nil
}

func taskReviewStatusFor(v governance.Verdict) governance.TaskReviewStatus {
	switch v {
	case governance.VerdictApproved:
		return governance.ReviewStatusApproved
	case governance.VerdictBlocked:
		return governance.ReviewStatusBlocked
	default:
		return governance.ReviewStatusNeedsHumanRvw
	}
}

func governedStatusFor(v governance.Verdict) governance.GovernedTaskStatus {
	switch v {
	case governance.VerdictBlocked:
		return governance.TaskStatusBlocked
	default:
		return governance.TaskStatusNeedsHumanRvw
	}
}
