package taskfile

import (
	"fmt"
	"strings"
)

// CreateGovernedTaskPair creates an implementation task together with its
// governance review task, atomically from the caller's perspective: the
// implementation task is written already blocked by the review task, so
// there is no window where it could be picked up ungoverned.
func (m *Manager) CreateGovernedTaskPair(subject, description, taskContext, reviewType string) (review, impl Task, err error) {
	reviewID := "review-" + NewTaskID()
	implID := "impl-" + NewTaskID()

	review = Task{
		ID:         reviewID,
		Subject:    fmt.Sprintf("[%s] Review: %s", strings.ToUpper(reviewType), subject),
		Description: "Governance review required before execution.\n\nContext:\n" + taskContext,
		ActiveForm: "Reviewing " + subject,
		Blocks:     []string{implID},
		GovernanceMetadata: map[string]any{
			"review_type":              reviewType,
			"implementation_task_id":   implID,
			"context":                  taskContext,
		},
	}
	impl = Task{
		ID:          implID,
		Subject:     subject,
		Description: description,
		ActiveForm:  "Working on " + subject,
		BlockedBy:   []string{reviewID},
		GovernanceMetadata: map[string]any{
			"review_task_id": reviewID,
		},
	}

	// order matters: the review task must exist before anything references it
	if review, err = m.CreateTask(review); err != nil {
		return Task{}, Task{}, fmt.Errorf("create review task: %w", err)
	}
	if impl, err = m.CreateTask(impl); err != nil {
		return Task{}, Task{}, fmt.Errorf("create implementation task: %w", err)
	}
	return review, impl, nil
}

// AddAdditionalReview attaches a new review blocker to an already-existing
// implementation task, for cases where an initial review determines a
// second lens (security, architecture, ...) is also required.
func (m *Manager) AddAdditionalReview(implTaskID, reviewType, taskContext string) (Task, error) {
	impl, err := m.ReadTask(implTaskID)
	if err != nil {
		return Task{}, err
	}

	reviewID := "review-" + reviewType + "-" + NewTaskID()
	review := Task{
		ID:          reviewID,
		Subject:     fmt.Sprintf("[%s] Review: %s", strings.ToUpper(reviewType), impl.Subject),
		Description: fmt.Sprintf("Additional %s review required.\n\nContext:\n%s", reviewType, taskContext),
		ActiveForm:  "Performing " + reviewType + " review",
		Blocks:      []string{implTaskID},
		GovernanceMetadata: map[string]any{
			"review_type":            reviewType,
			"implementation_task_id": implTaskID,
			"context":                taskContext,
		},
	}
	if _, err := m.CreateTask(review); err != nil {
		return Task{}, fmt.Errorf("create additional review task: %w", err)
	}
	if _, err := m.AddBlocker(implTaskID, reviewID); err != nil {
		return Task{}, fmt.Errorf("attach additional review blocker: %w", err)
	}
	return review, nil
}

// ReleaseTask completes a review task and, if the verdict is approved,
// removes its blocker from the implementation task; otherwise the blocker
// remains and the guidance is appended to the implementation task's
// description so the next agent to look at it sees why it's still
// blocked.
func (m *Manager) ReleaseTask(reviewTaskID, verdict, guidance string) (Task, error) {
	review, err := m.ReadTask(reviewTaskID)
	if err != nil {
		return Task{}, err
	}

	implID, _ := review.GovernanceMetadata["implementation_task_id"].(string)
	if implID == "" && len(review.Blocks) > 0 {
		implID = review.Blocks[0]
	}
	if implID == "" {
		return Task{}, fmt.Errorf("release task %s: no linked implementation task", reviewTaskID)
	}

	review.Status = StatusCompleted
	review.Description += fmt.Sprintf("\n\n---\nVerdict: %s\nGuidance: %s", verdict, guidance)
	if _, err := m.UpdateTask(review); err != nil {
		return Task{}, fmt.Errorf("complete review task: %w", err)
	}

	if verdict == "approved" {
		impl, err := m.RemoveBlocker(implID, reviewTaskID)
		if err != nil {
			return Task{}, fmt.Errorf("remove blocker: %w", err)
		}
		return impl, nil
	}

	impl, err := m.ReadTask(implID)
	if err != nil {
		return Task{}, err
	}
	impl.Description += fmt.Sprintf("\n\n---\n[BLOCKED] %s: %s", verdict, guidance)
	return m.UpdateTask(impl)
}

// GovernanceStatus summarizes what is still blocking a task.
type GovernanceStatus struct {
	TaskID     string          `json:"task_id"`
	Subject    string          `json:"subject"`
	Status     Status          `json:"status"`
	IsBlocked  bool            `json:"is_blocked"`
	Blockers   []BlockerStatus `json:"blockers"`
	CanExecute bool            `json:"can_execute"`
}

// BlockerStatus is one outstanding review blocker's summary.
type BlockerStatus struct {
	ID         string `json:"id"`
	Subject    string `json:"subject"`
	Status     Status `json:"status"`
	ReviewType string `json:"review_type"`
}

// GetTaskGovernanceStatus reports which reviews, if any, are blocking a
// task and whether it's currently eligible to be picked up.
func (m *Manager) GetTaskGovernanceStatus(taskID string) (GovernanceStatus, error) {
	t, err := m.ReadTask(taskID)
	if err != nil {
		return GovernanceStatus{}, err
	}

	var blockers []BlockerStatus
	for _, blockerID := range t.BlockedBy {
		blocker, err := m.ReadTask(blockerID)
		if err != nil {
			continue
		}
		reviewType, _ := blocker.GovernanceMetadata["review_type"].(string)
		blockers = append(blockers, BlockerStatus{
			ID: blocker.ID, Subject: blocker.Subject, Status: blocker.Status, ReviewType: reviewType,
		})
	}

	return GovernanceStatus{
		TaskID:     taskID,
		Subject:    t.Subject,
		Status:     t.Status,
		IsBlocked:  len(t.BlockedBy) > 0,
		Blockers:   blockers,
		CanExecute: t.Status == StatusPending && len(t.BlockedBy) == 0 && t.Owner == "",
	}, nil
}
