// Package taskfile manages one-file-per-task JSON records with flock-guarded
// atomic CRUD, mirroring the coding agent's own task-list schema so the
// governance fabric can read and mutate it directly.
package taskfile

import (
	"strings"

	"github.com/go-playground/validator/v10"
)

// Status is a task's lifecycle state in the host agent's task schema.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// Task mirrors the host agent's task JSON schema, plus a governance_metadata
// side-channel the host schema ignores but this fabric reads and writes.
type Task struct {
	ID                 string         `json:"id" validate:"required"`
	Subject            string         `json:"subject" validate:"required"`
	Description        string         `json:"description"`
	Status             Status         `json:"status" validate:"omitempty,oneof=pending in_progress completed"`
	Owner              string         `json:"owner,omitempty"`
	ActiveForm         string         `json:"activeForm"`
	BlockedBy          []string       `json:"blockedBy"`
	Blocks             []string       `json:"blocks"`
	CreatedAt          float64        `json:"createdAt"`
	UpdatedAt          float64        `json:"updatedAt"`
	GovernanceMetadata map[string]any `json:"governance_metadata,omitempty"`
}

var taskValidator = validator.New()

// Validate runs struct-tag validation on a task, called after CreateTask
// fills in its defaulted fields (status, activeForm) so required-field
// checks see the final record, not the caller's partial input.
func (t Task) Validate() error {
	return taskValidator.Struct(t)
}

// ReviewPrefixes are the subject prefixes that mark a task as itself a
// governance review task rather than implementation work — the intercept
// step skips these so a review never spawns a review of itself.
var ReviewPrefixes = []string{"[GOVERNANCE]", "[REVIEW]", "[SECURITY]", "[ARCHITECTURE]"}

// IsReviewTask reports whether a task is itself a governance review task,
// by subject prefix or by its "review-"-prefixed id.
func IsReviewTask(t Task) bool {
	if strings.HasPrefix(t.ID, "review-") {
		return true
	}
	for _, p := range ReviewPrefixes {
		if strings.HasPrefix(t.Subject, p) {
			return true
		}
	}
	return false
}
