// Package pipeline implements the hook-driven task governance state machine:
// intercepting task creation, pairing implementation tasks with governance
// reviews, settling concurrent creations down to a single holistic reviewer,
// and releasing blockers on approval.
package pipeline

import "time"

// Config carries the pipeline's timing and thresholds, matching the
// reference implementation's literal constants exactly.
type Config struct {
	// SettleDelay is how long a settle-check sleeps before deciding whether
	// it is the designated survivor for its session.
	SettleDelay time.Duration
	// SettleTolerance is the grace window applied when comparing a
	// settle-check's own timestamp against other tasks' created-at times.
	SettleTolerance time.Duration
	// MinTasksForReview is the minimum number of tasks a session must have
	// accumulated before a holistic review is worth running.
	MinTasksForReview int
}

// DefaultConfig returns SETTLE_SECONDS=3, tolerance=0.5s,
// MIN_TASKS_FOR_REVIEW=2 — the reference implementation's literal values.
func DefaultConfig() Config {
	return Config{
		SettleDelay:       3 * time.Second,
		SettleTolerance:   500 * time.Millisecond,
		MinTasksForReview: 2,
	}
}
