package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Spawner schedules the background work a settle-check or an approved
// holistic review hands off: one settle-check per task-creation event, one
// review-runner per implementation task released into review. The
// reference implementation forks detached OS subprocesses for this
// isolation; Supervisor achieves the same isolation (an LLM call that hangs
// or crashes cannot take the emitting hook down with it) with goroutines
// under a single in-process cancel registry instead, per the design note
// that either approach is acceptable as long as the ordering guarantees
// hold.
type Spawner interface {
	SpawnSettleCheck(sessionID string, timestamp time.Time)
	SpawnReviewRunner(implTaskID string)
}

// Runnable is anything a Supervisor can run to completion under a
// cancellable context: a *SettleCheck or a *ReviewRunner.
type Runnable interface {
	Run(ctx context.Context) error
}

// Supervisor runs settle-checks and review-runners as tracked goroutines,
// grounded on the teacher's queue.WorkerPool: a cancel-function registry
// keyed by job id, a WaitGroup for graceful shutdown, and per-job panic
// isolation via a recover in the goroutine body.
type Supervisor struct {
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup

	newSettleCheck  func(sessionID string, timestamp time.Time) Runnable
	newReviewRunner func(implTaskID string) Runnable
}

// NewSupervisor wires factory functions for the two job kinds it spawns,
// rather than depending on *SettleCheck/*ReviewRunner directly, so it has
// no import-cycle with them and stays trivially testable with fakes.
func NewSupervisor(newSettleCheck func(string, time.Time) Runnable, newReviewRunner func(string) Runnable) *Supervisor {
	return &Supervisor{
		cancels:         make(map[string]context.CancelFunc),
		newSettleCheck:  newSettleCheck,
		newReviewRunner: newReviewRunner,
	}
}

func (s *Supervisor) register(id string, cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancels[id] = cancel
}

func (s *Supervisor) unregister(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cancels, id)
}

func (s *Supervisor) run(jobID string, r Runnable) {
	ctx, cancel := context.WithCancel(context.Background())
	s.register(jobID, cancel)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.unregister(jobID)
		defer cancel()
		defer func() {
			if p := recover(); p != nil {
				slog.Error("pipeline job panicked", "job_id", jobID, "panic", p)
			}
		}()
		if err := r.Run(ctx); err != nil {
			slog.Error("pipeline job failed", "job_id", jobID, "error", err)
		}
	}()
}

// SpawnSettleCheck implements Spawner.
func (s *Supervisor) SpawnSettleCheck(sessionID string, timestamp time.Time) {
	s.run("settle:"+sessionID+":"+timestamp.Format(time.RFC3339Nano), s.newSettleCheck(sessionID, timestamp))
}

// SpawnReviewRunner implements Spawner.
func (s *Supervisor) SpawnReviewRunner(implTaskID string) {
	s.run("review:"+implTaskID, s.newReviewRunner(implTaskID))
}

// Cancel stops a specific running job by id, if it is still running.
func (s *Supervisor) Cancel(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cancel, ok := s.cancels[jobID]
	if ok {
		cancel()
	}
	return ok
}

// Wait blocks until every spawned job has returned, for graceful shutdown
// and for tests that need to observe a job's completion.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}
