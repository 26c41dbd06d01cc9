package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/avt-project/avt/pkg/governance"
	"github.com/avt-project/avt/pkg/kg"
	"github.com/avt-project/avt/pkg/reviewer"
)

// SettleCheck is a one-shot job spawned per task-creation event. It sleeps,
// then decides whether it is the designated survivor for its session —
// the one that actually runs the holistic review — by comparing its own
// timestamp against every task recorded for the session.
type SettleCheck struct {
	sessionID string
	timestamp time.Time

	store    *governance.Store
	graph    *kg.Graph
	reviewer *reviewer.Reviewer
	flag     *HolisticFlag
	cfg      Config
	spawner  Spawner

	// transcriptExcerpt is supplied by the caller (the hook runtime owns
	// the agent transcript); the pipeline has no access to it directly.
	transcriptExcerpt string
}

// NewSettleCheck builds a settle-check for one session/timestamp pair.
func NewSettleCheck(sessionID string, timestamp time.Time, store *governance.Store,
	graph *kg.Graph, rv *reviewer.Reviewer, flag *HolisticFlag, cfg Config, spawner Spawner, transcriptExcerpt string) *SettleCheck {
	return &SettleCheck{
		sessionID: sessionID, timestamp: timestamp,
		store: store, graph: graph, reviewer: rv, flag: flag, cfg: cfg, spawner: spawner,
		transcriptExcerpt: transcriptExcerpt,
	}
}

// Run implements spec 4.4's settle-check. A settle-check crash leaves the
// holistic flag in place (safe-blocking); the caller's Supervisor logs the
// error but does not retry — a subsequent intercept re-spawns one.
func (sc *SettleCheck) Run(ctx context.Context) error {
	select {
	case <-time.After(sc.cfg.SettleDelay):
	case <-ctx.Done():
		return ctx.Err()
	}

	sessionTasks, err := sc.store.GetTasksForSession(ctx, sc.sessionID)
	if err != nil {
		return fmt.Errorf("settle-check: get tasks for session: %w", err)
	}

	deadline := sc.timestamp.Add(sc.cfg.SettleTolerance)
	for _, t := range sessionTasks {
		if t.CreatedAt.After(deadline) {
			// a newer check exists; it will handle this session
			return nil
		}
	}

	existing, err := sc.store.GetHolisticReviewForSession(ctx, sc.sessionID)
	if err != nil {
		return fmt.Errorf("settle-check: idempotency check: %w", err)
	}
	if existing != nil {
		return nil
	}

	if len(sessionTasks) < sc.cfg.MinTasksForReview {
		if err := sc.flag.Remove(sc.sessionID); err != nil {
			return fmt.Errorf("settle-check: remove flag below review threshold: %w", err)
		}
		sc.spawnReviewRunners(sessionTasks)
		return nil
	}

	vision := viewsFromEntities(sc.graph.GetEntitiesByTier(kg.TierVision))
	architecture := viewsFromEntities(sc.graph.GetEntitiesByTier(kg.TierArchitecture))

	members := make([]reviewer.TaskGroupMember, 0, len(sessionTasks))
	taskIDs := make([]string, 0, len(sessionTasks))
	for _, t := range sessionTasks {
		members = append(members, reviewer.TaskGroupMember{Subject: t.Subject, Description: t.Description, ImplID: t.ImplTaskID})
		taskIDs = append(taskIDs, t.ImplTaskID)
	}

	verdict := sc.reviewer.ReviewTaskGroup(ctx, members, sc.transcriptExcerpt, vision, architecture)

	record := governance.HolisticReviewRecord{
		ID:                uuid.NewString(),
		SessionID:         sc.sessionID,
		TaskIDs:           taskIDs,
		CollectiveIntent:  sc.transcriptExcerpt,
		Verdict:           verdict.Verdict,
		Findings:          verdict.Findings,
		Guidance:          verdict.Guidance,
		StandardsVerified: verdict.StandardsVerified,
	}
	if _, err := sc.store.StoreHolisticReview(ctx, record); err != nil {
		return fmt.Errorf("settle-check: store holistic review: %w", err)
	}

	if verdict.Verdict == governance.VerdictApproved {
		if err := sc.flag.Remove(sc.sessionID); err != nil {
			return fmt.Errorf("settle-check: remove flag after approval: %w", err)
		}
		sc.spawnReviewRunners(sessionTasks)
		return nil
	}

	payload, _ := json.Marshal(struct {
		Verdict  governance.Verdict `json:"verdict"`
		Guidance string             `json:"guidance"`
	}{verdict.Verdict, verdict.Guidance})
	if err := sc.flag.SetVerdict(sc.sessionID, payload); err != nil {
		return fmt.Errorf("settle-check: update flag with verdict: %w", err)
	}
	return nil
}

func (sc *SettleCheck) spawnReviewRunners(tasks []governance.GovernedTaskRecord) {
	for _, t := range tasks {
		sc.spawner.SpawnReviewRunner(t.ImplTaskID)
	}
}

func viewsFromEntities(entities []*kg.EntityWithRelations) []reviewer.KGEntityView {
	out := make([]reviewer.KGEntityView, 0, len(entities))
	for _, e := range entities {
		out = append(out, reviewer.KGEntityView{Name: e.Name, EntityType: string(e.EntityType), Observations: e.Observations})
	}
	return out
}
