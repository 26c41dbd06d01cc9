package governance

import (
	"context"
	stdsql "database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"

	avtmigrations "github.com/avt-project/avt/migrations/governance"
	avterrors "github.com/avt-project/avt/pkg/errors"
	_ "modernc.org/sqlite"
)

// Store is the embedded-SQLite backing store for decisions, reviews,
// governed tasks, holistic reviews, and evolution proposals.
type Store struct {
	db *sqlx.DB
}

// Open creates (if needed) the SQLite file at path and applies every
// pending goose migration.
func Open(ctx context.Context, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create governance db dir: %w", err)
		}
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open governance db: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: serialize writers, avoid SQLITE_BUSY

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping governance db: %w", err)
	}

	goose.SetBaseFS(avtmigrations.FS)
	if err := goose.SetDialect("sqlite3"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(db.DB, "."); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply governance migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func nowUTC() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

// StoreDecision assigns the decision a dense per-task sequence (unless the
// caller already set one) within the same transaction as the insert, then
// persists it.
func (s *Store) StoreDecision(ctx context.Context, d Decision) (Decision, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return Decision{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if d.Sequence == 0 {
		var maxSeq stdsql.NullInt64
		if err := tx.GetContext(ctx, &maxSeq,
			`SELECT MAX(sequence) FROM decisions WHERE task_id = ?`, d.TaskID); err != nil {
			return Decision{}, fmt.Errorf("compute next sequence: %w", err)
		}
		d.Sequence = int(maxSeq.Int64) + 1
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}

	componentsJSON, _ := json.Marshal(d.ComponentsAffected)
	altsJSON, _ := json.Marshal(d.AlternativesConsider)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO decisions
			(id, task_id, sequence, agent, category, summary, detail,
			 components_affected, alternatives, confidence, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.TaskID, d.Sequence, d.Agent, string(d.Category), d.Summary, d.Detail,
		string(componentsJSON), string(altsJSON), string(d.Confidence),
		d.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return Decision{}, fmt.Errorf("insert decision: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Decision{}, fmt.Errorf("commit decision: %w", err)
	}
	return d, nil
}

// StoreReview persists a ReviewVerdict attached to either a decision or a
// plan.
func (s *Store) StoreReview(ctx context.Context, r ReviewVerdict) (ReviewVerdict, error) {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	findingsJSON, _ := json.Marshal(r.Findings)
	standardsJSON, _ := json.Marshal(r.StandardsVerified)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reviews
			(id, decision_id, plan_id, verdict, findings, guidance,
			 standards_verified, reviewer, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.DecisionID, r.PlanID, string(r.Verdict), string(findingsJSON),
		r.Guidance, string(standardsJSON), r.Reviewer, r.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return ReviewVerdict{}, fmt.Errorf("insert review: %w", err)
	}
	return r, nil
}

type decisionRow struct {
	ID                 string `db:"id"`
	TaskID             string `db:"task_id"`
	Sequence           int    `db:"sequence"`
	Agent              string `db:"agent"`
	Category           string `db:"category"`
	Summary            string `db:"summary"`
	Detail             string `db:"detail"`
	ComponentsAffected string `db:"components_affected"`
	Alternatives       string `db:"alternatives"`
	Confidence         string `db:"confidence"`
	CreatedAt          string `db:"created_at"`
}

func (row decisionRow) toDecision() Decision {
	var components []string
	var alts []Alternative
	_ = json.Unmarshal([]byte(row.ComponentsAffected), &components)
	_ = json.Unmarshal([]byte(row.Alternatives), &alts)
	return Decision{
		ID:                   row.ID,
		TaskID:               row.TaskID,
		Sequence:             row.Sequence,
		Agent:                row.Agent,
		Category:             DecisionCategory(row.Category),
		Summary:              row.Summary,
		Detail:               row.Detail,
		ComponentsAffected:   components,
		AlternativesConsider: alts,
		Confidence:           Confidence(row.Confidence),
		CreatedAt:            parseTime(row.CreatedAt),
	}
}

type reviewRow struct {
	ID                string  `db:"id"`
	DecisionID        *string `db:"decision_id"`
	PlanID            *string `db:"plan_id"`
	Verdict           string  `db:"verdict"`
	Findings          string  `db:"findings"`
	Guidance          string  `db:"guidance"`
	StandardsVerified string  `db:"standards_verified"`
	Reviewer          string  `db:"reviewer"`
	CreatedAt         string  `db:"created_at"`
}

func (row reviewRow) toReview() ReviewVerdict {
	var findings []Finding
	var standards []string
	_ = json.Unmarshal([]byte(row.Findings), &findings)
	_ = json.Unmarshal([]byte(row.StandardsVerified), &standards)
	return ReviewVerdict{
		ID:                row.ID,
		DecisionID:        row.DecisionID,
		PlanID:            row.PlanID,
		Verdict:           Verdict(row.Verdict),
		Findings:          findings,
		Guidance:          row.Guidance,
		StandardsVerified: standards,
		Reviewer:          row.Reviewer,
		CreatedAt:         parseTime(row.CreatedAt),
	}
}

// GetDecisionsForTask returns every decision for a task, ordered by its
// dense sequence.
func (s *Store) GetDecisionsForTask(ctx context.Context, taskID string) ([]Decision, error) {
	var rows []decisionRow
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM decisions WHERE task_id = ? ORDER BY sequence`, taskID); err != nil {
		return nil, fmt.Errorf("query decisions for task: %w", err)
	}
	out := make([]Decision, len(rows))
	for i, r := range rows {
		out[i] = r.toDecision()
	}
	return out, nil
}

// GetReviewForDecision returns the most recent review attached to a
// decision, if any.
func (s *Store) GetReviewForDecision(ctx context.Context, decisionID string) (*ReviewVerdict, error) {
	var row reviewRow
	err := s.db.GetContext(ctx, &row,
		`SELECT * FROM reviews WHERE decision_id = ? ORDER BY created_at DESC LIMIT 1`, decisionID)
	if err == stdsql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query review for decision: %w", err)
	}
	rv := row.toReview()
	return &rv, nil
}

// GetReviewsForTask returns every review attached to any decision
// belonging to a task, ordered chronologically.
func (s *Store) GetReviewsForTask(ctx context.Context, taskID string) ([]ReviewVerdict, error) {
	var rows []reviewRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT r.* FROM reviews r
		JOIN decisions d ON r.decision_id = d.id
		WHERE d.task_id = ?
		ORDER BY r.created_at`, taskID)
	if err != nil {
		return nil, fmt.Errorf("query reviews for task: %w", err)
	}
	out := make([]ReviewVerdict, len(rows))
	for i, r := range rows {
		out[i] = r.toReview()
	}
	return out, nil
}

// GetAllDecisions returns GovernanceRecord rows (decision + latest review)
// filtered by the given (optional) criteria, newest first.
func (s *Store) GetAllDecisions(ctx context.Context, filter DecisionFilter) ([]GovernanceRecord, error) {
	query := `
		SELECT d.*, r.verdict AS review_verdict, r.guidance AS review_guidance
		FROM decisions d
		LEFT JOIN reviews r ON r.id = (
			SELECT id FROM reviews WHERE decision_id = d.id
			ORDER BY created_at DESC LIMIT 1)
		WHERE 1=1`
	var args []any
	if filter.TaskID != "" {
		query += " AND d.task_id = ?"
		args = append(args, filter.TaskID)
	}
	if filter.Agent != "" {
		query += " AND d.agent = ?"
		args = append(args, filter.Agent)
	}
	if filter.Verdict != "" {
		query += " AND r.verdict = ?"
		args = append(args, filter.Verdict)
	}
	query += " ORDER BY d.created_at DESC"

	type row struct {
		decisionRow
		ReviewVerdict *string `db:"review_verdict"`
		ReviewGuidance *string `db:"review_guidance"`
	}
	var rows []row
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("query all decisions: %w", err)
	}

	out := make([]GovernanceRecord, len(rows))
	for i, r := range rows {
		rec := GovernanceRecord{Decision: r.decisionRow.toDecision()}
		if r.ReviewVerdict != nil {
			guidance := ""
			if r.ReviewGuidance != nil {
				guidance = *r.ReviewGuidance
			}
			rec.Review = &ReviewVerdict{Verdict: Verdict(*r.ReviewVerdict), Guidance: guidance}
		}
		out[i] = rec
	}
	return out, nil
}

// GetStatus returns the project-wide decision/review counters.
func (s *Store) GetStatus(ctx context.Context) (Status, error) {
	var status Status
	if err := s.db.GetContext(ctx, &status.TotalDecisions, `SELECT COUNT(*) FROM decisions`); err != nil {
		return Status{}, fmt.Errorf("count decisions: %w", err)
	}
	if err := s.db.GetContext(ctx, &status.Approved,
		`SELECT COUNT(*) FROM reviews WHERE verdict = ?`, string(VerdictApproved)); err != nil {
		return Status{}, fmt.Errorf("count approved: %w", err)
	}
	if err := s.db.GetContext(ctx, &status.Blocked,
		`SELECT COUNT(*) FROM reviews WHERE verdict = ?`, string(VerdictBlocked)); err != nil {
		return Status{}, fmt.Errorf("count blocked: %w", err)
	}
	if err := s.db.GetContext(ctx, &status.NeedsHumanReview,
		`SELECT COUNT(*) FROM reviews WHERE verdict = ?`, string(VerdictNeedsHumanReview)); err != nil {
		return Status{}, fmt.Errorf("count needs_human_review: %w", err)
	}
	status.Pending = status.TotalDecisions - status.Approved - status.Blocked - status.NeedsHumanReview

	type recentRow struct {
		Summary  string  `db:"summary"`
		Agent    string  `db:"agent"`
		Category string  `db:"category"`
		Verdict  *string `db:"verdict"`
	}
	var recent []recentRow
	if err := s.db.SelectContext(ctx, &recent, `
		SELECT d.summary, d.agent, d.category, r.verdict
		FROM decisions d
		LEFT JOIN reviews r ON r.decision_id = d.id
		ORDER BY d.created_at DESC LIMIT 5`); err != nil {
		return Status{}, fmt.Errorf("query recent activity: %w", err)
	}
	status.RecentActivity = make([]ActivitySummary, len(recent))
	for i, r := range recent {
		status.RecentActivity[i] = ActivitySummary{
			Summary: r.Summary, Agent: r.Agent, Category: r.Category, Verdict: r.Verdict,
		}
	}
	return status, nil
}

// HasPlanReview reports whether any review has been stored against this
// plan id.
func (s *Store) HasPlanReview(ctx context.Context, taskID string) (bool, error) {
	var count int
	if err := s.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM reviews WHERE plan_id = ?`, taskID); err != nil {
		return false, fmt.Errorf("count plan reviews: %w", err)
	}
	return count > 0, nil
}

// HasUnresolvedBlocks reports whether any review with verdict=blocked is
// attached (via decision_id) to a decision belonging to this task. Per
// spec, later approvals do not cancel older blocks in this predicate — an
// explicit unblock is a new, overriding decision, not a query-time
// reconciliation.
func (s *Store) HasUnresolvedBlocks(ctx context.Context, taskID string) (bool, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM reviews r
		JOIN decisions d ON r.decision_id = d.id
		WHERE d.task_id = ? AND r.verdict = ?`, taskID, string(VerdictBlocked))
	if err != nil {
		return false, fmt.Errorf("count unresolved blocks: %w", err)
	}
	return count > 0, nil
}

// StoreGovernedTask inserts a new GovernedTaskRecord.
func (s *Store) StoreGovernedTask(ctx context.Context, t GovernedTaskRecord) (GovernedTaskRecord, error) {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO governed_tasks
			(impl_task_id, subject, description, context, current_status, session_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ImplTaskID, t.Subject, t.Description, t.Context, string(t.CurrentStatus),
		t.SessionID, t.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return GovernedTaskRecord{}, fmt.Errorf("insert governed task: %w", err)
	}
	return t, nil
}

// UpdateGovernedTaskStatus transitions a governed task's current_status.
func (s *Store) UpdateGovernedTaskStatus(ctx context.Context, implTaskID string, status GovernedTaskStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE governed_tasks SET current_status = ? WHERE impl_task_id = ?`,
		string(status), implTaskID)
	if err != nil {
		return fmt.Errorf("update governed task status: %w", err)
	}
	return requireRowAffected(res, avterrors.ErrNotFound)
}

// GetGovernedTask fetches one governed task by its implementation task id.
func (s *Store) GetGovernedTask(ctx context.Context, implTaskID string) (GovernedTaskRecord, error) {
	type row struct {
		ImplTaskID    string `db:"impl_task_id"`
		Subject       string `db:"subject"`
		Description   string `db:"description"`
		Context       string `db:"context"`
		CurrentStatus string `db:"current_status"`
		SessionID     string `db:"session_id"`
		CreatedAt     string `db:"created_at"`
	}
	var r row
	err := s.db.GetContext(ctx, &r,
		`SELECT * FROM governed_tasks WHERE impl_task_id = ?`, implTaskID)
	if err == stdsql.ErrNoRows {
		return GovernedTaskRecord{}, avterrors.ErrNotFound
	}
	if err != nil {
		return GovernedTaskRecord{}, fmt.Errorf("query governed task: %w", err)
	}
	return GovernedTaskRecord{
		ImplTaskID:    r.ImplTaskID,
		Subject:       r.Subject,
		Description:   r.Description,
		Context:       r.Context,
		CurrentStatus: GovernedTaskStatus(r.CurrentStatus),
		SessionID:     r.SessionID,
		CreatedAt:     parseTime(r.CreatedAt),
	}, nil
}

// GetTasksForSession returns every governed task created within a session.
func (s *Store) GetTasksForSession(ctx context.Context, sessionID string) ([]GovernedTaskRecord, error) {
	type row struct {
		ImplTaskID    string `db:"impl_task_id"`
		Subject       string `db:"subject"`
		Description   string `db:"description"`
		Context       string `db:"context"`
		CurrentStatus string `db:"current_status"`
		SessionID     string `db:"session_id"`
		CreatedAt     string `db:"created_at"`
	}
	var rows []row
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM governed_tasks WHERE session_id = ? ORDER BY created_at`, sessionID); err != nil {
		return nil, fmt.Errorf("query tasks for session: %w", err)
	}
	out := make([]GovernedTaskRecord, len(rows))
	for i, r := range rows {
		out[i] = GovernedTaskRecord{
			ImplTaskID: r.ImplTaskID, Subject: r.Subject, Description: r.Description,
			Context: r.Context, CurrentStatus: GovernedTaskStatus(r.CurrentStatus),
			SessionID: r.SessionID, CreatedAt: parseTime(r.CreatedAt),
		}
	}
	return out, nil
}

// GetAllGovernedTasks returns every governed task across every session,
// most recent first, for the fabric-wide task list surfaced to callers
// that aren't scoped to one session.
func (s *Store) GetAllGovernedTasks(ctx context.Context) ([]GovernedTaskRecord, error) {
	type row struct {
		ImplTaskID    string `db:"impl_task_id"`
		Subject       string `db:"subject"`
		Description   string `db:"description"`
		Context       string `db:"context"`
		CurrentStatus string `db:"current_status"`
		SessionID     string `db:"session_id"`
		CreatedAt     string `db:"created_at"`
	}
	var rows []row
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM governed_tasks ORDER BY created_at DESC`); err != nil {
		return nil, fmt.Errorf("query all governed tasks: %w", err)
	}
	out := make([]GovernedTaskRecord, len(rows))
	for i, r := range rows {
		out[i] = GovernedTaskRecord{
			ImplTaskID: r.ImplTaskID, Subject: r.Subject, Description: r.Description,
			Context: r.Context, CurrentStatus: GovernedTaskStatus(r.CurrentStatus),
			SessionID: r.SessionID, CreatedAt: parseTime(r.CreatedAt),
		}
	}
	return out, nil
}

// StoreTaskReview inserts a new TaskReviewRecord.
func (s *Store) StoreTaskReview(ctx context.Context, r TaskReviewRecord) (TaskReviewRecord, error) {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	findingsJSON, _ := json.Marshal(r.Findings)
	var verdict *string
	if r.Verdict != nil {
		v := string(*r.Verdict)
		verdict = &v
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_reviews
			(id, review_task_id, impl_task_id, review_type, status, verdict,
			 findings, guidance, context, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.ReviewTaskID, r.ImplTaskID, string(r.ReviewType), string(r.Status),
		verdict, string(findingsJSON), r.Guidance, r.Context, r.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return TaskReviewRecord{}, fmt.Errorf("insert task review: %w", err)
	}
	return r, nil
}

// UpdateTaskReview rewrites a task review's status/verdict/findings/guidance
// in place.
func (s *Store) UpdateTaskReview(ctx context.Context, r TaskReviewRecord) error {
	findingsJSON, _ := json.Marshal(r.Findings)
	var verdict *string
	if r.Verdict != nil {
		v := string(*r.Verdict)
		verdict = &v
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE task_reviews
		SET status = ?, verdict = ?, findings = ?, guidance = ?
		WHERE id = ?`,
		string(r.Status), verdict, string(findingsJSON), r.Guidance, r.ID)
	if err != nil {
		return fmt.Errorf("update task review: %w", err)
	}
	return requireRowAffected(res, avterrors.ErrNotFound)
}

func taskReviewRowsToRecords(rows []struct {
	ID           string  `db:"id"`
	ReviewTaskID string  `db:"review_task_id"`
	ImplTaskID   string  `db:"impl_task_id"`
	ReviewType   string  `db:"review_type"`
	Status       string  `db:"status"`
	Verdict      *string `db:"verdict"`
	Findings     string  `db:"findings"`
	Guidance     string  `db:"guidance"`
	Context      string  `db:"context"`
	CreatedAt    string  `db:"created_at"`
}) []TaskReviewRecord {
	out := make([]TaskReviewRecord, len(rows))
	for i, r := range rows {
		var findings []Finding
		_ = json.Unmarshal([]byte(r.Findings), &findings)
		var verdict *Verdict
		if r.Verdict != nil {
			v := Verdict(*r.Verdict)
			verdict = &v
		}
		out[i] = TaskReviewRecord{
			ID: r.ID, ReviewTaskID: r.ReviewTaskID, ImplTaskID: r.ImplTaskID,
			ReviewType: ReviewType(r.ReviewType), Status: TaskReviewStatus(r.Status),
			Verdict: verdict, Findings: findings, Guidance: r.Guidance, Context: r.Context,
			CreatedAt: parseTime(r.CreatedAt),
		}
	}
	return out
}

// GetTaskReviews returns every review attached to an implementation task.
func (s *Store) GetTaskReviews(ctx context.Context, implTaskID string) ([]TaskReviewRecord, error) {
	var rows []struct {
		ID           string  `db:"id"`
		ReviewTaskID string  `db:"review_task_id"`
		ImplTaskID   string  `db:"impl_task_id"`
		ReviewType   string  `db:"review_type"`
		Status       string  `db:"status"`
		Verdict      *string `db:"verdict"`
		Findings     string  `db:"findings"`
		Guidance     string  `db:"guidance"`
		Context      string  `db:"context"`
		CreatedAt    string  `db:"created_at"`
	}
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM task_reviews WHERE impl_task_id = ? ORDER BY created_at`, implTaskID); err != nil {
		return nil, fmt.Errorf("query task reviews: %w", err)
	}
	return taskReviewRowsToRecords(rows), nil
}

// StoreHolisticReview inserts or, if one already exists for the session,
// replaces the single per-session holistic review row.
func (s *Store) StoreHolisticReview(ctx context.Context, r HolisticReviewRecord) (HolisticReviewRecord, error) {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	taskIDsJSON, _ := json.Marshal(r.TaskIDs)
	findingsJSON, _ := json.Marshal(r.Findings)
	standardsJSON, _ := json.Marshal(r.StandardsVerified)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO holistic_reviews
			(id, session_id, task_ids, collective_intent, verdict, findings,
			 guidance, standards_verified, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			id = excluded.id,
			task_ids = excluded.task_ids,
			collective_intent = excluded.collective_intent,
			verdict = excluded.verdict,
			findings = excluded.findings,
			guidance = excluded.guidance,
			standards_verified = excluded.standards_verified,
			created_at = excluded.created_at`,
		r.ID, r.SessionID, string(taskIDsJSON), r.CollectiveIntent, string(r.Verdict),
		string(findingsJSON), r.Guidance, string(standardsJSON), r.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return HolisticReviewRecord{}, fmt.Errorf("upsert holistic review: %w", err)
	}
	return r, nil
}

// GetHolisticReviewForSession returns the session's single holistic review,
// if one has been stored.
func (s *Store) GetHolisticReviewForSession(ctx context.Context, sessionID string) (*HolisticReviewRecord, error) {
	var row struct {
		ID                string `db:"id"`
		SessionID         string `db:"session_id"`
		TaskIDs           string `db:"task_ids"`
		CollectiveIntent  string `db:"collective_intent"`
		Verdict           string `db:"verdict"`
		Findings          string `db:"findings"`
		Guidance          string `db:"guidance"`
		StandardsVerified string `db:"standards_verified"`
		CreatedAt         string `db:"created_at"`
	}
	err := s.db.GetContext(ctx, &row,
		`SELECT * FROM holistic_reviews WHERE session_id = ?`, sessionID)
	if err == stdsql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query holistic review: %w", err)
	}
	var taskIDs []string
	var findings []Finding
	var standards []string
	_ = json.Unmarshal([]byte(row.TaskIDs), &taskIDs)
	_ = json.Unmarshal([]byte(row.Findings), &findings)
	_ = json.Unmarshal([]byte(row.StandardsVerified), &standards)
	return &HolisticReviewRecord{
		ID: row.ID, SessionID: row.SessionID, TaskIDs: taskIDs,
		CollectiveIntent: row.CollectiveIntent, Verdict: Verdict(row.Verdict),
		Findings: findings, Guidance: row.Guidance, StandardsVerified: standards,
		CreatedAt: parseTime(row.CreatedAt),
	}, nil
}

// StoreEvolutionProposal inserts a new EvolutionProposal.
func (s *Store) StoreEvolutionProposal(ctx context.Context, p EvolutionProposal) (EvolutionProposal, error) {
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	criteriaJSON, _ := json.Marshal(p.ValidationCriteria)
	evidenceJSON, _ := json.Marshal(p.Evidence)
	var reviewVerdict *string
	if p.ReviewVerdict != nil {
		v := string(*p.ReviewVerdict)
		reviewVerdict = &v
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO evolution_proposals
			(id, target_entity, original_intent, proposed_change, rationale,
			 validation_criteria, evidence, status, worktree_branch,
			 proposing_agent, review_verdict, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.TargetEntity, p.OriginalIntent, p.ProposedChange, p.Rationale,
		string(criteriaJSON), string(evidenceJSON), string(p.Status), p.WorktreeBranch,
		p.ProposingAgent, reviewVerdict, p.CreatedAt.Format(time.RFC3339Nano),
		p.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return EvolutionProposal{}, fmt.Errorf("insert evolution proposal: %w", err)
	}
	return p, nil
}

// UpdateEvolutionProposal rewrites a proposal's mutable fields (status,
// evidence, review verdict, worktree branch) and bumps updated_at.
func (s *Store) UpdateEvolutionProposal(ctx context.Context, p EvolutionProposal) error {
	p.UpdatedAt = time.Now().UTC()
	evidenceJSON, _ := json.Marshal(p.Evidence)
	var reviewVerdict *string
	if p.ReviewVerdict != nil {
		v := string(*p.ReviewVerdict)
		reviewVerdict = &v
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE evolution_proposals
		SET status = ?, evidence = ?, worktree_branch = ?, review_verdict = ?, updated_at = ?
		WHERE id = ?`,
		string(p.Status), string(evidenceJSON), p.WorktreeBranch, reviewVerdict,
		p.UpdatedAt.Format(time.RFC3339Nano), p.ID)
	if err != nil {
		return fmt.Errorf("update evolution proposal: %w", err)
	}
	return requireRowAffected(res, avterrors.ErrNotFound)
}

type evolutionRow struct {
	ID                 string  `db:"id"`
	TargetEntity       string  `db:"target_entity"`
	OriginalIntent     string  `db:"original_intent"`
	ProposedChange     string  `db:"proposed_change"`
	Rationale          string  `db:"rationale"`
	ValidationCriteria string  `db:"validation_criteria"`
	Evidence           string  `db:"evidence"`
	Status             string  `db:"status"`
	WorktreeBranch     *string `db:"worktree_branch"`
	ProposingAgent     string  `db:"proposing_agent"`
	ReviewVerdict      *string `db:"review_verdict"`
	CreatedAt          string  `db:"created_at"`
	UpdatedAt          string  `db:"updated_at"`
}

func evolutionRowToProposal(r evolutionRow) EvolutionProposal {
	var criteria []string
	var evidence []ExperimentEvidence
	_ = json.Unmarshal([]byte(r.ValidationCriteria), &criteria)
	_ = json.Unmarshal([]byte(r.Evidence), &evidence)
	var reviewVerdict *Verdict
	if r.ReviewVerdict != nil {
		v := Verdict(*r.ReviewVerdict)
		reviewVerdict = &v
	}
	return EvolutionProposal{
		ID: r.ID, TargetEntity: r.TargetEntity, OriginalIntent: r.OriginalIntent,
		ProposedChange: r.ProposedChange, Rationale: r.Rationale,
		ValidationCriteria: criteria, Evidence: evidence,
		Status: EvolutionProposalStatus(r.Status), WorktreeBranch: r.WorktreeBranch,
		ProposingAgent: r.ProposingAgent, ReviewVerdict: reviewVerdict,
		CreatedAt: parseTime(r.CreatedAt), UpdatedAt: parseTime(r.UpdatedAt),
	}
}

// GetEvolutionProposal fetches one proposal by id.
func (s *Store) GetEvolutionProposal(ctx context.Context, id string) (EvolutionProposal, error) {
	var r evolutionRow
	err := s.db.GetContext(ctx, &r, `SELECT * FROM evolution_proposals WHERE id = ?`, id)
	if err == stdsql.ErrNoRows {
		return EvolutionProposal{}, avterrors.ErrNotFound
	}
	if err != nil {
		return EvolutionProposal{}, fmt.Errorf("query evolution proposal: %w", err)
	}
	return evolutionRowToProposal(r), nil
}

// GetEvolutionProposalsForEntity returns every proposal targeting a given
// KG entity, newest first.
func (s *Store) GetEvolutionProposalsForEntity(ctx context.Context, targetEntity string) ([]EvolutionProposal, error) {
	var rows []evolutionRow
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM evolution_proposals WHERE target_entity = ? ORDER BY created_at DESC`, targetEntity); err != nil {
		return nil, fmt.Errorf("query evolution proposals for entity: %w", err)
	}
	out := make([]EvolutionProposal, len(rows))
	for i, r := range rows {
		out[i] = evolutionRowToProposal(r)
	}
	return out, nil
}

// GetAllEvolutionProposals returns every proposal, optionally filtered by
// status, newest first.
func (s *Store) GetAllEvolutionProposals(ctx context.Context, status EvolutionProposalStatus) ([]EvolutionProposal, error) {
	query := `SELECT * FROM evolution_proposals WHERE 1=1`
	var args []any
	if status != "" {
		query += " AND status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY created_at DESC"

	var rows []evolutionRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("query all evolution proposals: %w", err)
	}
	out := make([]EvolutionProposal, len(rows))
	for i, r := range rows {
		out[i] = evolutionRowToProposal(r)
	}
	return out, nil
}

// GetActiveExperiments returns proposals currently in the experimenting
// state.
func (s *Store) GetActiveExperiments(ctx context.Context) ([]EvolutionProposal, error) {
	return s.GetAllEvolutionProposals(ctx, ProposalStatusExperimenting)
}

// GetTaskGovernanceStats aggregates governed_tasks by current_status.
func (s *Store) GetTaskGovernanceStats(ctx context.Context) (TaskGovernanceStats, error) {
	var stats TaskGovernanceStats
	if err := s.db.GetContext(ctx, &stats.TotalTasks, `SELECT COUNT(*) FROM governed_tasks`); err != nil {
		return TaskGovernanceStats{}, fmt.Errorf("count total tasks: %w", err)
	}
	counts := map[GovernedTaskStatus]*int{
		TaskStatusPendingReview: &stats.PendingReview,
		TaskStatusApproved:      &stats.Approved,
		TaskStatusBlocked:       &stats.Blocked,
		TaskStatusNeedsHumanRvw: &stats.NeedsHumanReview,
	}
	for status, dest := range counts {
		if err := s.db.GetContext(ctx, dest,
			`SELECT COUNT(*) FROM governed_tasks WHERE current_status = ?`, string(status)); err != nil {
			return TaskGovernanceStats{}, fmt.Errorf("count tasks by status: %w", err)
		}
	}
	return stats, nil
}

func requireRowAffected(res stdsql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
