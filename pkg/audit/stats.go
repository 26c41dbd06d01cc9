package audit

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
	_ "modernc.org/sqlite"

	avtmigrations "github.com/avt-project/avt/migrations/audit"
)

// Stats is the SQLite-backed rolling statistics accumulator: hourly event
// counts, per-session summaries, metric windows for baseline comparisons,
// and detected anomalies.
type Stats struct {
	db *sqlx.DB
}

// OpenStats creates (if needed) the SQLite file at path, enables WAL, and
// applies every pending goose migration.
func OpenStats(ctx context.Context, path string) (*Stats, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create audit stats db dir: %w", err)
		}
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open audit stats db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, `PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.ExecContext(ctx, `PRAGMA synchronous=NORMAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set synchronous mode: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping audit stats db: %w", err)
	}

	goose.SetBaseFS(avtmigrations.FS)
	if err := goose.SetDialect("sqlite3"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(db.DB, "."); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply audit stats migrations: %w", err)
	}

	return &Stats{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Stats) Close() error {
	return s.db.Close()
}

func hourBucket(t time.Time) string {
	return t.UTC().Format("2006-01-02T15")
}

// IngestEvents batches events into hourly event_counts and per-session
// session_summaries upserts, returning a summary for anomaly detection.
func (s *Stats) IngestEvents(ctx context.Context, events []Event) (BatchSummary, error) {
	if len(events) == 0 {
		return BatchSummary{ByType: map[string]int{}}, nil
	}

	byType := map[string]int{}
	sessionsSeen := map[string][]Event{}
	for _, e := range events {
		etype := e.Type
		if etype == "" {
			etype = "unknown"
		}
		byType[etype]++
		if e.SessionID != "" {
			sessionsSeen[e.SessionID] = append(sessionsSeen[e.SessionID], e)
		}
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return BatchSummary{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	bucket := hourBucket(time.Now())
	for etype, count := range byType {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO event_counts (bucket, event_type, count) VALUES (?, ?, ?)
			ON CONFLICT(bucket, event_type) DO UPDATE SET count = count + excluded.count`,
			bucket, etype, count); err != nil {
			return BatchSummary{}, fmt.Errorf("upsert event_counts: %w", err)
		}
	}

	sessionsTouched := make([]string, 0, len(sessionsSeen))
	for sid, sessionEvents := range sessionsSeen {
		sessionsTouched = append(sessionsTouched, sid)
		summary := summarizeSession(sessionEvents)
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO session_summaries
				(session_id, first_event_ts, last_event_ts, total_events,
				 approval_count, block_count, gate_block_count, gate_allow_count, skip_count, task_count)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(session_id) DO UPDATE SET
				first_event_ts = MIN(first_event_ts, excluded.first_event_ts),
				last_event_ts = MAX(last_event_ts, excluded.last_event_ts),
				total_events = total_events + excluded.total_events,
				approval_count = approval_count + excluded.approval_count,
				block_count = block_count + excluded.block_count,
				gate_block_count = gate_block_count + excluded.gate_block_count,
				gate_allow_count = gate_allow_count + excluded.gate_allow_count,
				skip_count = skip_count + excluded.skip_count,
				task_count = task_count + excluded.task_count`,
			sid, summary.firstTS, summary.lastTS, summary.total,
			summary.approvals, summary.blocks, summary.gateBlocks, summary.gateAllows, summary.skips, summary.tasks); err != nil {
			return BatchSummary{}, fmt.Errorf("upsert session_summaries: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return BatchSummary{}, fmt.Errorf("commit ingest: %w", err)
	}

	whole := summarizeSession(events)
	return BatchSummary{
		Total: len(events), ByType: byType, SessionsTouched: sessionsTouched,
		Approvals: whole.approvals, Blocks: whole.blocks,
		GateAllows: whole.gateAllows, GateBlocks: whole.gateBlocks,
		Skips: whole.skips, Tasks: whole.tasks,
	}, nil
}

type sessionDelta struct {
	firstTS, lastTS                                     float64
	total, approvals, blocks, gateBlocks, gateAllows, skips, tasks int
}

func summarizeSession(events []Event) sessionDelta {
	d := sessionDelta{total: len(events)}
	for i, e := range events {
		if i == 0 || e.Ts < d.firstTS {
			d.firstTS = e.Ts
		}
		if e.Ts > d.lastTS {
			d.lastTS = e.Ts
		}
		if dataField(e, "verdict") == "approved" || dataBool(e, "allowed") {
			d.approvals++
		}
		if dataField(e, "verdict") == "blocked" || dataField(e, "status") == "blocked" {
			d.blocks++
		}
		attempted := len(e.Type) >= len("_attempted") && e.Type[len(e.Type)-len("_attempted"):] == "_attempted"
		if attempted && dataFieldExists(e, "allowed") {
			if dataBool(e, "allowed") {
				d.gateAllows++
			} else {
				d.gateBlocks++
			}
		}
		if containsSubstr(e.Type, "skipped") {
			d.skips++
		}
		if e.Type == "governance.task_pair_created" {
			d.tasks++
		}
	}
	return d
}

func dataField(e Event, key string) string {
	if e.Data == nil {
		return ""
	}
	v, _ := e.Data[key].(string)
	return v
}

func dataFieldExists(e Event, key string) bool {
	if e.Data == nil {
		return false
	}
	_, ok := e.Data[key]
	return ok
}

func dataBool(e Event, key string) bool {
	if e.Data == nil {
		return false
	}
	v, _ := e.Data[key].(bool)
	return v
}

func containsSubstr(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}

// UpdateMetricWindow records a weighted-mean value into the current
// hourly metric window for baseline comparisons.
func (s *Stats) UpdateMetricWindow(ctx context.Context, metricName string, value float64, sampleCount int) error {
	now := time.Now().Unix()
	windowStart := now - (now % 3600)
	windowEnd := windowStart + 3600

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO metric_windows (metric_name, window_start, window_end, value, sample_count)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(metric_name, window_start) DO UPDATE SET
			value = (value * sample_count + excluded.value * excluded.sample_count) / (sample_count + excluded.sample_count),
			sample_count = sample_count + excluded.sample_count`,
		metricName, windowStart, windowEnd, value, sampleCount)
	if err != nil {
		return fmt.Errorf("upsert metric window: %w", err)
	}
	return nil
}

// GetBaselineRate returns the average value for metricName over the last
// windowHours, or nil if there is no data.
func (s *Stats) GetBaselineRate(ctx context.Context, metricName string, windowHours int) (*float64, error) {
	cutoff := time.Now().Add(-time.Duration(windowHours) * time.Hour).Unix()
	var row struct {
		AvgVal stdsql.NullFloat64 `db:"avg_val"`
		Cnt    int                `db:"cnt"`
	}
	err := s.db.GetContext(ctx, &row, `
		SELECT AVG(value) as avg_val, COUNT(*) as cnt FROM metric_windows
		WHERE metric_name = ? AND window_start >= ?`, metricName, cutoff)
	if err != nil {
		return nil, fmt.Errorf("get baseline rate: %w", err)
	}
	if row.Cnt == 0 || !row.AvgVal.Valid {
		return nil, nil
	}
	return &row.AvgVal.Float64, nil
}

// RecordAnomaly idempotently records (REPLACE semantics) a detected
// anomaly.
func (s *Stats) RecordAnomaly(ctx context.Context, a Anomaly) error {
	metricsJSON, contextJSON := (*string)(nil), (*string)(nil)
	if len(a.MetricValues) > 0 {
		b, _ := json.Marshal(a.MetricValues)
		s := string(b)
		metricsJSON = &s
	}
	if len(a.Context) > 0 {
		b, _ := json.Marshal(a.Context)
		s := string(b)
		contextJSON = &s
	}

	detectedAt := a.DetectedAt
	if detectedAt.IsZero() {
		detectedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO anomalies
			(id, detected_at, anomaly_type, severity, description, metric_values, context, escalated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, float64(detectedAt.Unix()), a.Type, string(a.Severity), a.Description, metricsJSON, contextJSON, boolToInt(a.Escalated))
	if err != nil {
		return fmt.Errorf("record anomaly: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// GetRecentAnomalies returns anomalies detected within the last hours.
func (s *Stats) GetRecentAnomalies(ctx context.Context, hours int) ([]Anomaly, error) {
	cutoff := time.Now().Add(-time.Duration(hours) * time.Hour).Unix()
	return s.queryAnomalies(ctx, `SELECT * FROM anomalies WHERE detected_at >= ? ORDER BY detected_at DESC`, cutoff)
}

// GetUnescalatedAnomalies returns every anomaly not yet sent through LLM
// escalation.
func (s *Stats) GetUnescalatedAnomalies(ctx context.Context) ([]Anomaly, error) {
	return s.queryAnomalies(ctx, `SELECT * FROM anomalies WHERE escalated = 0 ORDER BY detected_at DESC`)
}

func (s *Stats) queryAnomalies(ctx context.Context, query string, args ...interface{}) ([]Anomaly, error) {
	var rows []anomalyRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("select anomalies: %w", err)
	}
	out := make([]Anomaly, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toAnomaly())
	}
	return out, nil
}

// MarkAnomalyEscalated flags an anomaly as having been sent to LLM
// analysis.
func (s *Stats) MarkAnomalyEscalated(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE anomalies SET escalated = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("mark anomaly escalated: %w", err)
	}
	return nil
}

// GetSessionSummary returns the rolling summary for one session, or nil if
// no events have been ingested for it.
func (s *Stats) GetSessionSummary(ctx context.Context, sessionID string) (*SessionSummary, error) {
	var row sessionSummaryRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM session_summaries WHERE session_id = ?`, sessionID)
	if err != nil {
		return nil, nil //nolint:nilerr // not-found is a nil result, not an error, per spec's query semantics
	}
	summary := row.toSummary()
	return &summary, nil
}

// PruneOldData deletes event_counts/metric_windows/anomalies older than
// maxAgeDays. session_summaries is never pruned by age — sessions are
// bounded in count, not time, in the original implementation.
func (s *Stats) PruneOldData(ctx context.Context, maxAgeDays int) (int64, error) {
	cutoffTS := time.Now().Add(-time.Duration(maxAgeDays) * 24 * time.Hour)
	cutoffBucket := hourBucket(cutoffTS)

	var deleted int64
	res, err := s.db.ExecContext(ctx, `DELETE FROM event_counts WHERE bucket < ?`, cutoffBucket)
	if err != nil {
		return 0, fmt.Errorf("prune event_counts: %w", err)
	}
	n, _ := res.RowsAffected()
	deleted += n

	res, err = s.db.ExecContext(ctx, `DELETE FROM metric_windows WHERE window_end < ?`, cutoffTS.Unix())
	if err != nil {
		return 0, fmt.Errorf("prune metric_windows: %w", err)
	}
	n, _ = res.RowsAffected()
	deleted += n

	res, err = s.db.ExecContext(ctx, `DELETE FROM anomalies WHERE detected_at < ?`, cutoffTS.Unix())
	if err != nil {
		return 0, fmt.Errorf("prune anomalies: %w", err)
	}
	n, _ = res.RowsAffected()
	deleted += n

	return deleted, nil
}

// SessionSummary is the rolling per-session activity counter.
type SessionSummary struct {
	SessionID      string    `json:"session_id"`
	FirstEventTS   float64   `json:"first_event_ts"`
	LastEventTS    float64   `json:"last_event_ts"`
	TotalEvents    int       `json:"total_events"`
	ApprovalCount  int       `json:"approval_count"`
	BlockCount     int       `json:"block_count"`
	GateBlockCount int       `json:"gate_block_count"`
	GateAllowCount int       `json:"gate_allow_count"`
	SkipCount      int       `json:"skip_count"`
	TaskCount      int       `json:"task_count"`
}

type sessionSummaryRow struct {
	SessionID      string  `db:"session_id"`
	FirstEventTS   float64 `db:"first_event_ts"`
	LastEventTS    float64 `db:"last_event_ts"`
	TotalEvents    int     `db:"total_events"`
	ApprovalCount  int     `db:"approval_count"`
	BlockCount     int     `db:"block_count"`
	GateBlockCount int     `db:"gate_block_count"`
	GateAllowCount int     `db:"gate_allow_count"`
	SkipCount      int     `db:"skip_count"`
	TaskCount      int     `db:"task_count"`
}

func (r sessionSummaryRow) toSummary() SessionSummary {
	return SessionSummary(r)
}

type anomalyRow struct {
	ID           string  `db:"id"`
	DetectedAt   float64 `db:"detected_at"`
	AnomalyType  string  `db:"anomaly_type"`
	Severity     string  `db:"severity"`
	Description  string  `db:"description"`
	MetricValues *string `db:"metric_values"`
	Context      *string `db:"context"`
	Escalated    int     `db:"escalated"`
}

func (r anomalyRow) toAnomaly() Anomaly {
	a := Anomaly{
		ID: r.ID, Type: r.AnomalyType, Severity: Severity(r.Severity), Description: r.Description,
		DetectedAt: time.Unix(int64(r.DetectedAt), 0).UTC(), Escalated: r.Escalated != 0,
	}
	if r.MetricValues != nil {
		_ = json.Unmarshal([]byte(*r.MetricValues), &a.MetricValues)
	}
	if r.Context != nil {
		_ = json.Unmarshal([]byte(*r.Context), &a.Context)
	}
	return a
}
