package trust

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	avtmigrations "github.com/avt-project/avt/migrations/trust"
	avterrors "github.com/avt-project/avt/pkg/errors"
)

// Store is the embedded-SQLite backing store for findings and their
// dismissal audit trail.
type Store struct {
	db *sqlx.DB
}

// Open creates (if needed) the SQLite file at path and applies every
// pending goose migration.
func Open(ctx context.Context, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create trust db dir: %w", err)
		}
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open trust db: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: serialize writers, avoid SQLITE_BUSY

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping trust db: %w", err)
	}

	goose.SetBaseFS(avtmigrations.FS)
	if err := goose.SetDialect("sqlite3"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(db.DB, "."); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply trust migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

// RecordFinding persists a new finding. Re-recording an id that already
// exists is an idempotent no-op (mirrors the Python original catching
// sqlite3.IntegrityError on the PRIMARY KEY collision) and reports false.
func (s *Store) RecordFinding(ctx context.Context, f Finding) (bool, error) {
	if f.CreatedAt.IsZero() {
		f.CreatedAt = nowUTC()
	}
	if f.Status == "" {
		f.Status = FindingStatusOpen
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO findings (id, tool, severity, component, description, created_at, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.Tool, string(f.Severity), f.Component, f.Description,
		f.CreatedAt.Format(time.RFC3339Nano), string(f.Status))
	if err != nil {
		if isUniqueConstraintErr(err) {
			return false, nil
		}
		return false, fmt.Errorf("insert finding: %w", err)
	}
	return true, nil
}

// isUniqueConstraintErr reports whether err is a PRIMARY KEY/UNIQUE
// collision, recognized across the sqlite drivers the pack uses.
func isUniqueConstraintErr(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "constraint failed")
}

// GetFinding loads a single finding by id.
func (s *Store) GetFinding(ctx context.Context, id string) (Finding, error) {
	var row findingRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM findings WHERE id = ?`, id)
	if err != nil {
		return Finding{}, fmt.Errorf("%w: finding %s", avterrors.ErrNotFound, id)
	}
	return row.toFinding(), nil
}

// RecordDismissal dismisses an open finding, requiring a non-empty,
// non-whitespace justification, and appends one dismissal_history row.
func (s *Store) RecordDismissal(ctx context.Context, findingID, dismissedBy, justification string) error {
	if strings.TrimSpace(justification) == "" {
		return avterrors.NewValidationError("justification", "must be a non-empty, non-whitespace string")
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var row findingRow
	if err := tx.GetContext(ctx, &row, `SELECT * FROM findings WHERE id = ?`, findingID); err != nil {
		return fmt.Errorf("%w: finding %s", avterrors.ErrNotFound, findingID)
	}

	dismissedAt := nowUTC()
	_, err = tx.ExecContext(ctx, `
		UPDATE findings
		SET status = ?, dismissed_by = ?, dismissal_justification = ?, dismissed_at = ?
		WHERE id = ?`,
		string(FindingStatusDismissed), dismissedBy, justification, dismissedAt.Format(time.RFC3339Nano), findingID)
	if err != nil {
		return fmt.Errorf("dismiss finding: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO dismissal_history (finding_id, dismissed_by, justification, dismissed_at)
		VALUES (?, ?, ?, ?)`,
		findingID, dismissedBy, justification, dismissedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert dismissal history: %w", err)
	}

	return tx.Commit()
}

// GetDismissalHistory returns every dismissal recorded against findingID,
// oldest first.
func (s *Store) GetDismissalHistory(ctx context.Context, findingID string) ([]DismissalRecord, error) {
	var rows []dismissalRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT finding_id, dismissed_by, justification, dismissed_at
		FROM dismissal_history WHERE finding_id = ? ORDER BY id ASC`, findingID)
	if err != nil {
		return nil, fmt.Errorf("select dismissal history: %w", err)
	}
	out := make([]DismissalRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toRecord())
	}
	return out, nil
}

// GetUnresolvedFindings returns every open finding at or above minSeverity,
// most severe first.
func (s *Store) GetUnresolvedFindings(ctx context.Context, minSeverity Severity) ([]Finding, error) {
	all, err := s.GetAllFindings(ctx, FindingStatusOpen)
	if err != nil {
		return nil, err
	}
	out := make([]Finding, 0, len(all))
	for _, f := range all {
		if f.Severity.atLeastAsSevereAs(minSeverity) {
			out = append(out, f)
		}
	}
	return out, nil
}

// GetAllFindings returns every finding, optionally filtered by status (pass
// "" for no filter), newest first.
func (s *Store) GetAllFindings(ctx context.Context, status FindingStatus) ([]Finding, error) {
	var rows []findingRow
	var err error
	if status == "" {
		err = s.db.SelectContext(ctx, &rows, `SELECT * FROM findings ORDER BY created_at DESC`)
	} else {
		err = s.db.SelectContext(ctx, &rows, `SELECT * FROM findings WHERE status = ? ORDER BY created_at DESC`, string(status))
	}
	if err != nil {
		return nil, fmt.Errorf("select findings: %w", err)
	}
	out := make([]Finding, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toFinding())
	}
	return out, nil
}

// GetTrustDecision classifies a single finding per spec: any open finding
// defaults to BLOCK ("default: tool findings presumed legitimate"); a
// dismissed finding resolves to TRACK, quoting its dismisser.
func (s *Store) GetTrustDecision(ctx context.Context, findingID string) (TrustDecision, error) {
	f, err := s.GetFinding(ctx, findingID)
	if err != nil {
		return TrustDecision{}, err
	}
	if f.Status == FindingStatusDismissed {
		by := ""
		if f.DismissedBy != nil {
			by = *f.DismissedBy
		}
		return TrustDecision{
			FindingID: findingID,
			Decision:  TrustTrack,
			Rationale: fmt.Sprintf("dismissed by %s", by),
		}, nil
	}
	return TrustDecision{
		FindingID: findingID,
		Decision:  TrustBlock,
		Rationale: "default: tool findings presumed legitimate",
	}, nil
}

type findingRow struct {
	ID                     string  `db:"id"`
	Tool                   string  `db:"tool"`
	Severity               string  `db:"severity"`
	Component              string  `db:"component"`
	Description            string  `db:"description"`
	CreatedAt              string  `db:"created_at"`
	Status                 string  `db:"status"`
	DismissedBy            *string `db:"dismissed_by"`
	DismissalJustification *string `db:"dismissal_justification"`
	DismissedAt            *string `db:"dismissed_at"`
}

func (r findingRow) toFinding() Finding {
	f := Finding{
		ID:                     r.ID,
		Tool:                   r.Tool,
		Severity:               Severity(r.Severity),
		Component:              r.Component,
		Description:            r.Description,
		CreatedAt:              parseTime(r.CreatedAt),
		Status:                 FindingStatus(r.Status),
		DismissedBy:            r.DismissedBy,
		DismissalJustification: r.DismissalJustification,
	}
	if r.DismissedAt != nil {
		t := parseTime(*r.DismissedAt)
		f.DismissedAt = &t
	}
	return f
}

type dismissalRow struct {
	FindingID     string `db:"finding_id"`
	DismissedBy   string `db:"dismissed_by"`
	Justification string `db:"justification"`
	DismissedAt   string `db:"dismissed_at"`
}

func (r dismissalRow) toRecord() DismissalRecord {
	return DismissalRecord{
		FindingID:     r.FindingID,
		DismissedBy:   r.DismissedBy,
		Justification: r.Justification,
		DismissedAt:   parseTime(r.DismissedAt),
	}
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
