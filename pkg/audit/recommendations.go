package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Recommendations manages the recommendations table: one row per
// escalation tier's suggestion, accumulating evidence across repeated
// sightings of the same anomaly type. Supersession is deliberately
// non-cascading across tiers (resolved Open Question (c)): a tier only
// supersedes its own prior rows for the same anomaly type, never another
// tier's.
type Recommendations struct {
	stats *Stats
}

// NewRecommendations builds a recommendations manager backed by the same
// database as Stats.
func NewRecommendations(stats *Stats) *Recommendations {
	return &Recommendations{stats: stats}
}

// CreateFromAnomaly records the first sighting of an anomaly type as a
// new recommendation row with evidence_count=1. tier is "detector" for
// anomaly-driven recommendations with no escalation tier yet attached.
func (r *Recommendations) CreateFromAnomaly(ctx context.Context, anomalyType, tier, suggestion, category string) (Recommendation, error) {
	now := time.Now().UTC()
	rec := Recommendation{
		ID: uuid.NewString(), AnomalyType: anomalyType, Tier: tier,
		Suggestion: suggestion, Category: category, EvidenceCount: 1,
		Status: RecommendationActive, CreatedAt: now, UpdatedAt: now,
	}
	_, err := r.stats.db.ExecContext(ctx, `
		INSERT INTO recommendations
			(id, anomaly_type, tier, suggestion, category, confidence, evidence_count, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, '', 1, ?, ?, ?)`,
		rec.ID, rec.AnomalyType, rec.Tier, rec.Suggestion, rec.Category, string(rec.Status),
		float64(now.Unix()), float64(now.Unix()))
	if err != nil {
		return Recommendation{}, fmt.Errorf("create recommendation from anomaly: %w", err)
	}
	return rec, nil
}

// UpdateFromEscalation appends an escalation tier's refined
// suggestion/category/confidence to the active recommendation for
// anomalyType (within that same tier), bumping evidence_count. If no
// active row exists yet for this tier+anomaly type, one is created.
func (r *Recommendations) UpdateFromEscalation(ctx context.Context, anomalyType, tier, suggestion, category, confidence string) (Recommendation, error) {
	existing, err := r.activeForTier(ctx, anomalyType, tier)
	if err != nil {
		return Recommendation{}, err
	}
	now := time.Now().UTC()

	if existing == nil {
		rec := Recommendation{
			ID: uuid.NewString(), AnomalyType: anomalyType, Tier: tier,
			Suggestion: suggestion, Category: category, Confidence: confidence,
			EvidenceCount: 1, Status: RecommendationActive, CreatedAt: now, UpdatedAt: now,
		}
		_, err := r.stats.db.ExecContext(ctx, `
			INSERT INTO recommendations
				(id, anomaly_type, tier, suggestion, category, confidence, evidence_count, status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?, ?)`,
			rec.ID, rec.AnomalyType, rec.Tier, rec.Suggestion, rec.Category, rec.Confidence, string(rec.Status),
			float64(now.Unix()), float64(now.Unix()))
		if err != nil {
			return Recommendation{}, fmt.Errorf("create recommendation from escalation: %w", err)
		}
		return rec, nil
	}

	updated := *existing
	updated.Suggestion = suggestion
	updated.Category = category
	updated.Confidence = confidence
	updated.EvidenceCount++
	updated.UpdatedAt = now

	_, err = r.stats.db.ExecContext(ctx, `
		UPDATE recommendations
		SET suggestion = ?, category = ?, confidence = ?, evidence_count = ?, updated_at = ?
		WHERE id = ?`,
		updated.Suggestion, updated.Category, updated.Confidence, updated.EvidenceCount, float64(now.Unix()), updated.ID)
	if err != nil {
		return Recommendation{}, fmt.Errorf("update recommendation from escalation: %w", err)
	}
	return updated, nil
}

// MarkSuperseded replaces the active recommendation for anomalyType
// within tier with a fresh one, flipping the old row's status to
// superseded. Supersession never reaches across tiers.
func (r *Recommendations) MarkSuperseded(ctx context.Context, anomalyType, tier, suggestion, category, confidence string) (Recommendation, error) {
	existing, err := r.activeForTier(ctx, anomalyType, tier)
	if err != nil {
		return Recommendation{}, err
	}
	now := time.Now().UTC()

	if existing != nil {
		if _, err := r.stats.db.ExecContext(ctx,
			`UPDATE recommendations SET status = ?, updated_at = ? WHERE id = ?`,
			string(RecommendationSuperseded), float64(now.Unix()), existing.ID); err != nil {
			return Recommendation{}, fmt.Errorf("supersede recommendation: %w", err)
		}
	}

	rec := Recommendation{
		ID: uuid.NewString(), AnomalyType: anomalyType, Tier: tier,
		Suggestion: suggestion, Category: category, Confidence: confidence,
		EvidenceCount: 1, Status: RecommendationActive, CreatedAt: now, UpdatedAt: now,
	}
	_, err = r.stats.db.ExecContext(ctx, `
		INSERT INTO recommendations
			(id, anomaly_type, tier, suggestion, category, confidence, evidence_count, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?, ?)`,
		rec.ID, rec.AnomalyType, rec.Tier, rec.Suggestion, rec.Category, rec.Confidence, string(rec.Status),
		float64(now.Unix()), float64(now.Unix()))
	if err != nil {
		return Recommendation{}, fmt.Errorf("insert superseding recommendation: %w", err)
	}
	return rec, nil
}

func (r *Recommendations) activeForTier(ctx context.Context, anomalyType, tier string) (*Recommendation, error) {
	var row recommendationRow
	err := r.stats.db.GetContext(ctx, &row, `
		SELECT * FROM recommendations WHERE anomaly_type = ? AND tier = ? AND status = ? ORDER BY updated_at DESC LIMIT 1`,
		anomalyType, tier, string(RecommendationActive))
	if err != nil {
		return nil, nil //nolint:nilerr // no active row is a nil result, not an error
	}
	rec := row.toRecommendation()
	return &rec, nil
}

// ListRecent returns the most recently updated recommendations, newest
// first, capped at limit.
func (r *Recommendations) ListRecent(ctx context.Context, limit int) ([]Recommendation, error) {
	var rows []recommendationRow
	err := r.stats.db.SelectContext(ctx, &rows, `SELECT * FROM recommendations ORDER BY updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list recommendations: %w", err)
	}
	out := make([]Recommendation, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toRecommendation())
	}
	return out, nil
}

type recommendationRow struct {
	ID            string  `db:"id"`
	AnomalyType   string  `db:"anomaly_type"`
	Tier          string  `db:"tier"`
	Suggestion    string  `db:"suggestion"`
	Category      string  `db:"category"`
	Confidence    string  `db:"confidence"`
	EvidenceCount int     `db:"evidence_count"`
	Status        string  `db:"status"`
	CreatedAt     float64 `db:"created_at"`
	UpdatedAt     float64 `db:"updated_at"`
}

func (row recommendationRow) toRecommendation() Recommendation {
	return Recommendation{
		ID: row.ID, AnomalyType: row.AnomalyType, Tier: row.Tier,
		Suggestion: row.Suggestion, Category: row.Category, Confidence: row.Confidence,
		EvidenceCount: row.EvidenceCount, Status: RecommendationStatus(row.Status),
		CreatedAt: time.Unix(int64(row.CreatedAt), 0).UTC(), UpdatedAt: time.Unix(int64(row.UpdatedAt), 0).UTC(),
	}
}
