// Package context implements the context-reinforcement hook: a per-
// session tool-call counter gating a two-layer injection resolver
// (session-context distillation, then a static keyword router), plus the
// background distillation job that keeps the session-context layer fresh.
package context

import "time"

// KeyPoint is one distilled goal from the original user prompt.
type KeyPoint struct {
	ID          string     `json:"id"`
	Text        string     `json:"text"`
	Status      string     `json:"status"` // "active" | "completed"
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Discovery is one evolved finding appended during a refresh.
type Discovery struct {
	ID           string    `json:"id"`
	Text         string    `json:"text"`
	DiscoveredAt time.Time `json:"discovered_at"`
	Source       string    `json:"source"`
}

// Distillation is the structured extraction of the original user prompt.
type Distillation struct {
	Status       string     `json:"status"` // "ready" | "fallback"
	KeyPoints    []KeyPoint `json:"key_points"`
	Constraints  []string   `json:"constraints"`
	KeyDecisions []string   `json:"key_decisions"`
}

// SessionContext is the per-session file Layer 1 reads and the
// distillation job writes: one file per session, capped discoveries,
// evolving key-point status.
type SessionContext struct {
	Version          int          `json:"version"`
	SessionID        string       `json:"session_id"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
	Distillation     Distillation `json:"distillation"`
	Discoveries      []Discovery  `json:"discoveries"`
	ThrashIndicators []string     `json:"thrash_indicators"`
	InjectionCount   int          `json:"injection_count"`
	LastInjectedAt   *time.Time   `json:"last_injected_at,omitempty"`
}

// Ready reports whether the distillation is usable for injection
// (status "ready" or "fallback" — both are valid distillations, just
// with different provenance).
func (d Distillation) Ready() bool {
	return d.Status == "ready" || d.Status == "fallback"
}

// Route is one entry of the static context router, matched against tool
// input keywords by Jaccard similarity.
type Route struct {
	ID       string   `json:"id"`
	Keywords []string `json:"keywords"`
	Context  string   `json:"context"`
	Tier     string   `json:"tier"`
	Source   string   `json:"source"`
	Scope    []string `json:"scope"`
}

// RouterFile is the on-disk shape of context-router.json.
type RouterFile struct {
	Generated  time.Time `json:"generated"`
	Version    int       `json:"version"`
	RouteCount int       `json:"routeCount"`
	Routes     []Route   `json:"routes"`
}

// InjectionRecord is one entry of the per-session injection-history
// file, keyed by route id (the sentinel "session-context" for Layer 1).
type InjectionRecord struct {
	RouteID   string    `json:"route_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Settings is the resolved cascade of context-reinforcement knobs
// (installation defaults -> global config -> project config), matching
// the reference implementation's INSTALLATION_DEFAULTS.
type Settings struct {
	Enabled                       bool
	ToolCallThreshold             int
	SessionContextDebounceSeconds int
	JaccardThreshold              float64
	RouteDebounceSeconds          int
	MaxInjectionsPerSession       int
	MaxDiscoveriesPerSession      int
	RefreshInterval               int
	DistillationModel             string
}

// DefaultSettings mirrors INSTALLATION_DEFAULTS.
func DefaultSettings() Settings {
	return Settings{
		Enabled:                      true,
		ToolCallThreshold:             8,
		SessionContextDebounceSeconds: 60,
		JaccardThreshold:              0.15,
		RouteDebounceSeconds:          30,
		MaxInjectionsPerSession:       10,
		MaxDiscoveriesPerSession:      10,
		RefreshInterval:               5,
		DistillationModel:             "haiku",
	}
}

// sessionContextRouteID is the injection-history sentinel route id
// standing in for Layer 1 (session context), distinct from any Layer 2
// static route id.
const sessionContextRouteID = "session-context"
