package context

import (
	"time"
)

// HookInput is the PreToolUse hook payload: the tool being called, its
// input, and enough session identity to locate the per-session files.
type HookInput struct {
	SessionID      string
	ToolName       string
	ToolInput      map[string]interface{}
	TranscriptPath string
}

// Injection is what the hook emits as additionalContext, or nil when
// nothing qualifies this call.
type Injection struct {
	Text string
}

// Spawner triggers the background distillation job. A hook never waits
// on distillation — it only decides whether one needs to run.
type Spawner interface {
	SpawnDistillation(sessionID, transcriptPath string, refresh bool)
}

// Hook is the context-reinforcement PreToolUse hook: a per-session call
// counter gating a two-layer resolver (session-context, then the static
// router), with per-session injection caps and per-route debounce. It
// always allows the tool call through — this hook advises, never blocks.
type Hook struct {
	Store    *Store
	Settings Settings
	Spawner  Spawner
}

// NewHook builds a Hook with the given store, settings, and distillation
// spawner.
func NewHook(store *Store, settings Settings, spawner Spawner) *Hook {
	return &Hook{Store: store, Settings: settings, Spawner: spawner}
}

// Process runs one PreToolUse invocation and returns at most one
// injection. A nil return means the call is allowed through with no
// additionalContext.
func (h *Hook) Process(input HookInput) *Injection {
	if !h.Settings.Enabled {
		return nil
	}

	callCount := h.Store.IncrementCallCounter(input.SessionID)
	if callCount < h.Settings.ToolCallThreshold {
		return nil
	}

	history := h.Store.LoadInjectionHistory(input.SessionID)
	if len(history) >= h.Settings.MaxInjectionsPerSession {
		return nil
	}

	now := time.Now().UTC()

	if injection := h.tryLayer1(input, history, now); injection != nil {
		return injection
	}

	return h.tryLayer2(input, history, now)
}

// tryLayer1 attempts the session-context injection. If no session
// context exists yet, it spawns initial distillation and falls through
// to Layer 2 (returning nil, not an injection).
func (h *Hook) tryLayer1(input HookInput, history []InjectionRecord, now time.Time) *Injection {
	ctx := h.Store.LoadSessionContext(input.SessionID)
	if ctx == nil {
		if !h.Store.SessionContextExists(input.SessionID) && input.TranscriptPath != "" && h.Spawner != nil {
			h.Spawner.SpawnDistillation(input.SessionID, input.TranscriptPath, false)
		}
		return nil
	}

	if isDebounced(history, sessionContextRouteID, now, h.Settings.SessionContextDebounceSeconds) {
		return nil
	}

	text := buildSessionInjection(ctx)
	if text == "" {
		return nil
	}

	h.Store.RecordInjection(input.SessionID, sessionContextRouteID, now)
	count := h.Store.BumpInjectionCount(input.SessionID)
	if count > 0 && h.Settings.RefreshInterval > 0 && count%h.Settings.RefreshInterval == 0 && input.TranscriptPath != "" && h.Spawner != nil {
		h.Spawner.SpawnDistillation(input.SessionID, input.TranscriptPath, true)
	}

	return &Injection{Text: text}
}

// tryLayer2 attempts the static-router injection.
func (h *Hook) tryLayer2(input HookInput, history []InjectionRecord, now time.Time) *Injection {
	routes := h.Store.LoadRouter()
	if len(routes) == 0 {
		return nil
	}

	keywords := Tokenize(ExtractToolInputText(input.ToolInput))
	if len(keywords) == 0 {
		return nil
	}

	best, score := FindBestMatch(routes, keywords, h.Settings.JaccardThreshold)
	if best == nil || score == 0 {
		return nil
	}

	if isDebounced(history, best.ID, now, h.Settings.RouteDebounceSeconds) {
		return nil
	}

	h.Store.RecordInjection(input.SessionID, best.ID, now)
	return &Injection{Text: best.Context}
}

func isDebounced(history []InjectionRecord, routeID string, now time.Time, debounceSeconds int) bool {
	for _, e := range history {
		if e.RouteID == routeID && now.Sub(e.Timestamp) < time.Duration(debounceSeconds)*time.Second {
			return true
		}
	}
	return false
}

// buildSessionInjection renders a SessionContext into the additionalContext
// string, or "" if there is nothing constructive to say (all goals
// completed and no discoveries).
func buildSessionInjection(ctx *SessionContext) string {
	var activeGoals []KeyPoint
	for _, kp := range ctx.Distillation.KeyPoints {
		if kp.Status != "completed" {
			activeGoals = append(activeGoals, kp)
		}
	}

	if len(activeGoals) == 0 && len(ctx.Discoveries) == 0 {
		return ""
	}

	out := "SESSION CONTEXT:"
	if len(activeGoals) > 0 {
		out += "\nGoals remaining:"
		for _, kp := range activeGoals {
			out += "\n- " + kp.Text
		}
	}

	if len(ctx.Discoveries) > 0 {
		recent := ctx.Discoveries
		if len(recent) > 5 {
			recent = recent[len(recent)-5:]
		}
		out += "\nKey findings:"
		for _, d := range recent {
			out += "\n- " + d.Text
		}
	}

	if len(ctx.Distillation.Constraints) > 0 {
		out += "\nConstraints: " + joinSemicolons(ctx.Distillation.Constraints)
	}

	if len(ctx.Distillation.KeyDecisions) > 0 {
		out += "\nKey decisions: " + joinSemicolons(ctx.Distillation.KeyDecisions)
	}

	if len(ctx.ThrashIndicators) > 0 {
		guidance := ctx.ThrashIndicators
		if len(guidance) > 2 {
			guidance = guidance[:2]
		}
		out += "\nGuidance: " + joinSemicolons(guidance)
	}

	return out
}

func joinSemicolons(items []string) string {
	out := ""
	for i, it := range items {
		if i > 0 {
			out += "; "
		}
		out += it
	}
	return out
}
