package context

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	shortPromptThreshold  = 500
	distillationTimeout   = 30 * time.Second
	maxRefreshTranscript  = 50
	maxRefreshExcerpts    = 5
	refreshExcerptMaxRune = 500
	maxNewDiscoveries     = 3
)

// transcriptMessage is the subset of a transcript JSONL line this job
// cares about: the role and a content field that may be either a plain
// string or a list of content blocks (the "text" block shape Claude
// transcripts use for assistant/user turns with tool use interleaved).
type transcriptMessage struct {
	Type    string          `json:"type"`
	Message json.RawMessage `json:"message"`
}

type transcriptInnerMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// extractOriginalPrompt scans a transcript JSONL file for the first
// user message and returns its flattened text.
func extractOriginalPrompt(transcriptPath string) string {
	f, err := os.Open(transcriptPath)
	if err != nil {
		return ""
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var outer transcriptMessage
		if err := json.Unmarshal(line, &outer); err != nil {
			continue
		}
		if outer.Type != "user" || len(outer.Message) == 0 {
			continue
		}
		var inner transcriptInnerMessage
		if err := json.Unmarshal(outer.Message, &inner); err != nil {
			continue
		}
		if inner.Role != "user" {
			continue
		}
		if text := flattenContent(inner.Content); text != "" {
			return text
		}
	}
	return ""
}

// extractRecentTranscript returns up to maxRefreshExcerpts recent
// assistant-message excerpts (each truncated to refreshExcerptMaxRune
// characters) from the last maxRefreshTranscript lines of the
// transcript — used to build the refresh prompt.
func extractRecentTranscript(transcriptPath string) []string {
	f, err := os.Open(transcriptPath)
	if err != nil {
		return nil
	}
	defer f.Close()

	var lines [][]byte
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := append([]byte(nil), scanner.Bytes()...)
		lines = append(lines, line)
		if len(lines) > maxRefreshTranscript {
			lines = lines[1:]
		}
	}

	var excerpts []string
	for i := len(lines) - 1; i >= 0 && len(excerpts) < maxRefreshExcerpts; i-- {
		var outer transcriptMessage
		if err := json.Unmarshal(lines[i], &outer); err != nil {
			continue
		}
		if outer.Type != "assistant" || len(outer.Message) == 0 {
			continue
		}
		var inner transcriptInnerMessage
		if err := json.Unmarshal(outer.Message, &inner); err != nil {
			continue
		}
		text := flattenContent(inner.Content)
		if text == "" {
			continue
		}
		r := []rune(text)
		if len(r) > refreshExcerptMaxRune {
			text = string(r[:refreshExcerptMaxRune])
		}
		excerpts = append(excerpts, text)
	}

	for i, j := 0, len(excerpts)-1; i < j; i, j = i+1, j-1 {
		excerpts[i], excerpts[j] = excerpts[j], excerpts[i]
	}
	return excerpts
}

func flattenContent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return strings.TrimSpace(asString)
	}
	var blocks []contentBlock
	if err := json.Unmarshal(raw, &blocks); err == nil {
		var parts []string
		for _, b := range blocks {
			if b.Type == "text" && b.Text != "" {
				parts = append(parts, b.Text)
			}
		}
		return strings.TrimSpace(strings.Join(parts, "\n"))
	}
	return ""
}

func buildDistillationPrompt(originalPrompt string) string {
	return fmt.Sprintf(`Extract the structure of this task request so it can be reinforced
later in the session without re-reading the whole transcript.

Original request:
%s

Respond with JSON only, in this exact shape:
{
  "key_points": [{"id": "kp-1", "text": "..."}],
  "constraints": ["..."],
  "key_decisions": ["..."]
}

key_points are the distinct goals or deliverables implied by the request.
constraints are hard requirements the request imposes (must/never/always).
key_decisions are any choices the request already makes for the implementer.
Keep each item to one sentence. Omit empty categories as empty arrays.`, originalPrompt)
}

func buildRefreshPrompt(ctx *SessionContext, recentExcerpts []string) string {
	var goalLines []string
	for _, kp := range ctx.Distillation.KeyPoints {
		goalLines = append(goalLines, fmt.Sprintf("- [%s] %s (%s)", kp.ID, kp.Text, kp.Status))
	}

	return fmt.Sprintf(`Given the current session goals and recent activity, report what changed.

Current goals:
%s

Recent activity:
%s

Respond with JSON only, in this exact shape:
{
  "completed_goals": ["kp-1"],
  "new_discoveries": [{"text": "..."}],
  "thrash_indicators": ["..."]
}

completed_goals lists the ids of goals the recent activity shows are now done.
new_discoveries are findings not implied by the original request (max %d).
thrash_indicators flag repeated back-and-forth or abandoned approaches.
Omit empty categories as empty arrays.`, orNone(goalLines), orNone(recentExcerpts), maxNewDiscoveries)
}

// DistillationTransport runs a distillation prompt against a model and
// returns its raw text response.
type DistillationTransport interface {
	Run(ctx context.Context, prompt, model string) (string, error)
}

// CLIDistillationTransport shells out to the claude CLI the same way
// pkg/audit.CLIModelTransport does: temp-file stdin, --print --model,
// CLAUDECODE stripped from the child environment.
type CLIDistillationTransport struct {
	BinaryPath string
}

func (t CLIDistillationTransport) Run(ctx context.Context, prompt, model string) (string, error) {
	binary := t.BinaryPath
	if binary == "" {
		binary = "claude"
	}

	tmp, err := os.CreateTemp("", "distill-prompt-*.txt")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.WriteString(prompt); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}

	stdin, err := os.Open(tmp.Name())
	if err != nil {
		return "", err
	}
	defer stdin.Close()

	cmd := exec.CommandContext(ctx, binary, "--print", "--model", model)
	cmd.Stdin = stdin
	cmd.Env = stripCLAUDECODE(os.Environ())

	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return string(out), nil
}

var distillFencedJSONBlock = regexp.MustCompile("(?s)```json\\s*(.*?)\\s*```")

// extractDistillationJSON mirrors pkg/audit.extractEscalationJSON's
// 3-stage fallback: direct parse, fenced block, brace span.
func extractDistillationJSON(raw string) (map[string]interface{}, bool) {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "{") {
		var out map[string]interface{}
		if err := json.Unmarshal([]byte(trimmed), &out); err == nil {
			return out, true
		}
	}

	if m := distillFencedJSONBlock.FindStringSubmatch(raw); m != nil {
		var out map[string]interface{}
		if err := json.Unmarshal([]byte(m[1]), &out); err == nil {
			return out, true
		}
	}

	if start := strings.Index(raw, "{"); start >= 0 {
		if end := strings.LastIndex(raw, "}"); end > start {
			var out map[string]interface{}
			if err := json.Unmarshal([]byte(raw[start:end+1]), &out); err == nil {
				return out, true
			}
		}
	}

	return nil, false
}

// Distiller runs the initial and refresh distillation passes that keep
// a session's .session-context file current.
type Distiller struct {
	Store     *Store
	Transport DistillationTransport
	Model     string
	Timeout   time.Duration
	Mock      bool
}

// NewDistiller builds a Distiller. mock, when true, bypasses the LLM
// call entirely and produces a synthetic distillation — the
// GOVERNANCE_MOCK_REVIEW behavior.
func NewDistiller(store *Store, transport DistillationTransport, model string, mock bool) *Distiller {
	return &Distiller{Store: store, Transport: transport, Model: model, Timeout: distillationTimeout, Mock: mock}
}

// RunInitial performs the first distillation pass for a session, unless
// a session-context file already exists.
func (d *Distiller) RunInitial(ctx context.Context, sessionID, transcriptPath string) {
	if d.Store.SessionContextExists(sessionID) {
		return
	}

	prompt := extractOriginalPrompt(transcriptPath)
	if prompt == "" {
		return
	}

	now := time.Now().UTC()
	sc := &SessionContext{
		Version:   1,
		SessionID: sessionID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if d.Mock || len(prompt) < shortPromptThreshold {
		sc.Distillation = d.fallbackDistillation(prompt)
	} else {
		sc.Distillation = d.runDistillation(ctx, prompt)
	}

	if err := d.Store.SaveSessionContext(sessionID, sc); err != nil {
		slog.Warn("context: failed to save initial distillation", "session_id", sessionID, "error", err)
	}
}

func (d *Distiller) fallbackDistillation(prompt string) Distillation {
	text := prompt
	r := []rune(text)
	if len(r) > 200 {
		text = string(r[:200])
	}
	if text == "" {
		text = "(session started with no initial prompt text)"
	}
	return Distillation{
		Status:    "fallback",
		KeyPoints: []KeyPoint{{ID: "kp-1", Text: text, Status: "active"}},
	}
}

func (d *Distiller) runDistillation(ctx context.Context, prompt string) Distillation {
	if d.Transport == nil {
		return d.fallbackDistillation(prompt)
	}

	timeout := d.Timeout
	if timeout == 0 {
		timeout = distillationTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	raw, err := d.Transport.Run(callCtx, buildDistillationPrompt(prompt), d.Model)
	if err != nil {
		slog.Warn("context: distillation transport failed", "error", err)
		return d.fallbackDistillation(prompt)
	}

	parsed, ok := extractDistillationJSON(raw)
	if !ok {
		return d.fallbackDistillation(prompt)
	}

	dist := Distillation{Status: "ready"}
	for i, kp := range stringMapSlice(parsed["key_points"]) {
		id := valueOrString(kp, "id", fmt.Sprintf("kp-%d", i+1))
		text := valueOrString(kp, "text", "")
		if text == "" {
			continue
		}
		dist.KeyPoints = append(dist.KeyPoints, KeyPoint{ID: id, Text: text, Status: "active"})
	}
	dist.Constraints = stringSlice(parsed["constraints"])
	dist.KeyDecisions = stringSlice(parsed["key_decisions"])
	return dist
}

// BackgroundSpawner runs distillation passes on a goroutine, isolated by
// panic recovery — the in-process equivalent of the reference
// implementation's detached subprocess spawn, consistent with
// pkg/audit.Processor's escalation spawning.
type BackgroundSpawner struct {
	Distiller      *Distiller
	MaxDiscoveries int
}

// NewBackgroundSpawner builds a BackgroundSpawner for d.
func NewBackgroundSpawner(d *Distiller, maxDiscoveries int) *BackgroundSpawner {
	return &BackgroundSpawner{Distiller: d, MaxDiscoveries: maxDiscoveries}
}

// SpawnDistillation implements Spawner.
func (b *BackgroundSpawner) SpawnDistillation(sessionID, transcriptPath string, refresh bool) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("context: distillation job panicked", "session_id", sessionID, "refresh", refresh, "panic", r)
			}
		}()

		ctx := context.Background()
		if refresh {
			b.Distiller.RunRefresh(ctx, sessionID, transcriptPath, b.MaxDiscoveries)
		} else {
			b.Distiller.RunInitial(ctx, sessionID, transcriptPath)
		}
	}()
}

// RunRefresh re-evaluates an existing session context against recent
// transcript activity: marking completed goals, appending new
// discoveries (deduplicated by substring in either direction, capped at
// MaxDiscoveriesPerSession), and recording thrash indicators.
func (d *Distiller) RunRefresh(ctx context.Context, sessionID, transcriptPath string, maxDiscoveries int) {
	sc := d.Store.LoadSessionContext(sessionID)
	if sc == nil {
		return
	}

	excerpts := extractRecentTranscript(transcriptPath)
	if len(excerpts) == 0 {
		return
	}

	var parsed map[string]interface{}
	if d.Mock || d.Transport == nil {
		parsed = nil
	} else {
		timeout := d.Timeout
		if timeout == 0 {
			timeout = distillationTimeout
		}
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		raw, err := d.Transport.Run(callCtx, buildRefreshPrompt(sc, excerpts), d.Model)
		cancel()
		if err != nil {
			slog.Warn("context: refresh transport failed", "session_id", sessionID, "error", err)
			return
		}
		var ok bool
		parsed, ok = extractDistillationJSON(raw)
		if !ok {
			return
		}
	}
	if parsed == nil {
		return
	}

	now := time.Now().UTC()

	completed := stringSet(stringSlice(parsed["completed_goals"]))
	for i := range sc.Distillation.KeyPoints {
		kp := &sc.Distillation.KeyPoints[i]
		if completed[kp.ID] && kp.Status != "completed" {
			kp.Status = "completed"
			completedAt := now
			kp.CompletedAt = &completedAt
		}
	}

	existing := make([]string, 0, len(sc.Discoveries))
	for _, disc := range sc.Discoveries {
		existing = append(existing, strings.ToLower(disc.Text))
	}

	added := 0
	for _, raw := range stringMapSlice(parsed["new_discoveries"]) {
		if added >= maxNewDiscoveries || len(sc.Discoveries) >= maxDiscoveries {
			break
		}
		text := valueOrString(raw, "text", "")
		if text == "" {
			continue
		}
		if isSubstringDuplicate(text, existing) {
			continue
		}
		sc.Discoveries = append(sc.Discoveries, Discovery{
			ID:           uuid.NewString(),
			Text:         text,
			DiscoveredAt: now,
			Source:       "refresh",
		})
		existing = append(existing, strings.ToLower(text))
		added++
	}

	thrash := stringSlice(parsed["thrash_indicators"])
	if len(thrash) > 3 {
		thrash = thrash[:3]
	}
	var filteredThrash []string
	for _, t := range thrash {
		if strings.TrimSpace(t) != "" {
			filteredThrash = append(filteredThrash, t)
		}
	}
	sc.ThrashIndicators = filteredThrash
	sc.UpdatedAt = now

	if err := d.Store.SaveSessionContext(sessionID, sc); err != nil {
		slog.Warn("context: failed to save refreshed distillation", "session_id", sessionID, "error", err)
	}
}

// isSubstringDuplicate reports whether candidate (lowercased) is a
// substring of, or has as a substring, any existing (already-lowercased)
// discovery text.
func isSubstringDuplicate(candidate string, existingLower []string) bool {
	c := strings.ToLower(candidate)
	for _, e := range existingLower {
		if e == "" {
			continue
		}
		if strings.Contains(c, e) || strings.Contains(e, c) {
			return true
		}
	}
	return false
}

func stringMapSlice(v interface{}) []map[string]interface{} {
	arr, ok := v.([]interface{})
	if !ok {
		return nil
	}
	var out []map[string]interface{}
	for _, item := range arr {
		if m, ok := item.(map[string]interface{}); ok {
			out = append(out, m)
		}
	}
	return out
}

func stringSlice(v interface{}) []string {
	arr, ok := v.([]interface{})
	if !ok {
		return nil
	}
	var out []string
	for _, item := range arr {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

func stringSet(items []string) map[string]bool {
	out := map[string]bool{}
	for _, it := range items {
		out[it] = true
	}
	return out
}

func valueOrString(m map[string]interface{}, key, fallback string) string {
	if v, ok := m[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func orNone(lines []string) string {
	if len(lines) == 0 {
		return "(none)"
	}
	return strings.Join(lines, "\n")
}

// stripCLAUDECODE removes any CLAUDECODE env var from a child process's
// environment so a nested claude CLI invocation doesn't inherit it.
func stripCLAUDECODE(env []string) []string {
	out := make([]string, 0, len(env))
	for _, kv := range env {
		if strings.HasPrefix(kv, "CLAUDECODE=") {
			continue
		}
		out = append(out, kv)
	}
	return out
}
