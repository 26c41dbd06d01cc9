package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"log/slog"
)

// ModelTransport runs a prompt against a named model and returns the raw
// response text. Unlike pkg/reviewer's Transport, escalation tiers each
// name a different model, so the model is a call parameter rather than
// baked into the transport.
type ModelTransport interface {
	Run(ctx context.Context, prompt, model string) (string, error)
}

// CLIModelTransport shells out to `claude --print --model <model>`, piping
// the prompt through a temp file in, reading the response from a temp
// file out — the same gold-standard pattern pkg/reviewer's CLITransport
// uses, extended with the per-call model flag escalation needs.
type CLIModelTransport struct {
	// BinaryPath overrides the "claude" lookup, for tests or alternate
	// installs.
	BinaryPath string
}

// Run implements ModelTransport.
func (t CLIModelTransport) Run(ctx context.Context, prompt, model string) (string, error) {
	binary := t.BinaryPath
	if binary == "" {
		binary = "claude"
	}

	inFile, err := os.CreateTemp("", "avt-escalate-*-input.md")
	if err != nil {
		return "", fmt.Errorf("create escalation input temp file: %w", err)
	}
	inPath := inFile.Name()
	defer os.Remove(inPath)

	if _, err := inFile.WriteString(prompt); err != nil {
		inFile.Close()
		return "", fmt.Errorf("write escalation prompt: %w", err)
	}
	if err := inFile.Close(); err != nil {
		return "", fmt.Errorf("close escalation input file: %w", err)
	}

	outPath := inPath + ".output"
	defer os.Remove(outPath)

	in, err := os.Open(inPath)
	if err != nil {
		return "", fmt.Errorf("reopen escalation input file: %w", err)
	}
	defer in.Close()

	out, err := os.Create(outPath)
	if err != nil {
		return "", fmt.Errorf("create escalation output file: %w", err)
	}

	cmd := exec.CommandContext(ctx, binary, "--print", "--model", model)
	cmd.Stdin = in
	cmd.Stdout = out
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		out.Close()
		return "", fmt.Errorf("attach escalation stderr pipe: %w", err)
	}

	// CLAUDECODE marks a nested session to the host agent runtime; the
	// subprocess must look like a top-level invocation.
	cmd.Env = stripCLAUDECODE(os.Environ())

	if err := cmd.Start(); err != nil {
		out.Close()
		if errors.Is(err, exec.ErrNotFound) {
			slog.Warn("audit escalation: claude CLI not found", "model", model)
			return "", nil
		}
		return "", fmt.Errorf("start claude CLI: %w", err)
	}
	stderr, _ := io.ReadAll(stderrPipe)

	err = cmd.Wait()
	out.Close()

	if ctx.Err() == context.DeadlineExceeded {
		slog.Warn("audit escalation: tier timed out", "model", model)
		return "", nil
	}
	if err != nil {
		msg := string(stderr)
		if len(msg) > 500 {
			msg = msg[:500]
		}
		slog.Warn("audit escalation: claude CLI failed", "model", model, "stderr", msg)
		return "", nil
	}

	raw, err := os.ReadFile(outPath)
	if err != nil {
		return "", fmt.Errorf("read escalation output file: %w", err)
	}
	return string(raw), nil
}

func stripCLAUDECODE(env []string) []string {
	out := env[:0]
	for _, kv := range env {
		if strings.HasPrefix(kv, "CLAUDECODE=") {
			continue
		}
		out = append(out, kv)
	}
	return out
}

var escalationFencedJSONBlock = regexp.MustCompile(`(?s)` + "```" + `(?:json)?\s*\n?(.*?)\n?` + "```")

// extractEscalationJSON mirrors pkg/reviewer's extractJSON fallback
// chain: whole trimmed text, fenced code block, then first-'{'-to-last-'}'.
// Escalation and review parse independently but apply the same three
// strategies in the same order.
func extractEscalationJSON(raw string) (map[string]interface{}, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, false
	}

	if strings.HasPrefix(trimmed, "{") {
		var v map[string]interface{}
		if err := json.Unmarshal([]byte(trimmed), &v); err == nil {
			return v, true
		}
	}

	if m := escalationFencedJSONBlock.FindStringSubmatch(raw); m != nil {
		var v map[string]interface{}
		if err := json.Unmarshal([]byte(strings.TrimSpace(m[1])), &v); err == nil {
			return v, true
		}
	}

	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start != -1 && end != -1 && end > start {
		var v map[string]interface{}
		if err := json.Unmarshal([]byte(raw[start:end+1]), &v); err == nil {
			return v, true
		}
	}

	return nil, false
}

// Escalator drives the Haiku -> Sonnet -> Opus chain. Each tier decides
// independently (via its own escalate flag in the parsed response)
// whether to hand off to the next; Processor.runEscalationInBackground
// stops as soon as a tier declines to escalate or fails to parse.
type Escalator struct {
	Transport     ModelTransport
	HaikuModel    string
	SonnetModel   string
	OpusModel     string
	HaikuTimeout  time.Duration
	SonnetTimeout time.Duration
	OpusTimeout   time.Duration
}

// NewEscalator builds an Escalator with the reference timeouts and model
// aliases (30s/haiku, 120s/sonnet, 180s/opus).
func NewEscalator(transport ModelTransport) *Escalator {
	return &Escalator{
		Transport:     transport,
		HaikuModel:    "haiku",
		SonnetModel:   "sonnet",
		OpusModel:     "opus",
		HaikuTimeout:  30 * time.Second,
		SonnetTimeout: 120 * time.Second,
		OpusTimeout:   180 * time.Second,
	}
}

// TierResult is one tier's parsed output plus bookkeeping.
type TierResult struct {
	Tier           string
	Parsed         map[string]interface{}
	ElapsedSeconds float64
}

// RunTier1Haiku triages a batch of anomalies. Returns (nil, nil) if the
// transport produced no parseable response — a failed tier is not an
// error, it simply halts the chain.
func (e *Escalator) RunTier1Haiku(ctx context.Context, anomalies []Anomaly, directives []Directive,
	recentStats map[string]interface{}, recentRecommendations []Recommendation) (*TierResult, error) {

	matched := matchDirectives(anomalies, directives)
	prompt := buildHaikuPrompt(anomalies, matched, recentStats, recentRecommendations)

	tctx, cancel := context.WithTimeout(ctx, e.HaikuTimeout)
	defer cancel()

	start := time.Now()
	raw, err := e.Transport.Run(tctx, prompt, e.HaikuModel)
	elapsed := time.Since(start).Seconds()
	if err != nil {
		return nil, fmt.Errorf("tier 1 haiku: %w", err)
	}

	parsed, ok := extractEscalationJSON(raw)
	if !ok {
		slog.Warn("audit escalation: tier 1 failed to parse response")
		return nil, nil
	}
	parsed["tier"] = "haiku"
	return &TierResult{Tier: "haiku", Parsed: parsed, ElapsedSeconds: elapsed}, nil
}

// RunTier2Sonnet performs substantive analysis given tier 1's triage.
func (e *Escalator) RunTier2Sonnet(ctx context.Context, haikuTriage map[string]interface{}, anomalies []Anomaly,
	directives []Directive, eventWindow []Event, currentSettings map[string]interface{},
	existingRecommendations []Recommendation) (*TierResult, error) {

	prompt := buildSonnetPrompt(haikuTriage, anomalies, directives, eventWindow, currentSettings, existingRecommendations)

	tctx, cancel := context.WithTimeout(ctx, e.SonnetTimeout)
	defer cancel()

	start := time.Now()
	raw, err := e.Transport.Run(tctx, prompt, e.SonnetModel)
	elapsed := time.Since(start).Seconds()
	if err != nil {
		return nil, fmt.Errorf("tier 2 sonnet: %w", err)
	}

	parsed, ok := extractEscalationJSON(raw)
	if !ok {
		slog.Warn("audit escalation: tier 2 failed to parse response")
		return nil, nil
	}
	parsed["tier"] = "sonnet"
	return &TierResult{Tier: "sonnet", Parsed: parsed, ElapsedSeconds: elapsed}, nil
}

// RunTier3Opus performs the strategic deep dive given tier 2's analysis.
func (e *Escalator) RunTier3Opus(ctx context.Context, sonnetAnalysis map[string]interface{}, anomalies []Anomaly,
	directives []Directive, eventWindow []Event, currentSettings map[string]interface{},
	existingRecommendations []Recommendation, sessionSummaries []SessionSummary) (*TierResult, error) {

	prompt := buildOpusPrompt(sonnetAnalysis, anomalies, directives, eventWindow, currentSettings,
		existingRecommendations, sessionSummaries)

	tctx, cancel := context.WithTimeout(ctx, e.OpusTimeout)
	defer cancel()

	start := time.Now()
	raw, err := e.Transport.Run(tctx, prompt, e.OpusModel)
	elapsed := time.Since(start).Seconds()
	if err != nil {
		return nil, fmt.Errorf("tier 3 opus: %w", err)
	}

	parsed, ok := extractEscalationJSON(raw)
	if !ok {
		slog.Warn("audit escalation: tier 3 failed to parse response")
		return nil, nil
	}
	parsed["tier"] = "opus"
	return &TierResult{Tier: "opus", Parsed: parsed, ElapsedSeconds: elapsed}, nil
}

// shouldEscalateFromHaiku reports whether tier 1's verdict calls for tier 2.
func shouldEscalateFromHaiku(parsed map[string]interface{}) bool {
	v, _ := parsed["escalate"].(bool)
	return v
}

// shouldEscalateFromSonnet reports whether tier 2's analysis calls for tier 3.
func shouldEscalateFromSonnet(parsed map[string]interface{}) bool {
	v, _ := parsed["escalate_to_opus"].(bool)
	return v
}
