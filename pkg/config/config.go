// Package config loads and merges the fabric's YAML configuration, following
// the teacher's load -> expand -> parse -> merge -> default -> validate
// pipeline (see pkg/config/loader.go in the reference tree this was adapted
// from).
package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Config is the fully resolved, validated configuration for one project's
// fabric instance.
type Config struct {
	KG        KGConfig        `yaml:"kg"`
	Taskfile  TaskfileConfig  `yaml:"taskfile"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Audit     AuditConfig     `yaml:"audit"`
	Context   ContextConfig   `yaml:"context"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Reviewer  ReviewerConfig  `yaml:"reviewer"`
	GateRules GateRulesConfig `yaml:"gates"`
}

// KGConfig configures the knowledge-graph store.
type KGConfig struct {
	StorePath     string `yaml:"store_path"`
	CompactEveryN int    `yaml:"compact_every_n"`
}

// TaskfileConfig configures the task-file manager.
type TaskfileConfig struct {
	Dir         string `yaml:"dir"`
	LockTimeout string `yaml:"lock_timeout"`
}

// PipelineConfig configures the task governance pipeline and settle-check.
type PipelineConfig struct {
	SettleSeconds      float64 `yaml:"settle_seconds"`
	SettleToleranceSec float64 `yaml:"settle_tolerance_seconds"`
	MinTasksForReview  int     `yaml:"min_tasks_for_review"`
}

// AuditConfig configures the event pipeline, stats accumulator, and
// escalation chain.
type AuditConfig struct {
	EventsPath         string             `yaml:"events_path"`
	CheckpointPath     string             `yaml:"checkpoint_path"`
	StatsDBPath        string             `yaml:"stats_db_path"`
	RotateBytes        int64              `yaml:"rotate_bytes"`
	PruneEveryNRuns    int                `yaml:"prune_every_n_runs"`
	PruneMaxAgeDays    int                `yaml:"prune_max_age_days"`
	LLMAnalysisEnabled bool               `yaml:"llm_analysis_enabled"`
	Thresholds         map[string]float64 `yaml:"thresholds"`
	Escalation         EscalationConfig   `yaml:"escalation"`
}

// EscalationConfig names the model per tier of the escalation chain.
type EscalationConfig struct {
	TriageModel   string `yaml:"triage_model"`
	AnalysisModel string `yaml:"analysis_model"`
	DeepDiveModel string `yaml:"deep_dive_model"`
}

// ContextConfig configures the context-reinforcement hook.
type ContextConfig struct {
	ToolCallThreshold       int     `yaml:"tool_call_threshold"`
	SessionContextDebounce  int     `yaml:"session_context_debounce_seconds"`
	JaccardThreshold        float64 `yaml:"jaccard_threshold"`
	MaxInjectionsPerSession int     `yaml:"max_injections_per_session"`
	RouteDebounceSeconds    int     `yaml:"route_debounce_seconds"`
	RefreshInterval         int     `yaml:"refresh_interval"`
}

// GatewayConfig configures the multi-project HTTP/WebSocket facade.
type GatewayConfig struct {
	Addr             string `yaml:"addr"`
	APIKey           string `yaml:"api_key"`
	AVTRoot          string `yaml:"avt_root"`
	PollSeconds      int    `yaml:"poll_seconds"`
	ClaudeBinary     string `yaml:"claude_binary"`
	JobTimeoutSec    int    `yaml:"job_timeout_seconds"`
	KGServerBinary   string `yaml:"kg_server_binary"`
	QualityBinary    string `yaml:"quality_server_binary"`
	GovernanceBinary string `yaml:"governance_server_binary"`
}

// ReviewerConfig selects and configures the reviewer transport.
type ReviewerConfig struct {
	Transport         string `yaml:"transport"` // "claude-cli" | "anthropic" | "bedrock"
	MockReview        bool   `yaml:"-"`         // set from GOVERNANCE_MOCK_REVIEW, never from YAML
	AnthropicModel    string `yaml:"anthropic_model"`
	BedrockModelID    string `yaml:"bedrock_model_id"`
	DecisionTimeout   string `yaml:"decision_timeout"`
	PlanTimeout       string `yaml:"plan_timeout"`
	CompletionTimeout string `yaml:"completion_timeout"`
}

// GateRulesConfig enables/disables each quality sub-gate.
type GateRulesConfig struct {
	BuildEnabled    bool `yaml:"build_enabled"`
	LintEnabled     bool `yaml:"lint_enabled"`
	TestsEnabled    bool `yaml:"tests_enabled"`
	CoverageEnabled bool `yaml:"coverage_enabled"`
	FindingsEnabled bool `yaml:"findings_enabled"`
}

// Defaults returns the built-in configuration, used as the merge base for
// every user-supplied avt.yaml.
func Defaults() *Config {
	return &Config{
		KG: KGConfig{
			StorePath:     ".avt/kg/store.jsonl",
			CompactEveryN: 1000,
		},
		Taskfile: TaskfileConfig{
			Dir:         ".avt/tasks",
			LockTimeout: "5s",
		},
		Pipeline: PipelineConfig{
			SettleSeconds:      3.0,
			SettleToleranceSec: 0.5,
			MinTasksForReview:  2,
		},
		Audit: AuditConfig{
			EventsPath:      ".avt/audit/events.jsonl",
			CheckpointPath:  ".avt/audit/checkpoint.json",
			StatsDBPath:     ".avt/audit/stats.db",
			RotateBytes:     10 * 1024 * 1024,
			PruneEveryNRuns: 100,
			PruneMaxAgeDays: 30,
			Thresholds: map[string]float64{
				"governance_block_rate": 0.4,
			},
			Escalation: EscalationConfig{
				TriageModel:   "claude-haiku-4-5",
				AnalysisModel: "claude-sonnet-4-5",
				DeepDiveModel: "claude-opus-4-1",
			},
		},
		Context: ContextConfig{
			ToolCallThreshold:       8,
			SessionContextDebounce:  60,
			JaccardThreshold:        0.15,
			MaxInjectionsPerSession: 10,
			RouteDebounceSeconds:    30,
			RefreshInterval:         20,
		},
		Gateway: GatewayConfig{
			Addr:             ":8420",
			AVTRoot:          filepath.Join(os.Getenv("HOME"), ".avt"),
			PollSeconds:      5,
			ClaudeBinary:     "claude",
			JobTimeoutSec:    600,
			KGServerBinary:   "avt-mcp-kg",
			QualityBinary:    "avt-mcp-quality",
			GovernanceBinary: "avt-mcp-governance",
		},
		Reviewer: ReviewerConfig{
			Transport:         "claude-cli",
			AnthropicModel:    "claude-sonnet-4-5",
			DecisionTimeout:   "60s",
			PlanTimeout:       "120s",
			CompletionTimeout: "90s",
		},
		GateRules: GateRulesConfig{
			BuildEnabled:    true,
			LintEnabled:     true,
			TestsEnabled:    true,
			CoverageEnabled: true,
			FindingsEnabled: true,
		},
	}
}

// Load performs the full load pipeline: read avt.yaml from configDir (if
// present), expand ${VAR}/${VAR:-default} references against the
// environment, merge onto the built-in defaults (user values win), apply the
// GOVERNANCE_MOCK_REVIEW environment override, and validate.
func Load(_ context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("loading configuration")

	cfg := Defaults()

	path := filepath.Join(configDir, "avt.yaml")
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info("no avt.yaml found, using built-in defaults")
			applyMockReviewFlag(cfg)
			if err := validate(cfg); err != nil {
				return nil, fmt.Errorf("configuration validation failed: %w", err)
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read avt.yaml: %w", err)
	}

	expanded := expandEnv(string(raw))

	var user Config
	if err := yaml.Unmarshal([]byte(expanded), &user); err != nil {
		return nil, fmt.Errorf("failed to parse avt.yaml: %w", err)
	}

	if err := mergo.Merge(cfg, &user, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("failed to merge configuration: %w", err)
	}

	applyMockReviewFlag(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	log.Info("configuration loaded",
		"reviewer_transport", cfg.Reviewer.Transport,
		"mock_review", cfg.Reviewer.MockReview)
	return cfg, nil
}

func applyMockReviewFlag(cfg *Config) {
	cfg.Reviewer.MockReview = os.Getenv("GOVERNANCE_MOCK_REVIEW") != ""
}

// expandEnv expands ${VAR} and ${VAR:-default} references, matching the
// teacher's environment-expansion step ahead of YAML parsing.
func expandEnv(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '$' && i+1 < len(s) && s[i+1] == '{' {
			end := strings.IndexByte(s[i+2:], '}')
			if end < 0 {
				b.WriteByte(s[i])
				continue
			}
			expr := s[i+2 : i+2+end]
			name, def, hasDef := strings.Cut(expr, ":-")
			val, ok := os.LookupEnv(name)
			if !ok && hasDef {
				val = def
			}
			b.WriteString(val)
			i += 2 + end
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func validate(cfg *Config) error {
	if cfg.Pipeline.MinTasksForReview < 1 {
		return fmt.Errorf("pipeline.min_tasks_for_review must be >= 1")
	}
	if cfg.Context.JaccardThreshold < 0 || cfg.Context.JaccardThreshold > 1 {
		return fmt.Errorf("context.jaccard_threshold must be in [0,1]")
	}
	switch cfg.Reviewer.Transport {
	case "claude-cli", "anthropic", "bedrock":
	default:
		return fmt.Errorf("reviewer.transport must be one of claude-cli|anthropic|bedrock, got %q", cfg.Reviewer.Transport)
	}
	return nil
}

// ParseDurationOr parses s as a duration, falling back to def on error or
// empty input. Used by components that accept duration strings from YAML.
func ParseDurationOr(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

// ParseIntOr parses s as an int, falling back to def.
func ParseIntOr(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
