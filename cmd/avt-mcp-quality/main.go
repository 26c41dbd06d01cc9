// Command avt-mcp-quality serves the trust/quality-gate store as an MCP
// server. The gateway launches one instance per started project, passing
// the project's listen port and directory via PORT and PROJECT_DIR.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/avt-project/avt/pkg/config"
	"github.com/avt-project/avt/pkg/governance"
	"github.com/avt-project/avt/pkg/mcpserver"
	"github.com/avt-project/avt/pkg/trust"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "avt-mcp-quality: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	port := os.Getenv("PORT")
	projectDir := os.Getenv("PROJECT_DIR")
	if port == "" || projectDir == "" {
		return fmt.Errorf("PORT and PROJECT_DIR environment variables are required")
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, nil)))

	ctx := context.Background()
	cfg, err := config.Load(ctx, projectDir)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	store, err := trust.Open(ctx, filepath.Join(projectDir, ".avt", "trust", "trust.db"))
	if err != nil {
		return fmt.Errorf("opening trust store: %w", err)
	}
	defer store.Close()

	rules := trust.GateRules{
		BuildEnabled:    cfg.GateRules.BuildEnabled,
		LintEnabled:     cfg.GateRules.LintEnabled,
		TestsEnabled:    cfg.GateRules.TestsEnabled,
		CoverageEnabled: cfg.GateRules.CoverageEnabled,
	}
	var findings interface {
		GetUnresolvedFindings(ctx context.Context, minSeverity trust.Severity) ([]trust.Finding, error)
	}
	if cfg.GateRules.FindingsEnabled {
		findings = store
	}

	aggregator := trust.NewAggregator(rules,
		goCommandRunner(projectDir, "build", "./..."),
		goVetRunner(projectDir),
		goCommandRunner(projectDir, "test", "./..."),
		goCommandRunner(projectDir, "test", "-cover", "./..."),
		findings)

	registry := registerQualityTools(store, aggregator)
	server := mcpserver.NewServer("avt-mcp-quality", "0.1.0", registry)

	slog.Info("avt-mcp-quality listening", "port", port, "project_dir", projectDir)
	return http.ListenAndServe("127.0.0.1:"+port, server.Handler())
}

// goCommandRunner and goVetRunner are the fabric's own default gate
// runners: a project with no other tooling configured still gets a
// meaningful build/test/coverage signal from the Go toolchain already on
// PATH. Projects using a different build system supply their own
// GateRunners by swapping this binary's wiring, not by reconfiguring YAML
// the fabric has no opinion on.
func goCommandRunner(dir string, args ...string) trust.GateRunner {
	return func(ctx context.Context) (trust.GateResult, error) {
		cmd := exec.CommandContext(ctx, "go", args...)
		cmd.Dir = dir
		out, err := cmd.CombinedOutput()
		if err != nil {
			return trust.GateResult{Passed: false, Detail: truncate(string(out), 2000)}, nil
		}
		return trust.GateResult{Passed: true, Detail: "ok"}, nil
	}
}

func goVetRunner(dir string) trust.GateRunner {
	return func(ctx context.Context) (trust.GateResult, error) {
		cmd := exec.CommandContext(ctx, "go", "vet", "./...")
		cmd.Dir = dir
		out, err := cmd.CombinedOutput()
		if err != nil {
			return trust.GateResult{Passed: false, Detail: truncate(string(out), 2000)}, nil
		}
		return trust.GateResult{Passed: true, Detail: "ok"}, nil
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "...(truncated)"
}

func registerQualityTools(store *trust.Store, aggregator *trust.Aggregator) *mcpserver.Registry {
	r := mcpserver.NewRegistry()

	r.Register(mcpserver.Tool{
		Name:        "get_all_findings",
		Description: "List findings, optionally filtered by status (open|dismissed).",
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			status, _ := args["status"].(string)
			findings, err := store.GetAllFindings(ctx, trust.FindingStatus(status))
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"findings": findings}, nil
		},
	})

	r.Register(mcpserver.Tool{
		Name:        "record_dismissal",
		Description: "Dismiss a finding with a justification, moving it from BLOCK to TRACK.",
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			findingID, _ := args["finding_id"].(string)
			dismissedBy, _ := args["dismissed_by"].(string)
			justification, _ := args["justification"].(string)
			if err := store.RecordDismissal(ctx, findingID, dismissedBy, justification); err != nil {
				return nil, err
			}
			return store.GetTrustDecision(ctx, findingID)
		},
	})

	r.Register(mcpserver.Tool{
		Name:        "check_all_gates",
		Description: "Run the build/lint/tests/coverage/findings gates and report pass/fail per gate.",
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			return aggregator.CheckAll(ctx), nil
		},
	})

	r.Register(mcpserver.Tool{
		Name:        "validate",
		Description: "Structurally validate a batch of experiment evidence backing an evolution proposal.",
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			evidence, err := decodeEvidence(args["evidence"])
			if err != nil {
				return nil, err
			}
			opts := trust.EvidenceValidatorOptions{AllowMock: os.Getenv("GOVERNANCE_MOCK_REVIEW") != ""}
			if start, ok := args["experiment_start"].(string); ok && start != "" {
				if t, err := time.Parse(time.RFC3339, start); err == nil {
					opts.ExperimentStart = &t
				}
			}
			return trust.ValidateEvidenceBatch(evidence, opts), nil
		},
	})

	r.Register(mcpserver.Tool{
		Name:        "record_finding",
		Description: "Record a tool-surfaced finding (idempotent on id collision).",
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			raw, err := json.Marshal(args)
			if err != nil {
				return nil, err
			}
			var f trust.Finding
			if err := json.Unmarshal(raw, &f); err != nil {
				return nil, fmt.Errorf("decode finding: %w", err)
			}
			created, err := store.RecordFinding(ctx, f)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"created": created}, nil
		},
	})

	return r
}

func decodeEvidence(v interface{}) ([]governance.ExperimentEvidence, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal evidence arg: %w", err)
	}
	var evidence []governance.ExperimentEvidence
	if err := json.Unmarshal(raw, &evidence); err != nil {
		return nil, fmt.Errorf("decode evidence: %w", err)
	}
	return evidence, nil
}
