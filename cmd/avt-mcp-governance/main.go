// Command avt-mcp-governance serves the task-governance pipeline,
// audit/escalation system, and context-reinforcement hook as an MCP
// server. The gateway launches one instance per started project, passing
// the project's listen port and directory via PORT and PROJECT_DIR. Of
// the three MCP servers the gateway supervises, this one hosts every
// piece of domain logic that is per-session rather than per-call: the
// settle-check and review-runner background jobs spawned here live and
// die with this process.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/avt-project/avt/pkg/audit"
	"github.com/avt-project/avt/pkg/config"
	gocontext "github.com/avt-project/avt/pkg/context"
	"github.com/avt-project/avt/pkg/governance"
	"github.com/avt-project/avt/pkg/kg"
	"github.com/avt-project/avt/pkg/mcpserver"
	"github.com/avt-project/avt/pkg/pipeline"
	"github.com/avt-project/avt/pkg/reviewer"
	"github.com/avt-project/avt/pkg/taskfile"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "avt-mcp-governance: %v\n", err)
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

	store, err := governance.Open(ctx, filepath.Join(projectDir, ".avt", "governance", "governance.db"))
	if err != nil {
		return fmt.Errorf("opening governance store: %w", err)
	}
	defer store.Close()

	tasks, err := taskfile.NewManager(
		filepath.Join(projectDir, cfg.Taskfile.Dir),
		config.ParseDurationOr(cfg.Taskfile.LockTimeout, 5*time.Second))
	if err != nil {
		return fmt.Errorf("opening task-file manager: %w", err)
	}

	flag, err := pipeline.NewHolisticFlag(filepath.Join(projectDir, ".avt", "pipeline"))
	if err != nil {
		return fmt.Errorf("opening holistic flag: %w", err)
	}

	// Read-only path onto the knowledge graph the kg server writes: this
	// process only ever calls GetEntitiesByTier to assemble reviewer
	// context, so it never races avt-mcp-kg's writes in practice, but it
	// is not lock-coordinated with that process either (see DESIGN.md).
	graph, err := kg.NewGraph(filepath.Join(projectDir, cfg.KG.StorePath), cfg.KG.CompactEveryN)
	if err != nil {
		return fmt.Errorf("opening knowledge graph: %w", err)
	}

	rv := buildReviewer(ctx, cfg)

	pipelineCfg := pipeline.Config{
		SettleDelay:       time.Duration(cfg.Pipeline.SettleSeconds * float64(time.Second)),
		SettleTolerance:   time.Duration(cfg.Pipeline.SettleToleranceSec * float64(time.Second)),
		MinTasksForReview: cfg.Pipeline.MinTasksForReview,
	}

	supervisor := pipeline.NewSupervisor(
		func(sessionID string, ts time.Time) pipeline.Runnable {
			return pipeline.NewSettleCheck(sessionID, ts, store, graph, rv, flag, pipelineCfg, nil, "")
		},
		func(implTaskID string) pipeline.Runnable {
			return pipeline.NewReviewRunner(implTaskID, tasks, store, graph, rv)
		},
	)

	gov := pipeline.New(tasks, store, flag, pipelineCfg, supervisor)

	auditDir := filepath.Join(projectDir, filepath.Dir(cfg.Audit.EventsPath))
	emitter := audit.NewEmitter(filepath.Join(projectDir, cfg.Audit.EventsPath))
	auditProcessor, err := buildAuditProcessor(ctx, projectDir, auditDir, cfg)
	if err != nil {
		return fmt.Errorf("building audit processor: %w", err)
	}

	hook, err := buildContextHook(projectDir, cfg)
	if err != nil {
		return fmt.Errorf("building context hook: %w", err)
	}

	registry := registerGovernanceTools(store, tasks, gov, rv, graph, emitter, auditProcessor, hook)
	server := mcpserver.NewServer("avt-mcp-governance", "0.1.0", registry)

	slog.Info("avt-mcp-governance listening", "port", port, "project_dir", projectDir)
	return http.ListenAndServe("127.0.0.1:"+port, server.Handler())
}

// buildReviewer selects the reviewer transport named by cfg.Reviewer.Transport
// and wraps it in the circuit breaker every transport shares.
func buildReviewer(ctx context.Context, cfg *config.Config) *reviewer.Reviewer {
	var transport reviewer.Transport
	switch cfg.Reviewer.Transport {
	case "anthropic":
		transport = reviewer.NewAnthropicTransport(os.Getenv("ANTHROPIC_API_KEY"), cfg.Reviewer.AnthropicModel)
	case "bedrock":
		bt, err := reviewer.NewBedrockTransport(ctx, cfg.Reviewer.BedrockModelID)
		if err != nil {
			slog.Error("reviewer: failed to build bedrock transport, falling back to claude-cli", "error", err)
			transport = reviewer.CLITransport{}
		} else {
			transport = bt
		}
	default:
		transport = reviewer.CLITransport{}
	}
	return reviewer.New(reviewer.WrapWithBreaker(transport), cfg.Reviewer.MockReview)
}

func buildAuditProcessor(ctx context.Context, projectDir, auditDir string, cfg *config.Config) (*audit.Processor, error) {
	stats, err := audit.OpenStats(ctx, filepath.Join(projectDir, cfg.Audit.StatsDBPath))
	if err != nil {
		return nil, fmt.Errorf("opening audit stats: %w", err)
	}

	thresholds := audit.ThresholdsFromMap(cfg.Audit.Thresholds)
	detector := audit.NewDetector(thresholds)
	recommendations := audit.NewRecommendations(stats)
	directives := audit.LoadDirectives(filepath.Join(projectDir, ".avt", "audit", "directives.json"))

	var escalator *audit.Escalator
	if cfg.Audit.LLMAnalysisEnabled {
		escalator = audit.NewEscalator(audit.CLIModelTransport{})
	}

	return audit.NewProcessor(auditDir, stats, detector, recommendations, escalator, directives), nil
}

func buildContextHook(projectDir string, cfg *config.Config) (*gocontext.Hook, error) {
	store := gocontext.NewStore(filepath.Join(projectDir, ".avt", "context"))

	settings := gocontext.Settings{
		Enabled:                       true,
		ToolCallThreshold:             cfg.Context.ToolCallThreshold,
		SessionContextDebounceSeconds: cfg.Context.SessionContextDebounce,
		JaccardThreshold:              cfg.Context.JaccardThreshold,
		RouteDebounceSeconds:          cfg.Context.RouteDebounceSeconds,
		MaxInjectionsPerSession:       cfg.Context.MaxInjectionsPerSession,
		MaxDiscoveriesPerSession:      10,
		RefreshInterval:               cfg.Context.RefreshInterval,
		DistillationModel:             "claude-haiku-4-5",
	}

	distiller := gocontext.NewDistiller(store, gocontext.CLIDistillationTransport{}, settings.DistillationModel, false)
	spawner := gocontext.NewBackgroundSpawner(distiller, settings.MaxDiscoveriesPerSession)

	return gocontext.NewHook(store, settings, spawner), nil
}

func registerGovernanceTools(
	store *governance.Store,
	tasks *taskfile.Manager,
	gov *pipeline.Pipeline,
	rv *reviewer.Reviewer,
	graph *kg.Graph,
	emitter *audit.Emitter,
	auditProcessor *audit.Processor,
	hook *gocontext.Hook,
) *mcpserver.Registry {
	r := mcpserver.NewRegistry()

	r.Register(mcpserver.Tool{
		Name:        "submit_decision",
		Description: "Record an agent decision and have it reviewed against vision/architecture standards.",
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			d, err := decodeDecision(args)
			if err != nil {
				return nil, err
			}
			stored, err := store.StoreDecision(ctx, d)
			if err != nil {
				return nil, fmt.Errorf("store decision: %w", err)
			}

			vision := kgEntityViews(graph.GetEntitiesByTier(kg.TierVision))
			architecture := kgEntityViews(graph.GetEntitiesByTier(kg.TierArchitecture))
			verdict := rv.ReviewDecision(ctx, stored, vision, architecture)
			verdict.DecisionID = &stored.ID
			stored_, err := store.StoreReview(ctx, verdict)
			if err != nil {
				return nil, fmt.Errorf("store review: %w", err)
			}
			emitter.Emit("decision_reviewed", map[string]interface{}{
				"decision_id": stored.ID, "verdict": string(stored_.Verdict),
			}, "avt-mcp-governance", "")
			return map[string]interface{}{"decision": stored, "review": stored_}, nil
		},
	})

	r.Register(mcpserver.Tool{
		Name:        "get_governance_status",
		Description: "Return project-wide decision/review counters and recent activity.",
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			return store.GetStatus(ctx)
		},
	})

	r.Register(mcpserver.Tool{
		Name:        "list_governed_tasks",
		Description: "List every task currently under governance, most recent first.",
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			tasksList, err := store.GetAllGovernedTasks(ctx)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"tasks": tasksList}, nil
		},
	})

	r.Register(mcpserver.Tool{
		Name:        "get_decision_history",
		Description: "List decisions and their reviews, optionally filtered by task, agent, or verdict.",
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			filter := governance.DecisionFilter{}
			filter.TaskID, _ = args["task_id"].(string)
			filter.Agent, _ = args["agent"].(string)
			if v, ok := args["verdict"].(string); ok {
				filter.Verdict = governance.Verdict(v)
			}
			records, err := store.GetAllDecisions(ctx, filter)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"decisions": records}, nil
		},
	})

	r.Register(mcpserver.Tool{
		Name:        "get_task_governance_status",
		Description: "Return a review task's blockers and whether its implementation task may execute.",
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			taskID, _ := args["task_id"].(string)
			return tasks.GetTaskGovernanceStatus(taskID)
		},
	})

	r.Register(mcpserver.Tool{
		Name:        "intercept_task_creation",
		Description: "Run the task-creation intercept: pair the new implementation task with a governance review and spawn a settle-check.",
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			ev := pipeline.TaskCreatedEvent{}
			ev.SessionID, _ = args["session_id"].(string)
			ev.TaskID, _ = args["task_id"].(string)
			ev.Subject, _ = args["subject"].(string)
			ev.ReviewType, _ = args["review_type"].(string)
			ev.TaskContext, _ = args["task_context"].(string)
			if err := gov.Intercept(ctx, ev); err != nil {
				return nil, err
			}
			return map[string]interface{}{"intercepted": true}, nil
		},
	})

	r.Register(mcpserver.Tool{
		Name:        "record_audit_event",
		Description: "Append one event to the audit trail for the stats/anomaly/escalation pipeline.",
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			eventType, _ := args["event_type"].(string)
			sessionID, _ := args["session_id"].(string)
			data, _ := args["data"].(map[string]interface{})
			emitter.Emit(eventType, data, "host", sessionID)
			return map[string]interface{}{"recorded": true}, nil
		},
	})

	r.Register(mcpserver.Tool{
		Name:        "process_audit_events",
		Description: "Run one audit-processor pass: ingest new events, detect anomalies, maybe escalate.",
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			return auditProcessor.Run(ctx)
		},
	})

	r.Register(mcpserver.Tool{
		Name:        "context_reinforce",
		Description: "Run the context-reinforcement PreToolUse hook for one tool call, returning additionalContext if warranted.",
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			input := gocontext.HookInput{}
			input.SessionID, _ = args["session_id"].(string)
			input.ToolName, _ = args["tool_name"].(string)
			input.ToolInput, _ = args["tool_input"].(map[string]interface{})
			input.TranscriptPath, _ = args["transcript_path"].(string)
			injection := hook.Process(input)
			if injection == nil {
				return map[string]interface{}{"injected": false}, nil
			}
			return map[string]interface{}{"injected": true, "text": injection.Text}, nil
		},
	})

	return r
}

func kgEntityViews(entities []*kg.EntityWithRelations) []reviewer.KGEntityView {
	views := make([]reviewer.KGEntityView, len(entities))
	for i, e := range entities {
		views[i] = reviewer.KGEntityView{
			Name:         e.Name,
			EntityType:   string(e.EntityType),
			Observations: e.Observations,
		}
	}
	return views
}

var decisionValidator = validator.New()

func decodeDecision(args map[string]interface{}) (governance.Decision, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return governance.Decision{}, err
	}
	var d governance.Decision
	if err := json.Unmarshal(raw, &d); err != nil {
		return governance.Decision{}, fmt.Errorf("decode decision: %w", err)
	}
	if d.ID == "" {
		d.ID = taskfile.NewTaskID()
	}
	if err := decisionValidator.Struct(d); err != nil {
		return governance.Decision{}, fmt.Errorf("invalid decision: %w", err)
	}
	return d, nil
}
