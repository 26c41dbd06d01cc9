// Command avt-mcp-kg serves the Knowledge Graph store as an MCP server.
// The gateway launches one instance per started project, passing the
// project's listen port and directory via PORT and PROJECT_DIR.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/avt-project/avt/pkg/config"
	"github.com/avt-project/avt/pkg/kg"
	"github.com/avt-project/avt/pkg/mcpserver"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "avt-mcp-kg: %v\n", err)
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

	graph, err := kg.NewGraph(filepath.Join(projectDir, cfg.KG.StorePath), cfg.KG.CompactEveryN)
	if err != nil {
		return fmt.Errorf("opening knowledge graph: %w", err)
	}

	registry := registerKGTools(graph, projectDir)
	server := mcpserver.NewServer("avt-mcp-kg", "0.1.0", registry)

	slog.Info("avt-mcp-kg listening", "port", port, "project_dir", projectDir)
	return http.ListenAndServe("127.0.0.1:"+port, server.Handler())
}

func registerKGTools(graph *kg.Graph, projectDir string) *mcpserver.Registry {
	r := mcpserver.NewRegistry()

	r.Register(mcpserver.Tool{
		Name:        "create_entities",
		Description: "Create knowledge-graph entities that don't already exist.",
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			entities, err := decodeEntities(args["entities"])
			if err != nil {
				return nil, err
			}
			created, err := graph.CreateEntities(entities)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"created": created}, nil
		},
	})

	r.Register(mcpserver.Tool{
		Name:        "create_relations",
		Description: "Create directed relations between entities.",
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			relations, err := decodeRelations(args["relations"])
			if err != nil {
				return nil, err
			}
			created, err := graph.CreateRelations(relations)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"created": created}, nil
		},
	})

	r.Register(mcpserver.Tool{
		Name:        "add_observations",
		Description: "Append observations to an existing entity, subject to tier protection.",
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			name, _ := args["name"].(string)
			observations := stringSlice(args["observations"])
			role := callerRole(args["caller_role"])
			changeApproved, _ := args["change_approved"].(bool)

			count, reason := graph.AddObservations(name, observations, role, changeApproved)
			return map[string]interface{}{"added": count, "reason": reason}, nil
		},
	})

	r.Register(mcpserver.Tool{
		Name:        "delete_observations",
		Description: "Remove matching observations from an entity, subject to tier protection.",
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			name, _ := args["name"].(string)
			observations := stringSlice(args["observations"])
			role := callerRole(args["caller_role"])
			changeApproved, _ := args["change_approved"].(bool)

			count, reason := graph.DeleteObservations(name, observations, role, changeApproved)
			return map[string]interface{}{"deleted": count, "reason": reason}, nil
		},
	})

	r.Register(mcpserver.Tool{
		Name:        "delete_entity",
		Description: "Delete an entity and every relation touching it, subject to tier protection.",
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			name, _ := args["name"].(string)
			role := callerRole(args["caller_role"])
			ok, reason := graph.DeleteEntity(name, role)
			return map[string]interface{}{"deleted": ok, "reason": reason}, nil
		},
	})

	r.Register(mcpserver.Tool{
		Name:        "delete_relations",
		Description: "Delete matching (from, to, relationType) triples.",
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			relations, err := decodeRelations(args["relations"])
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"deleted": graph.DeleteRelations(relations)}, nil
		},
	})

	r.Register(mcpserver.Tool{
		Name:        "get_entity",
		Description: "Fetch an entity plus every relation touching it.",
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			name, _ := args["name"].(string)
			return graph.GetEntity(name)
		},
	})

	r.Register(mcpserver.Tool{
		Name:        "search_nodes",
		Description: "Case-insensitive substring search over entity names and observations.",
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			query, _ := args["query"].(string)
			return map[string]interface{}{"results": graph.SearchNodes(query)}, nil
		},
	})

	r.Register(mcpserver.Tool{
		Name:        "get_entities_by_tier",
		Description: "Return every entity whose tier observation matches exactly.",
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			tier, _ := args["tier"].(string)
			return map[string]interface{}{"entities": graph.GetEntitiesByTier(kg.Tier(tier))}, nil
		},
	})

	r.Register(mcpserver.Tool{
		Name:        "ingest_documents",
		Description: "Ingest every markdown document in a folder (relative to the project root) as one entity per document at the given tier.",
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			folder, _ := args["folder"].(string)
			tier, _ := args["tier"].(string)
			return kg.IngestFolder(graph, filepath.Join(projectDir, folder), kg.Tier(tier))
		},
	})

	return r
}

func callerRole(v interface{}) kg.CallerRole {
	s, _ := v.(string)
	if kg.CallerRole(s) == kg.RoleHuman {
		return kg.RoleHuman
	}
	return kg.RoleAgent
}

func stringSlice(v interface{}) []string {
	list, _ := v.([]interface{})
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func decodeEntities(v interface{}) ([]kg.Entity, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal entities arg: %w", err)
	}
	var entities []kg.Entity
	if err := json.Unmarshal(raw, &entities); err != nil {
		return nil, fmt.Errorf("decode entities: %w", err)
	}
	return entities, nil
}

func decodeRelations(v interface{}) ([]kg.Relation, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal relations arg: %w", err)
	}
	var relations []kg.Relation
	if err := json.Unmarshal(raw, &relations); err != nil {
		return nil, fmt.Errorf("decode relations: %w", err)
	}
	return relations, nil
}
