// Command avtd is the gateway daemon: the multi-tenant HTTP/WebSocket
// facade that registers, starts, and stops projects, each running its own
// three MCP server subprocesses (knowledge-graph, quality, governance).
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/avt-project/avt/pkg/config"
	"github.com/avt-project/avt/pkg/gateway"
	"github.com/avt-project/avt/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "."),
		"Path to the directory holding avt.yaml and .env")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Printf("no %s found, continuing with existing environment", envPath)
	}

	ctx := context.Background()
	cfg, err := config.Load(ctx, *configDir)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	if err := os.MkdirAll(cfg.Gateway.AVTRoot, 0o755); err != nil {
		log.Fatalf("failed to create avt root %q: %v", cfg.Gateway.AVTRoot, err)
	}

	registry, err := gateway.NewRegistry(filepath.Join(cfg.Gateway.AVTRoot, "projects.json"))
	if err != nil {
		log.Fatalf("failed to open project registry: %v", err)
	}

	supervisor := gateway.NewProjectSupervisor(gateway.ServerBinaries{
		KG:         cfg.Gateway.KGServerBinary,
		Quality:    cfg.Gateway.QualityBinary,
		Governance: cfg.Gateway.GovernanceBinary,
	})

	jobTransport := func(p gateway.Project) gateway.JobTransport {
		return gateway.CLIJobTransport{BinaryPath: cfg.Gateway.ClaudeBinary, Model: "opus"}
	}

	var manager *gateway.ProjectManager
	conns := gateway.NewConnectionManager(pollSource{manager: &manager})
	manager = gateway.NewProjectManager(registry, supervisor, conns, cfg.Gateway.AVTRoot, jobTransport)

	server := gateway.NewServer(manager, conns, cfg.Gateway.APIKey)

	slog.Info("avtd listening", "version", version.Full(), "addr", cfg.Gateway.Addr, "config_dir", *configDir)

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(cfg.Gateway.Addr); err != nil {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		log.Fatalf("gateway server error: %v", err)
	case <-sigCh:
		slog.Info("avtd shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("error during shutdown: %v", err)
	}

	manager.StopAll()
}

// pollSource indirects ProjectManager construction: ConnectionManager
// needs a ProjectStatusSource before the manager it polls exists, since
// the manager also needs the already-built ConnectionManager.
type pollSource struct {
	manager **gateway.ProjectManager
}

func (s pollSource) PollSnapshot(ctx context.Context, projectID string) (gateway.PollSnapshot, error) {
	return (*s.manager).PollSnapshot(ctx, projectID)
}
