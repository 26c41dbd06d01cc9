package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the gateway's own aggregate state — project
// counts, WebSocket fan-out, and poll health — exposed on /metrics
// alongside each project's own governance/quality counters (which live
// inside their respective MCP server processes, not here).
var (
	projectsRegistered = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "avt_gateway_projects_registered",
		Help: "Number of projects currently registered with the gateway.",
	})

	projectsRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "avt_gateway_projects_running",
		Help: "Number of projects with live MCP server subprocesses.",
	})

	wsConnectionsActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "avt_gateway_ws_connections_active",
		Help: "Active WebSocket connections per project.",
	}, []string{"project_id"})

	pollFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "avt_gateway_poll_failures_total",
		Help: "Poll-loop failures per project, by cause.",
	}, []string{"project_id", "cause"})

	jobUpdatesBroadcastTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "avt_gateway_job_updates_broadcast_total",
		Help: "Job status updates broadcast to WebSocket clients, by project.",
	}, []string{"project_id"})
)
