package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Most of ProjectSupervisor's behavior (graceful SIGTERM, kill escalation,
// liveness probing of real subprocesses) is exercised against actual OS
// processes the gateway daemon launches at runtime and is not practical
// to unit test deterministically; the pure decision logic is covered here.

func TestServerBinariesBinaryFor(t *testing.T) {
	b := ServerBinaries{KG: "avt-mcp-kg", Quality: "avt-mcp-quality", Governance: "avt-mcp-governance"}
	assert.Equal(t, "avt-mcp-kg", b.binaryFor("kg"))
	assert.Equal(t, "avt-mcp-quality", b.binaryFor("quality"))
	assert.Equal(t, "avt-mcp-governance", b.binaryFor("governance"))
	assert.Equal(t, "", b.binaryFor("unknown"))
}

func TestProcessKeyFormat(t *testing.T) {
	assert.Equal(t, "proj-1/kg", processKey("proj-1", "kg"))
}

func TestCheckHealthReportsAllFalseForUnknownProject(t *testing.T) {
	sup := NewProjectSupervisor(ServerBinaries{KG: "avt-mcp-kg", Quality: "avt-mcp-quality", Governance: "avt-mcp-governance"})
	health := sup.CheckHealth("never-started")
	assert.Equal(t, map[string]bool{"kg": false, "quality": false, "governance": false}, health)
}

func TestStartFailsWhenNoBinaryConfigured(t *testing.T) {
	sup := NewProjectSupervisor(ServerBinaries{})
	p := Project{ID: "proj-1", Path: "/tmp/proj-1", MCPBasePort: mcpBasePort}
	err := sup.Start(p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no binary configured")
}

func TestStopOnNeverStartedProjectIsNoOp(t *testing.T) {
	sup := NewProjectSupervisor(ServerBinaries{KG: "avt-mcp-kg", Quality: "avt-mcp-quality", Governance: "avt-mcp-governance"})
	sup.Stop("never-started")
}

func TestStartFailsForMissingBinaryAndRollsBackEarlierStarts(t *testing.T) {
	sup := NewProjectSupervisor(ServerBinaries{KG: "/bin/echo", Quality: "/bin/echo", Governance: "/no/such/binary-xyz"})
	p := Project{ID: "proj-1", Path: "/tmp/proj-1", MCPBasePort: mcpBasePort}
	err := sup.Start(p)
	require.Error(t, err)

	health := sup.CheckHealth("proj-1")
	assert.False(t, health["kg"])
	assert.False(t, health["quality"])
	assert.False(t, health["governance"])
}
