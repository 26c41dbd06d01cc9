package gateway

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *ProjectManager {
	t.Helper()
	registry, _ := newTestRegistry(t)
	supervisor := NewProjectSupervisor(ServerBinaries{KG: "avt-mcp-kg", Quality: "avt-mcp-quality", Governance: "avt-mcp-governance"})
	conns := NewConnectionManager(&fakeStatusSource{})
	transport := func(Project) JobTransport { return &fakeJobTransport{output: "ok"} }
	return NewProjectManager(registry, supervisor, conns, t.TempDir(), transport)
}

func TestGenerateTokenProducesDistinctHexStrings(t *testing.T) {
	a, err := generateToken()
	require.NoError(t, err)
	b, err := generateToken()
	require.NoError(t, err)

	assert.Len(t, a, 48)
	assert.NotEqual(t, a, b)
}

func TestServerURLFormatsLoopbackAddress(t *testing.T) {
	assert.Equal(t, "http://127.0.0.1:3101", serverURL(3101))
}

func TestConfigServiceErrorsForUnknownProject(t *testing.T) {
	m := newTestManager(t)
	_, err := m.ConfigService("does-not-exist")
	assert.Error(t, err)
}

func TestFileServiceForErrorsForUnknownProject(t *testing.T) {
	m := newTestManager(t)
	_, err := m.FileServiceFor("does-not-exist")
	assert.Error(t, err)
}

func TestConfigServiceAndFileServiceForSucceedForRegisteredProject(t *testing.T) {
	m := newTestManager(t)
	p, err := m.Add("alpha", t.TempDir())
	require.NoError(t, err)

	cfgSvc, err := m.ConfigService(p.ID)
	require.NoError(t, err)
	assert.NotNil(t, cfgSvc)

	fileSvc, err := m.FileServiceFor(p.ID)
	require.NoError(t, err)
	assert.NotNil(t, fileSvc)
}

func TestPollSnapshotReturnsEmptyForUnstartedProject(t *testing.T) {
	m := newTestManager(t)
	p, err := m.Add("alpha", t.TempDir())
	require.NoError(t, err)

	snapshot, err := m.PollSnapshot(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, PollSnapshot{}, snapshot)
}

func TestHealthReportsDisconnectedForUnstartedProject(t *testing.T) {
	m := newTestManager(t)
	p, err := m.Add("alpha", t.TempDir())
	require.NoError(t, err)

	health := m.Health(p.ID)
	assert.Equal(t, false, health["mcp_connected"])
}

func TestJobRunnerForAndMCPClientForReturnNilWhenNotRunning(t *testing.T) {
	m := newTestManager(t)
	p, err := m.Add("alpha", t.TempDir())
	require.NoError(t, err)

	assert.Nil(t, m.JobRunnerFor(p.ID))
	assert.Nil(t, m.MCPClientFor(p.ID))
}

func TestJobUpdatePayloadShapesJSONEnvelope(t *testing.T) {
	job := Job{ID: "job-1", Status: JobStatusCompleted}
	payload := jobUpdatePayload("proj-1", job)
	assert.Contains(t, string(payload), `"type":"job_status"`)
	assert.Contains(t, string(payload), `"project_id":"proj-1"`)
	assert.Contains(t, string(payload), `"job_id":"job-1"`)
}

func TestRemoveStopsAndDeregisters(t *testing.T) {
	m := newTestManager(t)
	p, err := m.Add("alpha", t.TempDir())
	require.NoError(t, err)

	require.NoError(t, m.Remove(p.ID))
	assert.Nil(t, m.Get(p.ID))
}
