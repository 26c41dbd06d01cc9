package gateway

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) (*Registry, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "projects.json")
	r, err := NewRegistry(path)
	require.NoError(t, err)
	return r, path
}

func TestAddAssignsLowestFreeSlot(t *testing.T) {
	r, _ := newTestRegistry(t)

	p1, err := r.Add("alpha", "/tmp/alpha")
	require.NoError(t, err)
	assert.Equal(t, 0, p1.Slot)

	p2, err := r.Add("beta", "/tmp/beta")
	require.NoError(t, err)
	assert.Equal(t, 1, p2.Slot)

	require.NoError(t, r.Remove(p1.ID))

	p3, err := r.Add("gamma", "/tmp/gamma")
	require.NoError(t, err)
	assert.Equal(t, 0, p3.Slot, "freed slot 0 should be reused before allocating slot 2")
}

func TestAddComputesMCPBasePortFromSlot(t *testing.T) {
	r, _ := newTestRegistry(t)
	p, err := r.Add("alpha", "/tmp/alpha")
	require.NoError(t, err)
	assert.Equal(t, mcpBasePort, p.MCPBasePort)

	p2, err := r.Add("beta", "/tmp/beta")
	require.NoError(t, err)
	assert.Equal(t, mcpBasePort+portsPerProject, p2.MCPBasePort)
}

func TestAddIsIdempotentForSamePath(t *testing.T) {
	r, _ := newTestRegistry(t)
	p1, err := r.Add("alpha", "/tmp/alpha")
	require.NoError(t, err)

	p2, err := r.Add("alpha-renamed", "/tmp/alpha")
	require.NoError(t, err)

	assert.Equal(t, p1.ID, p2.ID)
	assert.Equal(t, p1.Slot, p2.Slot)
	assert.Equal(t, "alpha", p2.Name, "idempotent re-add returns the existing entry untouched")
}

func TestAddDisambiguatesSlugCollisionByAppendingSuffix(t *testing.T) {
	r, _ := newTestRegistry(t)
	p1, err := r.Add("My Project", "/tmp/one")
	require.NoError(t, err)
	assert.Equal(t, "my-project", p1.ID)

	p2, err := r.Add("My Project", "/tmp/two")
	require.NoError(t, err)
	assert.Equal(t, "my-project-2", p2.ID)
}

func TestAddDefaultsEmptySlugToProject(t *testing.T) {
	r, _ := newTestRegistry(t)
	p, err := r.Add("!!!", "/tmp/weird")
	require.NoError(t, err)
	assert.Equal(t, "project", p.ID)
}

func TestSlugifyLowercasesAndCollapsesNonAlnum(t *testing.T) {
	assert.Equal(t, "my-cool-project", slugify("My  Cool_Project!!"))
	assert.Equal(t, "project", slugify("***"))
	assert.Equal(t, "abc", slugify("-abc-"))
}

func TestNewRegistryForceResetsStatusOnLoad(t *testing.T) {
	r, path := newTestRegistry(t)
	p, err := r.Add("alpha", "/tmp/alpha")
	require.NoError(t, err)
	require.NoError(t, r.SetStatus(p.ID, ProjectStatusRunning))

	reloaded, err := NewRegistry(path)
	require.NoError(t, err)

	got := reloaded.Get(p.ID)
	require.NotNil(t, got)
	assert.Equal(t, ProjectStatusStopped, got.Status, "processes from a previous gateway run are presumed dead")
}

func TestSetTokenPersists(t *testing.T) {
	r, path := newTestRegistry(t)
	p, err := r.Add("alpha", "/tmp/alpha")
	require.NoError(t, err)

	require.NoError(t, r.SetToken(p.ID, "secret-token"))

	reloaded, err := NewRegistry(path)
	require.NoError(t, err)
	got := reloaded.Get(p.ID)
	require.NotNil(t, got)
	assert.Equal(t, "secret-token", got.Token)
}

func TestRemoveUnknownProjectErrors(t *testing.T) {
	r, _ := newTestRegistry(t)
	assert.Error(t, r.Remove("does-not-exist"))
}

func TestGetReturnsNilForUnknown(t *testing.T) {
	r, _ := newTestRegistry(t)
	assert.Nil(t, r.Get("nope"))
}

func TestListReturnsAllRegisteredProjects(t *testing.T) {
	r, _ := newTestRegistry(t)
	_, err := r.Add("alpha", "/tmp/alpha")
	require.NoError(t, err)
	_, err = r.Add("beta", "/tmp/beta")
	require.NoError(t, err)

	assert.Len(t, r.List(), 2)
}
