package reviewer

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClaudeScript writes an executable shell script masquerading as the
// claude binary: it runs the given shell body, which decides what the
// fake reads, prints, sleeps for or exits with.
func fakeClaudeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake claude script is a POSIX shell script")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "claude")
	script := "#!/bin/sh\n" + body + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func TestCLITransportEchoesResponseFromOutputFile(t *testing.T) {
	bin := fakeClaudeScript(t, `cat > /dev/null; echo '{"verdict":"approved","findings":[],"guidance":"ok","standards_verified":[]}'`)
	tr := CLITransport{BinaryPath: bin}

	out, err := tr.Run(context.Background(), "review this please")
	require.NoError(t, err)
	assert.Contains(t, out, `"verdict":"approved"`)
}

func TestCLITransportBinaryNotFoundDegradesToNeedsHumanReview(t *testing.T) {
	tr := CLITransport{BinaryPath: filepath.Join(t.TempDir(), "does-not-exist-claude")}

	out, err := tr.Run(context.Background(), "prompt")
	require.NoError(t, err)
	assert.Contains(t, out, "needs_human_review")
	assert.Contains(t, out, "not found")
}

func TestCLITransportNonZeroExitDegradesToNeedsHumanReview(t *testing.T) {
	bin := fakeClaudeScript(t, `cat > /dev/null; echo "boom" >&2; exit 1`)
	tr := CLITransport{BinaryPath: bin}

	out, err := tr.Run(context.Background(), "prompt")
	require.NoError(t, err)
	assert.Contains(t, out, "needs_human_review")
	assert.Contains(t, out, "boom")
}

func TestCLITransportTimeoutDegradesToNeedsHumanReview(t *testing.T) {
	bin := fakeClaudeScript(t, `cat > /dev/null; sleep 5; echo '{"verdict":"approved"}'`)
	tr := CLITransport{BinaryPath: bin}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	out, err := tr.Run(ctx, "prompt")
	require.NoError(t, err)
	assert.Contains(t, out, "needs_human_review")
	assert.Contains(t, out, "timed out")
}

func TestStripEnvRemovesOnlyMatchingKey(t *testing.T) {
	env := []string{"CLAUDECODE=1", "PATH=/usr/bin", "HOME=/root"}
	out := stripEnv(env, "CLAUDECODE")
	assert.NotContains(t, out, "CLAUDECODE=1")
	assert.Contains(t, out, "PATH=/usr/bin")
	assert.Contains(t, out, "HOME=/root")
}
