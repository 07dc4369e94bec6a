package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aki/agentd/internal/app"
	"github.com/aki/agentd/internal/cli/ui"
	"github.com/aki/agentd/internal/core/agent"
	"github.com/aki/agentd/internal/core/agent/agenttest"
	"github.com/aki/agentd/internal/core/config"
	"github.com/aki/agentd/internal/core/logger"
	"github.com/aki/agentd/internal/core/workspace"
)

// setupProject writes a config file pointing at a temporary workspace root
// and returns both paths.
func setupProject(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	root := filepath.Join(dir, "workplace")

	cfg := config.DefaultConfig()
	cfg.Workspace.Root = root
	cfg.Workspace.MaxSizeMB = 5
	cfg.Log.Level = "error"

	path := filepath.Join(dir, "agentd.yaml")
	require.NoError(t, config.NewManager(path, config.WithoutEnv()).Save(cfg))
	return path, root
}

func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	oldOut, oldErr := ui.Out, ui.ErrOut
	ui.Out, ui.ErrOut = buf, buf
	t.Cleanup(func() { ui.Out, ui.ErrOut = oldOut, oldErr })
	return buf
}

func execute(t *testing.T, args ...string) error {
	t.Helper()
	rootCmd.SetArgs(args)
	defer rootCmd.SetArgs(nil)
	return rootCmd.Execute()
}

func TestConfigShowCommand(t *testing.T) {
	path, root := setupProject(t)
	buf := captureOutput(t)

	require.NoError(t, execute(t, "config", "show", "--config", path, "--format", "yaml"))
	assert.Contains(t, buf.String(), "max_size_mb: 5")
	assert.Contains(t, buf.String(), root)

	buf.Reset()
	require.NoError(t, execute(t, "config", "show", "--config", path, "--format", "json"))
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Contains(t, decoded, "Workspace")

	err := execute(t, "config", "show", "--config", path, "--format", "xml")
	assert.Error(t, err)
}

func TestVersionCommand(t *testing.T) {
	buf := captureOutput(t)

	require.NoError(t, execute(t, "version", "--format", "json"))
	var info map[string]string
	require.NoError(t, json.Unmarshal(buf.Bytes(), &info))
	assert.Equal(t, Version, info["version"])

	buf.Reset()
	require.NoError(t, execute(t, "version", "--format", "pretty"))
	assert.True(t, strings.HasPrefix(buf.String(), "agentd version"))
}

func TestWorkspacesListAndPrune(t *testing.T) {
	path, root := setupProject(t)
	buf := captureOutput(t)

	store, err := workspace.NewStore(root)
	require.NoError(t, err)
	_, err = store.Create(context.Background(), "old-session", "alice", time.Now().Add(-48*time.Hour))
	require.NoError(t, err)
	_, err = store.Create(context.Background(), "new-session", "bob", time.Now())
	require.NoError(t, err)

	require.NoError(t, execute(t, "workspaces", "list", "--config", path, "--format", "json"))
	var entries []workspace.Entry
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entries))
	assert.Len(t, entries, 2)

	buf.Reset()
	require.NoError(t, execute(t, "workspaces", "prune", "--config", path, "--older-than", "24h", "--dry-run"))
	assert.Contains(t, buf.String(), "old-session")
	assert.NotContains(t, buf.String(), "new-session")
	assert.DirExists(t, filepath.Join(root, "old-session"))

	buf.Reset()
	require.NoError(t, execute(t, "workspaces", "prune", "--config", path, "--older-than", "24h", "--dry-run=false"))
	assert.Contains(t, buf.String(), "Removed 1 workspace(s)")
	assert.NoDirExists(t, filepath.Join(root, "old-session"))
	assert.DirExists(t, filepath.Join(root, "new-session"))
}

func TestExecutePrompt(t *testing.T) {
	_, root := setupProject(t)
	buf := captureOutput(t)

	cfg := config.DefaultConfig()
	cfg.Workspace.Root = root
	dialer := agenttest.NewDialer(agenttest.Events(
		agent.Text{Text: "Writing the script"},
		agent.ToolInvocation{Name: "Write", Input: map[string]any{"file_path": "hello.py"}},
		agent.Terminal{Subtype: "success", Cost: agent.Cost(0.03), Turns: 2, Result: "done"},
	))
	container, err := app.NewContainer(cfg, logger.Nop(), app.WithDialer(dialer))
	require.NoError(t, err)

	require.NoError(t, executePrompt(context.Background(), container, "alice", "write hello.py"))

	out := buf.String()
	assert.Contains(t, out, "Writing the script")
	assert.Contains(t, out, "Write(hello.py)")
	assert.Contains(t, out, "Execution completed")
	assert.Contains(t, out, "$0.0300")
	assert.Equal(t, 1, dialer.Submissions())

	for _, conn := range dialer.Conns() {
		assert.True(t, conn.Closed(), "connection should be closed when the command ends")
	}
}

func TestExecutePrompt_Failure(t *testing.T) {
	_, root := setupProject(t)
	captureOutput(t)

	cfg := config.DefaultConfig()
	cfg.Workspace.Root = root
	dialer := agenttest.NewDialer(agenttest.Events(
		agent.Terminal{Subtype: "error_max_turns", IsError: true},
	))
	container, err := app.NewContainer(cfg, logger.Nop(), app.WithDialer(dialer))
	require.NoError(t, err)

	err = executePrompt(context.Background(), container, "alice", "loop forever")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed")
	assert.Contains(t, err.Error(), "error_max_turns")
}

func TestBuildPrompt(t *testing.T) {
	prompt, err := buildPrompt("create a Flask API", 0)
	require.NoError(t, err)
	assert.Equal(t, "create a Flask API", prompt)

	prompt, err = buildPrompt("create a Flask API", 10)
	require.NoError(t, err)
	assert.Contains(t, prompt, "at most 10 iterations")

	_, err = buildPrompt("create a Flask API", -1)
	assert.Error(t, err)
}

func TestRunCommand_RejectsNegativeIterations(t *testing.T) {
	path, _ := setupProject(t)
	captureOutput(t)
	t.Cleanup(func() { runMaxIterations = 0 })

	err := execute(t, "run", "--config", path, "--max-iterations", "-2", "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max iterations must be positive")
}
