package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestConfig(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "db_path: " + filepath.Join(dir, "executions.db") + "\n" + extra
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestRootCommandHasSubcommands(t *testing.T) {
	root := NewRootCommand()

	var names []string
	for _, sub := range root.Commands() {
		names = append(names, sub.Name())
	}
	assert.Contains(t, names, "monitor")
	assert.Contains(t, names, "sweep")
	assert.Contains(t, names, "status")
	assert.Contains(t, names, "prune")
}

func TestStatusCommandEmptyDatabase(t *testing.T) {
	cfgPath := writeTestConfig(t, "")

	out, err := execute(t, "status", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "no executions")
}

func TestPruneCommandRetentionDisabled(t *testing.T) {
	cfgPath := writeTestConfig(t, "retention:\n  keep_terminal_days: 0\n")

	out, err := execute(t, "prune", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "retention disabled")
}

func TestPruneCommandEmptyDatabase(t *testing.T) {
	cfgPath := writeTestConfig(t, "")

	out, err := execute(t, "prune", "--config", cfgPath, "--keep-days", "30")
	require.NoError(t, err)
	assert.Contains(t, out, "pruned 0 executions")
}

func TestStatusCommandRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: shouty\n"), 0644))

	_, err := execute(t, "status", "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log_level")
}
