package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/filesplit/internal/config"
	"github.com/Sumatoshi-tech/filesplit/pkg/wal"
)

// runFilesplit executes the run command with the given extra args against a
// fresh root holding the named files, returning the rendered output.
func runFilesplit(t *testing.T, files map[string]string, extra ...string) (string, error) {
	t.Helper()

	dir := t.TempDir()

	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
	}

	var out bytes.Buffer

	cmd := newRunCommand(&out)
	cmd.SetArgs(append([]string{
		"--roots", dir,
		"--block-size", "2",
		"--scan-interval", "20ms",
		"--windows", "6",
		"--window-interval", "20ms",
		"--checkpoint-backend", "none",
		"--no-color",
		"--quiet",
	}, extra...))

	err := cmd.Execute()

	return out.String(), err
}

func TestRunCommand_TableReport(t *testing.T) {
	t.Parallel()

	out, err := runFilesplit(t, map[string]string{
		"a.txt": "1234567890",
		"b.txt": "1234",
	})

	require.NoError(t, err)
	assert.Contains(t, out, "a.txt")
	assert.Contains(t, out, "b.txt")
	assert.Contains(t, out, "PATH")
}

func TestRunCommand_JSONLReport(t *testing.T) {
	t.Parallel()

	out, err := runFilesplit(t, map[string]string{"a.txt": "1234"}, "--format", "jsonl")

	require.NoError(t, err)
	assert.Contains(t, out, `"type":"file"`)
	assert.Contains(t, out, `"type":"block"`)

	for line := range strings.Lines(out) {
		assert.True(t, strings.HasPrefix(line, "{"), "non-JSON line: %q", line)
	}
}

func TestRunCommand_YAMLReport(t *testing.T) {
	t.Parallel()

	out, err := runFilesplit(t, map[string]string{"a.txt": "1234"}, "--format", "yaml")

	require.NoError(t, err)
	assert.Contains(t, out, "windows_run: 6")
	assert.Contains(t, out, "files_emitted: 1")
	assert.Contains(t, out, "blocks_emitted: 2")
}

func TestRunCommand_MissingRootsFails(t *testing.T) {
	t.Chdir(t.TempDir())

	cmd := newRunCommand(&bytes.Buffer{})
	cmd.SetArgs([]string{"--windows", "1"})

	assert.ErrorIs(t, cmd.Execute(), ErrNoRoots)
}

func TestRunCommand_InvalidFlagValueFails(t *testing.T) {
	t.Parallel()

	_, err := runFilesplit(t, nil, "--block-size", "huge")

	assert.ErrorIs(t, err, config.ErrInvalidBlockSize)
}

func TestRunCommand_FlagOverridesConfigFile(t *testing.T) {
	t.Parallel()

	cfgPath := filepath.Join(t.TempDir(), "cfg.yaml")

	require.NoError(t, os.WriteFile(cfgPath, []byte("output:\n  format: yaml\n"), 0o600))

	out, err := runFilesplit(t, map[string]string{"a.txt": "1234"},
		"--config", cfgPath, "--format", "jsonl")

	require.NoError(t, err)
	assert.Contains(t, out, `"type":"file"`)
	assert.NotContains(t, out, "windows_run:")
}

func TestOpenStore(t *testing.T) {
	t.Parallel()

	t.Run("fs", func(t *testing.T) {
		t.Parallel()

		store, err := openStore(config.CheckpointConfig{Backend: config.BackendFS, Dir: t.TempDir()})

		require.NoError(t, err)
		require.NoError(t, store.Close())
		assert.IsType(t, &wal.FSStore{}, store)
	})

	t.Run("sqlite creates dir", func(t *testing.T) {
		t.Parallel()

		dir := filepath.Join(t.TempDir(), "nested", "checkpoints")

		store, err := openStore(config.CheckpointConfig{Backend: config.BackendSQLite, Dir: dir})

		require.NoError(t, err)
		require.NoError(t, store.Close())
		assert.FileExists(t, filepath.Join(dir, sqliteFilename))
	})

	t.Run("none", func(t *testing.T) {
		t.Parallel()

		store, err := openStore(config.CheckpointConfig{Backend: config.BackendNone})

		require.NoError(t, err)
		assert.IsType(t, &wal.NopStore{}, store)
	})

	t.Run("unknown backend", func(t *testing.T) {
		t.Parallel()

		_, err := openStore(config.CheckpointConfig{Backend: "etcd"})

		assert.ErrorIs(t, err, config.ErrInvalidBackend)
	})
}
