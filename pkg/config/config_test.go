package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg := FromEnv()

	assert.Equal(t, DefaultListenAddr, cfg.ListenAddr)
	assert.Equal(t, DefaultCommandTimeout, cfg.CommandTimeout)
	assert.Equal(t, DefaultCleanupInterval, cfg.CleanupInterval)
	assert.Equal(t, DefaultTempFileMaxAge, cfg.TempFileMaxAge)
	assert.Equal(t, DefaultTempDir, cfg.TempDir)
	assert.Equal(t, DefaultWorkspaceDir, cfg.WorkspaceDir)
	assert.Equal(t, "python", cfg.Interpreter.DefaultLanguage)
	assert.Contains(t, cfg.Interpreter.Languages, "python")
}

func TestFromEnvMillisecondOverrides(t *testing.T) {
	t.Setenv("COMMAND_TIMEOUT_MS", "5000")
	t.Setenv("CLEANUP_INTERVAL_MS", "1500")
	t.Setenv("TEMP_FILE_MAX_AGE_MS", "120000")
	t.Setenv("TEMP_DIR", "/var/tmp/burrow")

	cfg := FromEnv()

	assert.Equal(t, 5*time.Second, cfg.CommandTimeout)
	assert.Equal(t, 1500*time.Millisecond, cfg.CleanupInterval)
	assert.Equal(t, 2*time.Minute, cfg.TempFileMaxAge)
	assert.Equal(t, "/var/tmp/burrow", cfg.TempDir)
}

func TestFromEnvBadValuesFallBack(t *testing.T) {
	t.Setenv("COMMAND_TIMEOUT_MS", "not-a-number")
	t.Setenv("CLEANUP_INTERVAL_MS", "-100")

	cfg := FromEnv()

	assert.Equal(t, DefaultCommandTimeout, cfg.CommandTimeout)
	assert.Equal(t, DefaultCleanupInterval, cfg.CleanupInterval)
}

func TestLoadFileOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "burrow.yaml")
	content := `
workspace_dir: /srv/work
isolation_required: true
interpreter:
  default_language: python
  languages:
    python:
      command: ["python3", "-u", "-m", "burrow_kernel"]
      min_pool_size: 2
      max_pool_size: 8
    javascript:
      command: ["node", "/opt/burrow/kernel.js"]
      min_pool_size: 0
      max_pool_size: 2
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg := FromEnv()
	require.NoError(t, cfg.LoadFile(path))

	assert.Equal(t, "/srv/work", cfg.WorkspaceDir)
	assert.True(t, cfg.IsolationRequired)
	assert.Equal(t, 2, cfg.Interpreter.Languages["python"].MinPoolSize)
	assert.Equal(t, 8, cfg.Interpreter.Languages["python"].MaxPoolSize)
	assert.Contains(t, cfg.Interpreter.Languages, "javascript")
}

func TestLoadFileMissingIsNotAnError(t *testing.T) {
	cfg := FromEnv()
	assert.NoError(t, cfg.LoadFile("/nonexistent/burrow.yaml"))
}

func TestLoadFileMalformed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{{not yaml"), 0644))

	cfg := FromEnv()
	assert.Error(t, cfg.LoadFile(path))
}

func TestValidate(t *testing.T) {
	cfg := FromEnv()
	assert.NoError(t, cfg.Validate())

	bad := FromEnv()
	bad.CommandTimeout = 0
	assert.Error(t, bad.Validate())

	bad = FromEnv()
	bad.Interpreter.Languages["python"] = LanguageConfig{MinPoolSize: 1, MaxPoolSize: 5}
	assert.Error(t, bad.Validate(), "empty kernel command must fail validation")

	bad = FromEnv()
	bad.Interpreter.Languages["python"] = LanguageConfig{
		Command:     []string{"python3"},
		MinPoolSize: 9,
		MaxPoolSize: 5,
	}
	assert.Error(t, bad.Validate())
}
