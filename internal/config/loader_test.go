package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoaderLoad(t *testing.T) {
	t.Run("defaults when file does not exist", func(t *testing.T) {
		dir := t.TempDir()
		configPath := filepath.Join(dir, "parley.json")

		cfg, err := NewLoader(configPath).Load()
		require.NoError(t, err)
		assert.Equal(t, 10*time.Second, cfg.Dialogue.DialogueTimeout)
		assert.Equal(t, dir, cfg.DataDir)
		assert.Equal(t, filepath.Join(dir, "transcripts"), cfg.Transcript.Dir)
	})

	t.Run("file values override defaults", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "parley.json")
		content := `{
			"dialogue": {"dialogue_timeout": "2s"},
			"session": {"session_timeout": "1h", "session_scan_period": "30s"},
			"gateway": {"port": 9000, "shared_secret": "s3cret"},
			"transcript": {"dir": "/var/lib/parley/t"}
		}`
		require.NoError(t, os.WriteFile(configPath, []byte(content), 0644))

		cfg, err := Load(configPath)
		require.NoError(t, err)
		assert.Equal(t, 2*time.Second, cfg.Dialogue.DialogueTimeout)
		assert.Equal(t, 5*time.Minute, cfg.Dialogue.ControllerTimeout)
		assert.Equal(t, time.Hour, cfg.Session.SessionTimeout)
		assert.Equal(t, 30*time.Second, cfg.Session.SessionScanPeriod)
		assert.Equal(t, 9000, cfg.Gateway.Port)
		assert.Equal(t, "127.0.0.1", cfg.Gateway.Host)
		assert.Equal(t, "s3cret", cfg.Gateway.SharedSecret)
		assert.Equal(t, "/var/lib/parley/t", cfg.Transcript.Dir)
	})

	t.Run("yaml file", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "parley.yaml")
		content := "dialogue:\n  controller_timeout: 90s\nlogging:\n  level: debug\n"
		require.NoError(t, os.WriteFile(configPath, []byte(content), 0644))

		cfg, err := Load(configPath)
		require.NoError(t, err)
		assert.Equal(t, 90*time.Second, cfg.Dialogue.ControllerTimeout)
		assert.Equal(t, "debug", cfg.Logging.Level)
	})

	t.Run("environment overrides", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "parley.json")
		require.NoError(t, os.WriteFile(configPath, []byte(`{"gateway": {"port": 9000}}`), 0644))
		t.Setenv("PARLEY_GATEWAY_PORT", "9100")
		t.Setenv("PARLEY_DIALOGUE_DIALOGUE_TIMEOUT", "3s")

		cfg, err := Load(configPath)
		require.NoError(t, err)
		assert.Equal(t, 9100, cfg.Gateway.Port)
		assert.Equal(t, 3*time.Second, cfg.Dialogue.DialogueTimeout)
	})

	t.Run("invalid JSON", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "parley.json")
		require.NoError(t, os.WriteFile(configPath, []byte("invalid json"), 0644))

		_, err := Load(configPath)
		assert.Error(t, err)
	})

	t.Run("bad duration", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "parley.json")
		require.NoError(t, os.WriteFile(configPath, []byte(`{"dialogue": {"dialogue_timeout": "soon"}}`), 0644))

		_, err := Load(configPath)
		assert.Error(t, err)
	})
}

func TestLoaderSave(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "nested", "parley.json")

	cfg := DefaultConfig()
	cfg.Dialogue.DialogueTimeout = 1500 * time.Millisecond
	cfg.Gateway.SharedSecret = "s3cret"
	cfg.Tracing.SampleRatio = 0.5

	loader := NewLoader(configPath)
	require.NoError(t, loader.Save(cfg))

	info, err := os.Stat(configPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	data, err := os.ReadFile(configPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"1.5s"`)

	loaded, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, 1500*time.Millisecond, loaded.Dialogue.DialogueTimeout)
	assert.Equal(t, "s3cret", loaded.Gateway.SharedSecret)
	assert.Equal(t, 0.5, loaded.Tracing.SampleRatio)
}

func TestLoaderGetConfigPath(t *testing.T) {
	assert.Equal(t, "/etc/parley.json", NewLoader("/etc/parley.json").GetConfigPath())
	assert.Equal(t, DefaultConfigPath(), NewLoader("").GetConfigPath())
	assert.Equal(t, "parley.json", filepath.Base(DefaultConfigPath()))
}
