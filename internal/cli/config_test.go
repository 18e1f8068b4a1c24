package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/harun/parley/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dirOf(path string) string {
	return filepath.Dir(path)
}

func TestConfigShow(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		cmd, output, _ := newTestCmd(t)
		configFormat = config.FormatJSON

		require.NoError(t, runConfigShow(cmd, nil))
		assert.Contains(t, output.String(), `"dialogue_timeout": "10s"`)
		assert.NotContains(t, output.String(), "warning")
	})

	t.Run("yaml masks secret", func(t *testing.T) {
		cmd, output, path := newTestCmd(t)
		require.NoError(t, os.WriteFile(path, []byte(`{"gateway":{"shared_secret":"hunter2"}}`), 0600))
		configFormat = config.FormatYAML
		t.Cleanup(func() { configFormat = config.FormatJSON })

		require.NoError(t, runConfigShow(cmd, nil))
		assert.Contains(t, output.String(), "shared_secret:")
		assert.NotContains(t, output.String(), "hunter2")
	})

	t.Run("unknown format", func(t *testing.T) {
		cmd, _, _ := newTestCmd(t)
		configFormat = "toml"
		t.Cleanup(func() { configFormat = config.FormatJSON })

		assert.Error(t, runConfigShow(cmd, nil))
	})

	t.Run("warns on invalid values", func(t *testing.T) {
		cmd, output, path := newTestCmd(t)
		require.NoError(t, os.WriteFile(path, []byte(`{"logging":{"level":"loud"}}`), 0600))

		require.NoError(t, runConfigShow(cmd, nil))
		assert.Contains(t, output.String(), "warning")
	})
}

func TestConfigInit(t *testing.T) {
	cmd, output, path := newTestCmd(t)

	require.NoError(t, runConfigInit(cmd, nil))
	assert.Contains(t, output.String(), path)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfig().Gateway.Port, cfg.Gateway.Port)

	t.Run("refuses to overwrite", func(t *testing.T) {
		err := runConfigInit(cmd, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "--force")
	})

	t.Run("force", func(t *testing.T) {
		configForce = true
		t.Cleanup(func() { configForce = false })

		assert.NoError(t, runConfigInit(cmd, nil))
	})
}
