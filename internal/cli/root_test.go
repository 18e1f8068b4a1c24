package cli

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestCmd returns a detached command writing to a buffer, with --config
// pointed at a file inside a fresh temp dir.
func newTestCmd(t *testing.T) (*cobra.Command, *bytes.Buffer, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "parley.json")
	cfgFile = path
	t.Cleanup(func() { cfgFile = "" })

	output := &bytes.Buffer{}
	cmd := &cobra.Command{}
	cmd.SetOut(output)
	return cmd, output, path
}

func TestRootCommand(t *testing.T) {
	t.Run("version flag", func(t *testing.T) {
		cmd := GetRootCmd()
		cmd.SetArgs([]string{"--version"})

		output := &bytes.Buffer{}
		cmd.SetOut(output)

		err := cmd.Execute()
		require.NoError(t, err)

		assert.Contains(t, output.String(), "parley version")
		assert.Contains(t, output.String(), GetVersion())
	})

	t.Run("help flag", func(t *testing.T) {
		cmd := GetRootCmd()
		cmd.SetArgs([]string{"--help"})

		output := &bytes.Buffer{}
		cmd.SetOut(output)

		err := cmd.Execute()
		require.NoError(t, err)

		helpText := output.String()
		assert.Contains(t, helpText, "Parley")
		assert.Contains(t, helpText, "serve")
		assert.Contains(t, helpText, "programs")
	})

	t.Run("global flags", func(t *testing.T) {
		cmd := GetRootCmd()

		configFlag := cmd.PersistentFlags().Lookup("config")
		require.NotNil(t, configFlag)
		assert.Equal(t, "", configFlag.DefValue)

		logLevelFlag := cmd.PersistentFlags().Lookup("log-level")
		require.NotNil(t, logLevelFlag)
		assert.Equal(t, "info", logLevelFlag.DefValue)
	})

	t.Run("subcommands", func(t *testing.T) {
		names := make(map[string]bool)
		for _, c := range GetRootCmd().Commands() {
			names[c.Name()] = true
		}
		for _, want := range []string{"serve", "status", "stop", "config", "programs"} {
			assert.True(t, names[want], "%s command should exist", want)
		}
	})
}

func TestLoadConfig(t *testing.T) {
	t.Run("defaults without a file", func(t *testing.T) {
		cmd, _, path := newTestCmd(t)

		cfg, err := loadConfig(cmd)
		require.NoError(t, err)
		assert.Equal(t, "info", cfg.Logging.Level)
		assert.Equal(t, filepath.Dir(path), cfg.DataDir)
	})

	t.Run("log level flag applies only when set", func(t *testing.T) {
		cmd, _, _ := newTestCmd(t)
		cmd.Flags().StringVar(&logLevel, "log-level", "info", "")
		require.NoError(t, cmd.Flags().Set("log-level", "debug"))
		t.Cleanup(func() { logLevel = "info" })

		cfg, err := loadConfig(cmd)
		require.NoError(t, err)
		assert.Equal(t, "debug", cfg.Logging.Level)
	})
}

func TestGetVersion(t *testing.T) {
	version := GetVersion()
	assert.NotEmpty(t, version)
	assert.True(t, strings.HasPrefix(version, "0."))
}
