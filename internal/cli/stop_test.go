package cli

import (
	"os"
	"testing"
	"time"

	"github.com/harun/parley/internal/daemon"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStopCommand(t *testing.T) {
	t.Run("timeout flag", func(t *testing.T) {
		flag := stopCmd.Flags().Lookup("timeout")
		require.NotNil(t, flag)
		assert.Equal(t, (30 * time.Second).String(), flag.DefValue)
	})

	t.Run("not running", func(t *testing.T) {
		cmd, _, _ := newTestCmd(t)

		err := runStop(cmd, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not running")
	})

	t.Run("dead pid", func(t *testing.T) {
		cmd, _, path := newTestCmd(t)
		pidFile := daemon.PIDFilePath(dirOf(path))
		// Pid numbers this high are above the default pid_max.
		require.NoError(t, os.WriteFile(pidFile, []byte("99999999"), 0600))

		err := runStop(cmd, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), pidFile)
	})
}
