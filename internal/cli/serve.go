package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/harun/parley/internal/daemon"
	"github.com/harun/parley/internal/logger"
	"github.com/spf13/cobra"
)

var (
	servePort  int
	serveWatch bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the parley daemon in the foreground",
	Long: `Run the parley daemon in the foreground until SIGINT or SIGTERM.
The gateway serves JSON-RPC on /rpc, WebSocket on /ws and REST under
/dialogues. Idle sessions are evicted after session.session_timeout.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "gateway port (overrides gateway.port)")
	serveCmd.Flags().BoolVar(&serveWatch, "watch", true, "reload log level and rate limits when the config file changes")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("port") {
		cfg.Gateway.Port = servePort
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	log, err := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   true,
		Pretty:    cfg.Logging.Pretty,
		Redaction: cfg.Logging.Redaction,
		MaxSize:   cfg.Logging.MaxSize,
		MaxAge:    cfg.Logging.MaxAge,
		Compress:  cfg.Logging.Compress,
	})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Close()

	var opts []daemon.Option
	if serveWatch {
		path := configPath()
		if _, err := os.Stat(path); err == nil {
			opts = append(opts, daemon.WithConfigWatch(path))
		} else if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to stat config file: %w", err)
		}
	}

	d, err := daemon.New(cfg, log, opts...)
	if err != nil {
		return err
	}
	return d.Run(cmd.Context())
}
