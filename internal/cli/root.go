package cli

import (
	"fmt"
	"io"

	"github.com/harun/parley/internal/config"
	"github.com/spf13/cobra"
)

const version = "0.1.0"

var (
	cfgFile  string
	logLevel string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "parley",
	Short: "Parley - turn-based dialogue server",
	Long: `Parley runs conversation programs that talk to remote drivers one turn
at a time. Each session pairs a driver with a program over a strict
exchange channel, served through JSON-RPC, WebSocket and REST.`,
	Version:      version,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.parley/parley.json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s" .Version}}
`)
}

// loadConfig reads the config named by --config and applies --log-level
// when it was given explicitly.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Logging.Level = logLevel
	}
	return cfg, nil
}

func configPath() string {
	return config.NewLoader(cfgFile).GetConfigPath()
}

func printf(cmd *cobra.Command, format string, args ...interface{}) {
	printfTo(cmd.OutOrStdout(), format, args...)
}

func printfTo(w io.Writer, format string, args ...interface{}) {
	fmt.Fprintf(w, format, args...)
}

// GetRootCmd returns the root command for testing
func GetRootCmd() *cobra.Command {
	return rootCmd
}

// GetVersion returns the current version
func GetVersion() string {
	return version
}
