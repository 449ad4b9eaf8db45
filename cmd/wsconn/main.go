// Wsconn serves, dials and discovers websocket endpoints.
//
// The server accepts plain TCP connections and speaks the websocket protocol
// over them; the client dials ws:// and wss:// URLs, upgrading the socket to
// TLS in place before the websocket handshake. Listeners can advertise
// themselves via mDNS and be found with the discover command.
//
// Usage:
//
//	wsconn [command] [flags]
//
// See 'wsconn --help' for available commands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/muurk/wsconn/internal/config"
	"github.com/muurk/wsconn/internal/logging"
	"github.com/muurk/wsconn/internal/version"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// Global flags
var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "wsconn",
	Short: "WebSocket server, client and discovery utility",
	Long: `A utility for serving, dialing and discovering websocket endpoints.

Settings are read from a YAML configuration file (see 'wsconn config path')
and can be overridden with command line flags.

Logging is silent unless --log-level or WSCONN_LOG_LEVEL is set.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Configuration file (default is the per-user config path)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(dialCmd)
	rootCmd.AddCommand(discoverCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig reads the configuration file and initializes logging. The
// --log-level flag wins over the file's log_level.
func loadConfig() (*config.File, error) {
	path, err := resolveConfigPath()
	if err != nil {
		return nil, err
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	level := cfg.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	if err := logging.Initialize(level); err != nil {
		return nil, err
	}

	return cfg, nil
}

func resolveConfigPath() (string, error) {
	if configPath != "" {
		return configPath, nil
	}
	return config.GetConfigPath()
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("wsconn %s\n", version.Full())
	},
}
