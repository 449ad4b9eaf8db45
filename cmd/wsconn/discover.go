package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/muurk/wsconn/internal/discovery"
	"github.com/muurk/wsconn/internal/ui"
)

var discoverTimeout time.Duration

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "List websocket listeners advertised via mDNS",
	Long: `Browse the local network for websocket listeners advertised via mDNS
(service type ` + discovery.ServiceType + `), such as 'wsconn serve --advertise'.`,
	Example: `  # Browse for the configured scan timeout
  wsconn discover

  # Longer scan for busy networks
  wsconn discover --timeout 15s`,
	RunE: runDiscover,
}

func init() {
	discoverCmd.Flags().DurationVar(&discoverTimeout, "timeout", 0, "Scan timeout (default from configuration)")
}

func runDiscover(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	scanner := discovery.NewScanner()
	if cfg.Discovery.ScanTimeout > 0 {
		scanner.Timeout = cfg.Discovery.ScanTimeout
	}
	if discoverTimeout > 0 {
		scanner.Timeout = discoverTimeout
	}

	fmt.Println(ui.RenderNotice("scanning for %s (timeout: %s)...", discovery.ServiceType, scanner.Timeout))
	fmt.Println()

	listeners, err := scanner.Scan(cmd.Context())
	if err != nil {
		fmt.Println(ui.NewFailureResult("Discovery failed", err,
			"Check that multicast traffic is allowed on this network",
		).Render())
		return fmt.Errorf("scan failed: %w", err)
	}

	fmt.Println(ui.RenderListeners(listeners))
	if len(listeners) > 0 {
		fmt.Println()
		fmt.Println(ui.RenderNotice("use 'wsconn dial --instance <name>' to connect"))
	}
	return nil
}
