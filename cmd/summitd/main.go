// Command summitd runs the Summit LAN daemon.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/summit-p2p/summit/internal/constants"
	"github.com/summit-p2p/summit/internal/control"
	"github.com/summit-p2p/summit/internal/daemon"
	"github.com/summit-p2p/summit/internal/logging"
)

var (
	version   = "dev"
	buildTime = "unknown"
	commit    = "unknown"
)

func main() {
	root := &cobra.Command{
		Use:   "summitd",
		Short: "Summit LAN discovery and content-sharing daemon",
	}
	root.AddCommand(runCmd())
	root.AddCommand(versionCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	var (
		ifaceName     string
		contractName  string
		cacheRoot     string
		outputDir     string
		controlSocket string
		verbose       bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "start the daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			if verbose {
				logging.SetLevel(logrus.DebugLevel)
			}

			contract, err := parseContract(contractName)
			if err != nil {
				return err
			}

			d, err := daemon.New(daemon.Config{
				InterfaceName: ifaceName,
				Contract:      contract,
				CacheRoot:     cacheRoot,
				OutputDir:     outputDir,
				ControlSocket: controlSocket,
			})
			if err != nil {
				return fmt.Errorf("initialize daemon: %w", err)
			}

			if err := d.Bind(); err != nil {
				return fmt.Errorf("bind daemon sockets: %w", err)
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			server := control.NewServer(d)
			go server.Serve(ctx, d.ControlListener())

			return d.Serve(ctx)
		},
	}

	cmd.Flags().StringVar(&ifaceName, "interface", "", "network interface to discover and communicate on (required)")
	cmd.Flags().StringVar(&contractName, "contract", "bulk", "default QoS contract for outbound sessions: realtime, bulk, or background")
	cmd.Flags().StringVar(&cacheRoot, "cache-root", "", "override the run's cache directory (default: a temp directory per run)")
	cmd.Flags().StringVar(&outputDir, "output-dir", "", "directory reassembled files are written to (default: <cache-root>/files)")
	cmd.Flags().StringVar(&controlSocket, "control-socket", "", "path to the control Unix socket (default: <cache-root>/control.sock)")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "enable debug logging")
	cmd.MarkFlagRequired("interface")

	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("summitd %s (built %s, commit %s)\n", version, buildTime, commit)
		},
	}
}

func parseContract(name string) (uint8, error) {
	switch name {
	case "realtime":
		return constants.ContractRealtime, nil
	case "bulk":
		return constants.ContractBulk, nil
	case "background":
		return constants.ContractBackground, nil
	default:
		return 0, fmt.Errorf("unknown contract %q, want realtime, bulk, or background", name)
	}
}
