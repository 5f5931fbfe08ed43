package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/paw-chain/poc/app"
)

const (
	flagAPIAddress     = "api.address"
	flagAPIEnable      = "api.enable"
	flagStorageBackend = "storage.backend"
	flagEpochDuration  = "epoch.duration"
	flagDevnetPeers    = "devnet.peers"
	flagMetricsAddr    = "telemetry.metrics_addr"
)

// StartCmd runs the node until interrupted.
func StartCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Run the contribution node",
		Long: `Run the contribution node: the epoch clock, the HTTP API and, when enabled,
the Prometheus metrics endpoint. Missing proving keys are generated on first
start when zk.auto_setup is set.

Example:
  pocd start --home ~/.pocd --api.address 0.0.0.0:1318
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			applyFlags(v, cmd.Flags(), map[string]string{
				flagAPIAddress:     "api.address",
				flagAPIEnable:      "api.enable",
				flagStorageBackend: "storage.backend",
				flagEpochDuration:  "epoch.duration",
				flagDevnetPeers:    "devnet.peers",
				flagMetricsAddr:    "telemetry.metrics_addr",
			})
			cfg, err := loadConfig(cmd, v)
			if err != nil {
				return err
			}
			logger, err := app.NewLogger(cfg.Log, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmdContext(cmd), os.Interrupt, syscall.SIGTERM)
			defer stop()

			node, err := app.NewNode(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer func() {
				closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				if err := node.Close(closeCtx); err != nil {
					logger.Error("failed to close node", "error", err)
				}
			}()

			if cfg.Telemetry.PrometheusEnabled && cfg.Telemetry.MetricsAddr != "" {
				StartPrometheusServer(ctx, cfg.Telemetry.MetricsAddr, logger)
			}
			return node.Start(ctx)
		},
	}

	cmd.Flags().String(flagAPIAddress, "", "API listen address")
	cmd.Flags().Bool(flagAPIEnable, true, "serve the HTTP API")
	cmd.Flags().String(flagStorageBackend, "", "storage backend (goleveldb|memdb)")
	cmd.Flags().Duration(flagEpochDuration, 0, "epoch length")
	cmd.Flags().Int(flagDevnetPeers, 0, "number of loopback attesters")
	cmd.Flags().String(flagMetricsAddr, "", "Prometheus listen address")
	return cmd
}
