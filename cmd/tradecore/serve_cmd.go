package main

import (
	"github.com/spf13/cobra"

	"github.com/gannquant/tradecore/internal/config"
	"github.com/gannquant/tradecore/internal/metrics"
)

func newServeCmd() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the observability endpoints (/metrics, /health)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			addr, _ := cmd.Flags().GetString("addr")
			if addr == "" {
				addr = cfg.MetricsAddr
			}
			return metrics.NewRegistry().Serve(addr)
		},
	}
	serveCmd.Flags().String("addr", "", "Listen address (defaults to metrics_addr from config)")
	return serveCmd
}
