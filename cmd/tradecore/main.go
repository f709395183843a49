package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const (
	appName = "tradecore"
	version = "v1.2.0"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Trading decision control plane",
		Version: version,
		Long: `tradecore is the decision control plane for the trading system:
a global operating-mode state machine, mode-dependent signal routing,
tail-risk gated pre-trade validation, and reliable order submission.`,
	}

	rootCmd.PersistentFlags().String("config", "config/tradecore.yaml", "Path to configuration file")

	rootCmd.AddCommand(newModeCmd())
	rootCmd.AddCommand(newStressCmd())
	rootCmd.AddCommand(newServeCmd())

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}
