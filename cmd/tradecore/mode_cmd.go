package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gannquant/tradecore/internal/config"
	"github.com/gannquant/tradecore/internal/mode"
)

func newModeCmd() *cobra.Command {
	modeCmd := &cobra.Command{
		Use:   "mode",
		Short: "Inspect and switch the global operating mode",
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show the current mode and allowed transitions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			controller, err := loadController(cmd)
			if err != nil {
				return err
			}
			return printJSON(controller.Status())
		},
	}

	switchCmd := &cobra.Command{
		Use:   "switch",
		Short: "Switch the global operating mode",
		RunE: func(cmd *cobra.Command, _ []string) error {
			target, _ := cmd.Flags().GetInt("to")
			reason, _ := cmd.Flags().GetString("reason")
			by, _ := cmd.Flags().GetString("by")
			force, _ := cmd.Flags().GetBool("force")

			controller, err := loadController(cmd)
			if err != nil {
				return err
			}
			result := controller.SwitchMode(mode.Mode(target), reason, by, force)
			if err := printJSON(result); err != nil {
				return err
			}
			if !result.Success && !result.PendingApproval {
				return fmt.Errorf("mode switch rejected: %s", result.Reason)
			}
			return nil
		},
	}
	switchCmd.Flags().Int("to", int(mode.Hybrid), "Target mode (0-4)")
	switchCmd.Flags().String("reason", "", "Reason for the switch")
	switchCmd.Flags().String("by", "user", "Initiator (user, system, regime_agent)")
	switchCmd.Flags().Bool("force", false, "Bypass transition validation")
	_ = switchCmd.MarkFlagRequired("reason")

	revertCmd := &cobra.Command{
		Use:   "revert",
		Short: "Emergency revert to RULE_ONLY",
		RunE: func(cmd *cobra.Command, _ []string) error {
			reason, _ := cmd.Flags().GetString("reason")
			controller, err := loadController(cmd)
			if err != nil {
				return err
			}
			return printJSON(controller.EmergencyRevert(reason))
		},
	}
	revertCmd.Flags().String("reason", "manual kill switch", "Reason for the revert")

	modeCmd.AddCommand(statusCmd, switchCmd, revertCmd)
	return modeCmd
}

func loadController(cmd *cobra.Command) (*mode.Controller, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return mode.NewController(mode.NewFileStore(cfg.ModeStatePath), nil), nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
