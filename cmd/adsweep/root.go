package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command for adsweep.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "adsweep",
		Short: "Find WhatsApp-driven ads on ad library pages",
		Long: `adsweep detects ad cards on ad library pages, classifies which of them
drive traffic to WhatsApp, and injects per-card controls for selection,
media download and offer bookmarking.

Pages come from saved HTML snapshots or from a live browser session.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")
	cmd.PersistentFlags().StringP("config", "c", "",
		"Configuration file path (default: .adsweep in current or home directory)")
	cmd.PersistentFlags().String("db-dir", "",
		"Directory of the settings and history database (default: XDG data directory)")

	cmd.AddCommand(NewScanCmd())
	cmd.AddCommand(NewWatchCmd())
	cmd.AddCommand(NewHistoryCmd())
	cmd.AddCommand(NewAuthCmd())
	cmd.AddCommand(NewInitCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
