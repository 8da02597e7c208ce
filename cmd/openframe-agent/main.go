// Package main provides the CLI entry point for the OpenFrame Agent: a
// privileged endpoint service that enrolls a host with the OpenFrame
// control plane, subscribes to its per-machine command bus, and installs,
// runs, updates, and removes third-party tools on the control plane's
// behalf.
//
// Subcommands: install, uninstall, run, run-as-service (internal),
// check-permissions (internal). All but check-permissions require
// root/admin (spec §6).
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "openframe-agent",
		Short:         "OpenFrame Agent — endpoint service for the OpenFrame control plane",
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		buildInstallCmd(),
		buildUninstallCmd(),
		buildRunCmd(),
		buildRunAsServiceCmd(),
		buildCheckPermissionsCmd(),
	)

	return rootCmd
}

// baseLogger builds the stderr logger used before the agent's own
// configured logger (which needs <logs>/openframe.log, available only
// after directories are resolved) is constructed.
func baseLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
}
