package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/openframe/agent/internal/agentconfig"
	"github.com/openframe/agent/internal/daemon"
	"github.com/openframe/agent/pkg/openframe"
)

func buildInstallCmd() *cobra.Command {
	var (
		serverURL       string
		initialKey      string
		orgID           string
		localMode       bool
		localCACertPath string
	)

	cmd := &cobra.Command{
		Use:   "install",
		Short: "Enroll this host and install the Agent as a system service",
		RunE: func(cmd *cobra.Command, args []string) error {
			if serverURL == "" {
				return fmt.Errorf("install: --serverUrl is required")
			}
			if initialKey == "" {
				return fmt.Errorf("install: --initialKey is required")
			}

			dirs, err := agentconfig.Resolve()
			if err != nil {
				return fmt.Errorf("install: resolve directories: %w", err)
			}
			if err := dirs.Ensure(); err != nil {
				return fmt.Errorf("install: create directories: %w", err)
			}

			initialStore := agentconfig.NewInitialStore(dirs)
			if err := initialStore.Save(openframe.InitialConfiguration{
				ServerHost:      serverURL,
				InitialKey:      initialKey,
				LocalMode:       localMode,
				OrgID:           orgID,
				LocalCACertPath: localCACertPath,
			}); err != nil {
				return fmt.Errorf("install: write initial configuration: %w", err)
			}

			manager := daemon.GetServiceManager()
			if manager == nil {
				return fmt.Errorf("install: no service manager for this platform")
			}

			selfPath, err := os.Executable()
			if err != nil {
				return fmt.Errorf("install: resolve own executable path: %w", err)
			}

			result, err := manager.Install(daemon.InstallOptions{
				ProgramArguments: []string{selfPath, "run-as-service"},
				WorkingDirectory: dirs.AppSupport,
				Description:      "OpenFrame Agent",
			})
			if err != nil {
				return fmt.Errorf("install: install %s: %w", manager.Label(), err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "installed %s at %s\n", manager.Label(), result.Path)
			return nil
		},
	}

	cmd.Flags().StringVar(&serverURL, "serverUrl", "", "control plane host (required)")
	cmd.Flags().StringVar(&initialKey, "initialKey", "", "one-shot enrollment key (required)")
	cmd.Flags().StringVar(&orgID, "orgId", "", "organization id to register under")
	cmd.Flags().BoolVar(&localMode, "localMode", false, "trust only localCACertPath instead of the system root store")
	cmd.Flags().StringVar(&localCACertPath, "localCACertPath", "", "PEM file to trust in local mode")

	return cmd
}
