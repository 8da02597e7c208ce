package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/openframe/agent/internal/agentconfig"
	"github.com/openframe/agent/internal/daemon"
	"github.com/openframe/agent/internal/registry"
	"github.com/openframe/agent/internal/uninstaller"
)

func buildUninstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall",
		Short: "Uninstall every managed tool and remove the Agent service",
		RunE: func(cmd *cobra.Command, args []string) error {
			dirs, err := agentconfig.Resolve()
			if err != nil {
				return fmt.Errorf("uninstall: resolve directories: %w", err)
			}

			initial, err := agentconfig.NewInitialStore(dirs).Load()
			serverHost := ""
			if err == nil {
				serverHost = initial.ServerHost
			}

			tools := registry.NewToolsRegistry(dirs.InstalledToolsPath())
			if err := uninstaller.New(dirs, serverHost, tools).Run(context.Background()); err != nil {
				return fmt.Errorf("uninstall: %w", err)
			}

			if manager := daemon.GetServiceManager(); manager != nil {
				if err := manager.Uninstall(nil); err != nil {
					return fmt.Errorf("uninstall: remove %s: %w", manager.Label(), err)
				}
			}

			if err := os.RemoveAll(dirs.AppSupport); err != nil {
				return fmt.Errorf("uninstall: remove app-support tree: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), "uninstalled")
			return nil
		},
	}
}
