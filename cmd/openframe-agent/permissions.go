package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openframe/agent/internal/agentconfig"
	"github.com/openframe/agent/internal/permcheck"
)

func buildCheckPermissionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-permissions",
		Short: "Audit the Agent's own filesystem permissions, without requiring root",
		RunE: func(cmd *cobra.Command, args []string) error {
			dirs, err := agentconfig.Resolve()
			if err != nil {
				return fmt.Errorf("check-permissions: resolve directories: %w", err)
			}

			report := permcheck.Run(dirs)

			out, err := json.MarshalIndent(report, "", "  ")
			if err != nil {
				return fmt.Errorf("check-permissions: encode report: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))

			// Non-fatal by design: findings are reported, never cause a
			// non-zero exit on their own.
			return nil
		},
	}
}
