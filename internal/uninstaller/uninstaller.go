// Package uninstaller implements the tool uninstaller (C13, §4.9),
// invoked once during Agent uninstall: kill every installed tool's
// processes, run each tool's own uninstall command, and abort the whole
// uninstall on the first command that fails.
package uninstaller

import (
	"context"
	"fmt"

	"github.com/openframe/agent/internal/agentconfig"
	"github.com/openframe/agent/internal/placeholder"
	"github.com/openframe/agent/internal/registry"
	"github.com/openframe/agent/internal/toolexec"
	"github.com/openframe/agent/internal/toolproc"
	"github.com/openframe/agent/pkg/openframe"
)

// Uninstaller runs the §4.9 procedure over every registered tool.
type Uninstaller struct {
	dirs       agentconfig.Dirs
	serverHost string
	tools      *registry.ToolsRegistry
}

// New builds an Uninstaller.
func New(dirs agentconfig.Dirs, serverHost string, tools *registry.ToolsRegistry) *Uninstaller {
	return &Uninstaller{dirs: dirs, serverHost: serverHost, tools: tools}
}

// Run iterates the installed-tools registry in order (§4.9). A non-zero
// uninstall command exit aborts the whole uninstall and the error is
// surfaced to the CLI (§7.7); no file removal happens here — the caller
// removes the app-support tree wholesale once this returns successfully.
func (u *Uninstaller) Run(ctx context.Context) error {
	tools, err := u.tools.List()
	if err != nil {
		return fmt.Errorf("uninstaller: list installed tools: %w", err)
	}

	for _, tool := range tools {
		if err := u.uninstallOne(ctx, tool); err != nil {
			return fmt.Errorf("uninstaller: tool %s: %w", tool.ToolAgentID, err)
		}
	}
	return nil
}

func (u *Uninstaller) uninstallOne(ctx context.Context, tool openframe.InstalledTool) error {
	pattern := toolproc.ToolPattern(tool.ToolAgentID)
	if err := toolproc.KillMatching(ctx, pattern); err != nil {
		return fmt.Errorf("kill tool processes: %w", err)
	}

	if toolproc.IsFleetFamily(tool.ToolAgentID) {
		osqueryPattern := toolproc.AssetPattern(tool.ToolAgentID, "osqueryd")
		if err := toolproc.KillMatching(ctx, osqueryPattern); err != nil {
			return fmt.Errorf("kill osqueryd: %w", err)
		}
	}

	if len(tool.UninstallationCommandArgs) == 0 {
		return nil
	}

	phCtx := placeholder.Context{
		ServerHost:      u.serverHost,
		ToolAgentID:     tool.ToolAgentID,
		SharedTokenPath: u.dirs.SharedTokenPath(),
		AppSupportDir:   u.dirs.AppSupport,
	}
	args := placeholder.ResolveArgs(tool.UninstallationCommandArgs, phCtx)
	agentPath := u.dirs.ToolAgentPath(tool.ToolAgentID)

	stdout, stderr, exitCode, err := toolexec.RunCapture(ctx, 0, agentPath, args...)
	if err != nil {
		return fmt.Errorf("uninstall command exited %d: %w (stdout=%q stderr=%q)", exitCode, err, stdout, stderr)
	}
	return nil
}
