//go:build !windows

package toolrun

import (
	"context"

	"github.com/openframe/agent/internal/toolexec"
	"github.com/openframe/agent/pkg/openframe"
)

// spawnConsoleSession is unreachable on non-Windows platforms:
// needsConsoleSession only returns true under a Windows build.
func (m *Manager) spawnConsoleSession(ctx context.Context, tool openframe.InstalledTool, agentPath string, args []string) error {
	proc, err := toolexec.StartSupervised(ctx, m.logger, tool.ToolAgentID, agentPath, args...)
	if err != nil {
		return err
	}
	return proc.Wait()
}
