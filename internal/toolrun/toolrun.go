// Package toolrun implements the tool run manager (C9, §4.6): one
// supervisor goroutine per installed tool that keeps its agent binary
// running for the process lifetime, restarting it 5 s after any exit.
package toolrun

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"github.com/openframe/agent/internal/agentconfig"
	"github.com/openframe/agent/internal/infra"
	"github.com/openframe/agent/internal/observability"
	"github.com/openframe/agent/internal/placeholder"
	"github.com/openframe/agent/internal/toolexec"
	"github.com/openframe/agent/internal/toolproc"
	"github.com/openframe/agent/pkg/openframe"
)

// RestartDelay is the fixed pause between a tool's exit and its restart
// (§4.6 step 5).
const RestartDelay = 5 * time.Second

// Manager supervises every installed tool's agent process.
type Manager struct {
	dirs    agentconfig.Dirs
	ctx     placeholder.Context
	logger  *slog.Logger
	metrics *observability.Metrics

	guard infra.GuardSet[string]
}

// New builds a Manager. ctx carries the placeholder-resolution values
// (server host, shared-token path, app-support dir) shared across tools.
// metrics may be nil in tests.
func New(dirs agentconfig.Dirs, ctx placeholder.Context, logger *slog.Logger, metrics *observability.Metrics) *Manager {
	return &Manager{dirs: dirs, ctx: ctx, logger: logger, metrics: metrics}
}

// Run starts a supervisor for every tool in tools not already supervised.
func (m *Manager) Run(runCtx context.Context, tools []openframe.InstalledTool) {
	for _, t := range tools {
		m.RunNewTool(runCtx, t)
	}
}

// RunNewTool starts a supervisor for a single freshly installed tool,
// guarded so a tool is supervised at most once per agent lifetime.
func (m *Manager) RunNewTool(runCtx context.Context, tool openframe.InstalledTool) {
	if !m.guard.Claim(tool.ToolAgentID) {
		return
	}
	go m.supervise(runCtx, tool)
}

func (m *Manager) supervise(runCtx context.Context, tool openframe.InstalledTool) {
	toolCtx := m.ctx
	toolCtx.ToolAgentID = tool.ToolAgentID

	pattern := toolproc.ToolPattern(tool.ToolAgentID)
	agentPath := m.dirs.ToolAgentPath(tool.ToolAgentID)

	first := true
	for {
		if !first && m.metrics != nil {
			m.metrics.ToolProcessRestarts.WithLabelValues(tool.ToolAgentID).Inc()
		}
		first = false

		if err := toolproc.KillMatching(runCtx, pattern); err != nil {
			m.logger.Warn("pre-kill lingering tool process failed", "tool_agent_id", tool.ToolAgentID, "error", err)
		}

		args := placeholder.ResolveArgs(tool.RunCommandArgs, toolCtx)

		err := m.spawnAndWait(runCtx, tool, agentPath, args)
		if err != nil {
			m.logger.Warn("tool process exited", "tool_agent_id", tool.ToolAgentID, "error", err)
		} else {
			m.logger.Info("tool process exited", "tool_agent_id", tool.ToolAgentID)
		}

		select {
		case <-runCtx.Done():
			return
		case <-time.After(RestartDelay):
		}
	}
}

// spawnAndWait launches the tool process and blocks until it exits. On
// Windows, CONSOLE/USER session tools need a console-session-bound spawn
// (create-process-as-user against the active console session's user
// token, see spawnConsoleSession) instead of a plain child process, since
// a service runs in its own isolated session with no console or desktop.
func (m *Manager) spawnAndWait(ctx context.Context, tool openframe.InstalledTool, agentPath string, args []string) error {
	if runtime.GOOS == "windows" && needsConsoleSession(tool) {
		return m.spawnConsoleSession(ctx, tool, agentPath, args)
	}

	proc, err := toolexec.StartSupervised(ctx, m.logger, tool.ToolAgentID, agentPath, args...)
	if err != nil {
		return err
	}
	return proc.Wait()
}

func needsConsoleSession(tool openframe.InstalledTool) bool {
	return tool.SessionType == openframe.SessionConsole || tool.SessionType == openframe.SessionUser
}
