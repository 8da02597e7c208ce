// Package toolconn implements the tool connection processor (C10, §4.8):
// for each installed tool, probe its identity by running its agent
// binary with the tool-agent-id command args until it prints one, then
// publish that identity to the bus exactly once per agent lifetime.
package toolconn

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/openframe/agent/internal/agentconfig"
	"github.com/openframe/agent/internal/bus"
	"github.com/openframe/agent/internal/infra"
	"github.com/openframe/agent/internal/observability"
	"github.com/openframe/agent/internal/placeholder"
	"github.com/openframe/agent/internal/registry"
	"github.com/openframe/agent/internal/toolexec"
	"github.com/openframe/agent/pkg/openframe"

	"github.com/nats-io/nats.go"
)

const (
	probeInterval = 15 * time.Second
	probeTimeout  = 15 * time.Second
)

// Manager runs the per-tool identity probe loop.
type Manager struct {
	dirs        agentconfig.Dirs
	machineID   string
	placeholder placeholder.Context
	connections *registry.ConnectionsRegistry
	logger      *slog.Logger
	metrics     *observability.Metrics

	guard infra.GuardSet[string]
}

// New builds a Manager. metrics may be nil in tests.
func New(dirs agentconfig.Dirs, machineID string, ph placeholder.Context, connections *registry.ConnectionsRegistry, logger *slog.Logger, metrics *observability.Metrics) *Manager {
	return &Manager{dirs: dirs, machineID: machineID, placeholder: ph, connections: connections, logger: logger, metrics: metrics}
}

func (m *Manager) recordProbe(toolAgentID, outcome string) {
	if m.metrics != nil {
		m.metrics.ConnectionProbeTotal.WithLabelValues(toolAgentID, outcome).Inc()
	}
}

// RunNewTool starts the identity-probe loop for a single tool, unless it
// already has a published connection or a probe is already running for
// it (§4.8 step 1, the "exactly once per lifetime" guard).
func (m *Manager) RunNewTool(ctx context.Context, conn *nats.Conn, tool openframe.InstalledTool) {
	published, err := m.connections.Published(tool.ToolAgentID)
	if err != nil {
		m.logger.Warn("toolconn: read connection registry failed", "tool_agent_id", tool.ToolAgentID, "error", err)
	}
	if published {
		return
	}
	if !m.guard.Claim(tool.ToolAgentID) {
		return
	}
	go m.probeLoop(ctx, conn, tool)
}

func (m *Manager) probeLoop(ctx context.Context, conn *nats.Conn, tool openframe.InstalledTool) {
	toolCtx := m.placeholder
	toolCtx.ToolAgentID = tool.ToolAgentID
	agentPath := m.dirs.ToolAgentPath(tool.ToolAgentID)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		args := placeholder.ResolveArgs(tool.ToolAgentIDCommandArgs, toolCtx)
		stdout, _, _, err := toolexec.RunCapture(ctx, probeTimeout, agentPath, args...)
		if err != nil {
			m.recordProbe(tool.ToolAgentID, "error")
			m.sleep(ctx)
			continue
		}

		agentToolID := strings.TrimSpace(stdout)
		if agentToolID == "" {
			m.recordProbe(tool.ToolAgentID, "empty")
			m.sleep(ctx)
			continue
		}

		msg := openframe.ToolConnectionMessage{
			ToolType:    tool.ToolType,
			AgentToolID: agentToolID,
		}
		if err := bus.Publish(conn, bus.Subject(m.machineID, "tool-connection"), msg); err != nil {
			m.recordProbe(tool.ToolAgentID, "publish_error")
			m.logger.Warn("toolconn: publish failed, retrying", "tool_agent_id", tool.ToolAgentID, "error", err)
			m.sleep(ctx)
			continue
		}

		if err := m.connections.Upsert(openframe.ToolConnection{
			ToolAgentID: tool.ToolAgentID,
			AgentToolID: agentToolID,
			Published:   true,
		}); err != nil {
			m.logger.Error("toolconn: persist connection failed", "tool_agent_id", tool.ToolAgentID, "error", err)
		}

		m.recordProbe(tool.ToolAgentID, "success")

		// §4.8 step explicitly says "sleep 15s and exit the loop" — the
		// probe never runs again for this tool once published.
		m.sleep(ctx)
		return
	}
}

func (m *Manager) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(probeInterval):
	}
}
