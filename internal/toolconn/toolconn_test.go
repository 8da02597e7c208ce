package toolconn

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/openframe/agent/internal/agentconfig"
	"github.com/openframe/agent/internal/placeholder"
	"github.com/openframe/agent/internal/registry"
	"github.com/openframe/agent/pkg/openframe"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testManager(t *testing.T) (*Manager, *registry.ConnectionsRegistry) {
	root := t.TempDir()
	dirs := agentconfig.Dirs{AppSupport: filepath.Join(root, "app")}
	conns := registry.NewConnectionsRegistry(filepath.Join(root, "tool_connections.json"))
	return New(dirs, "M1", placeholder.Context{}, conns, discardLogger(), nil), conns
}

// TestRunNewToolSkipsAlreadyPublishedConnection covers the §8 invariant:
// a ToolConnection with published=true is never republished — the probe
// must not even claim the guard for a tool that already has one.
func TestRunNewToolSkipsAlreadyPublishedConnection(t *testing.T) {
	m, conns := testManager(t)
	require.NoError(t, conns.Upsert(openframe.ToolConnection{
		ToolAgentID: "T1", AgentToolID: "ATID-1", Published: true,
	}))

	m.RunNewTool(context.Background(), nil, openframe.InstalledTool{ToolAgentID: "T1"})
	require.False(t, m.guard.Has("T1"), "an already-published tool must never start a probe loop")
}

// TestRunNewToolClaimsGuardForUnpublishedTool covers the other half of
// the same invariant: a tool with no published connection gets its probe
// started exactly once.
func TestRunNewToolClaimsGuardForUnpublishedTool(t *testing.T) {
	m, _ := testManager(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel() // already-done context keeps probeLoop from running an iteration

	m.RunNewTool(ctx, nil, openframe.InstalledTool{ToolAgentID: "T1"})
	require.True(t, m.guard.Has("T1"))

	require.False(t, m.guard.Claim("T1"), "a second RunNewTool for the same tool must not re-probe")
}

// TestRunNewToolTreatsRegistryReadErrorAsUnpublished mirrors the
// production fallback in RunNewTool: if the connections registry can't
// be read, the probe still proceeds rather than silently never probing.
func TestRunNewToolTreatsRegistryReadErrorAsUnpublished(t *testing.T) {
	root := t.TempDir()
	dirs := agentconfig.Dirs{AppSupport: filepath.Join(root, "app")}
	// Point the registry at a directory, not a file, so Get() fails.
	conns := registry.NewConnectionsRegistry(root)
	m := New(dirs, "M1", placeholder.Context{}, conns, discardLogger(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m.RunNewTool(ctx, nil, openframe.InstalledTool{ToolAgentID: "T1"})
	require.True(t, m.guard.Has("T1"))
}
