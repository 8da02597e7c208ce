package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/nats-io/nats.go"

	"github.com/openframe/agent/internal/agentconfig"
	"github.com/openframe/agent/internal/controlplane"
	"github.com/openframe/agent/internal/installer"
	"github.com/openframe/agent/internal/registry"
	"github.com/openframe/agent/internal/toolupdate"
	"github.com/openframe/agent/pkg/openframe"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeRunner struct{}

func (fakeRunner) RunNewTool(ctx context.Context, tool openframe.InstalledTool) {}

type fakeConnProber struct{}

func (fakeConnProber) RunNewTool(ctx context.Context, conn *nats.Conn, tool openframe.InstalledTool) {
}

// TestToolInstallationHandlerDispatchesByRegistrationState exercises the
// §4.5/§4.11 wiring-layer decision documented in DESIGN.md: a message for
// an unregistered tool installs, a message whose version differs from
// the registered one updates, and a message matching the registered
// version is a pure ack with no side effects.
func TestToolInstallationHandlerDispatchesByRegistrationState(t *testing.T) {
	root := t.TempDir()
	dirs := agentconfig.Dirs{
		AppSupport: filepath.Join(root, "app"),
		Secured:    filepath.Join(root, "secured"),
		Logs:       filepath.Join(root, "logs"),
	}
	require.NoError(t, dirs.Ensure())

	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.Write([]byte("binary-bytes"))
	}))
	defer srv.Close()

	client, err := controlplane.New(srv.URL, "")
	require.NoError(t, err)

	tools := registry.NewToolsRegistry(dirs.InstalledToolsPath())
	logger := discardLogger()

	in := installer.New(dirs, "M1", "api.example", client, nil, tools, fakeRunner{}, fakeConnProber{}, logger, nil)
	up := toolupdate.New(dirs, "M1", client, tools, logger)

	handler := toolInstallationHandler(in, up, tools, logger)

	// Step 1: install a not-yet-registered tool.
	err = handler(context.Background(), nil, openframe.ToolInstallationMessage{
		ToolAgentID: "T1", ToolID: "fleet", Version: "1.0",
	})
	require.NoError(t, err)
	require.Equal(t, 1, requests, "installing a new tool should fetch its binary exactly once")

	stored, ok, err := tools.Get("T1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "1.0", stored.Version)

	// Step 2: same version again — must be a pure ack, no further HTTP.
	err = handler(context.Background(), nil, openframe.ToolInstallationMessage{
		ToolAgentID: "T1", ToolID: "fleet", Version: "1.0",
	})
	require.NoError(t, err)
	require.Equal(t, 1, requests, "a repeat message at the same version must not re-fetch")

	// Step 3: a new version for the same tool routes to the updater.
	err = handler(context.Background(), nil, openframe.ToolInstallationMessage{
		ToolAgentID: "T1", ToolID: "fleet", Version: "2.0",
	})
	require.NoError(t, err)
	require.Equal(t, 2, requests, "a version bump should route to the updater and fetch once more")

	stored, ok, err = tools.Get("T1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "2.0", stored.Version)
}
