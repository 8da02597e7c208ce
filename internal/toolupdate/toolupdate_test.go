package toolupdate

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/openframe/agent/internal/agentconfig"
	"github.com/openframe/agent/internal/controlplane"
	"github.com/openframe/agent/internal/registry"
	"github.com/openframe/agent/pkg/openframe"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testDirs(t *testing.T) agentconfig.Dirs {
	root := t.TempDir()
	dirs := agentconfig.Dirs{
		AppSupport: filepath.Join(root, "app"),
		Secured:    filepath.Join(root, "secured"),
		Logs:       filepath.Join(root, "logs"),
	}
	require.NoError(t, dirs.Ensure())
	return dirs
}

func TestUpdateIsNoOpWhenVersionMatches(t *testing.T) {
	dirs := testDirs(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected HTTP call to %s for a no-op version match", r.URL.Path)
	}))
	defer srv.Close()

	client, err := controlplane.New(srv.URL, "")
	require.NoError(t, err)

	tools := registry.NewToolsRegistry(dirs.InstalledToolsPath())
	require.NoError(t, tools.Upsert(openframe.InstalledTool{ToolAgentID: "T1", Version: "1.0", Status: openframe.ToolStatusInstalled}))

	up := New(dirs, "M1", client, tools, discardLogger())
	err = up.Update(context.Background(), nil, openframe.ToolInstallationMessage{ToolAgentID: "T1", Version: "1.0"})
	require.NoError(t, err)

	stored, ok, err := tools.Get("T1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "1.0", stored.Version)
}

func TestUpdateFailsForUnregisteredTool(t *testing.T) {
	dirs := testDirs(t)
	client, err := controlplane.New("https://unused.example", "")
	require.NoError(t, err)

	tools := registry.NewToolsRegistry(dirs.InstalledToolsPath())
	up := New(dirs, "M1", client, tools, discardLogger())

	err = up.Update(context.Background(), nil, openframe.ToolInstallationMessage{ToolAgentID: "T1", Version: "2.0"})
	require.Error(t, err)
}

func TestUpdateSwapsBinaryAndPersistsNewVersion(t *testing.T) {
	dirs := testDirs(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("new-binary-bytes"))
	}))
	defer srv.Close()

	client, err := controlplane.New(srv.URL, "")
	require.NoError(t, err)

	require.NoError(t, os.MkdirAll(dirs.ToolDir("T1"), 0o755))
	require.NoError(t, os.WriteFile(dirs.ToolAgentPath("T1"), []byte("old-binary"), 0o755))

	tools := registry.NewToolsRegistry(dirs.InstalledToolsPath())
	require.NoError(t, tools.Upsert(openframe.InstalledTool{ToolAgentID: "T1", Version: "1.0", Status: openframe.ToolStatusInstalled}))

	up := New(dirs, "M1", client, tools, discardLogger())
	err = up.Update(context.Background(), nil, openframe.ToolInstallationMessage{ToolAgentID: "T1", Version: "2.0"})
	require.NoError(t, err)

	data, err := os.ReadFile(dirs.ToolAgentPath("T1"))
	require.NoError(t, err)
	require.Equal(t, "new-binary-bytes", string(data))

	stored, ok, err := tools.Get("T1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "2.0", stored.Version)

	_, statErr := os.Stat(dirs.ToolAgentPath("T1") + ".bak")
	require.True(t, os.IsNotExist(statErr), "backup file must be removed after a successful update")
}

func TestUpdateRestoresBackupWhenFetchFails(t *testing.T) {
	dirs := testDirs(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client, err := controlplane.New(srv.URL, "")
	require.NoError(t, err)

	require.NoError(t, os.MkdirAll(dirs.ToolDir("T1"), 0o755))
	require.NoError(t, os.WriteFile(dirs.ToolAgentPath("T1"), []byte("old-binary"), 0o755))

	tools := registry.NewToolsRegistry(dirs.InstalledToolsPath())
	require.NoError(t, tools.Upsert(openframe.InstalledTool{ToolAgentID: "T1", Version: "1.0", Status: openframe.ToolStatusInstalled}))

	up := New(dirs, "M1", client, tools, discardLogger())
	err = up.Update(context.Background(), nil, openframe.ToolInstallationMessage{ToolAgentID: "T1", Version: "2.0"})
	require.Error(t, err)

	data, err := os.ReadFile(dirs.ToolAgentPath("T1"))
	require.NoError(t, err)
	require.Equal(t, "old-binary", string(data), "a failed fetch must restore the previous binary")

	stored, ok, err := tools.Get("T1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "1.0", stored.Version, "a failed update must not bump the registered version")
}
