package selfupdate

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/openframe/agent/internal/agentconfig"
	"github.com/openframe/agent/internal/restart"
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

func TestValidVersion(t *testing.T) {
	cases := []struct {
		version string
		want    bool
	}{
		{"1.2.3", true},
		{"2024.01.15-beta", true},
		{"1", true},
		{"", false},
		{"v1.2.3", false},
		{"1.2.3 ", false},
		{"latest", false},
	}
	for _, tt := range cases {
		got := validVersion(tt.version)
		if got != tt.want {
			t.Errorf("validVersion(%q) = %v, want %v", tt.version, got, tt.want)
		}
	}
}

// TestUpdateAcksWithoutFetchingWhenVersionMatchesCurrent covers the §8
// boundary and the §9 open question: a self-update message whose version
// equals the running binary's own version must ack (return nil) without
// touching the download path or the client-info file — this is how the
// not-yet-acked redelivery loop from a prior in-flight update terminates.
func TestUpdateAcksWithoutFetchingWhenVersionMatchesCurrent(t *testing.T) {
	dirs := testDirs(t)
	clientInfo := agentconfig.NewClientInfoStore(dirs)

	u := New("M1", dirs, clientInfo, "1.5.0", discardLogger(), nil)

	err := u.Update(context.Background(), nil, openframe.OpenFrameClientUpdateMessage{Version: "1.5.0"})
	require.NoError(t, err)

	info, err := clientInfo.Load()
	require.NoError(t, err)
	require.Empty(t, info.Status, "matching-version short-circuit must not write client-info status")
}

func TestUpdateRejectsInvalidVersionString(t *testing.T) {
	dirs := testDirs(t)
	clientInfo := agentconfig.NewClientInfoStore(dirs)
	u := New("M1", dirs, clientInfo, "1.5.0", discardLogger(), nil)

	err := u.Update(context.Background(), nil, openframe.OpenFrameClientUpdateMessage{Version: "not-valid!"})
	require.ErrorIs(t, err, ErrVersionInvalid)
}

// TestUpdateFailsWhenNoDownloadConfigurationMatchesOS covers the §8
// boundary for the agent's own self-update path, symmetric to the tool
// installer's equivalent case.
func TestUpdateFailsWhenNoDownloadConfigurationMatchesOS(t *testing.T) {
	dirs := testDirs(t)
	clientInfo := agentconfig.NewClientInfoStore(dirs)
	u := New("M1", dirs, clientInfo, "1.5.0", discardLogger(), nil)

	err := u.Update(context.Background(), nil, openframe.OpenFrameClientUpdateMessage{
		Version: "2.0.0",
		DownloadConfigurations: []openframe.DownloadConfiguration{
			{OS: "nonexistent-os", FileName: "agent.tar.gz", AgentFileName: "agent"},
		},
	})
	require.Error(t, err)

	info, err := clientInfo.Load()
	require.NoError(t, err)
	require.Equal(t, openframe.ClientUpdateFailed, info.Status)
	require.Equal(t, "2.0.0", info.TargetVersion)
}

// TestReportBootMarksUpdateCompleteFromSentinel covers the handoff
// between an exiting process that just wrote the sentinel and the new
// process the service manager starts in its place: the new process must
// read the sentinel back, mark the update complete in ClientInfo, and
// remove the sentinel so it isn't acted on twice.
func TestReportBootMarksUpdateCompleteFromSentinel(t *testing.T) {
	dirs := testDirs(t)
	clientInfo := agentconfig.NewClientInfoStore(dirs)
	require.NoError(t, clientInfo.Save(openframe.ClientInfo{
		CurrentVersion: "1.5.0",
		TargetVersion:  "2.0.0",
		Status:         openframe.ClientUpdateUpdating,
	}))
	require.NoError(t, restart.WriteSentinel(dirs.Secured, restart.SentinelPayload{
		Kind:    restart.KindUpdate,
		Status:  restart.StatusOK,
		Version: "2.0.0",
	}))

	ReportBoot(dirs, clientInfo, "2.0.0", discardLogger())

	info, err := clientInfo.Load()
	require.NoError(t, err)
	require.Equal(t, openframe.ClientUpdateUpdated, info.Status)
	require.Equal(t, "2.0.0", info.CurrentVersion)

	sentinel, err := restart.ReadSentinel(dirs.Secured)
	require.NoError(t, err)
	require.Nil(t, sentinel, "the sentinel must be consumed, not left behind")
}

// TestReportBootMarksUpdateFailedFromSentinel covers the failure branch:
// a sentinel written with a non-OK status reports failure instead of
// silently claiming success.
func TestReportBootMarksUpdateFailedFromSentinel(t *testing.T) {
	dirs := testDirs(t)
	clientInfo := agentconfig.NewClientInfoStore(dirs)
	require.NoError(t, restart.WriteSentinel(dirs.Secured, restart.SentinelPayload{
		Kind:    restart.KindUpdate,
		Status:  restart.StatusError,
		Version: "2.0.0",
		Message: "helper failed",
	}))

	ReportBoot(dirs, clientInfo, "1.5.0", discardLogger())

	info, err := clientInfo.Load()
	require.NoError(t, err)
	require.Equal(t, openframe.ClientUpdateFailed, info.Status)
}

// TestReportBootIsANoOpWithoutASentinel covers the ordinary boot path,
// which is every boot except the one right after a self-update.
func TestReportBootIsANoOpWithoutASentinel(t *testing.T) {
	dirs := testDirs(t)
	clientInfo := agentconfig.NewClientInfoStore(dirs)

	ReportBoot(dirs, clientInfo, "1.5.0", discardLogger())

	info, err := clientInfo.Load()
	require.NoError(t, err)
	require.Empty(t, info.Status)
}
