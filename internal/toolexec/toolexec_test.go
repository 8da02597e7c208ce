package toolexec

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunCaptureReturnsStdoutOnSuccess(t *testing.T) {
	stdout, stderr, exitCode, err := RunCapture(context.Background(), 0, "/bin/sh", "-c", "echo hello; echo world 1>&2")
	require.NoError(t, err)
	require.Equal(t, "hello\n", stdout)
	require.Equal(t, "world\n", stderr)
	require.Equal(t, 0, exitCode)
}

func TestRunCaptureReturnsExitCodeOnFailure(t *testing.T) {
	_, _, exitCode, err := RunCapture(context.Background(), 0, "/bin/sh", "-c", "exit 7")
	require.Error(t, err)
	require.Equal(t, 7, exitCode)
}

func TestRunCaptureTimesOut(t *testing.T) {
	_, _, exitCode, err := RunCapture(context.Background(), 20*time.Millisecond, "/bin/sh", "-c", "sleep 5")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, -1, exitCode)
}

func TestStartSupervisedForwardsOutputAndWait(t *testing.T) {
	proc, err := StartSupervised(context.Background(), discardLogger(), "T1", "/bin/sh", "-c", "echo line1; echo line2 1>&2")
	require.NoError(t, err)
	require.NoError(t, proc.Wait())
}

func TestStartSupervisedReturnsErrorFromWaitOnNonZeroExit(t *testing.T) {
	proc, err := StartSupervised(context.Background(), discardLogger(), "T1", "/bin/sh", "-c", "exit 3")
	require.NoError(t, err)
	require.Error(t, proc.Wait())
}
