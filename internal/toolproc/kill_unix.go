//go:build !windows

package toolproc

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v4/process"
	"golang.org/x/sys/unix"
)

// terminateOne sends SIGTERM directly via unix.Kill, waits for exit, and
// escalates to SIGKILL if the process is still alive after the grace
// period. gopsutil's generic TerminateWithContext also resolves to SIGTERM
// on these platforms, but going through unix.Kill directly lets it target
// a pid without gopsutil re-reading /proc for a process that may already
// be gone, and makes the SIGKILL escalation explicit.
func terminateOne(ctx context.Context, p *process.Process) {
	pid := p.Pid
	if err := unix.Kill(int(pid), unix.SIGTERM); err != nil {
		_ = unix.Kill(int(pid), unix.SIGKILL)
		return
	}
	waitForExit(ctx, p, 3*time.Second)
	if running, _ := p.IsRunningWithContext(ctx); running {
		_ = unix.Kill(int(pid), unix.SIGKILL)
	}
}
