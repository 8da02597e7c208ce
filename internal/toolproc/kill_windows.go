//go:build windows

package toolproc

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// terminateOne asks the process to exit via gopsutil (which maps to
// TerminateProcess with no graceful-shutdown concept on Windows), then
// force-kills if it is still around after the grace period.
func terminateOne(ctx context.Context, p *process.Process) {
	if err := p.TerminateWithContext(ctx); err != nil {
		_ = p.KillWithContext(ctx)
		return
	}
	waitForExit(ctx, p, 3*time.Second)
	if running, _ := p.IsRunningWithContext(ctx); running {
		_ = p.KillWithContext(ctx)
	}
}
