// Package toolproc implements the process-matching and kill logic shared
// by the tool run manager, tool uninstaller, and tool updater (C9, C12,
// C13, §4.6 "Kill pattern"). It walks the live process table with
// gopsutil/v4/process, the pack's standing ecosystem choice for
// cross-platform process enumeration.
package toolproc

import (
	"context"
	"runtime"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// ToolPattern returns the lowercase substring that identifies a tool's
// own agent binary in a process command line, using the platform's path
// separator to match how ToolAgentPath built the binary's actual path.
func ToolPattern(toolAgentID string) string {
	return toolPattern(toolAgentID, runtime.GOOS)
}

func toolPattern(toolAgentID, goos string) string {
	id := strings.ToLower(toolAgentID)
	if goos == "windows" {
		return id + `\agent`
	}
	return id + "/agent"
}

// AssetPattern returns the substring that identifies a tool's asset
// process in a process command line.
func AssetPattern(toolAgentID, assetID string) string {
	return assetPattern(toolAgentID, assetID, runtime.GOOS)
}

func assetPattern(toolAgentID, assetID, goos string) string {
	id := strings.ToLower(toolAgentID)
	asset := strings.ToLower(assetID)
	if goos == "windows" {
		return `\` + id + `\` + asset
	}
	return "/" + id + "/" + asset
}

// KillMatching terminates every running process whose lowercased command
// line contains pattern. ToolPattern/AssetPattern already emit the
// platform-appropriate separator, so callers never need to normalize it
// themselves. Tries a graceful terminate first, then falls back to a hard
// kill; terminateOne is platform-specific (kill_unix.go, kill_windows.go).
func KillMatching(ctx context.Context, pattern string) error {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return err
	}

	pattern = strings.ToLower(pattern)
	for _, p := range procs {
		cmdline, err := p.CmdlineWithContext(ctx)
		if err != nil {
			continue
		}
		if !strings.Contains(strings.ToLower(cmdline), pattern) {
			continue
		}
		terminateOne(ctx, p)
	}
	return nil
}

func waitForExit(ctx context.Context, p *process.Process, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		running, err := p.IsRunningWithContext(ctx)
		if err != nil || !running {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// IsFleetFamily reports whether toolAgentID belongs to the Fleet-family of
// tools, which co-install an osqueryd process that must be killed
// alongside the tool's own process on uninstall (§4.9 step 2).
func IsFleetFamily(toolAgentID string) bool {
	return strings.Contains(strings.ToLower(toolAgentID), "fleet")
}
