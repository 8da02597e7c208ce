//go:build !windows

package selfupdate

import "fmt"

// launchWindowsHelper is unreachable on non-Windows platforms: Update
// returns ErrUnixUnsupported before calling it. It exists only so the
// package compiles for every GOOS.
func (u *Updater) launchWindowsHelper(stagedBinaryPath, targetVersion string) error {
	return fmt.Errorf("selfupdate: windows update helper is not available on this platform")
}
