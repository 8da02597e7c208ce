//go:build windows

package selfupdate

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
)

// launchWindowsHelper writes a self-contained PowerShell script that
// stops the OpenFrame service, backs up the running executable, installs
// stagedBinaryPath in its place, restarts the service, verifies it
// reaches RUNNING within 30s, and rolls back on failure (§4.10 step 5).
// It is launched detached, no window, via powershell.exe so it survives
// this process's exit.
func (u *Updater) launchWindowsHelper(stagedBinaryPath, targetVersion string) error {
	scriptPath, err := writeHelperScript(u.dirs.AppSupport, stagedBinaryPath, targetVersion)
	if err != nil {
		return fmt.Errorf("write helper script: %w", err)
	}

	cmd := exec.Command("powershell.exe",
		"-NoProfile", "-NonInteractive", "-WindowStyle", "Hidden",
		"-ExecutionPolicy", "Bypass",
		"-File", scriptPath,
	)
	configureDetached(cmd)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start helper: %w", err)
	}
	// Intentionally not waited on: the helper outlives this process.
	return nil
}

// configureDetached sets the process-creation flags so the helper runs
// detached with no console window, surviving this process's exit.
func configureDetached(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		HideWindow:    true,
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP | 0x08000000, // + CREATE_NO_WINDOW
	}
}

const helperScriptTemplate = `$ErrorActionPreference = "Stop"
$service = "OpenFrameAgent"
$target = "%s"
$staged = "%s"
$backup = "$target.bak"

Stop-Service -Name $service -Force
Copy-Item -Path $target -Destination $backup -Force
try {
    Copy-Item -Path $staged -Destination $target -Force
    Start-Service -Name $service
    $deadline = (Get-Date).AddSeconds(30)
    while ((Get-Date) -lt $deadline) {
        $svc = Get-Service -Name $service
        if ($svc.Status -eq "Running") {
            Remove-Item -Path $backup -Force -ErrorAction SilentlyContinue
            Remove-Item -Path $staged -Force -ErrorAction SilentlyContinue
            exit 0
        }
        Start-Sleep -Milliseconds 500
    }
    throw "service did not reach Running within 30s"
} catch {
    Copy-Item -Path $backup -Destination $target -Force
    Start-Service -Name $service -ErrorAction SilentlyContinue
    exit 1
}
`

// writeHelperScript renders helperScriptTemplate into appSupportDir and
// returns its path.
func writeHelperScript(appSupportDir, stagedBinaryPath, targetVersion string) (string, error) {
	scriptPath := filepath.Join(appSupportDir, "openframe-update-helper.ps1")
	content := fmt.Sprintf(helperScriptTemplate, targetExecutablePath(), stagedBinaryPath)
	if err := os.WriteFile(scriptPath, []byte(content), 0o700); err != nil {
		return "", err
	}
	return scriptPath, nil
}

// targetExecutablePath returns the path of the currently running Agent
// binary, which the helper script swaps out.
func targetExecutablePath() string {
	path, err := os.Executable()
	if err != nil {
		return `C:\ProgramData\OpenFrame\openframe-agent.exe`
	}
	return path
}
