// Package agentconfig owns the agent's two JSON configuration files — the
// one-shot InitialConfiguration written by the installer and the
// AgentConfiguration populated by the bootstrap pipeline — plus the
// platform-specific directory layout they and the rest of the agent live
// under (§3, §6).
package agentconfig

import (
	"os"
	"path/filepath"
	"runtime"
)

// DevModeEnv switches the agent to per-user directories and disables
// initial_key clearing, for running the agent unprivileged during
// development (§6 Environment).
const DevModeEnv = "OPENFRAME_DEV_MODE"

// LogDirEnv overrides the platform-default logs directory (§6 Environment).
const LogDirEnv = "OPENFRAME_LOG_DIR"

// Dirs is the resolved set of directories the agent reads and writes.
type Dirs struct {
	// AppSupport holds per-tool subdirectories: agent binaries and assets.
	AppSupport string
	// Secured holds credentials and registries, 0700 root-owned.
	Secured string
	// Logs holds the agent's own log file.
	Logs string
}

// DevMode reports whether OPENFRAME_DEV_MODE is set in the environment.
func DevMode() bool {
	return os.Getenv(DevModeEnv) != ""
}

// Resolve returns the directory layout for the current platform and mode.
// In dev mode, directories live under the user's home instead of the
// root-owned system locations, so the agent can run unprivileged.
func Resolve() (Dirs, error) {
	if DevMode() {
		return resolveDevMode()
	}
	return resolveSystem()
}

func resolveSystem() (Dirs, error) {
	switch runtime.GOOS {
	case "windows":
		programData := os.Getenv("ProgramData")
		if programData == "" {
			programData = `C:\ProgramData`
		}
		root := filepath.Join(programData, "OpenFrame")
		return Dirs{
			AppSupport: root,
			Secured:    filepath.Join(root, "secured"),
			Logs:       resolveLogs(filepath.Join(root, "logs")),
		}, nil
	case "darwin":
		return Dirs{
			AppSupport: "/Library/Application Support/OpenFrame",
			Secured:    "/Library/Application Support/OpenFrame/secured",
			Logs:       resolveLogs("/Library/Logs/OpenFrame"),
		}, nil
	default:
		return Dirs{
			AppSupport: "/var/lib/openframe",
			Secured:    "/var/lib/openframe/secured",
			Logs:       resolveLogs("/var/log/openframe"),
		}, nil
	}
}

func resolveDevMode() (Dirs, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Dirs{}, err
	}
	root := filepath.Join(home, ".openframe")
	return Dirs{
		AppSupport: root,
		Secured:    filepath.Join(root, "secured"),
		Logs:       resolveLogs(filepath.Join(root, "logs")),
	}, nil
}

func resolveLogs(platformDefault string) string {
	if override := os.Getenv(LogDirEnv); override != "" {
		return override
	}
	return platformDefault
}

// Ensure creates the directory layout with the permissions mandated by §6:
// AppSupport is 0755 (tool subdirectories are created per-install),
// Secured is 0700, Logs is 0755.
func (d Dirs) Ensure() error {
	if err := os.MkdirAll(d.AppSupport, 0o755); err != nil {
		return err
	}
	if err := os.MkdirAll(d.Secured, 0o700); err != nil {
		return err
	}
	if err := os.MkdirAll(d.Logs, 0o755); err != nil {
		return err
	}
	return nil
}

// ToolDir returns the per-tool app-support subdirectory for toolAgentID.
func (d Dirs) ToolDir(toolAgentID string) string {
	return filepath.Join(d.AppSupport, toolAgentID)
}

// ToolAgentPath returns the tool's own executable path, with the platform
// executable suffix applied.
func (d Dirs) ToolAgentPath(toolAgentID string) string {
	name := "agent"
	if runtime.GOOS == "windows" {
		name += ".exe"
	}
	return filepath.Join(d.ToolDir(toolAgentID), name)
}

// InitialConfigPath returns the path to initial_config.json.
func (d Dirs) InitialConfigPath() string {
	return filepath.Join(d.Secured, "initial_config.json")
}

// AgentConfigPath returns the path to agent_config.json.
func (d Dirs) AgentConfigPath() string {
	return filepath.Join(d.Secured, "agent_config.json")
}

// InstalledToolsPath returns the path to installed_tools.json.
func (d Dirs) InstalledToolsPath() string {
	return filepath.Join(d.Secured, "installed_tools.json")
}

// ToolConnectionsPath returns the path to tool_connections.json.
func (d Dirs) ToolConnectionsPath() string {
	return filepath.Join(d.Secured, "tool_connections.json")
}

// SharedTokenPath returns the path to shared_token.enc.
func (d Dirs) SharedTokenPath() string {
	return filepath.Join(d.Secured, "shared_token.enc")
}

// ClientInfoPath returns the path to the agent's own self-update state file.
func (d Dirs) ClientInfoPath() string {
	return filepath.Join(d.Secured, "client_info.json")
}

// LogFilePath returns the path to the agent's text log.
func (d Dirs) LogFilePath() string {
	return filepath.Join(d.Logs, "openframe.log")
}
